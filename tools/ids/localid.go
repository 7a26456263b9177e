package ids

import (
	"strings"

	"github.com/google/uuid"
)

// 本地消息ID（乐观条目用）。带前缀，和服务端ID空间永不冲突；
// 服务端确认后本地ID即退役，绝不复用。
const localPrefix = "tmp-"

// NewLocalMsgID 生成一个新的本地消息ID。
func NewLocalMsgID() string {
	return localPrefix + uuid.NewString()
}

// IsLocalMsgID 判断一个ID是否属于本地ID空间。
func IsLocalMsgID(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}
