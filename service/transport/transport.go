package transport

import (
	"context"

	chatmodel "SanteProject/module/chat/model"
)

// SendReq 发送载荷。ClientMsgID 携带本地ID做幂等/回声关联：服务端
// 能回传就走精确匹配，不回传由引擎退化到内容匹配。
type SendReq struct {
	ClientMsgID   string                `json:"client_msg_id"`
	Body          string                `json:"body"`
	Kind          chatmodel.MessageKind `json:"kind"`
	AttachmentRef *chatmodel.Attachment `json:"attachment,omitempty"` // RemoteURI 已就位
}

// REST 会话核心消费的 HTTP 侧能力。错误必须已分类为 errs 的
// CodeError（瞬时网络 / 服务端拒绝 / 鉴权），上层据此决定可否重发。
type REST interface {
	// FetchMessages 分页拉取，offset 从 0 起；页与页可以重叠。
	FetchMessages(ctx context.Context, conversationID string, limit, offset int) ([]*chatmodel.Message, error)
	// SendMessage 返回服务端确认后的消息（已带 server id 与服务端时间）。
	SendMessage(ctx context.Context, conversationID string, req SendReq) (*chatmodel.Message, error)
	// MarkConversationRead 告知服务端"我已读到现在"。
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// NewMessageHandler 推送消息回调。
type NewMessageHandler func(conversationID string, m *chatmodel.Message)

// ConversationReadHandler 对端已读广播回调。
type ConversationReadHandler func(conversationID, readerID string, uptoMS int64)

// EventStream 会话事件通道。Join/Leave 以会话为粒度；回调在流自己的
// goroutine 里触发，调用方负责把变更汇入各会话的串行变更路径。
type EventStream interface {
	Join(conversationID string) error
	Leave(conversationID string) error
	OnNewMessage(h NewMessageHandler)
	OnConversationRead(h ConversationReadHandler)
	Close() error
}

// BlobUploader 附件上传的外部协作者：本地引用 → 持久远端引用。
// progress ∈ [0,1]，可为 nil。
type BlobUploader interface {
	Upload(ctx context.Context, localURI, mimeKind string, progress func(float64)) (remoteURI string, err error)
}
