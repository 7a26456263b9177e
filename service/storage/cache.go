package storage

import (
	"context"
	"encoding/json"

	chatmodel "SanteProject/module/chat/model"
	"SanteProject/tools/errs"
)

// snapshotSchemaVersion 缓存快照结构版本；对不上的条目按损坏处理丢弃。
const snapshotSchemaVersion = 1

// ConversationCache 会话时间线的键值持久化：冷启动秒开 + 网络失败兜底。
// 实现必须容忍完全没有数据（全新安装）：Load 返回空切片、nil error。
// 损坏条目返回 errs.ErrCacheCorrupt；调用方丢弃该条目走纯 REST 冷启动，
// 绝不让缓存问题打死会话页。
type ConversationCache interface {
	Load(ctx context.Context, conversationID string) ([]*chatmodel.Message, error)
	Save(ctx context.Context, conversationID string, msgs []*chatmodel.Message) error
}

type snapshot struct {
	SchemaVersion int                  `json:"schema_version"`
	Messages      []*chatmodel.Message `json:"messages"`
}

// EncodeSnapshot 时间线 → 持久化字节（JSON，带版本头）。
func EncodeSnapshot(msgs []*chatmodel.Message) ([]byte, error) {
	return json.Marshal(snapshot{SchemaVersion: snapshotSchemaVersion, Messages: msgs})
}

// DecodeSnapshot 持久化字节 → 时间线。解不开或版本不符一律归类为
// 缓存损坏，让调用方丢弃。
func DecodeSnapshot(data []byte) ([]*chatmodel.Message, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errs.ErrCacheCorrupt.WrapErr(err)
	}
	if snap.SchemaVersion != snapshotSchemaVersion {
		return nil, errs.ErrCacheCorrupt.WrapMsg("schema version mismatch")
	}
	return snap.Messages, nil
}
