package message

import (
	"context"
	"time"

	"SanteProject/logger"

	"go.uber.org/zap"
)

// MarkReadFunc 通知服务端"我已读到现在"（REST markConversationRead）。
type MarkReadFunc func(ctx context.Context, conversationID string) error

// ReceiptTracker 回执的两个方向：
//   - 对端 conversation_read 广播 → 给我发出的历史消息补 ReadBy（单调）；
//   - 我打开会话 → 先让服务端确认，确认后才把本地未读清零，
//     不做乐观清零（否则重启后服务端还认为未读）。
type ReceiptTracker struct {
	eng *Engine
}

func NewReceiptTracker(eng *Engine) *ReceiptTracker {
	return &ReceiptTracker{eng: eng}
}

// OnPeerRead 对端已读广播入口（幂等，乱序/重投安全）。
func (t *ReceiptTracker) OnPeerRead(readerID string, uptoMS int64) {
	t.eng.ApplyRead(readerID, uptoMS)
}

// MarkReadLocal 本端已读：服务端确认先行，成功后才落本地已读标记。
// 返回错误时本地未读保持原样（UI 下次打开会再试）。
func (t *ReceiptTracker) MarkReadLocal(ctx context.Context, markRead MarkReadFunc) error {
	convID := t.eng.Store().ConversationID()
	if err := markRead(ctx, convID); err != nil {
		logger.Warn("mark conversation read not confirmed",
			zap.String("conversation_id", convID), zap.Error(err))
		return err
	}
	t.eng.ApplyRead(t.eng.sess.UserID, time.Now().UnixMilli())
	return nil
}
