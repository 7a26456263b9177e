package model

// Conversation 单聊会话（本系统固定两名参与者：本人 + 对端）。
// LastMessage / UnreadCount 是从时间线推导出来的视图，任何地方都不做
// 第二份手工维护的计数器。
type Conversation struct {
	ConversationID string   `json:"conversation_id"`
	PeerUserID     string   `json:"peer_user_id"`
	LastMessage    *Message `json:"last_message,omitempty"`
	UnreadCount    int      `json:"unread_count"`
}

// DeriveConversation 从一份有序快照重算会话视图。
// unread = 对端发的、ReadBy 里还没有我的条数；只有真正打开会话并
// 完成服务端确认后这个数才会归零（不做乐观清零）。
func DeriveConversation(convID, selfID string, timeline []*Message) *Conversation {
	c := &Conversation{ConversationID: convID}
	for _, m := range timeline {
		if m.SenderRef != selfID && c.PeerUserID == "" {
			c.PeerUserID = m.SenderRef
		}
		if m.SenderRef != selfID && !m.IsReadBy(selfID) {
			c.UnreadCount++
		}
	}
	if n := len(timeline); n > 0 {
		c.LastMessage = timeline[n-1]
	}
	return c
}
