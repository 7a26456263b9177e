package transport

import (
	"encoding/json"
	"sync"

	"SanteProject/logger"
	chatmodel "SanteProject/module/chat/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS 形态的事件通道：服务端内嵌同步核心的场景（机器人、随访
// 提醒 agent 这类没有 websocket 网关可连的进程）。一个会话一个
// subject：chat.conv.<conversation_id>。
const natsSubjectPrefix = "chat.conv."

type natsEvent struct {
	Type     string             `json:"type"`
	Message  *chatmodel.Message `json:"message,omitempty"`
	ReaderID string             `json:"reader_id,omitempty"`
	UptoTS   int64              `json:"upto_ts,omitempty"`
}

type NatsStream struct {
	nc *nats.Conn

	mu     sync.Mutex
	subs   map[string]*nats.Subscription // conversation_id -> sub
	onMsg  NewMessageHandler
	onRead ConversationReadHandler
}

func NewNatsStream(nc *nats.Conn) *NatsStream {
	return &NatsStream{nc: nc, subs: make(map[string]*nats.Subscription)}
}

func (s *NatsStream) OnNewMessage(h NewMessageHandler) {
	s.mu.Lock()
	s.onMsg = h
	s.mu.Unlock()
}

func (s *NatsStream) OnConversationRead(h ConversationReadHandler) {
	s.mu.Lock()
	s.onRead = h
	s.mu.Unlock()
}

func (s *NatsStream) Join(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[conversationID]; ok {
		return nil // 已订阅，幂等
	}
	sub, err := s.nc.Subscribe(natsSubjectPrefix+conversationID, func(m *nats.Msg) {
		// 回调 goroutine 不共享 transport 缓冲
		s.handle(conversationID, append([]byte(nil), m.Data...))
	})
	if err != nil {
		return err
	}
	s.subs[conversationID] = sub
	return nil
}

func (s *NatsStream) Leave(conversationID string) error {
	s.mu.Lock()
	sub, ok := s.subs[conversationID]
	if ok {
		delete(s.subs, conversationID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (s *NatsStream) Close() error {
	s.mu.Lock()
	for id, sub := range s.subs {
		_ = sub.Unsubscribe()
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *NatsStream) handle(conversationID string, raw []byte) {
	var ev natsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		logger.Warn("nats event not parseable",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	s.mu.Lock()
	onMsg, onRead := s.onMsg, s.onRead
	s.mu.Unlock()

	switch ev.Type {
	case frameNewMessage:
		if ev.Message != nil && onMsg != nil {
			onMsg(conversationID, ev.Message)
		}
	case frameConversationRead:
		if onRead != nil {
			onRead(conversationID, ev.ReaderID, ev.UptoTS)
		}
	}
}
