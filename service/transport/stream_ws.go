package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"SanteProject/global"
	"SanteProject/logger"
	chatmodel "SanteProject/module/chat/model"
	"SanteProject/tools/safe"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Wire frame types on the conversation event channel.
const (
	frameNewMessage       = "message:new"
	frameConversationRead = "conversation:read"
	frameJoin             = "join"
	frameLeave            = "leave"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsFrame generic envelope; payload stays loosely typed until the frame
// type is known, then mapstructure does the typed decode.
type wsFrame struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

type readPayload struct {
	ReaderID string `json:"reader_id"`
	UptoTS   int64  `json:"upto_ts"`
}

// WSStream gorilla/websocket implementation of EventStream.
// One read pump, one write pump; outbound frames go through a buffered
// Send channel consumed by a single writer goroutine.
type WSStream struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.RWMutex
	onMsg  NewMessageHandler
	onRead ConversationReadHandler
	closed bool
}

// DialWS connects the conversation event channel, authenticating with
// the session bearer token.
func DialWS(url string, sess *global.UserSession) (*WSStream, error) {
	h := http.Header{}
	if sess != nil && sess.Token != "" {
		h.Set("Authorization", "Bearer "+sess.Token)
	}
	if sess != nil && sess.TenantID != "" {
		h.Set("X-Tenant-Id", sess.TenantID)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		return nil, err
	}
	s := &WSStream{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	safe.Go("ws-read-pump", s.readPump)
	safe.Go("ws-write-pump", s.writePump)
	return s, nil
}

func (s *WSStream) OnNewMessage(h NewMessageHandler) {
	s.mu.Lock()
	s.onMsg = h
	s.mu.Unlock()
}

func (s *WSStream) OnConversationRead(h ConversationReadHandler) {
	s.mu.Lock()
	s.onRead = h
	s.mu.Unlock()
}

func (s *WSStream) Join(conversationID string) error {
	return s.enqueue(wsFrame{Type: frameJoin, ConversationID: conversationID})
}

func (s *WSStream) Leave(conversationID string) error {
	return s.enqueue(wsFrame{Type: frameLeave, ConversationID: conversationID})
}

func (s *WSStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	return s.conn.Close()
}

func (s *WSStream) enqueue(f wsFrame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case s.send <- raw:
		return nil
	case <-s.done:
		return websocket.ErrCloseSent
	}
}

func (s *WSStream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case raw := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Warn("ws write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *WSStream) readPump() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				logger.Warn("ws read pump stopped", zap.Error(err))
			}
			return
		}
		s.dispatch(raw)
	}
}

func (s *WSStream) dispatch(raw []byte) {
	var f wsFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Warn("ws frame not parseable", zap.Error(err))
		return
	}
	switch f.Type {
	case frameNewMessage:
		var m chatmodel.Message
		if err := decodePayload(f.Payload, &m); err != nil {
			logger.Warn("message payload decode failed", zap.Error(err))
			return
		}
		s.mu.RLock()
		h := s.onMsg
		s.mu.RUnlock()
		if h != nil {
			h(f.ConversationID, &m)
		}
	case frameConversationRead:
		var p readPayload
		if err := decodePayload(f.Payload, &p); err != nil {
			logger.Warn("read payload decode failed", zap.Error(err))
			return
		}
		s.mu.RLock()
		h := s.onRead
		s.mu.RUnlock()
		if h != nil {
			h(f.ConversationID, p.ReaderID, p.UptoTS)
		}
	default:
		// 服务端新增的帧类型直接忽略，老客户端不因此断流
	}
}

// decodePayload map → typed struct；tag 对齐 json，数字统一走弱类型
// 转换（socket 层的 ts 可能是 float64）。
func decodePayload(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
