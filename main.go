package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"SanteProject/global"
	"SanteProject/logger"
	chatmodel "SanteProject/module/chat/model"
	"SanteProject/module/chat/session"
	"SanteProject/service/storage"
	"SanteProject/service/transport"
)

// Demo wiring: the sync core against in-process fakes, no backend needed.
// 真实接入时把 fake 换成 transport.NewRestClient / transport.DialWS /
// storage/pebbledb 即可，核心代码不变。

type demoREST struct {
	mu   sync.Mutex
	next int64
	sent []*chatmodel.Message
}

func (r *demoREST) FetchMessages(context.Context, string, int, int) ([]*chatmodel.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*chatmodel.Message, len(r.sent))
	copy(out, r.sent)
	return out, nil
}

func (r *demoREST) SendMessage(_ context.Context, convID string, req transport.SendReq) (*chatmodel.Message, error) {
	id := atomic.AddInt64(&r.next, 1)
	m := &chatmodel.Message{
		ID:             chatmodel.MessageID{Server: fmt.Sprintf("srv-%d", id), Local: req.ClientMsgID},
		ConversationID: convID,
		SenderRef:      "patient-1",
		Kind:           req.Kind,
		Body:           req.Body,
		Attachment:     req.AttachmentRef,
		SentAt:         time.Now().UnixMilli(),
		DeliveryState:  chatmodel.DeliverySent,
	}
	r.mu.Lock()
	r.sent = append(r.sent, m)
	r.mu.Unlock()
	return m, nil
}

func (r *demoREST) MarkConversationRead(context.Context, string) error { return nil }

type demoStream struct {
	mu     sync.Mutex
	onMsg  transport.NewMessageHandler
	onRead transport.ConversationReadHandler
}

func (s *demoStream) Join(string) error  { return nil }
func (s *demoStream) Leave(string) error { return nil }
func (s *demoStream) Close() error       { return nil }
func (s *demoStream) OnNewMessage(h transport.NewMessageHandler) {
	s.mu.Lock()
	s.onMsg = h
	s.mu.Unlock()
}
func (s *demoStream) OnConversationRead(h transport.ConversationReadHandler) {
	s.mu.Lock()
	s.onRead = h
	s.mu.Unlock()
}
func (s *demoStream) push(convID string, m *chatmodel.Message) {
	s.mu.Lock()
	h := s.onMsg
	s.mu.Unlock()
	if h != nil {
		h(convID, m)
	}
}
func (s *demoStream) read(convID, reader string, upto int64) {
	s.mu.Lock()
	h := s.onRead
	s.mu.Unlock()
	if h != nil {
		h(convID, reader, upto)
	}
}

type demoBlob struct{}

func (demoBlob) Upload(_ context.Context, localURI, _ string, progress func(float64)) (string, error) {
	if progress != nil {
		progress(1)
	}
	return "https://cdn.example/" + localURI, nil
}

func main() {
	defer logger.Sync()

	sess := global.NewSession("sess-demo", "patient-1", "clinic-7")
	rest := &demoREST{}
	stream := &demoStream{}

	ctl := session.NewController(sess, rest, stream,
		storage.NewMemoryCache(), demoBlob{}, session.Options{})
	defer ctl.Shutdown()

	const conv = "conv-demo"
	ctl.Open(conv)
	time.Sleep(100 * time.Millisecond) // let LOADING finish

	if _, err := ctl.Send(conv, "Bonjour docteur, j'ai une question", chatmodel.KindText, ""); err != nil {
		logger.Errorf("send failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// 对端回了一条，socket 推过来
	stream.push(conv, &chatmodel.Message{
		ID:             chatmodel.ServerID("srv-doc-1"),
		ConversationID: conv,
		SenderRef:      "doctor-9",
		Kind:           chatmodel.KindText,
		Body:           "Bonjour, je vous écoute",
		SentAt:         time.Now().UnixMilli(),
		DeliveryState:  chatmodel.DeliverySent,
	})
	// 对端读到了现在
	stream.read(conv, "doctor-9", time.Now().UnixMilli())
	time.Sleep(100 * time.Millisecond)

	for _, m := range ctl.Messages(conv) {
		fmt.Printf("[%s] %-7s %-9s %s (read by %v)\n",
			m.Key(), m.DeliveryState, m.SenderRef, m.Body, m.ReadBy)
	}
	if c := ctl.Conversation(conv); c != nil {
		fmt.Printf("unread=%d last=%q\n", c.UnreadCount, c.LastMessage.Body)
	}
	ctl.Close(conv)
}
