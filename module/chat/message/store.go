package message

import (
	"sort"
	"sync"

	chatmodel "SanteProject/module/chat/model"
	"SanteProject/tools/errs"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateKey   = errors.New("duplicate message key")
	ErrUnknownPending = errors.New("pending entry not found")
)

// Store 一个打开会话的权威内存时间线。持有身份索引 + 有序序列 +
// 乐观条目的 FIFO 登记；全部变更在内部互斥量下完成。
// 排序键 (SentAt, ID.Key)：PENDING 被服务端身份替换时原位落到
// 新时间戳对应的位置，不追加。
type Store struct {
	mu     sync.RWMutex
	convID string

	order []*chatmodel.Message          // 升序时间线
	byKey map[string]*chatmodel.Message // ID.Key -> entry

	// pendingFIFO 本会话内乐观条目的本地键，按创建顺序。回声匹配
	// 有多个候选时按 FIFO 取最老的（发送按序往返的弱假设）。
	pendingFIFO []string
}

func NewStore(convID string) *Store {
	return &Store{
		convID: convID,
		byKey:  make(map[string]*chatmodel.Message),
	}
}

func (s *Store) ConversationID() string { return s.convID }

// Len returns the number of messages currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Get 按键取一条的拷贝；不存在返回 nil。
func (s *Store) Get(key string) *chatmodel.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.byKey[key]; ok {
		return m.Clone()
	}
	return nil
}

// Snapshot 有序深拷贝，给渲染层和缓存用。
func (s *Store) Snapshot() []*chatmodel.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chatmodel.Message, 0, len(s.order))
	for _, m := range s.order {
		out = append(out, m.Clone())
	}
	return out
}

// Upsert 不认识的键即插入；认识的键做字段合并：
//   - SentAt 取较新值（服务端时间一旦可知即覆盖），位置随之重算；
//   - DeliveryState 只进不退（SENT 不会被 PENDING 覆盖）；
//   - ReadBy 取并集，只增不减；
//   - 附件合并：RemoteURI 就绪即采纳，LocalURI 没有新值就保留，
//     消息身份不变。
//
// 返回合并后条目的拷贝。
func (s *Store) Upsert(in *chatmodel.Message) *chatmodel.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := in.Key()
	cur, ok := s.byKey[key]
	if !ok {
		cp := in.Clone()
		cp.ConversationID = s.convID
		s.byKey[key] = cp
		s.insertOrdered(cp)
		if cp.ID.IsLocal() && cp.DeliveryState == chatmodel.DeliveryPending {
			s.pendingFIFO = append(s.pendingFIFO, key)
		}
		return cp.Clone()
	}

	s.mergeLocked(cur, in)
	return cur.Clone()
}

// ReplaceOptimistic 原子换身份：摘掉 localKey 的 PENDING 条目，按服务端
// 消息的时间戳落位插入；乐观条目上已积累的 ReadBy 带到新条目上
// （回执跑赢确认的罕见竞态）。旧的本地键即刻退役。
func (s *Store) ReplaceOptimistic(localKey string, server *chatmodel.Message) (*chatmodel.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byKey[localKey]
	if !ok || !old.ID.IsLocal() {
		return nil, errors.Wrapf(ErrUnknownPending, "key=%s", localKey)
	}
	if server.ID.IsLocal() {
		return nil, errors.Wrap(ErrDuplicateKey, "replacement must carry a server id")
	}

	s.removeLocked(localKey)
	s.dropPendingLocked(localKey)

	cp := server.Clone()
	cp.ConversationID = s.convID
	if cp.DeliveryState == chatmodel.DeliveryPending {
		cp.DeliveryState = chatmodel.DeliverySent
	}
	if cp.ID.Local == "" {
		cp.ID.Local = old.ID.Local // client_msg_id 留底，不参与索引
	}
	for _, p := range old.ReadBy {
		cp.AddReadBy(p)
	}

	// 服务端身份可能已经通过另一条路径（socket 先到）入库：并进去，
	// 不产生第二个条目。
	if exist, dup := s.byKey[cp.Key()]; dup {
		s.mergeLocked(exist, cp)
		return exist.Clone(), nil
	}
	s.byKey[cp.Key()] = cp
	s.insertOrdered(cp)
	return cp.Clone(), nil
}

// MarkRead participant 已读：给所有 senderRef != participant 且
// sentAt <= uptoMS 的消息追加已读者。幂等、单调。返回实际新增条数。
func (s *Store) MarkRead(participant string, uptoMS int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.order {
		if m.SentAt > uptoMS {
			break // 时间线有序，后面的都超了
		}
		if m.SenderRef == participant {
			continue
		}
		if m.AddReadBy(participant) {
			n++
		}
	}
	return n
}

// MarkFailed PENDING → FAILED（发送超时/发送失败/附件失败统一入口）。
// 对 SENT 条目是 no-op：确认先到、失败后到时确认赢。
func (s *Store) MarkFailed(key string, failCode int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byKey[key]
	if !ok || m.DeliveryState != chatmodel.DeliveryPending {
		return false
	}
	m.DeliveryState = chatmodel.DeliveryFailed
	if failCode == 0 {
		failCode = errs.CodeTransientNetwork
	}
	m.FailCode = failCode
	s.dropPendingLocked(key)
	return true
}

// MatchPendingEcho 找"自己发出的回声"对应的乐观条目，返回本地键。
// 优先 client_msg_id 精确对上（服务端有回传时）；否则按
// (kind, body) 内容匹配，FIFO 取最老候选。
func (s *Store) MatchPendingEcho(selfRef string, in *chatmodel.Message) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if in.ID.Local != "" {
		// 精确分支允许 FAILED：看门狗先判死、真实确认后到时，
		// 确认赢（服务端实际收到了这条）。
		if m, ok := s.byKey[in.ID.Local]; ok && m.ID.IsLocal() &&
			m.DeliveryState != chatmodel.DeliverySent && m.SenderRef == selfRef {
			return in.ID.Local, true
		}
	}
	if in.SenderRef != selfRef {
		return "", false
	}
	for _, key := range s.pendingFIFO {
		m, ok := s.byKey[key]
		if !ok || m.DeliveryState != chatmodel.DeliveryPending {
			continue
		}
		if m.SenderRef == selfRef && m.Kind == in.Kind && m.Body == in.Body {
			return key, true
		}
	}
	return "", false
}

// Retire 摘掉一条本地ID空间的条目（重发 FAILED 消息时旧身份退役，
// 永不复用）。服务端身份的条目不允许从这里删。
func (s *Store) Retire(localKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byKey[localKey]
	if !ok || !m.ID.IsLocal() {
		return false
	}
	s.removeLocked(localKey)
	s.dropPendingLocked(localKey)
	return true
}

// LastMessage 时间线最后一条的拷贝；空时间线返回 nil。
func (s *Store) LastMessage() *chatmodel.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil
	}
	return s.order[len(s.order)-1].Clone()
}

// UnreadCount 对端发的、ReadBy 里还没有 selfID 的条数。每次现算，
// 不维护第二份计数器。
func (s *Store) UnreadCount(selfID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.order {
		if m.SenderRef != selfID && !m.IsReadBy(selfID) {
			n++
		}
	}
	return n
}

// PendingKeys 当前仍在途的乐观条目的本地键，按创建顺序。
func (s *Store) PendingKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.pendingFIFO...)
}

// ---- internal (caller holds mu) ----

func (s *Store) mergeLocked(cur, in *chatmodel.Message) {
	if in.SentAt > cur.SentAt {
		cur.SentAt = in.SentAt
		s.repositionLocked(cur)
	}
	// 状态只进不退
	if in.DeliveryState > cur.DeliveryState &&
		!(cur.DeliveryState == chatmodel.DeliverySent && in.DeliveryState == chatmodel.DeliveryFailed) {
		cur.DeliveryState = in.DeliveryState
		if cur.DeliveryState != chatmodel.DeliveryPending {
			s.dropPendingLocked(cur.Key())
		}
	}
	if cur.DeliveryState == chatmodel.DeliveryFailed && in.FailCode != 0 {
		cur.FailCode = in.FailCode
	}
	for _, p := range in.ReadBy {
		cur.AddReadBy(p)
	}
	if in.Body != "" {
		cur.Body = in.Body
	}
	if in.Kind != 0 {
		cur.Kind = in.Kind
	}
	if in.SenderRef != "" {
		cur.SenderRef = in.SenderRef
	}
	if in.Attachment != nil {
		if cur.Attachment == nil {
			att := *in.Attachment
			cur.Attachment = &att
		} else {
			if in.Attachment.RemoteURI != "" {
				cur.Attachment.RemoteURI = in.Attachment.RemoteURI
			}
			if in.Attachment.LocalURI != "" {
				cur.Attachment.LocalURI = in.Attachment.LocalURI
			}
			if in.Attachment.MimeKind != "" {
				cur.Attachment.MimeKind = in.Attachment.MimeKind
			}
			if in.Attachment.SizeBytes > 0 {
				cur.Attachment.SizeBytes = in.Attachment.SizeBytes
			}
			if in.Attachment.State > cur.Attachment.State {
				cur.Attachment.State = in.Attachment.State
			}
		}
	}
}

func (s *Store) insertOrdered(m *chatmodel.Message) {
	i := sort.Search(len(s.order), func(i int) bool {
		return m.Before(s.order[i])
	})
	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = m
}

func (s *Store) removeLocked(key string) {
	m, ok := s.byKey[key]
	if !ok {
		return
	}
	delete(s.byKey, key)
	for i, e := range s.order {
		if e == m {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// repositionLocked 时间戳变了就重算位置（乱序 socket 不允许破坏已
// 落定的历史顺序）。
func (s *Store) repositionLocked(m *chatmodel.Message) {
	for i, e := range s.order {
		if e == m {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.insertOrdered(m)
}

func (s *Store) dropPendingLocked(key string) {
	for i, k := range s.pendingFIFO {
		if k == key {
			s.pendingFIFO = append(s.pendingFIFO[:i], s.pendingFIFO[i+1:]...)
			return
		}
	}
}
