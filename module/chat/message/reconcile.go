package message

import (
	"sync"

	"SanteProject/global"
	"SanteProject/logger"
	chatmodel "SanteProject/module/chat/model"

	"go.uber.org/zap"
)

// Engine 把三条并发输入（REST 分页、socket 推送、本地乐观写）合并进
// 同一个 Store。每个会话单一逻辑 owner：所有变更走本引擎的互斥量，
// 串行应用，不存在交叠的 read-modify-write。
//
// 对每条入站服务端消息 m 的判定顺序：
//  1. 键已存在 → 幂等刷新（重叠分页、事件重投）；
//  2. 能对上本会话自己发的 PENDING 条目 → 回声，原位换身份；
//  3. 其余 → 新消息，插入。
type Engine struct {
	mu    sync.Mutex
	store *Store
	sess  *global.UserSession
	log   *zap.Logger

	// onApplied 每次成功变更后触发（controller 挂快照落缓存）。
	onApplied func()
}

func NewEngine(store *Store, sess *global.UserSession) *Engine {
	return &Engine{
		store: store,
		sess:  sess,
		log:   logger.With(zap.String("conversation_id", store.ConversationID())),
	}
}

// SetOnApplied registers the post-mutation hook. Not concurrency-safe,
// call once during wiring.
func (e *Engine) SetOnApplied(fn func()) { e.onApplied = fn }

func (e *Engine) Store() *Store { return e.store }

// Apply 入站服务端消息（socket 推送或单条确认回包）。
func (e *Engine) Apply(m *chatmodel.Message) {
	e.mu.Lock()
	e.applyLocked(m)
	e.mu.Unlock()
	e.applied()
}

// ApplyPage REST 分页整页应用；页与页重叠靠 Upsert 幂等吸收。
func (e *Engine) ApplyPage(page []*chatmodel.Message) {
	if len(page) == 0 {
		return
	}
	e.mu.Lock()
	for _, m := range page {
		e.applyLocked(m)
	}
	e.mu.Unlock()
	e.applied()
}

// ApplyLocal 本地乐观写入（用户刚点了发送）。
func (e *Engine) ApplyLocal(m *chatmodel.Message) *chatmodel.Message {
	e.mu.Lock()
	out := e.store.Upsert(m)
	e.mu.Unlock()
	e.applied()
	return out
}

// ApplyRead 对端已读回执。
func (e *Engine) ApplyRead(readerID string, uptoMS int64) {
	e.mu.Lock()
	n := e.store.MarkRead(readerID, uptoMS)
	e.mu.Unlock()
	if n > 0 {
		e.log.Debug("read receipt applied",
			zap.String("reader", readerID), zap.Int("messages", n))
		e.applied()
	}
}

// Retire 旧本地身份退役（FAILED 重发换新ID时用）。
func (e *Engine) Retire(localKey string) bool {
	e.mu.Lock()
	ok := e.store.Retire(localKey)
	e.mu.Unlock()
	if ok {
		e.applied()
	}
	return ok
}

// Fail 在途条目判死（发送报错 / 超时 / 附件失败）。
func (e *Engine) Fail(key string, failCode int) {
	e.mu.Lock()
	ok := e.store.MarkFailed(key, failCode)
	e.mu.Unlock()
	if ok {
		e.log.Warn("message marked failed",
			zap.String("key", key), zap.Int("fail_code", failCode))
		e.applied()
	}
}

func (e *Engine) applyLocked(m *chatmodel.Message) {
	if m == nil || m.ID.Key() == "" {
		return
	}

	// 1) 已知身份：幂等刷新
	if e.store.Get(m.Key()) != nil {
		e.store.Upsert(m)
		return
	}

	// 2) 自己的回声：PENDING 原位换身份。归属判断比较会话身份，
	// 不看哨兵字符串。
	if e.sess.IsMine(m.SenderRef) {
		if localKey, ok := e.store.MatchPendingEcho(e.sess.UserID, m); ok {
			if _, err := e.store.ReplaceOptimistic(localKey, m); err != nil {
				// 极端竞态下候选刚被判死/替换：退化为普通插入
				e.log.Warn("optimistic replace fell through", zap.Error(err))
				e.store.Upsert(m)
			}
			return
		}
	}

	// 3) 新消息（对端，或同账号另一个会话端）
	e.store.Upsert(m)
}

func (e *Engine) applied() {
	if e.onApplied != nil {
		e.onApplied()
	}
}
