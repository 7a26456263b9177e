package session

import (
	"context"
	"sync"
	"time"

	"SanteProject/global"
	"SanteProject/logger"
	"SanteProject/module/chat/message"
	chatmodel "SanteProject/module/chat/model"
	"SanteProject/module/chat/upload"
	"SanteProject/service/storage"
	"SanteProject/service/transport"
	"SanteProject/tools/errs"
	"SanteProject/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State 会话屏生命周期：CLOSED → LOADING → LIVE → CLOSED。
type State int32

const (
	StateClosed  State = 0
	StateLoading State = 1
	StateLive    State = 2
)

var (
	ErrNotOpen      = errors.New("conversation not open")
	ErrNotFailed    = errors.New("message is not in FAILED state")
	ErrNotRetryable = errors.New("failure is not retryable, edit and send again")
)

type Options struct {
	PageLimit     int           // 初始 REST 拉取条数，默认 50
	SendTimeout   time.Duration // 无确认判死窗口，默认 30s
	UploadWorkers int           // 附件并行上传数，默认 3
}

func (o *Options) fill() {
	if o.PageLimit <= 0 {
		o.PageLimit = 50
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	if o.UploadWorkers <= 0 {
		o.UploadWorkers = 3
	}
}

// convSession 一个打开中的会话。订阅以会话ID为粒度引用计数：
// 同一会话被多个屏实例打开（或 LIVE 中再进 LOADING 下拉刷新）
// 不会产生第二份订阅。
type convSession struct {
	convID  string
	state   State
	refs    int
	eng     *message.Engine
	tracker *message.ReceiptTracker
	ctx     context.Context    // 屏生命周期：Close 即取消在途 fetch；发送链路不用它
	cancel  context.CancelFunc
}

// Controller 同步核心的指挥台：驱动 缓存秒开 → REST 刷新 → 订阅，
// 对 UI 暴露 Send/Resend/MarkReadNow 和只读时间线。
type Controller struct {
	sess     *global.UserSession
	rest     transport.REST
	stream   transport.EventStream
	cache    storage.ConversationCache
	uploader *upload.Uploader
	opts     Options

	mu    sync.Mutex
	convs map[string]*convSession
}

func NewController(sess *global.UserSession, rest transport.REST,
	stream transport.EventStream, cache storage.ConversationCache,
	blob transport.BlobUploader, opts Options) *Controller {

	opts.fill()
	c := &Controller{
		sess:     sess,
		rest:     rest,
		stream:   stream,
		cache:    cache,
		uploader: upload.NewUploader(blob, opts.UploadWorkers),
		opts:     opts,
		convs:    make(map[string]*convSession),
	}

	// 事件通道的回调按会话ID路由进各自的串行变更路径；没打开的
	// 会话直接丢（leave 和残留事件之间的竞态是无害的）。
	stream.OnNewMessage(func(convID string, m *chatmodel.Message) {
		if cs := c.lookup(convID); cs != nil {
			cs.eng.Apply(m)
		}
	})
	stream.OnConversationRead(func(convID, readerID string, uptoMS int64) {
		if cs := c.lookup(convID); cs != nil {
			cs.tracker.OnPeerRead(readerID, uptoMS)
		}
	})
	return c
}

func (c *Controller) lookup(convID string) *convSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convs[convID]
}

// stillOpen 会话是否仍在册。Close 引用归零即除名，除名后 LOADING
// 收尾不允许再订阅。
func (c *Controller) stillOpen(cs *convSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convs[cs.convID] == cs
}

// Open 打开会话屏。首开走完整 LOADING 序列；重复打开只加引用并
// 触发一次刷新，订阅不会重复。
func (c *Controller) Open(convID string) {
	c.mu.Lock()
	if cs, ok := c.convs[convID]; ok {
		cs.refs++
		c.mu.Unlock()
		c.Refresh(convID) // 下拉刷新语义：只重拉，不重订阅
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := message.NewStore(convID)
	eng := message.NewEngine(store, c.sess)
	cs := &convSession{
		convID:  convID,
		state:   StateLoading,
		refs:    1,
		eng:     eng,
		tracker: message.NewReceiptTracker(eng),
		ctx:     ctx,
		cancel:  cancel,
	}
	eng.SetOnApplied(func() { c.persistAsync(cs) })
	c.convs[convID] = cs
	c.mu.Unlock()

	safe.Go("conversation-open", func() { c.load(ctx, cs) })
}

// load LOADING 序列：缓存秒开 → REST 刷新 → 订阅 → LIVE。
// 任何一步网络失败都不打死屏：缓存内容已经可渲染。
func (c *Controller) load(ctx context.Context, cs *convSession) {
	log := logger.With(zap.String("conversation_id", cs.convID))

	// 1) 缓存秒开。损坏条目已被缓存层丢弃，这里只管降级。
	if cached, err := c.cache.Load(ctx, cs.convID); err != nil {
		log.Warn("cache cold start unavailable, rest only", zap.Error(err))
	} else if len(cached) > 0 {
		cs.eng.ApplyPage(reviveSnapshot(cached))
		log.Debug("painted from cache", zap.Int("messages", len(cached)))
	}

	// 2) REST 刷新（权威来源）。
	c.fetch(ctx, cs)

	// 3) 订阅事件通道，进入 LIVE。Close 可能已经在 LOADING 期间跑完
	// （Leave 都发过了）：除名后订阅会永远没人退，订阅前后各复核一次，
	// 输掉竞态就补一个 Leave。
	if !c.stillOpen(cs) {
		return
	}
	joined := false
	if err := c.stream.Join(cs.convID); err != nil {
		log.Warn("event channel join failed, rest/cache only", zap.Error(err))
	} else {
		joined = true
	}
	if !c.stillOpen(cs) {
		if joined {
			_ = c.stream.Leave(cs.convID)
		}
		return
	}
	c.setState(cs, StateLive)
}

// Refresh 重新拉首页；LIVE 状态下的下拉刷新入口。
func (c *Controller) Refresh(convID string) {
	cs := c.lookup(convID)
	if cs == nil {
		return
	}
	safe.Go("conversation-refresh", func() {
		c.fetch(cs.ctx, cs) // 和首拉同一个屏生命周期：关屏即取消
	})
}

func (c *Controller) fetch(ctx context.Context, cs *convSession) {
	page, err := c.rest.FetchMessages(ctx, cs.convID, c.opts.PageLimit, 0)
	if err != nil {
		logger.Warn("message fetch failed, keeping cached view",
			zap.String("conversation_id", cs.convID), zap.Error(err))
		return
	}
	cs.eng.ApplyPage(page)
}

// Close 关屏。引用归零才真正退订并落最终快照；在途发送不取消，
// 用户划走也不能丢消息。
func (c *Controller) Close(convID string) {
	c.mu.Lock()
	cs, ok := c.convs[convID]
	if !ok {
		c.mu.Unlock()
		return
	}
	cs.refs--
	if cs.refs > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.convs, convID)
	c.mu.Unlock()

	cs.cancel()
	if err := c.stream.Leave(convID); err != nil {
		logger.Warn("event channel leave failed",
			zap.String("conversation_id", convID), zap.Error(err))
	}
	c.persist(cs) // 最终快照同步落盘
	c.setState(cs, StateClosed)
}

// Send 发送命令。立即乐观入时间线并返回消息键；网络结果异步落到
// 该消息的 DeliveryState 上，命令本身不报网络错。
func (c *Controller) Send(convID, body string, kind chatmodel.MessageKind, localAttachmentURI string) (string, error) {
	cs := c.lookup(convID)
	if cs == nil {
		return "", errors.Wrapf(ErrNotOpen, "conversation_id=%s", convID)
	}

	msg := &chatmodel.Message{
		ID:             chatmodel.NewLocalID(),
		ConversationID: convID,
		SenderRef:      c.sess.UserID,
		Kind:           kind,
		Body:           body,
		SentAt:         time.Now().UnixMilli(),
		DeliveryState:  chatmodel.DeliveryPending,
	}
	if kind.HasAttachment() {
		msg.Attachment = &chatmodel.Attachment{
			LocalURI: localAttachmentURI,
			MimeKind: mimeKindFor(kind),
			State:    chatmodel.UploadQueued,
		}
	}
	cs.eng.ApplyLocal(msg)
	c.dispatch(cs, msg)
	return msg.Key(), nil
}

// Resend FAILED 消息重发：旧本地ID退役，换新ID重新进 PENDING，
// 再走一遍发送链路。只有瞬时网络失败和附件失败允许原样重发。
func (c *Controller) Resend(convID, messageKey string) (string, error) {
	cs := c.lookup(convID)
	if cs == nil {
		return "", errors.Wrapf(ErrNotOpen, "conversation_id=%s", convID)
	}
	old := cs.eng.Store().Get(messageKey)
	if old == nil || old.DeliveryState != chatmodel.DeliveryFailed {
		return "", errors.Wrapf(ErrNotFailed, "key=%s", messageKey)
	}
	if !errs.IsRetryable(old.FailCode) {
		return "", errors.Wrapf(ErrNotRetryable, "fail_code=%d", old.FailCode)
	}

	fresh := old.Clone()
	fresh.ID = chatmodel.NewLocalID()
	fresh.DeliveryState = chatmodel.DeliveryPending
	fresh.FailCode = 0
	fresh.SentAt = time.Now().UnixMilli()
	if fresh.Attachment != nil && fresh.Attachment.State != chatmodel.UploadDone {
		fresh.Attachment.State = chatmodel.UploadQueued
		fresh.Attachment.RemoteURI = ""
	}

	cs.eng.Retire(messageKey)
	cs.eng.ApplyLocal(fresh)
	c.dispatch(cs, fresh)
	return fresh.Key(), nil
}

// MarkReadNow 本端已读。服务端确认成功才会清零本地未读；失败原样
// 返回，未读保持，UI 下次再试。
func (c *Controller) MarkReadNow(ctx context.Context, convID string) error {
	cs := c.lookup(convID)
	if cs == nil {
		return errors.Wrapf(ErrNotOpen, "conversation_id=%s", convID)
	}
	return cs.tracker.MarkReadLocal(ctx, c.rest.MarkConversationRead)
}

// Messages 渲染用有序快照。
func (c *Controller) Messages(convID string) []*chatmodel.Message {
	cs := c.lookup(convID)
	if cs == nil {
		return nil
	}
	return cs.eng.Store().Snapshot()
}

// Conversation 派生会话视图（未读数、最后一条）。
func (c *Controller) Conversation(convID string) *chatmodel.Conversation {
	cs := c.lookup(convID)
	if cs == nil {
		return nil
	}
	return chatmodel.DeriveConversation(convID, c.sess.UserID, cs.eng.Store().Snapshot())
}

// StateOf 当前屏状态（UI 骨架屏判断用）。
func (c *Controller) StateOf(convID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.convs[convID]; ok {
		return cs.state
	}
	return StateClosed
}

// Shutdown 进程退出：逐会话落快照并退订。
func (c *Controller) Shutdown() {
	c.mu.Lock()
	all := make([]*convSession, 0, len(c.convs))
	for _, cs := range c.convs {
		all = append(all, cs)
	}
	c.convs = make(map[string]*convSession)
	c.mu.Unlock()

	for _, cs := range all {
		cs.cancel()
		_ = c.stream.Leave(cs.convID)
		c.persist(cs)
	}
	c.uploader.Close()
}

// ---- 发送链路 ----

// dispatch 有附件先上传，成功后再发 REST；任何失败都只落到这条
// 消息的状态上。发送用进程级 ctx：关屏不取消在途发送。
// 看门狗从命令发起就开始计时：上传阶段挂死同样不能让消息永远停在
// 暧昧的 PENDING；迟到的真实确认仍会通过精确回声匹配把 FAILED 换回
// SENT。
func (c *Controller) dispatch(cs *convSession, msg *chatmodel.Message) {
	key := msg.Key()
	watchdog := time.AfterFunc(c.opts.SendTimeout, func() {
		cs.eng.Fail(key, errs.CodeTransientNetwork)
	})
	if msg.Attachment != nil && msg.Attachment.State != chatmodel.UploadDone {
		cs.eng.Apply(markUploading(msg))
		c.uploader.Enqueue(context.Background(), key,
			msg.Attachment.LocalURI, msg.Attachment.MimeKind,
			nil,
			func(res upload.Result) {
				if res.Err != nil {
					watchdog.Stop()
					// 附件失败 ≠ 正文丢失：消息降级 FAILED，body 原样保留
					broken := msg.Clone()
					broken.Attachment.State = chatmodel.UploadFailed
					cs.eng.Apply(broken)
					cs.eng.Fail(key, errs.CodeUpload)
					return
				}
				done := msg.Clone()
				done.Attachment.RemoteURI = res.RemoteURI
				done.Attachment.State = chatmodel.UploadDone
				cs.eng.Apply(done)
				c.sendRest(cs, done, watchdog)
			})
		return
	}
	c.sendRest(cs, msg, watchdog)
}

func (c *Controller) sendRest(cs *convSession, msg *chatmodel.Message, watchdog *time.Timer) {
	key := msg.Key()

	safe.Go("message-send", func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
		defer cancel()

		req := transport.SendReq{
			ClientMsgID: msg.ID.Local,
			Body:        msg.Body,
			Kind:        msg.Kind,
		}
		if msg.Attachment != nil {
			att := *msg.Attachment
			req.AttachmentRef = &att
		}

		ack, err := c.rest.SendMessage(ctx, cs.convID, req)
		watchdog.Stop()
		if err != nil {
			cs.eng.Fail(key, errs.CodeOf(err))
			return
		}
		if ack.ID.Local == "" {
			ack.ID.Local = msg.ID.Local // 服务端没回传 client_msg_id 时补上，走精确回声匹配
		}
		cs.eng.Apply(ack)
	})
}

// ---- 快照 ----

func (c *Controller) persistAsync(cs *convSession) {
	safe.Go("snapshot-save", func() { c.persist(cs) })
}

func (c *Controller) persist(cs *convSession) {
	snap := cs.eng.Store().Snapshot()
	if err := c.cache.Save(context.Background(), cs.convID, snap); err != nil {
		// 缓存只是加速器，不权威；失败记一笔即可
		logger.Warn("snapshot save failed",
			zap.String("conversation_id", cs.convID), zap.Error(err))
	}
}

func (c *Controller) setState(cs *convSession, st State) {
	c.mu.Lock()
	cs.state = st
	c.mu.Unlock()
}

// reviveSnapshot 冷启动修正：上一进程遗留的 PENDING 不可能再等到
// 确认（发送 goroutine 已随进程消失），直接判 FAILED 给重发入口。
func reviveSnapshot(cached []*chatmodel.Message) []*chatmodel.Message {
	for _, m := range cached {
		if m.DeliveryState == chatmodel.DeliveryPending {
			m.DeliveryState = chatmodel.DeliveryFailed
			if m.FailCode == 0 {
				m.FailCode = errs.CodeTransientNetwork
			}
		}
	}
	return cached
}

func mimeKindFor(kind chatmodel.MessageKind) string {
	switch kind {
	case chatmodel.KindImage:
		return "image/*"
	case chatmodel.KindVoice:
		return "audio/*"
	default:
		return "application/octet-stream"
	}
}

func markUploading(msg *chatmodel.Message) *chatmodel.Message {
	cp := msg.Clone()
	cp.Attachment.State = chatmodel.UploadUploading
	return cp
}
