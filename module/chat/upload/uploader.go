package upload

import (
	"context"
	"sync"

	"SanteProject/logger"
	"SanteProject/service/transport"
	"SanteProject/tools/errs"
	"SanteProject/tools/safe"

	"go.uber.org/zap"
)

// Result 一次上传的终态。Err 非空时宿主消息降级为 FAILED，正文保留。
type Result struct {
	MessageKey string
	RemoteURI  string
	Err        error
}

type job struct {
	ctx        context.Context
	messageKey string
	localURI   string
	mimeKind   string
	onProgress func(float64)
	onDone     func(Result)
}

// Uploader 附件上传池。上传是带界并发的旁路任务（workers 个并行），
// 结果只通过回调汇回消息核心的串行变更路径；不做自动重试，失败走
// 和 FAILED 消息一致的手动重发 UX。
type Uploader struct {
	up      transport.BlobUploader
	jobs    chan job
	once    sync.Once
	closed  chan struct{}
	workers int
}

// NewUploader workers<=0 时取 3。
func NewUploader(up transport.BlobUploader, workers int) *Uploader {
	if workers <= 0 {
		workers = 3
	}
	u := &Uploader{
		up:      up,
		jobs:    make(chan job, 64),
		closed:  make(chan struct{}),
		workers: workers,
	}
	u.start()
	return u
}

func (u *Uploader) start() {
	u.once.Do(func() {
		for i := 0; i < u.workers; i++ {
			safe.Go("attachment-upload-worker", u.loop)
		}
	})
}

func (u *Uploader) loop() {
	for {
		select {
		case j := <-u.jobs:
			u.run(j)
		case <-u.closed:
			return
		}
	}
}

func (u *Uploader) run(j job) {
	remote, err := u.up.Upload(j.ctx, j.localURI, j.mimeKind, j.onProgress)
	res := Result{MessageKey: j.messageKey, RemoteURI: remote}
	if err != nil {
		res.Err = errs.ErrUpload.WrapErr(err)
		logger.Warn("attachment upload failed",
			zap.String("message_key", j.messageKey),
			zap.String("local_uri", j.localURI),
			zap.Error(err))
	}
	j.onDone(res)
}

// Enqueue 登记一次上传。ctx 给到底层上传实现；注意发送链路不随
// 屏幕关闭取消，调用方传进程级 ctx。
func (u *Uploader) Enqueue(ctx context.Context, messageKey, localURI, mimeKind string,
	onProgress func(float64), onDone func(Result)) {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	j := job{
		ctx:        ctx,
		messageKey: messageKey,
		localURI:   localURI,
		mimeKind:   mimeKind,
		onProgress: onProgress,
		onDone:     onDone,
	}
	select {
	case <-u.closed:
		// 停池后不再受理：jobs 有缓冲，不先查会把任务吞进没有
		// 消费者的队列里
		onDone(Result{MessageKey: messageKey, Err: errs.ErrUpload.WrapMsg("uploader closed")})
		return
	default:
	}
	select {
	case u.jobs <- j:
	case <-u.closed:
		onDone(Result{MessageKey: messageKey, Err: errs.ErrUpload.WrapMsg("uploader closed")})
	}
}

// Close 停池；已入队未开跑的任务不再执行。
func (u *Uploader) Close() {
	select {
	case <-u.closed:
	default:
		close(u.closed)
	}
}
