package errs

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// 同步核心对外只暴露这几类失败（对应不同的 UI 处理策略）。
// 命令永远不向 UI 抛异常：错误被归类后落到消息/会话状态上。
const (
	CodeTransientNetwork = 1001 // 可重发：超时、断网、5xx
	CodeServerRejection  = 1002 // 终态：服务端明确拒绝（4xx 业务错误），重发无意义
	CodeAuth             = 1003 // 终态：凭证失效，需要重新登录
	CodeCacheCorrupt     = 2001 // 本地恢复：丢弃缓存条目，走纯 REST 冷启动
	CodeUpload           = 3001 // 附件上传失败：宿主消息降级为 FAILED，正文保留
)

var (
	ErrTransientNetwork = NewCodeError(CodeTransientNetwork, "transient network failure")
	ErrServerRejection  = NewCodeError(CodeServerRejection, "server rejected request")
	ErrAuth             = NewCodeError(CodeAuth, "authentication failed")
	ErrCacheCorrupt     = NewCodeError(CodeCacheCorrupt, "cache entry corrupted")
	ErrUpload           = NewCodeError(CodeUpload, "attachment upload failed")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

// Wrap 附带调用栈返回（栈由 pkg/errors 提供）。
func (e *CodeError) Wrap() error {
	return errors.WithStack(e)
}

// WrapMsg 附带说明和调用栈返回。
func (e *CodeError) WrapMsg(msg string) error {
	return errors.WithStack(e.WithDetail(msg))
}

// WrapErr 把底层错误记进 detail 后返回。
func (e *CodeError) WrapErr(cause error) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(e.WithDetail(cause.Error()))
}

// Is 按 Code 比较，供 errors.Is 使用。
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !stderrors.As(err, &ce) {
		return false
	}
	return e.Code == ce.Code
}

// CodeOf 取出错误的分类码；不是 CodeError 时按瞬时网络错误兜底，
// 因为未知错误给用户一个重试入口总比直接终态安全。
func CodeOf(err error) int {
	var ce *CodeError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return CodeTransientNetwork
}

// IsRetryable 该分类码是否允许用户原样重发：瞬时网络失败和附件上传
// 失败可以，ServerRejection 和 Auth 是终态（前者重发无意义，后者要求
// 重新登录）。
func IsRetryable(code int) bool {
	return code == CodeTransientNetwork || code == CodeUpload
}
