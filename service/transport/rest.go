package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"SanteProject/global"
	chatmodel "SanteProject/module/chat/model"
	"SanteProject/tools/errs"

	"github.com/go-resty/resty/v2"
)

// RestClient resty 实现。所有失败在这里完成归类：
//   - 连接/超时 → CodeTransientNetwork（允许原样重发）
//   - 401/403   → CodeAuth
//   - 其余 4xx  → CodeServerRejection（终态，不给重发入口）
//   - 5xx       → CodeTransientNetwork
type RestClient struct {
	c    *resty.Client
	sess *global.UserSession
}

type RestConfig struct {
	BaseURL string
	Timeout time.Duration // 单请求超时，默认 15s
}

func NewRestClient(cfg RestConfig, sess *global.UserSession) *RestClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if sess != nil && sess.Token != "" {
		c.SetAuthToken(sess.Token)
	}
	if sess != nil && sess.TenantID != "" {
		c.SetHeader("X-Tenant-Id", sess.TenantID)
	}
	return &RestClient{c: c, sess: sess}
}

func classify(resp *resty.Response, err error) error {
	if err != nil {
		// resty 只在网络层失败时返回 err（DNS、连接、超时）
		return errs.ErrTransientNetwork.WrapErr(err)
	}
	code := resp.StatusCode()
	switch {
	case code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.ErrAuth.WrapMsg(resp.Status())
	case code >= 500:
		return errs.ErrTransientNetwork.WrapMsg(resp.Status())
	default:
		return errs.ErrServerRejection.WrapMsg(resp.Status())
	}
}

type pageResp struct {
	Messages []*chatmodel.Message `json:"messages"`
}

func (r *RestClient) FetchMessages(ctx context.Context, conversationID string, limit, offset int) ([]*chatmodel.Message, error) {
	var out pageResp
	resp, err := r.c.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"limit":  fmt.Sprintf("%d", limit),
			"offset": fmt.Sprintf("%d", offset),
		}).
		SetResult(&out).
		Get("/conversations/" + conversationID + "/messages")
	if cerr := classify(resp, err); cerr != nil {
		return nil, cerr
	}
	return out.Messages, nil
}

func (r *RestClient) SendMessage(ctx context.Context, conversationID string, req SendReq) (*chatmodel.Message, error) {
	var out chatmodel.Message
	resp, err := r.c.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/conversations/" + conversationID + "/messages")
	if cerr := classify(resp, err); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

func (r *RestClient) MarkConversationRead(ctx context.Context, conversationID string) error {
	resp, err := r.c.R().
		SetContext(ctx).
		Post("/conversations/" + conversationID + "/read")
	return classify(resp, err)
}
