package global

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserSession 当前登录态。消息归属判断（"这条是不是我发的"）一律通过
// IsMine 比较 sender 引用和本会话身份，不允许用哨兵字符串判断。
type UserSession struct {
	SessionId string `json:"session_id"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"` // 多租户场景（客服系统强烈建议加）
	Token     string `json:"-"`         // bearer token，透传给 REST / 网关
}

// NewSession builds a session from an already-resolved identity.
func NewSession(sessionID, userID, tenantID string) *UserSession {
	return &UserSession{SessionId: sessionID, UserID: userID, TenantID: tenantID}
}

// NewSessionFromToken 从 bearer token 的 claims 里恢复身份。
// 只解析不校验签名：校验在网关/服务端做，客户端只需要知道自己是谁。
func NewSessionFromToken(token string) (*UserSession, error) {
	raw := token
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		raw = strings.TrimSpace(raw[len("bearer "):])
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, err
	}

	s := &UserSession{Token: raw}
	if sub, err := claims.GetSubject(); err == nil {
		s.UserID = sub
	}
	if v, ok := claims["tenant_id"].(string); ok {
		s.TenantID = v
	}
	if v, ok := claims["session_id"].(string); ok {
		s.SessionId = v
	}
	return s, nil
}

// IsMine reports whether the given sender reference is the current user.
func (s *UserSession) IsMine(senderRef string) bool {
	if s == nil || s.UserID == "" {
		return false
	}
	return senderRef == s.UserID
}
