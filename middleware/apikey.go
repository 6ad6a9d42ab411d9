package middleware

import (
	"crypto/subtle"
	"fmt"

	"github.com/gofiber/fiber/v3"
)

/* ========================================================================
 * API Key Authenticator - 服务间调用
 * ========================================================================
 * 职责: IdP 等内部服务通过 X-API-Key 调用身份同步接口
 * ======================================================================== */

// HeaderAPIKey API Key 请求头
const HeaderAPIKey = "X-API-Key"

// APIKeyConfig API Key 配置
type APIKeyConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Keys    map[string]string `mapstructure:"keys"` // key_id -> api_key
}

// APIKeyAuthenticator 实现 Authenticator
type APIKeyAuthenticator struct {
	cfg APIKeyConfig
}

// NewAPIKeyAuthenticator 创建 API Key 认证器
func NewAPIKeyAuthenticator(cfg APIKeyConfig) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{cfg: cfg}
}

// Authenticate 实现 Authenticator；Principal.UserID 为 "service:<key_id>"
func (a *APIKeyAuthenticator) Authenticate(c fiber.Ctx) (*Principal, error) {
	key := c.Get(HeaderAPIKey)
	if !a.cfg.Enabled || key == "" {
		return nil, ErrNoCredentials
	}
	keyID, ok := a.lookup(key)
	if !ok {
		return nil, fmt.Errorf("invalid api key")
	}
	return &Principal{UserID: "service:" + keyID, Source: SourceAPIKey, Service: keyID}, nil
}

// lookup 逐个常量时间比较，不在首个不匹配处提前返回
func (a *APIKeyAuthenticator) lookup(key string) (string, bool) {
	found := ""
	for id, stored := range a.cfg.Keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(stored)) == 1 {
			found = id
		}
	}
	return found, found != ""
}
