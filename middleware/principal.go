package middleware

import (
	stderrors "errors"

	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/response"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

/* ========================================================================
 * Principal - 已认证的调用方
 * ========================================================================
 * 职责: 统一网关签名头、JWT、API Key 三种认证方式的结果
 * 约束: Principal 只说明"是谁"，租户与权限由 Tenant / RequirePermission 决定
 * ======================================================================== */

const principalLocalKey = "tenancy_principal"

// 认证来源
const (
	SourceHeader = "header"
	SourceJWT    = "jwt"
	SourceAPIKey = "apikey"
)

// ErrNoCredentials 请求未携带该认证方式的凭证，交给下一个认证器
var ErrNoCredentials = stderrors.New("no credentials")

// Principal 调用方身份
type Principal struct {
	UserID string
	Email  string
	Name   string
	Source string
	// Service 为 API Key 调用时的 key id
	Service string
}

// Authenticator 单一认证方式
type Authenticator interface {
	// Authenticate 返回 ErrNoCredentials 表示请求不属于本方式
	Authenticate(c fiber.Ctx) (*Principal, error)
}

// PrincipalFrom 读取已认证的调用方
func PrincipalFrom(c fiber.Ctx) (*Principal, bool) {
	p, ok := c.Locals(principalLocalKey).(*Principal)
	return p, ok && p != nil
}

// SetPrincipal 写入调用方（测试与内部转发使用）
func SetPrincipal(c fiber.Ctx, p *Principal) {
	c.Locals(principalLocalKey, p)
}

// Authenticate 依次尝试各认证器，第一个识别出凭证的认证器决定结果
func Authenticate(log *logger.Logger, auths ...Authenticator) fiber.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(c fiber.Ctx) error {
		for _, a := range auths {
			if a == nil {
				continue
			}
			p, err := a.Authenticate(c)
			if stderrors.Is(err, ErrNoCredentials) {
				continue
			}
			if err != nil {
				log.WithContext(c.Context()).Warn("Authentication failed",
					zap.Error(err),
					zap.String("path", c.Path()),
					zap.String("ip", c.IP()),
				)
				if errors.IsMisconfigured(err) {
					return response.Error(c, err)
				}
				return response.Unauthorized(c, err.Error())
			}
			SetPrincipal(c, p)
			return c.Next()
		}
		return response.Error(c, errors.ErrUnauthenticated)
	}
}

// AuthConfig 认证配置
type AuthConfig struct {
	Header AuthHeaderVerifierConfig `mapstructure:"header"`
	JWT    JWTConfig                `mapstructure:"jwt"`
	APIKey APIKeyConfig             `mapstructure:"api_key"`
}

// Authenticators 按 网关签名头、JWT、API Key 的顺序构建认证器
func (c AuthConfig) Authenticators() []Authenticator {
	return []Authenticator{
		NewAuthHeaderVerifier(c.Header),
		NewJWTAuthenticator(c.JWT),
		NewAPIKeyAuthenticator(c.APIKey),
	}
}
