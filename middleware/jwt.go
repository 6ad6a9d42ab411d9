package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/aisgo/ais-tenancy/errors"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

/* ========================================================================
 * JWT Authenticator - Bearer 令牌
 * ========================================================================
 * 职责: 校验 HS256 令牌并把 sub/email/name 转为 Principal
 * 约束: 令牌只携带身份，租户通过 X-Tenant-ID 选择并逐请求校验成员关系
 * ======================================================================== */

// JWTConfig JWT 配置
type JWTConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	Leeway   time.Duration `mapstructure:"leeway"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Claims 令牌声明
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// JWTAuthenticator 实现 Authenticator
type JWTAuthenticator struct {
	cfg    JWTConfig
	parser *jwt.Parser
}

// NewJWTAuthenticator 创建 JWT 认证器
func NewJWTAuthenticator(cfg JWTConfig) *JWTAuthenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTAuthenticator{cfg: cfg, parser: jwt.NewParser(opts...)}
}

// Authenticate 实现 Authenticator；没有 Bearer 令牌时交给下一个认证器
func (a *JWTAuthenticator) Authenticate(c fiber.Ctx) (*Principal, error) {
	if !a.cfg.Enabled {
		return nil, ErrNoCredentials
	}
	raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return nil, ErrNoCredentials
	}
	claims, err := a.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email, Name: claims.Name, Source: SourceJWT}, nil
}

// Parse 校验并解析令牌
func (a *JWTAuthenticator) Parse(raw string) (*Claims, error) {
	if a.cfg.Secret == "" {
		return nil, errors.New(errors.ErrCodeMisconfigured, "jwt secret is not configured")
	}
	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// VerifyToken 返回令牌的 subject，供 gRPC 拦截器使用
func (a *JWTAuthenticator) VerifyToken(raw string) (string, error) {
	claims, err := a.Parse(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Issue 签发令牌（开发环境与测试使用，生产令牌由 IdP 签发）
func (a *JWTAuthenticator) Issue(userID, email, name string, now time.Time) (string, error) {
	if a.cfg.Secret == "" {
		return "", errors.New(errors.ErrCodeMisconfigured, "jwt secret is not configured")
	}
	ttl := a.cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Name:  name,
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
