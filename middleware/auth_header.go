package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aisgo/ais-tenancy/errors"

	"github.com/gofiber/fiber/v3"
)

/* ========================================================================
 * Gateway Auth Header (v1)
 * ========================================================================
 * 网关校验前端令牌后，把用户身份写入签名头，下游服务只验签不查库。
 *
 * Headers:
 *   X-AIS-Auth-V      版本 ("1")
 *   X-AIS-Auth-Iss    签发方
 *   X-AIS-Auth-Ts     unix 秒
 *   X-AIS-Auth-Nonce  随机数
 *   X-AIS-Auth-User   base64url(JSON UserInfo)
 *   X-AIS-Auth-Sign   hex(HMAC-SHA256(secret, v|iss|ts|nonce|user))
 * ======================================================================== */

const (
	AuthHeaderVersionV1 = "1"

	HeaderAuthVersion   = "X-AIS-Auth-V"
	HeaderAuthIssuer    = "X-AIS-Auth-Iss"
	HeaderAuthTimestamp = "X-AIS-Auth-Ts"
	HeaderAuthNonce     = "X-AIS-Auth-Nonce"
	HeaderAuthUser      = "X-AIS-Auth-User"
	HeaderAuthSignature = "X-AIS-Auth-Sign"
)

const (
	defaultAuthMaxAge    = 5 * time.Minute
	defaultAuthClockSkew = 30 * time.Second
	authNonceSize        = 16
)

var (
	ErrAuthHeaderMissing          = stderrors.New("missing auth headers")
	ErrAuthHeaderInvalidVersion   = stderrors.New("invalid auth version")
	ErrAuthHeaderInvalidIssuer    = stderrors.New("invalid auth issuer")
	ErrAuthHeaderInvalidTS        = stderrors.New("invalid auth timestamp")
	ErrAuthHeaderMissingNonce     = stderrors.New("missing auth nonce")
	ErrAuthHeaderMissingUser      = stderrors.New("missing auth user")
	ErrAuthHeaderInvalidUser      = stderrors.New("invalid auth user header")
	ErrAuthHeaderInvalidSign      = stderrors.New("invalid auth signature")
	ErrAuthHeaderExpired          = stderrors.New("auth header expired")
	ErrAuthHeaderNotYetValid      = stderrors.New("auth header timestamp in future")
	ErrAuthHeaderMissingSecret    = stderrors.New("auth header secret is required")
	ErrAuthHeaderIssuerNotAllowed = stderrors.New("auth issuer not allowed")
)

// UserInfo 网关注入的用户身份
type UserInfo struct {
	UserID string            `json:"user_id"`
	Email  string            `json:"email,omitempty"`
	Name   string            `json:"name,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// AuthHeaderValues 签名头的结构化表示
type AuthHeaderValues struct {
	Version   string
	Issuer    string
	Timestamp int64
	Nonce     string
	User      string
	Signature string
}

// Write 写入 http.Header（服务间调用）
func (v AuthHeaderValues) Write(h http.Header) {
	if h == nil || v.Signature == "" {
		return
	}
	h.Set(HeaderAuthVersion, v.Version)
	h.Set(HeaderAuthIssuer, v.Issuer)
	h.Set(HeaderAuthTimestamp, strconv.FormatInt(v.Timestamp, 10))
	h.Set(HeaderAuthNonce, v.Nonce)
	h.Set(HeaderAuthSignature, v.Signature)
	if v.User != "" {
		h.Set(HeaderAuthUser, v.User)
	}
}

/* ========================================================================
 * Signer
 * ======================================================================== */

// AuthHeaderSignerConfig 签名配置
type AuthHeaderSignerConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`

	NowFunc func() time.Time `mapstructure:"-"`
}

// AuthHeaderSigner 为服务间调用生成签名头
type AuthHeaderSigner struct {
	cfg AuthHeaderSignerConfig
	now func() time.Time
}

// NewAuthHeaderSigner 创建签名器
func NewAuthHeaderSigner(cfg AuthHeaderSignerConfig) *AuthHeaderSigner {
	now := cfg.NowFunc
	if now == nil {
		now = time.Now
	}
	return &AuthHeaderSigner{cfg: cfg, now: now}
}

// Sign 为用户生成签名头
func (s *AuthHeaderSigner) Sign(user *UserInfo) (AuthHeaderValues, error) {
	if s.cfg.Secret == "" {
		return AuthHeaderValues{}, ErrAuthHeaderMissingSecret
	}
	if s.cfg.Issuer == "" {
		return AuthHeaderValues{}, ErrAuthHeaderInvalidIssuer
	}
	userValue, err := EncodeUserInfo(user)
	if err != nil {
		return AuthHeaderValues{}, err
	}
	buf := make([]byte, authNonceSize)
	if _, err := rand.Read(buf); err != nil {
		return AuthHeaderValues{}, err
	}
	v := AuthHeaderValues{
		Version:   AuthHeaderVersionV1,
		Issuer:    s.cfg.Issuer,
		Timestamp: s.now().Unix(),
		Nonce:     hex.EncodeToString(buf),
		User:      userValue,
	}
	v.Signature = signAuthHeader(s.cfg.Secret, v)
	return v, nil
}

/* ========================================================================
 * Verifier
 * ======================================================================== */

// AuthHeaderVerifierConfig 验签配置
type AuthHeaderVerifierConfig struct {
	Enabled          bool              `mapstructure:"enabled"`
	Secret           string            `mapstructure:"secret"`
	Secrets          map[string]string `mapstructure:"secrets"` // issuer -> secret
	AllowedIssuers   []string          `mapstructure:"allowed_issuers"`
	MaxAge           time.Duration     `mapstructure:"max_age"`
	AllowedClockSkew time.Duration     `mapstructure:"allowed_clock_skew"`

	NowFunc func() time.Time `mapstructure:"-"`
}

// AuthHeaderVerifier 校验签名头，实现 Authenticator
type AuthHeaderVerifier struct {
	cfg AuthHeaderVerifierConfig
	now func() time.Time
}

// NewAuthHeaderVerifier 创建验签器
func NewAuthHeaderVerifier(cfg AuthHeaderVerifierConfig) *AuthHeaderVerifier {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = defaultAuthMaxAge
	}
	if cfg.AllowedClockSkew == 0 {
		cfg.AllowedClockSkew = defaultAuthClockSkew
	}
	now := cfg.NowFunc
	if now == nil {
		now = time.Now
	}
	return &AuthHeaderVerifier{cfg: cfg, now: now}
}

// Authenticate 实现 Authenticator；未携带签名头时交给下一个认证器
func (v *AuthHeaderVerifier) Authenticate(c fiber.Ctx) (*Principal, error) {
	if !v.cfg.Enabled || c.Get(HeaderAuthSignature) == "" {
		return nil, ErrNoCredentials
	}
	if v.cfg.Secret == "" && len(v.cfg.Secrets) == 0 {
		return nil, errors.Wrap(errors.ErrCodeMisconfigured, "auth header misconfigured", ErrAuthHeaderMissingSecret)
	}
	values, err := ParseAuthHeaderValues(c.Get)
	if err != nil {
		return nil, err
	}
	user, err := v.Verify(values)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: user.UserID, Email: user.Email, Name: user.Name, Source: SourceHeader}, nil
}

// Verify 校验签名、时效并解析用户
func (v *AuthHeaderVerifier) Verify(values AuthHeaderValues) (*UserInfo, error) {
	if values.Version != AuthHeaderVersionV1 {
		return nil, ErrAuthHeaderInvalidVersion
	}
	if len(v.cfg.AllowedIssuers) > 0 && !slices.Contains(v.cfg.AllowedIssuers, values.Issuer) {
		return nil, ErrAuthHeaderIssuerNotAllowed
	}
	if values.Nonce == "" {
		return nil, ErrAuthHeaderMissingNonce
	}
	secret := v.cfg.Secret
	if s, ok := v.cfg.Secrets[values.Issuer]; ok {
		secret = s
	}
	if secret == "" {
		return nil, ErrAuthHeaderMissingSecret
	}
	expected := signAuthHeader(secret, values)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(values.Signature)) != 1 {
		return nil, ErrAuthHeaderInvalidSign
	}

	issuedAt := time.Unix(values.Timestamp, 0)
	now := v.now()
	if now.Sub(issuedAt) > v.cfg.MaxAge {
		return nil, ErrAuthHeaderExpired
	}
	if issuedAt.After(now.Add(v.cfg.AllowedClockSkew)) {
		return nil, ErrAuthHeaderNotYetValid
	}

	user, err := DecodeUserInfo(values.User)
	if err != nil {
		return nil, ErrAuthHeaderInvalidUser
	}
	if user == nil || user.UserID == "" {
		return nil, ErrAuthHeaderMissingUser
	}
	return user, nil
}

// ParseAuthHeaderValues 通过取值函数读取签名头（fiber.Ctx.Get 或 http.Header.Get）
func ParseAuthHeaderValues(get func(string, ...string) string) (AuthHeaderValues, error) {
	field := func(k string) string { return strings.TrimSpace(get(k)) }
	v := AuthHeaderValues{
		Version:   field(HeaderAuthVersion),
		Issuer:    field(HeaderAuthIssuer),
		Nonce:     field(HeaderAuthNonce),
		User:      field(HeaderAuthUser),
		Signature: field(HeaderAuthSignature),
	}
	stamp := field(HeaderAuthTimestamp)
	if v.Version == "" || v.Issuer == "" || stamp == "" || v.Signature == "" {
		return AuthHeaderValues{}, ErrAuthHeaderMissing
	}
	ts, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil || ts <= 0 {
		return AuthHeaderValues{}, ErrAuthHeaderInvalidTS
	}
	v.Timestamp = ts
	return v, nil
}

// HeaderGetter 适配 http.Header 到 ParseAuthHeaderValues
func HeaderGetter(h http.Header) func(string, ...string) string {
	return func(k string, _ ...string) string { return h.Get(k) }
}

// EncodeUserInfo base64url(JSON)
func EncodeUserInfo(user *UserInfo) (string, error) {
	if user == nil {
		return "", nil
	}
	data, err := json.Marshal(user)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeUserInfo 兼容 base64url 与标准 base64
func DecodeUserInfo(value string) (*UserInfo, error) {
	if value == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		if data, err = base64.StdEncoding.DecodeString(value); err != nil {
			return nil, err
		}
	}
	var user UserInfo
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func signAuthHeader(secret string, v AuthHeaderValues) string {
	payload := strings.Join([]string{
		v.Version,
		v.Issuer,
		strconv.FormatInt(v.Timestamp, 10),
		v.Nonce,
		v.User,
	}, "|")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
