package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
)

func doRequest(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// whoami 返回当前 Principal 的 user id
func whoami(c fiber.Ctx) error {
	p, ok := PrincipalFrom(c)
	if !ok {
		return c.SendStatus(fiber.StatusTeapot)
	}
	return c.SendString(p.Source + ":" + p.UserID)
}

func TestAuthHeaderSignAndVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := NewAuthHeaderSigner(AuthHeaderSignerConfig{Secret: "s3cret", Issuer: "gateway", NowFunc: func() time.Time { return now }})
	values, err := signer.Sign(&UserInfo{UserID: "user-1", Email: "a@acme.test"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	h := http.Header{}
	values.Write(h)
	parsed, err := ParseAuthHeaderValues(HeaderGetter(h))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	v := NewAuthHeaderVerifier(AuthHeaderVerifierConfig{
		Enabled:        true,
		Secret:         "s3cret",
		AllowedIssuers: []string{"gateway"},
		NowFunc:        func() time.Time { return now.Add(time.Minute) },
	})
	user, err := v.Verify(parsed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.UserID != "user-1" || user.Email != "a@acme.test" {
		t.Fatalf("unexpected user: %+v", user)
	}

	tampered := parsed
	tampered.User, _ = EncodeUserInfo(&UserInfo{UserID: "user-2"})
	if _, err := v.Verify(tampered); err != ErrAuthHeaderInvalidSign {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	late := NewAuthHeaderVerifier(AuthHeaderVerifierConfig{Enabled: true, Secret: "s3cret", NowFunc: func() time.Time { return now.Add(time.Hour) }})
	if _, err := late.Verify(parsed); err != ErrAuthHeaderExpired {
		t.Fatalf("expected expired, got %v", err)
	}

	other := NewAuthHeaderVerifier(AuthHeaderVerifierConfig{Enabled: true, Secret: "s3cret", AllowedIssuers: []string{"idp"}, NowFunc: func() time.Time { return now }})
	if _, err := other.Verify(parsed); err != ErrAuthHeaderIssuerNotAllowed {
		t.Fatalf("expected issuer rejection, got %v", err)
	}
}

func TestAuthenticateChain(t *testing.T) {
	now := time.Now()
	jwtAuth := NewJWTAuthenticator(JWTConfig{Enabled: true, Secret: "jwt-secret", Issuer: "idp"})
	headerAuth := NewAuthHeaderVerifier(AuthHeaderVerifierConfig{Enabled: true, Secret: "hdr-secret"})
	keyAuth := NewAPIKeyAuthenticator(APIKeyConfig{Enabled: true, Keys: map[string]string{"idp": "k-123"}})

	app := fiber.New()
	app.Use(Authenticate(nil, headerAuth, jwtAuth, keyAuth))
	app.Get("/me", whoami)

	token, err := jwtAuth.Issue("user-7", "u7@acme.test", "U7", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := doRequest(t, app, req); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("jwt: unexpected status %d", resp.StatusCode)
	}

	signed, err := NewAuthHeaderSigner(AuthHeaderSignerConfig{Secret: "hdr-secret", Issuer: "gateway"}).Sign(&UserInfo{UserID: "user-8"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req = httptest.NewRequest("GET", "/me", nil)
	signed.Write(req.Header)
	if resp := doRequest(t, app, req); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("header: unexpected status %d", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set(HeaderAPIKey, "k-123")
	if resp := doRequest(t, app, req); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("api key: unexpected status %d", resp.StatusCode)
	}

	cases := map[string]func(r *http.Request){
		"none":        func(*http.Request) {},
		"bad jwt":     func(r *http.Request) { r.Header.Set("Authorization", "Bearer not-a-token") },
		"bad api key": func(r *http.Request) { r.Header.Set(HeaderAPIKey, "nope") },
		"wrong jwt secret": func(r *http.Request) {
			forged, _ := NewJWTAuthenticator(JWTConfig{Secret: "other", Issuer: "idp"}).Issue("user-7", "", "", now)
			r.Header.Set("Authorization", "Bearer "+forged)
		},
	}
	for name, mutate := range cases {
		req := httptest.NewRequest("GET", "/me", nil)
		mutate(req)
		if resp := doRequest(t, app, req); resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.StatusCode)
		}
	}
}

func TestJWTRejectsExpiredAndWrongIssuer(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Enabled: true, Secret: "k", Issuer: "idp", TTL: time.Minute})
	old, err := a.Issue("u", "", "", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.Parse(old); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	other := NewJWTAuthenticator(JWTConfig{Enabled: true, Secret: "k", Issuer: "someone-else"})
	tok, _ := other.Issue("u", "", "", time.Now())
	if _, err := a.Parse(tok); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}

	claims, err := other.Parse(tok)
	if err != nil || claims.Subject != "u" {
		t.Fatalf("unexpected parse result: %+v %v", claims, err)
	}
}

func TestMisconfiguredVerifierReturns500(t *testing.T) {
	app := fiber.New()
	app.Use(Authenticate(nil, NewAuthHeaderVerifier(AuthHeaderVerifierConfig{Enabled: true})))
	app.Get("/me", whoami)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set(HeaderAuthSignature, "abc")
	if resp := doRequest(t, app, req); resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestJWTVerifyTokenReturnsSubject(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Enabled: true, Secret: "k", Issuer: "idp"})
	tok, err := a.Issue("user-9", "", "", time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sub, err := a.VerifyToken(tok); err != nil || sub != "user-9" {
		t.Fatalf("verify: %q %v", sub, err)
	}
	if _, err := a.VerifyToken("garbage"); err == nil {
		t.Fatalf("expected invalid token error")
	}
}
