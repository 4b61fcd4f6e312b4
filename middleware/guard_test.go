package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/credcore"
	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/session"
	"github.com/MrEthical07/credcore/userstore"
	"github.com/gin-gonic/gin"
)

const alicePassword = "correct-horse-battery"

func newEngine(t *testing.T) *credcore.Engine {
	t.Helper()
	key, err := jwt.NewHMACKey("k1", []byte(strings.Repeat("m", jwt.MinHMACSecretBytes)))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	ring, err := jwt.NewKeyring("k1", key)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	cfg := credcore.DefaultConfig()
	cfg.Password.BcryptCost = 4

	engine, err := credcore.New().
		WithConfig(cfg).
		WithKeyring(ring).
		WithUserProvider(userstore.NewMemoryStore()).
		WithSessionStore(session.NewMemoryStore()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func loginAlice(t *testing.T, engine *credcore.Engine) (credcore.UserRecord, *credcore.TokenPair) {
	t.Helper()
	ctx := context.Background()
	user, err := engine.Register(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := engine.Login(ctx, "alice", alicePassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return user, pair
}

func TestGuardAttachesIdentity(t *testing.T) {
	engine := newEngine(t)
	user, pair := loginAlice(t, engine)

	var got *credcore.Identity
	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := credcore.IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("identity missing from context")
		}
		got = id
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got == nil || got.Subject != user.UserID || got.SessionID != pair.SessionID {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestGuardRejects(t *testing.T) {
	engine := newEngine(t)
	_, pair := loginAlice(t, engine)

	tests := []struct {
		name      string
		header    string
		challenge string
	}{
		{name: "missing", header: "", challenge: "Bearer"},
		{name: "basic", header: "Basic YWxpY2U6eA==", challenge: "Bearer"},
		{name: "garbage", header: "Bearer nope", challenge: `Bearer error="invalid_token"`},
		{name: "refresh token", header: "Bearer " + pair.RefreshToken, challenge: `Bearer error="invalid_token"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if called {
				t.Fatal("next handler must not run")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != tt.challenge {
				t.Fatalf("expected challenge %q, got %q", tt.challenge, got)
			}
		})
	}
}

func TestGuardNilAuthenticator(t *testing.T) {
	h := Guard(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGinGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := newEngine(t)
	user, pair := loginAlice(t, engine)

	r := gin.New()
	r.GET("/me", GinGuard(engine), func(c *gin.Context) {
		id, ok := IdentityFromGin(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		if fromCtx, ok := credcore.IdentityFromContext(c.Request.Context()); !ok || fromCtx.Subject != id.Subject {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.Subject)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != user.UserID {
		t.Fatalf("expected 200 with subject, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing challenge header, got %q", rec.Header().Get("WWW-Authenticate"))
	}
}
