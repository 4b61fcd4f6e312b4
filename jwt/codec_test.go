package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func hmacRing(t *testing.T, kid string) *Keyring {
	t.Helper()
	k, err := NewHMACKey(kid, testSecret)
	if err != nil {
		t.Fatalf("hmac key: %v", err)
	}
	ring, err := NewKeyring(kid, k)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return ring
}

func newTestCodec(t *testing.T, cfg Config, ring *Keyring) *Codec {
	t.Helper()
	c, err := NewCodec(cfg, ring)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestIssueValidateRoundTrip(t *testing.T) {
	c := newTestCodec(t, Config{Issuer: "credcore", Audience: "api"}, hmacRing(t, "k1"))

	token, issued, err := c.Issue("alice", TypeAccess, 15*time.Minute,
		WithSessionID("s1"), WithExtra(map[string]string{"role": "admin"}))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected compact JWS, got %q", token)
	}

	claims, err := c.Validate(token, TypeAccess)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "alice" || claims.SessionID != "s1" || claims.TokenType != TypeAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Extra["role"] != "admin" {
		t.Fatalf("expected ext claim, got %v", claims.Extra)
	}
	if claims.ID != issued.ID || claims.ID == "" {
		t.Fatalf("jti mismatch: %q vs %q", claims.ID, issued.ID)
	}
	raw, err := base64.RawURLEncoding.DecodeString(claims.ID)
	if err != nil || len(raw) != 32 {
		t.Fatalf("expected 32-byte base64url jti, got %q", claims.ID)
	}
	if got := claims.ExpiresAtTime().Sub(claims.IssuedAtTime()); got != 15*time.Minute {
		t.Fatalf("expected exp = iat + 15m, got %s", got)
	}
}

func TestIssueSetsKidHeader(t *testing.T) {
	c := newTestCodec(t, Config{}, hmacRing(t, "2024-01"))
	token, _, err := c.Issue("alice", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parsed, _, err := gjwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		t.Fatalf("parse unverified: %v", err)
	}
	if parsed.Header["kid"] != "2024-01" || parsed.Header["alg"] != "HS256" {
		t.Fatalf("unexpected header: %v", parsed.Header)
	}
}

func TestZeroTTLIsExpired(t *testing.T) {
	c := newTestCodec(t, Config{}, hmacRing(t, "k1"))
	token, _, err := c.Issue("alice", TypeAccess, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := c.Validate(token, TypeAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestExpiryHonoursLeeway(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, Config{Leeway: 5 * time.Second, Now: clock.Now}, hmacRing(t, "k1"))

	token, _, err := c.Issue("alice", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.Advance(time.Minute + 3*time.Second)
	if _, err := c.Validate(token, TypeAccess); err != nil {
		t.Fatalf("expected token inside leeway to validate: %v", err)
	}

	clock.Advance(10 * time.Second)
	if _, err := c.Validate(token, TypeAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestFutureIssuedAtIsMalformed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, Config{Now: clock.Now}, hmacRing(t, "k1"))

	clock.Advance(10 * time.Minute)
	token, _, err := c.Issue("alice", TypeAccess, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock.Advance(-10 * time.Minute)
	if _, err := c.Validate(token, TypeAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for future iat, got %v", err)
	}
}

func TestUnknownKidIsSignatureInvalid(t *testing.T) {
	issuer := newTestCodec(t, Config{}, hmacRing(t, "other"))
	verifier := newTestCodec(t, Config{}, hmacRing(t, "k1"))

	token, _, err := issuer.Issue("alice", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Validate(token, TypeAccess); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestMissingKidIsSignatureInvalid(t *testing.T) {
	c := newTestCodec(t, Config{}, hmacRing(t, "k1"))
	now := time.Now()
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, &Claims{
		TokenType: TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	token, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := c.Validate(token, TypeAccess); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestAlgNoneIsSignatureInvalid(t *testing.T) {
	c := newTestCodec(t, Config{}, hmacRing(t, "k1"))
	now := time.Now()
	tok := gjwt.NewWithClaims(gjwt.SigningMethodNone, &Claims{
		TokenType: TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	tok.Header["kid"] = "k1"
	token, err := tok.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := c.Validate(token, TypeAccess); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestAlgorithmConfusionIsSignatureInvalid(t *testing.T) {
	pub, priv := newEdKeys(t)
	edKey, err := NewEd25519Key("ed1", priv, nil)
	if err != nil {
		t.Fatalf("ed key: %v", err)
	}
	hsKey, err := NewHMACKey("hs1", testSecret)
	if err != nil {
		t.Fatalf("hmac key: %v", err)
	}
	ring, err := NewKeyring("ed1", edKey, hsKey)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	c := newTestCodec(t, Config{}, ring)

	// HS256 signed with the public key bytes, claiming the EdDSA kid.
	now := time.Now()
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, &Claims{
		TokenType: TypeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "mallory",
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	tok.Header["kid"] = "ed1"
	forged, err := tok.SignedString([]byte(pub))
	if err != nil {
		t.Fatalf("sign forged: %v", err)
	}
	if _, err := c.Validate(forged, TypeAccess); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestTamperedPayloadIsSignatureInvalid(t *testing.T) {
	c := newTestCodec(t, Config{}, hmacRing(t, "k1"))
	token, _, err := c.Issue("alice", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	tampered := strings.Replace(string(payload), `"sub":"alice"`, `"sub":"admin"`, 1)
	if tampered == string(payload) {
		t.Fatalf("payload did not contain subject: %s", payload)
	}
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(tampered))
	if _, err := c.Validate(strings.Join(parts, "."), TypeAccess); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestGarbageIsMalformed(t *testing.T) {
	c := newTestCodec(t, Config{}, hmacRing(t, "k1"))
	for _, in := range []string{"", "abc", "a.b.c", "....", "eyJhbGciOiJIUzI1NiJ9..sig"} {
		if _, err := c.Validate(in, TypeAccess); !errors.Is(err, ErrMalformed) {
			t.Fatalf("input %q: expected ErrMalformed, got %v", in, err)
		}
	}
}

func TestWrongTypeIsRejected(t *testing.T) {
	c := newTestCodec(t, Config{}, hmacRing(t, "k1"))
	refresh, _, err := c.Issue("alice", TypeRefresh, time.Hour, WithSessionID("s1"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := c.Validate(refresh, TypeAccess); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
	if _, err := c.Validate(refresh, TypeRefresh); err != nil {
		t.Fatalf("expected refresh to validate as refresh: %v", err)
	}
}

func TestIssuerAudienceMismatchIsMalformed(t *testing.T) {
	ring := hmacRing(t, "k1")
	issuer := newTestCodec(t, Config{Issuer: "other", Audience: "api"}, ring)
	verifier := newTestCodec(t, Config{Issuer: "credcore", Audience: "api"}, ring)

	token, _, err := issuer.Issue("alice", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Validate(token, TypeAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for issuer mismatch, got %v", err)
	}

	wrongAud := newTestCodec(t, Config{Issuer: "credcore", Audience: "admin"}, ring)
	token, _, err = wrongAud.Issue("alice", TypeAccess, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Validate(token, TypeAccess); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for audience mismatch, got %v", err)
	}
}

func TestKeyRotation(t *testing.T) {
	_, oldPriv := newEdKeys(t)
	_, newPriv := newEdKeys(t)

	oldKey, err := NewEd25519Key("2024-01", oldPriv, nil)
	if err != nil {
		t.Fatalf("old key: %v", err)
	}
	ring1, err := NewKeyring("2024-01", oldKey)
	if err != nil {
		t.Fatalf("ring1: %v", err)
	}
	c := newTestCodec(t, Config{}, ring1)

	oldToken, _, err := c.Issue("alice", TypeAccess, time.Hour)
	if err != nil {
		t.Fatalf("issue old: %v", err)
	}

	// Rotate: new active key, old key demoted to verify-only.
	newKey, err := NewEd25519Key("2024-02", newPriv, nil)
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	verifyOnly, err := NewEd25519Key("2024-01", nil, oldPriv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("verify-only key: %v", err)
	}
	ring2, err := NewKeyring("2024-02", newKey, verifyOnly)
	if err != nil {
		t.Fatalf("ring2: %v", err)
	}
	if err := c.RotateKeys(ring2); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if c.Keyring().ActiveKeyID() != "2024-02" {
		t.Fatalf("expected active kid 2024-02, got %q", c.Keyring().ActiveKeyID())
	}

	if _, err := c.Validate(oldToken, TypeAccess); err != nil {
		t.Fatalf("expected old token to validate with verify-only key: %v", err)
	}
	newToken, _, err := c.Issue("alice", TypeAccess, time.Hour)
	if err != nil {
		t.Fatalf("issue new: %v", err)
	}
	if _, err := c.Validate(newToken, TypeAccess); err != nil {
		t.Fatalf("expected new token to validate: %v", err)
	}

	// Retire the old key entirely.
	ring3, err := NewKeyring("2024-02", newKey)
	if err != nil {
		t.Fatalf("ring3: %v", err)
	}
	if err := c.RotateKeys(ring3); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := c.Validate(oldToken, TypeAccess); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected retired kid to be rejected, got %v", err)
	}
}

func TestNewKeyringRejectsBadInput(t *testing.T) {
	hs, err := NewHMACKey("k1", testSecret)
	if err != nil {
		t.Fatalf("hmac key: %v", err)
	}
	pub, _ := newEdKeys(t)
	verifyOnly, err := NewEd25519Key("ed", nil, pub)
	if err != nil {
		t.Fatalf("verify-only: %v", err)
	}

	if _, err := NewKeyring("k1"); err == nil {
		t.Fatal("expected empty keyring to fail")
	}
	if _, err := NewKeyring("k1", hs, hs); err == nil {
		t.Fatal("expected duplicate kid to fail")
	}
	if _, err := NewKeyring("missing", hs); err == nil {
		t.Fatal("expected unknown active kid to fail")
	}
	if _, err := NewKeyring("ed", hs, verifyOnly); err == nil {
		t.Fatal("expected verify-only active key to fail")
	}
	if _, err := NewHMACKey("short", []byte("too-short")); err == nil {
		t.Fatal("expected short hmac secret to fail")
	}
}

func TestNewEd25519KeyMismatchedPair(t *testing.T) {
	_, priv := newEdKeys(t)
	otherPub, _ := newEdKeys(t)
	if _, err := NewEd25519Key("ed", priv, otherPub); err == nil {
		t.Fatal("expected mismatched key pair to fail")
	}
	if _, err := NewEd25519Key("ed", priv.Seed(), nil); err != nil {
		t.Fatalf("expected seed to be accepted: %v", err)
	}
}

func TestNewCodecRejectsLeeway(t *testing.T) {
	if _, err := NewCodec(Config{Leeway: 3 * time.Minute}, hmacRing(t, "k1")); err == nil {
		t.Fatal("expected leeway above max to fail")
	}
	if _, err := NewCodec(Config{}, nil); err == nil {
		t.Fatal("expected nil keyring to fail")
	}
	c := newTestCodec(t, Config{}, hmacRing(t, "k1"))
	if c.Leeway() != DefaultLeeway {
		t.Fatalf("expected default leeway, got %s", c.Leeway())
	}
}
