package credcore

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/credcore/challenge"
	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/password"
	"github.com/MrEthical07/credcore/session"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

type fakeUserProvider struct {
	mu           sync.Mutex
	byID         map[string]UserRecord
	byIdentifier map[string]string
	lookups      atomic.Int64
}

func newFakeUserProvider() *fakeUserProvider {
	return &fakeUserProvider{
		byID:         make(map[string]UserRecord),
		byIdentifier: make(map[string]string),
	}
}

func (p *fakeUserProvider) GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error) {
	p.lookups.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return p.byID[id], nil
}

func (p *fakeUserProvider) GetUserByID(ctx context.Context, userID string) (UserRecord, error) {
	p.lookups.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (p *fakeUserProvider) CreateUser(ctx context.Context, in CreateUserInput) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.byIdentifier[in.Identifier]; taken {
		return UserRecord{}, ErrAccountExists
	}
	u := UserRecord{
		UserID:       in.UserID,
		Identifier:   in.Identifier,
		PasswordHash: in.PasswordHash,
		Status:       in.Status,
		CreatedAt:    in.CreatedAt,
		UpdatedAt:    in.CreatedAt,
	}
	p.byID[u.UserID] = u
	p.byIdentifier[u.Identifier] = u.UserID
	return u, nil
}

func (p *fakeUserProvider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = newHash
	p.byID[userID] = u
	return nil
}

func (p *fakeUserProvider) UpdateAccountStatus(ctx context.Context, userID string, status AccountStatus) (UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	u.Status = status
	p.byID[userID] = u
	return u, nil
}

func (p *fakeUserProvider) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLoginAt = at
	p.byID[userID] = u
	return nil
}

func (p *fakeUserProvider) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.VerifiedAt = at
	p.byID[userID] = u
	return nil
}

func (p *fakeUserProvider) user(t *testing.T, userID string) UserRecord {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		t.Fatalf("user %q not found", userID)
	}
	return u
}

// setStatus bypasses the Engine so no sessions are revoked.
func (p *fakeUserProvider) setStatus(userID string, status AccountStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.byID[userID]
	u.Status = status
	p.byID[userID] = u
}

// countingHasher records every digest passed to Verify.
type countingHasher struct {
	password.Hasher
	mu       sync.Mutex
	verified []string
}

func (h *countingHasher) Verify(plaintext, digest string) bool {
	h.mu.Lock()
	h.verified = append(h.verified, digest)
	h.mu.Unlock()
	return h.Hasher.Verify(plaintext, digest)
}

func (h *countingHasher) reset() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.verified
	h.verified = nil
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEngine struct {
	*Engine
	users      *fakeUserProvider
	store      *session.MemoryStore
	challenges *challenge.MemoryStore
	clock      *testClock
}

type testOption func(*testSetup)

type testSetup struct {
	cfg    Config
	redis  redis.UniversalClient
	hasher password.Hasher
	sink   AuditSink
}

func withConfig(mutate func(*Config)) testOption {
	return func(s *testSetup) { mutate(&s.cfg) }
}

func withRedis(client redis.UniversalClient) testOption {
	return func(s *testSetup) { s.redis = client }
}

func withHasher(h password.Hasher) testOption {
	return func(s *testSetup) { s.hasher = h }
}

func withRecovery() testOption {
	return func(s *testSetup) {
		s.cfg.PasswordReset.Enabled = true
		s.cfg.EmailVerification.Enabled = true
	}
}

func withSink(sink AuditSink) testOption {
	return func(s *testSetup) { s.sink = sink }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.Metrics.Enabled = true
	return cfg
}

func testKeyring(t *testing.T) *jwt.Keyring {
	t.Helper()
	key, err := jwt.NewHMACKey("k1", []byte(strings.Repeat("s", jwt.MinHMACSecretBytes)))
	if err != nil {
		t.Fatalf("hmac key: %v", err)
	}
	ring, err := jwt.NewKeyring("k1", key)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return ring
}

func newTestEngine(t *testing.T, opts ...testOption) *testEngine {
	t.Helper()

	setup := &testSetup{cfg: testConfig()}
	for _, opt := range opts {
		opt(setup)
	}

	clock := newTestClock()
	users := newFakeUserProvider()
	store := session.NewMemoryStore(
		session.WithClock(clock.Now),
		session.WithRetention(setup.cfg.Session.RetentionGrace),
	)

	challenges := challenge.NewMemoryStore(challenge.WithClock(clock.Now))

	b := New().
		WithConfig(setup.cfg).
		WithKeyring(testKeyring(t)).
		WithUserProvider(users).
		WithSessionStore(store).
		WithChallengeStore(challenges).
		WithClock(clock.Now)
	if setup.redis != nil {
		b.WithRedis(setup.redis)
	}
	if setup.hasher != nil {
		b.WithHasher(setup.hasher)
	}
	if setup.sink != nil {
		b.WithAuditSink(setup.sink)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, users: users, store: store, challenges: challenges, clock: clock}
}

func (te *testEngine) register(t *testing.T, identifier string) UserRecord {
	t.Helper()
	u, err := te.Register(context.Background(), identifier, testPassword)
	if err != nil {
		t.Fatalf("register %q: %v", identifier, err)
	}
	return u
}

func (te *testEngine) login(t *testing.T, identifier string) *TokenPair {
	t.Helper()
	pair, err := te.Login(context.Background(), identifier, testPassword)
	if err != nil {
		t.Fatalf("login %q: %v", identifier, err)
	}
	return pair
}
