package credcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/credcore/challenge"
	internalaudit "github.com/MrEthical07/credcore/internal/audit"
	"github.com/MrEthical07/credcore/internal/flows"
	"github.com/MrEthical07/credcore/internal/hashpool"
	"github.com/MrEthical07/credcore/internal/rate"
	"github.com/MrEthical07/credcore/jwt"
	"github.com/MrEthical07/credcore/password"
	"github.com/MrEthical07/credcore/session"
	"go.uber.org/zap"
)

// Engine is the credential and session core. Build one with New().Build();
// it is safe for concurrent use and holds no per-request state.
type Engine struct {
	config          Config
	codec           *jwt.Codec
	sessionStore    session.Store
	userProvider    UserProvider
	loginLimiter    LoginLimiter
	refreshLimiter  RefreshLimiter
	challenges      challenge.Store
	recoveryLimiter RecoveryLimiter
	hasher          password.Hasher
	dummyDigest     string
	pool            *hashpool.Pool
	audit           *internalaudit.Dispatcher
	metrics         *Metrics
	logger          *zap.Logger
	now             func() time.Time
	flows           flows.Service
}

// Close flushes pending audit events. The Engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

// Login authenticates identifier and password and opens a new session.
//
// An unknown identifier and a wrong password both return
// ErrInvalidCredentials after the same amount of hashing work. A disabled
// account returns ErrAccountDisabled only after the password verified, and
// only when Security.HideAccountStatus is off.
func (e *Engine) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}
	tokens, err := e.flows.Login(ctx, normalizeIdentifier(identifier), password)
	if err != nil {
		return nil, err
	}
	return tokenPair(tokens), nil
}

// Refresh exchanges a refresh token for a new pair in the same session
// lineage. The presented token is revoked atomically; presenting it again
// is treated as replay and revokes every session of the subject.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}

	result := e.flows.Refresh(ctx, refreshToken)
	sub, sid := result.Subject, result.SessionID

	switch result.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, sub, sid, nil, nil)
		return tokenPair(result.Tokens), nil

	case flows.RefreshFailureToken:
		err := mapTokenError(result.Err)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, reasonMeta("token_invalid"))
		return nil, err

	case flows.RefreshFailureRateLimited:
		if !errors.Is(result.Err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshFailure)
			return nil, storageError(result.Err)
		}
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, sub, sid, ErrRefreshRateLimited, nil)
		return nil, ErrRefreshRateLimited

	case flows.RefreshFailureNotFound, flows.RefreshFailureExpired, flows.RefreshFailureMismatch:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sub, sid, ErrRefreshInvalid, reasonMeta(refreshFailureReason(result.Failure)))
		return nil, ErrRefreshInvalid

	case flows.RefreshFailureReplay:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricReplayDetected)
		e.metricAdd(MetricSessionInvalidated, result.Revoked)
		e.logger.Warn("refresh token replay detected",
			zap.String("subject", sub),
			zap.String("sid", sid),
			zap.Int("revoked", result.Revoked),
		)
		if err := unwrapJoined(result.Err, session.ErrRevoked); err != nil {
			e.logger.Error("chain revocation after replay failed", zap.String("subject", sub), zap.Error(err))
		}
		e.emitAudit(ctx, auditEventRefreshReplayDetected, false, sub, sid, ErrRefreshReplayDetected, countMeta("revoked", result.Revoked))
		return nil, ErrRefreshReplayDetected

	case flows.RefreshFailureGraceConflict, flows.RefreshFailureConflict:
		e.metricInc(MetricRefreshConflict)
		e.emitAudit(ctx, auditEventRefreshConflict, false, sub, sid, ErrRefreshConflict, nil)
		return nil, ErrRefreshConflict

	case flows.RefreshFailureAccountStatus:
		e.metricInc(MetricRefreshFailure)
		e.metricAdd(MetricSessionInvalidated, result.Revoked)
		err := ErrRefreshInvalid
		switch {
		case errors.Is(result.Err, ErrAccountDisabled):
			err = ErrAccountDisabled
		case errors.Is(result.Err, ErrInvalidCredentials):
			err = ErrInvalidCredentials
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sub, sid, err, reasonMeta("account_status"))
		return nil, err

	default:
		e.metricInc(MetricRefreshFailure)
		err := storageError(result.Err)
		if result.Failure == flows.RefreshFailureIssue {
			err = result.Err
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sub, sid, err, reasonMeta(refreshFailureReason(result.Failure)))
		return nil, err
	}
}

// Logout revokes the session behind refreshToken. It is idempotent: an
// already revoked, purged, or expired token is not an error.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || !e.flows.Initialized() {
		return ErrEngineNotReady
	}
	res := e.flows.Logout(ctx, refreshToken)
	if res.Err != nil {
		err := mapLogoutError(res.Err)
		e.emitAudit(ctx, auditEventLogoutSession, false, res.Subject, res.SessionID, err, nil)
		return err
	}
	if res.Revoked > 0 {
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, auditEventLogoutSession, true, res.Subject, res.SessionID, nil, nil)
	}
	return nil
}

// LogoutAll revokes every session of the subject that owns refreshToken and
// returns how many were active.
func (e *Engine) LogoutAll(ctx context.Context, refreshToken string) (int, error) {
	if e == nil || !e.flows.Initialized() {
		return 0, ErrEngineNotReady
	}
	res := e.flows.LogoutAll(ctx, refreshToken)
	if res.Err != nil {
		err := mapLogoutError(res.Err)
		e.emitAudit(ctx, auditEventLogoutAll, false, res.Subject, res.SessionID, err, nil)
		return res.Revoked, err
	}
	e.metricInc(MetricLogoutAll)
	e.metricAdd(MetricSessionInvalidated, res.Revoked)
	e.emitAudit(ctx, auditEventLogoutAll, true, res.Subject, res.SessionID, nil, countMeta("revoked", res.Revoked))
	return res.Revoked, nil
}

// RevokeAllSessions revokes every session of subject. It is the
// administrative counterpart of LogoutAll.
func (e *Engine) RevokeAllSessions(ctx context.Context, subject string) (int, error) {
	if e == nil || !e.flows.Initialized() {
		return 0, ErrEngineNotReady
	}
	n, err := e.flows.RevokeAllForSubject(ctx, subject)
	if err != nil {
		if subject == "" {
			return 0, ErrInvalidIdentifier
		}
		err = storageError(err)
		e.emitAudit(ctx, auditEventLogoutAll, false, subject, "", err, reasonMeta("admin"))
		return n, err
	}
	e.metricInc(MetricLogoutAll)
	e.metricAdd(MetricSessionInvalidated, n)
	e.emitAudit(ctx, auditEventLogoutAll, true, subject, "", nil, func() map[string]string {
		return map[string]string{"reason": "admin", "revoked": strconv.Itoa(n)}
	})
	return n, nil
}

// Authenticate resolves an Authorization header value to an Identity. It
// performs no I/O.
func (e *Engine) Authenticate(header string) (*Identity, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	claims, err := e.flows.Authenticate(header)
	e.observeValidate(start, err)
	if err != nil {
		if errors.Is(err, ErrTokenMissing) {
			return nil, err
		}
		return nil, mapTokenError(err)
	}
	return identityFromClaims(claims), nil
}

// ValidateAccess validates a raw access token.
func (e *Engine) ValidateAccess(token string) (*Identity, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	claims, err := e.codec.Validate(token, jwt.TypeAccess)
	e.observeValidate(start, err)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return identityFromClaims(claims), nil
}

func (e *Engine) observeValidate(start time.Time, err error) {
	if e.metrics == nil || !e.metrics.Enabled() {
		return
	}
	if err != nil {
		e.metricInc(MetricValidateFailure)
	} else {
		e.metricInc(MetricValidateSuccess)
	}
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	}
}

// PurgeExpiredSessions deletes refresh records whose expiry is older than
// Session.RetentionGrace. Backends with native expiry (Mongo TTL index,
// Redis key TTL) also clean up on their own; this covers the rest.
func (e *Engine) PurgeExpiredSessions(ctx context.Context) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	before := e.now().Add(-e.config.Session.RetentionGrace)
	n, err := e.sessionStore.PurgeExpired(ctx, before)
	e.metricAdd(MetricSessionsPurged, n)
	if err != nil {
		return n, storageError(err)
	}
	if n > 0 {
		e.logger.Debug("purged expired refresh records", zap.Int("count", n))
	}
	return n, nil
}

// RotateKeys swaps the signing keyring. Tokens signed with keys absent from
// ring stop validating immediately; keep the previous key as verify-only
// for at least the refresh TTL to avoid logging everyone out.
func (e *Engine) RotateKeys(ctx context.Context, ring *jwt.Keyring) error {
	if e == nil || e.codec == nil {
		return ErrEngineNotReady
	}
	if err := e.codec.RotateKeys(ring); err != nil {
		return err
	}
	e.metricInc(MetricKeyRotation)
	e.logger.Info("signing keys rotated", zap.String("active_kid", ring.ActiveKeyID()))
	e.emitAudit(ctx, auditEventKeyRotation, true, "", "", nil, func() map[string]string {
		return map[string]string{"active_kid": ring.ActiveKeyID()}
	})
	return nil
}

func tokenPair(t *flows.IssuedTokens) *TokenPair {
	if t == nil {
		return nil
	}
	return &TokenPair{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		TokenType:        "bearer",
		SessionID:        t.SessionID,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

func identityFromClaims(c *jwt.Claims) *Identity {
	id := &Identity{
		Subject:   c.Subject,
		SessionID: c.SessionID,
		TokenID:   c.ID,
		IssuedAt:  c.IssuedAtTime(),
		ExpiresAt: c.ExpiresAtTime(),
	}
	if len(c.Extra) > 0 {
		id.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			id.Extra[k] = v
		}
	}
	return id
}

// mapTokenError translates codec errors to the public taxonomy.
func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrWrongType):
		return ErrTokenWrongType
	default:
		return ErrTokenMalformed
	}
}

func mapLogoutError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired),
		errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrWrongType),
		errors.Is(err, jwt.ErrMalformed):
		return mapTokenError(err)
	default:
		return storageError(err)
	}
}

func refreshFailureReason(kind flows.RefreshFailureKind) string {
	switch kind {
	case flows.RefreshFailureNotFound:
		return "record_not_found"
	case flows.RefreshFailureExpired:
		return "record_expired"
	case flows.RefreshFailureMismatch:
		return "claims_mismatch"
	case flows.RefreshFailureIssue:
		return "issue_failed"
	case flows.RefreshFailureStore:
		return "store_failed"
	default:
		return "unknown"
	}
}

// unwrapJoined returns the errors joined with sentinel, minus sentinel.
func unwrapJoined(err, sentinel error) error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil
	}
	var rest []error
	for _, e := range joined.Unwrap() {
		if e != nil && !errors.Is(e, sentinel) {
			rest = append(rest, e)
		}
	}
	return errors.Join(rest...)
}

func reasonMeta(reason string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": reason}
	}
}

func countMeta(key string, n int) func() map[string]string {
	return func() map[string]string {
		return map[string]string{key: strconv.Itoa(n)}
	}
}
