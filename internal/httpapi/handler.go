package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MrEthical07/credcore"
	"github.com/MrEthical07/credcore/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 8 << 10

// Engine is the subset of *credcore.Engine the handlers call.
type Engine interface {
	middleware.Authenticator
	Register(ctx context.Context, identifier, password string) (credcore.UserRecord, error)
	Login(ctx context.Context, identifier, password string) (*credcore.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*credcore.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, refreshToken string) (int, error)
	ChangePassword(ctx context.Context, subject, oldPassword, newPassword string) error
	SetAccountStatus(ctx context.Context, userID string, status credcore.AccountStatus) error
	RequestPasswordReset(ctx context.Context, identifier string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	RequestEmailVerification(ctx context.Context, subject string) (string, error)
	VerifyEmail(ctx context.Context, token string) error
}

// Delivery sends issued one-time tokens to their owner out of band.
type Delivery interface {
	SendPasswordReset(ctx context.Context, identifier, token string) error
	SendEmailVerification(ctx context.Context, subject, token string) error
}

type Handler struct {
	engine   Engine
	delivery Delivery
	logger   *zap.Logger
}

func New(engine Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, delivery: discardDelivery{}, logger: logger}
}

// WithDelivery sets where reset and verification tokens are sent. Without
// one, issued tokens are dropped.
func (h *Handler) WithDelivery(d Delivery) *Handler {
	if d != nil {
		h.delivery = d
	}
	return h
}

type discardDelivery struct{}

func (discardDelivery) SendPasswordReset(context.Context, string, string) error     { return nil }
func (discardDelivery) SendEmailVerification(context.Context, string, string) error { return nil }

// forgotPasswordMessage is returned whether or not the identifier exists.
const forgotPasswordMessage = "if the account exists, password reset instructions have been sent"

// Routes returns a router to mount under the auth prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(ClientIP)

	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
	r.Post("/logout-all", h.LogoutAll)
	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)
	r.Get("/verify-email/{token}", h.VerifyEmail)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(h.engine))
		r.Post("/change-password", h.ChangePassword)
		r.Put("/deactivate-account", h.DeactivateAccount)
		r.Post("/request-email-verification", h.RequestEmailVerification)
		r.Get("/me", h.Me)
	})
	return r
}

// ClientIP stores the remote host on the request context for audit events.
// Deployments behind a proxy should rewrite RemoteAddr first.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		next.ServeHTTP(w, r.WithContext(credcore.WithClientIP(r.Context(), host)))
	})
}

type credentialsRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type forgotPasswordRequest struct {
	Identifier string `json:"identifier"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type userResponse struct {
	UserID     string    `json:"user_id"`
	Identifier string    `json:"identifier"`
	CreatedAt  time.Time `json:"created_at"`
}

type identityResponse struct {
	Subject   string    `json:"subject"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil || req.Identifier == "" || req.Password == "" {
		h.fail(w, r, errBadRequest)
		return
	}
	user, err := h.engine.Register(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{
		UserID:     user.UserID,
		Identifier: user.Identifier,
		CreatedAt:  user.CreatedAt,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(w, r, &req); err != nil || req.Identifier == "" || req.Password == "" {
		h.fail(w, r, errBadRequest)
		return
	}
	pair, err := h.engine.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	pair, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	if err := h.engine.Logout(r.Context(), token); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}
	n, err := h.engine.LogoutAll(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := credcore.IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, r, credcore.ErrTokenMissing)
		return
	}
	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil || req.OldPassword == "" || req.NewPassword == "" {
		h.fail(w, r, errBadRequest)
		return
	}
	if err := h.engine.ChangePassword(r.Context(), id.Subject, req.OldPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(w, r, &req); err != nil || req.Identifier == "" {
		h.fail(w, r, errBadRequest)
		return
	}
	token, err := h.engine.RequestPasswordReset(r.Context(), req.Identifier)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if token != "" {
		if err := h.delivery.SendPasswordReset(r.Context(), req.Identifier, token); err != nil {
			// The response must not reveal that the identifier exists.
			h.logger.Error("password reset delivery failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: forgotPasswordMessage})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(w, r, &req); err != nil || req.Token == "" || req.NewPassword == "" {
		h.fail(w, r, errBadRequest)
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := credcore.IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, r, credcore.ErrTokenMissing)
		return
	}
	token, err := h.engine.RequestEmailVerification(r.Context(), id.Subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.delivery.SendEmailVerification(r.Context(), id.Subject, token); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "verification instructions have been sent"})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.VerifyEmail(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "email verified"})
}

// DeactivateAccount disables the caller's own account. Every session is
// revoked; access tokens already issued stay valid until they expire.
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := credcore.IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, r, credcore.ErrTokenMissing)
		return
	}
	if err := h.engine.SetAccountStatus(r.Context(), id.Subject, credcore.AccountDisabled); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := credcore.IdentityFromContext(r.Context())
	if !ok {
		h.fail(w, r, credcore.ErrTokenMissing)
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{
		Subject:   id.Subject,
		SessionID: id.SessionID,
		IssuedAt:  id.IssuedAt,
		ExpiresAt: id.ExpiresAt,
	})
}

func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil || req.RefreshToken == "" {
		h.fail(w, r, errBadRequest)
		return "", false
	}
	return req.RefreshToken, true
}

// fail writes the error envelope. Server-side failures are logged and their
// message is replaced with the status text.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("auth request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return errors.New("trailing data after request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
