package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"authguard/internal/engine"
	identity "authguard/internal/identity/domain"
)

const maxBodyBytes = 16 << 10

type loginRequest struct {
	Role              string `json:"role"`
	Identifier        string `json:"identifier"`
	Secret            string `json:"secret"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

type otpRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type sessionResponse struct {
	Status       string    `json:"status"`
	SessionToken string    `json:"session_token,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	ChallengeID  string    `json:"challenge_id,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type heartbeatResponse struct {
	Status           string    `json:"status"`
	SecondsRemaining int       `json:"seconds_remaining"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type whoamiResponse struct {
	IdentityID       string    `json:"identity_id"`
	Identifier       string    `json:"identifier"`
	Role             string    `json:"role"`
	SessionID        string    `json:"session_id"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"state": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready.Check(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "not ready", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready", "dependencies unavailable")
			return
		}
	}
	writeSuccess(w, http.StatusOK, map[string]string{"state": "ready"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "unknown role")
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "identifier and secret are required")
		return
	}

	res, err := h.engine.Login(r.Context(), engine.LoginRequest{
		Role:              role,
		Identifier:        req.Identifier,
		Secret:            []byte(req.Secret),
		Origin:            clientIPFromContext(r.Context()),
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		h.internalError(w, r, "login", err)
		return
	}

	switch res.Status {
	case engine.StatusSuccess:
		writeSuccess(w, http.StatusOK, sessionResponse{
			Status:       res.Status.String(),
			SessionToken: res.SessionToken,
			SessionID:    res.SessionID,
			ExpiresAt:    res.ExpiresAt,
		})
	case engine.StatusRequireOTP:
		writeSuccess(w, http.StatusOK, sessionResponse{
			Status:      res.Status.String(),
			ChallengeID: res.ChallengeID,
			ExpiresAt:   res.ExpiresAt,
		})
	default:
		writeStatus(w, res.Status)
	}
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.ChallengeID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "challenge_id and code are required")
		return
	}

	res, err := h.engine.VerifyOTP(r.Context(), req.ChallengeID, req.Code)
	if err != nil {
		h.internalError(w, r, "verify_otp", err)
		return
	}
	switch res.Status {
	case engine.StatusSuccess:
		writeSuccess(w, http.StatusOK, sessionResponse{
			Status:       res.Status.String(),
			SessionToken: res.SessionToken,
			SessionID:    res.SessionID,
			ExpiresAt:    res.ExpiresAt,
		})
	case engine.StatusMismatch:
		writeErrorData(w, http.StatusUnauthorized, "otp_mismatch", "incorrect code",
			map[string]int{"attempts_left": res.AttemptsLeft})
	default:
		writeStatus(w, res.Status)
	}
}

func (h *Handler) resendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.ChallengeID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "challenge_id is required")
		return
	}

	res, err := h.engine.ResendOTP(r.Context(), req.ChallengeID)
	if err != nil {
		h.internalError(w, r, "resend_otp", err)
		return
	}
	switch res.Status {
	case engine.StatusSuccess:
		writeSuccess(w, http.StatusOK, sessionResponse{
			Status:      res.Status.String(),
			ChallengeID: res.ChallengeID,
			ExpiresAt:   res.ExpiresAt,
		})
	default:
		writeStatus(w, res.Status)
	}
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Heartbeat(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		h.internalError(w, r, "heartbeat", err)
		return
	}
	switch res.Status {
	case engine.StatusActive, engine.StatusIdleWarning:
		writeSuccess(w, http.StatusOK, heartbeatResponse{
			Status:           res.Status.String(),
			SecondsRemaining: res.SecondsRemaining,
			ExpiresAt:        res.ExpiresAt,
		})
	default:
		writeStatus(w, res.Status)
	}
}

func (h *Handler) continueSession(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.ContinueSession(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		h.internalError(w, r, "continue_session", err)
		return
	}
	if status != engine.StatusSuccess {
		writeStatus(w, status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Activity(r.Context(), tokenFromContext(r.Context())); err != nil {
		h.sessionError(w, r, "activity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Logout(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		h.internalError(w, r, "logout", err)
		return
	}
	if status != engine.StatusSuccess {
		writeStatus(w, status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.WhoAmI(r.Context(), tokenFromContext(r.Context()))
	if err != nil {
		h.sessionError(w, r, "whoami", err)
		return
	}
	writeSuccess(w, http.StatusOK, whoamiResponse{
		IdentityID:       res.Identity.ID,
		Identifier:       res.Identity.Identifier,
		Role:             string(res.Role),
		SessionID:        res.SessionID,
		SessionExpiresAt: res.SessionExpiresAt,
	})
}

func (h *Handler) devOTPCode(w http.ResponseWriter, r *http.Request) {
	code, ok := h.devOTP.Get(r.Context(), chi.URLParam(r, "challengeID"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no code for challenge")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"code": code})
}

// sessionError maps errors from token-authenticated calls that return only an error.
func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, engine.ErrUnauthenticated):
		writeStatus(w, engine.StatusExpired)
	case engine.IsStorageTimeout(err):
		writeStatus(w, engine.StatusStorageTimeout)
	default:
		h.internalError(w, r, op, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "request failed",
		"operation", op,
		"request_id", requestIDFromContext(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// writeStatus renders a non-success engine status. Locked and InvalidCredentials share one response
// so that callers cannot probe which identifiers exist or are locked.
func writeStatus(w http.ResponseWriter, s engine.Status) {
	switch s {
	case engine.StatusInvalidCredentials, engine.StatusLocked:
		writeError(w, http.StatusUnauthorized, "authentication_failed", "authentication failed")
	case engine.StatusUnknownOrigin:
		writeError(w, http.StatusForbidden, "unknown_origin", "login from this network is not allowed")
	case engine.StatusTooManySessions:
		writeError(w, http.StatusConflict, "too_many_sessions", "session limit reached")
	case engine.StatusStorageTimeout:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "storage_timeout", "try again shortly")
	case engine.StatusRateLimited:
		writeError(w, http.StatusTooManyRequests, "rate_limited", "code was sent recently")
	case engine.StatusExhausted:
		writeError(w, http.StatusUnauthorized, "otp_exhausted", "too many incorrect codes, log in again")
	case engine.StatusMismatch:
		writeError(w, http.StatusUnauthorized, "otp_mismatch", "incorrect code")
	case engine.StatusExpired:
		writeError(w, http.StatusUnauthorized, "expired", "expired, log in again")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}
