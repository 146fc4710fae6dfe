package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/realip"

	"github.com/filehub/authd/internal/apperr"
	"github.com/filehub/authd/internal/audit"
	"github.com/filehub/authd/internal/enum"
	"github.com/filehub/authd/internal/sessionmgr"
	"github.com/filehub/authd/internal/store"
)

// AuthHandler serves spec §6's /auth/* surface.
type AuthHandler struct {
	manager *sessionmgr.Manager
	store   *store.Store
	audit   *audit.Logger
}

func NewAuthHandler(mgr *sessionmgr.Manager, s *store.Store, aud *audit.Logger) *AuthHandler {
	return &AuthHandler{manager: mgr, store: s, audit: aud}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	RefreshToken     string      `json:"refresh_token"`
	AccessExpiresAt  time.Time   `json:"access_expires_at"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
	User             userProfile `json:"user"`
}

// HandleLogin serves POST /auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, apperr.New(apperr.Validation, "MALFORMED", "invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeErr(w, r, apperr.New(apperr.Validation, "MALFORMED", "username and password are required"))
		return
	}

	ip, _ := realip.Get(r)
	result, err := h.manager.Login(r.Context(), req.Username, req.Password, ip, r.UserAgent())
	if err != nil {
		h.auditLoginFailure(r, req.Username, ip, err)
		writeErr(w, r, err)
		return
	}

	if h.audit != nil {
		h.audit.Log(r.Context(), audit.Event{
			Action: enum.AuditActionLogin, Actor: result.User.ID, ActorType: enum.ActorUser,
			Result: enum.AuditResultSuccess, SessionID: result.SessionID, IP: ip,
			UserAgent: r.UserAgent(), RequestID: r.Header.Get("X-Request-ID"),
		})
	}

	role, _ := result.User.RoleEnum()
	rest.RenderJSON(w, tokenResponse{
		AccessToken:      result.Tokens.AccessToken,
		RefreshToken:     result.Tokens.RefreshToken,
		AccessExpiresAt:  result.Tokens.ExpiresAt,
		RefreshExpiresAt: result.Tokens.RefreshExpiresAt,
		User: userProfile{
			ID:       result.User.ID,
			Username: result.User.Username,
			Role:     role.String(),
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh serves POST /auth/refresh.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, r, apperr.New(apperr.Validation, "MALFORMED", "invalid request body"))
		return
	}
	if req.RefreshToken == "" {
		writeErr(w, r, apperr.New(apperr.Validation, "MALFORMED", "refresh_token is required"))
		return
	}

	result, err := h.manager.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	if h.audit != nil {
		ip, _ := realip.Get(r)
		h.audit.Log(r.Context(), audit.Event{
			Action: enum.AuditActionRefresh, Actor: result.UserID, ActorType: enum.ActorUser,
			Result: enum.AuditResultSuccess, SessionID: result.SessionID, IP: ip,
			UserAgent: r.UserAgent(), RequestID: r.Header.Get("X-Request-ID"),
		})
	}

	rest.RenderJSON(w, map[string]interface{}{
		"access_token":       result.Tokens.AccessToken,
		"refresh_token":      result.Tokens.RefreshToken,
		"access_expires_at":  result.Tokens.ExpiresAt,
		"refresh_expires_at": result.Tokens.RefreshExpiresAt,
	})
}

// HandleLogout serves POST /auth/logout. Spec §6: "200 always if bearer was
// ever valid" — BearerAuth already rejected an invalid/expired/revoked
// token before this handler runs, so reaching here always means success.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := h.manager.Logout(r.Context(), claims.SessionID, claims.Subject, "logout"); err != nil {
		writeErr(w, r, err)
		return
	}
	if h.audit != nil {
		ip, _ := realip.Get(r)
		h.audit.Log(r.Context(), audit.Event{
			Action: enum.AuditActionLogout, Actor: claims.Subject, ActorType: enum.ActorUser,
			Result: enum.AuditResultSuccess, SessionID: claims.SessionID, IP: ip,
			UserAgent: r.UserAgent(), RequestID: r.Header.Get("X-Request-ID"),
		})
	}
	rest.RenderJSON(w, map[string]string{"message": "logged out"})
}

// auditLoginFailure logs a failed login attempt, distinguishing an
// account-lockout (enum.AuditActionLockout) from an ordinary bad-credential
// rejection (enum.AuditActionLoginFailed) by inspecting the apperr code,
// per spec §8's lockout scenario.
func (h *AuthHandler) auditLoginFailure(r *http.Request, username, ip string, err error) {
	if h.audit == nil {
		return
	}
	action := enum.AuditActionLoginFailed
	if appErr, ok := apperr.As(err); ok && appErr.Code == "ACCOUNT_LOCKED" {
		action = enum.AuditActionLockout
	}
	h.audit.Log(r.Context(), audit.Event{
		Action: action, Actor: username, ActorType: enum.ActorUser,
		Result: enum.AuditResultDenied, IP: ip,
		UserAgent: r.UserAgent(), RequestID: r.Header.Get("X-Request-ID"),
	})
}

// HandleMe serves GET /auth/me, reading the profile fresh from the store
// rather than trusting stale claim data beyond the user id.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	u, err := h.store.GetUserByID(r.Context(), claims.Subject)
	if err != nil {
		writeErr(w, r, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to load user profile", err))
		return
	}
	role, _ := u.RoleEnum()
	rest.RenderJSON(w, userProfile{ID: u.ID, Username: u.Username, Role: role.String()})
}
