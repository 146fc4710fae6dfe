// Package httpapi exposes spec §6's HTTP surface over internal/sessionmgr
// and internal/permission, wired the way app_teacher_ref/server/server.go
// wires its own routes: go-pkgz/routegroup for grouping, go-pkgz/rest for
// the common middleware stack and JSON responses, didip/tollbooth for rate
// limiting.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/realip"

	"github.com/filehub/authd/internal/apperr"
	"github.com/filehub/authd/internal/audit"
	"github.com/filehub/authd/internal/enum"
	"github.com/filehub/authd/internal/token"
)

type ctxKey int

const claimsCtxKey ctxKey = iota

// ExtractBearer reads the Authorization: Bearer <token> header, mirroring
// app_teacher_ref/server/auth/middleware.go's ExtractToken (Bearer-only here
// — spec §6 names no alternate header for this surface).
func ExtractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// BearerAuth returns middleware that validates the access token and stashes
// its claims in the request context for downstream handlers, per spec §6's
// "Authorization header format: Bearer <token>" and the 401-on-revoked/
// expired rule.
func BearerAuth(issuer *token.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ExtractBearer(r)
			if tok == "" {
				writeErr(w, r, apperr.New(apperr.Unauthorized, "UNAUTHORIZED", "missing bearer token"))
				return
			}
			claims, err := issuer.ValidateAccess(r.Context(), tok)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// claimsFromContext recovers the authenticated caller's claims, set by
// BearerAuth. Panics are impossible here: every route that calls this is
// always mounted behind BearerAuth.
func claimsFromContext(ctx context.Context) token.Claims {
	claims, _ := ctx.Value(claimsCtxKey).(token.Claims)
	return claims
}

// AdminOnly returns middleware that 403s any caller whose token role isn't
// admin, per spec §6's "403 non-admin" note on the /admin/* routes, auditing
// the denial via aud (nil-safe, so tests can omit it).
func AdminOnly(aud *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims.Role != "admin" {
				if aud != nil {
					ip, _ := realip.Get(r)
					aud.Log(r.Context(), audit.Event{
						Action: enum.AuditActionPermissionDenied, Actor: claims.Subject, ActorType: enum.ActorUser,
						Result: enum.AuditResultDenied, IP: ip, UserAgent: r.UserAgent(),
						Detail: r.Method + " " + r.URL.Path, RequestID: r.Header.Get("X-Request-ID"),
					})
				}
				writeErr(w, r, apperr.New(apperr.Forbidden, "FORBIDDEN", "admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorBody is spec §7's error response shape: `{error: "CODE", message:
// "human text", details?: object}`.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeErr renders an apperr.Error (or a generic error) as spec §7's error
// body, writing with go-pkgz/rest.RenderJSON the way
// app_teacher_ref/server/audit.go renders its own response bodies.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		log.Printf("[WARN] %s %s: unhandled error: %v", r.Method, r.URL.Path, err)
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, ErrorBody{Error: "INTERNAL", Message: "internal error"})
		return
	}
	if appErr.Kind == apperr.Internal {
		log.Printf("[WARN] %s %s: %v", r.Method, r.URL.Path, appErr)
	}
	w.WriteHeader(appErr.Kind.HTTPStatus())
	rest.RenderJSON(w, ErrorBody{Error: appErr.Code, Message: appErr.Message})
}
