package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/filehub/authd/internal/apperr"
	"github.com/filehub/authd/internal/audit"
	"github.com/filehub/authd/internal/termination"
	"github.com/filehub/authd/internal/token"
)

// Config holds the HTTP listener knobs, mirroring
// app_teacher_ref/server/server.go's Config shape.
type Config struct {
	Address          string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	RequestsPerSec   float64
	MaxConcurrent    int64
	LoginConcurrency int64
	BodySizeLimit    int64
	Version          string
}

func DefaultConfig() Config {
	return Config{
		Address:          ":8080",
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSec:    100,
		MaxConcurrent:     1000,
		LoginConcurrency:  5,
		BodySizeLimit:     1024 * 1024,
		Version:           "dev",
	}
}

// Server wires spec §6's HTTP surface together: auth handlers, admin
// handlers, and the termination channel's SSE endpoint.
type Server struct {
	cfg      Config
	auth     *AuthHandler
	admin    *AdminHandler
	auditQry *audit.Handler
	auditLog *audit.Logger
	channel  *termination.Channel
	issuer   *token.Issuer
}

func New(cfg Config, auth *AuthHandler, admin *AdminHandler, auditQry *audit.Handler, auditLog *audit.Logger, channel *termination.Channel, issuer *token.Issuer) *Server {
	return &Server{cfg: cfg, auth: auth, admin: admin, auditQry: auditQry, auditLog: auditLog, channel: channel, issuer: issuer}
}

// Run starts the HTTP server and blocks until context is canceled,
// mirroring app_teacher_ref/server/server.go's Run: shut the SSE broker
// down first (half the shutdown budget) so long-lived connections close
// before the HTTP server itself stops accepting.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.routes(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down authd server")

		if s.channel != nil {
			chCtx, chCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout/2)
			if err := s.channel.Shutdown(chCtx); err != nil {
				log.Printf("[WARN] termination channel shutdown error: %v", err)
			}
			chCancel()
		}

		httpCtx, httpCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout/2)
		defer httpCancel()
		if err := httpServer.Shutdown(httpCtx); err != nil {
			log.Printf("[WARN] shutdown error: %v", err)
		}
	}()

	log.Printf("[INFO] authd listening on %s", s.cfg.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.Recoverer(log.Default()),
		rest.RealIP,
		s.rateLimiter(),
		rest.Throttle(s.maxConcurrent()),
		rest.Trace,
		rest.SizeLimit(s.bodySizeLimit()),
		rest.AppInfo("authd", "filehub", s.cfg.Version),
		rest.Ping,
	)

	bearerAuth := BearerAuth(s.issuer)

	router.Handle("POST /auth/login", s.loginConcurrency()(http.HandlerFunc(s.auth.HandleLogin)))
	router.HandleFunc("POST /auth/refresh", s.auth.HandleRefresh)

	router.Group().Route(func(g *routegroup.Bundle) {
		g.Use(bearerAuth)
		g.HandleFunc("POST /auth/logout", s.auth.HandleLogout)
		g.HandleFunc("GET /auth/me", s.auth.HandleMe)
		if s.channel != nil {
			g.HandleFunc("GET /auth/sessions/{session_id}/events", func(w http.ResponseWriter, r *http.Request) {
				if claimsFromContext(r.Context()).SessionID != r.PathValue("session_id") {
					writeErr(w, r, apperr.New(apperr.Forbidden, "FORBIDDEN", "token does not belong to this session"))
					return
				}
				s.channel.ServeHTTP(w, r)
			})
		}
	})

	router.Group().Route(func(g *routegroup.Bundle) {
		g.Use(bearerAuth, AdminOnly(s.auditLog))
		g.HandleFunc("GET /admin/sessions", s.admin.HandleList)
		g.HandleFunc("GET /admin/sessions/{id}", s.admin.HandleGet)
		g.HandleFunc("POST /admin/sessions/{id}/terminate", s.admin.HandleTerminate)
		g.HandleFunc("POST /admin/sessions/terminate-all", s.admin.HandleTerminateAll)
		if s.auditQry != nil {
			g.HandleFunc("POST /admin/audit/query", s.auditQry.HandleQuery)
		}
	})

	return router
}

func (s *Server) bodySizeLimit() int64 {
	if s.cfg.BodySizeLimit > 0 {
		return s.cfg.BodySizeLimit
	}
	return 1024 * 1024
}

func (s *Server) maxConcurrent() int64 {
	if s.cfg.MaxConcurrent > 0 {
		return s.cfg.MaxConcurrent
	}
	return 1000
}

func (s *Server) loginConcurrency() func(http.Handler) http.Handler {
	n := s.cfg.LoginConcurrency
	if n <= 0 {
		n = 5
	}
	return rest.Throttle(n)
}

func (s *Server) requestsPerSec() float64 {
	if s.cfg.RequestsPerSec > 0 {
		return s.cfg.RequestsPerSec
	}
	return 100
}

// rateLimiter returns tollbooth-backed per-IP rate limiting middleware,
// kept near-verbatim from app_teacher_ref/server/server.go's rateLimiter.
func (s *Server) rateLimiter() func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(s.requestsPerSec(), &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr", IndexFromRight: 0})
	lmt.SetBurst(int(s.requestsPerSec()))
	return func(next http.Handler) http.Handler {
		return tollbooth.LimitHandler(lmt, next)
	}
}
