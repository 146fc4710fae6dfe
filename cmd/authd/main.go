// Command authd runs the auth/session/seat-allocation daemon: spec §6's
// HTTP surface over the C1-C9 core, wired the way umputun/go-pkgz services
// wire their own entrypoints — jessevdk/go-flags for CLI+env options,
// go-pkgz/lgr for logging, signal.NotifyContext for graceful shutdown.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/go-pkgz/lgr"
	"github.com/redis/go-redis/v9"

	"github.com/filehub/authd/internal/audit"
	"github.com/filehub/authd/internal/config"
	"github.com/filehub/authd/internal/credential"
	"github.com/filehub/authd/internal/enum"
	"github.com/filehub/authd/internal/httpapi"
	"github.com/filehub/authd/internal/permission"
	"github.com/filehub/authd/internal/reconcile"
	"github.com/filehub/authd/internal/seat"
	"github.com/filehub/authd/internal/sessionlimit"
	"github.com/filehub/authd/internal/sessionmgr"
	"github.com/filehub/authd/internal/store"
	"github.com/filehub/authd/internal/termination"
	"github.com/filehub/authd/internal/token"
)

var opts struct {
	DBURL   string `long:"db-url" env:"AUTHD_DB_URL" default:"sqlite://authd.db" description:"storage DSN, sqlite://path or postgres://..."`
	Listen  string `long:"listen" env:"AUTHD_LISTEN" default:":8080" description:"HTTP listen address"`
	Version string `long:"version" env:"AUTHD_VERSION" default:"dev" description:"version string reported by /ping and AppInfo"`

	AuthConfig    string `long:"auth-config" env:"AUTHD_AUTH_CONFIG" default:"config/auth.yaml" description:"path to auth.yaml"`
	SessionPolicy string `long:"session-policy" env:"AUTHD_SESSION_POLICY" default:"config/session_policy.toml" description:"path to session_policy.toml"`
	RBACPolicy    string `long:"rbac-policy" env:"AUTHD_RBAC_POLICY" default:"config/rbac_policy.hcl" description:"path to rbac_policy.hcl"`
	SeatPool      string `long:"seat-pool" env:"AUTHD_SEAT_POOL" default:"config/seat_pool.ini" description:"path to seat_pool.ini"`

	RedisAddr string `long:"redis-addr" env:"AUTHD_REDIS_ADDR" description:"redis address; required for shared_external allocator_strategy and for revocation to survive a restart"`

	MasterKeyHex string `long:"master-key" env:"AUTHD_MASTER_KEY" description:"hex-encoded at-rest field encryption key, 16+ bytes"`

	Dbg bool `long:"dbg" env:"AUTHD_DEBUG" description:"enable debug logging"`
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	setupLog(opts.Dbg)
	log.Printf("[INFO] starting authd %s", opts.Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.CallerFunc, log.Msec)
		return
	}
	log.Setup(log.Msec)
}

func run(ctx context.Context) error {
	s, err := store.New(opts.DBURL)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	if err := configureFieldCrypto(s); err != nil {
		return err
	}

	authCfg, err := loadAuthConfig()
	if err != nil {
		return err
	}
	sessionPolicy, err := config.LoadSessionPolicy(opts.SessionPolicy)
	if err != nil {
		return fmt.Errorf("failed to load session policy: %w", err)
	}
	seatCfg, err := config.LoadSeatPoolConfig(opts.SeatPool)
	if err != nil {
		return fmt.Errorf("failed to load seat pool config: %w", err)
	}

	var redisClient *redis.Client
	if opts.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("[WARN] failed to close redis client: %v", err)
			}
		}()
	}

	allocator, err := buildAllocator(seatCfg, redisClient)
	if err != nil {
		return err
	}

	blocklist := buildBlocklist(redisClient)
	issuer := token.New([]byte(authCfg.JWTSecret), authCfg.AccessTTL(), authCfg.RefreshTTL(), blocklist)

	verifier := credential.New(s, credential.Lockout{
		MaxAttempts: authCfg.MaxFailedAttempts,
		Duration:    authCfg.LockoutDuration(),
	})

	limiter := sessionlimit.New(s, sessionPolicy.RoleDefaults(), sessionPolicy.Overflow())
	channel := termination.New()

	mgrCfg := sessionmgr.Config{
		AbsoluteTimeout: sessionPolicy.AbsoluteTimeout(),
		IdleTimeout:     sessionPolicy.IdleTimeout(),
	}
	manager := sessionmgr.New(s, verifier, limiter, allocator, issuer, channel, mgrCfg)

	rbacPolicy, err := config.LoadRBACPolicy(opts.RBACPolicy)
	if err != nil {
		return fmt.Errorf("failed to load RBAC policy: %w", err)
	}

	permResolver, err := permission.New(s, permission.DefaultRoleFloor(), 30*time.Second, rbacPolicy)
	if err != nil {
		return fmt.Errorf("failed to build permission resolver: %w", err)
	}
	_ = permResolver // C7 (Effective/Require/AllowedAction) is a library surface consumed by the external file backend, not by this daemon's own HTTP routes (spec §1)

	runner := reconcile.New(s, allocator, manager, reconcile.Config{
		CleanupInterval:   sessionPolicy.CleanupInterval(),
		ReconcileInterval: sessionPolicy.ReconcileInterval(),
		IdleTimeout:       sessionPolicy.IdleTimeout(),
	})
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	auditLogger := audit.NewLogger(s)
	go auditLogger.RunCleanup(ctx, 24*time.Hour, 90*24*time.Hour)

	watcher := config.NewSeatPoolWatcher(opts.SeatPool, func(reloaded config.SeatPoolConfig) {
		inproc, ok := allocator.(*seat.InProcess)
		if !ok {
			return
		}
		if err := inproc.SetTotal(ctx, reloaded.TotalSeats); err != nil {
			log.Printf("[WARN] seat pool reload: failed to set total: %v", err)
		}
		if err := inproc.SetAdminReserved(ctx, adminReservedSeats(reloaded)); err != nil {
			log.Printf("[WARN] seat pool reload: failed to set admin reserved: %v", err)
		}
	})
	if err := watcher.Start(ctx); err != nil {
		log.Printf("[WARN] failed to start seat pool watcher: %v", err)
	}

	authHandler := httpapi.NewAuthHandler(manager, s, auditLogger)
	adminHandler := httpapi.NewAdminHandler(s, manager, sessionPolicy.IdleTimeout(), auditLogger)
	auditHandler := audit.NewHandler(s, 10000)

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Address = opts.Listen
	httpCfg.Version = opts.Version

	srv := httpapi.New(httpCfg, authHandler, adminHandler, auditHandler, auditLogger, channel, issuer)
	return srv.Run(ctx)
}

// configureFieldCrypto enables at-rest encryption of session IP/user-agent
// when --master-key is set; a store with no FieldCrypto configured leaves
// those fields in plaintext, so this is opt-in rather than required.
func configureFieldCrypto(s *store.Store) error {
	if opts.MasterKeyHex == "" {
		log.Printf("[WARN] no --master-key set: session ip/user_agent stored in plaintext")
		return nil
	}
	key, err := hex.DecodeString(opts.MasterKeyHex)
	if err != nil {
		return fmt.Errorf("failed to decode --master-key as hex: %w", err)
	}
	crypto, err := store.NewFieldCrypto(key)
	if err != nil {
		return fmt.Errorf("failed to initialize field crypto: %w", err)
	}
	s.SetFieldCrypto(crypto)
	return nil
}

func loadAuthConfig() (*config.AuthConfig, error) {
	validator, err := config.NewAuthConfigValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to build auth config validator: %w", err)
	}
	cfg, err := config.LoadAuthConfig(opts.AuthConfig, validator)
	if err != nil {
		return nil, fmt.Errorf("failed to load auth config: %w", err)
	}
	return cfg, nil
}

func buildAllocator(cfg config.SeatPoolConfig, redisClient *redis.Client) (seat.Allocator, error) {
	adminReserved := adminReservedSeats(cfg)
	strategy, err := enum.ParseAllocatorStrategy(cfg.AllocatorStrategy)
	if err != nil {
		strategy = enum.AllocatorInProcess
	}
	switch strategy {
	case enum.AllocatorSharedExternal:
		if redisClient == nil {
			return nil, fmt.Errorf("allocator_strategy=shared_external requires --redis-addr")
		}
		return seat.NewShared(redisClient, "authd:seatpool"), nil
	default:
		return seat.NewInProcess(cfg.TotalSeats, adminReserved), nil
	}
}

func adminReservedSeats(cfg config.SeatPoolConfig) int {
	if !cfg.AdminReservedEnabled {
		return 0
	}
	return cfg.AdminReservedSeats
}

// buildBlocklist falls back to the in-process blocklist when no redis
// address is configured — acceptable for single-instance deployments only,
// since revocation state would not survive a restart or be shared across
// daemon replicas (C2's RedisBlocklist is required for either).
func buildBlocklist(redisClient *redis.Client) token.Blocklist {
	if redisClient == nil {
		log.Printf("[WARN] no --redis-addr set: using in-process token blocklist, not safe for multi-instance deployments")
		return token.NewInProcessBlocklist()
	}
	return token.NewRedisBlocklist(redisClient)
}
