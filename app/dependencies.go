package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/spa-auth/config"
	"github.com/upb/spa-auth/handlers"
	"github.com/upb/spa-auth/middleware"
	"github.com/upb/spa-auth/repositories"
	"github.com/upb/spa-auth/repositories/memory"
	"github.com/upb/spa-auth/repositories/postgres"
	"github.com/upb/spa-auth/repositories/redisstore"
	"github.com/upb/spa-auth/services"
	"github.com/upb/spa-auth/services/audit"
	"github.com/upb/spa-auth/services/ratelimit"
	"github.com/upb/spa-auth/services/session"
	"github.com/upb/spa-auth/tokens"
	"go.uber.org/zap"
)

// Dependencies is the central wiring point of the gateway
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Redis  *redis.Client

	// Repository Factory, set for the postgres backend
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Credentials repositories.CredentialRepository
	AuthEvents  repositories.AuthEventRepository

	// Services
	AuthClient *services.AuthClient
	Decoder    tokens.Decoder
	Audit      *audit.Service
	Sessions   *session.Manager
	Limiter    *ratelimit.Limiter

	// HTTP
	Scopes         *middleware.Scopes
	Guard          *middleware.Guard
	HealthHandler  *handlers.HealthHandler
	SessionHandler *handlers.SessionHandler
	AppHandler     *handlers.AppHandler

	negotiate   services.NegotiateProvider
	stopWorkers context.CancelFunc
}

// Option customizes dependency construction
type Option func(*Dependencies)

// WithNegotiateProvider supplies SPNEGO tokens for the passive handshake
func WithNegotiateProvider(p services.NegotiateProvider) Option {
	return func(d *Dependencies) {
		d.negotiate = p
	}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(deps)
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("audit_enabled", deps.Audit != nil),
		zap.Bool("passive_enabled", cfg.Auth.PassiveEnabled))
	return deps, nil
}

// initStorage selects the credential repository for the configured backend
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		client, err := redisstore.NewClient(ctx, cfg.Storage.Redis)
		if err != nil {
			return err
		}
		d.Redis = client
		d.Credentials = redisstore.NewCredentialRepository(client,
			cfg.Storage.Redis.KeyPrefix, cfg.Storage.Redis.TTL, d.Logger)
		d.AuthEvents = memory.NewAuthEventRepository()

	case config.StoragePostgres:
		factory, err := postgres.NewRepositoryFactory(cfg.Storage.Database, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory
		if err := factory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		d.Credentials = factory.Credentials()
		d.AuthEvents = factory.AuthEvents()

	default:
		d.Credentials = memory.NewCredentialRepository()
		d.AuthEvents = memory.NewAuthEventRepository()
	}

	d.Logger.Info("credential storage ready", zap.String("backend", cfg.Storage.Backend))
	return nil
}

// initServices builds the auth client, the audit trail and the session manager
func (d *Dependencies) initServices(cfg *config.Config) error {
	var clientOpts []services.AuthClientOption
	if d.negotiate != nil {
		clientOpts = append(clientOpts, services.WithNegotiateProvider(d.negotiate))
	}
	client, err := services.NewAuthClient(cfg.Auth, d.Logger.Named("auth_client"), clientOpts...)
	if err != nil {
		return err
	}
	d.AuthClient = client

	if cfg.Auth.SigningSecret == "" {
		d.Logger.Warn("no signing secret configured, token signatures are not verified")
	}
	d.Decoder = tokens.NewDecoder(cfg.Auth.SigningSecret)

	managerOpts := []session.Option{
		session.WithRolePrefix(cfg.Auth.RolePrefix),
		session.WithIdleTimeout(cfg.Auth.StoreIdleTimeout),
		session.WithMaxStores(cfg.Auth.MaxStores),
	}
	if cfg.Observability.AuditEnabled {
		d.Audit = audit.NewService(d.AuthEvents, d.Logger.Named("audit"), audit.Config{
			BufferSize:  cfg.Observability.AuditBufferSize,
			WorkerCount: cfg.Observability.AuditWorkerCount,
		})
		if err := d.Audit.Start(); err != nil {
			return fmt.Errorf("failed to start audit service: %w", err)
		}
		managerOpts = append(managerOpts, session.WithRecorder(d.Audit))
	}

	d.Sessions = session.NewManager(d.Credentials, d.AuthClient, d.Decoder, d.Logger.Named("session"), managerOpts...)

	workerCtx, cancel := context.WithCancel(context.Background())
	d.stopWorkers = cancel
	if cfg.Auth.StoreIdleTimeout > 0 {
		go d.Sessions.StartSweeper(workerCtx, sweepInterval(cfg.Auth.StoreIdleTimeout))
	}

	if cfg.Auth.LoginMaxAttempts > 0 {
		counter := d.loginCounter(cfg)
		if pc, ok := counter.(*ratelimit.PostgresCounter); ok {
			go pc.StartCleanupWorker(workerCtx, time.Hour, 2*cfg.Auth.LoginLockout)
		}
		d.Limiter = ratelimit.NewLimiter(counter, ratelimit.Config{
			MaxAttempts: cfg.Auth.LoginMaxAttempts,
			Window:      cfg.Auth.LoginLockout,
		}, d.Logger.Named("ratelimit"))
	}
	return nil
}

// sweepInterval checks for idle stores a few times per idle timeout
func sweepInterval(idle time.Duration) time.Duration {
	if interval := idle / 4; interval > time.Second {
		return interval
	}
	return time.Second
}

// loginCounter shares failure counts through the configured backend
func (d *Dependencies) loginCounter(cfg *config.Config) ratelimit.Counter {
	switch {
	case d.Redis != nil:
		return ratelimit.NewRedisCounter(d.Redis, cfg.Storage.Redis.KeyPrefix)
	case d.RepoFactory != nil:
		return ratelimit.NewPostgresCounter(d.RepoFactory.GetDB().DB, d.Logger.Named("ratelimit"))
	default:
		return ratelimit.NewMemoryCounter()
	}
}

// initHTTP builds the middleware and handlers the router mounts
func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.Scopes = middleware.NewScopes(d.Sessions, middleware.ScopeConfig{
		CookieName: cfg.Auth.ScopeCookie,
		Secure:     cfg.Auth.SecureCookies,
	}, d.Logger)

	d.Guard = middleware.NewGuard(middleware.GuardConfig{
		LoginRoute:     cfg.Auth.LoginRoute,
		PassiveEnabled: cfg.Auth.PassiveEnabled,
	}, d.Logger.Named("guard"))

	var checks []handlers.Check
	if d.Redis != nil {
		checks = append(checks, handlers.RedisCheck(d.Redis))
	}
	if d.RepoFactory != nil {
		checks = append(checks, handlers.DatabaseCheck(d.RepoFactory.GetDB().DB))
	}
	d.HealthHandler = handlers.NewHealthHandler(d.Logger, checks...)

	var history handlers.EventHistory
	if d.Audit != nil {
		history = d.Audit
	}
	var sessionOpts []handlers.SessionHandlerOption
	if d.Limiter != nil {
		sessionOpts = append(sessionOpts, handlers.WithLoginThrottle(d.Limiter))
	}
	d.SessionHandler = handlers.NewSessionHandler(history, cfg.Auth.HomeRoute, d.Logger, sessionOpts...)
	d.AppHandler = handlers.NewAppHandler(cfg.Server.StaticDir, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopWorkers != nil {
		d.stopWorkers()
	}

	// End event streams before draining the audit queue
	if d.Sessions != nil {
		d.Sessions.Close()
	}

	if d.Audit != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	errs = append(errs, d.closeStorage()...)

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

func (d *Dependencies) closeStorage() []error {
	var errs []error
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
		d.Redis = nil
	}
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}
	return errs
}
