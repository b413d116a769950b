package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/odyssey-erp/menuguard/cmd/menuguard/cli"
	"github.com/odyssey-erp/menuguard/internal/app"
	"github.com/odyssey-erp/menuguard/internal/audit"
	audithttp "github.com/odyssey-erp/menuguard/internal/audit/http"
	"github.com/odyssey-erp/menuguard/internal/catalog"
	"github.com/odyssey-erp/menuguard/internal/gate"
	"github.com/odyssey-erp/menuguard/internal/observability"
	"github.com/odyssey-erp/menuguard/internal/platform/cache"
	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/rbac"
	"github.com/odyssey-erp/menuguard/internal/records"
	"github.com/odyssey-erp/menuguard/internal/roles"
	"github.com/odyssey-erp/menuguard/internal/shared"
	"github.com/odyssey-erp/menuguard/internal/users"
)

// components holds the wired services shared by the server and the operator commands.
type components struct {
	pool        *pgxpool.Pool
	redis       *redis.Client
	metrics     *observability.Metrics
	cache       *rbac.Cache
	catalog     *catalog.Service
	users       *users.Service
	roles       *roles.Service
	authz       *rbac.Service
	audit       *audit.Service
	gate        *gate.Gate
	records     *records.Store
	idempotency *shared.IdempotencyStore
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	comp, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup", slog.Any("error", err))
		os.Exit(1)
	}
	if len(os.Args) > 1 {
		code := runCommand(ctx, cfg, comp, os.Args[1], os.Args[2:])
		comp.close(logger)
		stop()
		os.Exit(code)
	}
	defer comp.close(logger)
	serve(ctx, stop, cfg, logger, comp)
}

func wire(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*components, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		// Resolution stays correct without Redis, only slower.
		logger.Warn("redis unavailable, shared tier cache disabled", slog.Any("error", err))
		redisClient = nil
	}

	metrics := observability.NewMetrics()
	tierCache := rbac.NewCache(redisClient, rbac.CacheConfig{
		TTL:       cfg.AuthzCacheTTL,
		LocalSize: cfg.AuthzLocalCacheSize,
		LocalTTL:  cfg.AuthzLocalCacheTTL,
	}, metrics, logger)
	tierCache.ListenForInvalidation(ctx)

	catalogService := catalog.NewService(catalog.NewRepository(pool), tierCache, logger)
	usersRepo := users.NewRepository(pool)
	rolesService := roles.NewService(roles.NewRepository(pool), usersRepo, tierCache, logger)
	usersService := users.NewService(usersRepo, rolesService, tierCache, logger)
	authzService := rbac.NewService(usersService, rolesService, catalogService, rbac.NewRepository(pool), tierCache, logger)

	auditRepo := audit.NewRepository(pool)
	recorder := audit.NewRecorder(auditRepo, metrics, logger)
	recordStore := records.NewStore(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	mutationGate := gate.New(authzService, recordStore, recorder, db.NewTxRunner(pool), idempotency, metrics, logger)

	return &components{
		pool:        pool,
		redis:       redisClient,
		metrics:     metrics,
		cache:       tierCache,
		catalog:     catalogService,
		users:       usersService,
		roles:       rolesService,
		authz:       authzService,
		audit:       audit.NewService(auditRepo),
		gate:        mutationGate,
		records:     recordStore,
		idempotency: idempotency,
	}, nil
}

func (c *components) close(logger *slog.Logger) {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	c.pool.Close()
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger, comp *components) {
	guard := rbac.Middleware{Resolver: comp.authz, Logger: logger}
	admin := guard.RequireTier(cfg.AdminResourceID, rbac.TierFull)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		CatalogHandler: catalog.NewHandler(logger, comp.catalog, admin),
		RolesHandler:   roles.NewHandler(logger, comp.roles, admin),
		UsersHandler:   users.NewHandler(logger, comp.users, admin),
		AuthzHandler:   rbac.NewHandler(logger, comp.authz, guard, admin, cfg.GrantLimitPerMinute),
		AuditHandler:   audithttp.NewHandler(logger, comp.audit, admin),
		GateHandler:    gate.NewHandler(logger, comp.gate, comp.records, cfg.GateLimitPerMinute),
		Metrics:        comp.metrics,
		Ready: func(r *http.Request) error {
			return comp.pool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runCommand(ctx context.Context, cfg *app.Config, comp *components, name string, args []string) int {
	switch name {
	case "explain":
		var opts cli.ExplainOptions
		fs := pflag.NewFlagSet("explain", pflag.ContinueOnError)
		fs.Int64Var(&opts.UserID, "user", 0, "user id")
		fs.Int64Var(&opts.ResourceID, "resource", 0, "resource id")
		fs.StringVar(&opts.MinTier, "min", "", "exit 10 unless the user holds at least this tier")
		fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return usageExit(err)
		}
		authz, err := cli.NewAuthzCLI(comp.authz)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return authz.ExplainCommand(ctx, opts)
	case "cleanup-keys":
		opts := cli.CleanupOptions{}
		fs := pflag.NewFlagSet("cleanup-keys", pflag.ContinueOnError)
		fs.DurationVar(&opts.OlderThan, "older-than", cfg.IdempotencyTTL, "retention for idempotency keys")
		if err := fs.Parse(args); err != nil {
			return usageExit(err)
		}
		return cli.CleanupCommand(ctx, comp.idempotency, opts)
	}
	fmt.Fprintf(os.Stderr, "unknown command %q (expected explain or cleanup-keys)\n", name)
	return 2
}

func usageExit(err error) int {
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)
	return 2
}
