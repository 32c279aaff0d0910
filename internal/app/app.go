package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/events"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
	"github.com/xenking/storefront-checkout/internal/storage/redis"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

const (
	serviceName = "storefront-api"
	// writeTimeout bounds a whole response, order event publishing included.
	writeTimeout = 10 * time.Second
)

// products is implemented by both storage backends.
type products interface {
	catalog.Repository
	catalog.VariantReader
}

// Stores groups the repositories of one storage backend.
type Stores struct {
	Products  products
	Discounts discount.Repository
	Orders    order.Store
	Users     auth.UserRepository
}

// MemoryStores returns stores backed by db.
func MemoryStores(db *memory.DB) Stores {
	return Stores{
		Products:  db.Products(),
		Discounts: db.Discounts(),
		Orders:    db.Orders(),
		Users:     db.Users(),
	}
}

// Deps are the external dependencies of the HTTP server.
type Deps struct {
	Stores      Stores
	Revocations auth.Revocations
	Publisher   order.Publisher
	Health      *health.Health
	Telemetry   httpmiddleware.Telemetry
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	stores, closeStores, err := openStores(ctx, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeStores()

	revocations, closeRevocations, err := openRevocations(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeRevocations()

	publisher, closePublisher, err := openPublisher(ctx, lg, cfg, m)
	if err != nil {
		return err
	}
	defer closePublisher()

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h, err := NewHTTPHandler(ctx, cfg, Deps{
		Stores:      stores,
		Revocations: revocations,
		Publisher:   publisher,
		Health:      healthSvc,
		Telemetry:   m,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           h,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// NewHTTPHandler builds the domain services and returns the API and health
// endpoints wrapped in the middleware chain.
func NewHTTPHandler(ctx context.Context, cfg *Config, d Deps) (http.Handler, error) {
	tokens, err := auth.NewTokens(cfg.JWT.Secret, cfg.JWT.TTL, cfg.JWT.Issuer)
	if err != nil {
		return nil, errors.Wrap(err, "create token issuer")
	}

	opts := []order.Option{order.WithTracerProvider(d.Telemetry.TracerProvider())}
	if d.Publisher != nil {
		opts = append(opts, order.WithPublisher(d.Publisher))
	}
	orderService, err := order.NewService(
		d.Stores.Orders,
		d.Stores.Products,
		discount.NewRepoValidator(d.Stores.Discounts),
		d.Telemetry.MeterProvider(),
		opts...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}

	api := handler.New(
		orderService,
		catalog.NewService(d.Stores.Products),
		discount.NewService(d.Stores.Discounts),
		auth.NewService(d.Stores.Users, tokens, d.Revocations, cfg.BcryptCost),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", d.Health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", d.Health.ReadyEndpoint)
	api.Register(mux)

	proxies, err := httpmiddleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, errors.Wrap(err, "parse trusted proxies")
	}

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.IdempotencyKeyHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Rate:           cfg.RateLimit.Rate,
			Burst:          cfg.RateLimit.Burst,
			TrustedProxies: proxies,
		}),
		httpmiddleware.BodyLimit(cfg.BodyLimit),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, routeFinder, d.Telemetry),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	), nil
}

func openStores(ctx context.Context, cfg *Config, h *health.Health) (Stores, func(), error) {
	if cfg.Storage == StorageMemory {
		zctx.From(ctx).Warn("Using in-memory storage, data is lost on restart")
		return MemoryStores(memory.New()), func() {}, nil
	}

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return Stores{}, nil, errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return Stores{}, nil, errors.Wrap(err, "create db pool")
	}
	h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

	return Stores{
		Products:  postgres.NewProductRepository(pool),
		Discounts: postgres.NewDiscountRepository(pool),
		Orders:    postgres.NewOrderStore(pool),
		Users:     postgres.NewUserRepository(pool),
	}, pool.Close, nil
}

func openRevocations(ctx context.Context, lg *zap.Logger, cfg *Config, h *health.Health) (auth.Revocations, func(), error) {
	if !cfg.RedisEnabled() {
		lg.Warn("Redis not configured, token revocations are local to this instance")
		return memory.NewRevocations(), func() {}, nil
	}

	client, err := redis.Connect(ctx, redis.Options{
		URL:      cfg.Redis.URL,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect redis")
	}
	revocations := redis.NewRevocations(client, cfg.Redis.Prefix)
	h.AddReadinessCheck("redis", 3*time.Second, health.PingCheck(revocations))

	return revocations, func() {
		if err := client.Close(); err != nil {
			lg.Error("Close redis", zap.Error(err))
		}
	}, nil
}

func openPublisher(ctx context.Context, lg *zap.Logger, cfg *Config, m httpmiddleware.Telemetry) (order.Publisher, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		lg.Info("Kafka not configured, order events are logged only")
		return events.LogPublisher{}, func() {}, nil
	}

	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		PublishTimeout: cfg.Kafka.PublishTimeout,
	}, m.TracerProvider())
	if err != nil {
		return nil, nil, errors.Wrap(err, "create kafka publisher")
	}
	// Events are best effort: an unreachable broker is logged, not fatal.
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		lg.Warn("Kafka unreachable, order events will be dropped until it recovers", zap.Error(err))
	}

	return p, func() {
		if err := p.Close(); err != nil {
			lg.Error("Close kafka publisher", zap.Error(err))
		}
	}, nil
}
