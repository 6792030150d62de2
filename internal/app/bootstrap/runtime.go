package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/cache"
	eventadapter "github.com/wiye1050/gestionclinica-sub004/internal/adapters/events"
	grpcadapter "github.com/wiye1050/gestionclinica-sub004/internal/adapters/grpc"
	httpadapter "github.com/wiye1050/gestionclinica-sub004/internal/adapters/http"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/memory"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/metrics"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/postgres"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/ratelimit"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/scheduler"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/security"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/storage"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Runtime struct {
	cfg     Config
	logger  *slog.Logger
	service *application.Service
	metrics *metrics.Metrics

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	outbox   *eventadapter.OutboxWorker
	consumer *eventadapter.ConsumerWorker
	recall   *scheduler.RecallScheduler
	limiter  *ratelimit.LocalLimiter

	closers []io.Closer
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)
	return Build(ctx, cfg, logger)
}

// Build wires every adapter for cfg. The returned runtime owns the opened
// connections until Close.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{cfg: cfg, logger: logger, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var (
		stores    storeSet
		readiness []func(context.Context) error
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		logger.WarnContext(ctx, "using in-memory store, data is lost on restart",
			"operation", "bootstrap", "outcome", "degraded")
		repos := memory.NewRepositories()
		stores = storeSet{
			episodes:    repos.Episodes,
			documents:   repos.Documents,
			outbox:      repos.Outbox,
			idempotency: repos.Idempotency,
			eventDedup:  repos.EventDedup,
		}
	default:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, sqlDB)
		if cfg.AutoMigrate {
			if err := postgres.Migrate(db, 0); err != nil {
				return nil, err
			}
		}
		readiness = append(readiness, sqlDB.PingContext)
		repos := postgres.NewRepositories(db)
		stores = storeSet{
			episodes:    repos.Episodes,
			documents:   repos.Documents,
			outbox:      repos.Outbox,
			idempotency: repos.Idempotency,
			eventDedup:  repos.EventDedup,
		}
	}

	var limiter ports.RateLimiter
	perSecond := float64(cfg.RateLimitPerMinute) / 60
	if cfg.RedisURL != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, redisClient)
		redisLimiter := cache.NewRedisRateLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute)
		readiness = append(readiness, redisLimiter.Ping)
		limiter = redisLimiter
	} else if cfg.RateLimitPerMinute > 0 {
		rt.limiter = ratelimit.NewLocalLimiter(perSecond, cfg.RateLimitBurst)
		limiter = rt.limiter
	}

	auth, err := rt.buildAuth(ctx)
	if err != nil {
		return nil, err
	}

	files, err := storage.NewLocalFileStore(cfg.FileStorageRoot)
	if err != nil {
		return nil, err
	}

	var encryption ports.Encryption
	if cfg.EncryptionSecret != "" {
		enc, err := security.NewAESGCMEncryption(cfg.EncryptionSecret)
		if err != nil {
			return nil, err
		}
		encryption = enc
	} else {
		logger.WarnContext(ctx, "ENCRYPTION_SECRET not set, national ids are rejected",
			"operation", "bootstrap", "outcome", "degraded")
	}

	publisher, dlq, consumer := rt.buildBroker(ctx)

	rt.service = application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:          cfg.ServiceID,
			IdempotencyTTL:       cfg.IdempotencyTTL,
			EventDedupTTL:        cfg.EventDedupTTL,
			RecallSweepBatchSize: cfg.RecallBatchSize,
			MaxConsentBytes:      cfg.MaxUploadBytes,
		},
		Episodes:    stores.episodes,
		Documents:   stores.documents,
		Files:       files,
		Idempotency: stores.idempotency,
		EventDedup:  stores.eventDedup,
		Outbox:      stores.outbox,
		DLQ:         dlq,
		Authorizer:  security.NewRoleAuthorizer(nil),
		Notifier:    eventadapter.NewOutboxNotifier(stores.outbox, cfg.ServiceID),
		Observer:    rt.metrics,
		Encryption:  encryption,
		Logger:      logger,
	})

	rt.httpServer = &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpadapter.NewRouter(rt.service, httpadapter.Options{
			Auth:           auth,
			Limiter:        limiter,
			Metrics:        rt.metrics,
			Logger:         logger,
			Ready:          readyCheck(readiness),
			MaxUploadBytes: cfg.MaxUploadBytes,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	rt.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(grpcadapter.AuthInterceptor(auth)))
	rt.health = health.NewServer()
	healthpb.RegisterHealthServer(rt.grpcServer, rt.health)
	grpcadapter.Register(rt.grpcServer, grpcadapter.NewEpisodeServer(rt.service, logger))

	rt.outbox = eventadapter.NewOutboxWorker(logger, stores.outbox, publisher, rt.metrics, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	rt.consumer = eventadapter.NewConsumerWorker(logger, consumer, rt.service, dlq, cfg.ConsumerPollInterval)
	rt.recall, err = scheduler.NewRecallScheduler(logger, rt.service, rt.metrics, cfg.RecallSchedule)
	if err != nil {
		return nil, err
	}
	rt.recall.WithDedupPurger(rt.service)

	ok = true
	return rt, nil
}

type storeSet struct {
	episodes    ports.EpisodeStore
	documents   ports.DocumentStore
	outbox      ports.OutboxRepository
	idempotency ports.IdempotencyRepository
	eventDedup  ports.EventDedupRepository
}

// buildAuth prefers the identity service, then a locally configured JWT
// public key. Without either, the actor headers are trusted.
func (r *Runtime) buildAuth(ctx context.Context) (ports.AuthClient, error) {
	switch {
	case r.cfg.AuthGRPCURL != "":
		client, err := grpcadapter.NewAuthClient(ctx, r.cfg.AuthGRPCURL)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, client)
		return client, nil
	case r.cfg.JWTPublicKeyPEM != "":
		return security.NewJWTVerifier(r.cfg.JWTPublicKeyPEM, r.cfg.JWTIssuer, r.cfg.JWTAudience)
	default:
		r.logger.WarnContext(ctx, "no identity provider configured, trusting actor headers",
			"operation", "bootstrap", "outcome", "degraded")
		return nil, nil
	}
}

func (r *Runtime) buildBroker(ctx context.Context) (ports.EventPublisher, ports.DLQPublisher, eventadapter.Consumer) {
	logging := eventadapter.NewLoggingPublisher(r.logger)
	var (
		publisher ports.EventPublisher  = logging
		dlq       ports.DLQPublisher    = logging
		consumer  eventadapter.Consumer = eventadapter.NewNoopConsumer()
	)
	if len(r.cfg.KafkaBrokers) == 0 {
		return publisher, dlq, consumer
	}
	kafkaPublisher, err := eventadapter.NewKafkaPublisher(r.cfg.KafkaBrokers, r.cfg.KafkaTopicByEvent, r.cfg.KafkaDLQTopic)
	if err != nil {
		r.logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "error", err)
	} else {
		publisher, dlq = kafkaPublisher, kafkaPublisher
		r.closers = append(r.closers, kafkaPublisher)
	}
	kafkaConsumer, err := eventadapter.NewKafkaConsumer(eventadapter.KafkaConsumerConfig{
		Brokers:     r.cfg.KafkaBrokers,
		GroupID:     r.cfg.KafkaConsumerGroup,
		Topics:      r.cfg.KafkaInboundTopics,
		MinBytes:    r.cfg.KafkaMinBytes,
		MaxBytes:    r.cfg.KafkaMaxBytes,
		MaxWait:     r.cfg.KafkaMaxWait,
		ReadTimeout: r.cfg.KafkaReadTimeout,
		StartOffset: r.cfg.KafkaStartOffset,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "kafka consumer disabled, using noop consumer", "error", err)
	} else {
		consumer = kafkaConsumer
		r.closers = append(r.closers, kafkaConsumer)
	}
	return publisher, dlq, consumer
}

func readyCheck(checks []func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		var errs []error
		for _, check := range checks {
			if err := check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func (r *Runtime) Service() *application.Service {
	return r.service
}

func (r *Runtime) Config() Config {
	return r.cfg
}

// SweepRecallsOnce runs a single recall sweep outside the cron schedule.
func (r *Runtime) SweepRecallsOnce(ctx context.Context) int {
	return r.recall.RunOnce(ctx)
}

func (r *Runtime) Handler() http.Handler {
	return r.httpServer.Handler
}

// Close releases connections in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.logger.Warn("close dependency failed", "operation", "shutdown", "outcome", "failure", "error", err)
		}
	}
	r.closers = nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return err
	}
	r.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	r.health.SetServingStatus(grpcadapter.EpisodeServiceName, healthpb.HealthCheckResponse_SERVING)
	if r.limiter != nil {
		r.limiter.StartCleanup(ctx, time.Minute)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	r.logger.InfoContext(ctx, "api started",
		"operation", "run_api",
		"outcome", "success",
		"http_port", r.cfg.HTTPPort,
		"grpc_port", r.cfg.GRPCPort,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "operation", "run_api", "outcome", "failure", "error", runErr)
	}
	r.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	return runErr
}

// RunWorker drives the outbox relay, the inbound consumer and the recall
// schedule until ctx is cancelled or one of them fails.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	errCh := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	run("outbox", r.outbox.Run)
	run("consumer", r.consumer.Run)
	run("recall", r.recall.Run)
	r.logger.InfoContext(ctx, "worker started",
		"operation", "run_worker",
		"outcome", "success",
		"recall_schedule", r.cfg.RecallSchedule,
	)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		r.logger.ErrorContext(ctx, "worker failure", "operation", "run_worker", "outcome", "failure", "error", err)
		return err
	}
}
