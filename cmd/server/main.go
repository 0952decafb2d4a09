package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"studio-gateway/internal/admission"
	"studio-gateway/internal/api/handler"
	"studio-gateway/internal/config"
	"studio-gateway/internal/core/postgres/repository"
	"studio-gateway/internal/domain"
	"studio-gateway/internal/engine"
	"studio-gateway/internal/infrastructure/arweave"
	"studio-gateway/internal/infrastructure/chain"
	infraredis "studio-gateway/internal/infrastructure/redis"
	"studio-gateway/internal/metrics"
	"studio-gateway/internal/reconcile"
	"studio-gateway/internal/service"
	"studio-gateway/internal/txqueue"
	"studio-gateway/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Database and repository
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(&domain.WorkflowRecord{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	repo := repository.NewWorkflowRepository(db)

	// 2. Metrics
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(reg)

	// 3. External adapters
	chainClient := chain.NewClient(cfg.Chain.RPCURL, cfg.Chain.RequestTimeout)
	chainState := chain.NewState(chainClient, cfg.Chain.RewardsAddress)
	store := arweave.NewClient(cfg.Arweave.BaseURL, cfg.Arweave.RequestTimeout)
	queue := txqueue.New(chainClient, m)

	// 4. Engine and reconciler
	registry := engine.NewRegistry(engine.Dependencies{
		Queue:    queue,
		State:    chainState,
		Store:    store,
		Rewards:  cfg.Chain.RewardsAddress,
		Operator: cfg.Chain.OperatorAddress,
		Timeouts: engine.StepTimeouts{
			Upload:  cfg.Steps.UploadTimeout,
			Submit:  cfg.Steps.SubmitTimeout,
			Confirm: cfg.Steps.ConfirmTimeout,
		},
	})
	eng, err := engine.New(repo, registry, m, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	reconciler := reconcile.New(repo, registry, m, log)

	// 5. Optional lifecycle event forwarding over redis
	if cfg.Redis.Enabled {
		redisClient, err := infraredis.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		forwarder := infraredis.NewEventForwarder(redisClient, log)
		eng.AddListener(forwarder)
		reconciler.AddListener(forwarder)
	}

	// 6. Admission policy
	var adm admission.Controller
	if cfg.Admission.Unlimited() {
		adm = admission.NewUnlimited(repo)
	} else {
		adm = admission.NewController(repo, admission.Limits{
			MaxTotal:     cfg.Admission.MaxTotal,
			MaxPerType:   cfg.Admission.MaxPerType,
			MaxPerSigner: cfg.Admission.MaxPerSigner,
		})
	}

	// 7. Crash recovery: reconcile every non-terminal record against
	// external state before the engine resumes them and before any new
	// work is admitted.
	log.Info("reconciling active workflows")
	if err := reconciler.ReconcileActive(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	go func() {
		if err := eng.ResumeActive(context.Background()); err != nil {
			log.Error("resume active workflows", "error", err)
		}
	}()

	// 8. HTTP API
	svc := service.NewWorkflowService(eng, adm, repo, reconciler, m, log)
	h := handler.NewWorkflowHandler(svc, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	h.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
