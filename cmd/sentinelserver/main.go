// Command sentinelserver runs the control plane's synchronous HTTP API:
// policy check, policy lifecycle, multisig upgrade approval, artifact
// promotion, and audit query/append.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-redis/redis/v8"

	"github.com/sentineltrust/controlplane/internal/audit"
	"github.com/sentineltrust/controlplane/internal/canary"
	"github.com/sentineltrust/controlplane/internal/checkservice"
	"github.com/sentineltrust/controlplane/internal/config"
	"github.com/sentineltrust/controlplane/internal/httpapi"
	"github.com/sentineltrust/controlplane/internal/logging"
	"github.com/sentineltrust/controlplane/internal/metrics"
	"github.com/sentineltrust/controlplane/internal/middleware"
	"github.com/sentineltrust/controlplane/internal/multisig"
	"github.com/sentineltrust/controlplane/internal/platform/database"
	"github.com/sentineltrust/controlplane/internal/platform/migrations"
	"github.com/sentineltrust/controlplane/internal/policy"
	"github.com/sentineltrust/controlplane/internal/promotion"
	"github.com/sentineltrust/controlplane/internal/resilience"
	"github.com/sentineltrust/controlplane/internal/signer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New("sentinelserver", cfg.LogLevel, cfg.LogFormat)
	m := metrics.New("sentinelserver")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Fatal("open database")
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		logger.WithContext(ctx).WithError(err).Fatal("apply migrations")
	}

	signerRegistry := signer.NewRegistry(m)
	registerSigners(ctx, cfg, signerRegistry, logger)
	if err := signerRegistry.RequireAsymmetricBackend(ctx, cfg.Env, cfg.RequireKMS); err != nil {
		logger.WithContext(ctx).WithError(err).Fatal("signer readiness guard")
	}

	breaker := resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig())
	chain := audit.NewChain(db, signerRegistry, cfg.Env, m, logger, audit.WithCircuitBreaker(breaker))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	policyCache := policy.NewCache(redisClient, 30*time.Second, logger)
	go policyCache.Subscribe(ctx)
	policyRegistry := policy.NewRegistry(db, policyCache)

	canaryController := canary.NewController(canary.DefaultConfig(), func(policyID string) {
		logger.WithContext(ctx).WithField("policy_id", policyID).Warn("canary rollback triggered")
		if _, err := policyRegistry.Transition(ctx, policyID, policy.StateDeprecated, "canary-controller"); err != nil {
			logger.WithContext(ctx).WithError(err).Error("deprecate policy after canary rollback")
		}
		if _, _, _, err := chain.Append(ctx, "policy.canary.rollback", map[string]interface{}{"policy_id": policyID}); err != nil {
			logger.WithContext(ctx).WithError(err).Error("append policy.canary.rollback")
		}
	})
	if sweepCron, err := canaryController.StartCooldownSweep("@every 1m"); err != nil {
		logger.WithContext(ctx).WithError(err).Error("start cooldown sweep")
	} else {
		sweepCron.Start()
		defer sweepCron.Stop()
	}

	checker := checkservice.New(policyRegistry, canaryController, m)
	multisigController := multisig.NewController(multisig.NewStore(db), chain, signerRegistry)

	allocator := promotion.NewHTTPAllocatorClient(os.Getenv("ALLOCATOR_BASE_URL"), breaker)
	promotionOrchestrator := promotion.NewOrchestrator(
		promotion.NewStore(db),
		chain,
		checker,
		allocator,
		multisigController,
		promotion.DefaultSentinelConfig(),
		0.95,
		m,
	)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	stopCleanup := rateLimiter.StartCleanup(5 * time.Minute)
	defer stopCleanup()

	router := httpapi.NewRouter(httpapi.Deps{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		Checker:     checker,
		Policies:    policyRegistry,
		Audit:       chain,
		Signers:     signerRegistry,
		Multisig:    multisigController,
		Promotions:  promotionOrchestrator,
		JWTSecret:   cfg.LocalDevHMACKey,
		RateLimiter: rateLimiter,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithContext(ctx).WithField("addr", cfg.Addr).Info("sentinelserver listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithContext(ctx).WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithContext(ctx).WithError(err).Error("graceful shutdown")
	}
}

func registerSigners(ctx context.Context, cfg *config.Config, registry *signer.Registry, logger *logging.Logger) {
	if cfg.KMSKeyID != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.WithContext(ctx).WithError(err).Error("load aws config for KMS signer")
		} else {
			registry.Register(signer.NewKMSSigner(awsCfg, cfg.KMSKeyID))
		}
	}
	if cfg.SigningProxyURL != "" {
		registry.Register(signer.NewSigningProxySigner(cfg.SigningProxyURL, cfg.SigningProxyKey, "signing-proxy"))
	}
	if cfg.Env != config.Production {
		localDev, err := signer.NewLocalDevSigner(cfg.Env, cfg.LocalDevHMACKey, "local-dev")
		if err != nil {
			logger.WithContext(ctx).WithError(err).Error("construct local dev signer")
		} else {
			registry.Register(localDev)
		}
	}
}
