// Command sentinelconsumer runs the asynchronous EventConsumer: it reads
// audit events (from Kafka when configured, or by polling the audit chain
// otherwise) and evaluates each against the active/canary policy set.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentineltrust/controlplane/internal/audit"
	"github.com/sentineltrust/controlplane/internal/canary"
	"github.com/sentineltrust/controlplane/internal/checkservice"
	"github.com/sentineltrust/controlplane/internal/config"
	"github.com/sentineltrust/controlplane/internal/eventconsumer"
	"github.com/sentineltrust/controlplane/internal/logging"
	"github.com/sentineltrust/controlplane/internal/metrics"
	"github.com/sentineltrust/controlplane/internal/platform/database"
	"github.com/sentineltrust/controlplane/internal/platform/migrations"
	"github.com/sentineltrust/controlplane/internal/policy"
	"github.com/sentineltrust/controlplane/internal/signer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New("sentinelconsumer", cfg.LogLevel, cfg.LogFormat)
	m := metrics.New("sentinelconsumer")

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
	if cfg.Env != config.Production {
		localDev, err := signer.NewLocalDevSigner(cfg.Env, cfg.LocalDevHMACKey, "local-dev")
		if err != nil {
			logger.WithContext(ctx).WithError(err).Fatal("construct local dev signer")
		}
		signerRegistry.Register(localDev)
	}

	chain := audit.NewChain(db, signerRegistry, cfg.Env, m, logger)

	policyRegistry := policy.NewRegistry(db, nil)
	canaryController := canary.NewController(canary.DefaultConfig(), func(policyID string) {
		logger.WithContext(ctx).WithField("policy_id", policyID).Warn("canary rollback triggered")
		if _, err := policyRegistry.Transition(ctx, policyID, policy.StateDeprecated, "canary-controller"); err != nil {
			logger.WithContext(ctx).WithError(err).Error("deprecate policy after canary rollback")
		}
		if _, _, _, err := chain.Append(ctx, "policy.canary.rollback", map[string]interface{}{"policy_id": policyID}); err != nil {
			logger.WithContext(ctx).WithError(err).Error("append policy.canary.rollback")
		}
	})
	checker := checkservice.New(policyRegistry, canaryController, m)

	var source eventconsumer.Source
	if cfg.UseKafka {
		source = eventconsumer.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, logger)
	} else {
		source = eventconsumer.NewPollSource(chain, cfg.PollInterval, logger)
	}
	defer source.Close()

	consumer := eventconsumer.New(source, checker, chain, m, logger, eventconsumer.DefaultConfig())

	logger.WithContext(ctx).WithField("mode", sourceMode(cfg.UseKafka)).Info("sentinelconsumer starting")
	if err := consumer.Run(ctx); err != nil {
		logger.WithContext(ctx).WithError(err).Error("consumer stopped")
	}

	time.Sleep(200 * time.Millisecond) // let in-flight workers flush log lines
}

func sourceMode(useKafka bool) string {
	if useKafka {
		return "kafka"
	}
	return "poll"
}
