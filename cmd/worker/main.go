// The worker consumes OrderCreated events from the broker, drives each
// order through fulfillment, and publishes the outcome.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow-io/pipeline/internal/broker"
	"github.com/orderflow-io/pipeline/internal/config"
	"github.com/orderflow-io/pipeline/internal/processor"
	"github.com/orderflow-io/pipeline/internal/storage/kafkalog"
	"github.com/orderflow-io/pipeline/internal/storage/noop"
	"github.com/orderflow-io/pipeline/internal/storage/postgres"
	"github.com/orderflow-io/pipeline/pkg/obs"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	obsCfg := obs.DefaultConfig()
	obsCfg.ServiceName = cfg.ServiceName
	obsCfg.Environment = cfg.Environment
	obsCfg.LogLevel = cfg.LogLevel
	obsCfg.MetricsPort = cfg.MetricsPort
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint

	o, err := obs.Init(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: observability shutdown: %v", err)
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	publisher := broker.NewPublisher(cfg.BrokerURL, cfg.Exchange)
	defer publisher.Close()

	store := postgres.NewStore(pool)

	var auditLog processor.ProcessingLogWriter = postgres.NewProcessingLog(pool)
	var history processor.EventHistoryWriter = postgres.NewEventHistory(pool)
	if cfg.AuditDisabled {
		auditLog = noop.ProcessingLog{}
		history = noop.EventHistory{}
	} else if len(cfg.KafkaBrokers) > 0 {
		mirror := kafkalog.NewHistory(cfg.KafkaBrokers, cfg.HistoryTopic)
		defer mirror.Close()
		history = processor.MultiEventHistoryWriter{history, mirror}
	}

	proc := processor.New(store, store, auditLog, history, publisher)

	metrics := broker.NewMetrics(o.MetricsProvider().Registry())
	consumer := broker.NewConsumer(cfg.BrokerURL, cfg.Exchange, proc, metrics)

	metricsSrv := serveMetrics(ctx, o, obsCfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	obs.Info(ctx, "worker starting",
		"exchange", cfg.Exchange,
		"metrics_port", cfg.MetricsPort,
		"audit_disabled", cfg.AuditDisabled,
	)

	return broker.NewSupervisor(consumer).Run(ctx)
}

func serveMetrics(ctx context.Context, o *obs.Observability, cfg obs.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, o.MetricsProvider().HTTPHandler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error(ctx, "metrics server failed", err, "addr", srv.Addr)
		}
	}()

	return srv
}
