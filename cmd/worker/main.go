package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mweller/arcadecrm/internal/access"
	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/db"
	"github.com/mweller/arcadecrm/internal/events"
	"github.com/mweller/arcadecrm/internal/health"
	"github.com/mweller/arcadecrm/internal/hooks"
	"github.com/mweller/arcadecrm/internal/jobqueue"
	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/metrics"
	"github.com/mweller/arcadecrm/internal/schedule"
	"github.com/mweller/arcadecrm/internal/store"
	"github.com/mweller/arcadecrm/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("arcadecrm-worker")

	shutdown, err := tracing.Init(ctx, "arcadecrm-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler("arcadecrm-worker", pool, cfg.NSQ.NsqdHTTPAddr))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	jobStore := jobqueue.NewStore(pool)
	enqueuer := jobqueue.NewEnqueuer(jobStore, producer, cfg.NSQ)

	recordStore := hooks.NewPGRecordStore(pool, cfg.Hook.MaxAttempts)
	sender := hooks.NewSender(cfg.Hook, recordStore)

	crm := store.New(pool)
	accessClient := access.NewClient(cfg.Access)
	reconciler := access.NewReconciler(accessClient, crm)

	publisher := events.NewPublisher(enqueuer)
	router := events.NewRouter(sender, reconciler, cfg.Features)

	registry := jobqueue.NewRegistry()
	registry.Register(events.KindProcess, router.HandleJob)
	triggers := schedule.NewTriggers(crm, publisher, recordStore, sender, reconciler, cfg.Hook.SweepBatchSize)
	triggers.Register(registry)

	workers := jobqueue.NewPool(cfg, jobStore, registry)
	if err := workers.Start(); err != nil {
		logger.Plain().WithError(err).Fatal("worker pool start failed")
	}
	workers.StartDepthMonitor(ctx)

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	cancel()
	workers.Stop()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
