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

	"github.com/mweller/arcadecrm/internal/config"
	"github.com/mweller/arcadecrm/internal/db"
	"github.com/mweller/arcadecrm/internal/health"
	"github.com/mweller/arcadecrm/internal/jobqueue"
	"github.com/mweller/arcadecrm/internal/logging"
	"github.com/mweller/arcadecrm/internal/metrics"
	"github.com/mweller/arcadecrm/internal/schedule"
	"github.com/mweller/arcadecrm/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("arcadecrm-scheduler")

	shutdown, err := tracing.Init(ctx, "arcadecrm-scheduler")
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
	mux.HandleFunc("/healthz", health.HTTPHandler("arcadecrm-scheduler", pool, cfg.NSQ.NsqdHTTPAddr))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: ":" + envOr("SCHEDULER_HTTP_PORT", "8084"), Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("scheduler HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("scheduler HTTP server failed")
		}
	}()

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	enqueuer := jobqueue.NewEnqueuer(jobqueue.NewStore(pool), producer, cfg.NSQ)

	sched := schedule.NewScheduler(enqueuer)
	if err := sched.Install(schedule.Entries()); err != nil {
		logger.Plain().WithError(err).Fatal("trigger install failed")
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
		<-stop
		logger.Plain().Info("shutting down scheduler")
		cancel()
	}()

	sched.Run(ctx)
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("scheduler stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
