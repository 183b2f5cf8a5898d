package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmcampos/zapblast/internal/activity"
	"github.com/dmcampos/zapblast/internal/audience"
	"github.com/dmcampos/zapblast/internal/campaign"
	"github.com/dmcampos/zapblast/internal/dispatch"
	"github.com/dmcampos/zapblast/internal/lease"
	"github.com/dmcampos/zapblast/internal/pause"
	"github.com/dmcampos/zapblast/internal/store"
	"github.com/dmcampos/zapblast/internal/transport"
	"github.com/dmcampos/zapblast/pkg/config"
	"github.com/dmcampos/zapblast/pkg/db"
	"github.com/dmcampos/zapblast/pkg/kv"
	"github.com/dmcampos/zapblast/pkg/logx"
	"github.com/dmcampos/zapblast/pkg/metrics"
	"github.com/dmcampos/zapblast/pkg/rmq"
	"github.com/dmcampos/zapblast/services/dispatcher/worker"
)

func main() {
	logx.Init()
	defer logx.Sync()
	log := logx.Named("dispatcher")

	config.MustLoadDispatcher()
	cfg := config.Dispatcher

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		log.Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()
	st := store.New(sqlDB)

	cache, err := kv.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatalw("redis_open_error", "error", err)
	}
	defer cache.Close()

	cons, err := rmq.NewConsumer(cfg.RMQURL, cfg.Queue, cfg.MaxConcurrent)
	if err != nil {
		log.Fatalw("rmq_consumer_error", "error", err)
	}
	defer cons.Close()

	pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
	if err != nil {
		log.Fatalw("rmq_publisher_error", "error", err)
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := activity.NewRecorder(st, cache)
	go rec.Run(ctx)

	pauseSig := pause.NewSignal(cache)
	sender := transport.NewHTTPGateway(cfg.GatewayURL, cfg.SendTimeout)
	dispatcher := dispatch.New(st, sender, pauseSig, pub, rec, lease.New(cache), dispatch.Config{
		BatchSize:   cfg.BatchSize,
		SendTimeout: cfg.SendTimeout,
	})

	svc := campaign.NewService(st, audience.NewResolver(st), pauseSig, pub, rec)

	// the sweep starts due scheduled campaigns and re-enqueues running
	// ones idled outside their business-hours window
	c := cron.New()
	_, err = c.AddFunc("@every "+cfg.SweepEvery.String(), func() {
		sweepCtx, cancel := context.WithTimeout(ctx, cfg.SweepEvery)
		defer cancel()
		if err := svc.StartDue(sweepCtx, time.Now()); err != nil {
			log.Errorw("sweep_start_due_error", "error", err)
		}
		if err := svc.RequeueIdle(sweepCtx); err != nil {
			log.Errorw("sweep_requeue_error", "error", err)
		}
	})
	if err != nil {
		log.Fatalw("cron_setup_error", "error", err)
	}
	c.Start()
	defer c.Stop()

	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(":9091", nil); err != nil && err != http.ErrServerClosed {
			log.Warnw("metrics_server_error", "error", err)
		}
	}()

	w := worker.New(cons, dispatcher, cfg.MaxConcurrent)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalw("worker_run_error", "error", err)
	}

	rec.Wait()
	log.Infow("dispatcher stopped gracefully")
}
