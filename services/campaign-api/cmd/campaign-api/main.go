package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmcampos/zapblast/internal/activity"
	"github.com/dmcampos/zapblast/internal/audience"
	"github.com/dmcampos/zapblast/internal/campaign"
	"github.com/dmcampos/zapblast/internal/pause"
	"github.com/dmcampos/zapblast/internal/store"
	"github.com/dmcampos/zapblast/pkg/config"
	"github.com/dmcampos/zapblast/pkg/db"
	"github.com/dmcampos/zapblast/pkg/kv"
	"github.com/dmcampos/zapblast/pkg/logx"
	"github.com/dmcampos/zapblast/pkg/rmq"
	"github.com/dmcampos/zapblast/services/campaign-api/server"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		} else {
			logx.L().Infow("db_closed")
		}
	}()

	st := store.New(sqlDB)

	cache, err := kv.NewRedis(cfg.RedisAddr)
	if err != nil {
		logx.L().Fatalw("redis_init_error", "error", err)
	}
	defer cache.Close()

	pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
	if err != nil {
		logx.L().Fatalw("rmq_init_error", "error", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logx.L().Warnw("rmq_publisher_close_error", "error", err)
		} else {
			logx.L().Infow("rmq_publisher_closed")
		}
	}()

	rec := activity.NewRecorder(st, cache)
	go rec.Run(ctx)

	svc := campaign.NewService(st, audience.NewResolver(st), pause.NewSignal(cache), pub, rec)

	h := server.NewHandlers(svc, rec, st)
	srv := server.NewHTTPServer(":"+cfg.Port, h)

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	<-ctx.Done()
	logx.L().Infow("shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}

	rec.Wait()
	logx.L().Infow("campaign-api stopped gracefully")
}
