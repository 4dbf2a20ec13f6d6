package main

import (
	"context"
	"os"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"pageflux/internal/config"
	"pageflux/internal/db"
	"pageflux/internal/flusher"
	"pageflux/internal/http/handlers"
	appmw "pageflux/internal/http/middleware"
	"pageflux/internal/queue"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	gormDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	store := db.NewStore(gormDB)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	q, err := queue.Connect(ctx, cfg.RedisURL, queue.Options{
		QueueKey:   cfg.QueueKey,
		CounterKey: cfg.CounterCacheKey,
		LockKey:    cfg.FlushLockKey,
	}, log)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer q.Close()

	metrics := flusher.NewMetrics(prometheus.DefaultRegisterer)
	fl := flusher.New(q, store, cfg, log, metrics)
	fl.StartFlushWorker(cfg.FlushInterval)

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", handlers.Metrics())

	r.POST("/v1/track", handlers.Track(q))
	r.POST("/v1/flush", appmw.BearerAuth(cfg.FlushToken)(handlers.TriggerFlush(fl, cfg)))
	r.GET("/v1/archive", handlers.ArchiveRange(store))
	r.GET("/v1/views", handlers.ViewCount(store))

	handler := handlers.RequestLogger(log, r.Handler)

	log.Info().Str("addr", cfg.ListenAddr).Msg("pageflux listening")
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
