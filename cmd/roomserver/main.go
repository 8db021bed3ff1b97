package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/VideoRoom/internal/adapters/http"
	"github.com/dkeye/VideoRoom/internal/adapters/rtc"
	signaling "github.com/dkeye/VideoRoom/internal/adapters/signal"
	"github.com/dkeye/VideoRoom/internal/app"
	"github.com/dkeye/VideoRoom/internal/app/orch"
	"github.com/dkeye/VideoRoom/internal/app/sfu"
	"github.com/dkeye/VideoRoom/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(reg)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(func(n int) { metrics.Rooms.Set(float64(n)) }),
		Policy:   app.SimplePolicy{},
		Relays:   sfu.NewRelayManager(metrics.Relays, metrics.ForwardedPackets),
		NewMedia: rtc.NewFactory(rtc.WebRTCConfig(cfg.ICEServers)),
		Metrics:  metrics,
	}

	ctl := signaling.NewSignalWSController(o, signaling.Options{
		AppID:             cfg.AppID,
		TokenSecret:       []byte(cfg.TokenSecret),
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		JoinLimit:         cfg.JoinLimit,
		JoinInterval:      cfg.JoinInterval,
		ReadLimit:         cfg.ReadLimit,
		PingPeriod:        cfg.PingPeriod,
	}, metrics)

	r := router.SetupRouter(ctx, cfg, o, ctl, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Str("app_id", cfg.AppID).Msg("roomserver started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("module", "main").Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutting down")
	for _, room := range o.Rooms.List() {
		o.EvictRoom(room.Name)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("server forced to shutdown")
	}
	log.Info().Str("module", "main").Msg("server exited gracefully")
}
