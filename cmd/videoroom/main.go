package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/adapters/rtcclient"
	"github.com/dkeye/VideoRoom/internal/adapters/tui"
	"github.com/dkeye/VideoRoom/internal/conference"
	"github.com/dkeye/VideoRoom/internal/config"
	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
	"github.com/dkeye/VideoRoom/internal/room"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "videoroom:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		return err
	}

	// The terminal belongs to the UI; logs go to a file.
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	log.Logger = zerolog.New(logFile).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Info().Str("module", "main").Str("channel", cfg.Channel).Str("server", cfg.ServerURL).Msg("videoroom started")

	client := rtcclient.New(rtcclient.Options{
		ServerURL:  cfg.ServerURL,
		ICEServers: cfg.ICEServers,
		Config:     engine.ClientConfig{Mode: cfg.Mode, Codec: cfg.Codec},
		Name:       cfg.Name,
	})
	devices := &rtcclient.Devices{
		Codec:      cfg.Codec,
		VideoFile:  cfg.VideoFile,
		AudioFile:  cfg.AudioFile,
		ScreenFile: cfg.ScreenFile,
	}
	containers := tui.NewContainers()
	channel := domain.RoomName(cfg.Channel)

	// The room outlives ctx so leaving still works after a signal.
	roomCtx, roomCancel := context.WithCancel(context.Background())
	defer roomCancel()
	r := room.New(roomCtx, room.Config{
		Client:  client,
		Devices: devices,
		Session: conference.Options{
			AppID:        cfg.AppID,
			Channel:      channel,
			Token:        cfg.Token,
			UID:          domain.UserID(cfg.UID),
			StateTimeout: cfg.StateTimeout,
		},
		Containers: containers,
	})

	uiErr := tui.Run(ctx, r, containers, channel, r.Mount())

	// A no-op when the UI already left on quit.
	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), cfg.StateTimeout+time.Second)
	defer leaveCancel()
	if err := r.Unmount().Wait(leaveCtx); err != nil {
		log.Warn().Err(err).Str("module", "main").Msg("leave")
	}
	r.Close()
	log.Info().Str("module", "main").Msg("videoroom exited")
	return uiErr
}
