package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/solarmind/solarmind/pkg/cache"
	"github.com/solarmind/solarmind/pkg/homeassistant"
	"github.com/solarmind/solarmind/pkg/log"
	"github.com/solarmind/solarmind/pkg/scheduler"
	"github.com/solarmind/solarmind/pkg/sems"
	"github.com/solarmind/solarmind/pkg/server"
	"github.com/solarmind/solarmind/pkg/storage"
	"github.com/solarmind/solarmind/pkg/telemetry"
)

func main() {
	// flag defaults come from the environment so .env has to be loaded first,
	// a missing file is fine outside local development
	_ = godotenv.Load()

	// init packages
	client, identity := sems.Configured()
	agg := telemetry.Configured(client, identity)
	c := cache.Configured()
	s := storage.Configured()
	pub := homeassistant.Configured()
	sched := scheduler.Configured(agg, s, pub, identity)

	// init server
	srv := server.Configured(agg, c, s, sched, identity)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()
	defer pub.Close()

	if err := sched.Start(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to start scheduler", slog.Any("error", err))
		os.Exit(1)
	}
	defer sched.Stop()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
