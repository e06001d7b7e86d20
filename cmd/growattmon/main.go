package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/growattmon/growattmon/pkg/log"
	"github.com/growattmon/growattmon/pkg/server"
	"github.com/growattmon/growattmon/pkg/setup"
	"github.com/growattmon/growattmon/pkg/storage"
	"github.com/growattmon/growattmon/pkg/throttle"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	store := storage.Configured()
	creds := setup.ConfiguredCredentials()

	var account atomic.Pointer[setup.Account]

	// init server
	srv := server.Configured(account.Load)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	thr := throttle.New(store)
	defer func() {
		thr.Close(context.Background())
		if err := store.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	orch := setup.New(thr, nil)
	a, task, err := orch.Setup(ctx, *creds)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "account setup failed", "error", err)
		os.Exit(1)
	}
	account.Store(a)

	if task != nil {
		// setup was deferred behind the throttle; swap in the real account
		// when it completes
		go func() {
			<-task.Done()
			real, err := task.Result()
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "deferred account setup failed", "error", err)
				return
			}
			account.Store(real)
			go real.Run(ctx)
		}()
	} else {
		go a.Run(ctx)
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
