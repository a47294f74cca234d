package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"family-alert-go/internal/app"
	"family-alert-go/internal/config"
	"family-alert-go/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	checkConfig := flag.Bool("check-config", false, "load the configuration, log a summary and exit")
	flag.Parse()

	log := logger.NewFromEnv()
	if *checkConfig {
		os.Exit(check(log))
	}
	os.Exit(run(log))
}

// check validates configuration without connecting to any backend.
func check(log logger.Logger) int {
	cfg, err := config.Load(log)
	if err != nil {
		log.Critical("config: invalid", "err", err)
		return 1
	}
	log.Info("config: ok", summary(cfg)...)
	return 0
}

func summary(cfg config.Config) []any {
	return []any{
		"env", cfg.Env,
		"http_port", cfg.HTTPPort,
		"store", cfg.Store.Backend,
		"redis", cfg.Redis.Enabled(),
		"rabbitmq", cfg.RabbitMQ.Enabled(),
		"smtp", cfg.SMTP.Enabled(),
		"skip_auth", cfg.Auth.SkipAuth,
		"cooldown", cfg.Alerts.Cooldown.String(),
	}
}

func run(log logger.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(log)
	if err != nil {
		log.Critical("app: init failed", "err", err)
		return 1
	}

	exitCode := 0
	if err := serve(ctx, application.HTTPServer(), log); err != nil {
		log.Critical("http: server failed", "err", err)
		exitCode = 1
	}

	// Hijacked websocket connections are not tracked by Shutdown; closing the
	// app tears down their subscriptions.
	if err := application.Close(); err != nil {
		log.Error("app: close failed", "err", err)
		exitCode = 1
	}

	if exitCode == 0 {
		log.Info("app: stopped")
	}
	return exitCode
}

// serve runs srv until ctx ends or the listener fails, then shuts it down.
func serve(ctx context.Context, srv *http.Server, log logger.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info("app: shutdown signal received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
