package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reserveflow/changelog"
	"reserveflow/config"
	"reserveflow/db"
	"reserveflow/httpapi"
	"reserveflow/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	notifier := changelog.NewNotifier(logger)
	svc := reservation.NewService(pool, nil, nil).WithNotifier(notifier)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	httpapi.NewServer(svc, logger).Register(e)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := notifier.Listen(ctx, pool)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("reservation api listening", zap.String("port", cfg.Port))
		err := e.Start(":" + cfg.Port)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
