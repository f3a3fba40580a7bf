//go:build linux

// Package app wires configuration, the reactor engine, the metrics
// listener and the config watcher into one process lifecycle.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/microhttpd/config"
	"github.com/searchktools/microhttpd/core"
)

// App is the application instance.
type App struct {
	cfg    *config.Config
	engine *core.Engine
}

// New creates an application instance.
func New(cfg *config.Config) (*App, error) {
	configureLogging(cfg)

	engine, err := core.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, engine: engine}, nil
}

// Engine returns the underlying reactor.
func (a *App) Engine() *core.Engine { return a.engine }

// Run starts the reactor and its side services and blocks until
// shutdown. SIGINT/SIGTERM reach the reactor through the tick pipe, so
// a signal unwinds everything here.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var g errgroup.Group

	g.Go(func() error {
		// A clean stop (signal) also unwinds the side services.
		defer cancel()
		defer logrus.Info("engine stopped")
		return a.engine.Run()
	})

	if a.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.engine.Metrics().Handler())
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			logrus.WithField("addr", a.cfg.MetricsAddr).Info("metrics listening")
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				a.engine.Stop()
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.cfg.File != "" {
		w, err := config.Watch(a.cfg, func(next *config.Config) {
			a.engine.SetDocRoot(next.DocRoot)
		})
		if err != nil {
			logrus.WithError(err).Warn("config watch disabled")
		} else {
			g.Go(func() error {
				<-ctx.Done()
				return w.Close()
			})
		}
	}

	return g.Wait()
}

func configureLogging(cfg *config.Config) {
	if cfg.Env == "production" {
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
