package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"SmartLibrary/internal/api"
	"SmartLibrary/internal/config"
	"SmartLibrary/internal/session"
	"SmartLibrary/pkg/kit"
)

func newServeCmd(configPath *string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve library sessions over HTTP",
		Example: `  SESSION_SECRET=$(openssl rand -hex 32) library serve --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := kit.NewLogger(service, cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			return serve(cmd, cfg, log)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on (overrides PORT)")
	return cmd
}

func serve(cmd *cobra.Command, cfg config.Config, log *zap.Logger) error {
	ctx := cmd.Context()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var metrics *api.LibraryMetrics
	sessions := session.NewRegistry(cfg.Session.IdleTTL, session.WithEvictHook(func(id string) {
		metrics.Expired()
		log.Info("session expired", zap.String("session_id", id))
	}))
	defer sessions.Close()

	metrics = api.NewLibraryMetrics(reg, sessions.Len)

	limiter := kit.NewIPRateLimiter(cfg.OpenLimitPerMin, time.Minute, cfg.TrustProxy)

	go sessions.RunSweeper(ctx, cfg.Session.SweepInterval)
	go pruneLimiter(ctx, limiter, cfg.Session.SweepInterval)

	s := &api.Server{
		Sessions:    sessions,
		Tokens:      session.NewTokenMaker(cfg.Session.Secret),
		MaxAge:      cfg.Session.MaxAge,
		Log:         log,
		Metrics:     metrics,
		OpenLimiter: limiter,
	}

	h := api.NewHandler(s, api.HTTPDeps{
		Log:            log,
		Service:        service,
		Registry:       reg,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsToken:   cfg.Metrics.Token,
	})

	if err := kit.RunHTTPServer(ctx, cfg.Addr(), h, log); err != nil {
		log.Error("http server stopped", zap.Error(err))
		return err
	}
	return nil
}

func pruneLimiter(ctx context.Context, l *kit.IPRateLimiter, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune()
		}
	}
}
