package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/complyhub/guidance-core/internal/interface/http"
	"github.com/complyhub/guidance-core/pkg/logger"
)

func serveCmd(load func() (*runtime, error)) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API",
		Long: `Start the REST API and block until SIGINT or SIGTERM.

Examples:
  complyhub serve
  complyhub serve --port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := load()
			if err != nil {
				return err
			}
			if port > 0 {
				rt.cfg.HTTP.Port = port
			}
			return runServe(cmd.Context(), rt)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override HTTP_PORT")
	return cmd
}

func runServe(ctx context.Context, rt *runtime) error {
	cfg := rt.cfg
	log := rt.log

	a, err := buildApp(ctx, rt)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(closeCtx)
	}()

	auth, err := httpapi.NewAuthenticator(httpapi.AuthConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Disabled: cfg.Auth.Disabled,
		Leeway:   30 * time.Second,
	}, log)
	if err != nil {
		return err
	}

	checks := make(map[string]httpapi.HealthCheck)
	for name, check := range a.healthChecks() {
		checks[name] = check
	}

	server := httpapi.NewServer(httpapi.Config{
		Host:               cfg.HTTP.Host,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		TrustedProxies:     cfg.HTTP.TrustedProxies,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		RateLimitBurst:     cfg.HTTP.RateLimitBurst,
		ServiceName:        cfg.App.Name,
		Version:            cfg.App.Version,
	}, httpapi.Dependencies{
		Recommendations:    a.recommendations,
		TopRecommendations: a.topRecommendations,
		Progress:           a.progress,
		Achievements:       a.achievements,
		CheckAchievements:  a.checkAchievements,
		Steps:              a.steps,
		Documents:          a.documents,
		Auth:               auth,
		HealthChecks:       checks,
		DefaultTopLimit:    cfg.Recommendation.DefaultLimit,
		Logger:             log,
	})

	errCh := server.StartAsync()
	log.Info("guidance core is running",
		logger.String("http_address", server.Address()),
		logger.String("driver", a.store.driver),
		logger.Bool("cache", a.cache != nil),
	)

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	if m := a.bus.Metrics(); m != nil {
		snap := m.Snapshot()
		log.Info("event bus totals",
			logger.Int64("published", snap.Published),
			logger.Int64("handled", snap.Handled),
			logger.Int64("failed", snap.Failed),
		)
	}
	log.Info("shutdown completed")
	return nil
}
