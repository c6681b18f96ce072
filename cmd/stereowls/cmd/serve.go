package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/stereowls/internal/config"
	"github.com/MeKo-Tech/stereowls/internal/server"
	"github.com/MeKo-Tech/stereowls/internal/version"
)

// maintenanceInterval is how often idle rate limit clients are pruned.
const maintenanceInterval = time.Hour

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for the depth API",
		Long: `Start an HTTP server that provides REST and WebSocket endpoints for stereo
matching and depth filtering.

The server provides the following endpoints:
  POST /depth/stereo - Match an uploaded pair (multipart "left", "right")
  POST /depth/filter - Filter an uploaded depth map (multipart "depth", optional "guide")
  GET  /ws/depth     - WebSocket with stage progress
  GET  /health       - Health check endpoint
  GET  /metrics      - Prometheus metrics

Examples:
  stereowls serve
  stereowls serve --port 8080
  stereowls serve --host 0.0.0.0 --port 3000 --algorithm sgbm`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	d := config.DefaultConfig()
	cmd.Flags().StringP("host", "H", d.Server.Host, "server host")
	cmd.Flags().IntP("port", "p", d.Server.Port, "server port")
	cmd.Flags().String("cors-origin", d.Server.CORSOrigin, "CORS allowed origins")
	cmd.Flags().Int("max-upload-size", d.Server.MaxUploadMB, "maximum upload size in MB")
	cmd.Flags().Int("timeout", d.Server.TimeoutSec, "request timeout in seconds")
	cmd.Flags().Int("shutdown-timeout", d.Server.ShutdownTimeout, "shutdown timeout in seconds")
	addStereoFlags(cmd.Flags())
	addSampleTypeFlag(cmd.Flags())
	// Rate limiting flags
	cmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	cmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	cmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	cmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	cmd.Flags().Int64("max-data-per-day", 500*1024*1024, "maximum data uploaded per day per client (bytes)")
	return cmd
}

// serverConfig maps the configuration and the changed flags to a
// server.Config.
func (a *app) serverConfig(cmd *cobra.Command) (server.Config, int, error) {
	cfg := *a.cfg
	fs := cmd.Flags()
	applyStereoFlags(fs, &cfg)

	if fs.Changed("host") {
		cfg.Server.Host, _ = fs.GetString("host")
	}
	if fs.Changed("port") {
		cfg.Server.Port, _ = fs.GetInt("port")
	}
	if fs.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = fs.GetString("cors-origin")
	}
	if fs.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = fs.GetInt("max-upload-size")
	}
	if fs.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = fs.GetInt("timeout")
	}
	if fs.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = fs.GetInt("shutdown-timeout")
	}

	// Validate port number
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return server.Config{}, 0, fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
	}

	t, err := fileSampleType(fs, &cfg)
	if err != nil {
		return server.Config{}, 0, err
	}

	// A configured rate_limit enables per-minute limiting; the flags
	// override it.
	rl := server.RateLimitConfig{
		Enabled:           cfg.Server.RateLimit > 0,
		RequestsPerMinute: cfg.Server.RateLimit,
	}
	if fs.Changed("rate-limit-enabled") {
		rl.Enabled, _ = fs.GetBool("rate-limit-enabled")
		if rl.RequestsPerMinute == 0 {
			rl.RequestsPerMinute, _ = fs.GetInt("requests-per-minute")
		}
	}
	if fs.Changed("requests-per-minute") {
		rl.RequestsPerMinute, _ = fs.GetInt("requests-per-minute")
	}
	if rl.Enabled {
		rl.RequestsPerHour, _ = fs.GetInt("requests-per-hour")
		rl.MaxRequestsPerDay, _ = fs.GetInt("max-requests-per-day")
		rl.MaxDataPerDay, _ = fs.GetInt64("max-data-per-day")
	}

	return server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		CORSOrigin:     cfg.Server.CORSOrigin,
		MaxUploadMB:    int64(cfg.Server.MaxUploadMB),
		TimeoutSec:     cfg.Server.TimeoutSec,
		PipelineConfig: cfg.ToPipelineConfig(),
		FilterOptions:  cfg.ToFilterOptions(filterBase(&cfg)),
		SampleType:     t,
		RateLimit:      rl,
	}, cfg.Server.ShutdownTimeout, nil
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	serverConfig, shutdownTimeout, err := a.serverConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	depthServer, err := server.NewServer(serverConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	mux := http.NewServeMux()
	depthServer.SetupRoutes(mux)
	depthServer.StartMaintenance(ctx, maintenanceInterval)

	timeout := time.Duration(serverConfig.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting depth server",
			"host", serverConfig.Host,
			"port", serverConfig.Port,
			"version", version.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			serveErr <- err
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Graceful shutdown completed")

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	default:
		return nil
	}
}
