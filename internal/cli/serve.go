package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/nlsql/internal/metrics"
	"github.com/malbeclabs/nlsql/internal/server"
)

const (
	defaultListenAddr  = ":8000"
	defaultMetricsAddr = ":9090"
)

type ServeCmd struct {
	info BuildInfo
}

func NewServeCmd(info BuildInfo) *ServeCmd {
	return &ServeCmd{info: info}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API, the web page and the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("failed to get verbose flag: %w", err)
			}
			listenAddr, err := cmd.Flags().GetString("listen-addr")
			if err != nil {
				return fmt.Errorf("failed to get listen-addr flag: %w", err)
			}
			metricsAddr, err := cmd.Flags().GetString("metrics-addr")
			if err != nil {
				return fmt.Errorf("failed to get metrics-addr flag: %w", err)
			}
			corsOrigins, err := cmd.Flags().GetString("cors-origins")
			if err != nil {
				return fmt.Errorf("failed to get cors-origins flag: %w", err)
			}
			cfg, err := loadPipelineConfig(cmd)
			if err != nil {
				return err
			}

			log := newLogger(cmd.OutOrStdout(), verbose)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if metricsAddr != "" {
				metrics.BuildInfo.WithLabelValues(c.info.Version, c.info.Commit, c.info.Date).Set(1)
				if err := serveMetrics(ctx, log, metricsAddr); err != nil {
					return err
				}
			}

			a, err := newApp(ctx, log, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn("failed to close resources", "error", err)
				}
			}()

			srv, err := server.New(&server.Config{
				Logger:         log,
				Runner:         a.Pipeline,
				Version:        c.info.Version,
				ListenAddr:     listenAddr,
				AllowedOrigins: splitCSV(corsOrigins),
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return srv.Run(ctx, nil)
		},
	}

	cmd.Flags().String("listen-addr", getenv("NLSQL_LISTEN_ADDR", defaultListenAddr), "address to listen on for http (env: NLSQL_LISTEN_ADDR)")
	cmd.Flags().String("metrics-addr", getenv("NLSQL_METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics, empty to disable (env: NLSQL_METRICS_ADDR)")
	cmd.Flags().String("cors-origins", getenv("NLSQL_CORS_ORIGINS", ""), "comma-separated allowed CORS origins, default any (env: NLSQL_CORS_ORIGINS)")
	return cmd
}

// serveMetrics exposes /metrics on its own listener until ctx is done.
func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("Prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to serve prometheus metrics", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return nil
}
