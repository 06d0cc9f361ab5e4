package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	tmos "github.com/stateshift/rollup-httpd/libs/os"
	"github.com/stateshift/rollup-httpd/rollup"
	"github.com/stateshift/rollup-httpd/server"
	"github.com/stateshift/rollup-httpd/state"
)

// StartCmd opens the rollup device and serves the HTTP API until an exit
// signal arrives.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the rollup HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		driver, err := rollup.OpenDevice(config.RollupDevice)
		if err != nil {
			return fmt.Errorf("failed to open rollup device %s: %w", config.RollupDevice, err)
		}

		device := rollup.NewDevice(logger.With("module", "rollup"), driver)
		defer func() {
			if err := device.Close(); err != nil {
				logger.Error("failed to close rollup device", "err", err)
			}
		}()

		drive := state.New(config.StateDrive)
		logger.Info("using state drive", "path", drive.Path())

		opts := []server.Option{}
		if config.Instrumentation.Prometheus {
			opts = append(opts, server.WithMetrics(
				server.PrometheusMetrics(config.Instrumentation.Namespace)))
		}

		srv := server.New(logger.With("module", "server"), config.RPC, device, drive, opts...)
		if err := srv.Start(ctx); err != nil {
			return err
		}

		if config.Instrumentation.Prometheus {
			go startPrometheusServer(config.Instrumentation.PrometheusListenAddr)
		}

		// Stop upon receiving SIGTERM or CTRL-C.
		tmos.TrapSignal(logger, func() {
			if srv.IsRunning() {
				if err := srv.Stop(); err != nil {
					logger.Error("unable to stop the server", "error", err)
				}
			}
			cancel()
		})

		// Run until the signal handler exits the process.
		srv.Wait()
		return nil
	},
}

// startPrometheusServer starts a Prometheus HTTP server, listening for
// metrics collectors on addr.
func startPrometheusServer(addr string) {
	srv := &http.Server{
		Addr: addr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer,
			promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
				MaxRequestsInFlight: 10,
			}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Prometheus HTTP server stopped", "err", err)
	}
}

func registerFlagsStartCmd(cmd *cobra.Command) {
	cmd.Flags().String("rollup_device", config.RollupDevice,
		"path to the rollup character device")
	cmd.Flags().String("state_drive", config.StateDrive,
		"path to the raw state block device (also via the STATE_DRIVE environment variable)")
	cmd.Flags().String("rpc.laddr", config.RPC.ListenAddress,
		"HTTP listen address (tcp://host:port or unix://path)")
	cmd.Flags().Int("rpc.max_open_connections", config.RPC.MaxOpenConnections,
		"maximum number of simultaneous connections")
	cmd.Flags().Int64("rpc.max_body_bytes", config.RPC.MaxBodyBytes,
		"maximum size of a request body, in bytes")
	cmd.Flags().StringSlice("rpc.cors_allowed_origins", config.RPC.CORSAllowedOrigins,
		"origins a cross-domain request is allowed from (empty disables CORS)")
	cmd.Flags().Bool("instrumentation.prometheus", config.Instrumentation.Prometheus,
		"enable Prometheus metrics")
	cmd.Flags().String("instrumentation.prometheus_listen_addr", config.Instrumentation.PrometheusListenAddr,
		"address the Prometheus metrics server listens on")
}

func init() {
	registerFlagsStartCmd(StartCmd)
}
