package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"filexfer/discovery"
	"filexfer/fileserver/metrics"
	"filexfer/fileserver/server"
	"filexfer/fileserver/terminal"
	"filexfer/logging"
)

func main() {
	config := terminal.DefaultConfig()
	envErr := terminal.LoadEnv(config, ".env")

	var showVersion bool
	cmd := &cobra.Command{
		Use:           "fileserver [port] [root_directory]",
		Short:         "Serve a directory over the filexfer protocol",
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				terminal.ShowVersion(cmd.OutOrStdout())
				return nil
			}
			if envErr != nil {
				return fmt.Errorf("load environment: %w", envErr)
			}
			// Positional arguments are kept for compatibility with older scripts
			if len(args) > 0 {
				port, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid port number: %s", args[0])
				}
				config.ListenPort = port
			}
			if len(args) > 1 {
				config.RootDir = args[1]
			}
			return run(cmd.Context(), config)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&config.ListenPort, "port", "p", config.ListenPort, "listen port")
	flags.StringVarP(&config.RootDir, "root", "r", config.RootDir, "directory to serve")
	flags.DurationVar(&config.IdleTimeout, "idle-timeout", config.IdleTimeout, "close connections idle for this long")
	flags.IntVar(&config.ChunkSize, "chunk-size", config.ChunkSize, "download chunk size in bytes")
	flags.BoolVar(&config.StrictCatalog, "strict", config.StrictCatalog, "fail listings when an entry cannot be read")
	flags.StringVar(&config.MetricsAddr, "metrics-addr", config.MetricsAddr, "serve Prometheus metrics on this address")
	flags.BoolVar(&config.Advertise, "advertise", config.Advertise, "announce the server on the local network")
	flags.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error")
	flags.StringVar(&config.LogFormat, "log-format", config.LogFormat, "console or json")
	flags.BoolVarP(&showVersion, "version", "v", false, "print version and exit")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *terminal.Config) error {
	if err := logging.Init(config.LoggingConfig()); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.Sync()
	log := logging.S()

	if err := terminal.ValidateConfig(config); err != nil {
		return fmt.Errorf("validate configuration: %w", err)
	}

	srv := server.NewFileServer(config)
	if err := srv.Listen(); err != nil {
		return err
	}
	terminal.PrintStartupInfo(config, srv.Addr().String())

	if config.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if config.Advertise {
		port := srv.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise("", port, []string{"version=" + terminal.Version})
		if err != nil {
			log.Warnf("Could not advertise on the local network: %v", err)
		} else {
			log.Infof("Advertising %s on port %d", discovery.ServiceName, port)
			defer ad.Shutdown()
		}
	}

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	log.Infof("Shutting down")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
