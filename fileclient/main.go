package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"filexfer/discovery"
	"filexfer/fileclient/config"
	"filexfer/fileclient/terminal"
	"filexfer/logging"
)

func main() {
	cfg := config.DefaultClientConfig()
	envErr := config.LoadEnv(cfg, ".env")

	var (
		address   string
		themeFile string
	)
	root := &cobra.Command{
		Use:           "fileclient",
		Short:         "List and download files from a filexfer server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return fmt.Errorf("load environment: %w", envErr)
			}
			if address != "" {
				if err := cfg.SetAddress(address); err != nil {
					return err
				}
				// an explicit --port wins over the one in --host
				if cmd.Flags().Changed("port") {
					cfg.Port, _ = cmd.Flags().GetInt("port")
				}
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate configuration: %w", err)
			}
			return logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console", OutputPath: "stderr"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logging.Sync()
			theme := loadTheme(themeFile)
			cl := newClient(cfg, theme, os.Stdout)
			return cl.runREPL()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&address, "host", "H", "", "server address as host[:port] (default "+cfg.Address()+")")
	flags.IntVarP(&cfg.Port, "port", "p", cfg.Port, "server port")
	flags.StringVarP(&cfg.DownloadDir, "dir", "d", cfg.DownloadDir, "directory downloads are written to")
	flags.IntVar(&cfg.ChunkSize, "read-chunk", cfg.ChunkSize, "socket read size in bytes")
	flags.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "connection timeout")
	flags.DurationVar(&cfg.IOTimeout, "io-timeout", cfg.IOTimeout, "per read/write timeout, 0 disables")
	flags.StringVar(&cfg.PerfLog, "perf-log", cfg.PerfLog, "append finished transfers to this CSV file")
	flags.BoolVar(&cfg.OpenAfterDownload, "open", cfg.OpenAfterDownload, "open files with the default application after download")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	root.Flags().StringVar(&themeFile, "theme-file", "", "theme config file (default ~/"+terminal.ThemeFile+")")

	root.AddCommand(listCommand(cfg), getCommand(cfg), discoverCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func listCommand(cfg *config.ClientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the files offered by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logging.Sync()
			cl := newClient(cfg, loadTheme(""), cmd.OutOrStdout())
			return cl.list(cmd.Context())
		},
	}
}

func getCommand(cfg *config.ClientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>...",
		Short: "Download files by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logging.Sync()
			cl := newClient(cfg, loadTheme(""), cmd.OutOrStdout())
			return cl.get(cmd.Context(), args)
		},
	}
}

func discoverCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find servers advertising on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No servers found")
				return nil
			}
			for _, s := range servers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Instance, s.Address())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to listen for announcements")
	return cmd
}

// loadTheme falls back to an in-memory theme when the config file cannot be used.
func loadTheme(path string) *terminal.ThemeManager {
	if path == "" {
		if p, err := terminal.DefaultThemePath(); err == nil {
			path = p
		}
	}
	theme, err := terminal.NewThemeManager(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize theme manager: %v\n", err)
		theme, _ = terminal.NewThemeManager("")
	}
	return theme
}
