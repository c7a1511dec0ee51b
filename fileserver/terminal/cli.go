package terminal

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"filexfer/logging"
	"filexfer/wire"
)

// Version is reported by --version.
const Version = "1.0.0"

// Environment variables read by LoadEnv
const (
	EnvPort          = "FILEXFER_PORT"
	EnvRoot          = "FILEXFER_ROOT"
	EnvIdleTimeout   = "FILEXFER_IDLE_TIMEOUT"
	EnvChunkSize     = "FILEXFER_CHUNK_SIZE"
	EnvStrictCatalog = "FILEXFER_STRICT_CATALOG"
	EnvMetricsAddr   = "FILEXFER_METRICS_ADDR"
	EnvAdvertise     = "FILEXFER_ADVERTISE"
	EnvLogLevel      = "FILEXFER_LOG_LEVEL"
	EnvLogFormat     = "FILEXFER_LOG_FORMAT"
)

// Config holds the server configuration
type Config struct {
	ListenPort    int
	RootDir       string
	IdleTimeout   time.Duration
	ChunkSize     int
	StrictCatalog bool
	MetricsAddr   string // empty disables the /metrics endpoint
	Advertise     bool
	LogLevel      string
	LogFormat     string
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		ListenPort:  wire.DefaultPort,
		RootDir:     "files",
		IdleTimeout: 5 * time.Second,
		ChunkSize:   wire.DefaultChunkSize,
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// LoadEnv applies settings from envFile and then from the process
// environment, so a variable set in the environment wins over the file. A
// missing envFile is not an error.
func LoadEnv(config *Config, envFile string) error {
	fileValues := map[string]string{}
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			values, err := godotenv.Read(envFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", envFile, err)
			}
			fileValues = values
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	}

	var errs *multierror.Error
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: invalid port %q", EnvPort, v))
		} else {
			config.ListenPort = port
		}
	}
	if v, ok := lookup(EnvRoot); ok && v != "" {
		config.RootDir = v
	}
	if v, ok := lookup(EnvIdleTimeout); ok {
		d, err := parseDuration(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", EnvIdleTimeout, err))
		} else {
			config.IdleTimeout = d
		}
	}
	if v, ok := lookup(EnvChunkSize); ok {
		size, err := strconv.Atoi(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: invalid chunk size %q", EnvChunkSize, v))
		} else {
			config.ChunkSize = size
		}
	}
	if v, ok := lookup(EnvStrictCatalog); ok {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: invalid boolean %q", EnvStrictCatalog, v))
		} else {
			config.StrictCatalog = strict
		}
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		config.MetricsAddr = v
	}
	if v, ok := lookup(EnvAdvertise); ok {
		advertise, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: invalid boolean %q", EnvAdvertise, v))
		} else {
			config.Advertise = advertise
		}
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		config.LogLevel = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		config.LogFormat = v
	}

	return errs.ErrorOrNil()
}

// parseDuration accepts Go durations and plain seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// ValidateConfig validates the parsed configuration
func ValidateConfig(config *Config) error {
	info, err := os.Stat(config.RootDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("root directory does not exist: %s", config.RootDir)
	}
	if err != nil {
		return fmt.Errorf("root directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root is not a directory: %s", config.RootDir)
	}

	// Port 0 lets the OS pick one
	if config.ListenPort < 0 || config.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port: %d (must be 0-65535)", config.ListenPort)
	}

	if config.ChunkSize < wire.MinChunkSize || config.ChunkSize > wire.MaxChunkSize {
		return fmt.Errorf("invalid chunk size: %d (must be %d-%d)", config.ChunkSize, wire.MinChunkSize, wire.MaxChunkSize)
	}

	if config.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %v", config.IdleTimeout)
	}

	return nil
}

// LoggingConfig returns the logging settings for logging.Init.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat}
}

// PrintStartupInfo logs server startup information
func PrintStartupInfo(config *Config, addr string) {
	log := logging.S()
	log.Infof("Starting file server...")
	log.Infof("Listening on: %s", addr)
	log.Infof("Root directory: %s", config.RootDir)
	log.Infof("Idle timeout: %v, chunk size: %d bytes", config.IdleTimeout, config.ChunkSize)
	if config.StrictCatalog {
		log.Infof("Strict catalog: unreadable entries fail the listing")
	}
	if config.MetricsAddr != "" {
		log.Infof("Metrics: http://%s/metrics", config.MetricsAddr)
	}
}

// ShowVersion displays version information
func ShowVersion(w io.Writer) {
	fmt.Fprintf(w, "filexfer server v%s\n", Version)
}
