package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"filexfer/wire"
)

// Environment variables read by LoadEnv
const (
	EnvHost              = "FILEXFER_HOST"
	EnvPort              = "FILEXFER_PORT"
	EnvDownloadDir       = "FILEXFER_DOWNLOAD_DIR"
	EnvReadChunk         = "FILEXFER_READ_CHUNK"
	EnvDialTimeout       = "FILEXFER_DIAL_TIMEOUT"
	EnvIOTimeout         = "FILEXFER_IO_TIMEOUT"
	EnvPerfLog           = "FILEXFER_PERF_LOG"
	EnvOpenAfterDownload = "FILEXFER_OPEN_AFTER_DOWNLOAD"
	EnvLogLevel          = "FILEXFER_LOG_LEVEL"
)

// ClientConfig holds the server address and transfer settings.
type ClientConfig struct {
	Host        string
	Port        int
	DownloadDir string
	ChunkSize   int // socket read size
	DialTimeout time.Duration
	IOTimeout   time.Duration // 0 disables
	// PerfLog is the CSV file completed transfers are appended to. Empty disables.
	PerfLog           string
	OpenAfterDownload bool
	LogLevel          string
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:        "127.0.0.1",
		Port:        wire.DefaultPort,
		DownloadDir: "downloads",
		ChunkSize:   wire.DefaultReadChunk,
		DialTimeout: 10 * time.Second,
		IOTimeout:   30 * time.Second,
		LogLevel:    "warn",
	}
}

// Address returns host:port.
func (c *ClientConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SetAddress parses host[:port], keeping the current port when none is given.
func (c *ClientConfig) SetAddress(addr string) error {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		// no port
		c.Host = addr
		return nil
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return fmt.Errorf("invalid port %q", portText)
	}
	c.Host, c.Port = host, port
	return nil
}

// LoadEnv applies envFile and then the process environment.
func LoadEnv(c *ClientConfig, envFile string) error {
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
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: invalid number %q", key, v))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			if secs, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(secs) * time.Second
				return
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
				return
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvHost); ok && v != "" {
		c.Host = v
	}
	setInt(EnvPort, &c.Port)
	if v, ok := lookup(EnvDownloadDir); ok && v != "" {
		c.DownloadDir = v
	}
	setInt(EnvReadChunk, &c.ChunkSize)
	setDuration(EnvDialTimeout, &c.DialTimeout)
	setDuration(EnvIOTimeout, &c.IOTimeout)
	if v, ok := lookup(EnvPerfLog); ok {
		c.PerfLog = v
	}
	if v, ok := lookup(EnvOpenAfterDownload); ok {
		open, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: invalid boolean %q", EnvOpenAfterDownload, v))
		} else {
			c.OpenAfterDownload = open
		}
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}

	return errs.ErrorOrNil()
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	var errs *multierror.Error
	if c.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port))
	}
	if c.DownloadDir == "" {
		errs = multierror.Append(errs, fmt.Errorf("download directory is required"))
	}
	if c.ChunkSize < wire.MinChunkSize || c.ChunkSize > wire.MaxChunkSize {
		errs = multierror.Append(errs, fmt.Errorf("invalid read chunk: %d (must be %d-%d)", c.ChunkSize, wire.MinChunkSize, wire.MaxChunkSize))
	}
	if c.DialTimeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("dial timeout must be positive"))
	}
	if c.IOTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("I/O timeout must not be negative"))
	}
	return errs.ErrorOrNil()
}
