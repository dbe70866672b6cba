package bridge

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jessevdk/go-flags"
	"github.com/viant/afs"

	"github.com/analytics-mcp/bridge/server"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 8000

	// hostEnvKey and portEnvKey override the bind address, matching the
	// conventions of the analytics backend distribution.
	hostEnvKey = "MCP_HOST"
	portEnvKey = "MCP_PORT"

	defaultBackendCommand = "google-analytics-mcp"
	defaultLocalBackend   = "analytics_mcp/server.py"
)

// Options configures the bridge. Values resolve in order: flags, then the
// TOML config file, then environment, then defaults.
type Options struct {
	Host      string `long:"host" description:"bind host" toml:"host"`
	Port      int    `long:"port" description:"bind port" toml:"port"`
	ConfigURL string `short:"f" long:"config" description:"TOML config location" toml:"-"`

	BackendCommand   string   `long:"backend-command" description:"backend executable on PATH" toml:"backend_command"`
	BackendLocalPath string   `long:"backend-local" description:"local backend script, preferred when present" toml:"backend_local_path"`
	BackendArgs      []string `long:"backend-arg" description:"extra backend argument, repeatable" toml:"backend_args"`
	BackendDir       string   `long:"backend-dir" description:"backend working directory" toml:"backend_dir"`
	PackageRoot      string   `long:"package-root" description:"directory prepended to the backend module path" toml:"package_root"`

	RequestTimeout string `long:"request-timeout" description:"per-request deadline, e.g. 30s" toml:"request_timeout"`
	IdleThreshold  string `long:"idle-threshold" description:"idle session expiry, e.g. 30m" toml:"idle_threshold"`
	SweepInterval  string `long:"sweep-interval" description:"reaper period, e.g. 5m" toml:"sweep_interval"`
	Keepalive      string `long:"keepalive" description:"SSE keepalive period, e.g. 15s" toml:"keepalive"`

	Verbose bool `short:"v" long:"verbose" description:"enable debug logging" toml:"verbose"`

	Cors *server.Cors `no-flag:"true" toml:"cors"`
}

// NewOptions parses args and resolves the layered configuration.
func NewOptions(ctx context.Context, args []string) (*Options, error) {
	options := &Options{}
	if _, err := flags.ParseArgs(options, args); err != nil {
		return nil, err
	}
	if err := options.Init(ctx); err != nil {
		return nil, err
	}
	return options, nil
}

// Init fills unset fields from the config file, environment and defaults.
func (o *Options) Init(ctx context.Context) error {
	if o.ConfigURL != "" {
		if err := o.loadConfig(ctx); err != nil {
			return err
		}
	}
	if o.Host == "" {
		o.Host = os.Getenv(hostEnvKey)
	}
	if o.Host == "" {
		o.Host = defaultHost
	}
	if o.Port == 0 {
		if value := os.Getenv(portEnvKey); value != "" {
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid %v: %w", portEnvKey, err)
			}
			o.Port = port
		}
	}
	if o.Port == 0 {
		o.Port = defaultPort
	}
	if o.BackendCommand == "" {
		o.BackendCommand = defaultBackendCommand
	}
	if o.BackendLocalPath == "" {
		o.BackendLocalPath = defaultLocalBackend
	}
	return nil
}

// loadConfig overlays file values underneath anything already set by flags.
func (o *Options) loadConfig(ctx context.Context) error {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, o.ConfigURL)
	if err != nil {
		return fmt.Errorf("failed to load config %v: %w", o.ConfigURL, err)
	}
	var fromFile Options
	if err := toml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("failed to parse config %v: %w", o.ConfigURL, err)
	}
	if o.Host == "" {
		o.Host = fromFile.Host
	}
	if o.Port == 0 {
		o.Port = fromFile.Port
	}
	if o.BackendCommand == "" {
		o.BackendCommand = fromFile.BackendCommand
	}
	if o.BackendLocalPath == "" {
		o.BackendLocalPath = fromFile.BackendLocalPath
	}
	if len(o.BackendArgs) == 0 {
		o.BackendArgs = fromFile.BackendArgs
	}
	if o.BackendDir == "" {
		o.BackendDir = fromFile.BackendDir
	}
	if o.PackageRoot == "" {
		o.PackageRoot = fromFile.PackageRoot
	}
	if o.RequestTimeout == "" {
		o.RequestTimeout = fromFile.RequestTimeout
	}
	if o.IdleThreshold == "" {
		o.IdleThreshold = fromFile.IdleThreshold
	}
	if o.SweepInterval == "" {
		o.SweepInterval = fromFile.SweepInterval
	}
	if o.Keepalive == "" {
		o.Keepalive = fromFile.Keepalive
	}
	if !o.Verbose {
		o.Verbose = fromFile.Verbose
	}
	if o.Cors == nil {
		o.Cors = fromFile.Cors
	}
	return nil
}

// Addr returns the listen address.
func (o *Options) Addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

func (o *Options) duration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	result, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return result, nil
}
