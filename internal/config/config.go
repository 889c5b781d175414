// Package config loads the server configuration: defaults, then an optional
// YAML file, then ENGINE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRESPPort  = 6380
	DefaultDebugPort = 6381
	DefaultGRPCPort  = 6382
	DefaultDataDir   = "./data"
	DefaultPageFile  = "engine.db"
	DefaultWALFile   = "engine.wal"
	DefaultMaxKeys   = 4
)

var ErrInvalidConfig = errors.New("invalid configuration")

type RESPConfig struct {
	Addr string `yaml:"addr"`
	// CommandsPerSecond limits each connection; 0 disables the limiter.
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	Burst             int     `yaml:"burst"`
}

type DebugConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	Addr string    `yaml:"addr"`
	TLS  TLSConfig `yaml:"tls"`
}

// TLSConfig enables TLS when CertFile is set; CAFile additionally requires
// client certificates.
type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

func (t TLSConfig) Enabled() bool { return t.CertFile != "" }

// Config is the full server configuration.
type Config struct {
	DataDir        string           `yaml:"data_dir"`
	PageFile       string           `yaml:"page_file"`
	WALFile        string           `yaml:"wal_file"`
	MaxKeysPerNode int              `yaml:"max_keys_per_node"`
	RESP           RESPConfig       `yaml:"resp"`
	Debug          DebugConfig      `yaml:"debug"`
	GRPC           GRPCConfig       `yaml:"grpc"`
	Logger         logger.Config    `yaml:"logger"`
	Telemetry      telemetry.Config `yaml:"telemetry"`

	// BackupBytesPerSec throttles SAVE; 0 means unthrottled.
	BackupBytesPerSec int64 `yaml:"backup_bytes_per_sec"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		DataDir:        DefaultDataDir,
		PageFile:       DefaultPageFile,
		WALFile:        DefaultWALFile,
		MaxKeysPerNode: DefaultMaxKeys,
		RESP: RESPConfig{
			Addr:              portAddr(DefaultRESPPort),
			CommandsPerSecond: 0,
			Burst:             100,
		},
		Debug: DebugConfig{Addr: portAddr(DefaultDebugPort)},
		GRPC:  GRPCConfig{Addr: portAddr(DefaultGRPCPort)},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stdout",
		},
		Telemetry: telemetry.Config{
			Enabled:          true,
			ServiceName:      "pagedb",
			TraceSampleRatio: 0.1,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the process environment.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	ports := []struct {
		env  string
		addr *string
	}{
		{"ENGINE_PORT", &c.RESP.Addr},
		{"ENGINE_DEBUG_PORT", &c.Debug.Addr},
		{"ENGINE_GRPC_PORT", &c.GRPC.Addr},
	}
	for _, p := range ports {
		v, ok := lookup(p.env)
		if !ok || v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("%w: %s=%q is not a port", ErrInvalidConfig, p.env, v)
		}
		*p.addr = portAddr(port)
	}

	if v, ok := lookup("ENGINE_DATA_DIR"); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup("ENGINE_MAX_KEYS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ENGINE_MAX_KEYS=%q: %v", ErrInvalidConfig, v, err)
		}
		c.MaxKeysPerNode = n
	}
	if v, ok := lookup("ENGINE_LOG_LEVEL"); ok && v != "" {
		c.Logger.Level = v
	}
	return nil
}

// Validate checks the values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir must be set", ErrInvalidConfig)
	}
	if c.PageFile == "" || c.WALFile == "" {
		return fmt.Errorf("%w: page_file and wal_file must be set", ErrInvalidConfig)
	}
	if c.PageFile == c.WALFile {
		return fmt.Errorf("%w: page_file and wal_file must differ", ErrInvalidConfig)
	}
	if c.MaxKeysPerNode < 2 {
		return fmt.Errorf("%w: max_keys_per_node must be at least 2, got %d", ErrInvalidConfig, c.MaxKeysPerNode)
	}
	for name, addr := range map[string]string{"resp.addr": c.RESP.Addr, "debug.addr": c.Debug.Addr, "grpc.addr": c.GRPC.Addr} {
		if addr == "" {
			continue // surface disabled
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidConfig, name, addr, err)
		}
	}
	if c.RESP.CommandsPerSecond < 0 || c.RESP.Burst < 0 {
		return fmt.Errorf("%w: resp rate limits must not be negative", ErrInvalidConfig)
	}
	if (c.GRPC.TLS.CertFile == "") != (c.GRPC.TLS.KeyFile == "") {
		return fmt.Errorf("%w: grpc.tls cert_file and key_file must be set together", ErrInvalidConfig)
	}
	if c.GRPC.TLS.CAFile != "" && !c.GRPC.TLS.Enabled() {
		return fmt.Errorf("%w: grpc.tls ca_file needs cert_file and key_file", ErrInvalidConfig)
	}
	if c.BackupBytesPerSec < 0 {
		return fmt.Errorf("%w: backup_bytes_per_sec must not be negative", ErrInvalidConfig)
	}
	if _, err := logger.ParseLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func portAddr(port int) string { return ":" + strconv.Itoa(port) }
