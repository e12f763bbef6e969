package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Storage   StorageConfig   `toml:"storage"`
	Network   NetworkConfig   `toml:"network"`
	Limits    LimitsConfig    `toml:"limits"`
	Games     GamesConfig     `toml:"games"`
	Scripting ScriptingConfig `toml:"scripting"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	Port      int    `toml:"port"`
	DataDir   string `toml:"data_dir"`
	StartTime int64  // set at boot, not from config
}

type DiscoveryConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

type StorageConfig struct {
	Driver          string        `toml:"driver"` // "file" or "postgres"
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type NetworkConfig struct {
	PingInterval     time.Duration `toml:"ping_interval"`
	WriteTimeout     time.Duration `toml:"write_timeout"`
	MaxFrameMB       int           `toml:"max_frame_mb"`
	MaxPacketsPerSec int           `toml:"max_packets_per_sec"` // 0 = unlimited
}

type LimitsConfig struct {
	MaxBlobMB int `toml:"max_blob_mb"`
	InlineKB  int `toml:"inline_kb"` // images at or under this ride inside FileReceive
}

type GamesConfig struct {
	WordsDir        string `toml:"words_dir"` // empty = embedded word lists only
	DefaultLanguage string `toml:"default_language"`
}

type ScriptingConfig struct {
	Dir string `toml:"dir"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// DefaultPath resolves the config file location. WISP_CONFIG wins over the
// working-directory default.
func DefaultPath() string {
	if p := os.Getenv("WISP_CONFIG"); p != "" {
		return p
	}
	return "wisp.toml"
}

// Load reads path over the built-in defaults. A missing file is not an
// error: every setting has a default and all process arguments are optional.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Server.StartTime = time.Now().Unix()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// ApplyArgs layers positional process arguments over the loaded config:
// [tcp-port] [discovery-port] [server-name...]. Remaining arguments join
// into the display name, so unquoted multi-word names work.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) >= 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid tcp port %q", args[0])
		}
		c.Server.Port = port
	}
	if len(args) >= 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid discovery port %q", args[1])
		}
		c.Discovery.Port = port
	}
	if len(args) >= 3 {
		c.Server.Name = strings.Join(args[2:], " ")
	}
	return nil
}

// BindAddr is the TCP listen address for the configured port.
func (c *Config) BindAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Server.Port)
}

func (n NetworkConfig) MaxFrameBytes() int {
	return n.MaxFrameMB << 20
}

func (l LimitsConfig) MaxBlobBytes() int64 {
	return int64(l.MaxBlobMB) << 20
}

func (l LimitsConfig) InlineBytes() int {
	return l.InlineKB << 10
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "Wisp",
			Port:    443,
			DataDir: "data",
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Port:    13180,
		},
		Storage: StorageConfig{
			Driver:          "file",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Network: NetworkConfig{
			PingInterval:     30 * time.Second,
			WriteTimeout:     10 * time.Second,
			MaxFrameMB:       96,
			MaxPacketsPerSec: 300,
		},
		Limits: LimitsConfig{
			MaxBlobMB: 50,
			InlineKB:  2048,
		},
		Games: GamesConfig{
			DefaultLanguage: "en",
		},
		Scripting: ScriptingConfig{
			Dir: "scripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
