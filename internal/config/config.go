package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"mcwire/internal/logging"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Transport TransportConfig `toml:"transport"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Console   ConsoleConfig   `toml:"console"`
}

type ServerConfig struct {
	Listen               string `toml:"listen"`
	MOTD                 string `toml:"motd"`
	MaxPlayers           int    `toml:"max_players"`
	Version              int32  `toml:"version"`
	Encryption           bool   `toml:"encryption"`
	CompressionThreshold int32  `toml:"compression_threshold"`
	// KeepAlive is the play keep-alive interval; negative disables it.
	KeepAlive Duration `toml:"keep_alive"`
	// ConnectionRate caps new connections per second from one IP; zero
	// disables the throttle.
	ConnectionRate float64 `toml:"connection_rate"`
	DataDir        string  `toml:"data_dir"`
}

type TransportConfig struct {
	ReadTimeout    Duration `toml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	BufferCapacity int      `toml:"buffer_capacity"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// ConsoleConfig configures the SSH admin console. An empty Listen disables it.
type ConsoleConfig struct {
	Listen string `toml:"listen"`
	// AuthorizedKeys defaults to <data_dir>/authorized_keys.
	AuthorizedKeys string `toml:"authorized_keys"`
}

// Duration decodes TOML strings such as "10s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:               "0.0.0.0:25565",
			MOTD:                 "A mcwire server",
			MaxPlayers:           20,
			Version:              757,
			Encryption:           true,
			CompressionThreshold: 256,
			KeepAlive:            Duration{5 * time.Second},
			ConnectionRate:       2,
			DataDir:              "~/.mcwire",
		},
		Transport: TransportConfig{
			ReadTimeout:    Duration{10 * time.Second},
			WriteTimeout:   Duration{10 * time.Second},
			BufferCapacity: 1<<21 - 1 + 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, only defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		// Try default location
		path = expandHome("~/.mcwire/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if err := validateListenAddr(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if c.Server.MaxPlayers < 0 {
		errs = append(errs, fmt.Errorf("server.max_players: must not be negative, got %d", c.Server.MaxPlayers))
	}
	if c.Server.Version < 0 {
		errs = append(errs, fmt.Errorf("server.version: must not be negative, got %d", c.Server.Version))
	}
	if c.Transport.ReadTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("transport.read_timeout: must not be negative, got %s", c.Transport.ReadTimeout))
	}
	if c.Transport.WriteTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("transport.write_timeout: must not be negative, got %s", c.Transport.WriteTimeout))
	}
	if ka, rt := c.Server.KeepAlive.Duration, c.Transport.ReadTimeout.Duration; ka > 0 && rt > 0 && ka >= rt {
		errs = append(errs, fmt.Errorf("server.keep_alive: %s must be shorter than transport.read_timeout %s", ka, rt))
	}
	if c.Server.ConnectionRate < 0 {
		errs = append(errs, fmt.Errorf("server.connection_rate: must not be negative, got %g", c.Server.ConnectionRate))
	}
	// A frame prefix needs at least one byte plus the packet id.
	if c.Transport.BufferCapacity != 0 && c.Transport.BufferCapacity < 16 {
		errs = append(errs, fmt.Errorf("transport.buffer_capacity: must be at least 16, got %d", c.Transport.BufferCapacity))
	}
	if err := validateLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Metrics.Listen != "" {
		if err := validateListenAddr(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen: %w", err))
		}
	}

	if c.Console.Listen != "" {
		if err := validateListenAddr(c.Console.Listen); err != nil {
			errs = append(errs, fmt.Errorf("console.listen: %w", err))
		}
	}

	return errors.Join(errs...)
}

// AuthorizedKeysPath returns the console's authorized_keys file, resolved
// against the data directory when not set.
func (c *Config) AuthorizedKeysPath() string {
	if c.Console.AuthorizedKeys != "" {
		return expandHome(c.Console.AuthorizedKeys)
	}
	return filepath.Join(expandHome(c.Server.DataDir), "authorized_keys")
}

func validateListenAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.New("address is empty")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("address %q has no host", addr)
	}
	if strings.TrimSpace(port) == "" {
		return fmt.Errorf("address %q has no port", addr)
	}
	return nil
}

func validateLogLevel(level string) error {
	if strings.TrimSpace(level) == "" {
		return nil
	}
	if !logging.ValidLevel(level) {
		return fmt.Errorf("unknown level %q", level)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
