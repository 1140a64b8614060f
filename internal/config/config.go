// Package config loads the minirest server configuration from a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"dqx0.com/go/minirest/httpx"
	"dqx0.com/go/minirest/internal/obs"
)

const (
	// DefaultAddr is where the server listens when nothing else is set.
	DefaultAddr = "127.0.0.1:8080"

	// DefaultShutdownGrace bounds how long in-flight requests may drain.
	DefaultShutdownGrace = 10 * time.Second
)

// ErrInvalid is wrapped by every validation and parse failure.
var ErrInvalid = errors.New("config: invalid")

// Duration is a time.Duration that reads and writes as a string such as
// "30s" or "1m30s". A bare JSON number is taken as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var secs float64
		if nerr := json.Unmarshal(b, &secs); nerr != nil {
			return fmt.Errorf("%w: duration %s", ErrInvalid, b)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalid, s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the complete minirest.json configuration. Zero timeouts and
// limits mean the engine defaults.
type Config struct {
	// Addr is the "ip:port" the HTTP engine binds.
	Addr string `json:"addr"`

	IdleTimeout   Duration `json:"idleTimeout,omitempty"`
	HeaderTimeout Duration `json:"headerTimeout,omitempty"`
	BodyTimeout   Duration `json:"bodyTimeout,omitempty"`
	WriteTimeout  Duration `json:"writeTimeout,omitempty"`

	// ShutdownGrace is how long Shutdown waits before closing
	// connections forcibly.
	ShutdownGrace Duration `json:"shutdownGrace,omitempty"`

	MaxHeaderBytes int   `json:"maxHeaderBytes,omitempty"`
	MaxBodyBytes   int64 `json:"maxBodyBytes,omitempty"`

	// AdminAddr serves /metrics, /healthz and /readyz. Empty disables
	// the admin listener.
	AdminAddr string `json:"adminAddr,omitempty"`

	Log LogConfig `json:"log,omitempty"`

	path string
}

// LogConfig selects the log threshold and output format.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`
	// Format is "console", "json" or "text" (plain standard log lines).
	Format string `json:"format,omitempty"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Addr:          DefaultAddr,
		IdleTimeout:   Duration(httpx.DefaultIdleTimeout),
		HeaderTimeout: Duration(httpx.DefaultHeaderTimeout),
		BodyTimeout:   Duration(httpx.DefaultBodyTimeout),
		WriteTimeout:  Duration(httpx.DefaultWriteTimeout),
		ShutdownGrace: Duration(DefaultShutdownGrace),
		Log:           LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		if errors.Is(err, ErrInvalid) {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	cfg.path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string { return c.path }

// Validate checks addresses, limits and log settings.
func (c *Config) Validate() error {
	if _, err := httpx.ParseAddress(c.Addr); err != nil {
		return fmt.Errorf("%w: addr: %v", ErrInvalid, err)
	}
	if c.AdminAddr != "" {
		if _, err := httpx.ParseAddress(c.AdminAddr); err != nil {
			return fmt.Errorf("%w: adminAddr: %v", ErrInvalid, err)
		}
		if c.AdminAddr == c.Addr {
			return fmt.Errorf("%w: adminAddr must differ from addr", ErrInvalid)
		}
	}
	if c.MaxHeaderBytes < 0 || c.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: size limits must not be negative", ErrInvalid)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("%w: shutdownGrace must not be negative", ErrInvalid)
	}
	if _, ok := obs.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "", "console", "json", "text":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// LogLevel returns the parsed log threshold, Info if unset.
func (c *Config) LogLevel() obs.Level {
	if lv, ok := obs.ParseLevel(c.Log.Level); ok {
		return lv
	}
	return obs.Info
}

// Apply copies timeouts and limits onto s. Addr is not copied; the
// caller parses it and calls Start.
func (c *Config) Apply(s *httpx.Server) {
	s.IdleTimeout = c.IdleTimeout.Std()
	s.HeaderTimeout = c.HeaderTimeout.Std()
	s.BodyTimeout = c.BodyTimeout.Std()
	s.WriteTimeout = c.WriteTimeout.Std()
	s.MaxHeaderBytes = c.MaxHeaderBytes
	s.MaxBodyBytes = c.MaxBodyBytes
}
