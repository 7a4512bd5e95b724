// Package config loads the studio TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "studio.toml"

// Duration decodes TOML strings such as "2s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Server struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	TLSCert         string   `toml:"tls_cert"`
	TLSKey          string   `toml:"tls_key"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Surface struct {
	ChromePath        string   `toml:"chrome_path"`
	Headless          bool     `toml:"headless"`
	NoSandbox         bool     `toml:"no_sandbox"`
	CompositorURL     string   `toml:"compositor_url"`
	NavigationTimeout Duration `toml:"navigation_timeout"`
	CaptureTimeout    Duration `toml:"capture_timeout"`
	SnapshotQuality   int      `toml:"snapshot_quality"`
	ScreencastQuality int      `toml:"screencast_quality"`
}

type Encoder struct {
	Binary    string `toml:"binary"`
	IngestURL string `toml:"ingest_url"`
	// InputMode is pipe (frames from the surface) or display (x11grab).
	InputMode string `toml:"input_mode"`
	Display   string `toml:"display"`
}

// Audio routes page audio through a private PulseAudio sink per browser.
type Audio struct {
	Enabled    bool   `toml:"enabled"`
	Pactl      string `toml:"pactl"`
	SinkPrefix string `toml:"sink_prefix"`
}

type Preview struct {
	Interval Duration `toml:"interval"`
}

type Events struct {
	Buffer            int    `toml:"buffer"`
	RedisAddr         string `toml:"redis_addr"`
	RedisStreamPrefix string `toml:"redis_stream_prefix"`
	RedisMaxLen       int64  `toml:"redis_max_len"`
}

type History struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type Overlay struct {
	LayoutFile string `toml:"layout_file"`
}

type Runtime struct {
	WorkDir string `toml:"work_dir"`
}

// Config is the full studio configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Logging Logging `toml:"logging"`
	Surface Surface `toml:"surface"`
	Encoder Encoder `toml:"encoder"`
	Audio   Audio   `toml:"audio"`
	Preview Preview `toml:"preview"`
	Events  Events  `toml:"events"`
	History History `toml:"history"`
	Overlay Overlay `toml:"overlay"`
	Runtime Runtime `toml:"runtime"`
}

// Load reads path over the defaults, applies STUDIO_* overrides and
// validates the result. A missing file is not an error; exists reports
// whether one was read.
func Load(path string) (cfg *Config, exists bool, err error) {
	loaded := Default()
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		exists = true
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&loaded); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, false, fmt.Errorf("open config: %w", err)
	}

	if err := loaded.applyEnv(os.LookupEnv); err != nil {
		return nil, false, err
	}
	if err := loaded.normalize(); err != nil {
		return nil, false, err
	}
	if err := loaded.Validate(); err != nil {
		return nil, false, err
	}
	return &loaded, exists, nil
}

// Encode renders cfg as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// LockPath is the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Runtime.WorkDir, "studio.lock")
}

func (c *Config) normalize() error {
	workDir, err := expandPath(c.Runtime.WorkDir)
	if err != nil {
		return err
	}
	c.Runtime.WorkDir = workDir

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Encoder.InputMode = strings.ToLower(strings.TrimSpace(c.Encoder.InputMode))
	c.History.Driver = strings.ToLower(strings.TrimSpace(c.History.Driver))

	if c.History.Driver == "sqlite" && strings.TrimSpace(c.History.DSN) == "" {
		c.History.DSN = filepath.Join(c.Runtime.WorkDir, "history.db")
	}
	if strings.TrimSpace(c.Surface.CompositorURL) == "" {
		c.Surface.CompositorURL = compositorURL(c.Server.Addr)
	}
	if c.Overlay.LayoutFile != "" {
		layout, err := expandPath(c.Overlay.LayoutFile)
		if err != nil {
			return err
		}
		c.Overlay.LayoutFile = layout
	}
	return nil
}

// compositorURL points the surface at this server's own compositor page.
func compositorURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://127.0.0.1:8080/compositor"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/compositor"
}

func expandPath(value string) (string, error) {
	if value == "" {
		return value, nil
	}
	if strings.HasPrefix(value, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if value == "~" {
			value = home
		} else if len(value) > 1 && value[1] == '/' {
			value = filepath.Join(home, value[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(value))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return absolute, nil
}
