package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrConfigValidation marks a session configuration that cannot be used to
// build an encoder pipeline. It is returned before any resource is acquired.
var ErrConfigValidation = errors.New("invalid session config")

const (
	DefaultResolution = "1920x1080"
	DefaultFrameRate  = 30
	DefaultBitrate    = "4500k"
	DefaultPreset     = "veryfast"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusStreaming Status = "streaming"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
)

// Startable reports whether a session in this state may begin a new start.
func (s Status) Startable() bool {
	return s == StatusIdle || s == StatusStopped
}

// SessionConfig carries the stream parameters of one session. It is treated
// as immutable once a session has been created from it.
type SessionConfig struct {
	DestinationKey       string `json:"destinationKey"`
	Resolution           string `json:"resolution,omitempty"`
	FrameRate            int    `json:"framerate,omitempty"`
	Bitrate              string `json:"bitrate,omitempty"`
	Preset               string `json:"preset,omitempty"`
	HardwareAcceleration bool   `json:"hardwareAcceleration,omitempty"`
}

var bitratePattern = regexp.MustCompile(`^(\d+)([kKmM]?)$`)

// Resolution is a parsed width and height pair.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses values such as "1280x720".
func ParseResolution(value string) (Resolution, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(value)), "x")
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("resolution %q must look like WIDTHxHEIGHT", value)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q has an invalid width", value)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q has an invalid height", value)
	}
	return Resolution{Width: width, Height: height}, nil
}

// Bitrate is a parsed encoder rate such as "4500k".
type Bitrate struct {
	Value int
	Unit  string
}

func (b Bitrate) String() string {
	return strconv.Itoa(b.Value) + b.Unit
}

// Doubled returns twice the rate in the same unit.
func (b Bitrate) Doubled() Bitrate {
	return Bitrate{Value: b.Value * 2, Unit: b.Unit}
}

// ParseBitrate accepts a positive integer with an optional k or M suffix.
func ParseBitrate(value string) (Bitrate, error) {
	match := bitratePattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return Bitrate{}, fmt.Errorf("bitrate %q must be a number with an optional k or M unit", value)
	}
	limit := maxBitrate[strings.ToUpper(match[2])]
	n, err := strconv.Atoi(match[1])
	if errors.Is(err, strconv.ErrRange) || n > limit {
		return Bitrate{}, fmt.Errorf("bitrate %q exceeds %d%s", value, limit, match[2])
	}
	if err != nil || n <= 0 {
		return Bitrate{}, fmt.Errorf("bitrate %q must be positive", value)
	}
	return Bitrate{Value: n, Unit: match[2]}, nil
}

// maxBitrate caps each unit at 1 Gbit/s so Doubled cannot overflow.
var maxBitrate = map[string]int{
	"":  1_000_000_000,
	"K": 1_000_000,
	"M": 1_000,
}

// HasDestination reports whether a destination key is present.
func (c SessionConfig) HasDestination() bool {
	return strings.TrimSpace(c.DestinationKey) != ""
}

// WithDefaults fills zero-valued fields with their defaults. Fields holding
// malformed values are replaced as well, so the result always parses.
func (c SessionConfig) WithDefaults() SessionConfig {
	c.DestinationKey = strings.TrimSpace(c.DestinationKey)
	if _, err := ParseResolution(c.Resolution); err != nil {
		c.Resolution = DefaultResolution
	}
	if c.FrameRate <= 0 {
		c.FrameRate = DefaultFrameRate
	}
	if _, err := ParseBitrate(c.Bitrate); err != nil {
		c.Bitrate = DefaultBitrate
	}
	c.Preset = strings.TrimSpace(c.Preset)
	if c.Preset == "" {
		c.Preset = DefaultPreset
	}
	return c
}

// Validate rejects configs that must not reach the encoder. Empty optional
// fields are accepted since WithDefaults fills them.
func (c SessionConfig) Validate() error {
	if !c.HasDestination() {
		return fmt.Errorf("%w: destination key is required", ErrConfigValidation)
	}
	if strings.TrimSpace(c.Resolution) != "" {
		if _, err := ParseResolution(c.Resolution); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigValidation, err)
		}
	}
	if c.FrameRate < 0 {
		return fmt.Errorf("%w: framerate must be positive", ErrConfigValidation)
	}
	if strings.TrimSpace(c.Bitrate) != "" {
		if _, err := ParseBitrate(c.Bitrate); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigValidation, err)
		}
	}
	if strings.ContainsAny(c.Preset, " \t\n") {
		return fmt.Errorf("%w: preset %q must be a single word", ErrConfigValidation, c.Preset)
	}
	return nil
}

// Stats holds the last observed encoder telemetry.
type Stats struct {
	FPS       int       `json:"fps"`
	Bitrate   float64   `json:"bitrate"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PublicConfig is the redacted form of a SessionConfig exposed to observers.
type PublicConfig struct {
	KeyFingerprint       string `json:"keyFingerprint"`
	Resolution           string `json:"resolution"`
	FrameRate            int    `json:"framerate"`
	Bitrate              string `json:"bitrate"`
	Preset               string `json:"preset"`
	HardwareAcceleration bool   `json:"hardwareAcceleration,omitempty"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	Uptime    time.Duration `json:"uptimeNanos"`
	Stats     Stats         `json:"stats"`
	Config    PublicConfig  `json:"config"`
}

// UptimeSeconds rounds the uptime for display.
func (s Snapshot) UptimeSeconds() int64 {
	return int64(s.Uptime / time.Second)
}
