package config

import (
	"time"

	"livestream-studio/internal/audio"
	"livestream-studio/internal/encoder"
	"livestream-studio/internal/surface"
)

const (
	defaultAddr              = "127.0.0.1:8080"
	defaultShutdownTimeout   = 15 * time.Second
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultCaptureTimeout    = 30 * time.Second
	defaultPreviewInterval   = 2 * time.Second
	defaultEventBuffer       = 64
	defaultRedisStreamPrefix = "studio:events"
	defaultRedisMaxLen       = 10000
	defaultHistoryDriver     = "sqlite"
	defaultWorkDir           = "~/.local/share/livestream-studio"
)

// Default returns a Config with every field set to its default.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            defaultAddr,
			ShutdownTimeout: Duration(defaultShutdownTimeout),
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Surface: Surface{
			Headless:          true,
			NavigationTimeout: Duration(surface.DefaultNavigationTimeout),
			CaptureTimeout:    Duration(defaultCaptureTimeout),
			SnapshotQuality:   surface.DefaultSnapshotQuality,
			ScreencastQuality: surface.DefaultScreencastQuality,
		},
		Encoder: Encoder{
			Binary:    encoder.DefaultBinary,
			IngestURL: encoder.DefaultIngestURL,
			InputMode: string(encoder.InputPipe),
			Display:   encoder.DefaultDisplay,
		},
		Audio: Audio{
			Pactl:      audio.DefaultBinary,
			SinkPrefix: audio.DefaultPrefix,
		},
		Preview: Preview{Interval: Duration(defaultPreviewInterval)},
		Events: Events{
			Buffer:            defaultEventBuffer,
			RedisStreamPrefix: defaultRedisStreamPrefix,
			RedisMaxLen:       defaultRedisMaxLen,
		},
		History: History{Driver: defaultHistoryDriver},
		Runtime: Runtime{WorkDir: defaultWorkDir},
	}
}
