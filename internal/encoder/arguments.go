// Package encoder drives the external ffmpeg process that turns captured
// compositor frames into an RTMP stream.
package encoder

import (
	"fmt"
	"strconv"
	"strings"

	"livestream-studio/internal/models"
)

const (
	DefaultBinary    = "ffmpeg"
	DefaultIngestURL = "rtmp://a.rtmp.youtube.com/live2/"
	DefaultDisplay   = ":99"

	silentAudioSource = "anullsrc=channel_layout=stereo:sample_rate=44100"
)

// Input names the per-session media sources. The zero value reads video as
// configured in Options and mixes in silence for audio.
type Input struct {
	// AudioSource is a PulseAudio source carrying the page audio, usually
	// the monitor of the browser's sink.
	AudioSource string
}

// InputMode selects where the encoder reads video from.
type InputMode string

const (
	// InputPipe reads an MJPEG frame stream from stdin.
	InputPipe InputMode = "pipe"
	// InputDisplay grabs an X display directly.
	InputDisplay InputMode = "display"
)

// ParseInputMode normalises a configured mode, defaulting to InputPipe.
func ParseInputMode(value string) (InputMode, error) {
	switch InputMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", InputPipe:
		return InputPipe, nil
	case InputDisplay:
		return InputDisplay, nil
	default:
		return "", fmt.Errorf("unknown encoder input mode %q", value)
	}
}

// Options holds the process-wide encoder settings shared by every session.
type Options struct {
	Binary    string
	IngestURL string
	InputMode InputMode
	Display   string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Binary) == "" {
		o.Binary = DefaultBinary
	}
	if strings.TrimSpace(o.IngestURL) == "" {
		o.IngestURL = DefaultIngestURL
	}
	if o.InputMode == "" {
		o.InputMode = InputPipe
	}
	if strings.TrimSpace(o.Display) == "" {
		o.Display = DefaultDisplay
	}
	return o
}

// BuildArguments returns the ordered ffmpeg argument list for cfg. The
// result depends only on opts, cfg and in. The only error is a missing
// destination key; other malformed fields fall back to their defaults.
func BuildArguments(opts Options, cfg models.SessionConfig, in Input) ([]string, error) {
	if !cfg.HasDestination() {
		return nil, fmt.Errorf("%w: destination key is required", models.ErrConfigValidation)
	}
	opts = opts.withDefaults()
	cfg = cfg.WithDefaults()

	// WithDefaults guarantees both values parse.
	res, _ := models.ParseResolution(cfg.Resolution)
	rate, _ := models.ParseBitrate(cfg.Bitrate)
	fps := strconv.Itoa(cfg.FrameRate)
	gop := strconv.Itoa(cfg.FrameRate * 2)

	args := make([]string, 0, 64)
	switch opts.InputMode {
	case InputDisplay:
		args = append(args,
			"-f", "x11grab",
			"-draw_mouse", "0",
			"-video_size", res.String(),
			"-framerate", fps,
			"-i", opts.Display,
		)
	default:
		// Screencast frames arrive irregularly, so they are stamped on
		// arrival rather than at a fixed rate.
		args = append(args,
			"-f", "image2pipe",
			"-use_wallclock_as_timestamps", "1",
			"-fflags", "+genpts",
			"-framerate", fps,
			"-i", "pipe:0",
		)
	}
	if source := strings.TrimSpace(in.AudioSource); source != "" {
		args = append(args, "-f", "pulse", "-i", source)
	} else {
		args = append(args, "-f", "lavfi", "-i", silentAudioSource)
	}
	if opts.InputMode != InputDisplay {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", res.Width, res.Height))
	}

	if cfg.HardwareAcceleration {
		args = append(args,
			"-c:v", "h264_nvenc",
			"-preset", "p4",
			"-tune", "ll",
			"-profile:v", "high",
		)
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", cfg.Preset,
			"-tune", "zerolatency",
			"-profile:v", "high",
		)
	}

	args = append(args,
		"-b:v", rate.String(),
		"-maxrate", rate.String(),
		"-bufsize", rate.Doubled().String(),
		"-pix_fmt", "yuv420p",
		"-g", gop,
		"-r", fps,
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-ac", "2",
		"-f", "flv",
		opts.IngestURL+cfg.DestinationKey,
	)
	return args, nil
}

// RedactArguments returns a copy of args with the destination key masked so
// the list can be logged or printed.
func RedactArguments(args []string, key string) []string {
	key = strings.TrimSpace(key)
	out := make([]string, len(args))
	for i, arg := range args {
		if key != "" && strings.Contains(arg, key) {
			arg = strings.ReplaceAll(arg, key, "<redacted>")
		}
		out[i] = arg
	}
	return out
}
