// Package stats turns encoder diagnostic output into telemetry updates.
package stats

import (
	"bytes"
	"regexp"
	"strconv"
	"sync"
	"time"

	"livestream-studio/internal/models"
)

var (
	fpsPattern     = regexp.MustCompile(`fps=\s*(\d+)`)
	bitratePattern = regexp.MustCompile(`bitrate=\s*([\d.]+)kbits/s`)
)

// Update holds the fields found in one chunk of diagnostic text.
type Update struct {
	FPS        int
	HasFPS     bool
	Bitrate    float64
	HasBitrate bool
}

// Empty reports whether the chunk carried no telemetry.
func (u Update) Empty() bool {
	return !u.HasFPS && !u.HasBitrate
}

// Apply merges the update into prev. Fields missing from the update keep
// their previous values.
func (u Update) Apply(prev models.Stats, now time.Time) models.Stats {
	if u.Empty() {
		return prev
	}
	if u.HasFPS {
		prev.FPS = u.FPS
	}
	if u.HasBitrate {
		prev.Bitrate = u.Bitrate
	}
	prev.UpdatedAt = now
	return prev
}

// Extract scans chunk for the frame rate and bit rate fields of an ffmpeg
// progress line. It never fails; unmatched text yields an empty Update.
func Extract(chunk string) Update {
	var update Update
	if match := fpsPattern.FindStringSubmatch(chunk); match != nil {
		if v, err := strconv.Atoi(match[1]); err == nil {
			update.FPS = v
			update.HasFPS = true
		}
	}
	if match := bitratePattern.FindStringSubmatch(chunk); match != nil {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			update.Bitrate = v
			update.HasBitrate = true
		}
	}
	return update
}

// LineWriter splits a byte stream on carriage returns and newlines and hands
// each complete line to fn. ffmpeg rewrites its progress line with \r, so
// both separators end a line.
type LineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(line string)
}

// NewLineWriter returns a writer that calls fn once per line.
func NewLineWriter(fn func(line string)) *LineWriter {
	return &LineWriter{fn: fn}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexAny(w.buf, "\r\n")
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(w.buf[:idx])
		w.buf = w.buf[idx+1:]
		if len(line) > 0 && w.fn != nil {
			w.fn(string(line))
		}
	}
	// Runaway output without separators is flushed as a line of its own.
	if len(w.buf) > 64*1024 {
		line := string(bytes.TrimSpace(w.buf))
		w.buf = w.buf[:0]
		if line != "" && w.fn != nil {
			w.fn(line)
		}
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	line := string(bytes.TrimSpace(w.buf))
	w.buf = w.buf[:0]
	if line != "" && w.fn != nil {
		w.fn(line)
	}
}
