// Package events fans session telemetry out to observers.
package events

import (
	"encoding/base64"
	"time"

	"livestream-studio/internal/models"
)

// GlobalTopic carries events that are not bound to one session, such as log
// lines.
const GlobalTopic = "global"

// Type names an event kind on the wire.
type Type string

const (
	TypeStatusChange Type = "status-change"
	TypeStats        Type = "stats"
	TypePreviewFrame Type = "preview-frame"
	TypeEnded        Type = "ended"
	TypeWarning      Type = "warning"
	TypeLog          Type = "log"
)

// Preview is an encoded still image.
type Preview struct {
	Image    string `json:"image"`
	MimeType string `json:"mimeType"`
}

// Warning describes a non-fatal problem, such as a failed encoder exit.
type Warning struct {
	Message  string `json:"message"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// LogLine mirrors a server log entry to observers.
type LogLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Event is one message published to a topic.
type Event struct {
	Type       Type          `json:"type"`
	SessionID  string        `json:"sessionId,omitempty"`
	Status     models.Status `json:"status,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Stats      *models.Stats `json:"stats,omitempty"`
	Preview    *Preview      `json:"preview,omitempty"`
	Warning    *Warning      `json:"warning,omitempty"`
	Log        *LogLine      `json:"log,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// StatusChanged reports a lifecycle transition of a session.
func StatusChanged(sessionID string, status models.Status) Event {
	return Event{Type: TypeStatusChange, SessionID: sessionID, Status: status, OccurredAt: time.Now().UTC()}
}

// StatsUpdated carries a copy of the latest encoder telemetry.
func StatsUpdated(sessionID string, stats models.Stats) Event {
	return Event{Type: TypeStats, SessionID: sessionID, Stats: &stats, OccurredAt: time.Now().UTC()}
}

// PreviewFrame base64-encodes a JPEG still.
func PreviewFrame(sessionID string, jpeg []byte) Event {
	return Event{
		Type:      TypePreviewFrame,
		SessionID: sessionID,
		Preview: &Preview{
			Image:    base64.StdEncoding.EncodeToString(jpeg),
			MimeType: "image/jpeg",
		},
		OccurredAt: time.Now().UTC(),
	}
}

// Ended is the terminal event of a session lifecycle.
func Ended(sessionID string, reason string) Event {
	return Event{Type: TypeEnded, SessionID: sessionID, Status: models.StatusStopped, Reason: reason, OccurredAt: time.Now().UTC()}
}

// EncoderWarning reports an encoder that exited on its own with exitCode.
func EncoderWarning(sessionID, message string, exitCode int) Event {
	code := exitCode
	return Event{
		Type:       TypeWarning,
		SessionID:  sessionID,
		Warning:    &Warning{Message: message, ExitCode: &code},
		OccurredAt: time.Now().UTC(),
	}
}

// Log is a log line for observers. sessionID is empty for server lines.
func Log(sessionID, level, message string) Event {
	return Event{
		Type:       TypeLog,
		SessionID:  sessionID,
		Log:        &LogLine{Level: level, Message: message},
		OccurredAt: time.Now().UTC(),
	}
}
