// Package overlay describes the compositor page: a fixed-size canvas with
// positioned widgets that the render surface navigates to and captures.
package overlay

import "time"

// Kind names a widget type in layout files.
type Kind string

const (
	KindClock   Kind = "clock"
	KindTimer   Kind = "timer"
	KindChat    Kind = "chat"
	KindAlerts  Kind = "alerts"
	KindCounter Kind = "counter"
	KindTicker  Kind = "ticker"
)

// Frame is the placement and styling shared by every widget.
type Frame struct {
	ID         string
	X, Y       int
	Width      int
	Height     int
	Hidden     bool
	FontSize   int
	FontColor  string
	Background string
}

func (f Frame) withDefaults(fontSize int, background string) Frame {
	if f.Width <= 0 {
		f.Width = 200
	}
	if f.Height <= 0 {
		f.Height = 100
	}
	if f.FontSize <= 0 {
		f.FontSize = fontSize
	}
	if f.FontColor == "" {
		f.FontColor = "#ffffff"
	}
	if f.Background == "" {
		f.Background = background
	}
	return f
}

// Widget is one of the concrete widget types below.
type Widget interface {
	Kind() Kind
	Placement() Frame
	sealed()
}

// Clock shows the wall clock, optionally with the date.
type Clock struct {
	Frame
	Hour12   bool
	ShowDate bool
}

// Timer counts down from Duration.
type Timer struct {
	Frame
	Duration time.Duration
}

// ChatMessage is one line in a Chat widget.
type ChatMessage struct {
	Username string
	Text     string
	Color    string
}

// Chat shows the most recent MaxMessages messages.
type Chat struct {
	Frame
	MaxMessages int
	Messages    []ChatMessage
}

// Alert shows a single highlighted notification.
type Alert struct {
	Frame
	Type    string
	Message string
}

// Counter shows a labelled number.
type Counter struct {
	Frame
	Label string
	Count int
}

// Ticker scrolls Text horizontally.
type Ticker struct {
	Frame
	Text string
	// Speed is in pixels per animation frame.
	Speed int
}

func (Clock) Kind() Kind   { return KindClock }
func (Timer) Kind() Kind   { return KindTimer }
func (Chat) Kind() Kind    { return KindChat }
func (Alert) Kind() Kind   { return KindAlerts }
func (Counter) Kind() Kind { return KindCounter }
func (Ticker) Kind() Kind  { return KindTicker }

func (w Clock) Placement() Frame   { return w.Frame.withDefaults(32, "rgba(0, 0, 0, 0.7)") }
func (w Timer) Placement() Frame   { return w.Frame.withDefaults(48, "rgba(255, 0, 0, 0.7)") }
func (w Chat) Placement() Frame    { return w.Frame.withDefaults(16, "rgba(0, 0, 0, 0.7)") }
func (w Alert) Placement() Frame   { return w.Frame.withDefaults(24, "rgba(255, 0, 0, 0.9)") }
func (w Counter) Placement() Frame { return w.Frame.withDefaults(32, "rgba(0, 0, 0, 0.7)") }
func (w Ticker) Placement() Frame  { return w.Frame.withDefaults(24, "rgba(255, 0, 0, 0.9)") }

func (Clock) sealed()   {}
func (Timer) sealed()   {}
func (Chat) sealed()    {}
func (Alert) sealed()   {}
func (Counter) sealed() {}
func (Ticker) sealed()  {}

// visibleMessages trims to the newest MaxMessages entries.
func (c Chat) visibleMessages() []ChatMessage {
	limit := c.MaxMessages
	if limit <= 0 {
		limit = 10
	}
	if len(c.Messages) <= limit {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-limit:]
}

func (a Alert) icon() string {
	switch a.Type {
	case "follow":
		return "\U0001F464"
	case "subscribe":
		return "⭐"
	case "donation":
		return "\U0001F4B0"
	default:
		return "\U0001F514"
	}
}
