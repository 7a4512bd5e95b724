package overlay

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Layout is the compositor canvas and its widgets.
type Layout struct {
	Title      string
	Width      int
	Height     int
	Background string
	Widgets    []Widget
}

// DefaultLayout is served when no layout file is configured.
func DefaultLayout() Layout {
	return Layout{
		Title:      "Studio Compositor",
		Width:      1920,
		Height:     1080,
		Background: "#101014",
		Widgets: []Widget{
			Clock{Frame: Frame{ID: "clock", X: 1680, Y: 40, Width: 200, Height: 90}, ShowDate: true},
			Ticker{Frame: Frame{ID: "ticker", X: 0, Y: 1020, Width: 1920, Height: 60}, Text: "Live now", Speed: 2},
		},
	}
}

type layoutFile struct {
	Title      string       `yaml:"title"`
	Width      int          `yaml:"width"`
	Height     int          `yaml:"height"`
	Background string       `yaml:"background"`
	Widgets    []widgetSpec `yaml:"widgets"`
}

type widgetSpec struct {
	ID         string `yaml:"id"`
	Type       Kind   `yaml:"type"`
	X          int    `yaml:"x"`
	Y          int    `yaml:"y"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Hidden     bool   `yaml:"hidden"`
	FontSize   int    `yaml:"font_size"`
	FontColor  string `yaml:"font_color"`
	Background string `yaml:"background"`

	Format      string        `yaml:"format"`
	ShowDate    bool          `yaml:"show_date"`
	Duration    string        `yaml:"duration"`
	MaxMessages int           `yaml:"max_messages"`
	Messages    []chatMessage `yaml:"messages"`
	AlertType   string        `yaml:"alert_type"`
	Message     string        `yaml:"message"`
	Label       string        `yaml:"label"`
	Count       int           `yaml:"count"`
	Text        string        `yaml:"text"`
	Speed       int           `yaml:"speed"`
}

type chatMessage struct {
	Username string `yaml:"username"`
	Text     string `yaml:"text"`
	Color    string `yaml:"color"`
}

// LoadLayout reads a YAML layout file. An empty path yields DefaultLayout.
func LoadLayout(path string) (Layout, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultLayout(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read overlay layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes YAML layout data.
func ParseLayout(data []byte) (Layout, error) {
	defaults := DefaultLayout()
	file := layoutFile{
		Title:      defaults.Title,
		Width:      defaults.Width,
		Height:     defaults.Height,
		Background: defaults.Background,
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Layout{}, fmt.Errorf("parse overlay layout: %w", err)
	}
	if file.Width <= 0 || file.Height <= 0 {
		return Layout{}, fmt.Errorf("overlay layout size %dx%d must be positive", file.Width, file.Height)
	}

	layout := Layout{
		Title:      file.Title,
		Width:      file.Width,
		Height:     file.Height,
		Background: file.Background,
		Widgets:    make([]Widget, 0, len(file.Widgets)),
	}
	for i, spec := range file.Widgets {
		widget, err := spec.build()
		if err != nil {
			return Layout{}, fmt.Errorf("overlay widget %d: %w", i, err)
		}
		layout.Widgets = append(layout.Widgets, widget)
	}
	return layout, nil
}

func (s widgetSpec) build() (Widget, error) {
	frame := Frame{
		ID:         s.ID,
		X:          s.X,
		Y:          s.Y,
		Width:      s.Width,
		Height:     s.Height,
		Hidden:     s.Hidden,
		FontSize:   s.FontSize,
		FontColor:  s.FontColor,
		Background: s.Background,
	}
	switch Kind(strings.ToLower(string(s.Type))) {
	case KindClock:
		return Clock{Frame: frame, Hour12: s.Format == "12h", ShowDate: s.ShowDate}, nil
	case KindTimer:
		duration := 5 * time.Minute
		if s.Duration != "" {
			parsed, err := time.ParseDuration(s.Duration)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("timer duration %q is invalid", s.Duration)
			}
			duration = parsed
		}
		return Timer{Frame: frame, Duration: duration}, nil
	case KindChat:
		messages := make([]ChatMessage, 0, len(s.Messages))
		for _, m := range s.Messages {
			messages = append(messages, ChatMessage{Username: m.Username, Text: m.Text, Color: m.Color})
		}
		return Chat{Frame: frame, MaxMessages: s.MaxMessages, Messages: messages}, nil
	case KindAlerts:
		return Alert{Frame: frame, Type: s.AlertType, Message: s.Message}, nil
	case KindCounter:
		label := s.Label
		if label == "" {
			label = "Count"
		}
		return Counter{Frame: frame, Label: label, Count: s.Count}, nil
	case KindTicker:
		text := s.Text
		if text == "" {
			text = "Breaking News"
		}
		speed := s.Speed
		if speed <= 0 {
			speed = 2
		}
		return Ticker{Frame: frame, Text: text, Speed: speed}, nil
	default:
		return nil, fmt.Errorf("unknown widget type %q", s.Type)
	}
}
