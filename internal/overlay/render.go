package overlay

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"regexp"
	"strconv"
	"time"
)

var colorPattern = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|rgba?\(\s*[\d.]+%?\s*(,\s*[\d.]+%?\s*){2,3}\)|[a-zA-Z]{3,20})$`)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
html, body { margin: 0; padding: 0; overflow: hidden; }
.widget { position: absolute; box-sizing: border-box; border-radius: 8px; font-family: Arial, sans-serif; }
.centered { display: flex; flex-direction: column; align-items: center; justify-content: center; font-weight: bold; }
.ticker-widget span { position: absolute; white-space: nowrap; top: 50%; transform: translateY(-50%); }
</style>
</head>
<body style="{{.BodyStyle}}">
{{range .Widgets}}{{.}}
{{end}}<script>
(function () {
  function pad(n) { return String(n).padStart(2, "0"); }
  function tick() {
    var now = new Date();
    document.querySelectorAll(".clock-widget").forEach(function (el) {
      var h12 = el.dataset.hour12 === "true";
      el.querySelector(".time").textContent = now.toLocaleTimeString("en-US", { hour12: h12 });
      var date = el.querySelector(".date");
      if (date) { date.textContent = now.toLocaleDateString(); }
    });
    document.querySelectorAll(".timer-widget").forEach(function (el) {
      var left = Math.max(0, parseInt(el.dataset.remaining, 10) - 1);
      el.dataset.remaining = left;
      el.textContent = pad(Math.floor(left / 60)) + ":" + pad(left % 60);
    });
  }
  function scroll() {
    document.querySelectorAll(".ticker-widget").forEach(function (el) {
      var span = el.querySelector("span");
      var width = el.clientWidth;
      var offset = (parseFloat(span.dataset.offset || width)) - parseFloat(el.dataset.speed);
      if (offset < -span.offsetWidth) { offset = width; }
      span.dataset.offset = offset;
      span.style.left = offset + "px";
    });
    window.requestAnimationFrame(scroll);
  }
  setInterval(tick, 1000);
  window.requestAnimationFrame(scroll);
})();
</script>
</body>
</html>
`))

var widgetTemplates = template.Must(template.New("widgets").Parse(`
{{define "clock"}}<div id="{{.ID}}" class="widget centered clock-widget" data-hour12="{{.Hour12}}" style="{{.Style}}"><div class="time">{{.Time}}</div>{{if .ShowDate}}<div class="date" style="{{.DateStyle}}">{{.Date}}</div>{{end}}</div>{{end}}
{{define "timer"}}<div id="{{.ID}}" class="widget centered timer-widget" data-remaining="{{.Seconds}}" style="{{.Style}}">{{.Display}}</div>{{end}}
{{define "chat"}}<div id="{{.ID}}" class="widget chat-widget" style="{{.Style}}">{{range .Messages}}<div class="chat-message"><span class="user" style="{{.Style}}">{{.Username}}:</span> <span>{{.Text}}</span></div>{{else}}<div class="chat-empty" style="color: #666666;">No messages</div>{{end}}</div>{{end}}
{{define "alerts"}}{{if .Message}}<div id="{{.ID}}" class="widget centered alert-widget" style="{{.Style}}"><span class="icon">{{.Icon}}</span><span>{{.Message}}</span></div>{{else}}<div id="{{.ID}}" class="widget alert-widget" style="display: none;"></div>{{end}}{{end}}
{{define "counter"}}<div id="{{.ID}}" class="widget centered counter-widget" style="{{.Style}}"><div class="label" style="{{.LabelStyle}}">{{.Label}}</div><div class="count">{{.Count}}</div></div>{{end}}
{{define "ticker"}}<div id="{{.ID}}" class="widget ticker-widget" data-speed="{{.Speed}}" style="{{.Style}}"><span>{{.Text}}</span></div>{{end}}
`))

type pageData struct {
	Title     string
	BodyStyle template.CSS
	Widgets   []template.HTML
}

// Render writes the compositor document for layout. now fixes the initial
// clock text; the page keeps it current afterwards.
func Render(w io.Writer, layout Layout, now time.Time) error {
	data := pageData{
		Title: layout.Title,
		BodyStyle: template.CSS(fmt.Sprintf("width: %dpx; height: %dpx; background: %s;",
			layout.Width, layout.Height, safeColor(layout.Background, "#000000"))),
		Widgets: make([]template.HTML, 0, len(layout.Widgets)),
	}
	for i, widget := range layout.Widgets {
		html, err := renderWidget(widget, now, i)
		if err != nil {
			return err
		}
		if html != "" {
			data.Widgets = append(data.Widgets, html)
		}
	}
	return pageTemplate.Execute(w, data)
}

func renderWidget(widget Widget, now time.Time, index int) (template.HTML, error) {
	frame := widget.Placement()
	if frame.Hidden {
		return "", nil
	}
	id := frame.ID
	if id == "" {
		id = fmt.Sprintf("%s-%d", widget.Kind(), index)
	}
	style := frameStyle(frame)

	var (
		name string
		data any
	)
	switch w := widget.(type) {
	case Clock:
		layout := "15:04:05"
		if w.Hour12 {
			layout = "3:04:05 PM"
		}
		name = "clock"
		data = struct {
			ID, Time, Date   string
			Hour12, ShowDate bool
			Style, DateStyle template.CSS
		}{id, now.Format(layout), now.Format("1/2/2006"), w.Hour12, w.ShowDate, style,
			template.CSS(fmt.Sprintf("font-size: %dpx;", frame.FontSize/2))}
	case Timer:
		seconds := int(w.Duration / time.Second)
		name = "timer"
		data = struct {
			ID, Display string
			Seconds     int
			Style       template.CSS
		}{id, fmt.Sprintf("%02d:%02d", seconds/60, seconds%60), seconds, style}
	case Chat:
		type line struct {
			Username, Text string
			Style          template.CSS
		}
		lines := make([]line, 0, len(w.Messages))
		for _, m := range w.visibleMessages() {
			lines = append(lines, line{m.Username, m.Text,
				template.CSS("font-weight: bold; color: " + safeColor(m.Color, "#ffffff") + ";")})
		}
		name = "chat"
		data = struct {
			ID       string
			Messages []line
			Style    template.CSS
		}{id, lines, style + "padding: 10px; overflow-y: auto;"}
	case Alert:
		name = "alerts"
		data = struct {
			ID, Icon, Message string
			Style             template.CSS
		}{id, w.icon(), w.Message, style}
	case Counter:
		name = "counter"
		data = struct {
			ID, Label  string
			Count      int
			Style      template.CSS
			LabelStyle template.CSS
		}{id, w.Label, w.Count, style,
			template.CSS(fmt.Sprintf("font-size: %dpx; opacity: 0.8;", frame.FontSize*6/10))}
	case Ticker:
		name = "ticker"
		data = struct {
			ID, Text, Speed string
			Style           template.CSS
		}{id, w.Text, strconv.Itoa(w.Speed), style}
	default:
		return "", fmt.Errorf("unsupported widget %T", widget)
	}

	var buf bytes.Buffer
	if err := widgetTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s widget: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

// frameStyle is built in Go because html/template rejects parentheses in
// CSS values, which rgba() colors need. Colors are checked against
// colorPattern first.
func frameStyle(f Frame) template.CSS {
	return template.CSS(fmt.Sprintf(
		"left: %dpx; top: %dpx; width: %dpx; height: %dpx; font-size: %dpx; color: %s; background: %s;",
		f.X, f.Y, f.Width, f.Height, f.FontSize, safeColor(f.FontColor, "#ffffff"), safeColor(f.Background, "transparent")))
}

func safeColor(value, fallback string) string {
	if colorPattern.MatchString(value) {
		return value
	}
	return fallback
}
