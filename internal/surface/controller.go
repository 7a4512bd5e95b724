// Package surface controls the headless Chromium page that renders the
// compositor overlay. It knows nothing about encoding.
package surface

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"livestream-studio/internal/audio"
)

var (
	// ErrSurfaceLaunch marks a browser that could not be started.
	ErrSurfaceLaunch = errors.New("surface launch failed")
	// ErrNavigationTimeout marks a page that did not become ready in time.
	ErrNavigationTimeout = errors.New("surface navigation timed out")
	// ErrCaptureUnavailable marks a capture request on a page that is not ready.
	ErrCaptureUnavailable = errors.New("surface capture unavailable")
)

const (
	DefaultWidth              = 1920
	DefaultHeight             = 1080
	DefaultNavigationTimeout  = 60 * time.Second
	DefaultSnapshotQuality    = 50
	DefaultScreencastQuality  = 80
	defaultSnapshotTimeout    = 5 * time.Second
	defaultScreencastStopWait = 2 * time.Second
	defaultSinkRemoveWait     = 5 * time.Second
)

// Viewport is the page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

func (v Viewport) withDefaults() Viewport {
	if v.Width <= 0 {
		v.Width = DefaultWidth
	}
	if v.Height <= 0 {
		v.Height = DefaultHeight
	}
	return v
}

// Region selects part of the viewport. The zero value means the whole page.
type Region struct {
	X, Y          float64
	Width, Height float64
}

func (r Region) isZero() bool {
	return r.Width <= 0 || r.Height <= 0
}

// CaptureMode selects how frames leave the page.
type CaptureMode string

const (
	// CaptureScreencast streams JPEG frames over the DevTools protocol.
	CaptureScreencast CaptureMode = "screencast"
	// CaptureDisplay yields no frames; the encoder reads the X display.
	CaptureDisplay CaptureMode = "display"
)

// CaptureOptions tunes CaptureMediaStream.
type CaptureOptions struct {
	Mode    CaptureMode
	Quality int
	// Timeout bounds the screencast start. Zero waits as long as ctx allows.
	Timeout time.Duration
	Buffer  int
	// FrameRate is the rate the encoder expects. While the page is idle the
	// last screencast frame is repeated at this rate. Zero disables repeats.
	FrameRate int
}

// AudioSinks allocates a private audio output for the browser.
type AudioSinks interface {
	Create(ctx context.Context) (audio.Sink, error)
	Remove(ctx context.Context, sink audio.Sink) error
}

// Options configures the browser.
type Options struct {
	ExecPath        string
	Headless        bool
	NoSandbox       bool
	Display         string
	UserDataDir     string
	SnapshotQuality int
	// Audio, when set, gives each launch its own sink so the page audio can
	// be recorded. Without it the page plays into the default output and
	// captures carry no audio source.
	Audio  AudioSinks
	Logger *slog.Logger
}

type state int

const (
	stateIdle state = iota
	stateLaunched
	stateReady
	stateClosing
)

// Controller owns one browser instance and its single page.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	state        state
	viewport     Viewport
	tabCtx       context.Context
	tabCancel    context.CancelFunc
	allocCancel  context.CancelFunc
	stream       *frameStream
	navigatedURL string
	sink         audio.Sink
}

// NewController returns an idle controller.
func NewController(opts Options) *Controller {
	if opts.SnapshotQuality <= 0 || opts.SnapshotQuality > 100 {
		opts.SnapshotQuality = DefaultSnapshotQuality
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, logger: logger}
}

func (c *Controller) allocatorOptions(vp Viewport, sink audio.Sink) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.WindowSize(vp.Width, vp.Height),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-extensions", true),
	}
	if c.opts.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("kiosk", true))
	}
	if c.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if path := strings.TrimSpace(c.opts.ExecPath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	if dir := strings.TrimSpace(c.opts.UserDataDir); dir != "" {
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	if display := strings.TrimSpace(c.opts.Display); display != "" {
		opts = append(opts, chromedp.Env("DISPLAY="+display))
	}
	if sink.Name != "" {
		opts = append(opts, chromedp.Env("PULSE_SINK="+sink.Name))
	}
	return opts
}

// Launch starts the browser and sizes its page to vp. The browser outlives
// ctx, which only bounds the launch itself.
func (c *Controller) Launch(ctx context.Context, vp Viewport) error {
	vp = vp.withDefaults()

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: surface already launched", ErrSurfaceLaunch)
	}
	c.state = stateLaunched
	c.mu.Unlock()

	var sink audio.Sink
	if c.opts.Audio != nil {
		created, err := c.opts.Audio.Create(ctx)
		if err != nil {
			c.release()
			return fmt.Errorf("%w: %w", ErrSurfaceLaunch, err)
		}
		sink = created
	}

	c.mu.Lock()
	if c.state != stateLaunched {
		c.mu.Unlock()
		c.removeSink(sink)
		return fmt.Errorf("%w: surface closed during launch", ErrSurfaceLaunch)
	}
	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, c.allocatorOptions(vp, sink)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			c.logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			c.logger.Warn(fmt.Sprintf(format, args...))
		}),
	)
	c.sink = sink
	c.viewport = vp
	c.tabCtx = tabCtx
	c.tabCancel = tabCancel
	c.allocCancel = allocCancel
	c.mu.Unlock()

	// The first Run allocates the browser and binds its lifetime to the
	// context it is given, so it must run on tabCtx itself.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)))
	stop()
	if err != nil {
		c.release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrSurfaceLaunch, ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrSurfaceLaunch, err)
	}
	c.logger.Info("surface launched", "width", vp.Width, "height", vp.Height, "headless", c.opts.Headless, "audio_sink", sink.Name)
	return nil
}

// NavigateAndWaitReady loads url and blocks until the document body exists.
func (c *Controller) NavigateAndWaitReady(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	c.mu.Lock()
	if (c.state != stateLaunched && c.state != stateReady) || c.tabCtx == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: surface is not launched", ErrSurfaceLaunch)
	}
	tabCtx := c.tabCtx
	c.mu.Unlock()

	navCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("navigate %s: %w", url, ctxErr)
		}
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s not ready after %s", ErrNavigationTimeout, url, timeout)
		}
		return fmt.Errorf("%w: navigate %s: %w", ErrSurfaceLaunch, url, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateLaunched && c.state != stateReady {
		return fmt.Errorf("%w: surface closed during navigation", ErrSurfaceLaunch)
	}
	c.state = stateReady
	c.navigatedURL = url
	c.logger.Info("surface ready", "url", url)
	return nil
}

// CaptureMediaStream starts a live capture of the ready page. Video is a
// screencast of JPEG frames, or nothing in display mode where the encoder
// grabs the screen itself. Audio is not in the byte stream: when the
// browser plays into a sink of its own, AudioSource on the result names
// that sink's monitor for the encoder to record.
func (c *Controller) CaptureMediaStream(ctx context.Context, opts CaptureOptions) (MediaStream, error) {
	c.mu.Lock()
	if c.state != stateReady {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: page is not ready", ErrCaptureUnavailable)
	}
	if c.stream != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: capture already active", ErrCaptureUnavailable)
	}
	tabCtx := c.tabCtx
	vp := c.viewport
	audioSource := c.sink.Monitor()
	c.mu.Unlock()

	if opts.Mode == CaptureDisplay {
		return emptyStream{audio: audioSource}, nil
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultScreencastQuality
	}

	listenCtx, stopListening := context.WithCancel(tabCtx)
	var repeat time.Duration
	if opts.FrameRate > 0 {
		repeat = time.Second / time.Duration(opts.FrameRate)
	}
	var stream *frameStream
	stream = newFrameStream(FormatMJPEG, opts.Buffer, repeat, func() {
		stopCtx, cancel := context.WithTimeout(listenCtx, defaultScreencastStopWait)
		_ = chromedp.Run(stopCtx, page.StopScreencast())
		cancel()
		stopListening()
		c.mu.Lock()
		if c.stream == stream {
			c.stream = nil
		}
		c.mu.Unlock()
	})
	stream.audio = audioSource

	chromedp.ListenTarget(listenCtx, func(ev any) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		go func() {
			if data, err := base64.StdEncoding.DecodeString(frame.Data); err == nil {
				stream.push(data)
			}
			_ = chromedp.Run(listenCtx, chromedp.ActionFunc(func(ctx context.Context) error {
				return page.ScreencastFrameAck(frame.SessionID).Do(ctx)
			}))
		}()
	})

	var (
		startCtx context.Context
		cancel   context.CancelFunc
	)
	if opts.Timeout > 0 {
		startCtx, cancel = context.WithTimeout(listenCtx, opts.Timeout)
	} else {
		startCtx, cancel = context.WithCancel(listenCtx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(startCtx, page.StartScreencast().
		WithFormat(page.ScreencastFormatJpeg).
		WithQuality(int64(quality)).
		WithMaxWidth(int64(vp.Width)).
		WithMaxHeight(int64(vp.Height)).
		WithEveryNthFrame(1))
	if err != nil {
		stopListening()
		_ = stream.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: start screencast: %w", ErrCaptureUnavailable, err)
	}

	c.mu.Lock()
	if c.state != stateReady {
		c.mu.Unlock()
		_ = stream.Close()
		return nil, fmt.Errorf("%w: surface closed during capture start", ErrCaptureUnavailable)
	}
	c.stream = stream
	c.mu.Unlock()
	return stream, nil
}

// TakeSnapshot returns a JPEG of region, or nil when the page is not ready,
// is being torn down, or the capture fails. It never returns an error so
// pollers can treat nil as a skipped tick.
func (c *Controller) TakeSnapshot(ctx context.Context, region Region) []byte {
	c.mu.Lock()
	if c.state != stateReady {
		c.mu.Unlock()
		return nil
	}
	tabCtx := c.tabCtx
	vp := c.viewport
	c.mu.Unlock()

	if region.isZero() {
		region = Region{Width: float64(vp.Width), Height: float64(vp.Height)}
	}

	snapCtx, cancel := context.WithTimeout(tabCtx, defaultSnapshotTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	err := chromedp.Run(snapCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(c.opts.SnapshotQuality)).
			WithClip(&page.Viewport{X: region.X, Y: region.Y, Width: region.Width, Height: region.Height, Scale: 1}).
			Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil
	}
	return buf
}

// URL returns the page the surface last became ready on.
func (c *Controller) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigatedURL
}

// Close releases the browser and any active capture. It is safe to call
// repeatedly and after a failed Launch.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == stateIdle || c.state == stateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosing
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	c.release()
	c.logger.Info("surface closed")
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	tabCtx := c.tabCtx
	tabCancel := c.tabCancel
	allocCancel := c.allocCancel
	sink := c.sink
	c.tabCtx = nil
	c.tabCancel = nil
	c.allocCancel = nil
	c.stream = nil
	c.navigatedURL = ""
	c.sink = audio.Sink{}
	c.mu.Unlock()

	if tabCtx != nil {
		// Cancel closes the browser gracefully when it is still reachable.
		if err := chromedp.Cancel(tabCtx); err != nil && tabCancel != nil {
			tabCancel()
		}
	}
	if tabCancel != nil {
		tabCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
	// The browser is gone, so nothing plays into the sink any more.
	c.removeSink(sink)

	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()
}

func (c *Controller) removeSink(sink audio.Sink) {
	if sink.Name == "" || c.opts.Audio == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultSinkRemoveWait)
	defer cancel()
	if err := c.opts.Audio.Remove(ctx, sink); err != nil {
		c.logger.Warn("remove audio sink", "sink", sink.Name, "error", err)
	}
}
