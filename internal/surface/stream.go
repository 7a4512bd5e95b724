package surface

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// MediaStream is a live capture of the page. Reading yields encoded frames
// in the container named by Format. AudioSource names the PulseAudio source
// carrying the page audio, or "" when the browser has no sink of its own.
type MediaStream interface {
	io.ReadCloser
	Format() string
	AudioSource() string
}

const (
	FormatMJPEG = "mjpeg"
	FormatNone  = "none"
)

// frameStream turns pushed frames into a byte stream. Frames are queued in a
// bounded channel and dropped when the reader falls behind. With a non-zero
// interval the last frame is written again on every tick that saw no new
// frame, so a page that stops repainting still yields a steady frame rate.
type frameStream struct {
	format   string
	audio    string
	interval time.Duration
	frames   chan []byte
	done     chan struct{}
	pr       *io.PipeReader
	pw       *io.PipeWriter

	closeOnce sync.Once
	onClose   func()
	dropped   atomic.Uint64
	written   atomic.Uint64
	repeated  atomic.Uint64
}

func newFrameStream(format string, buffer int, interval time.Duration, onClose func()) *frameStream {
	if buffer <= 0 {
		buffer = 16
	}
	pr, pw := io.Pipe()
	s := &frameStream{
		format:   format,
		interval: interval,
		frames:   make(chan []byte, buffer),
		done:     make(chan struct{}),
		pr:       pr,
		pw:       pw,
		onClose:  onClose,
	}
	go s.pump()
	return s
}

func (s *frameStream) pump() {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	var (
		last  []byte
		fresh bool
	)
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.frames:
			if _, err := s.pw.Write(frame); err != nil {
				return
			}
			s.written.Add(1)
			last, fresh = frame, true
		case <-tick:
			if fresh || last == nil {
				fresh = false
				continue
			}
			if _, err := s.pw.Write(last); err != nil {
				return
			}
			s.repeated.Add(1)
		}
	}
}

// push queues a frame without blocking.
func (s *frameStream) push(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- frame:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *frameStream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

func (s *frameStream) Format() string {
	return s.format
}

func (s *frameStream) AudioSource() string {
	return s.audio
}

// Repeated reports how many idle ticks re-sent the last frame.
func (s *frameStream) Repeated() uint64 {
	return s.repeated.Load()
}

// Dropped reports how many frames were discarded because the reader was slow.
func (s *frameStream) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *frameStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.pw.CloseWithError(io.EOF)
		_ = s.pr.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// emptyStream is returned when the encoder grabs the display itself and no
// frames flow through the process.
type emptyStream struct {
	audio string
}

func (emptyStream) Read([]byte) (int, error) { return 0, io.EOF }
func (emptyStream) Close() error             { return nil }
func (emptyStream) Format() string           { return FormatNone }
func (s emptyStream) AudioSource() string    { return s.audio }
