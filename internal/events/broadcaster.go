package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBuffer     = 64
	defaultSinkBuffer = 256
	sinkTimeout       = 5 * time.Second
)

// Handler receives events for one subscription. Handlers run on the
// subscription's own goroutine and never on the publisher's.
type Handler func(Event)

// Sink forwards events outside the process, for example to Redis.
type Sink interface {
	Forward(ctx context.Context, topic string, evt Event) error
}

// Options tunes a Broadcaster.
type Options struct {
	// Buffer is the per-subscriber queue length.
	Buffer int
	// SinkBuffer is the queue length shared by all sinks.
	SinkBuffer int
	Logger     *slog.Logger
	// OnDrop is called whenever an event is discarded for a slow consumer.
	OnDrop func(topic string)
}

type sinkItem struct {
	topic string
	evt   Event
}

// Broadcaster delivers events to subscribers of a topic. The topic table is
// guarded by a RWMutex: subscribe and unsubscribe take the write lock and
// publish takes the read lock. Sends never block; a full subscriber queue
// drops the event for that subscriber only.
type Broadcaster struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	sinks  []Sink
	closed bool

	sinkCh   chan sinkItem
	sinkDone chan struct{}
	sinkOnce sync.Once

	dropped atomic.Uint64
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(opts Options) *Broadcaster {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.SinkBuffer <= 0 {
		opts.SinkBuffer = defaultSinkBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		opts:   opts,
		logger: logger,
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription is a registered observer. Close it (or pass it to
// Unsubscribe) to stop delivery; both are idempotent.
type Subscription struct {
	topic   string
	owner   *Broadcaster
	handler Handler
	ch      chan Event
	done    chan struct{}
	once    sync.Once
}

// Topic returns the topic the subscription listens on.
func (s *Subscription) Topic() string {
	return s.topic
}

// Done is closed after the last event has been handed to the handler.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.owner.Unsubscribe(s)
}

func (s *Subscription) run() {
	defer close(s.done)
	for evt := range s.ch {
		if s.handler != nil {
			s.handler(evt)
		}
	}
}

// Subscribe registers handler for topic. Subscribing to a closed
// broadcaster returns a subscription that is already done.
func (b *Broadcaster) Subscribe(topic string, handler Handler) *Subscription {
	sub := &Subscription{
		topic:   normalizeTopic(topic),
		owner:   b,
		handler: handler,
		ch:      make(chan Event, b.opts.Buffer),
		done:    make(chan struct{}),
	}
	go sub.run()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	subs, ok := b.topics[sub.topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[sub.topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Unsubscribe stops delivery to sub. Events already queued are still
// handed to its handler.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	b.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Publish delivers evt to every subscriber of topic and queues it for the
// sinks. It never blocks.
func (b *Broadcaster) Publish(topic string, evt Event) {
	topic = normalizeTopic(topic)
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- evt:
		default:
			b.drop(topic)
		}
	}
	if b.sinkCh != nil {
		select {
		case b.sinkCh <- sinkItem{topic: topic, evt: evt}:
		default:
			b.drop(topic)
		}
	}
	b.mu.RUnlock()
}

// AddSink registers an external sink. Sinks receive every event from a
// single background goroutine.
func (b *Broadcaster) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.sinks = append(b.sinks, sink)
	b.sinkOnce.Do(func() {
		b.sinkCh = make(chan sinkItem, b.opts.SinkBuffer)
		b.sinkDone = make(chan struct{})
		go b.forward(b.sinkCh, b.sinkDone)
	})
}

func (b *Broadcaster) forward(items <-chan sinkItem, done chan<- struct{}) {
	defer close(done)
	for item := range items {
		b.mu.RLock()
		sinks := append([]Sink(nil), b.sinks...)
		b.mu.RUnlock()
		for _, sink := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := sink.Forward(ctx, item.topic, item.evt); err != nil {
				b.logger.Warn("event sink forward failed", "topic", item.topic, "type", item.evt.Type, "error", err)
			}
			cancel()
		}
	}
}

// Dropped returns how many deliveries were discarded.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of subscribers of topic.
func (b *Broadcaster) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[normalizeTopic(topic)])
}

// Close ends every subscription and drains the sink queue.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*Subscription
	for _, set := range b.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	b.topics = make(map[string]map[*Subscription]struct{})
	sinkCh := b.sinkCh
	sinkDone := b.sinkDone
	b.sinkCh = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	if sinkCh != nil {
		close(sinkCh)
		<-sinkDone
	}
}

func (b *Broadcaster) drop(topic string) {
	b.dropped.Add(1)
	if b.opts.OnDrop != nil {
		b.opts.OnDrop(topic)
	}
}

func normalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return GlobalTopic
	}
	return topic
}
