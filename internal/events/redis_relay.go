package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisRelayConfig configures the Redis stream sink.
type RedisRelayConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	StreamPrefix string
	// MaxLen caps each stream approximately. Zero keeps every entry.
	MaxLen       int64
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisRelay appends every event to a Redis stream named after its topic so
// other processes can follow sessions without holding a websocket.
type RedisRelay struct {
	client streamClient
	prefix string
	maxLen int64
	logger *slog.Logger
}

// NewRedisRelay connects to Redis. The caller is responsible for ensuring
// the instance is reachable; use Ping to check.
func NewRedisRelay(cfg RedisRelayConfig) (*RedisRelay, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	return newRedisRelay(client, cfg), nil
}

func newRedisRelay(client streamClient, cfg RedisRelayConfig) *RedisRelay {
	prefix := strings.TrimSpace(cfg.StreamPrefix)
	if prefix == "" {
		prefix = "studio:events"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, prefix: prefix, maxLen: cfg.MaxLen, logger: logger}
}

// Stream returns the stream key used for topic.
func (r *RedisRelay) Stream(topic string) string {
	return r.prefix + ":" + normalizeTopic(topic)
}

// Forward appends evt to the topic stream.
func (r *RedisRelay) Forward(ctx context.Context, topic string, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.Stream(topic),
		Values: map[string]any{
			"type":    string(evt.Type),
			"payload": string(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
