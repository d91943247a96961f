package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/store"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Key holds the latest reading; Channel receives every reading.
	Key     string
	Channel string
	TTL     time.Duration
	Device  string
}

// RedisSink stores the latest reading under a key and publishes it on a channel.
type RedisSink struct {
	client *redis.Client
	opts   RedisOptions
	logger *logrus.Logger
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, opts RedisOptions, logger *logrus.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisSink(client, opts, logger), nil
}

func NewRedisSink(client *redis.Client, opts RedisOptions, logger *logrus.Logger) *RedisSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisSink{client: client, opts: opts, logger: logger}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, r store.Reading) error {
	payload, err := Encode(r, s.opts.Device)
	if err != nil {
		return err
	}

	if s.opts.Key != "" {
		if err := s.client.Set(ctx, s.opts.Key, payload, s.opts.TTL).Err(); err != nil {
			return fmt.Errorf("failed to set %s: %w", s.opts.Key, err)
		}
	}
	if s.opts.Channel != "" {
		if err := s.client.Publish(ctx, s.opts.Channel, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", s.opts.Channel, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"key":       s.opts.Key,
		"channel":   s.opts.Channel,
		"timestamp": r.Timestamp,
	}).Debug("Reading published to redis")
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
