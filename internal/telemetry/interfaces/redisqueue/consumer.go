package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"leakwatch/internal/observability/metrics"
	telemetry "leakwatch/internal/telemetry/domain"
)

const (
	DefaultKey          = "leakwatch:readings"
	defaultBlockTimeout = 5 * time.Second
	defaultErrorBackoff = time.Second
	defaultAppendBudget = 5 * time.Second
)

// Config configures the Redis consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Popper is the blocking list pop used by the consumer.
type Popper interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Appender stores a raw uplink payload.
type Appender interface {
	AppendPayload(ctx context.Context, body []byte) (int64, error)
}

// Consumer drains readings pushed onto a Redis list by a gateway.
type Consumer struct {
	popper       Popper
	closer       func() error
	appender     Appender
	key          string
	blockTimeout time.Duration
	backoff      time.Duration
	logger       *log.Logger
}

// NewConsumer creates a consumer backed by a new Redis client.
func NewConsumer(cfg Config, appender Appender, logger *log.Logger) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c, err := NewConsumerWithPopper(client, cfg, appender, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.closer = client.Close
	return c, nil
}

// NewConsumerWithPopper creates a consumer over an existing popper.
func NewConsumerWithPopper(popper Popper, cfg Config, appender Appender, logger *log.Logger) (*Consumer, error) {
	if popper == nil {
		return nil, errors.New("redis consumer: nil popper")
	}
	if appender == nil {
		return nil, errors.New("redis consumer: nil appender")
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{
		popper:       popper,
		appender:     appender,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
		backoff:      defaultErrorBackoff,
		logger:       logger,
	}, nil
}

// Pop pops one message from the list. A nil payload means the block timed out.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.popper.BLPop(ctx, c.blockTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Run pops and appends readings until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Printf("redis consumer: listening key=%s", c.key)
	for ctx.Err() == nil {
		payload, err := c.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Printf("redis consumer: pop error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		if payload == nil {
			continue
		}
		if err := c.handle(ctx, payload); err != nil {
			c.logger.Printf("redis consumer: %v", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultAppendBudget)
	defer cancel()
	_, err := c.appender.AppendPayload(appendCtx, payload)
	switch {
	case err == nil:
		metrics.IncUplinkMessage("redis", metrics.ResultSuccess)
		return nil
	case errors.Is(err, telemetry.ErrInvalidInput):
		metrics.IncUplinkMessage("redis", metrics.ResultInvalid)
		return fmt.Errorf("invalid payload dropped: %w", err)
	default:
		metrics.IncUplinkMessage("redis", metrics.ResultError)
		return fmt.Errorf("append error: %w", err)
	}
}

// Close closes the underlying client when the consumer owns it.
func (c *Consumer) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}
