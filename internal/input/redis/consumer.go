package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis consumer.
type Config struct {
	Addr          string
	Password      string
	DB            int
	Key           string
	DeadLetterKey string
	BlockTimeout  time.Duration
}

// Consumer pops raw alert payloads from a Redis list.
type Consumer struct {
	client        *redis.Client
	key           string
	deadLetterKey string
	blockTimeout  time.Duration
}

// NewConsumer creates a Redis consumer for list-based queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewConsumerWithClient(client, cfg)
}

// NewConsumerWithClient wraps an existing client.
func NewConsumerWithClient(client *redis.Client, cfg Config) (*Consumer, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	return &Consumer{
		client:        client,
		key:           cfg.Key,
		deadLetterKey: cfg.DeadLetterKey,
		blockTimeout:  cfg.BlockTimeout,
	}, nil
}

// Pop pops one message from the list. It returns nil, nil when the
// block timeout elapses with the list empty.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if err == redis.Nil {
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

// Push appends a payload to the input list.
func (c *Consumer) Push(ctx context.Context, payload []byte) error {
	return c.client.RPush(ctx, c.key, payload).Err()
}

// Requeue puts a payload back at the head of the input list so it is the
// next one popped.
func (c *Consumer) Requeue(ctx context.Context, payload []byte) error {
	return c.client.LPush(ctx, c.key, payload).Err()
}

type deadLetter struct {
	Reason     string          `json:"reason"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Raw        string          `json:"raw,omitempty"`
}

// DeadLetter parks a payload that could not be scored on the dead letter
// list. It is a no-op when no dead letter key is configured.
func (c *Consumer) DeadLetter(ctx context.Context, payload []byte, reason string) error {
	if c.deadLetterKey == "" {
		return nil
	}
	entry := deadLetter{Reason: reason, ReceivedAt: time.Now().UTC()}
	if json.Valid(payload) {
		entry.Payload = payload
	} else {
		entry.Raw = string(payload)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.RPush(ctx, c.deadLetterKey, data).Err()
}

// Ping checks connectivity.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
