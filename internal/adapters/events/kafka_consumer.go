package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConsumerConfig tunes how inbound clinic topics are read. Zero values
// fall back to the defaults applied by withDefaults.
type KafkaConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string

	MinBytes int
	MaxBytes int
	// MaxWait bounds how long the broker holds a fetch open for MinBytes.
	MaxWait time.Duration
	// ReadTimeout bounds a single read inside Poll; an idle partition ends
	// the batch early instead of blocking the worker tick.
	ReadTimeout time.Duration
	// StartOffset is "earliest" or "latest" and only applies to a group
	// without committed offsets.
	StartOffset string
}

func (c KafkaConsumerConfig) withDefaults() KafkaConsumerConfig {
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10e6
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 500 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 250 * time.Millisecond
	}
	if c.StartOffset == "" {
		c.StartOffset = "earliest"
	}
	return c
}

func (c KafkaConsumerConfig) readerConfig() (kafka.ReaderConfig, error) {
	if len(c.Brokers) == 0 {
		return kafka.ReaderConfig{}, errors.New("kafka consumer requires at least one broker")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return kafka.ReaderConfig{}, errors.New("kafka consumer requires group id")
	}
	if len(c.Topics) == 0 {
		return kafka.ReaderConfig{}, errors.New("kafka consumer requires at least one topic")
	}
	if c.MinBytes > c.MaxBytes {
		return kafka.ReaderConfig{}, fmt.Errorf("kafka consumer min bytes %d exceeds max bytes %d", c.MinBytes, c.MaxBytes)
	}
	var start int64
	switch strings.ToLower(c.StartOffset) {
	case "earliest":
		start = kafka.FirstOffset
	case "latest":
		start = kafka.LastOffset
	default:
		return kafka.ReaderConfig{}, fmt.Errorf("kafka consumer start offset %q is not earliest or latest", c.StartOffset)
	}
	return kafka.ReaderConfig{
		Brokers:     c.Brokers,
		GroupID:     c.GroupID,
		GroupTopics: c.Topics,
		MinBytes:    c.MinBytes,
		MaxBytes:    c.MaxBytes,
		MaxWait:     c.MaxWait,
		StartOffset: start,
	}, nil
}

// KafkaConsumer reads inbound clinic events for the consumer worker.
type KafkaConsumer struct {
	reader      *kafka.Reader
	readTimeout time.Duration
}

func NewKafkaConsumer(cfg KafkaConsumerConfig) (*KafkaConsumer, error) {
	cfg = cfg.withDefaults()
	readerCfg, err := cfg.readerConfig()
	if err != nil {
		return nil, err
	}
	return &KafkaConsumer{reader: kafka.NewReader(readerCfg), readTimeout: cfg.ReadTimeout}, nil
}

// Poll returns up to max messages. It stops early when a read times out
// with nothing pending, and returns ctx.Err() once the caller gives up.
func (c *KafkaConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	out := make([]Message, 0, max)
	for len(out) < max {
		readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
		msg, err := c.reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return out, nil
			}
			return out, fmt.Errorf("read %v: %w", c.reader.Config().GroupTopics, err)
		}
		out = append(out, Message{Topic: msg.Topic, Key: string(msg.Key), Payload: msg.Value})
	}
	return out, nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
