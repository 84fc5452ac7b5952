package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Config holds NATS client configuration
type Config struct {
	URL           string        `yaml:"url" default:"nats://127.0.0.1:4222" validate:"required"`
	StreamName    string        `yaml:"stream" default:"fractal" validate:"required"`
	MaxDeliver    int           `yaml:"max_deliver" default:"5" validate:"gte=1"`
	AckWait       time.Duration `yaml:"ack_wait" default:"30s"`
	RetryAttempts int           `yaml:"retry_attempts" default:"3"`
	RetryDelay    time.Duration `yaml:"retry_delay" default:"1s"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:           "nats://127.0.0.1:4222",
		StreamName:    "fractal",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// ErrMalformed marks a message that can never be processed; it is terminated instead of redelivered
var ErrMalformed = errors.New("malformed message")

// Client wraps NATS JetStream functionality
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
	log    zerolog.Logger
}

// NewClient creates a new NATS client with JetStream support
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	log = log.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.RetryAttempts),
		nats.ReconnectWait(cfg.RetryDelay),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Client{
		nc:     nc,
		js:     js,
		config: cfg,
		log:    log,
	}, nil
}

// CreateStream creates a JetStream stream for message persistence
func (c *Client) CreateStream(ctx context.Context, subjects []string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.config.StreamName,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish publishes a message to a subject
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// MessageHandler processes one message payload
type MessageHandler func(ctx context.Context, data []byte) error

// Backoff returns the redelivery delays for maxDeliver attempts, doubling from base
func Backoff(base time.Duration, maxDeliver int) []time.Duration {
	if maxDeliver <= 1 {
		return nil
	}
	delays := make([]time.Duration, maxDeliver-1)
	d := base
	for i := range delays {
		delays[i] = d
		d *= 2
	}
	return delays
}

// Subscribe creates a durable consumer and subscribes to messages. Failed messages
// are redelivered with backoff up to MaxDeliver times; ErrMalformed terminates them.
func (c *Client) Subscribe(ctx context.Context, subject string, consumerName string, handler MessageHandler) (jetstream.ConsumeContext, error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.config.StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    c.config.MaxDeliver,
		BackOff:       Backoff(time.Second, c.config.MaxDeliver),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		err := handler(ctx, msg.Data())
		switch {
		case err == nil:
			msg.Ack()
		case errors.Is(err, ErrMalformed):
			c.log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed message")
			msg.Term()
		default:
			c.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("message failed, will be redelivered")
			msg.Nak()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return consumeCtx, nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c.nc != nil {
		if err := c.nc.Drain(); err != nil {
			c.nc.Close()
		}
	}
}
