package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Client manages Milvus connections
type Client struct {
	conn   client.Client
	addr   string
	shards int32
}

// Config holds Milvus connection configuration
type Config struct {
	Addr     string `yaml:"addr" default:"localhost:19530"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Shards   int32  `yaml:"shards" default:"2"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:19530",
		Shards:  2,
	}
}

// NewClient creates a new Milvus client
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	mc := client.Config{Address: cfg.Addr}
	if cfg.Username != "" && cfg.Password != "" {
		mc.Username = cfg.Username
		mc.Password = cfg.Password
	}

	conn, err := client.NewClient(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	shards := cfg.Shards
	if shards <= 0 {
		shards = 2
	}
	return &Client{
		conn:   conn,
		addr:   cfg.Addr,
		shards: shards,
	}, nil
}

// Close closes the Milvus connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// HasCollection checks if a collection exists
func (c *Client) HasCollection(ctx context.Context, name string) (bool, error) {
	return c.conn.HasCollection(ctx, name)
}

// createIndex creates a cosine IVF_FLAT index on the embedding field
func (c *Client) createIndex(ctx context.Context, collectionName string) error {
	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return c.conn.CreateIndex(ctx, collectionName, embeddingField, idx, false)
}

// LoadCollection loads a collection into memory
func (c *Client) LoadCollection(ctx context.Context, collectionName string) error {
	return c.conn.LoadCollection(ctx, collectionName, false)
}

// Flush flushes the collection to ensure data persistence
func (c *Client) Flush(ctx context.Context, collectionName string) error {
	return c.conn.Flush(ctx, collectionName, false)
}
