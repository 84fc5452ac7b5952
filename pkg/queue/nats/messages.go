package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/persist"
)

// SubjectFeatureUpsert carries feature store upserts from the engine to the writer
const SubjectFeatureUpsert = "fractal.features.upsert"

// FeatureWriteMsg is one feature store upsert on the wire
type FeatureWriteMsg struct {
	Meta       model.WindowMeta     `json:"meta"`
	Features   model.WindowFeatures `json:"features"`
	Prediction model.Prediction     `json:"prediction"`
	Label      *model.Label         `json:"label,omitempty"`
}

// Encode serializes a message to JSON bytes
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeFeatureWrite deserializes a FeatureWriteMsg from JSON bytes
func DecodeFeatureWrite(data []byte) (*FeatureWriteMsg, error) {
	var msg FeatureWriteMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Meta.WindowID == "" {
		return nil, fmt.Errorf("%w: missing window_id", ErrMalformed)
	}
	return &msg, nil
}

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// FeaturePublisher is a feature store that forwards upserts to JetStream
type FeaturePublisher struct {
	pub publisher
}

// NewFeaturePublisher creates a publisher on top of a connected client
func NewFeaturePublisher(c *Client) *FeaturePublisher {
	return &FeaturePublisher{pub: c}
}

// UpsertWindow publishes the record on SubjectFeatureUpsert
func (p *FeaturePublisher) UpsertWindow(ctx context.Context, meta model.WindowMeta, f model.WindowFeatures, pred model.Prediction, label *model.Label) error {
	data, err := Encode(FeatureWriteMsg{Meta: meta, Features: f, Prediction: pred, Label: label})
	if err != nil {
		return fmt.Errorf("encode feature write: %w", err)
	}
	return p.pub.Publish(ctx, SubjectFeatureUpsert, data)
}

// FeatureWriteHandler applies decoded upserts to store
func FeatureWriteHandler(store persist.FeatureStore) MessageHandler {
	return func(ctx context.Context, data []byte) error {
		msg, err := DecodeFeatureWrite(data)
		if err != nil {
			return err
		}
		return store.UpsertWindow(ctx, msg.Meta, msg.Features, msg.Prediction, msg.Label)
	}
}
