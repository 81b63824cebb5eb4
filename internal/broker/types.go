package broker

import (
	"context"

	"concord/pkg/models"
)

type Producer interface {
	// Publish appends value to topic under the given partition key. Values
	// sharing a key are delivered in publish order.
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc receives the envelope by pointer: redelivery attempts within
// one consume cycle see whatever earlier attempts attached (scores, routing
// metadata), which is what keeps scoring idempotent per message id.
type HandlerFunc func(ctx context.Context, msg *models.MessageEnvelope) error
