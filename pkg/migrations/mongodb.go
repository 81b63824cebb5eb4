package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoCollection creates the deliberation archive indexes. The audit
// API looks requests up by request id, by tenant and decision time, and by
// conversation.
func EnsureMongoCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("deliberations")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetName("idx_deliberations_request_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "decided_at", Value: -1}},
			Options: options.Index().SetName("idx_deliberations_tenant_decided"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().SetName("idx_deliberations_conversation"),
		},
		{
			Keys:    bson.D{{Key: "decision", Value: 1}, {Key: "decided_at", Value: -1}},
			Options: options.Index().SetName("idx_deliberations_decision_decided"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
