package deliberation

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"concord/pkg/models"
)

// Archiver persists terminally decided deliberation requests. The live queue
// forgets a request the moment it goes terminal; the archive is the durable
// record auditors query later.
type Archiver interface {
	Store(ctx context.Context, req *models.DeliberationRequest) error
}

const archiveCollection = "deliberations"

type MongoArchive struct {
	collection *mongo.Collection
}

func NewMongoArchive(db *mongo.Database) *MongoArchive {
	return &MongoArchive{collection: db.Collection(archiveCollection)}
}

func (a *MongoArchive) Store(ctx context.Context, req *models.DeliberationRequest) error {
	doc := bson.M{
		"request_id":      req.ID,
		"message_id":      req.Message.ID,
		"tenant_id":       req.Message.TenantID,
		"conversation_id": req.Message.ConversationID,
		"sender":          req.Message.Sender,
		"action":          req.Message.Action,
		"decision":        string(req.Decision),
		"reason":          req.Reason,
		"created_at":      req.CreatedAt,
		"decided_at":      req.DecidedAt,
		"archived_at":     time.Now(),
	}
	if req.Policy != nil {
		doc["policy"] = bson.M{
			"allow":        req.Policy.Allow,
			"reasons":      req.Policy.Reasons,
			"evaluated_at": req.Policy.EvaluatedAt,
		}
	}
	if req.Message.Metadata.Score != nil {
		doc["composite_score"] = req.Message.Metadata.Score.Composite
	}
	// The token value itself never lands in the archive, only its scope.
	if req.Token != nil {
		doc["token_scope"] = bson.M{
			"agent_id":   req.Token.AgentID,
			"action":     string(req.Token.Action),
			"expires_at": req.Token.ExpiresAt,
		}
	}

	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to archive deliberation request: %w", err)
	}
	return nil
}

// ArchivedDeliberation is the read-side projection of an archived request, as
// the registry API serves it to auditors.
type ArchivedDeliberation struct {
	RequestID      string    `bson:"request_id" json:"request_id"`
	MessageID      string    `bson:"message_id" json:"message_id"`
	TenantID       string    `bson:"tenant_id" json:"tenant_id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	Sender         string    `bson:"sender" json:"sender"`
	Action         string    `bson:"action" json:"action"`
	Decision       string    `bson:"decision" json:"decision"`
	Reason         string    `bson:"reason" json:"reason"`
	CompositeScore float64   `bson:"composite_score,omitempty" json:"composite_score,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	DecidedAt      time.Time `bson:"decided_at" json:"decided_at"`
	ArchivedAt     time.Time `bson:"archived_at" json:"archived_at"`
}

func (a *MongoArchive) List(ctx context.Context, tenantID, decision string, limit int) ([]ArchivedDeliberation, error) {
	filter := bson.M{}
	if tenantID != "" {
		filter["tenant_id"] = tenantID
	}
	if decision != "" {
		filter["decision"] = decision
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "decided_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliberation archive: %w", err)
	}
	defer cursor.Close(ctx)

	var results []ArchivedDeliberation
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode archived deliberations: %w", err)
	}
	return results, nil
}

func (a *MongoArchive) Get(ctx context.Context, requestID string) (*ArchivedDeliberation, error) {
	var doc ArchivedDeliberation
	err := a.collection.FindOne(ctx, bson.M{"request_id": requestID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archived deliberation: %w", err)
	}
	return &doc, nil
}
