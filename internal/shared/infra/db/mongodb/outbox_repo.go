package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// OutboxRepoMongoDB implementa sharedDomain.OutboxRepository sobre una
// colección "outbox". Backend alternativo solo del lado de drenaje: el
// append transaccional evento+outbox vive en los stores SQL.
type OutboxRepoMongoDB struct {
	outboxColl *mongo.Collection
	registry   sharedEvents.Registry
}

func NewOutboxRepoMongoDB(client *mongo.Client, dbName string, registry sharedEvents.Registry) *OutboxRepoMongoDB {
	outboxColl := client.Database(dbName).Collection("outbox")
	return &OutboxRepoMongoDB{outboxColl: outboxColl, registry: registry}
}

// mongoOutboxEntry mapea los documentos de la colección a un struct.
type mongoOutboxEntry struct {
	ID            string    `bson:"_id"`
	Seq           int64     `bson:"seq"`
	AggregateType string    `bson:"aggregateType"`
	AggregateID   string    `bson:"aggregateId"`
	EventName     string    `bson:"eventName"`
	OccurredAt    time.Time `bson:"occurredAt"`
	CorrelationID string    `bson:"correlationId,omitempty"`
	CausationID   string    `bson:"causationId,omitempty"`
	Payload       []byte    `bson:"payload"`
	Status        string    `bson:"status"`
	Attempts      int       `bson:"attempts"`
	NextAttemptAt time.Time `bson:"nextAttemptAt"`
	ClaimedUntil  time.Time `bson:"claimedUntil,omitempty"`
	CreatedAt     time.Time `bson:"createdAt"`
}

// ClaimBatch reclama entradas de una en una con FindOneAndUpdate: cada
// reclamo es atómico, así dos workers nunca comparten entrada.
func (r *OutboxRepoMongoDB) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"status":        bson.M{"$in": []string{"pending", "failed"}},
		"nextAttemptAt": bson.M{"$lte": now},
		"$or": []bson.M{
			{"claimedUntil": bson.M{"$exists": false}},
			{"claimedUntil": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": bson.M{"claimedUntil": now.Add(lease)}}
	opts := options.FindOneAndUpdate().SetSort(bson.D{{Key: "seq", Value: 1}})

	var entries []sharedDomain.OutboxEntry
	for i := 0; i < limit; i++ {
		var mo mongoOutboxEntry
		err := r.outboxColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&mo)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return entries, err
		}

		entry, err := r.fromMongoEntry(&mo)
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *OutboxRepoMongoDB) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	res, err := r.outboxColl.UpdateByID(ctx, id.String(), bson.M{
		"$set":   bson.M{"status": "delivered"},
		"$unset": bson.M{"claimedUntil": ""},
	})
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %s as delivered: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("no outbox entry found with id %s", id)
	}
	return nil
}

func (r *OutboxRepoMongoDB) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	_, err := r.outboxColl.UpdateByID(ctx, id.String(), bson.M{
		"$set":   bson.M{"status": "failed", "attempts": attempts, "nextAttemptAt": nextAttemptAt.UTC()},
		"$unset": bson.M{"claimedUntil": ""},
	})
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %s as failed: %w", id, err)
	}
	return nil
}

func (r *OutboxRepoMongoDB) MarkDead(ctx context.Context, id uuid.UUID) error {
	_, err := r.outboxColl.UpdateByID(ctx, id.String(), bson.M{
		"$set":   bson.M{"status": "dead"},
		"$unset": bson.M{"claimedUntil": ""},
	})
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %s as dead: %w", id, err)
	}
	return nil
}

func (r *OutboxRepoMongoDB) fromMongoEntry(mo *mongoOutboxEntry) (sharedDomain.OutboxEntry, error) {
	var entry sharedDomain.OutboxEntry

	id, err := uuid.Parse(mo.ID)
	if err != nil {
		return entry, fmt.Errorf("invalid UUID in outbox document: %w", err)
	}
	aggID, err := uuid.Parse(mo.AggregateID)
	if err != nil {
		return entry, fmt.Errorf("invalid aggregate UUID in outbox document: %w", err)
	}

	payload, err := r.registry.DecodePayload(mo.EventName, json.RawMessage(mo.Payload))
	if err != nil {
		return entry, fmt.Errorf("outbox document %s (%s): %w", mo.ID, mo.EventName, err)
	}

	evt := sharedEvents.DomainEvent{
		EventID:       id,
		EventName:     mo.EventName,
		AggregateType: mo.AggregateType,
		AggregateID:   aggID,
		OccurredAt:    mo.OccurredAt,
		Payload:       payload,
	}
	if mo.CorrelationID != "" {
		if evt.CorrelationID, err = uuid.Parse(mo.CorrelationID); err != nil {
			return entry, fmt.Errorf("invalid correlation UUID in outbox document: %w", err)
		}
	}
	if mo.CausationID != "" {
		if evt.CausationID, err = uuid.Parse(mo.CausationID); err != nil {
			return entry, fmt.Errorf("invalid causation UUID in outbox document: %w", err)
		}
	}

	return sharedDomain.OutboxEntry{
		ID:            id,
		Event:         evt,
		Status:        sharedDomain.OutboxStatus(mo.Status),
		Attempts:      mo.Attempts,
		NextAttemptAt: mo.NextAttemptAt,
		CreatedAt:     mo.CreatedAt,
	}, nil
}

// Verificación estática
var _ sharedDomain.OutboxRepository = (*OutboxRepoMongoDB)(nil)
