// Package mongoaudit implements internal/saga.AuditStore against MongoDB,
// grounded on components/audit/internal/adapters/mongodb/audit/audit.mongodb.go's
// connection/collection-handle shape.
package mongoaudit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/trace"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/pkg/mlog"
	"github.com/hustlexp/moneycore/pkg/mmongo"
)

const collectionName = "money_event_audits"

// Repository implements internal/saga.AuditStore.
type Repository struct {
	Conn   *mmongo.Connection
	Logger mlog.Logger
	Tracer trace.Tracer
}

type auditDocument struct {
	EventID       string         `bson:"event_id"`
	TaskID        string         `bson:"task_id"`
	ActorID       string         `bson:"actor_id"`
	EventType     string         `bson:"event_type"`
	PreviousState string         `bson:"previous_state"`
	NewState      string         `bson:"new_state"`
	ProviderIDs   bson.M         `bson:"provider_ids"`
	RawContext    map[string]any `bson:"raw_context"`
	CreatedAt     int64          `bson:"created_at_unix_nano"`
}

func (r *Repository) Append(ctx context.Context, a domain.MoneyEventAudit) error {
	ctx, span := r.Tracer.Start(ctx, "mongoaudit.append")
	defer span.End()

	db, err := r.Conn.GetDatabase(ctx)
	if err != nil {
		return fmt.Errorf("mongoaudit: get database: %w", err)
	}

	coll := db.Collection(strings.ToLower(collectionName))

	doc := auditDocument{
		EventID:       a.EventID.String(),
		TaskID:        a.TaskID,
		ActorID:       a.ActorID,
		EventType:     string(a.EventType),
		PreviousState: string(a.PreviousState),
		NewState:      string(a.NewState),
		ProviderIDs: bson.M{
			"paymentIntentId": a.ProviderIDs.PaymentIntentID,
			"chargeId":        a.ProviderIDs.ChargeID,
			"transferId":      a.ProviderIDs.TransferID,
			"refundId":        a.ProviderIDs.RefundID,
		},
		RawContext: a.RawContext,
		CreatedAt:  a.CreatedAt.UnixNano(),
	}

	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongoaudit: insert: %w", err)
	}

	return nil
}

// FindByTask retrieves every audit row for a task, newest first.
func (r *Repository) FindByTask(ctx context.Context, taskID string) ([]domain.MoneyEventAudit, error) {
	ctx, span := r.Tracer.Start(ctx, "mongoaudit.find_by_task")
	defer span.End()

	db, err := r.Conn.GetDatabase(ctx)
	if err != nil {
		return nil, fmt.Errorf("mongoaudit: get database: %w", err)
	}

	coll := db.Collection(strings.ToLower(collectionName))

	cursor, err := coll.Find(ctx, bson.M{"task_id": taskID}, options.Find().SetSort(bson.D{{Key: "created_at_unix_nano", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("mongoaudit: find by task: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.MoneyEventAudit

	for cursor.Next(ctx) {
		var doc auditDocument

		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongoaudit: decode: %w", err)
		}

		eventID, _ := uuid.Parse(doc.EventID)

		out = append(out, domain.MoneyEventAudit{
			EventID:       eventID,
			TaskID:        doc.TaskID,
			ActorID:       doc.ActorID,
			EventType:     domain.EventType(doc.EventType),
			PreviousState: domain.TaskState(doc.PreviousState),
			NewState:      domain.TaskState(doc.NewState),
			RawContext:    doc.RawContext,
			CreatedAt:     time.Unix(0, doc.CreatedAt).UTC(),
		})
	}

	return out, cursor.Err()
}
