package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task is the marketplace task row the core tracks money against. Fields
// beyond the TPEE/escrow columns belong to the out-of-scope application
// layer and are not modeled here (spec.md §1).
type Task struct {
	ID               uuid.UUID
	PosterID         string
	WorkerID         string
	Title            string
	Description      string
	Category         string
	City             string
	PriceCents       int64
	TPEEEvaluationID uuid.UUID
	TPEEDecision     string
	TPEEReasonCode   string
	TPEEConfidence   float64
	PolicySnapshotID string
	CreatedAt        time.Time
}

// TaskDraft is the proposal TPEE evaluates before a Task row is created.
type TaskDraft struct {
	PosterID    string
	Title       string
	Description string
	Category    string
	City        string
	PriceCents  int64
}
