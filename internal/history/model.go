// Package history records the audit trail of case mutations.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action classifies a history entry.
type Action string

const (
	ActionCreation         Action = "creation"
	ActionStatusChange     Action = "status_change"
	ActionAssignmentChange Action = "assignment_change"
	ActionPriorityChange   Action = "priority_change"
	ActionCategoryChange   Action = "category_change"
	ActionEscalation       Action = "escalation"
	ActionResolution       Action = "resolution"
	ActionCommentAdded     Action = "comment_added"
	ActionGenericUpdate    Action = "generic_update"
)

// Entry is a single audit record for a case.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	CaseID      int64           `json:"case_id"`
	Action      Action          `json:"action"`
	OldValue    json.RawMessage `json:"old_value,omitempty"`
	NewValue    json.RawMessage `json:"new_value,omitempty"`
	Description string          `json:"description"`
	Comments    string          `json:"comments,omitempty"`
	ActorID     int64           `json:"actor_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Repository persists and lists history entries.
type Repository interface {
	Insert(ctx context.Context, e *Entry) error
	ListByCase(ctx context.Context, caseID int64) ([]Entry, error)
}
