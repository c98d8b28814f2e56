// Package comments appends and lists case comments and feeds the same
// audit and notification side effects a field mutation does.
package comments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Comment is one note on a case. Internal comments are hidden from the
// submitter's notification fan-out.
type Comment struct {
	ID           uuid.UUID `json:"id"`
	CaseID       int64     `json:"case_id"`
	AuthorID     int64     `json:"author_id"`
	Body         string    `json:"body"`
	Internal     bool      `json:"internal"`
	FollowUp     bool      `json:"follow_up"`
	FollowUpDone bool      `json:"follow_up_done"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists comments.
type Repository interface {
	Insert(ctx context.Context, c *Comment) error
	ListByCase(ctx context.Context, caseID int64) ([]Comment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Comment, error)
	SetFollowUpDone(ctx context.Context, id uuid.UUID) error
}
