// Package notify fans case events out to user notifications and
// schedules their delivery.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification for the receiving client.
type Type string

const (
	TypeCaseCreated   Type = "case_created"
	TypeCaseAssigned  Type = "case_assigned"
	TypeTransferred   Type = "assignment_transferred"
	TypeStatusChanged Type = "case_status_changed"
	TypeEscalated     Type = "case_escalated"
	TypeResolved      Type = "case_resolved"
	TypeCommentAdded  Type = "comment_added"
	TypeCaseUpdated   Type = "case_updated"
)

// Priority buckets a notification for client-side ordering.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Notification is one message targeted at one user.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    int64           `json:"user_id"`
	CaseID    int64           `json:"case_id"`
	Type      Type            `json:"type"`
	Priority  Priority        `json:"priority"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	ActorID   *int64          `json:"actor_id,omitempty"`
	Action    string          `json:"action,omitempty"`
	IsRead    bool            `json:"is_read"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	IsActive  bool            `json:"is_active"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Delivery is the recorded outcome of one delivery attempt on one
// channel. At most one row exists per (notification, channel); retries
// overwrite the previous outcome.
type Delivery struct {
	NotificationID uuid.UUID `json:"notification_id"`
	Channel        string    `json:"channel"`
	Sent           bool      `json:"sent"`
	Error          string    `json:"error,omitempty"`
	AttemptedAt    time.Time `json:"attempted_at"`
}

// Repository persists notifications and their delivery outcomes.
type Repository interface {
	Insert(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, error)
	CountUnread(ctx context.Context, userID int64) (int64, error)
	MarkRead(ctx context.Context, id uuid.UUID, userID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	Deactivate(ctx context.Context, id uuid.UUID, userID int64) error
	RecordDelivery(ctx context.Context, d *Delivery) error
}
