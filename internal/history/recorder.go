package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/diff"
	"go.uber.org/zap"
)

// dedicatedActions maps the fields that get their own history entry to
// the action recorded for them.
var dedicatedActions = map[string]Action{
	"statusId":        ActionStatusChange,
	"assignedTo":      ActionAssignmentChange,
	"priorityId":      ActionPriorityChange,
	"categoryId":      ActionCategoryChange,
	"escalationLevel": ActionEscalation,
	"resolutionDate":  ActionResolution,
}

// bookkeepingFields are refreshed on every write and never worth an
// audit entry of their own.
var bookkeepingFields = map[string]bool{
	"updatedAt":        true,
	"updatedBy":        true,
	"lastActivityDate": true,
	"assignedAt":       true,
	"assignedBy":       true,
}

// Recorder turns a change set into audit entries. Failures are logged
// and swallowed; the audit trail never blocks the mutation itself.
type Recorder struct {
	repo   Repository
	logger *zap.Logger
}

func NewRecorder(repo Repository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record writes one entry per significant changed field plus exactly
// one generic entry covering everything else that changed. Entries are
// inserted concurrently; each failure is logged independently.
func (r *Recorder) Record(ctx context.Context, c *domain.Case, changes diff.Changes, actorID int64, meta domain.UpdateMeta) {
	entries := r.buildEntries(c, changes, actorID, meta)
	if len(entries) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			if err := r.repo.Insert(ctx, e); err != nil {
				r.logger.Error("failed to record history entry",
					zap.Int64("case_id", e.CaseID),
					zap.String("action", string(e.Action)),
					zap.Error(err))
			}
		}(&entries[i])
	}
	wg.Wait()
}

func (r *Recorder) buildEntries(c *domain.Case, changes diff.Changes, actorID int64, meta domain.UpdateMeta) []Entry {
	var entries []Entry
	generic := diff.Changes{}

	for field, ch := range changes {
		if bookkeepingFields[field] {
			continue
		}
		action, ok := dedicatedActions[field]
		if !ok {
			generic[field] = ch
			continue
		}
		switch action {
		case ActionEscalation:
			// Only an increase counts as an escalation.
			if toInt64(ch.To) <= toInt64(ch.From) {
				generic[field] = ch
				continue
			}
		case ActionResolution:
			// Only the first time a resolution date is set.
			if ch.From != nil {
				generic[field] = ch
				continue
			}
		}
		entries = append(entries, Entry{
			CaseID:      c.ID,
			Action:      action,
			OldValue:    marshalValue(map[string]any{field: ch.From}),
			NewValue:    marshalValue(map[string]any{field: ch.To}),
			Description: describeAction(action, ch),
			Comments:    meta.Comments,
			ActorID:     actorID,
		})
	}

	if len(generic) > 0 {
		old := make(map[string]any, len(generic))
		nw := make(map[string]any, len(generic))
		for field, ch := range generic {
			old[field] = ch.From
			nw[field] = ch.To
		}
		desc := meta.Reason
		if desc == "" {
			desc = fmt.Sprintf("updated %d field(s)", len(generic))
		}
		entries = append(entries, Entry{
			CaseID:      c.ID,
			Action:      ActionGenericUpdate,
			OldValue:    marshalValue(old),
			NewValue:    marshalValue(nw),
			Description: desc,
			Comments:    meta.Comments,
			ActorID:     actorID,
		})
	}

	return entries
}

// RecordCreation writes the initial entry for a newly created case.
func (r *Recorder) RecordCreation(ctx context.Context, c *domain.Case, actorID int64) {
	e := &Entry{
		CaseID:      c.ID,
		Action:      ActionCreation,
		NewValue:    marshalValue(map[string]any{"caseNumber": c.CaseNumber}),
		Description: fmt.Sprintf("case %s created", c.CaseNumber),
		ActorID:     actorID,
	}
	if err := r.repo.Insert(ctx, e); err != nil {
		r.logger.Error("failed to record case creation",
			zap.Int64("case_id", c.ID),
			zap.Error(err))
	}
}

// RecordComment writes an entry noting a new comment on the case.
func (r *Recorder) RecordComment(ctx context.Context, caseID int64, commentID string, actorID int64) {
	e := &Entry{
		CaseID:      caseID,
		Action:      ActionCommentAdded,
		NewValue:    marshalValue(map[string]any{"commentId": commentID}),
		Description: "comment added",
		ActorID:     actorID,
	}
	if err := r.repo.Insert(ctx, e); err != nil {
		r.logger.Error("failed to record comment history",
			zap.Int64("case_id", caseID),
			zap.Error(err))
	}
}

func describeAction(action Action, ch diff.Change) string {
	switch action {
	case ActionStatusChange:
		return fmt.Sprintf("status changed from %v to %v", ch.From, ch.To)
	case ActionAssignmentChange:
		return fmt.Sprintf("assignment changed from %v to %v", ch.From, ch.To)
	case ActionPriorityChange:
		return fmt.Sprintf("priority changed from %v to %v", ch.From, ch.To)
	case ActionCategoryChange:
		return fmt.Sprintf("category changed from %v to %v", ch.From, ch.To)
	case ActionEscalation:
		return fmt.Sprintf("escalated from level %v to %v", ch.From, ch.To)
	case ActionResolution:
		return fmt.Sprintf("resolved on %v", ch.To)
	default:
		return string(action)
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case *int64:
		if n == nil {
			return 0
		}
		return *n
	}
	return 0
}

func marshalValue(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
