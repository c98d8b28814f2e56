// Package cases implements the case mutation engine: validated create,
// diff-driven update, search, and the decoupled audit/notification side
// effects each mutation launches.
package cases

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/diff"
	"github.com/communitydesk/casetrack/internal/notify"
	"github.com/communitydesk/casetrack/internal/schema"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/communitydesk/casetrack/internal/shared/metrics"
	"go.uber.org/zap"
)

// RequiredFields must be present and non-empty on create.
var RequiredFields = []string{
	"title", "description", "categoryId", "priorityId", "statusId", "channelId",
}

// caseNumberAttempts bounds the retry loop when two creates race for
// the same daily sequence number.
const caseNumberAttempts = 3

// Store is the persistence port of the engine.
type Store interface {
	Insert(ctx context.Context, fields map[string]any) (int64, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]any) error
	GetByID(ctx context.Context, id int64) (*domain.Case, error)
	GetByNumber(ctx context.Context, number string) (*domain.Case, error)
	Search(ctx context.Context, c domain.SearchCriteria) ([]domain.Case, int64, error)
	CountCreatedOn(ctx context.Context, day time.Time) (int64, error)
}

// TaskRunner schedules the best-effort side effects of a mutation.
type TaskRunner interface {
	Submit(name string, fn func(context.Context) error) bool
}

// HistoryRecorder writes the audit trail for a completed mutation.
type HistoryRecorder interface {
	Record(ctx context.Context, c *domain.Case, changes diff.Changes, actorID int64, meta domain.UpdateMeta)
	RecordCreation(ctx context.Context, c *domain.Case, actorID int64)
}

// Notifier fans a case event out to its recipients.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) []notify.Notification
}

// Service orchestrates case mutations. The primary row write is
// synchronous; history and notifications run afterwards as background
// tasks and never affect the caller's result.
type Service struct {
	store    Store
	recorder HistoryRecorder
	notifier Notifier
	runner   TaskRunner
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store Store, recorder HistoryRecorder, notifier Notifier, runner TaskRunner, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		recorder: recorder,
		notifier: notifier,
		runner:   runner,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create validates required fields, assigns the next daily case number
// and persists the row, then launches creation side effects.
func (s *Service) Create(ctx context.Context, fields map[string]any, actorID int64) (*domain.Case, error) {
	if missing := missingRequired(fields); len(missing) > 0 {
		return nil, errors.MissingRequiredFields(missing)
	}

	now := s.now()
	insert := make(map[string]any, len(fields)+8)
	for k, v := range fields {
		insert[k] = v
	}
	delete(insert, "id")
	insert["createdBy"] = actorID
	insert["updatedBy"] = actorID
	if !provided(insert, "submittedBy") {
		insert["submittedBy"] = actorID
	}
	if !provided(insert, "submittedAt") {
		insert["submittedAt"] = now
	}
	insert["lastActivityDate"] = now
	insert["isActive"] = true

	var id int64
	var err error
	for attempt := 0; attempt < caseNumberAttempts; attempt++ {
		var number string
		number, err = s.nextCaseNumber(ctx, now, attempt)
		if err != nil {
			return nil, err
		}
		insert["caseNumber"] = number

		id, err = s.store.Insert(ctx, insert)
		if err == nil {
			break
		}
		if !errors.Is(err, errors.ErrConflict) {
			return nil, err
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not allocate a unique case number")
	}

	created, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.RecordCaseCreated(labelOf(created.ChannelID))
	s.launchCreationEffects(created, actorID)
	return created, nil
}

// nextCaseNumber derives CS-YYYYMMDD-NNNN from the count of cases
// already created today. Collisions under concurrency are caught by
// the unique index and retried with a bumped sequence.
func (s *Service) nextCaseNumber(ctx context.Context, day time.Time, attempt int) (string, error) {
	count, err := s.store.CountCreatedOn(ctx, day)
	if err != nil {
		return "", err
	}
	seq := count + 1 + int64(attempt)
	return fmt.Sprintf("CS-%s-%04d", day.Format("20060102"), seq), nil
}

// Update applies a partial field update. Proposed values are coerced
// and diffed against the stored row; an empty diff is a successful
// no-op with no write and no side effects.
func (s *Service) Update(ctx context.Context, id int64, fields map[string]any, actorID int64, meta domain.UpdateMeta) (*domain.Case, diff.Changes, error) {
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	proposed := make(map[string]any, len(fields))
	for field, value := range fields {
		if _, known := schema.Lookup(field); !known {
			continue
		}
		coerced, err := schema.Coerce(field, value)
		if err != nil {
			return nil, nil, err
		}
		proposed[field] = coerced
	}

	changes := diff.Compute(existing.FieldMap(), proposed)
	if len(changes) == 0 {
		return existing, changes, nil
	}

	now := s.now()
	updates := make(map[string]any, len(changes)+4)
	for field := range changes {
		updates[field] = proposed[field]
	}
	updates["updatedAt"] = now
	updates["updatedBy"] = actorID
	updates["lastActivityDate"] = now
	// A reassignment stamps its own timestamp and actor unless the
	// caller supplied them explicitly.
	if changes.Has("assignedTo") {
		if !provided(proposed, "assignedAt") {
			updates["assignedAt"] = now
		}
		if !provided(proposed, "assignedBy") {
			updates["assignedBy"] = actorID
		}
	}

	if err := s.store.UpdateFields(ctx, id, updates); err != nil {
		return nil, nil, err
	}

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if ch, ok := changes["statusId"]; ok {
		metrics.RecordCaseStatusChange(fmt.Sprint(ch.From), fmt.Sprint(ch.To))
	}

	s.launchUpdateEffects(existing, updated, changes, actorID, meta)
	return updated, changes, nil
}

// Get returns an active case by id.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Case, error) {
	return s.store.GetByID(ctx, id)
}

// GetByNumber returns an active case by its public case number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*domain.Case, error) {
	return s.store.GetByNumber(ctx, number)
}

// Search runs a criteria search. An impossible access scope returns an
// empty result without touching storage.
func (s *Service) Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.Case, int64, error) {
	if criteria.Scope.Impossible {
		return []domain.Case{}, 0, nil
	}
	return s.store.Search(ctx, criteria)
}

// SoftDelete flags a case deleted. The row stays in storage but is
// excluded from every read and update path.
func (s *Service) SoftDelete(ctx context.Context, id int64, actorID int64) error {
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := s.now()
	err = s.store.UpdateFields(ctx, id, map[string]any{
		"isDeleted": true,
		"isActive":  false,
		"deletedBy": actorID,
		"deletedAt": now,
		"updatedAt": now,
		"updatedBy": actorID,
	})
	if err != nil {
		return err
	}

	changes := diff.Changes{"isDeleted": {From: false, To: true}}
	s.submitTask("case_deleted_history", func(taskCtx context.Context) error {
		s.recorder.Record(taskCtx, existing, changes, actorID, domain.UpdateMeta{Reason: "case deleted"})
		return nil
	})
	return nil
}

// TouchActivity bumps the last-activity marker without a diff cycle.
// The comment subsystem uses it after appending a comment.
func (s *Service) TouchActivity(ctx context.Context, id int64, actorID int64) error {
	now := s.now()
	return s.store.UpdateFields(ctx, id, map[string]any{
		"lastActivityDate": now,
		"updatedAt":        now,
		"updatedBy":        actorID,
	})
}

// Assign is a convenience wrapper over Update.
func (s *Service) Assign(ctx context.Context, id int64, assigneeID int64, actorID int64, comments string) (*domain.Case, error) {
	fields := map[string]any{"assignedTo": assigneeID}
	if comments != "" {
		fields["assignmentComments"] = comments
	}
	c, _, err := s.Update(ctx, id, fields, actorID, domain.UpdateMeta{Reason: "assignment", Comments: comments})
	return c, err
}

// ChangeStatus is a convenience wrapper over Update.
func (s *Service) ChangeStatus(ctx context.Context, id int64, statusID int64, actorID int64, reason string) (*domain.Case, error) {
	c, _, err := s.Update(ctx, id, map[string]any{"statusId": statusID}, actorID, domain.UpdateMeta{Reason: reason})
	return c, err
}

// Escalate is a convenience wrapper over Update.
func (s *Service) Escalate(ctx context.Context, id int64, level int64, reason string, actorID int64) (*domain.Case, error) {
	fields := map[string]any{"escalationLevel": level}
	if reason != "" {
		fields["escalationReason"] = reason
	}
	c, _, err := s.Update(ctx, id, fields, actorID, domain.UpdateMeta{Reason: reason})
	return c, err
}

// Resolve is a convenience wrapper over Update.
func (s *Service) Resolve(ctx context.Context, id int64, summary string, actorID int64) (*domain.Case, error) {
	fields := map[string]any{
		"resolutionSummary": summary,
		"resolutionDate":    s.now(),
	}
	c, _, err := s.Update(ctx, id, fields, actorID, domain.UpdateMeta{Reason: "resolution"})
	return c, err
}

// launchCreationEffects schedules the creation history entry and the
// supervisory fan-out. Neither blocks the caller nor fails the create.
func (s *Service) launchCreationEffects(created *domain.Case, actorID int64) {
	s.submitTask("case_created_history", func(taskCtx context.Context) error {
		s.recorder.RecordCreation(taskCtx, created, actorID)
		return nil
	})
	s.submitTask("case_created_notify", func(taskCtx context.Context) error {
		s.notifier.Dispatch(taskCtx, notify.Event{
			Kind:    notify.KindCreated,
			Case:    created,
			ActorID: actorID,
		})
		return nil
	})
}

// launchUpdateEffects schedules audit entries and notification events
// for a committed update.
func (s *Service) launchUpdateEffects(before, after *domain.Case, changes diff.Changes, actorID int64, meta domain.UpdateMeta) {
	s.submitTask("case_updated_history", func(taskCtx context.Context) error {
		s.recorder.Record(taskCtx, after, changes, actorID, meta)
		return nil
	})

	events := buildEvents(before, after, changes, actorID)
	if len(events) == 0 {
		return
	}
	s.submitTask("case_updated_notify", func(taskCtx context.Context) error {
		for _, ev := range events {
			s.notifier.Dispatch(taskCtx, ev)
		}
		return nil
	})
}

// buildEvents maps the change set to notification events. Only
// significant fields notify anyone: status, assignment, escalation
// increases and first-time resolutions get their own event, priority
// and category changes collapse into at most one generic update event.
// Descriptive fields reach the history trail only.
func buildEvents(before, after *domain.Case, changes diff.Changes, actorID int64) []notify.Event {
	var events []notify.Event
	generic := false

	for field, ch := range changes {
		switch field {
		case "statusId":
			events = append(events, notify.Event{
				Kind: notify.KindStatusChange, Case: after, ActorID: actorID,
				From: ch.From, To: ch.To,
			})
		case "assignedTo":
			events = append(events, notify.Event{
				Kind: notify.KindAssigned, Case: after, ActorID: actorID,
				PrevAssignee: before.AssignedTo,
				From:         ch.From, To: ch.To,
			})
		case "escalationLevel":
			// A decrease is not an escalation and notifies no one.
			if changeInt(ch.To) > changeInt(ch.From) {
				events = append(events, notify.Event{
					Kind: notify.KindEscalated, Case: after, ActorID: actorID,
					AssignmentChanged: changes.Has("assignedTo"),
					From:              ch.From, To: ch.To,
				})
			}
		case "resolutionDate":
			// Editing an already-resolved case notifies no one.
			if ch.From == nil {
				events = append(events, notify.Event{
					Kind: notify.KindResolved, Case: after, ActorID: actorID,
					To: ch.To,
				})
			}
		case "priorityId", "categoryId":
			generic = true
		}
	}

	if generic {
		events = append(events, notify.Event{
			Kind: notify.KindUpdated, Case: after, ActorID: actorID,
		})
	}
	return events
}

// changeInt reads a numeric change value; diff normalizes integers to
// int64 but older payloads may carry floats.
func changeInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func (s *Service) submitTask(name string, fn func(context.Context) error) {
	if !s.runner.Submit(name, fn) {
		s.logger.Warn("side effect queue full, task dropped", zap.String("task", name))
	}
}

// provided reports whether the caller supplied a non-nil value for the
// field.
func provided(fields map[string]any, field string) bool {
	v, ok := fields[field]
	return ok && v != nil
}

func missingRequired(fields map[string]any) []string {
	var missing []string
	for _, field := range RequiredFields {
		value, ok := fields[field]
		if !ok || value == nil || value == "" {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}

func labelOf(id *int64) string {
	if id == nil {
		return "unknown"
	}
	return fmt.Sprint(*id)
}
