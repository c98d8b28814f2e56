package cases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/diff"
	"github.com/communitydesk/casetrack/internal/notify"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu        sync.Mutex
	cases     map[int64]*domain.Case
	nextID    int64
	inserts   []map[string]any
	updates   []map[string]any
	createdOn int64

	conflictsLeft int
	searchCalled  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{cases: map[int64]*domain.Case{}, nextID: 1}
}

func (f *fakeStore) Insert(_ context.Context, fields map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return 0, errors.Conflict("duplicate case number")
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.inserts = append(f.inserts, copied)

	id := f.nextID
	f.nextID++
	c := &domain.Case{
		ID:         id,
		CaseNumber: fields["caseNumber"].(string),
		IsActive:   true,
	}
	if v, ok := fields["title"].(string); ok {
		c.Title = v
	}
	if v, ok := fields["channelId"].(int64); ok {
		c.ChannelID = &v
	}
	f.cases[id] = c
	return id, nil
}

func (f *fakeStore) UpdateFields(_ context.Context, id int64, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cases[id]; !ok {
		return errors.NotFound("case", "?")
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.updates = append(f.updates, copied)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil, errors.NotFound("case", "?")
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetByNumber(_ context.Context, number string) (*domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cases {
		if c.CaseNumber == number {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errors.NotFound("case", number)
}

func (f *fakeStore) Search(context.Context, domain.SearchCriteria) ([]domain.Case, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalled = true
	return nil, 0, nil
}

func (f *fakeStore) CountCreatedOn(context.Context, time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createdOn, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	recorded  []diff.Changes
	creations int
}

func (f *fakeRecorder) Record(_ context.Context, _ *domain.Case, changes diff.Changes, _ int64, _ domain.UpdateMeta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, changes)
}

func (f *fakeRecorder) RecordCreation(context.Context, *domain.Case, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creations++
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Dispatch(_ context.Context, ev notify.Event) []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeNotifier) kinds() []notify.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notify.Kind, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Kind
	}
	return out
}

// inlineRunner executes tasks synchronously so tests observe effects
// deterministically.
type inlineRunner struct{}

func (inlineRunner) Submit(_ string, fn func(context.Context) error) bool {
	_ = fn(context.Background())
	return true
}

func ptr[T any](v T) *T { return &v }

func newTestService(store *fakeStore) (*Service, *fakeRecorder, *fakeNotifier) {
	rec := &fakeRecorder{}
	not := &fakeNotifier{}
	svc := NewService(store, rec, not, inlineRunner{}, zap.NewNop())
	svc.now = func() time.Time {
		return time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	}
	return svc, rec, not
}

func validCreateFields() map[string]any {
	return map[string]any{
		"title":       "Water outage",
		"description": "No water for 3 days",
		"categoryId":  int64(1),
		"priorityId":  int64(2),
		"statusId":    int64(1),
		"channelId":   int64(1),
	}
}

func TestCreateAssignsDailyCaseNumber(t *testing.T) {
	store := newFakeStore()
	svc, rec, not := newTestService(store)

	c, err := svc.Create(context.Background(), validCreateFields(), 7)
	require.NoError(t, err)
	assert.Equal(t, "CS-20260115-0001", c.CaseNumber)
	assert.Equal(t, 1, rec.creations)
	require.Len(t, not.events, 1)
	assert.Equal(t, notify.KindCreated, not.events[0].Kind)
	assert.Equal(t, int64(7), not.events[0].ActorID)
}

func TestCreateSequenceFollowsDailyCount(t *testing.T) {
	store := newFakeStore()
	store.createdOn = 41
	svc, _, _ := newTestService(store)

	c, err := svc.Create(context.Background(), validCreateFields(), 7)
	require.NoError(t, err)
	assert.Equal(t, "CS-20260115-0042", c.CaseNumber)
}

func TestCreateRetriesOnNumberConflict(t *testing.T) {
	store := newFakeStore()
	store.conflictsLeft = 2
	svc, _, _ := newTestService(store)

	c, err := svc.Create(context.Background(), validCreateFields(), 7)
	require.NoError(t, err)
	// Two collisions bump the sequence twice.
	assert.Equal(t, "CS-20260115-0003", c.CaseNumber)
}

func TestCreateGivesUpAfterBoundedRetries(t *testing.T) {
	store := newFakeStore()
	store.conflictsLeft = 10
	svc, _, _ := newTestService(store)

	_, err := svc.Create(context.Background(), validCreateFields(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestCreateRejectsMissingFields(t *testing.T) {
	store := newFakeStore()
	svc, rec, _ := newTestService(store)

	_, err := svc.Create(context.Background(), map[string]any{
		"title":      "Water outage",
		"statusId":   int64(1),
		"categoryId": nil,
	}, 7)

	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "MISSING_REQUIRED_FIELDS", appErr.Code)
	assert.Equal(t, "categoryId,channelId,description,priorityId", appErr.Details["fields"])
	assert.Empty(t, store.inserts)
	assert.Zero(t, rec.creations)
}

func TestCreateStampsAuditFields(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)

	_, err := svc.Create(context.Background(), validCreateFields(), 7)
	require.NoError(t, err)

	insert := store.inserts[0]
	assert.Equal(t, int64(7), insert["createdBy"])
	assert.Equal(t, int64(7), insert["submittedBy"])
	assert.Equal(t, true, insert["isActive"])
	assert.NotNil(t, insert["submittedAt"])
	assert.NotNil(t, insert["lastActivityDate"])
}

func TestCreateKeepsExplicitSubmissionFields(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)

	submitted := time.Date(2026, 1, 12, 8, 30, 0, 0, time.UTC)
	fields := validCreateFields()
	fields["submittedAt"] = submitted
	fields["submittedBy"] = int64(5)

	_, err := svc.Create(context.Background(), fields, 7)
	require.NoError(t, err)

	insert := store.inserts[0]
	assert.Equal(t, submitted, insert["submittedAt"])
	assert.Equal(t, int64(5), insert["submittedBy"])
	assert.Equal(t, int64(7), insert["createdBy"])
}

func seedCase(store *fakeStore) *domain.Case {
	c := &domain.Case{
		ID:          42,
		CaseNumber:  "CS-20260110-0001",
		Title:       "Water outage",
		Description: "No water for 3 days",
		StatusID:    ptr(int64(1)),
		PriorityID:  ptr(int64(2)),
		SubmittedBy: ptr(int64(5)),
		AssignedTo:  ptr(int64(11)),
		IsActive:    true,
	}
	store.cases[42] = c
	return c
}

func TestUpdateStatusChange(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, rec, not := newTestService(store)

	_, changes, err := svc.Update(context.Background(), 42, map[string]any{"statusId": 3}, 9, domain.UpdateMeta{})
	require.NoError(t, err)
	require.True(t, changes.Has("statusId"))
	assert.Equal(t, int64(1), changes["statusId"].From)
	assert.Equal(t, int64(3), changes["statusId"].To)

	require.Len(t, rec.recorded, 1)
	assert.Equal(t, []notify.Kind{notify.KindStatusChange}, not.kinds())
}

func TestUpdateNoOpSkipsWriteAndEffects(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, rec, not := newTestService(store)

	_, changes, err := svc.Update(context.Background(), 42, map[string]any{
		"statusId": nil,
		"tags":     "",
	}, 9, domain.UpdateMeta{})

	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Empty(t, store.updates)
	assert.Empty(t, rec.recorded)
	assert.Empty(t, not.events)
}

func TestUpdateSameValueIsNoOp(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, _, _ := newTestService(store)

	_, changes, err := svc.Update(context.Background(), 42, map[string]any{"statusId": "1"}, 9, domain.UpdateMeta{})
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Empty(t, store.updates)
}

func TestUpdateRefreshesBookkeeping(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, _, _ := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{"title": "Water outage, day 4"}, 9, domain.UpdateMeta{})
	require.NoError(t, err)

	update := store.updates[0]
	assert.Equal(t, int64(9), update["updatedBy"])
	assert.NotNil(t, update["updatedAt"])
	assert.NotNil(t, update["lastActivityDate"])
	assert.NotContains(t, update, "assignedAt")
}

func TestUpdateAssignmentStampsAssignmentFields(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, _, not := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{"assignedTo": 13}, 9, domain.UpdateMeta{})
	require.NoError(t, err)

	update := store.updates[0]
	assert.NotNil(t, update["assignedAt"])
	assert.Equal(t, int64(9), update["assignedBy"])

	require.Len(t, not.events, 1)
	assert.Equal(t, notify.KindAssigned, not.events[0].Kind)
	require.NotNil(t, not.events[0].PrevAssignee)
	assert.Equal(t, int64(11), *not.events[0].PrevAssignee)
}

func TestUpdateKeepsExplicitAssignmentStamp(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, _, _ := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{
		"assignedTo": 13,
		"assignedAt": "2026-01-10T09:00:00Z",
	}, 9, domain.UpdateMeta{})
	require.NoError(t, err)

	update := store.updates[0]
	assert.Equal(t, time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC), update["assignedAt"])
	// The actor stamp is still defaulted when the caller omits it.
	assert.Equal(t, int64(9), update["assignedBy"])
}

func TestUpdateCoercionFailure(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, _, _ := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{"statusId": "soon"}, 9, domain.UpdateMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Empty(t, store.updates)
}

func TestUpdateEscalationEventOnlyOnIncrease(t *testing.T) {
	store := newFakeStore()
	c := seedCase(store)
	c.EscalationLevel = ptr(int64(2))
	svc, _, not := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{"escalationLevel": 1}, 9, domain.UpdateMeta{})
	require.NoError(t, err)
	assert.Empty(t, not.events, "a de-escalation must notify no one")
}

func TestUpdateEscalationIncreaseDispatchesEscalation(t *testing.T) {
	store := newFakeStore()
	c := seedCase(store)
	c.EscalationLevel = ptr(int64(1))
	svc, _, not := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{"escalationLevel": 3}, 9, domain.UpdateMeta{})
	require.NoError(t, err)
	assert.Equal(t, []notify.Kind{notify.KindEscalated}, not.kinds())
}

func TestUpdateResolutionEventOnlyOnFirstSet(t *testing.T) {
	store := newFakeStore()
	c := seedCase(store)
	already := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	c.ResolutionDate = &already
	svc, _, not := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{"resolutionDate": "2026-01-14"}, 9, domain.UpdateMeta{})
	require.NoError(t, err)
	assert.Empty(t, not.events, "editing an already-resolved case must notify no one")
}

func TestUpdateDescriptiveFieldsNotifyNoOne(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, rec, not := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{
		"title":        "Updated title",
		"contactPhone": "+381641234567",
		"urgency":      "high",
	}, 9, domain.UpdateMeta{})
	require.NoError(t, err)

	// Descriptive edits reach the history trail but dispatch nothing.
	require.Len(t, rec.recorded, 1)
	assert.Empty(t, not.events)
}

func TestUpdatePriorityChangeProducesOneUpdateEvent(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, _, not := newTestService(store)

	_, _, err := svc.Update(context.Background(), 42, map[string]any{
		"priorityId": 4,
		"categoryId": 2,
	}, 9, domain.UpdateMeta{})
	require.NoError(t, err)
	assert.Equal(t, []notify.Kind{notify.KindUpdated}, not.kinds())
}

func TestUpdateNotFound(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)

	_, _, err := svc.Update(context.Background(), 99, map[string]any{"statusId": 2}, 9, domain.UpdateMeta{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSearchImpossibleScopeShortCircuits(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)

	results, total, err := svc.Search(context.Background(), domain.SearchCriteria{
		Scope: domain.AccessScope{Impossible: true},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, total)
	assert.False(t, store.searchCalled)
}

func TestSoftDelete(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, rec, _ := newTestService(store)

	require.NoError(t, svc.SoftDelete(context.Background(), 42, 9))

	update := store.updates[0]
	assert.Equal(t, true, update["isDeleted"])
	assert.Equal(t, false, update["isActive"])
	assert.Equal(t, int64(9), update["deletedBy"])
	require.Len(t, rec.recorded, 1)
	assert.True(t, rec.recorded[0].Has("isDeleted"))
}

func TestResolveWrapperSetsDateAndSummary(t *testing.T) {
	store := newFakeStore()
	seedCase(store)
	svc, _, not := newTestService(store)

	_, err := svc.Resolve(context.Background(), 42, "Pipe repaired", 9)
	require.NoError(t, err)

	update := store.updates[0]
	assert.Equal(t, "Pipe repaired", update["resolutionSummary"])
	assert.NotNil(t, update["resolutionDate"])
	assert.Contains(t, not.kinds(), notify.KindResolved)
}
