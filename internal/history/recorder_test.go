package history

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu      sync.Mutex
	entries []Entry
	failAll bool
}

func (f *fakeRepo) Insert(_ context.Context, e *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return assert.AnError
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeRepo) ListByCase(context.Context, int64) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Entry(nil), f.entries...), nil
}

func (f *fakeRepo) byAction(action Action) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, e := range f.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func testCase() *domain.Case {
	return &domain.Case{ID: 42, CaseNumber: "CS-20260115-0007"}
}

func TestRecordDedicatedEntries(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, zap.NewNop())

	changes := diff.Changes{
		"statusId":   {From: int64(1), To: int64(2)},
		"assignedTo": {From: nil, To: int64(9)},
		"priorityId": {From: int64(3), To: int64(1)},
		"categoryId": {From: int64(5), To: int64(6)},
	}
	rec.Record(context.Background(), testCase(), changes, 7, domain.UpdateMeta{Comments: "triage"})

	assert.Len(t, repo.byAction(ActionStatusChange), 1)
	assert.Len(t, repo.byAction(ActionAssignmentChange), 1)
	assert.Len(t, repo.byAction(ActionPriorityChange), 1)
	assert.Len(t, repo.byAction(ActionCategoryChange), 1)
	assert.Empty(t, repo.byAction(ActionGenericUpdate))

	status := repo.byAction(ActionStatusChange)[0]
	assert.Equal(t, int64(42), status.CaseID)
	assert.Equal(t, int64(7), status.ActorID)
	assert.Equal(t, "triage", status.Comments)
}

func TestRecordSingleGenericEntry(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, zap.NewNop())

	changes := diff.Changes{
		"title":        {From: "old", To: "new"},
		"description":  {From: "a", To: "b"},
		"contactPhone": {From: nil, To: "+381641234567"},
	}
	rec.Record(context.Background(), testCase(), changes, 7, domain.UpdateMeta{Reason: "corrections"})

	generic := repo.byAction(ActionGenericUpdate)
	require.Len(t, generic, 1)
	assert.Equal(t, "corrections", generic[0].Description)

	var nw map[string]any
	require.NoError(t, json.Unmarshal(generic[0].NewValue, &nw))
	assert.Len(t, nw, 3)
	assert.Equal(t, "new", nw["title"])
}

func TestRecordEscalationOnlyOnIncrease(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, zap.NewNop())

	rec.Record(context.Background(), testCase(), diff.Changes{
		"escalationLevel": {From: int64(2), To: int64(3)},
	}, 7, domain.UpdateMeta{})
	assert.Len(t, repo.byAction(ActionEscalation), 1)

	repo.entries = nil
	rec.Record(context.Background(), testCase(), diff.Changes{
		"escalationLevel": {From: int64(3), To: int64(1)},
	}, 7, domain.UpdateMeta{})
	assert.Empty(t, repo.byAction(ActionEscalation))
	assert.Len(t, repo.byAction(ActionGenericUpdate), 1)
}

func TestRecordResolutionOnlyOnFirstSet(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, zap.NewNop())

	rec.Record(context.Background(), testCase(), diff.Changes{
		"resolutionDate": {From: nil, To: "2026-02-01"},
	}, 7, domain.UpdateMeta{})
	assert.Len(t, repo.byAction(ActionResolution), 1)

	repo.entries = nil
	rec.Record(context.Background(), testCase(), diff.Changes{
		"resolutionDate": {From: "2026-02-01", To: "2026-02-03"},
	}, 7, domain.UpdateMeta{})
	assert.Empty(t, repo.byAction(ActionResolution))
	assert.Len(t, repo.byAction(ActionGenericUpdate), 1)
}

func TestRecordSkipsBookkeepingFields(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, zap.NewNop())

	rec.Record(context.Background(), testCase(), diff.Changes{
		"updatedAt":        {From: "2026-01-01", To: "2026-01-02"},
		"lastActivityDate": {From: "2026-01-01", To: "2026-01-02"},
	}, 7, domain.UpdateMeta{})

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Empty(t, repo.entries)
}

func TestRecordSurvivesInsertFailure(t *testing.T) {
	repo := &fakeRepo{failAll: true}
	rec := NewRecorder(repo, zap.NewNop())

	// Must not panic or return; failures are logged only.
	rec.Record(context.Background(), testCase(), diff.Changes{
		"statusId": {From: int64(1), To: int64(2)},
	}, 7, domain.UpdateMeta{})
}

func TestRecordCreation(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo, zap.NewNop())

	rec.RecordCreation(context.Background(), testCase(), 7)

	entries := repo.byAction(ActionCreation)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Description, "CS-20260115-0007")
}
