package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/directory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotifRepo struct {
	mu         sync.Mutex
	inserted   []Notification
	deliveries []Delivery
	failInsert bool
}

func (f *fakeNotifRepo) Insert(_ context.Context, n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return assert.AnError
	}
	n.ID = uuid.New()
	f.inserted = append(f.inserted, *n)
	return nil
}

func (f *fakeNotifRepo) ListByUser(context.Context, int64, bool, int, int) ([]Notification, error) {
	return nil, nil
}
func (f *fakeNotifRepo) CountUnread(context.Context, int64) (int64, error)     { return 0, nil }
func (f *fakeNotifRepo) MarkRead(context.Context, uuid.UUID, int64) error      { return nil }
func (f *fakeNotifRepo) MarkAllRead(context.Context, int64) (int64, error)     { return 0, nil }
func (f *fakeNotifRepo) Deactivate(context.Context, uuid.UUID, int64) error    { return nil }
func (f *fakeNotifRepo) RecordDelivery(_ context.Context, d *Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, *d)
	return nil
}

func (f *fakeNotifRepo) recipients() map[int64]Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]Type, len(f.inserted))
	for _, n := range f.inserted {
		out[n.UserID] = n.Type
	}
	return out
}

type fakeDirectory struct {
	supervisors []directory.User
	emails      map[int64]string
}

func (f *fakeDirectory) UserByID(_ context.Context, id int64) (*directory.User, error) {
	email, ok := f.emails[id]
	if !ok {
		return nil, fmt.Errorf("user %d not found", id)
	}
	return &directory.User{ID: id, Email: email}, nil
}

func (f *fakeDirectory) UsersWithRoles(context.Context, []string) ([]directory.User, error) {
	return f.supervisors, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeSender) Channel() string { return "email" }

func (f *fakeSender) Send(_ context.Context, _ *Notification, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, email)
	return nil
}

// syncRunner executes submitted tasks inline.
type syncRunner struct{}

func (syncRunner) Submit(_ string, fn func(context.Context) error) bool {
	_ = fn(context.Background())
	return true
}

func ptr[T any](v T) *T { return &v }

func caseWith(submitter, assignee int64) *domain.Case {
	c := &domain.Case{ID: 42, CaseNumber: "CS-20260115-0001", Title: "Water outage"}
	if submitter != 0 {
		c.SubmittedBy = ptr(submitter)
	}
	if assignee != 0 {
		c.AssignedTo = ptr(assignee)
	}
	return c
}

func newTestDispatcher(repo *fakeNotifRepo, dir *fakeDirectory, sender Sender) *Dispatcher {
	if dir == nil {
		dir = &fakeDirectory{emails: map[int64]string{}}
	}
	if sender == nil {
		sender = &fakeSender{}
	}
	return NewDispatcher(repo, dir, sender, syncRunner{}, zap.NewNop())
}

func TestDispatchStatusChangeRecipients(t *testing.T) {
	repo := &fakeNotifRepo{}
	d := newTestDispatcher(repo, nil, nil)

	created := d.Dispatch(context.Background(), Event{
		Kind:    KindStatusChange,
		Case:    caseWith(5, 11),
		ActorID: 9,
		From:    int64(1),
		To:      int64(3),
	})

	require.Len(t, created, 2)
	got := repo.recipients()
	assert.Equal(t, TypeStatusChanged, got[5])
	assert.Equal(t, TypeStatusChanged, got[11])
}

func TestDispatchExcludesActor(t *testing.T) {
	repo := &fakeNotifRepo{}
	d := newTestDispatcher(repo, nil, nil)

	created := d.Dispatch(context.Background(), Event{
		Kind:    KindStatusChange,
		Case:    caseWith(5, 11),
		ActorID: 11,
	})

	require.Len(t, created, 1)
	assert.Equal(t, int64(5), created[0].UserID)
}

func TestDispatchAssignmentTransfer(t *testing.T) {
	repo := &fakeNotifRepo{}
	d := newTestDispatcher(repo, nil, nil)

	d.Dispatch(context.Background(), Event{
		Kind:         KindAssigned,
		Case:         caseWith(5, 11),
		ActorID:      9,
		PrevAssignee: ptr(int64(13)),
	})

	got := repo.recipients()
	assert.Equal(t, TypeCaseAssigned, got[11])
	assert.Equal(t, TypeTransferred, got[13])
	assert.NotContains(t, got, int64(5))
}

func TestDispatchEscalationFansOutToSupervisors(t *testing.T) {
	repo := &fakeNotifRepo{}
	dir := &fakeDirectory{supervisors: []directory.User{{ID: 20}, {ID: 21}, {ID: 9}}}
	d := newTestDispatcher(repo, dir, nil)

	d.Dispatch(context.Background(), Event{
		Kind:    KindEscalated,
		Case:    caseWith(5, 11),
		ActorID: 9,
		To:      int64(3),
	})

	got := repo.recipients()
	assert.Contains(t, got, int64(20))
	assert.Contains(t, got, int64(21))
	assert.NotContains(t, got, int64(9), "actor must never be notified")
	assert.NotContains(t, got, int64(11), "assignee joins only when the escalation moved the assignment")
}

func TestDispatchEscalationIncludesNewAssignee(t *testing.T) {
	repo := &fakeNotifRepo{}
	dir := &fakeDirectory{supervisors: []directory.User{{ID: 20}}}
	d := newTestDispatcher(repo, dir, nil)

	d.Dispatch(context.Background(), Event{
		Kind:              KindEscalated,
		Case:              caseWith(5, 11),
		ActorID:           9,
		AssignmentChanged: true,
	})

	assert.Contains(t, repo.recipients(), int64(11))
}

func TestDispatchInternalCommentSkipsSubmitter(t *testing.T) {
	repo := &fakeNotifRepo{}
	d := newTestDispatcher(repo, nil, nil)

	d.Dispatch(context.Background(), Event{
		Kind:         KindComment,
		Case:         caseWith(5, 11),
		ActorID:      9,
		InternalOnly: true,
		Mentions:     []int64{30, 11},
	})

	got := repo.recipients()
	assert.NotContains(t, got, int64(5))
	assert.Contains(t, got, int64(11))
	assert.Contains(t, got, int64(30))
	assert.Len(t, got, 2, "mentioning the assignee must not duplicate them")
}

func TestDispatchCreationNotifiesSupervisorsOnce(t *testing.T) {
	repo := &fakeNotifRepo{}
	dir := &fakeDirectory{supervisors: []directory.User{{ID: 11}, {ID: 20}}}
	d := newTestDispatcher(repo, dir, nil)

	d.Dispatch(context.Background(), Event{
		Kind:    KindCreated,
		Case:    caseWith(7, 11),
		ActorID: 7,
	})

	got := repo.recipients()
	// The assignee is claimed by the assignment rule before the
	// supervisory fan-out reaches them.
	assert.Equal(t, TypeCaseAssigned, got[11])
	assert.Equal(t, TypeCaseCreated, got[20])
	assert.Len(t, got, 2)
}

func TestDerivePriority(t *testing.T) {
	tests := []struct {
		name     string
		priority *int64
		urgency  *string
		want     Priority
	}{
		{"level 1 is urgent", ptr(int64(1)), nil, PriorityUrgent},
		{"level 2 is urgent", ptr(int64(2)), nil, PriorityUrgent},
		{"level 3 is high", ptr(int64(3)), nil, PriorityHigh},
		{"level 4 is normal", ptr(int64(4)), nil, PriorityNormal},
		{"level 5 is low", ptr(int64(5)), nil, PriorityLow},
		{"critical text is urgent", nil, ptr("CRITICAL - no water"), PriorityUrgent},
		{"high text", nil, ptr("high"), PriorityHigh},
		{"low text", nil, ptr("low"), PriorityLow},
		{"unknown text is normal", nil, ptr("whenever"), PriorityNormal},
		{"nothing set is normal", nil, nil, PriorityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &domain.Case{PriorityID: tt.priority, Urgency: tt.urgency}
			assert.Equal(t, tt.want, derivePriority(c))
		})
	}
}

func TestDispatchRecordsDeliveryOutcome(t *testing.T) {
	repo := &fakeNotifRepo{}
	dir := &fakeDirectory{emails: map[int64]string{5: "submitter@example.org"}}
	sender := &fakeSender{}
	d := newTestDispatcher(repo, dir, sender)

	d.Dispatch(context.Background(), Event{
		Kind:    KindResolved,
		Case:    caseWith(5, 0),
		ActorID: 9,
	})

	require.Len(t, repo.deliveries, 1)
	assert.True(t, repo.deliveries[0].Sent)
	assert.Equal(t, "email", repo.deliveries[0].Channel)
	assert.Equal(t, []string{"submitter@example.org"}, sender.sent)
}

func TestDispatchRecordsDeliveryFailure(t *testing.T) {
	repo := &fakeNotifRepo{}
	dir := &fakeDirectory{emails: map[int64]string{5: "submitter@example.org"}}
	d := newTestDispatcher(repo, dir, &fakeSender{fail: true})

	created := d.Dispatch(context.Background(), Event{
		Kind:    KindResolved,
		Case:    caseWith(5, 0),
		ActorID: 9,
	})

	require.Len(t, created, 1, "delivery failure must not undo the notification")
	require.Len(t, repo.deliveries, 1)
	assert.False(t, repo.deliveries[0].Sent)
	assert.NotEmpty(t, repo.deliveries[0].Error)
}

func TestDispatchSurvivesInsertFailure(t *testing.T) {
	repo := &fakeNotifRepo{failInsert: true}
	d := newTestDispatcher(repo, nil, nil)

	created := d.Dispatch(context.Background(), Event{
		Kind:    KindStatusChange,
		Case:    caseWith(5, 11),
		ActorID: 9,
	})
	assert.Empty(t, created)
}
