package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/directory"
	"go.uber.org/zap"
)

// Kind identifies the case event that triggered a dispatch.
type Kind string

const (
	KindCreated      Kind = "created"
	KindAssigned     Kind = "assigned"
	KindStatusChange Kind = "status_change"
	KindEscalated    Kind = "escalated"
	KindResolved     Kind = "resolved"
	KindComment      Kind = "comment"
	KindUpdated      Kind = "updated"
)

// Event carries everything the dispatcher needs to pick recipients.
type Event struct {
	Kind    Kind
	Case    *domain.Case
	ActorID int64

	// PrevAssignee is the assignee before a reassignment; they receive
	// a transfer notification.
	PrevAssignee *int64

	// AssignmentChanged marks an escalation that also moved the
	// assignment; the new assignee then joins the supervisory fan-out.
	AssignmentChanged bool

	// Mentions are users explicitly named in a comment.
	Mentions []int64

	// InternalOnly excludes the case submitter from comment fan-out.
	InternalOnly bool

	// From and To describe the changed value, included as metadata.
	From any
	To   any
}

// TaskRunner schedules background work. Submit reports false when the
// task could not be queued.
type TaskRunner interface {
	Submit(name string, fn func(context.Context) error) bool
}

// recipient pairs a target user with the notification type they get.
type recipient struct {
	userID int64
	typ    Type
}

// Dispatcher turns case events into per-recipient notifications and
// schedules a delivery attempt for each.
type Dispatcher struct {
	repo   Repository
	dir    directory.Lookup
	sender Sender
	runner TaskRunner
	logger *zap.Logger
}

func NewDispatcher(repo Repository, dir directory.Lookup, sender Sender, runner TaskRunner, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, dir: dir, sender: sender, runner: runner, logger: logger}
}

// Dispatch creates one notification per (recipient, event) pair. The
// triggering actor is never a recipient. Persistence failures are
// logged per notification and never returned to the mutation path.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) []Notification {
	if ev.Case == nil {
		return nil
	}

	recipients := d.selectRecipients(ctx, ev)
	if len(recipients) == 0 {
		return nil
	}

	priority := derivePriority(ev.Case)
	metadata := buildMetadata(ev)

	var created []Notification
	for _, rcp := range recipients {
		n := Notification{
			UserID:   rcp.userID,
			CaseID:   ev.Case.ID,
			Type:     rcp.typ,
			Priority: priority,
			Title:    buildTitle(rcp.typ, ev.Case),
			Body:     buildBody(rcp.typ, ev),
			Metadata: metadata,
			ActorID:  &ev.ActorID,
			Action:   string(ev.Kind),
		}
		if err := d.repo.Insert(ctx, &n); err != nil {
			d.logger.Error("failed to create notification",
				zap.Int64("case_id", ev.Case.ID),
				zap.Int64("user_id", rcp.userID),
				zap.String("type", string(rcp.typ)),
				zap.Error(err))
			continue
		}
		created = append(created, n)
		d.scheduleDelivery(n)
	}
	return created
}

// selectRecipients applies the per-event fan-out rules. The returned
// set is deduplicated and never contains the actor; the first rule to
// claim a user decides their notification type.
func (d *Dispatcher) selectRecipients(ctx context.Context, ev Event) []recipient {
	c := ev.Case
	var out []recipient
	seen := map[int64]bool{ev.ActorID: true}

	add := func(id *int64, typ Type) {
		if id == nil || *id == 0 || seen[*id] {
			return
		}
		seen[*id] = true
		out = append(out, recipient{userID: *id, typ: typ})
	}
	addSupervisors := func(typ Type) {
		users, err := d.dir.UsersWithRoles(ctx, directory.SupervisoryRoles)
		if err != nil {
			d.logger.Warn("failed to resolve supervisory users",
				zap.Int64("case_id", c.ID),
				zap.Error(err))
			return
		}
		for i := range users {
			add(&users[i].ID, typ)
		}
	}

	switch ev.Kind {
	case KindCreated:
		add(c.AssignedTo, TypeCaseAssigned)
		addSupervisors(TypeCaseCreated)
	case KindAssigned:
		add(c.AssignedTo, TypeCaseAssigned)
		add(ev.PrevAssignee, TypeTransferred)
	case KindStatusChange:
		add(c.SubmittedBy, TypeStatusChanged)
		add(c.AssignedTo, TypeStatusChanged)
	case KindEscalated:
		addSupervisors(TypeEscalated)
		if ev.AssignmentChanged {
			add(c.AssignedTo, TypeEscalated)
		}
	case KindResolved:
		add(c.SubmittedBy, TypeResolved)
		add(c.AssignedTo, TypeResolved)
	case KindComment:
		if !ev.InternalOnly {
			add(c.SubmittedBy, TypeCommentAdded)
		}
		add(c.AssignedTo, TypeCommentAdded)
		for i := range ev.Mentions {
			add(&ev.Mentions[i], TypeCommentAdded)
		}
	case KindUpdated:
		add(c.SubmittedBy, TypeCaseUpdated)
		add(c.AssignedTo, TypeCaseUpdated)
	}
	return out
}

// scheduleDelivery queues one asynchronous delivery attempt. The
// outcome is written back as a delivery record; a queue-full drop is
// logged and otherwise ignored.
func (d *Dispatcher) scheduleDelivery(n Notification) {
	ok := d.runner.Submit("notification_delivery", func(ctx context.Context) error {
		delivery := &Delivery{
			NotificationID: n.ID,
			Channel:        d.sender.Channel(),
		}

		user, err := d.dir.UserByID(ctx, n.UserID)
		if err != nil {
			delivery.Error = err.Error()
		} else if err := d.sender.Send(ctx, &n, user.Email); err != nil {
			delivery.Error = err.Error()
		} else {
			delivery.Sent = true
		}

		if err := d.repo.RecordDelivery(ctx, delivery); err != nil {
			d.logger.Error("failed to record delivery outcome",
				zap.String("notification_id", n.ID.String()),
				zap.Error(err))
			return err
		}
		if !delivery.Sent {
			return fmt.Errorf("delivery to user %d failed: %s", n.UserID, delivery.Error)
		}
		return nil
	})
	if !ok {
		d.logger.Warn("delivery queue full, dropping attempt",
			zap.String("notification_id", n.ID.String()))
	}
}

// derivePriority buckets a case into a notification priority from its
// numeric priority level, falling back to free-text urgency keywords.
func derivePriority(c *domain.Case) Priority {
	if c.PriorityID != nil {
		switch level := *c.PriorityID; {
		case level <= 2:
			return PriorityUrgent
		case level <= 3:
			return PriorityHigh
		case level >= 5:
			return PriorityLow
		default:
			return PriorityNormal
		}
	}
	if c.Urgency != nil {
		u := strings.ToLower(*c.Urgency)
		switch {
		case strings.Contains(u, "urgent") || strings.Contains(u, "critical"):
			return PriorityUrgent
		case strings.Contains(u, "high"):
			return PriorityHigh
		case strings.Contains(u, "low"):
			return PriorityLow
		}
	}
	return PriorityNormal
}

func buildTitle(typ Type, c *domain.Case) string {
	switch typ {
	case TypeCaseCreated:
		return fmt.Sprintf("New case %s", c.CaseNumber)
	case TypeCaseAssigned:
		return fmt.Sprintf("Case %s assigned to you", c.CaseNumber)
	case TypeTransferred:
		return fmt.Sprintf("Case %s reassigned", c.CaseNumber)
	case TypeStatusChanged:
		return fmt.Sprintf("Case %s status changed", c.CaseNumber)
	case TypeEscalated:
		return fmt.Sprintf("Case %s escalated", c.CaseNumber)
	case TypeResolved:
		return fmt.Sprintf("Case %s resolved", c.CaseNumber)
	case TypeCommentAdded:
		return fmt.Sprintf("New comment on case %s", c.CaseNumber)
	default:
		return fmt.Sprintf("Case %s updated", c.CaseNumber)
	}
}

func buildBody(typ Type, ev Event) string {
	title := ev.Case.Title
	switch typ {
	case TypeStatusChanged:
		return fmt.Sprintf("%s: status changed from %v to %v", title, ev.From, ev.To)
	case TypeEscalated:
		return fmt.Sprintf("%s: escalated to level %v", title, ev.To)
	case TypeTransferred:
		return fmt.Sprintf("%s: the case has been reassigned", title)
	default:
		return title
	}
}

func buildMetadata(ev Event) json.RawMessage {
	if ev.From == nil && ev.To == nil {
		return nil
	}
	b, err := json.Marshal(map[string]any{"from": ev.From, "to": ev.To})
	if err != nil {
		return nil
	}
	return b
}
