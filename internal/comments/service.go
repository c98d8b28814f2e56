package comments

import (
	"context"
	"strings"

	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/notify"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CaseAccess is the slice of the case engine the comment subsystem
// needs: load an active case and bump its activity marker.
type CaseAccess interface {
	Get(ctx context.Context, id int64) (*domain.Case, error)
	TouchActivity(ctx context.Context, id int64, actorID int64) error
}

// HistoryRecorder writes the comment-added audit entry.
type HistoryRecorder interface {
	RecordComment(ctx context.Context, caseID int64, commentID string, actorID int64)
}

// Notifier fans the comment out to its recipients.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) []notify.Notification
}

// TaskRunner schedules the comment's side effects.
type TaskRunner interface {
	Submit(name string, fn func(context.Context) error) bool
}

// AddRequest carries the fields of a new comment.
type AddRequest struct {
	Body     string
	Internal bool
	FollowUp bool
	Mentions []int64
}

// Service appends comments and launches the same decoupled side
// effects a case field mutation does.
type Service struct {
	repo     Repository
	cases    CaseAccess
	recorder HistoryRecorder
	notifier Notifier
	runner   TaskRunner
	logger   *zap.Logger
}

func NewService(repo Repository, cases CaseAccess, recorder HistoryRecorder, notifier Notifier, runner TaskRunner, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		cases:    cases,
		recorder: recorder,
		notifier: notifier,
		runner:   runner,
		logger:   logger,
	}
}

// Add appends a comment to an active case. The comment row and the
// activity bump are synchronous; history and notifications are not.
func (s *Service) Add(ctx context.Context, caseID int64, authorID int64, req AddRequest) (*Comment, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, errors.InvalidField("body", "must not be empty")
	}

	c, err := s.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}

	comment := &Comment{
		CaseID:   caseID,
		AuthorID: authorID,
		Body:     req.Body,
		Internal: req.Internal,
		FollowUp: req.FollowUp,
	}
	if err := s.repo.Insert(ctx, comment); err != nil {
		return nil, err
	}

	if err := s.cases.TouchActivity(ctx, caseID, authorID); err != nil {
		s.logger.Warn("failed to bump case activity after comment",
			zap.Int64("case_id", caseID),
			zap.Error(err))
	}

	s.launchEffects(c, comment, req, authorID)
	return comment, nil
}

// ListByCase returns a case's comments oldest first.
func (s *Service) ListByCase(ctx context.Context, caseID int64) ([]Comment, error) {
	if _, err := s.cases.Get(ctx, caseID); err != nil {
		return nil, err
	}
	return s.repo.ListByCase(ctx, caseID)
}

// CompleteFollowUp marks a follow-up comment as handled.
func (s *Service) CompleteFollowUp(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetFollowUpDone(ctx, id)
}

func (s *Service) launchEffects(c *domain.Case, comment *Comment, req AddRequest, authorID int64) {
	submit := func(name string, fn func(context.Context) error) {
		if !s.runner.Submit(name, fn) {
			s.logger.Warn("side effect queue full, task dropped", zap.String("task", name))
		}
	}

	submit("comment_added_history", func(taskCtx context.Context) error {
		s.recorder.RecordComment(taskCtx, c.ID, comment.ID.String(), authorID)
		return nil
	})
	submit("comment_added_notify", func(taskCtx context.Context) error {
		s.notifier.Dispatch(taskCtx, notify.Event{
			Kind:         notify.KindComment,
			Case:         c,
			ActorID:      authorID,
			Mentions:     req.Mentions,
			InternalOnly: req.Internal,
		})
		return nil
	})
}
