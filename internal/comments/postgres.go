package comments

import (
	"context"
	"fmt"
	"time"

	"github.com/communitydesk/casetrack/internal/shared/database"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/communitydesk/casetrack/internal/shared/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresRepository stores comments in the case_comments table.
type PostgresRepository struct {
	db *database.DB
}

func NewPostgresRepository(db *database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, c *Comment) error {
	start := time.Now()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO case_comments (id, case_id, author_id, body, is_internal, follow_up, follow_up_done, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.CaseID, c.AuthorID, c.Body, c.Internal, c.FollowUp, c.FollowUpDone, c.CreatedAt,
	)
	metrics.RecordDBQuery("comment_insert", time.Since(start))
	if err != nil {
		return errors.Persistence(err, fmt.Sprintf("inserting comment on case %d", c.CaseID))
	}
	return nil
}

func (r *PostgresRepository) ListByCase(ctx context.Context, caseID int64) ([]Comment, error) {
	start := time.Now()
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, case_id, author_id, body, is_internal, follow_up, follow_up_done, created_at
		FROM case_comments
		WHERE case_id = $1
		ORDER BY created_at ASC`,
		caseID,
	)
	metrics.RecordDBQuery("comment_list", time.Since(start))
	if err != nil {
		return nil, errors.Persistence(err, fmt.Sprintf("listing comments for case %d", caseID))
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.CaseID, &c.AuthorID, &c.Body, &c.Internal, &c.FollowUp, &c.FollowUpDone, &c.CreatedAt); err != nil {
			return nil, errors.Persistence(err, "scanning comment")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, "iterating comments")
	}
	return out, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Comment, error) {
	start := time.Now()
	var c Comment
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, case_id, author_id, body, is_internal, follow_up, follow_up_done, created_at
		FROM case_comments WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.CaseID, &c.AuthorID, &c.Body, &c.Internal, &c.FollowUp, &c.FollowUpDone, &c.CreatedAt)
	metrics.RecordDBQuery("comment_get", time.Since(start))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("comment", id.String())
		}
		return nil, errors.Persistence(err, "loading comment")
	}
	return &c, nil
}

func (r *PostgresRepository) SetFollowUpDone(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE case_comments SET follow_up_done = true
		WHERE id = $1 AND follow_up`,
		id,
	)
	metrics.RecordDBQuery("comment_follow_up_done", time.Since(start))
	if err != nil {
		return errors.Persistence(err, "completing follow-up")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("comment", id.String())
	}
	return nil
}
