package history

import (
	"context"
	"fmt"
	"time"

	"github.com/communitydesk/casetrack/internal/shared/database"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/communitydesk/casetrack/internal/shared/metrics"
	"github.com/google/uuid"
)

// PostgresRepository stores history entries in the case_history table.
type PostgresRepository struct {
	db *database.DB
}

func NewPostgresRepository(db *database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *Entry) error {
	start := time.Now()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO case_history (id, case_id, action, old_value, new_value, description, comments, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.CaseID, string(e.Action), e.OldValue, e.NewValue, e.Description, e.Comments, e.ActorID, e.CreatedAt,
	)
	metrics.RecordDBQuery("history_insert", time.Since(start))
	if err != nil {
		return errors.Persistence(err, fmt.Sprintf("inserting history entry for case %d", e.CaseID))
	}
	metrics.RecordHistoryEntry(string(e.Action))
	return nil
}

func (r *PostgresRepository) ListByCase(ctx context.Context, caseID int64) ([]Entry, error) {
	start := time.Now()
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, case_id, action, old_value, new_value, description, comments, actor_id, created_at
		FROM case_history
		WHERE case_id = $1
		ORDER BY created_at DESC`,
		caseID,
	)
	metrics.RecordDBQuery("history_list", time.Since(start))
	if err != nil {
		return nil, errors.Persistence(err, fmt.Sprintf("listing history for case %d", caseID))
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.ID, &e.CaseID, &action, &e.OldValue, &e.NewValue, &e.Description, &e.Comments, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, errors.Persistence(err, "scanning history entry")
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, "iterating history entries")
	}
	return entries, nil
}
