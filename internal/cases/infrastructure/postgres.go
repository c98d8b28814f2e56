// Package infrastructure provides the pgx-backed case store.
package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/query"
	"github.com/communitydesk/casetrack/internal/shared/database"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/communitydesk/casetrack/internal/shared/metrics"
	"github.com/jackc/pgx/v5"
)

// caseColumns lists every persisted column in scan order.
const caseColumns = `id, case_number, category_id, priority_id, status_id, channel_id,
	title, description, impact_description, urgency, affected_beneficiaries,
	provider_name, contact_name, contact_phone, contact_email,
	consent_to_contact, is_confidential, location_id,
	assigned_to, assigned_by, assigned_at, assignment_comments,
	submitted_by, submitted_at,
	escalation_level, escalation_reason, resolution_summary, resolution_date,
	compensation_amount, quality_rating, quality_comments,
	last_activity_date, created_by, created_at, updated_by, updated_at,
	deleted_by, deleted_at, is_active, is_deleted`

// PostgresStore persists cases in the cases table.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, fields map[string]any) (int64, error) {
	stmt, err := query.Insert("cases", fields)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	var id int64
	err = s.db.Pool.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&id)
	metrics.RecordDBQuery("case_insert", time.Since(start))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return 0, errors.Conflict("case number already exists")
		}
		return 0, errors.Persistence(err, "inserting case")
	}
	return id, nil
}

func (s *PostgresStore) UpdateFields(ctx context.Context, id int64, fields map[string]any) error {
	stmt, err := query.Update("cases", id, fields)
	if err != nil {
		return err
	}

	start := time.Now()
	tag, err := s.db.Pool.Exec(ctx, stmt.SQL, stmt.Args...)
	metrics.RecordDBQuery("case_update", time.Since(start))
	if err != nil {
		return errors.Persistence(err, fmt.Sprintf("updating case %d", id))
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("case", fmt.Sprint(id))
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*domain.Case, error) {
	start := time.Now()
	row := s.db.Pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM cases WHERE id = $1 AND NOT is_deleted", caseColumns),
		id,
	)
	c, err := scanCase(row)
	metrics.RecordDBQuery("case_get", time.Since(start))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("case", fmt.Sprint(id))
		}
		return nil, errors.Persistence(err, fmt.Sprintf("loading case %d", id))
	}
	return c, nil
}

func (s *PostgresStore) GetByNumber(ctx context.Context, number string) (*domain.Case, error) {
	start := time.Now()
	row := s.db.Pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM cases WHERE case_number = $1 AND NOT is_deleted", caseColumns),
		number,
	)
	c, err := scanCase(row)
	metrics.RecordDBQuery("case_get_by_number", time.Since(start))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("case", number)
		}
		return nil, errors.Persistence(err, fmt.Sprintf("loading case %s", number))
	}
	return c, nil
}

func (s *PostgresStore) Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.Case, int64, error) {
	countStmt, selStmt, err := query.Search("cases", caseColumns, toQueryCriteria(criteria))
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	var total int64
	if err := s.db.Pool.QueryRow(ctx, countStmt.SQL, countStmt.Args...).Scan(&total); err != nil {
		metrics.RecordDBQuery("case_search", time.Since(start))
		return nil, 0, errors.Persistence(err, "counting search results")
	}

	rows, err := s.db.Pool.Query(ctx, selStmt.SQL, selStmt.Args...)
	if err != nil {
		metrics.RecordDBQuery("case_search", time.Since(start))
		return nil, 0, errors.Persistence(err, "searching cases")
	}
	defer rows.Close()

	results := []domain.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, errors.Persistence(err, "scanning search result")
		}
		results = append(results, *c)
	}
	metrics.RecordDBQuery("case_search", time.Since(start))
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Persistence(err, "iterating search results")
	}
	return results, total, nil
}

// CountCreatedOn counts cases created in the given UTC day, including
// soft-deleted rows so allocated sequence numbers stay monotonic.
func (s *PostgresStore) CountCreatedOn(ctx context.Context, day time.Time) (int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	start := time.Now()
	var count int64
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM cases
		WHERE created_at >= $1 AND created_at < $2`,
		dayStart, dayStart.Add(24*time.Hour),
	).Scan(&count)
	metrics.RecordDBQuery("case_count_created", time.Since(start))
	if err != nil {
		return 0, errors.Persistence(err, "counting cases created today")
	}
	return count, nil
}

// toQueryCriteria folds the caller's access scope into the filter map
// before the statement is built.
func toQueryCriteria(criteria domain.SearchCriteria) query.Criteria {
	filters := make(map[string]string, len(criteria.Filters)+2)
	for k, v := range criteria.Filters {
		filters[k] = v
	}
	if criteria.Scope.SubmittedBy != nil {
		filters["submittedBy"] = fmt.Sprint(*criteria.Scope.SubmittedBy)
	}
	if criteria.Scope.AssignedTo != nil {
		filters["assignedTo"] = fmt.Sprint(*criteria.Scope.AssignedTo)
	}
	return query.Criteria{
		Term:     criteria.Term,
		Filters:  filters,
		SortBy:   criteria.SortBy,
		SortDesc: criteria.SortDesc,
		Page:     criteria.Page,
		Limit:    criteria.Limit,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (*domain.Case, error) {
	var c domain.Case
	err := row.Scan(
		&c.ID, &c.CaseNumber, &c.CategoryID, &c.PriorityID, &c.StatusID, &c.ChannelID,
		&c.Title, &c.Description, &c.ImpactDescription, &c.Urgency, &c.AffectedBeneficiaries,
		&c.ProviderName, &c.ContactName, &c.ContactPhone, &c.ContactEmail,
		&c.ConsentToContact, &c.IsConfidential, &c.LocationID,
		&c.AssignedTo, &c.AssignedBy, &c.AssignedAt, &c.AssignmentComments,
		&c.SubmittedBy, &c.SubmittedAt,
		&c.EscalationLevel, &c.EscalationReason, &c.ResolutionSummary, &c.ResolutionDate,
		&c.CompensationAmount, &c.QualityRating, &c.QualityComments,
		&c.LastActivityDate, &c.CreatedBy, &c.CreatedAt, &c.UpdatedBy, &c.UpdatedAt,
		&c.DeletedBy, &c.DeletedAt, &c.IsActive, &c.IsDeleted,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
