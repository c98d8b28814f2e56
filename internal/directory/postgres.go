package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/communitydesk/casetrack/internal/shared/errors"
)

// PostgresLookup implements Lookup against the users table
type PostgresLookup struct {
	pool *pgxpool.Pool
}

// NewPostgresLookup creates a new PostgreSQL directory lookup
func NewPostgresLookup(pool *pgxpool.Pool) *PostgresLookup {
	return &PostgresLookup{pool: pool}
}

// UserByID resolves a single active user.
func (l *PostgresLookup) UserByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, full_name, email, role
		FROM users
		WHERE id = $1 AND is_active`

	u := &User{}
	err := l.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.FullName, &u.Email, &u.Role)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, errors.Persistence(err, "failed to find user")
	}

	return u, nil
}

// UsersWithRoles lists active users holding any of the given roles.
func (l *PostgresLookup) UsersWithRoles(ctx context.Context, roles []string) ([]User, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roles))
	args := make([]any, len(roles))
	for i, role := range roles {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = role
	}

	query := fmt.Sprintf(`
		SELECT id, full_name, email, role
		FROM users
		WHERE role IN (%s) AND is_active
		ORDER BY id`, strings.Join(placeholders, ", "))

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Persistence(err, "failed to list users by role")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.Role); err != nil {
			return nil, errors.Persistence(err, "failed to scan user")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, "failed to iterate users by role")
	}

	return users, nil
}
