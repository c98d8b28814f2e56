package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/communitydesk/casetrack/internal/schema"
	"github.com/communitydesk/casetrack/internal/shared/errors"
)

// Statement is a parameterized SQL statement ready for binding.
type Statement struct {
	SQL  string
	Args []any
}

// textSearchFields are matched by the free-text term, OR-combined.
var textSearchFields = []string{
	"title",
	"description",
	"caseNumber",
	"providerName",
	"contactName",
}

// filterFields are accepted as exact-match or IN-list filters.
var filterFields = map[string]bool{
	"statusId":        true,
	"categoryId":      true,
	"priorityId":      true,
	"channelId":       true,
	"assignedTo":      true,
	"submittedBy":     true,
	"createdBy":       true,
	"locationId":      true,
	"escalationLevel": true,
	"isActive":        true,
	"isConfidential":  true,
}

// rangeFields are accepted with From/To bound suffixes.
var rangeFields = map[string]bool{
	"createdAt":        true,
	"updatedAt":        true,
	"submittedAt":      true,
	"assignedAt":       true,
	"resolutionDate":   true,
	"lastActivityDate": true,
}

// sortFields is the sort allow-list. Unknown sort keys fall back to
// newest-first by creation time.
var sortFields = map[string]string{
	"createdAt":        "created_at",
	"updatedAt":        "updated_at",
	"lastActivityDate": "last_activity_date",
	"caseNumber":       "case_number",
	"statusId":         "status_id",
	"priorityId":       "priority_id",
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Insert builds a parameterized INSERT from a field map. Fields absent
// from the schema registry are dropped; values are coerced to their
// registered type before binding.
func Insert(table string, fields map[string]any) (Statement, error) {
	names := knownFields(fields)
	if len(names) == 0 {
		return Statement{}, errors.Validation("no valid fields to insert", nil)
	}

	columns := make([]string, 0, len(names))
	placeholders := make([]string, 0, len(names))
	args := make([]any, 0, len(names))

	for i, name := range names {
		value, err := schema.Coerce(name, fields[name])
		if err != nil {
			return Statement{}, err
		}
		column, _ := schema.Column(name)
		columns = append(columns, column)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, value)
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)

	return Statement{SQL: sql, Args: args}, nil
}

// Update builds a parameterized UPDATE with a SET clause for the given
// fields and a WHERE on id. The id field itself is never settable.
func Update(table string, id int64, fields map[string]any) (Statement, error) {
	names := knownFields(fields)
	if len(names) == 0 {
		return Statement{}, errors.Validation("no valid fields to update", nil)
	}

	assignments := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)

	for i, name := range names {
		value, err := schema.Coerce(name, fields[name])
		if err != nil {
			return Statement{}, err
		}
		column, _ := schema.Column(name)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, i+1))
		args = append(args, value)
	}

	args = append(args, id)
	sql := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND NOT is_deleted",
		table, strings.Join(assignments, ", "), len(args),
	)

	return Statement{SQL: sql, Args: args}, nil
}

// knownFields returns the registry-known field names in deterministic
// order, excluding id.
func knownFields(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == "id" {
			continue
		}
		if _, ok := schema.Lookup(name); !ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
