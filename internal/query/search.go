package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/communitydesk/casetrack/internal/schema"
)

// Criteria describes a case search. Filters carries raw caller values:
// exact matches, comma-separated IN-lists, and `<field>From`/`<field>To`
// date-range bounds share the one map the way the API receives them.
type Criteria struct {
	Term     string
	Filters  map[string]string
	SortBy   string
	SortDesc bool
	Page     int
	Limit    int
}

// Normalize clamps pagination to sane bounds.
func (c *Criteria) Normalize() {
	if c.Page < 1 {
		c.Page = 1
	}
	if c.Limit <= 0 {
		c.Limit = defaultLimit
	}
	if c.Limit > maxLimit {
		c.Limit = maxLimit
	}
}

// Offset converts page/limit to a row offset.
func (c *Criteria) Offset() int {
	return (c.Page - 1) * c.Limit
}

// Search builds the count and select statements for a criteria set.
// Soft-deleted rows are always excluded.
func Search(table, columns string, c Criteria) (Statement, Statement, error) {
	c.Normalize()

	conditions := []string{"NOT is_deleted"}
	var args []any
	argNum := 1

	if term := strings.TrimSpace(c.Term); term != "" {
		var ors []string
		for _, field := range textSearchFields {
			column, _ := schema.Column(field)
			ors = append(ors, fmt.Sprintf("%s ILIKE $%d", column, argNum))
		}
		conditions = append(conditions, "("+strings.Join(ors, " OR ")+")")
		args = append(args, "%"+term+"%")
		argNum++
	}

	filterConds, filterArgs, err := buildFilters(c.Filters, argNum)
	if err != nil {
		return Statement{}, Statement{}, err
	}
	conditions = append(conditions, filterConds...)
	args = append(args, filterArgs...)
	argNum += len(filterArgs)

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	count := Statement{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, whereClause),
		Args: append([]any(nil), args...),
	}

	sel := Statement{
		SQL: fmt.Sprintf(
			"SELECT %s FROM %s %s ORDER BY %s LIMIT $%d OFFSET $%d",
			columns, table, whereClause, orderBy(c), argNum, argNum+1,
		),
		Args: append(args, c.Limit, c.Offset()),
	}

	return count, sel, nil
}

// buildFilters translates the raw filter map into WHERE conditions.
// Unknown fields are dropped silently; coercion failures surface as
// validation errors.
func buildFilters(filters map[string]string, argNum int) ([]string, []any, error) {
	var conditions []string
	var args []any

	for _, key := range sortedKeys(filters) {
		raw := filters[key]
		if strings.TrimSpace(raw) == "" {
			continue
		}

		if field, op, ok := rangeBound(key); ok {
			value, err := schema.Coerce(field, raw)
			if err != nil {
				return nil, nil, err
			}
			column, _ := schema.Column(field)
			conditions = append(conditions, fmt.Sprintf("%s %s $%d", column, op, argNum))
			args = append(args, value)
			argNum++
			continue
		}

		if !filterFields[key] {
			continue
		}
		column, _ := schema.Column(key)

		if strings.Contains(raw, ",") {
			parts := strings.Split(raw, ",")
			var placeholders []string
			for _, part := range parts {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				value, err := schema.Coerce(key, part)
				if err != nil {
					return nil, nil, err
				}
				placeholders = append(placeholders, fmt.Sprintf("$%d", argNum))
				args = append(args, value)
				argNum++
			}
			if len(placeholders) > 0 {
				conditions = append(conditions, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
			}
			continue
		}

		value, err := schema.Coerce(key, raw)
		if err != nil {
			return nil, nil, err
		}
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, argNum))
		args = append(args, value)
		argNum++
	}

	return conditions, args, nil
}

// rangeBound recognizes `<field>From` and `<field>To` keys for
// range-filterable timestamp fields.
func rangeBound(key string) (field string, op string, ok bool) {
	if strings.HasSuffix(key, "From") {
		field = strings.TrimSuffix(key, "From")
		if rangeFields[field] {
			return field, ">=", true
		}
	}
	if strings.HasSuffix(key, "To") {
		field = strings.TrimSuffix(key, "To")
		if rangeFields[field] {
			return field, "<=", true
		}
	}
	return "", "", false
}

func orderBy(c Criteria) string {
	column, ok := sortFields[c.SortBy]
	if !ok {
		return "created_at DESC"
	}
	direction := "ASC"
	if c.SortDesc {
		direction = "DESC"
	}
	return column + " " + direction
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
