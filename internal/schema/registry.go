package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/communitydesk/casetrack/internal/shared/errors"
)

// Type is the semantic type of a case field.
type Type int

const (
	TypeInteger Type = iota
	TypeText
	TypeBoolean
	TypeTimestamp
	TypeDecimal
)

func (t Type) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeText:
		return "text"
	case TypeBoolean:
		return "boolean"
	case TypeTimestamp:
		return "timestamp"
	case TypeDecimal:
		return "decimal"
	default:
		return "unknown"
	}
}

// Field maps a caller-facing field name to its column and semantic type.
type Field struct {
	Column string
	Type   Type
}

// caseFields is the static registry for the cases table. Field names are
// the unit of backward compatibility with callers; columns are the
// persisted shape.
var caseFields = map[string]Field{
	"id":                    {Column: "id", Type: TypeInteger},
	"caseNumber":            {Column: "case_number", Type: TypeText},
	"categoryId":            {Column: "category_id", Type: TypeInteger},
	"priorityId":            {Column: "priority_id", Type: TypeInteger},
	"statusId":              {Column: "status_id", Type: TypeInteger},
	"channelId":             {Column: "channel_id", Type: TypeInteger},
	"title":                 {Column: "title", Type: TypeText},
	"description":           {Column: "description", Type: TypeText},
	"impactDescription":     {Column: "impact_description", Type: TypeText},
	"urgency":               {Column: "urgency", Type: TypeText},
	"affectedBeneficiaries": {Column: "affected_beneficiaries", Type: TypeInteger},
	"providerName":          {Column: "provider_name", Type: TypeText},
	"contactName":           {Column: "contact_name", Type: TypeText},
	"contactPhone":          {Column: "contact_phone", Type: TypeText},
	"contactEmail":          {Column: "contact_email", Type: TypeText},
	"consentToContact":      {Column: "consent_to_contact", Type: TypeBoolean},
	"isConfidential":        {Column: "is_confidential", Type: TypeBoolean},
	"locationId":            {Column: "location_id", Type: TypeInteger},
	"assignedTo":            {Column: "assigned_to", Type: TypeInteger},
	"assignedBy":            {Column: "assigned_by", Type: TypeInteger},
	"assignedAt":            {Column: "assigned_at", Type: TypeTimestamp},
	"assignmentComments":    {Column: "assignment_comments", Type: TypeText},
	"submittedBy":           {Column: "submitted_by", Type: TypeInteger},
	"submittedAt":           {Column: "submitted_at", Type: TypeTimestamp},
	"escalationLevel":       {Column: "escalation_level", Type: TypeInteger},
	"escalationReason":      {Column: "escalation_reason", Type: TypeText},
	"resolutionSummary":     {Column: "resolution_summary", Type: TypeText},
	"resolutionDate":        {Column: "resolution_date", Type: TypeTimestamp},
	"compensationAmount":    {Column: "compensation_amount", Type: TypeDecimal},
	"qualityRating":         {Column: "quality_rating", Type: TypeInteger},
	"qualityComments":       {Column: "quality_comments", Type: TypeText},
	"lastActivityDate":      {Column: "last_activity_date", Type: TypeTimestamp},
	"createdBy":             {Column: "created_by", Type: TypeInteger},
	"createdAt":             {Column: "created_at", Type: TypeTimestamp},
	"updatedBy":             {Column: "updated_by", Type: TypeInteger},
	"updatedAt":             {Column: "updated_at", Type: TypeTimestamp},
	"deletedBy":             {Column: "deleted_by", Type: TypeInteger},
	"deletedAt":             {Column: "deleted_at", Type: TypeTimestamp},
	"isActive":              {Column: "is_active", Type: TypeBoolean},
	"isDeleted":             {Column: "is_deleted", Type: TypeBoolean},
}

// Lookup returns the registry entry for a field name.
func Lookup(field string) (Field, bool) {
	f, ok := caseFields[field]
	return f, ok
}

// TypeOf returns the semantic type of a field name.
func TypeOf(field string) (Type, bool) {
	f, ok := caseFields[field]
	return f.Type, ok
}

// Column returns the column name for a field, or false when unknown.
func Column(field string) (string, bool) {
	f, ok := caseFields[field]
	return f.Column, ok
}

// timestampLayouts are accepted for string timestamp input, most
// specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts a raw caller value into the field's semantic type.
// A value that cannot be converted raises a validation error naming
// the field.
func Coerce(field string, value any) (any, error) {
	f, ok := caseFields[field]
	if !ok {
		return nil, errors.InvalidField(field, "unknown field")
	}
	if value == nil {
		return nil, nil
	}

	switch f.Type {
	case TypeInteger:
		return coerceInt(field, value)
	case TypeText:
		return coerceText(field, value)
	case TypeBoolean:
		return coerceBool(value), nil
	case TypeTimestamp:
		return coerceTimestamp(field, value)
	case TypeDecimal:
		return coerceDecimal(field, value)
	default:
		return nil, errors.InvalidField(field, fmt.Sprintf("unsupported type %v", f.Type))
	}
}

func coerceInt(field string, value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, errors.InvalidField(field, "expected integer")
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, errors.InvalidField(field, "expected integer")
		}
		return n, nil
	default:
		return nil, errors.InvalidField(field, "expected integer")
	}
}

func coerceText(field string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return nil, errors.InvalidField(field, "expected text")
	}
}

// coerceBool applies the truthy set {true, "true", "1", 1}; everything
// else coerces to false.
func coerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case int:
		return v == 1
	case int64:
		return v == 1
	case float64:
		return v == 1
	default:
		return false
	}
}

func coerceTimestamp(field string, value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return nil, errors.InvalidField(field, "expected timestamp")
	default:
		return nil, errors.InvalidField(field, "expected timestamp")
	}
}

func coerceDecimal(field string, value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, errors.InvalidField(field, "expected decimal")
		}
		return f, nil
	default:
		return nil, errors.InvalidField(field, "expected decimal")
	}
}
