// Package domain holds the case aggregate and the value types shared by
// the mutation engine.
package domain

import (
	"time"
)

// Case is the primary trackable entity. The persisted schema is wide
// and sparsely populated; optional columns are pointers so absent data
// survives round-trips unchanged.
type Case struct {
	ID         int64  `json:"id"`
	CaseNumber string `json:"case_number"`

	// Classification
	CategoryID *int64 `json:"category_id,omitempty"`
	PriorityID *int64 `json:"priority_id,omitempty"`
	StatusID   *int64 `json:"status_id,omitempty"`
	ChannelID  *int64 `json:"channel_id,omitempty"`

	// Descriptive
	Title                 string  `json:"title"`
	Description           string  `json:"description"`
	ImpactDescription     *string `json:"impact_description,omitempty"`
	Urgency               *string `json:"urgency,omitempty"`
	AffectedBeneficiaries *int64  `json:"affected_beneficiaries,omitempty"`

	// Provider / contact
	ProviderName *string `json:"provider_name,omitempty"`
	ContactName  *string `json:"contact_name,omitempty"`
	ContactPhone *string `json:"contact_phone,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`

	// Consent / privacy
	ConsentToContact *bool `json:"consent_to_contact,omitempty"`
	IsConfidential   *bool `json:"is_confidential,omitempty"`

	LocationID *int64 `json:"location_id,omitempty"`

	// Assignment
	AssignedTo         *int64     `json:"assigned_to,omitempty"`
	AssignedBy         *int64     `json:"assigned_by,omitempty"`
	AssignedAt         *time.Time `json:"assigned_at,omitempty"`
	AssignmentComments *string    `json:"assignment_comments,omitempty"`

	// Submission
	SubmittedBy *int64     `json:"submitted_by,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`

	// Processing
	EscalationLevel    *int64     `json:"escalation_level,omitempty"`
	EscalationReason   *string    `json:"escalation_reason,omitempty"`
	ResolutionSummary  *string    `json:"resolution_summary,omitempty"`
	ResolutionDate     *time.Time `json:"resolution_date,omitempty"`
	CompensationAmount *float64   `json:"compensation_amount,omitempty"`
	QualityRating      *int64     `json:"quality_rating,omitempty"`
	QualityComments    *string    `json:"quality_comments,omitempty"`

	// Audit
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`
	CreatedBy        *int64     `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedBy        *int64     `json:"updated_by,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedBy        *int64     `json:"deleted_by,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	IsActive         bool       `json:"is_active"`
	IsDeleted        bool       `json:"is_deleted"`
}

// FieldMap returns the case as a registry-keyed field map, the shape
// the change tracker diffs against proposed updates.
func (c *Case) FieldMap() map[string]any {
	return map[string]any{
		"id":                    c.ID,
		"caseNumber":            c.CaseNumber,
		"categoryId":            c.CategoryID,
		"priorityId":            c.PriorityID,
		"statusId":              c.StatusID,
		"channelId":             c.ChannelID,
		"title":                 c.Title,
		"description":           c.Description,
		"impactDescription":     c.ImpactDescription,
		"urgency":               c.Urgency,
		"affectedBeneficiaries": c.AffectedBeneficiaries,
		"providerName":          c.ProviderName,
		"contactName":           c.ContactName,
		"contactPhone":          c.ContactPhone,
		"contactEmail":          c.ContactEmail,
		"consentToContact":      c.ConsentToContact,
		"isConfidential":        c.IsConfidential,
		"locationId":            c.LocationID,
		"assignedTo":            c.AssignedTo,
		"assignedBy":            c.AssignedBy,
		"assignedAt":            c.AssignedAt,
		"assignmentComments":    c.AssignmentComments,
		"submittedBy":           c.SubmittedBy,
		"submittedAt":           c.SubmittedAt,
		"escalationLevel":       c.EscalationLevel,
		"escalationReason":      c.EscalationReason,
		"resolutionSummary":     c.ResolutionSummary,
		"resolutionDate":        c.ResolutionDate,
		"compensationAmount":    c.CompensationAmount,
		"qualityRating":         c.QualityRating,
		"qualityComments":       c.QualityComments,
		"lastActivityDate":      c.LastActivityDate,
		"createdBy":             c.CreatedBy,
		"createdAt":             c.CreatedAt,
		"updatedBy":             c.UpdatedBy,
		"updatedAt":             c.UpdatedAt,
		"deletedBy":             c.DeletedBy,
		"deletedAt":             c.DeletedAt,
		"isActive":              c.IsActive,
		"isDeleted":             c.IsDeleted,
	}
}

// AccessScope is the permission context supplied by the caller's outer
// layer. The engine does not compute it; it only honors it.
type AccessScope struct {
	// Impossible signals the caller can access no rows at all; search
	// short-circuits to an empty result without touching storage.
	Impossible bool

	// SubmittedBy restricts results to cases submitted by this user.
	SubmittedBy *int64

	// AssignedTo restricts results to cases assigned to this user.
	AssignedTo *int64
}

// SearchCriteria describes a case search.
type SearchCriteria struct {
	Term     string
	Filters  map[string]string
	SortBy   string
	SortDesc bool
	Page     int
	Limit    int
	Scope    AccessScope
}

// UpdateMeta carries caller-supplied free text for the audit trail.
type UpdateMeta struct {
	Reason   string
	Comments string
}
