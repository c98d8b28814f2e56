// Package api exposes the case engine over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/communitydesk/casetrack/internal/cases"
	"github.com/communitydesk/casetrack/internal/cases/domain"
	"github.com/communitydesk/casetrack/internal/comments"
	"github.com/communitydesk/casetrack/internal/directory"
	"github.com/communitydesk/casetrack/internal/history"
	"github.com/communitydesk/casetrack/internal/shared/auth"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// reservedParams are search query parameters that are not field
// filters.
var reservedParams = map[string]bool{
	"q": true, "sort": true, "order": true, "page": true, "limit": true,
}

// Handler provides HTTP handlers for the case module
type Handler struct {
	svc      *cases.Service
	comments *comments.Service
	history  history.Repository
}

// NewHandler creates a new case handler
func NewHandler(svc *cases.Service, commentSvc *comments.Service, historyRepo history.Repository) *Handler {
	return &Handler{svc: svc, comments: commentSvc, history: historyRepo}
}

// Routes registers the case routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.SearchCases)
	r.Post("/", h.CreateCase)
	r.Get("/number/{caseNumber}", h.GetCaseByNumber)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCase)
		r.Put("/", h.UpdateCase)
		r.Delete("/", h.DeleteCase)

		r.Post("/assign", h.AssignCase)
		r.Post("/status", h.ChangeStatus)
		r.Post("/escalate", h.EscalateCase)
		r.Post("/resolve", h.ResolveCase)

		r.Get("/history", h.GetHistory)

		r.Route("/comments", func(r chi.Router) {
			r.Get("/", h.ListComments)
			r.Post("/", h.AddComment)
			r.Post("/{commentID}/follow-up-done", h.CompleteFollowUp)
		})
	})

	return r
}

// --- Request types ---

type UpdateCaseRequest struct {
	Fields   map[string]any `json:"fields"`
	Reason   string         `json:"reason,omitempty"`
	Comments string         `json:"comments,omitempty"`
}

type AssignCaseRequest struct {
	AssigneeID int64  `json:"assignee_id"`
	Comments   string `json:"comments,omitempty"`
}

type ChangeStatusRequest struct {
	StatusID int64  `json:"status_id"`
	Reason   string `json:"reason,omitempty"`
}

type EscalateCaseRequest struct {
	Level  int64  `json:"level"`
	Reason string `json:"reason,omitempty"`
}

type ResolveCaseRequest struct {
	Summary string `json:"summary"`
}

type AddCommentRequest struct {
	Body     string  `json:"body"`
	Internal bool    `json:"internal,omitempty"`
	FollowUp bool    `json:"follow_up,omitempty"`
	Mentions []int64 `json:"mentions,omitempty"`
}

// --- Handlers ---

func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, errors.Validation("invalid request body", nil))
		return
	}

	c, err := h.svc.Create(r.Context(), fields, actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GetCaseByNumber(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetByNumber(r.Context(), chi.URLParam(r, "caseNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}

	var req UpdateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Validation("invalid request body", nil))
		return
	}
	if len(req.Fields) == 0 {
		writeError(w, errors.Validation("no fields to update", nil))
		return
	}

	meta := domain.UpdateMeta{Reason: req.Reason, Comments: req.Comments}
	c, changes, err := h.svc.Update(r.Context(), id, req.Fields, actorID(r), meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"case":    c,
		"changes": changes,
	})
}

func (h *Handler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.SoftDelete(r.Context(), id, actorID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SearchCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	criteria := domain.SearchCriteria{
		Term:     q.Get("q"),
		Filters:  map[string]string{},
		SortBy:   q.Get("sort"),
		SortDesc: q.Get("order") != "asc",
		Scope:    scopeOf(auth.GetUser(r.Context())),
	}
	criteria.Page, _ = strconv.Atoi(q.Get("page"))
	criteria.Limit, _ = strconv.Atoi(q.Get("limit"))

	for key, values := range q {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		criteria.Filters[key] = values[0]
	}

	results, total, err := h.svc.Search(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": results,
		"total": total,
	})
}

func (h *Handler) AssignCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req AssignCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Validation("invalid request body", nil))
		return
	}
	if req.AssigneeID == 0 {
		writeError(w, errors.InvalidField("assignee_id", "must be set"))
		return
	}

	c, err := h.svc.Assign(r.Context(), id, req.AssigneeID, actorID(r), req.Comments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Validation("invalid request body", nil))
		return
	}
	if req.StatusID == 0 {
		writeError(w, errors.InvalidField("status_id", "must be set"))
		return
	}

	c, err := h.svc.ChangeStatus(r.Context(), id, req.StatusID, actorID(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) EscalateCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req EscalateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Validation("invalid request body", nil))
		return
	}
	if req.Level < 1 {
		writeError(w, errors.InvalidField("level", "must be at least 1"))
		return
	}

	c, err := h.svc.Escalate(r.Context(), id, req.Level, req.Reason, actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) ResolveCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req ResolveCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Validation("invalid request body", nil))
		return
	}
	if req.Summary == "" {
		writeError(w, errors.InvalidField("summary", "must not be empty"))
		return
	}

	c, err := h.svc.Resolve(r.Context(), id, req.Summary, actorID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	// The case must exist and be visible before its trail is.
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.history.ListByCase(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	list, err := h.comments.ListByCase(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []comments.Comment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": list})
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	var req AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Validation("invalid request body", nil))
		return
	}

	c, err := h.comments.Add(r.Context(), id, actorID(r), comments.AddRequest{
		Body:     req.Body,
		Internal: req.Internal,
		FollowUp: req.FollowUp,
		Mentions: req.Mentions,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) CompleteFollowUp(w http.ResponseWriter, r *http.Request) {
	commentID, err := uuid.Parse(chi.URLParam(r, "commentID"))
	if err != nil {
		writeError(w, errors.InvalidField("commentID", "must be a UUID"))
		return
	}
	if err := h.comments.CompleteFollowUp(r.Context(), commentID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func caseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "caseID"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, errors.InvalidField("caseID", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	if user := auth.GetUser(r.Context()); user != nil {
		return user.ID
	}
	return 0
}

// scopeOf maps the caller's roles to an access scope. Supervisory and
// agent roles see everything; everyone else sees only what they
// submitted. A missing user (auth disabled in development) is treated
// as unrestricted.
func scopeOf(user *auth.User) domain.AccessScope {
	if user == nil {
		return domain.AccessScope{}
	}
	for _, role := range user.Roles {
		if role == "agent" {
			return domain.AccessScope{}
		}
		for _, s := range directory.SupervisoryRoles {
			if role == s {
				return domain.AccessScope{}
			}
		}
	}
	self := user.ID
	return domain.AccessScope{SubmittedBy: &self}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
