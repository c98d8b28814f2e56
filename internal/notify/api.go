package notify

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/communitydesk/casetrack/internal/shared/auth"
	"github.com/communitydesk/casetrack/internal/shared/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler provides the notification read-state endpoints
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the notification routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/unread-count", h.UnreadCount)
	r.Post("/read-all", h.MarkAllRead)

	r.Route("/{notificationID}", func(r chi.Router) {
		r.Post("/read", h.MarkRead)
		r.Delete("/", h.Dismiss)
	})

	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Validation("authentication required", nil))
		return
	}

	q := r.URL.Query()
	unreadOnly := q.Get("unread") == "true"
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, err := h.repo.ListByUser(r.Context(), user.ID, unreadOnly, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Validation("authentication required", nil))
		return
	}

	count, err := h.repo.CountUnread(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": count})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Validation("authentication required", nil))
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "notificationID"))
	if err != nil {
		writeError(w, errors.InvalidField("notificationID", "must be a UUID"))
		return
	}

	if err := h.repo.MarkRead(r.Context(), id, user.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Validation("authentication required", nil))
		return
	}

	updated, err := h.repo.MarkAllRead(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Validation("authentication required", nil))
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "notificationID"))
	if err != nil {
		writeError(w, errors.InvalidField("notificationID", "must be a UUID"))
		return
	}

	if err := h.repo.Deactivate(r.Context(), id, user.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
