// Package meeting exposes the processed-meeting archive: list, detail,
// delete, and semantic search.
package meeting

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	meetingmodel "github.com/actionsync/backend/internal/model/meeting"
	"github.com/actionsync/backend/internal/service/embedding"
	"github.com/actionsync/backend/internal/store"
	"github.com/actionsync/backend/pkg/utils"
)

// Handler serves the meeting archive.
type Handler struct {
	store *store.Store
	index *embedding.Service
}

// New creates the meeting handler.
func New(st *store.Store, index *embedding.Service) *Handler {
	return &Handler{store: st, index: index}
}

// RegisterRoutes mounts the meeting endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/meetings", h.handleList)
	r.Post("/meetings/search", h.handleSearch)
	r.Get("/meetings/{id}", h.handleGet)
	r.Delete("/meetings/{id}", h.handleDelete)
}

func requesterID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

// listEntry is the list view of a meeting; the full transcription is only
// returned by the detail endpoint.
type listEntry struct {
	ID             int64    `json:"id"`
	ProjectKey     string   `json:"projectKey"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	TicketsCreated []string `json:"ticketsCreated"`
	CreatedAt      string   `json:"createdAt"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	meetings, err := h.store.ListMeetings(r.Context(), userID, limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]listEntry, 0, len(meetings))
	for _, m := range meetings {
		tickets := m.TicketsCreated
		if tickets == nil {
			tickets = []string{}
		}
		entries = append(entries, listEntry{
			ID:             m.ID,
			ProjectKey:     m.ProjectKey,
			Title:          m.Title,
			Summary:        m.Summary,
			TicketsCreated: tickets,
			CreatedAt:      m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"meetings": entries})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid meeting id")
		return
	}

	m, err := h.store.GetMeeting(r.Context(), userID, id)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "meeting not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, m)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid meeting id")
		return
	}

	if err := h.store.DeleteMeeting(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "meeting not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type searchRequest struct {
	Query      string `json:"query"`
	ProjectKey string `json:"projectKey"`
	Limit      int    `json:"limit"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		utils.RespondError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.index.Search(r.Context(), userID, req.ProjectKey, req.Query, req.Limit)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []meetingmodel.SearchResult{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"results": results})
}
