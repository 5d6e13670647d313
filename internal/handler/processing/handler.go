// Package processing exposes the job endpoints: status, abort, and the three
// job starters (meeting, question, work).
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/actionsync/backend/internal/model/event"
	meetingservice "github.com/actionsync/backend/internal/service/meeting"
	processingservice "github.com/actionsync/backend/internal/service/processing"
	"github.com/actionsync/backend/internal/service/session"
	workservice "github.com/actionsync/backend/internal/service/work"
	"github.com/actionsync/backend/pkg/utils"
)

// Handler routes job requests to the single-flight runner.
type Handler struct {
	runner   *processingservice.Runner
	meetings *meetingservice.Processor
	work     *workservice.Processor
}

// New creates the processing handler.
func New(runner *processingservice.Runner, meetings *meetingservice.Processor, work *workservice.Processor) *Handler {
	return &Handler{runner: runner, meetings: meetings, work: work}
}

// RegisterRoutes mounts the processing endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/processing/status", h.handleStatus)
	r.Post("/processing/abort", h.handleAbort)
	r.Post("/meetings/process", h.handleProcessMeeting)
	r.Post("/jira/ask", h.handleAsk)
	r.Post("/jira/ask/session", h.handleAskSession)
	r.Post("/work/start", h.handleStartWork)
}

// requesterID resolves the caller identity: header first, query param as a
// fallback for EventSource clients that cannot set headers.
func requesterID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.runner.Guard().Status(requesterID(r)))
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	switch err := h.runner.Guard().Abort(userID); {
	case errors.Is(err, processingservice.ErrNothingToAbort):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, processingservice.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	default:
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "aborting"})
	}
}

type processMeetingRequest struct {
	ProjectKey    string `json:"projectKey"`
	Title         string `json:"title"`
	Transcription string `json:"transcription"`
}

func (h *Handler) handleProcessMeeting(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	var req processMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Transcription == "" {
		utils.RespondError(w, http.StatusBadRequest, "transcription is required")
		return
	}

	in := meetingservice.ProcessInput{
		UserID:        userID,
		ProjectKey:    req.ProjectKey,
		Title:         req.Title,
		Transcription: req.Transcription,
	}
	h.startJob(w, userID, func(ctx context.Context, sink event.Sink) (processingservice.Outcome, error) {
		return h.meetings.Process(ctx, sink, in)
	})
}

type askRequest struct {
	ProjectKey string `json:"projectKey"`
	Question   string `json:"question"`
	SessionID  string `json:"sessionId"`
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		utils.RespondError(w, http.StatusBadRequest, "question is required")
		return
	}

	in := meetingservice.AskInput{UserID: userID, ProjectKey: req.ProjectKey, Question: req.Question}
	h.startJob(w, userID, func(ctx context.Context, sink event.Sink) (processingservice.Outcome, error) {
		return h.meetings.Ask(ctx, sink, in)
	})
}

// handleAskSession answers synchronously inside a persistent conversation;
// it does not occupy the single-flight slot.
func (h *Handler) handleAskSession(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		utils.RespondError(w, http.StatusBadRequest, "question is required")
		return
	}

	in := meetingservice.AskInput{UserID: userID, ProjectKey: req.ProjectKey, Question: req.Question}
	answer, err := h.meetings.AskWithSession(r.Context(), in, req.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, meetingservice.ErrNoTrackerConfig), errors.Is(err, meetingservice.ErrNoProject):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	default:
		utils.RespondJSON(w, http.StatusOK, answer)
	}
}

type startWorkRequest struct {
	IssueKey string `json:"issueKey"`
}

func (h *Handler) handleStartWork(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	var req startWorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IssueKey == "" {
		utils.RespondError(w, http.StatusBadRequest, "issueKey is required")
		return
	}

	in := workservice.Input{UserID: userID, IssueKey: req.IssueKey}
	h.startJob(w, userID, func(ctx context.Context, sink event.Sink) (processingservice.Outcome, error) {
		return h.work.Process(ctx, sink, in)
	})
}

// startJob hands the work to the runner and maps the busy case to 409. The
// job streams its progress over the user's connections; the HTTP response
// only acknowledges the start.
func (h *Handler) startJob(w http.ResponseWriter, userID string, work processingservice.WorkFunc) {
	if err := h.runner.Run(userID, work); err != nil {
		if errors.Is(err, processingservice.ErrAlreadyBusy) {
			utils.RespondError(w, http.StatusConflict, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
