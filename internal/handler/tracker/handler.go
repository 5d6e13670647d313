// Package tracker exposes tracker credential and project configuration, plus
// the read-only Jira views (kanban, workflow, ticket detail).
package tracker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/actionsync/backend/internal/jira"
	"github.com/actionsync/backend/internal/model/project"
	"github.com/actionsync/backend/internal/servicenow"
	"github.com/actionsync/backend/internal/store"
	"github.com/actionsync/backend/pkg/utils"
)

// Handler serves configuration CRUD and Jira reads.
type Handler struct {
	store *store.Store
}

// New creates the tracker handler.
func New(st *store.Store) *Handler {
	return &Handler{store: st}
}

// RegisterRoutes mounts the tracker endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tracker/config", h.handleGetConfig)
	r.Post("/tracker/config", h.handleSaveConfig)
	r.Delete("/tracker/config", h.handleDeleteConfig)
	r.Post("/tracker/config/test", h.handleTestConfig)

	r.Get("/projects", h.handleListProjects)
	r.Post("/projects", h.handleSaveProject)
	r.Delete("/projects/{projectKey}", h.handleDeleteProject)

	r.Get("/jira/kanban/{projectKey}", h.handleKanban)
	r.Get("/jira/workflow/{projectKey}", h.handleWorkflow)
	r.Get("/jira/ticket/{issueKey}", h.handleTicket)
}

func requesterID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

// jiraClient builds a client from the caller's stored credentials.
func (h *Handler) jiraClient(r *http.Request) (*jira.Client, string, bool) {
	userID := requesterID(r)
	if userID == "" {
		return nil, "", false
	}
	cfg, err := h.store.GetTrackerConfig(r.Context(), userID)
	if err != nil || cfg.JiraBaseURL == "" {
		return nil, userID, false
	}
	return jira.NewClient(cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken), userID, true
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	cfg, err := h.store.GetTrackerConfig(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "no tracker config")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Secrets are stripped by the model's json tags; report presence only.
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"config":        cfg,
		"hasJiraToken":  cfg.JiraAPIToken != "",
		"hasGitlab":     cfg.HasGitLab(),
		"hasServiceNow": cfg.ServiceNowURL != "",
	})
}

type configRequest struct {
	JiraBaseURL        string `json:"jiraBaseUrl"`
	JiraEmail          string `json:"jiraEmail"`
	JiraAPIToken       string `json:"jiraApiToken"`
	GitLabURL          string `json:"gitlabUrl"`
	GitLabToken        string `json:"gitlabToken"`
	ServiceNowURL      string `json:"servicenowUrl"`
	ServiceNowUser     string `json:"servicenowUser"`
	ServiceNowPassword string `json:"servicenowPassword"`
}

func (h *Handler) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JiraBaseURL == "" || req.JiraEmail == "" || req.JiraAPIToken == "" {
		utils.RespondError(w, http.StatusBadRequest, "jiraBaseUrl, jiraEmail and jiraApiToken are required")
		return
	}

	cfg := project.TrackerConfig{
		UserID:             userID,
		JiraBaseURL:        req.JiraBaseURL,
		JiraEmail:          req.JiraEmail,
		JiraAPIToken:       req.JiraAPIToken,
		GitLabURL:          req.GitLabURL,
		GitLabToken:        req.GitLabToken,
		ServiceNowURL:      req.ServiceNowURL,
		ServiceNowUser:     req.ServiceNowUser,
		ServiceNowPassword: req.ServiceNowPassword,
	}
	if err := h.store.SaveTrackerConfig(r.Context(), cfg); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}
	if err := h.store.DeleteTrackerConfig(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "no tracker config")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleTestConfig verifies the stored credentials with cheap reads.
func (h *Handler) handleTestConfig(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}
	cfg, err := h.store.GetTrackerConfig(r.Context(), userID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "no tracker config")
		return
	}

	result := map[string]string{}
	if cfg.JiraBaseURL != "" {
		jc := jira.NewClient(cfg.JiraBaseURL, cfg.JiraEmail, cfg.JiraAPIToken)
		if _, err := jc.SearchIssues(r.Context(), "order by created DESC", 1); err != nil {
			result["jira"] = err.Error()
		} else {
			result["jira"] = "ok"
		}
	}
	if cfg.ServiceNowURL != "" {
		sn := servicenow.NewClient(cfg.ServiceNowURL, cfg.ServiceNowUser, cfg.ServiceNowPassword)
		if err := sn.TestConnection(r.Context()); err != nil {
			result["servicenow"] = err.Error()
		} else {
			result["servicenow"] = "ok"
		}
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}
	projects, err := h.store.ListProjects(r.Context(), userID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []project.Project{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

type projectRequest struct {
	ProjectKey         string `json:"projectKey"`
	ProjectName        string `json:"projectName"`
	IsDefault          bool   `json:"isDefault"`
	GitLabProjects     string `json:"gitlabProjects"`
	CustomInstructions string `json:"customInstructions"`
	EmbeddingsEnabled  bool   `json:"embeddingsEnabled"`
	KanbanJQL          string `json:"kanbanJql"`
}

func (h *Handler) handleSaveProject(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectKey == "" {
		utils.RespondError(w, http.StatusBadRequest, "projectKey is required")
		return
	}

	id, err := h.store.SaveProject(r.Context(), project.Project{
		UserID:             userID,
		ProjectKey:         req.ProjectKey,
		ProjectName:        req.ProjectName,
		IsDefault:          req.IsDefault,
		GitLabProjects:     req.GitLabProjects,
		CustomInstructions: req.CustomInstructions,
		EmbeddingsEnabled:  req.EmbeddingsEnabled,
		KanbanJQL:          req.KanbanJQL,
	})
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"id": id, "status": "saved"})
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	userID := requesterID(r)
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "user identity is required")
		return
	}
	if err := h.store.DeleteProject(r.Context(), userID, chi.URLParam(r, "projectKey")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "project not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleKanban returns the project's workflow columns with the issues of
// each, using the project's kanban JQL override when configured.
func (h *Handler) handleKanban(w http.ResponseWriter, r *http.Request) {
	jc, userID, ok := h.jiraClient(r)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "jira is not configured")
		return
	}
	projectKey := chi.URLParam(r, "projectKey")

	statuses, err := jc.GetWorkflowStatuses(r.Context(), projectKey)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	jql := "project = " + projectKey + " ORDER BY updated DESC"
	if proj, err := h.store.GetProject(r.Context(), userID, projectKey); err == nil && proj.KanbanJQL != "" {
		jql = proj.KanbanJQL
	}

	maxResults := 100
	if v := r.URL.Query().Get("maxResults"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxResults = n
		}
	}
	issues, err := jc.SearchIssues(r.Context(), jql, maxResults)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	columns := make([]map[string]any, 0, len(statuses))
	for _, status := range statuses {
		var column []jira.Issue
		for _, issue := range issues {
			if issue.Status == status {
				column = append(column, issue)
			}
		}
		if column == nil {
			column = []jira.Issue{}
		}
		columns = append(columns, map[string]any{"status": status, "issues": column})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"projectKey": projectKey, "columns": columns})
}

func (h *Handler) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	jc, _, ok := h.jiraClient(r)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "jira is not configured")
		return
	}
	statuses, err := jc.GetWorkflowStatuses(r.Context(), chi.URLParam(r, "projectKey"))
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	jc, _, ok := h.jiraClient(r)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "jira is not configured")
		return
	}
	issue, err := jc.GetIssueFull(r.Context(), chi.URLParam(r, "issueKey"))
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, issue)
}
