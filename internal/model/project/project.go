package project

import (
	"strings"
	"time"
)

// TrackerConfig holds a user's credentials for the external ticketing and
// VCS systems. GitLab and ServiceNow are optional.
type TrackerConfig struct {
	UserID             string    `json:"userId"`
	JiraBaseURL        string    `json:"jiraBaseUrl"`
	JiraEmail          string    `json:"jiraEmail"`
	JiraAPIToken       string    `json:"-"`
	GitLabURL          string    `json:"gitlabUrl,omitempty"`
	GitLabToken        string    `json:"-"`
	ServiceNowURL      string    `json:"servicenowUrl,omitempty"`
	ServiceNowUser     string    `json:"servicenowUser,omitempty"`
	ServiceNowPassword string    `json:"-"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// HasGitLab reports whether repository cloning is configured.
func (c TrackerConfig) HasGitLab() bool {
	return c.GitLabURL != "" && c.GitLabToken != ""
}

// Project is one Jira project a user has registered for automation.
type Project struct {
	ID                 int64     `json:"id"`
	UserID             string    `json:"userId"`
	ProjectKey         string    `json:"projectKey"`
	ProjectName        string    `json:"projectName"`
	IsDefault          bool      `json:"isDefault"`
	GitLabProjects     string    `json:"gitlabProjects,omitempty"`
	CustomInstructions string    `json:"customInstructions,omitempty"`
	EmbeddingsEnabled  bool      `json:"embeddingsEnabled"`
	KanbanJQL          string    `json:"kanbanJql,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// GitLabProjectPaths splits the comma-separated repo list, dropping blanks.
func (p Project) GitLabProjectPaths() []string {
	if strings.TrimSpace(p.GitLabProjects) == "" {
		return nil
	}
	var paths []string
	for _, part := range strings.Split(p.GitLabProjects, ",") {
		if part = strings.TrimSpace(part); part != "" {
			paths = append(paths, part)
		}
	}
	return paths
}
