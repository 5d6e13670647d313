// Package jira is a thin client for the Jira REST API v3, covering the
// operations the ticket agent needs.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to one Jira site with basic auth.
type Client struct {
	baseURL  string
	email    string
	apiToken string
	http     *http.Client
}

// NewClient builds a client for the given site. Trailing slashes in baseURL
// are tolerated.
func NewClient(baseURL, email, apiToken string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		apiToken: apiToken,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) request(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/rest/api/3"+endpoint, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("jira request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode jira response: %w", err)
	}
	return nil
}

// errorFromResponse surfaces Jira's own error messages when it sends them.
func (c *Client) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Errors        map[string]string `json:"errors"`
		ErrorMessages []string          `json:"errorMessages"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.ErrorMessages) > 0 {
			return fmt.Errorf("jira HTTP %d: %s", resp.StatusCode, strings.Join(body.ErrorMessages, "; "))
		}
		if len(body.Errors) > 0 {
			return fmt.Errorf("jira HTTP %d: %v", resp.StatusCode, body.Errors)
		}
	}
	detail := strings.TrimSpace(string(raw))
	if len(detail) > 500 {
		detail = detail[:500]
	}
	return fmt.Errorf("jira HTTP %d: %s", resp.StatusCode, detail)
}

// Issue is the subset of issue fields the processors consume.
type Issue struct {
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	IssueType string `json:"issueType"`
	Priority  string `json:"priority,omitempty"`
	Assignee  string `json:"assignee,omitempty"`
}

// Comment is one issue comment.
type Comment struct {
	Author  string `json:"author"`
	Created string `json:"created"`
	Body    string `json:"body"`
}

// FullIssue is an issue with description and comments, used by the work
// processor's prompt.
type FullIssue struct {
	Issue
	Description string    `json:"description,omitempty"`
	Comments    []Comment `json:"comments"`
}

type rawIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
	} `json:"fields"`
}

func (r rawIssue) toIssue() Issue {
	issue := Issue{
		Key:       r.Key,
		Summary:   r.Fields.Summary,
		Status:    r.Fields.Status.Name,
		IssueType: r.Fields.IssueType.Name,
	}
	if r.Fields.Priority != nil {
		issue.Priority = r.Fields.Priority.Name
	}
	if r.Fields.Assignee != nil {
		issue.Assignee = r.Fields.Assignee.DisplayName
	}
	return issue
}

// SearchIssues runs a JQL query.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]Issue, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	body := map[string]any{
		"jql":        jql,
		"maxResults": maxResults,
		"fields":     []string{"summary", "status", "issuetype", "priority", "assignee"},
	}
	var result struct {
		Issues []rawIssue `json:"issues"`
	}
	if err := c.request(ctx, http.MethodPost, "/search/jql", body, &result); err != nil {
		return nil, err
	}
	issues := make([]Issue, 0, len(result.Issues))
	for _, raw := range result.Issues {
		issues = append(issues, raw.toIssue())
	}
	return issues, nil
}

// GetIssue fetches one issue by key.
func (c *Client) GetIssue(ctx context.Context, issueKey string) (Issue, error) {
	var raw rawIssue
	if err := c.request(ctx, http.MethodGet, "/issue/"+issueKey, nil, &raw); err != nil {
		return Issue{}, err
	}
	return raw.toIssue(), nil
}

// GetIssueFull fetches an issue together with its description and comments.
func (c *Client) GetIssueFull(ctx context.Context, issueKey string) (FullIssue, error) {
	var raw rawIssue
	if err := c.request(ctx, http.MethodGet, "/issue/"+issueKey, nil, &raw); err != nil {
		return FullIssue{}, err
	}

	full := FullIssue{Issue: raw.toIssue()}
	full.Description = adfToText(raw.Fields.Description)

	var comments struct {
		Comments []struct {
			Author struct {
				DisplayName string `json:"displayName"`
			} `json:"author"`
			Created string          `json:"created"`
			Body    json.RawMessage `json:"body"`
		} `json:"comments"`
	}
	if err := c.request(ctx, http.MethodGet, "/issue/"+issueKey+"/comment", nil, &comments); err != nil {
		return FullIssue{}, err
	}
	for _, raw := range comments.Comments {
		full.Comments = append(full.Comments, Comment{
			Author:  raw.Author.DisplayName,
			Created: raw.Created,
			Body:    adfToText(raw.Body),
		})
	}
	return full, nil
}

// CreateIssueInput describes a new issue. Description is markdown; it is
// converted to ADF before sending.
type CreateIssueInput struct {
	ProjectKey  string   `json:"projectKey"`
	Summary     string   `json:"summary"`
	IssueType   string   `json:"issueType"`
	Description string   `json:"description,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Priority    string   `json:"priority,omitempty"`
}

// CreateIssue creates a new issue and returns its key.
func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (string, error) {
	if in.IssueType == "" {
		in.IssueType = "Task"
	}
	fields := map[string]any{
		"project":   map[string]string{"key": in.ProjectKey},
		"summary":   in.Summary,
		"issuetype": map[string]string{"name": in.IssueType},
	}
	if in.Description != "" {
		fields["description"] = MarkdownToADF(in.Description)
	}
	if len(in.Labels) > 0 {
		fields["labels"] = in.Labels
	}
	if in.Priority != "" {
		fields["priority"] = map[string]string{"name": in.Priority}
	}

	var result struct {
		Key string `json:"key"`
	}
	if err := c.request(ctx, http.MethodPost, "/issue", map[string]any{"fields": fields}, &result); err != nil {
		return "", err
	}
	return result.Key, nil
}

// UpdateIssueInput carries the updatable fields; nil pointers are left
// untouched.
type UpdateIssueInput struct {
	Summary     *string  `json:"summary,omitempty"`
	Description *string  `json:"description,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
}

// UpdateIssue updates an existing issue.
func (c *Client) UpdateIssue(ctx context.Context, issueKey string, in UpdateIssueInput) error {
	fields := map[string]any{}
	if in.Summary != nil {
		fields["summary"] = *in.Summary
	}
	if in.Description != nil {
		fields["description"] = MarkdownToADF(*in.Description)
	}
	if in.Labels != nil {
		fields["labels"] = in.Labels
	}
	if in.Priority != nil {
		fields["priority"] = map[string]string{"name": *in.Priority}
	}
	return c.request(ctx, http.MethodPut, "/issue/"+issueKey, map[string]any{"fields": fields}, nil)
}

// AddComment appends a markdown comment to an issue.
func (c *Client) AddComment(ctx context.Context, issueKey, comment string) error {
	body := map[string]any{"body": MarkdownToADF(comment)}
	return c.request(ctx, http.MethodPost, "/issue/"+issueKey+"/comment", body, nil)
}

// TransitionIssue moves an issue to the named status. Transition names are
// matched case-insensitively against the issue's available transitions.
func (c *Client) TransitionIssue(ctx context.Context, issueKey, transitionName string) error {
	var transitions struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"transitions"`
	}
	if err := c.request(ctx, http.MethodGet, "/issue/"+issueKey+"/transitions", nil, &transitions); err != nil {
		return err
	}

	var id string
	available := make([]string, 0, len(transitions.Transitions))
	for _, t := range transitions.Transitions {
		available = append(available, t.Name)
		if strings.EqualFold(t.Name, transitionName) {
			id = t.ID
		}
	}
	if id == "" {
		return fmt.Errorf("transition %q not found, available: %s", transitionName, strings.Join(available, ", "))
	}

	body := map[string]any{"transition": map[string]string{"id": id}}
	return c.request(ctx, http.MethodPost, "/issue/"+issueKey+"/transitions", body, nil)
}

// GetIssueTypes lists the issue types available in a project.
func (c *Client) GetIssueTypes(ctx context.Context, projectKey string) ([]string, error) {
	var result struct {
		IssueTypes []struct {
			Name string `json:"name"`
		} `json:"issueTypes"`
	}
	if err := c.request(ctx, http.MethodGet, "/issue/createmeta/"+projectKey+"/issuetypes", nil, &result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.IssueTypes))
	for _, it := range result.IssueTypes {
		names = append(names, it.Name)
	}
	return names, nil
}

// GetWorkflowStatuses lists the distinct status names of a project's
// workflows, for Kanban columns.
func (c *Client) GetWorkflowStatuses(ctx context.Context, projectKey string) ([]string, error) {
	var result []struct {
		Statuses []struct {
			Name string `json:"name"`
		} `json:"statuses"`
	}
	if err := c.request(ctx, http.MethodGet, "/project/"+projectKey+"/statuses", nil, &result); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var statuses []string
	for _, issueType := range result {
		for _, status := range issueType.Statuses {
			if !seen[status.Name] {
				seen[status.Name] = true
				statuses = append(statuses, status.Name)
			}
		}
	}
	return statuses, nil
}
