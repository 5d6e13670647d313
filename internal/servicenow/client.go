// Package servicenow is a thin client for the ServiceNow Table API, used when
// a meeting produces incidents or change requests instead of Jira tickets.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one ServiceNow instance with basic auth.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewClient builds a client for the given instance URL.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values, body any, out any) error {
	u := c.baseURL + "/api/now" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("servicenow request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode servicenow response: %w", err)
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		if body.Error.Detail != "" {
			return fmt.Errorf("servicenow HTTP %d: %s: %s", resp.StatusCode, body.Error.Message, body.Error.Detail)
		}
		return fmt.Errorf("servicenow HTTP %d: %s", resp.StatusCode, body.Error.Message)
	}
	detail := strings.TrimSpace(string(raw))
	if len(detail) > 500 {
		detail = detail[:500]
	}
	return fmt.Errorf("servicenow HTTP %d: %s", resp.StatusCode, detail)
}

// Record is one Table API row; ServiceNow returns every field as a string.
type Record map[string]string

// TestConnection verifies the credentials with a cheap table read.
func (c *Client) TestConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("sysparm_limit", "1")
	var result struct {
		Result []Record `json:"result"`
	}
	return c.request(ctx, http.MethodGet, "/table/sys_user", params, nil, &result)
}

// CreateIncidentInput describes a new incident. Urgency and impact default
// to "3" (low) when empty.
type CreateIncidentInput struct {
	ShortDescription string `json:"shortDescription"`
	Description      string `json:"description,omitempty"`
	Urgency          string `json:"urgency,omitempty"`
	Impact           string `json:"impact,omitempty"`
	AssignmentGroup  string `json:"assignmentGroup,omitempty"`
	Category         string `json:"category,omitempty"`
}

// CreateIncident creates an incident and returns its number and sys_id.
func (c *Client) CreateIncident(ctx context.Context, in CreateIncidentInput) (number, sysID string, err error) {
	if in.Urgency == "" {
		in.Urgency = "3"
	}
	if in.Impact == "" {
		in.Impact = "3"
	}
	body := map[string]string{
		"short_description": in.ShortDescription,
		"description":       in.Description,
		"urgency":           in.Urgency,
		"impact":            in.Impact,
	}
	if in.AssignmentGroup != "" {
		body["assignment_group"] = in.AssignmentGroup
	}
	if in.Category != "" {
		body["category"] = in.Category
	}

	var result struct {
		Result Record `json:"result"`
	}
	if err := c.request(ctx, http.MethodPost, "/table/incident", nil, body, &result); err != nil {
		return "", "", err
	}
	return result.Result["number"], result.Result["sys_id"], nil
}

// GetIncident fetches one incident by sys_id.
func (c *Client) GetIncident(ctx context.Context, sysID string) (Record, error) {
	var result struct {
		Result Record `json:"result"`
	}
	if err := c.request(ctx, http.MethodGet, "/table/incident/"+sysID, nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// UpdateIncident patches the given fields on an incident.
func (c *Client) UpdateIncident(ctx context.Context, sysID string, fields map[string]string) error {
	return c.request(ctx, http.MethodPatch, "/table/incident/"+sysID, nil, fields, nil)
}

// SearchIncidents runs an encoded query against the incident table.
func (c *Client) SearchIncidents(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{}
	params.Set("sysparm_query", query)
	params.Set("sysparm_limit", fmt.Sprintf("%d", limit))
	var result struct {
		Result []Record `json:"result"`
	}
	if err := c.request(ctx, http.MethodGet, "/table/incident", params, nil, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// CreateChangeRequest creates a change request and returns its number and
// sys_id.
func (c *Client) CreateChangeRequest(ctx context.Context, shortDescription, description, changeType string) (number, sysID string, err error) {
	if changeType == "" {
		changeType = "normal"
	}
	body := map[string]string{
		"short_description": shortDescription,
		"description":       description,
		"type":              changeType,
	}
	var result struct {
		Result Record `json:"result"`
	}
	if err := c.request(ctx, http.MethodPost, "/table/change_request", nil, body, &result); err != nil {
		return "", "", err
	}
	return result.Result["number"], result.Result["sys_id"], nil
}

// AddWorkNote appends a work note to any task-derived record.
func (c *Client) AddWorkNote(ctx context.Context, table, sysID, note string) error {
	body := map[string]string{"work_notes": note}
	return c.request(ctx, http.MethodPatch, "/table/"+table+"/"+sysID, nil, body, nil)
}

// CloseIncident resolves an incident with closing notes. The close code
// defaults to "Solved (Permanently)".
func (c *Client) CloseIncident(ctx context.Context, sysID, closeNotes, closeCode string) error {
	if closeCode == "" {
		closeCode = "Solved (Permanently)"
	}
	body := map[string]string{
		"state":       "6",
		"close_notes": closeNotes,
		"close_code":  closeCode,
	}
	return c.request(ctx, http.MethodPatch, "/table/incident/"+sysID, nil, body, nil)
}
