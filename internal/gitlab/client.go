// Package gitlab is a thin client for the GitLab REST API v4, used to pull
// repository context into agent prompts.
package gitlab

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one GitLab instance with a private token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the given instance URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) request(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + "/api/v4" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gitlab request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("gitlab HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Project is the subset of project attributes the context builder uses.
type Project struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
}

// TreeEntry is one file or directory in a repository listing.
type TreeEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// GetProject fetches project metadata by path ("group/project").
func (c *Client) GetProject(ctx context.Context, projectPath string) (Project, error) {
	var p Project
	err := c.request(ctx, "/projects/"+url.PathEscape(projectPath), nil, &p)
	return p, err
}

// GetRepositoryTree lists the repository structure at path.
func (c *Client) GetRepositoryTree(ctx context.Context, projectPath, path, ref string, recursive bool) ([]TreeEntry, error) {
	params := url.Values{}
	params.Set("ref", ref)
	if recursive {
		params.Set("recursive", "true")
	}
	if path != "" {
		params.Set("path", path)
	}
	var tree []TreeEntry
	err := c.request(ctx, "/projects/"+url.PathEscape(projectPath)+"/repository/tree", params, &tree)
	return tree, err
}

// GetFileContent fetches and decodes one file from the repository.
func (c *Client) GetFileContent(ctx context.Context, projectPath, filePath, ref string) (string, error) {
	params := url.Values{}
	params.Set("ref", ref)
	var file struct {
		Content string `json:"content"`
	}
	endpoint := "/projects/" + url.PathEscape(projectPath) + "/repository/files/" + url.PathEscape(filePath)
	if err := c.request(ctx, endpoint, params, &file); err != nil {
		return "", err
	}
	decoded, err := base64.StdEncoding.DecodeString(file.Content)
	if err != nil {
		return "", fmt.Errorf("failed to decode file content: %w", err)
	}
	return string(decoded), nil
}

// GetReadme returns the repository README, trying the common filenames.
func (c *Client) GetReadme(ctx context.Context, projectPath, ref string) (string, bool) {
	for _, name := range []string{"README.md", "README.rst", "README.txt", "README"} {
		if content, err := c.GetFileContent(ctx, projectPath, name, ref); err == nil {
			return content, true
		}
	}
	return "", false
}

// SearchFiles lists repository files whose names match the search pattern.
func (c *Client) SearchFiles(ctx context.Context, projectPath, search, ref string) ([]TreeEntry, error) {
	params := url.Values{}
	params.Set("ref", ref)
	params.Set("recursive", "true")
	params.Set("search", search)
	var tree []TreeEntry
	err := c.request(ctx, "/projects/"+url.PathEscape(projectPath)+"/repository/tree", params, &tree)
	return tree, err
}

// ProjectContext assembles a prompt-ready description of the given projects:
// metadata, README excerpt, top-level structure, and one build manifest.
func ProjectContext(ctx context.Context, c *Client, projectPaths []string) string {
	var parts []string
	for _, projectPath := range projectPaths {
		projectPath = strings.TrimSpace(projectPath)
		if projectPath == "" {
			continue
		}

		project, err := c.GetProject(ctx, projectPath)
		if err != nil {
			parts = append(parts, fmt.Sprintf("\n## GitLab Project: %s\nError fetching project: %v", projectPath, err))
			continue
		}
		branch := project.DefaultBranch
		if branch == "" {
			branch = "main"
		}

		parts = append(parts, fmt.Sprintf("\n## GitLab Project: %s\nPath: %s\nDescription: %s",
			project.Name, projectPath, orDefault(project.Description, "No description")))

		if readme, ok := c.GetReadme(ctx, projectPath, branch); ok {
			parts = append(parts, "\n### README:\n```\n"+truncate(readme, 2000)+"\n```")
		}

		if tree, err := c.GetRepositoryTree(ctx, projectPath, "", branch, false); err == nil {
			var files []string
			for i, entry := range tree {
				if i >= 20 {
					break
				}
				name := entry.Name
				if entry.Type == "tree" {
					name += "/"
				}
				files = append(files, "- "+name)
			}
			parts = append(parts, "\n### Repository Structure:\n"+strings.Join(files, "\n"))
		}

		for _, manifest := range []string{"package.json", "pyproject.toml", "go.mod", "Cargo.toml", "pom.xml"} {
			if content, err := c.GetFileContent(ctx, projectPath, manifest, branch); err == nil {
				parts = append(parts, fmt.Sprintf("\n### %s:\n```\n%s\n```", manifest, truncate(content, 1500)))
				break
			}
		}
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
