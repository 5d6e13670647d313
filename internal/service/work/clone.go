// Package work runs the ticket-implementation job: it clones the project's
// repositories, has the agent plan the change, and reports back to Jira.
package work

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/actionsync/backend/internal/model/event"
)

// CloneRepos shallow-clones the given GitLab projects into an issue-specific
// directory under baseDir, replacing any leftovers from a previous run.
// Clone failures are reported to the sink and skipped; the job can still
// work with the repos that did clone.
func CloneRepos(ctx context.Context, baseDir, gitlabURL, token string, projectPaths []string, issueKey string, timeout time.Duration, sink event.Sink) (string, error) {
	workPath := filepath.Join(baseDir, issueKey)
	if err := os.RemoveAll(workPath); err != nil {
		return "", fmt.Errorf("cleaning work directory: %w", err)
	}
	if err := os.MkdirAll(workPath, 0755); err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}

	host := strings.TrimSuffix(gitlabURL, "/")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")

	for _, projectPath := range projectPaths {
		projectPath = strings.TrimSpace(projectPath)
		if projectPath == "" {
			continue
		}

		cloneURL := fmt.Sprintf("https://oauth2:%s@%s/%s.git", token, host, projectPath)
		maskedURL := fmt.Sprintf("https://oauth2:***@%s/%s.git", host, projectPath)
		name := projectPath[strings.LastIndex(projectPath, "/")+1:]
		target := filepath.Join(workPath, name)

		sink(event.Text(fmt.Sprintf("Cloning %s...\n", projectPath)))
		log.Printf("[work] cloning %s", maskedURL)

		cloneCtx, cancel := context.WithTimeout(ctx, timeout)
		cmd := exec.CommandContext(cloneCtx, "git", "clone", "--depth", "1", cloneURL, target)
		output, err := cmd.CombinedOutput()
		cancel()

		if err != nil {
			msg := maskToken(string(output), cloneURL, maskedURL)
			if cloneCtx.Err() == context.DeadlineExceeded {
				msg = fmt.Sprintf("timeout after %s", timeout)
			}
			log.Printf("[work] clone of %s failed: %s", projectPath, msg)
			sink(event.Text(fmt.Sprintf("Failed to clone %s: %s\n", projectPath, msg)))
			continue
		}
		sink(event.Text(fmt.Sprintf("Cloned %s\n", projectPath)))
	}
	return workPath, nil
}

// maskToken scrubs the authenticated clone URL from git's output before it
// reaches logs or clients.
func maskToken(output, cloneURL, maskedURL string) string {
	return strings.TrimSpace(strings.ReplaceAll(output, cloneURL, maskedURL))
}

// clonedRepos lists the repository directories inside a work directory.
func clonedRepos(workPath string) []string {
	entries, err := os.ReadDir(workPath)
	if err != nil {
		return nil
	}
	var repos []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			repos = append(repos, entry.Name())
		}
	}
	return repos
}
