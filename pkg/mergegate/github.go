package mergegate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	githubAPI = "https://api.github.com"
	// apiVersion is the fixed GitHub REST API version sent with every request.
	apiVersion = "2022-11-28"
	// maxResponseSize limits API response size to prevent memory exhaustion.
	maxResponseSize = 10 * 1024 * 1024 // 10MB
	// maxErrorBodySize limits error response body reading for debugging.
	maxErrorBodySize = 1024
	// tokenPreviewPrefixLen is the number of characters to show at the start of a masked token.
	tokenPreviewPrefixLen = 4
	// tokenPreviewSuffixLen is the number of characters to show at the end of a masked token.
	tokenPreviewSuffixLen = 4
	// tokenPreviewMinLen is the minimum token length to show a preview.
	tokenPreviewMinLen = 8
)

// GitHubAPIError represents a non-success response from the GitHub API.
// Any such response aborts the whole snapshot fetch: there is no retry
// and no partial result.
type GitHubAPIError struct {
	Status     string
	Body       string
	URL        string
	StatusCode int
}

func (e *GitHubAPIError) Error() string {
	return fmt.Sprintf("github API error: %s (%s)", e.Status, e.URL)
}

// githubClient is a minimal client for the GitHub REST API.
type githubClient struct {
	client *http.Client
	token  string
	api    string
}

// doRequest performs the common HTTP request logic for GitHub API calls.
func (c *githubClient) doRequest(ctx context.Context, path string) ([]byte, *githubResponse, error) {
	apiURL := c.api + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, http.NoBody)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	slog.DebugContext(ctx, "GitHub API request starting",
		"method", http.MethodGet,
		"url", apiURL,
		"token", maskToken(c.token))

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		slog.ErrorContext(ctx, "GitHub API request failed", "url", apiURL, "error", err, "elapsed", elapsed)
		return nil, nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.DebugContext(ctx, "failed to close response body", "error", closeErr, "url", apiURL)
		}
	}()

	slog.DebugContext(ctx, "GitHub API response received",
		"status", resp.Status,
		"url", apiURL,
		"elapsed", elapsed,
		"ratelimit_remaining", resp.Header.Get("X-Ratelimit-Remaining"))

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if readErr != nil {
			body = []byte("failed to read response body")
		}
		slog.ErrorContext(ctx, "GitHub API error",
			"status", resp.Status,
			"url", apiURL,
			"body", string(body))
		return nil, nil, &GitHubAPIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
			URL:        apiURL,
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, err
	}

	return data, &githubResponse{NextPage: nextPage(resp.Header.Get("Link"))}, nil
}

// nextPage parses the page number out of a Link header's rel="next" entry.
func nextPage(linkHeader string) int {
	for _, link := range strings.Split(linkHeader, ",") {
		parts := strings.Split(strings.TrimSpace(link), ";")
		if len(parts) != 2 || strings.TrimSpace(parts[1]) != `rel="next"` {
			continue
		}
		u, err := url.Parse(strings.Trim(parts[0], "<>"))
		if err != nil {
			return 0
		}
		page, err := strconv.Atoi(u.Query().Get("page"))
		if err != nil {
			return 0
		}
		return page
	}
	return 0
}

// maskToken renders a token safe for logging.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= tokenPreviewMinLen {
		return "***"
	}
	return token[:tokenPreviewPrefixLen] + "..." + token[len(token)-tokenPreviewSuffixLen:]
}

// get makes a GET request to the GitHub API and decodes the response into v.
func (c *githubClient) get(ctx context.Context, path string, v any) (*githubResponse, error) {
	data, resp, err := c.doRequest(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return resp, nil
}

// githubResponse wraps the pagination state of a GitHub API response.
type githubResponse struct {
	NextPage int
}

// githubPullRequest is the wire form of a pull request.
type githubPullRequest struct {
	Mergeable *bool `json:"mergeable"`
	Head      struct {
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
	State          string `json:"state"`
	MergeableState string `json:"mergeable_state"`
	Labels         []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Number int  `json:"number"`
	Merged bool `json:"merged"`
}

// githubFile is one entry of the changed-files listing.
type githubFile struct {
	Filename string `json:"filename"`
}

// githubCheckRun is the wire form of a check run.
type githubCheckRun struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Conclusion  string    `json:"conclusion"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// githubCheckRuns is the wire envelope of the check-runs listing.
type githubCheckRuns struct {
	CheckRuns []*githubCheckRun `json:"check_runs"`
	Total     int               `json:"total_count"`
}
