//nolint:errcheck // Test handlers don't need to check w.Write errors
package mergegate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestClient returns a Client pointed at the given httptest server
// with the mergeability retry delay zeroed out.
func newTestClient(serverURL string) *Client {
	c := NewClient("test-token",
		WithHTTPClient(&http.Client{Transport: http.DefaultTransport}),
		WithAPIBase(serverURL))
	c.mergeableDelay = 0
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func fileList(n int, extra ...string) []map[string]string {
	files := make([]map[string]string, 0, n+len(extra))
	for i := range n {
		files = append(files, map[string]string{"filename": fmt.Sprintf("pkg/file%d.go", i)})
	}
	for _, name := range extra {
		files = append(files, map[string]string{"filename": name})
	}
	return files
}

func TestEvaluationInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pulls/7/files"):
			writeJSON(w, fileList(1, ".github/workflows/ci.yml"))
		case strings.HasSuffix(r.URL.Path, "/pulls/7"):
			writeJSON(w, map[string]any{
				"number":          7,
				"state":           "open",
				"mergeable":       true,
				"mergeable_state": "clean",
				"head":            map[string]string{"sha": "headsha1"},
				"base":            map[string]string{"ref": "main"},
				"labels":          []map[string]string{{"name": "enhancement"}},
			})
		case strings.Contains(r.URL.Path, "/commits/headsha1/check-runs"):
			writeJSON(w, map[string]any{
				"total_count": 2,
				"check_runs": []map[string]any{
					{
						"name":         "Automation Gate",
						"status":       "completed",
						"conclusion":   "success",
						"started_at":   "2024-06-01T10:00:00Z",
						"completed_at": "2024-06-01T10:05:00Z",
					},
					{
						"name":       "review",
						"status":     "in_progress",
						"started_at": "2024-06-01T10:01:00Z",
					},
				},
			})
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	input, err := client.EvaluationInput(context.Background(), Request{
		Owner: "testowner", Repo: "testrepo", Number: 7,
	})
	if err != nil {
		t.Fatalf("EvaluationInput() error: %v", err)
	}

	if input.Snapshot.State != PRStateOpen {
		t.Errorf("State = %q, want open", input.Snapshot.State)
	}
	if input.Snapshot.HeadSHA != "headsha1" {
		t.Errorf("HeadSHA = %q, want headsha1", input.Snapshot.HeadSHA)
	}
	if input.Snapshot.Mergeable == nil || !*input.Snapshot.Mergeable {
		t.Error("Mergeable should be true")
	}
	if !input.WorkflowFilesChanged {
		t.Error("WorkflowFilesChanged should be true for .github/workflows/ci.yml")
	}
	if len(input.CheckRuns) != 2 {
		t.Fatalf("got %d check runs, want 2", len(input.CheckRuns))
	}
	if input.CheckRuns[0].Name != "Automation Gate" || input.CheckRuns[0].Conclusion != "success" {
		t.Errorf("unexpected first check run: %+v", input.CheckRuns[0])
	}
	if input.Policy.GateCheck != "Automation Gate" {
		t.Errorf("zero policy should default, got %+v", input.Policy)
	}
}

func TestEvaluationInputMergeabilityRetry(t *testing.T) {
	prRequests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pulls/9/files"):
			writeJSON(w, fileList(0))
		case strings.HasSuffix(r.URL.Path, "/pulls/9"):
			prRequests++
			pr := map[string]any{
				"number":          9,
				"state":           "open",
				"mergeable":       nil,
				"mergeable_state": "unknown",
				"head":            map[string]string{"sha": "headsha9"},
				"base":            map[string]string{"ref": "main"},
			}
			// Mergeability resolves on the third attempt.
			if prRequests >= 3 {
				pr["mergeable"] = true
				pr["mergeable_state"] = "clean"
			}
			writeJSON(w, pr)
		case strings.Contains(r.URL.Path, "/check-runs"):
			writeJSON(w, map[string]any{"total_count": 0, "check_runs": []any{}})
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	input, err := client.EvaluationInput(context.Background(), Request{
		Owner: "o", Repo: "r", Number: 9,
	})
	if err != nil {
		t.Fatalf("EvaluationInput() error: %v", err)
	}
	if prRequests != 3 {
		t.Errorf("pull request fetched %d times, want 3", prRequests)
	}
	if input.Snapshot.Mergeable == nil {
		t.Error("Mergeable should have resolved on retry")
	}
}

func TestEvaluationInputMergeabilityStillUnknown(t *testing.T) {
	prRequests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pulls/9/files"):
			writeJSON(w, fileList(0))
		case strings.HasSuffix(r.URL.Path, "/pulls/9"):
			prRequests++
			writeJSON(w, map[string]any{
				"number":          9,
				"state":           "open",
				"mergeable":       nil,
				"mergeable_state": "unknown",
				"head":            map[string]string{"sha": "headsha9"},
				"base":            map[string]string{"ref": "main"},
			})
		case strings.Contains(r.URL.Path, "/check-runs"):
			writeJSON(w, map[string]any{"total_count": 0, "check_runs": []any{}})
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	input, err := client.EvaluationInput(context.Background(), Request{
		Owner: "o", Repo: "r", Number: 9,
	})
	if err != nil {
		t.Fatalf("EvaluationInput() should proceed with unknown mergeability, got: %v", err)
	}
	if prRequests != mergeableRetryAttempts {
		t.Errorf("pull request fetched %d times, want %d", prRequests, mergeableRetryAttempts)
	}
	if input.Snapshot.Mergeable != nil {
		t.Error("Mergeable should still be unknown")
	}

	// The evaluator classifies the unresolved snapshot as pending.
	if got := Evaluate(*input); got.Reason != ReasonPendingChecks {
		t.Errorf("Evaluate() reason = %q, want %q", got.Reason, ReasonPendingChecks)
	}
}

func TestEvaluationInputClosedPRNotRetried(t *testing.T) {
	prRequests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pulls/4/files"):
			writeJSON(w, fileList(0))
		case strings.HasSuffix(r.URL.Path, "/pulls/4"):
			prRequests++
			writeJSON(w, map[string]any{
				"number":          4,
				"state":           "closed",
				"merged":          true,
				"mergeable":       nil,
				"mergeable_state": "unknown",
				"head":            map[string]string{"sha": "headsha4"},
				"base":            map[string]string{"ref": "main"},
			})
		case strings.Contains(r.URL.Path, "/check-runs"):
			writeJSON(w, map[string]any{"total_count": 0, "check_runs": []any{}})
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	input, err := client.EvaluationInput(context.Background(), Request{
		Owner: "o", Repo: "r", Number: 4,
	})
	if err != nil {
		t.Fatalf("EvaluationInput() error: %v", err)
	}
	if prRequests != 1 {
		t.Errorf("closed PR fetched %d times, want 1 (mergeability never resolves)", prRequests)
	}
	if input.Snapshot.State != PRStateMerged {
		t.Errorf("State = %q, want merged", input.Snapshot.State)
	}
}

func TestEvaluationInputFilePagination(t *testing.T) {
	filePages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pulls/12/files"):
			filePages++
			// First page full, second page short with the workflow file.
			if r.URL.Query().Get("page") == "1" {
				writeJSON(w, fileList(maxPerPage))
				return
			}
			writeJSON(w, fileList(3, ".github/workflows/release.yml"))
		case strings.HasSuffix(r.URL.Path, "/pulls/12"):
			writeJSON(w, map[string]any{
				"number":          12,
				"state":           "open",
				"mergeable":       true,
				"mergeable_state": "clean",
				"head":            map[string]string{"sha": "headsha12"},
				"base":            map[string]string{"ref": "main"},
			})
		case strings.Contains(r.URL.Path, "/check-runs"):
			writeJSON(w, map[string]any{"total_count": 0, "check_runs": []any{}})
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	input, err := client.EvaluationInput(context.Background(), Request{
		Owner: "o", Repo: "r", Number: 12,
	})
	if err != nil {
		t.Fatalf("EvaluationInput() error: %v", err)
	}
	if filePages != 2 {
		t.Errorf("files fetched over %d pages, want 2", filePages)
	}
	if !input.WorkflowFilesChanged {
		t.Error("WorkflowFilesChanged should be true; workflow file was on page 2")
	}
}

func TestEvaluationInputAPIErrorAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/pulls/3/files"):
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message": "rate limited"}`))
		case strings.HasSuffix(r.URL.Path, "/pulls/3"):
			writeJSON(w, map[string]any{
				"number":          3,
				"state":           "open",
				"mergeable":       true,
				"mergeable_state": "clean",
				"head":            map[string]string{"sha": "headsha3"},
				"base":            map[string]string{"ref": "main"},
			})
		case strings.Contains(r.URL.Path, "/check-runs"):
			t.Error("check runs should not be fetched after a failed call")
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.EvaluationInput(context.Background(), Request{
		Owner: "o", Repo: "r", Number: 3,
	})
	if err == nil {
		t.Fatal("EvaluationInput() should fail on a non-2xx response")
	}

	var apiErr *GitHubAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error should wrap GitHubAPIError, got: %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.URL, "/files") {
		t.Errorf("error should identify the failing call, got URL %q", apiErr.URL)
	}
}

func TestEvaluationInputPreconditions(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		client := NewClient("")
		_, err := client.EvaluationInput(context.Background(), Request{
			Owner: "o", Repo: "r", Number: 1,
		})
		if !errors.Is(err, ErrMissingToken) {
			t.Errorf("error = %v, want ErrMissingToken", err)
		}
	})

	t.Run("missing coordinates", func(t *testing.T) {
		client := NewClient("test-token")
		_, err := client.EvaluationInput(context.Background(), Request{Owner: "o"})
		if err == nil {
			t.Error("expected error for missing repo and number")
		}
	})
}

func TestCheckRunsPagination(t *testing.T) {
	pages := 0
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		if r.URL.Query().Get("page") == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=2&per_page=%d>; rel="next"`, server.URL, r.URL.Path, maxPerPage))
		}
		writeJSON(w, map[string]any{
			"total_count": 2,
			"check_runs": []map[string]any{
				{"name": fmt.Sprintf("check-page-%d", pages), "status": "completed", "conclusion": "success"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	runs, err := client.checkRuns(context.Background(), "o", "r", "sha")
	if err != nil {
		t.Fatalf("checkRuns() error: %v", err)
	}
	if pages != 2 {
		t.Errorf("check runs fetched over %d pages, want 2", pages)
	}
	if len(runs) != 2 {
		t.Errorf("got %d check runs, want 2", len(runs))
	}
}
