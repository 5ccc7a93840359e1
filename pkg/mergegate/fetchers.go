package mergegate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	maxPerPage = 100
	// maxFilePages bounds the changed-files pagination; a PR touching
	// more than maxFilePages*maxPerPage files evaluates with what was
	// seen so far.
	maxFilePages = 30
	// mergeableRetryAttempts bounds the wait for GitHub's asynchronous
	// mergeability computation.
	mergeableRetryAttempts = 4
	// mergeableRetryDelay is the fixed delay between mergeability attempts.
	mergeableRetryDelay = 1500 * time.Millisecond
	// workflowDir is the CI configuration directory whose changes
	// trigger the workflow-safety gate.
	workflowDir = ".github/workflows/"
)

// ErrMissingToken is returned before any network call when the client
// was constructed without an authorization token.
var ErrMissingToken = errors.New("github token is required")

// errMergeableUnknown marks a pull request whose mergeability GitHub is
// still computing. It drives the bounded retry and is never surfaced.
var errMergeableUnknown = errors.New("mergeability still being computed")

// Request identifies the pull request to evaluate.
type Request struct {
	Owner  string
	Repo   string
	Number int

	// ExpectedHeadSHA, when set, lets the evaluator detect commits
	// that landed after the caller last looked.
	ExpectedHeadSHA string

	// RequireWorkflowSafety enables the extra gate for changesets
	// touching CI configuration.
	RequireWorkflowSafety bool

	// Policy names the checks to inspect. The zero value means
	// DefaultCheckPolicy.
	Policy CheckPolicy
}

// EvaluationInput fetches pull request metadata, the changed-file list,
// and the head commit's check runs, and assembles them into an input
// for Evaluate. Any non-success API response aborts the whole fetch; no
// partial input is produced.
func (c *Client) EvaluationInput(ctx context.Context, req Request) (*EvaluationInput, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}
	if req.Owner == "" || req.Repo == "" || req.Number <= 0 {
		return nil, fmt.Errorf("invalid request: owner=%q repo=%q number=%d", req.Owner, req.Repo, req.Number)
	}

	policy := req.Policy
	if policy.GateCheck == "" && policy.ReviewCheck == "" &&
		policy.WorkflowSafetyCheck == "" && len(policy.ExtraChecks) == 0 {
		policy = DefaultCheckPolicy()
	}

	pr, err := c.pullRequest(ctx, req.Owner, req.Repo, req.Number)
	if err != nil {
		return nil, fmt.Errorf("fetching pull request: %w", err)
	}

	workflowChanged, err := c.workflowFilesChanged(ctx, req.Owner, req.Repo, req.Number)
	if err != nil {
		return nil, fmt.Errorf("fetching changed files: %w", err)
	}

	runs, err := c.checkRuns(ctx, req.Owner, req.Repo, pr.Head.SHA)
	if err != nil {
		return nil, fmt.Errorf("fetching check runs: %w", err)
	}

	return &EvaluationInput{
		Snapshot:              snapshotFromWire(pr),
		ExpectedHeadSHA:       req.ExpectedHeadSHA,
		RequireWorkflowSafety: req.RequireWorkflowSafety,
		WorkflowFilesChanged:  workflowChanged,
		Policy:                policy,
		CheckRuns:             runs,
	}, nil
}

// pullRequest retrieves PR metadata, retrying a bounded number of times
// while GitHub reports mergeability as still being computed. No other
// condition is retried. If mergeability is still unknown after the
// bound, the last snapshot is returned as-is and the evaluator
// classifies it as pending.
func (c *Client) pullRequest(ctx context.Context, owner, repo string, number int) (*githubPullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)

	var pr githubPullRequest
	err := retry.Do(
		func() error {
			pr = githubPullRequest{}
			if _, err := c.github.get(ctx, path, &pr); err != nil {
				return err
			}
			// GitHub never computes mergeability for closed PRs.
			if pr.Mergeable == nil && pr.State == PRStateOpen {
				c.logger.DebugContext(ctx, "mergeability not yet computed",
					"owner", owner, "repo", repo, "pr", number)
				return errMergeableUnknown
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(mergeableRetryAttempts),
		retry.Delay(c.mergeableDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errMergeableUnknown)
		}),
	)
	if err != nil && !errors.Is(err, errMergeableUnknown) {
		return nil, err
	}
	if errors.Is(err, errMergeableUnknown) {
		c.logger.InfoContext(ctx, "mergeability still unknown after retries, proceeding",
			"owner", owner, "repo", repo, "pr", number, "attempts", mergeableRetryAttempts)
	}
	return &pr, nil
}

// workflowFilesChanged pages through the PR's changed files and reports
// whether any path falls under the CI configuration directory.
// Pagination stops at a short or empty page, or at the page cap.
func (c *Client) workflowFilesChanged(ctx context.Context, owner, repo string, number int) (bool, error) {
	changed := false
	for page := 1; ; page++ {
		if page > maxFilePages {
			c.logger.WarnContext(ctx, "changed-files pagination cap reached",
				"owner", owner, "repo", repo, "pr", number, "pages", maxFilePages)
			return changed, nil
		}

		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?page=%d&per_page=%d",
			owner, repo, number, page, maxPerPage)
		var files []*githubFile
		if _, err := c.github.get(ctx, path, &files); err != nil {
			return false, err
		}
		for _, f := range files {
			if strings.HasPrefix(f.Filename, workflowDir) {
				changed = true
			}
		}
		if len(files) < maxPerPage {
			return changed, nil
		}
	}
}

// checkRuns retrieves all check runs reported against the head commit.
func (c *Client) checkRuns(ctx context.Context, owner, repo, sha string) ([]CheckRun, error) {
	if sha == "" {
		c.logger.DebugContext(ctx, "no head SHA available for check runs")
		return nil, nil
	}

	var runs []CheckRun
	page := 1
	for {
		path := fmt.Sprintf("/repos/%s/%s/commits/%s/check-runs?page=%d&per_page=%d",
			owner, repo, sha, page, maxPerPage)
		var payload githubCheckRuns
		resp, err := c.github.get(ctx, path, &payload)
		if err != nil {
			return nil, err
		}
		for _, run := range payload.CheckRuns {
			runs = append(runs, CheckRun{
				Name:        run.Name,
				Status:      run.Status,
				Conclusion:  run.Conclusion,
				StartedAt:   run.StartedAt,
				CompletedAt: run.CompletedAt,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	c.logger.DebugContext(ctx, "fetched check runs", "sha", sha, "count", len(runs))
	return runs, nil
}

// snapshotFromWire converts the wire pull request into a snapshot.
func snapshotFromWire(pr *githubPullRequest) PullRequestSnapshot {
	state := pr.State
	if pr.Merged {
		state = PRStateMerged
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.Name)
	}

	return PullRequestSnapshot{
		State:          state,
		HeadSHA:        pr.Head.SHA,
		BaseRef:        pr.Base.Ref,
		Mergeable:      pr.Mergeable,
		MergeableState: pr.MergeableState,
		Labels:         labels,
	}
}
