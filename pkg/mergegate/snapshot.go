package mergegate

import (
	"time"
)

// Decision reasons. Eligible is derived from the reason and is true
// only for ReasonSafeToMerge.
const (
	ReasonSafeToMerge           = "safe_to_merge"
	ReasonPRNotOpen             = "pr_not_open"             // PR is closed or merged
	ReasonSHAMismatch           = "sha_mismatch"            // new commits landed since the caller looked
	ReasonNoAutoMergeLabel      = "no_auto_merge_label"     // opt-out label present
	ReasonPendingChecks         = "pending_checks"          // mergeability or required checks unresolved
	ReasonMergeConflict         = "merge_conflict"          // PR has conflicts with the base branch
	ReasonBehindMain            = "behind_main"             // base branch has moved ahead
	ReasonReviewFailed          = "review_failed"           // the review check concluded unsuccessfully
	ReasonWorkflowSafetyMissing = "workflow_safety_missing" // gate required but the run never appeared
	ReasonWorkflowSafetyFailed  = "workflow_safety_failed"  // gate run concluded unsuccessfully
)

// Pull request states as reported by the GitHub API.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// Check run statuses and conclusions as reported by the GitHub API.
const (
	CheckStatusQueued     = "queued"
	CheckStatusInProgress = "in_progress"
	CheckStatusCompleted  = "completed"

	CheckConclusionSuccess   = "success"
	CheckConclusionFailure   = "failure"
	CheckConclusionSkipped   = "skipped"
	CheckConclusionCancelled = "cancelled"
	CheckConclusionNeutral   = "neutral"
)

// optOutLabel disables automatic merging for a pull request.
const optOutLabel = "no-auto-merge"

// PullRequestSnapshot captures the pull request metadata relevant to a
// merge-eligibility decision, fetched once per evaluation.
type PullRequestSnapshot struct {
	// State is "open", "closed", or "merged".
	State string `json:"state"`

	// HeadSHA is the commit at the tip of the PR branch.
	HeadSHA string `json:"head_sha"`

	// BaseRef is the name of the branch the PR targets.
	BaseRef string `json:"base_ref"`

	// Mergeable is GitHub's conflict computation. nil means the host
	// is still calculating it.
	Mergeable *bool `json:"mergeable"`

	// MergeableState is "clean", "dirty", "behind", "unknown", etc.
	MergeableState string `json:"mergeable_state"`

	// Labels holds the label names attached to the PR.
	Labels []string `json:"labels,omitempty"`
}

// CheckRun is one reported result of a CI job against the head commit.
// Names are not unique over time: a re-run job reports again under the
// same name.
type CheckRun struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Conclusion  string    `json:"conclusion,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// CheckPolicy names the check runs the eligibility decision inspects.
type CheckPolicy struct {
	// GateCheck is the aggregate gating check that must succeed.
	GateCheck string `json:"gate_check"`

	// ReviewCheck is the review-type check. Its failure is terminal
	// (review_failed) rather than pending.
	ReviewCheck string `json:"review_check"`

	// ExtraChecks are additional required checks (coverage, quality).
	ExtraChecks []string `json:"extra_checks,omitempty"`

	// WorkflowSafetyCheck guards changes to CI configuration.
	WorkflowSafetyCheck string `json:"workflow_safety_check"`
}

// DefaultCheckPolicy returns the check names the standard automation
// pipeline reports.
func DefaultCheckPolicy() CheckPolicy {
	return CheckPolicy{
		GateCheck:           "Automation Gate",
		ReviewCheck:         "review",
		WorkflowSafetyCheck: "Workflow Safety",
	}
}

// requiredChecks returns the non-empty required check names in
// inspection order.
func (p CheckPolicy) requiredChecks() []string {
	names := make([]string, 0, 2+len(p.ExtraChecks))
	if p.GateCheck != "" {
		names = append(names, p.GateCheck)
	}
	if p.ReviewCheck != "" {
		names = append(names, p.ReviewCheck)
	}
	names = append(names, p.ExtraChecks...)
	return names
}

// EvaluationInput is the assembled snapshot handed to Evaluate.
type EvaluationInput struct {
	Snapshot PullRequestSnapshot `json:"snapshot"`

	// ExpectedHeadSHA is the commit the caller believes is current.
	// When set, a differing snapshot head means new commits landed
	// mid-evaluation and the snapshot is stale.
	ExpectedHeadSHA string `json:"expected_head_sha,omitempty"`

	// RequireWorkflowSafety enables the extra gate for changesets that
	// touch CI configuration.
	RequireWorkflowSafety bool `json:"require_workflow_safety"`

	// WorkflowFilesChanged is precomputed from the PR's changed files.
	WorkflowFilesChanged bool `json:"workflow_files_changed"`

	Policy    CheckPolicy `json:"policy"`
	CheckRuns []CheckRun  `json:"check_runs,omitempty"`
}

// Decision is the sole output of an evaluation. Ineligibility is a
// normal, successful outcome, not an error.
type Decision struct {
	// Eligible is true iff Reason is safe_to_merge.
	Eligible bool `json:"eligible"`

	// Reason is one of the Reason* constants.
	Reason string `json:"reason"`

	// Details is a human-readable explanation for logging.
	Details string `json:"details"`

	// RequiresWorkflowSafety reports whether the workflow-safety gate
	// was logically in scope, even when the decision short-circuited
	// before reaching it.
	RequiresWorkflowSafety bool `json:"requires_workflow_safety"`
}
