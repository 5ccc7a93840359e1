// Package mergegate decides whether a GitHub pull request is currently
// safe to merge automatically. The decision is computed by a pure
// evaluator over a snapshot assembled by Client, so it can be polled
// repeatedly without flapping: identical input always yields an
// identical Decision.
package mergegate

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// rule pairs a disqualifying condition with the decision it produces.
// Rules are evaluated in order and the first match wins; nil means the
// rule does not apply and evaluation continues.
type rule struct {
	name  string
	apply func(in *EvaluationInput, latest map[string]CheckRun) *Decision
}

// evaluationRules is the precedence chain. The order is the contract:
// a closed PR reports pr_not_open even when every check is green.
var evaluationRules = []rule{
	{"pr_not_open", ruleNotOpen},
	{"sha_mismatch", ruleSHAMismatch},
	{"no_auto_merge_label", ruleOptOutLabel},
	{"mergeability_pending", ruleMergeabilityPending},
	{"merge_conflict", ruleMergeConflict},
	{"behind_main", ruleBehindMain},
	{"required_checks", ruleRequiredChecks},
	{"workflow_safety", ruleWorkflowSafety},
}

// Evaluate maps an evaluation input to a merge-eligibility decision.
// It is pure: no clock, no network, no mutation of the input.
func Evaluate(in EvaluationInput) Decision {
	latest := latestCheckRuns(in.CheckRuns)
	requires := in.RequireWorkflowSafety && in.WorkflowFilesChanged

	for _, r := range evaluationRules {
		if d := r.apply(&in, latest); d != nil {
			d.Eligible = d.Reason == ReasonSafeToMerge
			d.RequiresWorkflowSafety = requires
			return *d
		}
	}

	return Decision{
		Eligible:               true,
		Reason:                 ReasonSafeToMerge,
		Details:                checkStatusSummary(&in, latest),
		RequiresWorkflowSafety: requires,
	}
}

// latestCheckRuns folds a list of check runs into a map from name to
// the single authoritative run. A job that re-ran reports the same name
// more than once; the run with the latest StartedAt wins, falling back
// to CompletedAt and then to epoch zero when timestamps are absent.
// Exact timestamp ties resolve to the later element in API order.
func latestCheckRuns(runs []CheckRun) map[string]CheckRun {
	latest := make(map[string]CheckRun, len(runs))
	for _, run := range runs {
		prev, ok := latest[run.Name]
		if !ok || !runTimestamp(run).Before(runTimestamp(prev)) {
			latest[run.Name] = run
		}
	}
	return latest
}

// runTimestamp picks the timestamp used to order same-named runs.
func runTimestamp(run CheckRun) time.Time {
	if !run.StartedAt.IsZero() {
		return run.StartedAt
	}
	if !run.CompletedAt.IsZero() {
		return run.CompletedAt
	}
	return time.Time{}
}

func ruleNotOpen(in *EvaluationInput, _ map[string]CheckRun) *Decision {
	if in.Snapshot.State == PRStateOpen {
		return nil
	}
	return &Decision{
		Reason:  ReasonPRNotOpen,
		Details: fmt.Sprintf("pull request is %s, not open", in.Snapshot.State),
	}
}

func ruleSHAMismatch(in *EvaluationInput, _ map[string]CheckRun) *Decision {
	if in.ExpectedHeadSHA == "" || in.ExpectedHeadSHA == in.Snapshot.HeadSHA {
		return nil
	}
	return &Decision{
		Reason: ReasonSHAMismatch,
		Details: fmt.Sprintf("expected head %s but pull request is at %s; new commits landed",
			in.ExpectedHeadSHA, in.Snapshot.HeadSHA),
	}
}

func ruleOptOutLabel(in *EvaluationInput, _ map[string]CheckRun) *Decision {
	for _, label := range in.Snapshot.Labels {
		if label == optOutLabel {
			return &Decision{
				Reason:  ReasonNoAutoMergeLabel,
				Details: fmt.Sprintf("label %q disables automatic merging", optOutLabel),
			}
		}
	}
	return nil
}

func ruleMergeabilityPending(in *EvaluationInput, _ map[string]CheckRun) *Decision {
	if in.Snapshot.Mergeable != nil {
		return nil
	}
	return &Decision{
		Reason:  ReasonPendingChecks,
		Details: "GitHub is still computing mergeability",
	}
}

func ruleMergeConflict(in *EvaluationInput, _ map[string]CheckRun) *Decision {
	if (in.Snapshot.Mergeable != nil && !*in.Snapshot.Mergeable) || in.Snapshot.MergeableState == "dirty" {
		return &Decision{
			Reason:  ReasonMergeConflict,
			Details: fmt.Sprintf("pull request has merge conflicts (mergeable_state=%s)", in.Snapshot.MergeableState),
		}
	}
	return nil
}

func ruleBehindMain(in *EvaluationInput, _ map[string]CheckRun) *Decision {
	if in.Snapshot.MergeableState != "behind" {
		return nil
	}
	return &Decision{
		Reason:  ReasonBehindMain,
		Details: fmt.Sprintf("pull request is behind %s and needs an update", in.Snapshot.BaseRef),
	}
}

// ruleRequiredChecks resolves the named runs the policy cares about. A
// missing or incomplete required run is pending. A completed run whose
// conclusion is not success or skipped is terminal only for the review
// check; any other failed required check is reported as pending so a
// re-run can still recover it.
func ruleRequiredChecks(in *EvaluationInput, latest map[string]CheckRun) *Decision {
	var missing, running, failed []string

	for _, name := range in.Policy.requiredChecks() {
		run, ok := latest[name]
		switch {
		case !ok:
			missing = append(missing, name)
		case run.Status != CheckStatusCompleted:
			running = append(running, fmt.Sprintf("%s (%s)", name, run.Status))
		case !conclusionPassing(run.Conclusion):
			if name == in.Policy.ReviewCheck {
				return &Decision{
					Reason:  ReasonReviewFailed,
					Details: fmt.Sprintf("check %q concluded %s", name, run.Conclusion),
				}
			}
			failed = append(failed, fmt.Sprintf("%s (%s)", name, run.Conclusion))
		}
	}

	switch {
	case len(missing) > 0:
		return &Decision{
			Reason:  ReasonPendingChecks,
			Details: "required checks not yet started: " + strings.Join(missing, ", "),
		}
	case len(running) > 0:
		return &Decision{
			Reason:  ReasonPendingChecks,
			Details: "required checks still running: " + strings.Join(running, ", "),
		}
	case len(failed) > 0:
		return &Decision{
			Reason:  ReasonPendingChecks,
			Details: "required checks not passing, awaiting re-run: " + strings.Join(failed, ", "),
		}
	}
	return nil
}

// ruleWorkflowSafety applies the extra gate for changesets touching CI
// configuration. It runs only after the required checks pass.
func ruleWorkflowSafety(in *EvaluationInput, latest map[string]CheckRun) *Decision {
	if !in.RequireWorkflowSafety || !in.WorkflowFilesChanged {
		return nil
	}

	run, ok := latest[in.Policy.WorkflowSafetyCheck]
	switch {
	case !ok:
		return &Decision{
			Reason: ReasonWorkflowSafetyMissing,
			Details: fmt.Sprintf("workflow files changed but check %q has not been reported",
				in.Policy.WorkflowSafetyCheck),
		}
	case run.Status != CheckStatusCompleted:
		return &Decision{
			Reason:  ReasonPendingChecks,
			Details: fmt.Sprintf("check %q is %s", run.Name, run.Status),
		}
	case !conclusionPassing(run.Conclusion):
		return &Decision{
			Reason:  ReasonWorkflowSafetyFailed,
			Details: fmt.Sprintf("check %q concluded %s", run.Name, run.Conclusion),
		}
	}
	return nil
}

// conclusionPassing reports whether a completed check run counts as
// passing. Skipped checks do not block merging.
func conclusionPassing(conclusion string) bool {
	return conclusion == CheckConclusionSuccess || conclusion == CheckConclusionSkipped
}

// checkStatusSummary describes the state of every inspected check for
// the safe_to_merge details line.
func checkStatusSummary(in *EvaluationInput, latest map[string]CheckRun) string {
	names := in.Policy.requiredChecks()
	if in.RequireWorkflowSafety && in.WorkflowFilesChanged {
		names = append(names, in.Policy.WorkflowSafetyCheck)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		run, ok := latest[name]
		if !ok {
			parts = append(parts, name+": not reported")
			continue
		}
		state := run.Status
		if run.Status == CheckStatusCompleted {
			state = run.Conclusion
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, state))
	}
	if len(parts) == 0 {
		return "all gates passed; no required checks configured"
	}
	return "all gates passed: " + strings.Join(parts, "; ")
}
