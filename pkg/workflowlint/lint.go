// Package workflowlint is a stateless text-policy checker for CI
// workflow configuration. It scans workflow files for forbidden
// permission grants, unauthorized model or effort parameters, unguarded
// unrestricted-shell usage, and merge-capable logic outside the
// designated merge workflow, plus banned keys in the automerge policy
// file. It shares no data model with the eligibility evaluator.
package workflowlint

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule identifiers, one per policy.
const (
	RulePermissions       = "forbidden-permissions"
	RuleModel             = "unauthorized-model"
	RuleEffort            = "unauthorized-effort"
	RuleUnrestrictedShell = "unrestricted-shell"
	RuleMergeLogic        = "unreferenced-merge-logic"
	RuleBannedKey         = "banned-policy-key"
)

// Violation is one policy finding in a scanned file.
type Violation struct {
	File    string `json:"file"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Line    int    `json:"line"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d: [%s] %s", v.File, v.Line, v.Rule, v.Message)
}

var (
	// permissionsWriteAllRegex matches a blanket write grant.
	permissionsWriteAllRegex = regexp.MustCompile(`^\s*permissions:\s*write-all\b`)

	// writeGrantRegex matches write grants to scopes that enable
	// merging or content changes.
	writeGrantRegex = regexp.MustCompile(`^\s*(contents|pull-requests):\s*write\b`)

	// modelRegex captures the configured model identifier.
	modelRegex = regexp.MustCompile(`^\s*(?:claude_)?model:\s*["']?([A-Za-z0-9._-]+)`)

	// effortRegex captures the configured reasoning effort.
	effortRegex = regexp.MustCompile(`^\s*(?:reasoning_)?effort:\s*["']?([A-Za-z0-9_-]+)`)

	// skipPermissionsRegex matches the unrestricted-permissions escape hatch.
	skipPermissionsRegex = regexp.MustCompile(`--dangerously-skip-permissions\b`)

	// allowedToolsRegex matches an allowed-tools grant line.
	allowedToolsRegex = regexp.MustCompile(`^\s*(?:--)?allowed[_-]tools:?\s*(.*)$`)

	// blanketBashRegex matches a Bash grant with no command scoping,
	// i.e. "Bash" not immediately followed by "(...)".
	blanketBashRegex = regexp.MustCompile(`\bBash\b([^(]|$)`)

	// mergeLogicRegex matches commands or API paths capable of merging
	// a pull request.
	mergeLogicRegex = regexp.MustCompile(`\bgh\s+pr\s+merge\b|/pulls/[^\s"']*/merge\b|\bmergePullRequest\b`)
)

// bannedPolicyKeys are configuration keys the automerge policy file may
// never carry; each one bypasses a gate the evaluator depends on.
var bannedPolicyKeys = []string{
	"skip_checks",
	"bypass_reviews",
	"force_merge",
	"allow_failing_checks",
}

// Linter scans workflow configuration text. The zero value is not
// usable; construct with New.
type Linter struct {
	// MergeWorkflow is the base name of the one workflow permitted to
	// carry write permissions and merge-capable logic.
	MergeWorkflow string

	// AllowedModels is the set of model identifiers workflows may
	// configure.
	AllowedModels []string

	// AllowedEfforts is the set of effort values workflows may
	// configure.
	AllowedEfforts []string
}

// New returns a Linter with the standard policy.
func New() *Linter {
	return &Linter{
		MergeWorkflow:  "automerge.yml",
		AllowedModels:  []string{"claude-sonnet-4-5", "claude-haiku-4-5"},
		AllowedEfforts: []string{"low", "medium", "high"},
	}
}

// LintFiles reads and scans each path. Workflow files are scanned
// line-by-line; a file whose base name matches the automerge policy
// file additionally gets the banned-key check. Unreadable files are an
// error, not a violation.
func (l *Linter) LintFiles(paths []string) ([]Violation, error) {
	var violations []Violation
	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // Paths are operator-supplied CLI arguments
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		violations = append(violations, l.LintWorkflow(path, data)...)
		if filepath.Base(path) == l.MergeWorkflow {
			vs, err := l.LintPolicyFile(path, data)
			if err != nil {
				return nil, err
			}
			violations = append(violations, vs...)
		}
	}
	return violations, nil
}

// LintWorkflow scans one workflow file's text against the line-level
// rules. It is pure text matching; the file is never parsed as YAML.
func (l *Linter) LintWorkflow(path string, content []byte) []Violation {
	var violations []Violation
	isMergeWorkflow := filepath.Base(path) == l.MergeWorkflow

	for i, line := range strings.Split(string(content), "\n") {
		lineNum := i + 1

		if !isMergeWorkflow {
			if permissionsWriteAllRegex.MatchString(line) {
				violations = append(violations, Violation{
					File: path, Line: lineNum, Rule: RulePermissions,
					Message: "write-all permissions are forbidden outside the merge workflow",
				})
			}
			if m := writeGrantRegex.FindStringSubmatch(line); m != nil {
				violations = append(violations, Violation{
					File: path, Line: lineNum, Rule: RulePermissions,
					Message: fmt.Sprintf("%s: write is forbidden outside the merge workflow", m[1]),
				})
			}
			if mergeLogicRegex.MatchString(line) {
				violations = append(violations, Violation{
					File: path, Line: lineNum, Rule: RuleMergeLogic,
					Message: "merge-capable logic is only permitted in " + l.MergeWorkflow,
				})
			}
		}

		if m := modelRegex.FindStringSubmatch(line); m != nil && !contains(l.AllowedModels, m[1]) {
			violations = append(violations, Violation{
				File: path, Line: lineNum, Rule: RuleModel,
				Message: fmt.Sprintf("model %q is not in the approved set", m[1]),
			})
		}
		if m := effortRegex.FindStringSubmatch(line); m != nil && !contains(l.AllowedEfforts, m[1]) {
			violations = append(violations, Violation{
				File: path, Line: lineNum, Rule: RuleEffort,
				Message: fmt.Sprintf("effort %q is not in the approved set", m[1]),
			})
		}
		if skipPermissionsRegex.MatchString(line) {
			violations = append(violations, Violation{
				File: path, Line: lineNum, Rule: RuleUnrestrictedShell,
				Message: "dangerously-skip-permissions is never permitted",
			})
		}
		if m := allowedToolsRegex.FindStringSubmatch(line); m != nil && blanketBashRegex.MatchString(m[1]) {
			violations = append(violations, Violation{
				File: path, Line: lineNum, Rule: RuleUnrestrictedShell,
				Message: "blanket Bash tool grant; scope it to specific commands with Bash(...)",
			})
		}
	}

	return violations
}

// LintPolicyFile parses the automerge policy file as YAML and flags
// banned top-level keys.
func (l *Linter) LintPolicyFile(path string, content []byte) ([]Violation, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil
	}

	var violations []Violation
	mapping := doc.Content[0]
	// Mapping node content alternates key, value.
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i]
		if contains(bannedPolicyKeys, key.Value) {
			violations = append(violations, Violation{
				File: path, Line: key.Line, Rule: RuleBannedKey,
				Message: fmt.Sprintf("key %q is banned in %s", key.Value, l.MergeWorkflow),
			})
		}
	}
	return violations, nil
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
