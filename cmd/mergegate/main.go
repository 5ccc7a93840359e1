// Package main provides the mergegate command-line tool, which decides
// whether a GitHub pull request is currently safe to merge
// automatically and prints the decision as a single JSON line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/mergegate/pkg/mergegate"
)

const (
	expectedURLParts = 4
	pullPathIndex    = 2
	pullPathValue    = "pull"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	expectSHA := flag.String("expect-sha", "", "Head commit the caller believes is current; a mismatch means the snapshot is stale")
	requireSafety := flag.Bool("require-workflow-safety", false, "Require the Workflow Safety check when workflow files changed")
	flag.Parse()

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [--debug] [--expect-sha SHA] [--require-workflow-safety] <pull-request-url>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s https://github.com/golang/go/pull/12345\n", os.Args[0])
		os.Exit(1)
	}

	owner, repo, prNumber, err := parsePRURL(flag.Arg(0))
	if err != nil {
		log.Printf("Invalid PR URL: %v", err)
		os.Exit(1)
	}

	token, err := githubToken()
	if err != nil {
		log.Printf("Failed to get GitHub token: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := mergegate.NewClient(token, mergegate.WithLogger(slog.Default()))
	input, err := client.EvaluationInput(ctx, mergegate.Request{
		Owner:                 owner,
		Repo:                  repo,
		Number:                prNumber,
		ExpectedHeadSHA:       *expectSHA,
		RequireWorkflowSafety: *requireSafety,
	})
	if err != nil {
		log.Printf("Failed to fetch PR snapshot: %v", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel() is called immediately before os.Exit()
	}

	// Ineligibility is a normal outcome; only fetch failures exit non-zero.
	decision := mergegate.Evaluate(*input)
	if err := json.NewEncoder(os.Stdout).Encode(decision); err != nil {
		log.Printf("Failed to encode decision: %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()
}

// githubToken resolves the API token from the environment, falling back
// to the gh CLI. The library itself never reads credentials.
func githubToken() (string, error) {
	if token := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); token != "" {
		return token, nil
	}

	cmd := exec.CommandContext(context.Background(), "gh", "auth", "token")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("GITHUB_TOKEN unset and 'gh auth token' failed: %w", err)
	}

	token := strings.TrimSpace(string(output))
	if token == "" {
		return "", errors.New("no token returned by 'gh auth token'")
	}
	return token, nil
}

func parsePRURL(prURL string) (owner, repo string, prNumber int, err error) { //nolint:revive // Function needs all 4 return values
	u, err := url.Parse(prURL)
	if err != nil {
		return "", "", 0, err
	}

	if u.Host != "github.com" {
		return "", "", 0, errors.New("not a GitHub URL")
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != expectedURLParts || parts[pullPathIndex] != pullPathValue {
		return "", "", 0, errors.New("invalid PR URL format")
	}

	prNumber, err = strconv.Atoi(parts[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR number: %w", err)
	}

	return parts[0], parts[1], prNumber, nil
}
