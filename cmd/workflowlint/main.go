// Package main provides the workflowlint command-line tool, a static
// policy checker for CI workflow configuration. It prints one line per
// violation and exits non-zero when any are found.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/codeGROOVE-dev/mergegate/pkg/workflowlint"
)

func main() {
	mergeWorkflow := flag.String("merge-workflow", "", "Base name of the workflow permitted to carry merge logic (default automerge.yml)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [--merge-workflow NAME] <workflow-file> [...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s .github/workflows/*.yml\n", os.Args[0])
		os.Exit(1)
	}

	linter := workflowlint.New()
	if *mergeWorkflow != "" {
		linter.MergeWorkflow = *mergeWorkflow
	}

	violations, err := linter.LintFiles(flag.Args())
	if err != nil {
		log.Printf("Lint failed: %v", err)
		os.Exit(1)
	}

	for _, v := range violations {
		fmt.Println(v)
	}
	if len(violations) > 0 {
		fmt.Fprintf(os.Stderr, "%d violation(s) found\n", len(violations))
		os.Exit(1)
	}
}
