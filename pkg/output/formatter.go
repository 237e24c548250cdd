package output

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ritzau/blockgraph/pkg/verify"
)

// PrintVerifyReport prints a nicely formatted verification report with colors
func PrintVerifyReport(w io.Writer, document string, r *verify.Report) {
	// Color definitions
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	// Header
	bold.Fprintln(w, "Block Graph - Verification Report")
	bold.Fprintln(w, "=================================")
	fmt.Fprintf(w, "Document: %s\n", document)
	fmt.Fprintf(w, "Blocks: %d (%d top-level)\n", r.Blocks, r.TopBlocks)
	fmt.Fprintf(w, "Variables: %d\n", r.Variables)
	fmt.Fprintln(w)

	errs, warnings := r.Errors(), r.Warnings()

	if len(errs) > 0 {
		red.Fprintln(w, "ERRORS:")
		for _, i := range errs {
			printIssue(w, i, red, cyan)
		}
		fmt.Fprintln(w)
	}

	if len(warnings) > 0 {
		yellow.Fprintln(w, "WARNINGS:")
		for _, i := range warnings {
			printIssue(w, i, yellow, cyan)
		}
		fmt.Fprintln(w)
	}

	// Summary with color based on the worst finding
	summaryColor := green
	if len(warnings) > 0 {
		summaryColor = yellow
	}
	if len(errs) > 0 {
		summaryColor = red
	}
	summaryColor.Fprintf(w, "Summary: %d error(s), %d warning(s)\n", len(errs), len(warnings))

	if r.OK() {
		green.Fprintln(w, "✓ All invariants hold!")
	}
}

func printIssue(w io.Writer, i verify.Issue, c, idColor *color.Color) {
	c.Fprintf(w, "  %s\n", i.Message)
	if i.BlockID != "" {
		idColor.Fprintf(w, "    Block: %s\n", i.BlockID)
	}
}

// PrintConversion reports a finished document conversion
func PrintConversion(w io.Writer, from, to string, blocks int) {
	green := color.New(color.FgGreen)
	green.Fprintf(w, "✓ Converted %s -> %s (%d top-level block(s))\n", from, to, blocks)
}
