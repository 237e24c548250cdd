package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/ritzau/blockgraph/pkg/verify"
)

func init() {
	color.NoColor = true
}

func TestPrintVerifyReport_Clean(t *testing.T) {
	var buf bytes.Buffer
	PrintVerifyReport(&buf, "doc.json", &verify.Report{Blocks: 4, TopBlocks: 1})

	out := buf.String()
	for _, want := range []string{"Document: doc.json", "Blocks: 4 (1 top-level)", "Summary: 0 error(s), 0 warning(s)", "All invariants hold"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "ERRORS") || strings.Contains(out, "WARNINGS") {
		t.Errorf("Clean report should not list issues:\n%s", out)
	}
}

func TestPrintVerifyReport_Issues(t *testing.T) {
	r := &verify.Report{Issues: []verify.Issue{
		{Severity: verify.SeverityError, BlockID: "b1", Message: "real block under shadow s1"},
		{Severity: verify.SeverityWarning, Message: `variable "x" is never used`},
	}}
	var buf bytes.Buffer
	PrintVerifyReport(&buf, "doc.xml", r)

	out := buf.String()
	for _, want := range []string{"ERRORS:", "real block under shadow s1", "Block: b1", "WARNINGS:", "never used", "Summary: 1 error(s), 1 warning(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "All invariants hold") {
		t.Errorf("Failing report should not claim success:\n%s", out)
	}
}

func TestPrintConversion(t *testing.T) {
	var buf bytes.Buffer
	PrintConversion(&buf, "a.json", "a.xml", 3)

	if got := buf.String(); !strings.Contains(got, "a.json -> a.xml (3 top-level block(s))") {
		t.Errorf("Unexpected output %q", got)
	}
}
