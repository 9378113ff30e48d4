package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/user/ble-advertiser/util"
)

// Report is the outcome of one scenario run
type Report struct {
	Scenario   *Scenario
	Generated  time.Time
	Steps      []StepResult
	Assertions []AssertionResult
	Events     []EventLogEntry
}

// NewReport collects a finished run
func NewReport(s *Scenario, r *Runner, assertions []AssertionResult) *Report {
	return &Report{
		Scenario:   s,
		Generated:  time.Now(),
		Steps:      r.Results(),
		Assertions: assertions,
		Events:     r.EventLog(),
	}
}

// Passed reports whether every assertion held
func (rep *Report) Passed() bool {
	for _, a := range rep.Assertions {
		if !a.Passed {
			return false
		}
	}
	return true
}

// Failures returns the assertions that did not hold
func (rep *Report) Failures() []AssertionResult {
	var failed []AssertionResult
	for _, a := range rep.Assertions {
		if !a.Passed {
			failed = append(failed, a)
		}
	}
	return failed
}

// Markdown renders the report
func (rep *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Scenario Report: %s\n\n", rep.Scenario.Name)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", rep.Generated.Format("2006-01-02 15:04:05"))
	if rep.Scenario.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", rep.Scenario.Description)
	}

	status := "PASSED"
	if !rep.Passed() {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "**Result:** %s (%d/%d assertions)\n\n", status, len(rep.Assertions)-len(rep.Failures()), len(rep.Assertions))

	b.WriteString("## Timeline\n\n")
	b.WriteString("| # | At | Action | Central | Result | Value |\n")
	b.WriteString("|---|----|--------|---------|--------|-------|\n")
	for i, s := range rep.Steps {
		fmt.Fprintf(&b, "| %d | %dms | %s | %s | %s | %s |\n",
			i+1, s.Step.AtMs, s.Step.Action, s.Step.Central, s.Code(), escape(s.Value))
	}

	b.WriteString("\n## Assertions\n\n")
	for _, a := range rep.Assertions {
		mark := "✅"
		if !a.Passed {
			mark = "❌"
		}
		fmt.Fprintf(&b, "- %s `%s` %s\n", mark, a.Assertion.Type, a.Message)
	}

	if len(rep.Events) > 0 {
		b.WriteString("\n## Event Log\n\n```\n")
		for _, e := range rep.Events {
			fmt.Fprintf(&b, "%6dms %-8s %-18s %s\n", e.TimeMs, e.Central, e.Event, e.Message)
		}
		b.WriteString("```\n")
	}
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// Write stores the Markdown report under dir, or under the data
// directory's reports folder when dir is empty, and returns its path.
func (rep *Report) Write(dir string) (string, error) {
	if dir == "" {
		dataDir, err := util.GetDataDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(dataDir, "reports")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", dir)
	}

	timestamp := rep.Generated.Format("2006-01-02_15-04-05")
	path := filepath.Join(dir, fmt.Sprintf("scenario_report_%s_%s.md", slug(rep.Scenario.Name), timestamp))
	if err := os.WriteFile(path, []byte(rep.Markdown()), 0644); err != nil {
		return "", errors.Wrap(err, "error writing report")
	}
	return path, nil
}

func slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
}
