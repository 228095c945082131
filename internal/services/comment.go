package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xmlangel/testcasecraft-sub009/internal/models"
)

const (
	maxFailuresInNotice = 5
	maxNoteLength       = 100
	commentTimeLayout   = "2006-01-02 15:04"
)

// standardResults are always listed, in this order, in a distribution block.
var standardResults = []string{models.ResultPass, models.ResultFail, models.ResultBlocked, models.ResultNotRun}

var (
	distributionLine = regexp.MustCompile(`^- (.*): (\d+)$`)
	resultLine       = regexp.MustCompile(`^\*Result:\* (.+)$`)
	lineBreaks       = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// ComposeResultComment renders a single result as a tracker comment.
func ComposeResultComment(r *models.TestResult, executionName string) string {
	var b strings.Builder
	b.WriteString("*Test Result Update*\n")
	writeField(&b, "Test Case", testCaseLabel(r))
	if executionName != "" {
		writeField(&b, "Execution", executionName)
	}
	writeField(&b, "Result", r.Result)
	if r.ExecutorName != "" {
		writeField(&b, "Executed By", r.ExecutorName)
	}
	if !r.ExecutedAt.IsZero() {
		writeField(&b, "Executed At", r.ExecutedAt.Format(commentTimeLayout))
	}
	if notes := strings.TrimSpace(r.Notes); notes != "" {
		writeField(&b, "Notes", notes)
	}
	return b.String()
}

// ComposeExecutionSummary renders the outcome distribution of results that
// reference one issue within an execution.
func ComposeExecutionSummary(executionName string, results []models.TestResult) string {
	dist := Distribution(results)

	var b strings.Builder
	b.WriteString("*Test Execution Summary*\n")
	if executionName != "" {
		writeField(&b, "Execution", executionName)
	}
	writeField(&b, "Total", strconv.Itoa(len(results)))
	writeField(&b, "Pass Rate", fmt.Sprintf("%.1f%%", SuccessRate(dist[models.ResultPass], len(results))))
	b.WriteString(ComposeDistribution(dist))
	return b.String()
}

// ComposeFailureNotice lists failed results, at most five of them.
func ComposeFailureNotice(executionName string, failures []models.TestResult) string {
	var b strings.Builder
	b.WriteString("*Test Failures Detected*\n")
	if executionName != "" {
		writeField(&b, "Execution", executionName)
	}
	writeField(&b, "Failed Tests", strconv.Itoa(len(failures)))
	for i := range failures {
		if i == maxFailuresInNotice {
			fmt.Fprintf(&b, "... and %d more\n", len(failures)-maxFailuresInNotice)
			break
		}
		line := "* " + singleLine(testCaseLabel(&failures[i]))
		if notes := singleLine(failures[i].Notes); notes != "" {
			line += ": " + truncateRunes(notes, maxNoteLength)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// ComposeDistribution renders counts as "- RESULT: n" lines. The four standard
// outcomes are always present; other values follow in name order.
func ComposeDistribution(dist map[string]int) string {
	var b strings.Builder
	b.WriteString("*Result Distribution:*\n")
	for _, r := range standardResults {
		fmt.Fprintf(&b, "- %s: %d\n", r, dist[r])
	}

	extras := make([]string, 0, len(dist))
	for r := range dist {
		if !isStandardResult(r) {
			extras = append(extras, r)
		}
	}
	sort.Strings(extras)
	for _, r := range extras {
		fmt.Fprintf(&b, "- %s: %d\n", singleLine(r), dist[r])
	}
	return b.String()
}

// ParseDistribution recovers outcome counts from a comment produced by this
// package. A single result comment yields a count of one for its result.
// It returns nil when the body carries no outcome.
func ParseDistribution(body string) map[string]int {
	var dist map[string]int
	var single string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if m := distributionLine.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			if dist == nil {
				dist = make(map[string]int)
			}
			dist[m[1]] = n
			continue
		}
		if m := resultLine.FindStringSubmatch(line); m != nil && single == "" {
			single = m[1]
		}
	}
	if dist == nil && single != "" {
		dist = map[string]int{single: 1}
	}
	return dist
}

// Distribution counts results by outcome.
func Distribution(results []models.TestResult) map[string]int {
	dist := make(map[string]int, len(standardResults))
	for i := range results {
		dist[results[i].Result]++
	}
	return dist
}

// SuccessRate is pass/total as a percentage rounded to one decimal.
func SuccessRate(pass, total int) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(pass) / float64(total) * 100
	return float64(int64(rate*10+0.5)) / 10
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteString("*")
	b.WriteString(name)
	b.WriteString(":* ")
	b.WriteString(singleLine(value))
	b.WriteString("\n")
}

func testCaseLabel(r *models.TestResult) string {
	if r.TestCaseName != "" {
		return r.TestCaseName
	}
	return r.TestCaseID
}

// singleLine keeps user text on one line so it cannot forge comment fields.
func singleLine(s string) string {
	return strings.TrimSpace(lineBreaks.Replace(s))
}

func isStandardResult(r string) bool {
	for _, s := range standardResults {
		if s == r {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
