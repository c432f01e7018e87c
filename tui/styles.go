package tui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/lukemcguire/throttleprobe/analysis"
	"github.com/lukemcguire/throttleprobe/result"
	"github.com/lukemcguire/throttleprobe/store/sqlite"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true)
	successStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	categoryStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	dimStyle         = lipgloss.NewStyle().Faint(true)
	valueStyle       = lipgloss.NewStyle()
	statusErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// RenderSummary produces a Lip Gloss styled summary of one run's analysis.
// trace supplies the per-category error breakdown and may be nil.
func RenderSummary(phase, account string, a analysis.Analysis, trace *result.Trace) string {
	var builder strings.Builder
	builder.WriteString(categoryStyle.Render(fmt.Sprintf("## %s / %s", phase, account)))
	builder.WriteString("\n")

	if a.NoResults {
		builder.WriteString(errorStyle.Render(a.Error))
		builder.WriteString("\n")
		return builder.String()
	}

	s, rl, perf := a.Summary, a.RateLimiting, a.Performance
	rows := [][]string{
		{"Total requests", strconv.Itoa(s.TotalRequests)},
		{"Successful", fmt.Sprintf("%d (%.2f%%)", s.SuccessfulRequests, s.SuccessRatePercent)},
		{"Rate limited", strconv.Itoa(s.RateLimitedRequests)},
		{"Blocked", strconv.Itoa(s.BlockedRequests)},
		{"Captcha", strconv.Itoa(s.CaptchaRequests)},
		{"First rate limit at", requestIndex(rl.FirstRateLimitAt)},
		{"First block at", requestIndex(rl.FirstBlockAt)},
		{"First captcha at", requestIndex(rl.FirstCaptchaAt)},
		{"Estimated safe limit", strconv.Itoa(rl.EstimatedSafeRequestLimit)},
		{"Avg response time", fmt.Sprintf("%.2fs", perf.AverageResponseTimeSeconds)},
		{"Duration", fmt.Sprintf("%.2fs", perf.TestDurationSeconds)},
		{"Requests per minute", fmt.Sprintf("%.2f", perf.RequestsPerMinute)},
	}

	metrics := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("Metric", "Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return valueStyle
		}).
		Rows(rows...)
	builder.WriteString(metrics.Render())
	builder.WriteString("\n")

	if breakdown := errorBreakdown(trace); len(breakdown) > 0 {
		errTable := table.New().
			Border(lipgloss.RoundedBorder()).
			Headers("Category", "Error", "Count").
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if col == 1 {
					return statusErrorStyle
				}
				return valueStyle
			}).
			Rows(breakdown...)
		builder.WriteString(errTable.Render())
		builder.WriteString("\n")
	}

	if s.SuccessfulRequests == s.TotalRequests {
		builder.WriteString(successStyle.Render("All requests succeeded"))
	} else {
		builder.WriteString(titleStyle.Render(fmt.Sprintf(
			"%d of %d requests failed", s.TotalRequests-s.SuccessfulRequests, s.TotalRequests)))
	}
	builder.WriteString("\n")
	return builder.String()
}

// errorBreakdown counts error types, ordered by category label then type.
func errorBreakdown(trace *result.Trace) [][]string {
	counts := make(map[result.ErrorType]int)
	for _, r := range trace.Results() {
		if r.ErrorType != "" {
			counts[r.ErrorType]++
		}
	}
	types := make([]result.ErrorType, 0, len(counts))
	for et := range counts {
		types = append(types, et)
	}
	slices.SortFunc(types, func(a, b result.ErrorType) int {
		if c := strings.Compare(a.Label(), b.Label()); c != 0 {
			return c
		}
		return strings.Compare(string(a), string(b))
	})

	rows := make([][]string, 0, len(types))
	for _, et := range types {
		rows = append(rows, []string{et.Label(), string(et), strconv.Itoa(counts[et])})
	}
	return rows
}

func requestIndex(i *int) string {
	if i == nil {
		return "-"
	}
	return strconv.Itoa(*i)
}

// RenderRecommendations renders a numbered list of recommendation texts.
func RenderRecommendations(recs []string) string {
	if len(recs) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Recommendations"))
	builder.WriteString("\n")
	for i, rec := range recs {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, rec))
	}
	return builder.String()
}

// RenderRunList renders archived runs as a table, newest first.
func RenderRunList(runs []sqlite.RunSummary) string {
	if len(runs) == 0 {
		return dimStyle.Render("No archived runs.") + "\n"
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Phase,
			r.Account,
			r.StopReason,
			fmt.Sprintf("%d/%d", r.Successes, r.Attempts),
		})
	}
	runTable := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("ID", "Created", "Phase", "Account", "Stop", "OK").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return valueStyle
		}).
		Rows(rows...)
	return runTable.Render() + "\n"
}
