package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/opsflow/internal/model"
)

// RenderBriefing formats a briefing for the terminal.
func RenderBriefing(b *model.Briefing) string {
	var sb strings.Builder
	c := b.Content

	sb.WriteString(TitleStyle.Render(fmt.Sprintf("%s briefing", titleCase(string(b.BriefingType)))))
	sb.WriteString("\n")
	sb.WriteString(MutedStyle.Render(b.GeneratedAt.Format("Mon Jan 2 15:04")))
	sb.WriteString("\n\n")
	sb.WriteString(c.Summary)
	sb.WriteString("\n")

	snap := c.FinancialSnapshot
	rows := []string{
		metricRow("Income (30d)", fmt.Sprintf("%.2f", snap.MonthIncome)),
		metricRow("Expenses (30d)", fmt.Sprintf("%.2f", snap.MonthExpenses)),
		metricRow("Net cash flow", cashStyle(snap.NetCashFlow).Render(fmt.Sprintf("%.2f", snap.NetCashFlow))),
		metricRow("Operations (7d)", fmt.Sprint(snap.WeekOperations)),
		metricRow("Pending approval", fmt.Sprint(snap.PendingCount)),
		metricRow("Flagged", fmt.Sprint(snap.FlaggedCount)),
	}
	sb.WriteString(SnapshotStyle.Render(strings.Join(rows, "\n")))
	sb.WriteString("\n")

	if len(c.Alerts) > 0 {
		sb.WriteString(SectionStyle.Render("Alerts"))
		sb.WriteString("\n")
		for _, a := range c.Alerts {
			sb.WriteString(severityStyle(a.Severity).Render(fmt.Sprintf("%s [%s] %s", BulletIcon, a.Severity, a.Title)))
			sb.WriteString("\n")
		}
	}

	if len(c.Priorities) > 0 {
		sb.WriteString(SectionStyle.Render("Priorities"))
		sb.WriteString("\n")
		for _, t := range c.Priorities {
			fmt.Fprintf(&sb, "%s %s %s\n", BulletIcon, t.Title, MutedStyle.Render("("+string(t.Priority)+")"))
		}
	}

	if len(c.ActionItems) > 0 {
		sb.WriteString(SectionStyle.Render("Action items"))
		sb.WriteString("\n")
		for _, item := range c.ActionItems {
			fmt.Fprintf(&sb, "%s %s\n", BulletIcon, item)
		}
	}
	return sb.String()
}

// RenderGrowth formats growth insights and any content suggestions.
func RenderGrowth(g *model.GrowthResult) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Growth insights"))
	sb.WriteString("\n")

	if len(g.Insights) == 0 {
		sb.WriteString(MutedStyle.Render("Not enough activity yet."))
		sb.WriteString("\n")
	}
	for _, in := range g.Insights {
		sb.WriteString("\n")
		sb.WriteString(impactStyle(in.Impact).Render(fmt.Sprintf("%s %s", BulletIcon, in.Title)))
		sb.WriteString("\n  ")
		sb.WriteString(in.Description)
		sb.WriteString("\n")
		if in.Recommendation != "" {
			sb.WriteString("  ")
			sb.WriteString(MutedStyle.Render("→ " + in.Recommendation))
			sb.WriteString("\n")
		}
	}

	if cs := g.ContentSuggestions; cs != nil {
		sb.WriteString(SectionStyle.Render(fmt.Sprintf("Content plan: %s on %s", cs.Topic, cs.Platform)))
		sb.WriteString("\n")
		for _, e := range cs.Calendar {
			fmt.Fprintf(&sb, "%s %s  %s (%s)\n", BulletIcon, e.Date.Format("Mon Jan 2"), e.Theme, e.Format)
		}
		if len(cs.Hashtags) > 0 {
			sb.WriteString(MutedStyle.Render(strings.Join(cs.Hashtags, " ")))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// NewProgress returns a counting progress bar writing to w.
func NewProgress(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

func metricRow(label, value string) string {
	return labelStyle.Render(label) + value
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
