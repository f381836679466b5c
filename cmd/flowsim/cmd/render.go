package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/flowsim/flowsim/internal/diagnostics"
)

type styles struct {
	title, label, ok, warn, err, faint lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	if noColor {
		plain := r.NewStyle()
		return styles{title: plain, label: plain, ok: plain, warn: plain, err: plain, faint: plain}
	}
	return styles{
		title: r.NewStyle().Bold(true),
		label: r.NewStyle().Foreground(lipgloss.Color("6")),
		ok:    r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		err:   r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		faint: r.NewStyle().Faint(true),
	}
}

func (s styles) status(status diagnostics.HealthStatus) (icon string, style lipgloss.Style) {
	switch status {
	case diagnostics.HealthOK:
		return "✓", s.ok
	case diagnostics.HealthWarning:
		return "⚠", s.warn
	default:
		return "✗", s.err
	}
}

func (s styles) severity(sev diagnostics.Severity) lipgloss.Style {
	switch sev {
	case diagnostics.SeverityHigh:
		return s.err
	case diagnostics.SeverityMedium:
		return s.warn
	default:
		return s.faint
	}
}

func renderHealthReport(w io.Writer, report diagnostics.HealthReport) {
	st := newStyles(w)
	_, overall := st.status(report.OverallStatus)

	fmt.Fprintf(w, "%s %s\n\n", st.title.Render("Environment health:"), overall.Render(string(report.OverallStatus)))
	for _, c := range report.Components {
		icon, style := st.status(c.Status)
		fmt.Fprintf(w, "  %s %-18s %s\n", style.Render(icon), c.Component, c.Message)
		for _, rec := range c.Recommendations {
			fmt.Fprintf(w, "      %s %s\n", st.faint.Render("→"), rec)
		}
	}
	fmt.Fprintf(w, "\n%s\n", report.Summary)
	fmt.Fprintln(w, st.faint.Render(fmt.Sprintf("checked in %.0fms", report.DurationMS)))
}

func renderReportSummary(w io.Writer, report *diagnostics.PerformanceReport) {
	st := newStyles(w)
	sum := report.Summary()
	host := report.SystemSummary

	fmt.Fprintf(w, "%s %s\n", st.title.Render("Performance report"), st.faint.Render(sum.ReportID))
	fmt.Fprintf(w, "  %s %s\n", st.label.Render("generated:"), humanize.Time(report.Metadata.GeneratedAt))
	fmt.Fprintf(w, "  %s %.1f (%s)\n", st.label.Render("score:    "), sum.Score, sum.Grade)
	fmt.Fprintf(w, "  %s %s over %s samples\n", st.label.Render("duration: "),
		formatSeconds(sum.DurationSeconds), humanize.Comma(int64(sum.Samples)))
	fmt.Fprintf(w, "  %s avg %.1f%%, peak %.1f%%\n", st.label.Render("cpu:      "), host.AvgCPUPercent, host.PeakCPUPercent)
	fmt.Fprintf(w, "  %s avg %.1f%%, peak %s\n", st.label.Render("memory:   "), host.AvgMemoryPercent,
		humanize.IBytes(uint64(host.PeakMemoryMB*1024*1024)))
	fmt.Fprintf(w, "  %s %s (%.1f/min)\n", st.label.Render("container:"),
		humanize.Comma(host.TotalDockerOperations), host.DockerOpsPerMinute)

	if stages := report.Analysis.ExecutionStages; len(stages) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.title.Render("Stages"))
		for _, stage := range stages {
			duration := "running"
			if stage.DurationMS != nil {
				duration = formatSeconds(*stage.DurationMS / 1000)
			}
			line := fmt.Sprintf("  %-24s %10s  peak cpu %5.1f%%  ops %d", stage.Name, duration, stage.PeakCPU, stage.DockerOperations)
			if len(stage.Bottlenecks) > 0 {
				line += "  " + st.warn.Render(strings.Join(stage.Bottlenecks, ","))
			}
			fmt.Fprintln(w, line)
		}
	}

	if findings := report.Analysis.Bottlenecks; len(findings) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.title.Render("Bottlenecks"))
		for _, f := range findings {
			fmt.Fprintf(w, "  %s %s: %s\n", st.severity(f.Severity).Render("["+string(f.Severity)+"]"), f.Type, f.Description)
		}
	}

	if opps := report.Analysis.Opportunities; len(opps) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.title.Render("Opportunities"))
		for _, o := range opps {
			fmt.Fprintf(w, "  %s %s (%s)\n", st.severity(o.Priority).Render("["+string(o.Priority)+"]"), o.Title, o.EstimatedImprovement)
		}
	}

	if len(sum.TopRecommendations) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.title.Render("Recommendations"))
		for i, rec := range sum.TopRecommendations {
			fmt.Fprintf(w, "  %d. %s\n", i+1, rec)
		}
	}
}

func formatSeconds(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
