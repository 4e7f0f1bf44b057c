package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/edvin/fleetmon/internal/model"
)

// Usage buckets for the per-instance traffic lines.
const (
	bucketWarnRatio  = 0.6
	bucketAlertRatio = 0.8
)

// FormatReport renders one cycle report as a Telegram HTML message.
func FormatReport(report model.CycleReport) string {
	var b strings.Builder

	switch report.Kind {
	case model.ReportProvision:
		b.WriteString("<b>Fleet provisioned</b>")
	case model.ReportTeardown:
		b.WriteString("<b>Fleet teardown</b>")
	default:
		b.WriteString("<b>Fleet traffic report</b>")
	}
	if report.DryRun {
		b.WriteString(" <i>(dry run)</i>")
	}
	b.WriteString("\n")

	if len(report.Fleet) > 0 {
		if over := report.OverThresholdCount(); over > 0 {
			fmt.Fprintf(&b, "%d of %d over threshold\n", over, len(report.Fleet))
		}
		b.WriteString("\n")
		for _, u := range report.Fleet {
			fmt.Fprintf(&b, "%s <b>%s</b> (%s, %s): %s / %s (%.0f%%)\n",
				usageEmoji(u.UsageRatio),
				html.EscapeString(u.Name),
				html.EscapeString(u.ClassName),
				html.EscapeString(u.Location),
				formatBytes(u.OutgoingBytes),
				formatBytes(u.IncludedBytes),
				u.UsageRatio*100)
		}
	}

	if len(report.Outcomes) > 0 {
		b.WriteString("\n")
		for _, o := range report.Outcomes {
			b.WriteString(formatOutcome(o))
		}
	}

	if report.Reconcile != nil {
		s := report.Reconcile
		fmt.Fprintf(&b, "\nClients: %d updated, %d kept, %d failed\n", s.Updated, s.Kept, s.Failed)
	}

	if !report.FinishedAt.IsZero() && !report.StartedAt.IsZero() {
		fmt.Fprintf(&b, "\n<i>cycle %s took %s</i>", report.ID, report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
	}
	return b.String()
}

func formatOutcome(o model.RebuildOutcome) string {
	name := html.EscapeString(o.InstanceName)
	switch {
	case o.Skipped:
		return fmt.Sprintf("⏭ <b>%s</b> skipped: %s\n", name, html.EscapeString(o.Reason))
	case o.Success && o.NewAddress != "" && o.NewAddress != o.PreviousAddress:
		return fmt.Sprintf("✅ <b>%s</b> rebuilt as %s, %s → %s\n",
			name, html.EscapeString(o.ClassName), o.PreviousAddress, o.NewAddress)
	case o.Success:
		return fmt.Sprintf("✅ <b>%s</b> rebuilt as %s, address unchanged\n",
			name, html.EscapeString(o.ClassName))
	default:
		return fmt.Sprintf("❌ <b>%s</b> failed: %s\n", name, html.EscapeString(o.Reason))
	}
}

func usageEmoji(ratio float64) string {
	switch {
	case ratio >= bucketAlertRatio:
		return "🔴"
	case ratio >= bucketWarnRatio:
		return "🟡"
	default:
		return "🟢"
	}
}

// formatBytes prints a byte count in the largest fitting binary unit with
// one decimal, matching how the provider sizes traffic quotas.
func formatBytes(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
		tb = 1 << 40
	)
	switch {
	case n >= tb:
		return fmt.Sprintf("%.1f TB", float64(n)/tb)
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
