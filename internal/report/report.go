// Package report renders maintenance run summaries as markdown.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/pmorton/custodian/internal/store"
)

// Daily renders a markdown report covering all runs since the start of the
// given day, including the deletion audit for each run.
func Daily(db *store.DB, day time.Time) (string, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	runs, err := db.RunsSince(start)
	if err != nil {
		return "", fmt.Errorf("daily report: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Maintenance Report — %s\n\n", start.Format("2006-01-02"))

	if len(runs) == 0 {
		b.WriteString("No maintenance runs recorded.\n")
		return b.String(), nil
	}

	var totalDeleted, totalRewritten int
	for _, r := range runs {
		totalDeleted += r.Deleted
		totalRewritten += r.Rewritten
	}
	fmt.Fprintf(&b, "%d run(s), %d record(s) rewritten, %d deleted.\n\n", len(runs), totalRewritten, totalDeleted)

	for _, r := range runs {
		fmt.Fprintf(&b, "## Run %d (%s)\n\n", r.ID, r.TriggerKind)
		fmt.Fprintf(&b, "- Started: %s\n", time.UnixMilli(r.StartedAt).Format(time.RFC3339))
		if r.FinishedAt != nil {
			fmt.Fprintf(&b, "- Finished: %s\n", time.UnixMilli(*r.FinishedAt).Format(time.RFC3339))
		}
		fmt.Fprintf(&b, "- Status: %s\n", r.Status)
		fmt.Fprintf(&b, "- Records: %d total, %d rewritten, %d archived, %d deleted, %d failed\n",
			r.Total, r.Rewritten, r.Archived, r.Deleted, r.Failed)
		fmt.Fprintf(&b, "- Average confidence: %.2f, deletion rate: %.1f%%\n\n", r.AvgConfidence, r.DeletionRate*100)

		if r.Deleted > 0 {
			entries, err := db.AuditForRun(r.ID)
			if err != nil {
				return "", fmt.Errorf("daily report run %d: %w", r.ID, err)
			}
			if len(entries) > 0 {
				b.WriteString("### Deletions\n\n")
				for _, e := range entries {
					fmt.Fprintf(&b, "- `%s` — %s: %s\n", e.MemoryID, e.Reason, excerpt(e.Content, 60))
				}
				b.WriteString("\n")
			}
		}
	}

	return b.String(), nil
}

func excerpt(s string, maxRunes int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}
