package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders raw ledger lines as a human-readable timeline.
// Lines that are not records are shown verbatim.
func FormatTimeline(lines []string) string {
	if len(lines) == 0 {
		return "Ledger is empty.\n"
	}

	var (
		b       strings.Builder
		first   string
		last    string
		tools   = map[string]int{}
		errs    int
		records int
	)

	var rows strings.Builder
	for _, line := range lines {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Tool == "" {
			rows.WriteString(fmt.Sprintf("%-10s %s\n", "?", truncate(line, 80)))
			continue
		}

		records++
		tools[rec.Tool]++
		if rec.Details.Result == "error" {
			errs++
		}
		if first == "" {
			first = rec.Timestamp
		}
		last = rec.Timestamp

		status := "ok"
		if rec.Details.Result != "" {
			status = rec.Details.Result
		}
		label := rec.Session.Label
		if label == "" {
			label = rec.Session.Key
		}
		rows.WriteString(fmt.Sprintf("%-10s %-18s %-12s %-5s %s\n",
			formatTimeOnly(rec.Timestamp),
			truncate(label, 18),
			truncate(rec.Tool, 12),
			status,
			truncate(rec.Summary, 48)))
	}

	if first != "" {
		b.WriteString(fmt.Sprintf("Ledger | %s–%s UTC\n", formatDateRange(first), formatTimeOnly(last)))
	} else {
		b.WriteString("Ledger\n")
	}
	b.WriteString(separator + "\n")
	b.WriteString(rows.String())
	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(records, errs, tools))

	return b.String()
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(records, errs int, tools map[string]int) string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if tools[names[i]] != tools[names[j]] {
			return tools[names[i]] > tools[names[j]]
		}
		return names[i] < names[j]
	})

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%d %s", tools[name], name))
	}
	if len(parts) == 0 {
		parts = append(parts, "no records")
	}

	return fmt.Sprintf("Summary: %d records (%s) | %d errors\n", records, strings.Join(parts, ", "), errs)
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
