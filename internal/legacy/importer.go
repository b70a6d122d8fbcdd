package legacy

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"enviobox/pkg/domain"
	"enviobox/pkg/store"
)

const maxSampleErrors = 10

var datePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)

// nullSentinels are the literal "no value" markers the old system's export
// writes into empty cells.
var nullSentinels = map[string]bool{"": true, `\N`: true, "N": true}

// Importer streams legacy export files into the store. Lines are processed
// in file order; a bad line is counted and skipped, never aborting the batch.
type Importer struct {
	store store.Store
	wide  WideLayout
}

// NewImporter builds an importer using the given wide-layout fallback.
func NewImporter(st store.Store, wide WideLayout) *Importer {
	return &Importer{store: st, wide: wide}
}

// Import parses every data line of the file, upserting one record per line.
// Re-importing a file is idempotent: existing box ids count as duplicates and
// are never overwritten.
func (imp *Importer) Import(data []byte, filename string) domain.ImportStats {
	stats := domain.ImportStats{}

	lines := splitLines(string(data))
	if len(lines) == 0 {
		return stats
	}

	layout := SniffWithFallback(lines[0], imp.wide)
	for i := layout.StartIndex; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Total++

		inserted, err := imp.importLine(line, layout)
		switch {
		case err != nil:
			stats.Errors++
			if len(stats.SampleErrors) < maxSampleErrors {
				stats.SampleErrors = append(stats.SampleErrors, sampleError(line, err))
			}
		case inserted:
			stats.Imported++
		default:
			stats.Duplicates++
		}
	}

	slog.Info("legacy import finished",
		"file", filename,
		"imported", stats.Imported,
		"duplicates", stats.Duplicates,
		"errors", stats.Errors,
		"total", stats.Total,
	)
	return stats
}

func (imp *Importer) importLine(line string, layout Layout) (bool, error) {
	fields := ParseLine(line, layout.Delimiter)

	boxID := strings.ToUpper(strings.TrimSpace(fieldAt(fields, layout.BoxCol)))
	if nullSentinels[boxID] {
		return false, fmt.Errorf("missing box id")
	}

	record := domain.LegacyRecord{
		BoxID:            boxID,
		FullName:         strings.TrimSpace(cleanSentinel(fieldAt(fields, layout.NameCol))),
		Email:            strings.ToLower(strings.TrimSpace(cleanSentinel(fieldAt(fields, layout.EmailCol)))),
		RegistrationDate: extractDate(fields, layout.DateCol),
		RawRow:           fields,
	}

	inserted, _, err := imp.store.InsertLegacyIfAbsent(record)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", boxID, err)
	}
	return inserted, nil
}

// extractDate takes the sniffed date cell when its index is known, accepting
// only a leading YYYY-MM-DD and truncating any time-of-day part. Without a
// known column it scans the row's cells from last to first. No match means
// no date, which is not an error.
func extractDate(fields []string, dateCol int) string {
	if dateCol >= 0 {
		if m := datePattern.FindStringSubmatch(fieldAt(fields, dateCol)); m != nil {
			return m[1]
		}
		return ""
	}
	for i := len(fields) - 1; i >= 0; i-- {
		if m := datePattern.FindStringSubmatch(fields[i]); m != nil {
			return m[1]
		}
	}
	return ""
}

func fieldAt(fields []string, index int) string {
	if index < 0 || index >= len(fields) {
		return ""
	}
	return fields[index]
}

// cleanSentinel maps the export's null markers to an absent value.
func cleanSentinel(value string) string {
	if nullSentinels[strings.TrimSpace(value)] {
		return ""
	}
	return value
}

func splitLines(content string) []string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	// Drop leading blank lines so the sniffer sees real content first.
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return lines
}

func sampleError(line string, err error) string {
	snippet := line
	if len(snippet) > 80 {
		snippet = snippet[:80] + "..."
	}
	return fmt.Sprintf("%v: %s", err, snippet)
}
