package legacy

import "strings"

// ParseLine splits one line of a legacy export into fields.
//
// A quote toggles quoted mode, and a doubled quote inside quoted mode emits a
// single literal quote. The delimiter only ends a field outside quotes. Each
// flushed field is whitespace-trimmed and, when wrapped in a matching pair of
// quotes, unwrapped. Unbalanced quotes are not an error; the scan just runs
// to end of line.
func ParseLine(line string, delimiter rune) []string {
	var fields []string
	var current strings.Builder
	inQuotes := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				current.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
			current.WriteRune(ch)
		case ch == delimiter && !inQuotes:
			fields = append(fields, cleanField(current.String()))
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	return append(fields, cleanField(current.String()))
}

func cleanField(raw string) string {
	field := strings.TrimSpace(raw)
	if len(field) >= 2 && strings.HasPrefix(field, `"`) && strings.HasSuffix(field, `"`) {
		field = field[1 : len(field)-1]
	}
	return field
}
