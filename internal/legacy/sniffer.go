package legacy

import "strings"

// Layout describes how to read a legacy export file: its delimiter, whether
// the first line is a header, and which column holds each field. A DateCol of
// -1 means no date column is known and every cell of every row is scanned for
// a date-shaped value.
type Layout struct {
	Delimiter  rune
	HasHeader  bool
	BoxCol     int
	NameCol    int
	EmailCol   int
	DateCol    int
	StartIndex int
}

// WideLayout holds the positional indices of the headerless wide export
// inherited from the old system. The defaults below were reverse-engineered
// from sample files, not documented anywhere; they are data, not law, and can
// be overridden through configuration.
type WideLayout struct {
	Box   int `yaml:"box"`
	Name  int `yaml:"name"`
	Email int `yaml:"email"`
	Date  int `yaml:"date"`
}

// DefaultWideLayout is the historical column mapping of the old system's
// full export.
var DefaultWideLayout = WideLayout{Box: 14, Name: 3, Email: 7, Date: -1}

// wideThreshold separates the wide headerless export from small hand-made
// files: anything with more than this many columns gets the wide layout.
const wideThreshold = 10

var headerKeywords = []string{"casillero", "box_id", "nombre", "email", "correo"}

var columnSynonyms = struct {
	box, name, email, date []string
}{
	box:   []string{"casillero", "box_id", "box"},
	name:  []string{"nombre", "name"},
	email: []string{"correo", "email", "mail"},
	date:  []string{"fecha", "date", "alta"},
}

// Sniff infers the structure of an export file from its first line.
func Sniff(firstLine string) Layout {
	return SniffWithFallback(firstLine, DefaultWideLayout)
}

// SniffWithFallback is Sniff with a caller-supplied wide layout.
func SniffWithFallback(firstLine string, wide WideLayout) Layout {
	layout := Layout{
		Delimiter: ',',
		BoxCol:    0,
		NameCol:   1,
		EmailCol:  2,
		DateCol:   3,
	}
	if strings.ContainsRune(firstLine, '\t') {
		layout.Delimiter = '\t'
	}

	lower := strings.ToLower(firstLine)
	for _, keyword := range headerKeywords {
		if strings.Contains(lower, keyword) {
			layout.HasHeader = true
			break
		}
	}

	if layout.HasHeader {
		layout.StartIndex = 1
		cells := ParseLine(firstLine, layout.Delimiter)
		for i, cell := range cells {
			cells[i] = strings.ToLower(strings.TrimSpace(cell))
		}
		layout.BoxCol = findColumn(cells, columnSynonyms.box, layout.BoxCol)
		layout.NameCol = findColumn(cells, columnSynonyms.name, layout.NameCol)
		layout.EmailCol = findColumn(cells, columnSynonyms.email, layout.EmailCol)
		layout.DateCol = findColumn(cells, columnSynonyms.date, layout.DateCol)
		return layout
	}

	if len(ParseLine(firstLine, layout.Delimiter)) > wideThreshold {
		layout.BoxCol = wide.Box
		layout.NameCol = wide.Name
		layout.EmailCol = wide.Email
		layout.DateCol = wide.Date
	}
	return layout
}

// findColumn returns the first column whose header cell contains any of the
// given keywords, or fallback when none does.
func findColumn(cells, keywords []string, fallback int) int {
	for i, cell := range cells {
		for _, keyword := range keywords {
			if strings.Contains(cell, keyword) {
				return i
			}
		}
	}
	return fallback
}
