// Package sheet reads spreadsheet workbooks into uniform rows of typed cells.
//
// Each supported container format (XLSX, XLS, ODS) has a Reader registered
// under its Format. Callers normally use Open, which detects the format from
// the file name and leading bytes and returns the rows of the first worksheet.
package sheet

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedFormat is returned when no reader handles the input.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// Format identifies a spreadsheet container format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatODS  Format = "ods"
)

// Kind is the type of value a cell holds.
type Kind int

const (
	KindEmpty Kind = iota
	KindText
	KindNumber
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "empty"
	}
}

// Cell is one spreadsheet value.
type Cell struct {
	Kind Kind

	// Text is the trimmed textual value. For KindNumber it holds the
	// workbook's raw number text (e.g. "3.5"), never a locale rendering.
	Text string

	Number float64   // KindNumber
	Time   time.Time // KindDate

	// Percent marks a number formatted as a percentage in the workbook,
	// in which case Number is a fraction (0.15 for 15%).
	Percent bool
}

// IsEmpty reports whether the cell holds no value.
func (c Cell) IsEmpty() bool {
	return c.Kind == KindEmpty || (c.Kind != KindDate && strings.TrimSpace(c.Text) == "")
}

// Row is one worksheet row.
type Row struct {
	Index int // 1-based position in the worksheet
	Cells []Cell
}

// Cell returns the cell at column i, or an empty cell when i is out of range.
func (r Row) Cell(i int) Cell {
	if i < 0 || i >= len(r.Cells) {
		return Cell{}
	}
	return r.Cells[i]
}

// Text returns the trimmed text of column i.
func (r Row) Text(i int) string {
	return strings.TrimSpace(r.Cell(i).Text)
}

// Filled returns the number of non-empty cells.
func (r Row) Filled() int {
	n := 0
	for _, c := range r.Cells {
		if !c.IsEmpty() {
			n++
		}
	}
	return n
}

// IsBlank reports whether every cell in the row is empty.
func (r Row) IsBlank() bool {
	return r.Filled() == 0
}

// Texts returns the trimmed text of every cell.
func (r Row) Texts() []string {
	out := make([]string, len(r.Cells))
	for i := range r.Cells {
		out[i] = r.Text(i)
	}
	return out
}

// plainNumber matches unformatted machine numbers as stored by workbooks.
var plainNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TextCell builds a text cell, or an empty cell for blank input.
func TextCell(s string) Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cell{}
	}
	return Cell{Kind: KindText, Text: s}
}

// NumberCell builds a number cell from raw workbook number text. Text that is
// not a plain machine number becomes a text cell.
func NumberCell(raw string) Cell {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Cell{}
	}
	if !plainNumber.MatchString(raw) {
		return TextCell(raw)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return TextCell(raw)
	}
	return Cell{Kind: KindNumber, Text: raw, Number: f}
}

// DateCell builds a date cell.
func DateCell(t time.Time, text string) Cell {
	return Cell{Kind: KindDate, Time: t, Text: strings.TrimSpace(text)}
}

// trimTrailing drops empty cells at the end of a row.
func trimTrailing(cells []Cell) []Cell {
	n := len(cells)
	for n > 0 && cells[n-1].IsEmpty() {
		n--
	}
	return cells[:n]
}
