package sheet

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

type xlsxReader struct{}

func (xlsxReader) Format() Format { return FormatXLSX }

// ReadRows reads the first worksheet. Raw values drive typing so numbers are
// never seen through the workbook's display format; the formatted pass is
// only consulted to spot percentage cells.
func (xlsxReader) ReadRows(src io.ReadSeeker) ([]Row, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	name := sheets[0]

	raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	formatted, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}

	rows := make([]Row, len(raw))
	for i, values := range raw {
		cells := make([]Cell, len(values))
		for j, v := range values {
			axis, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, fmt.Errorf("cell name: %w", err)
			}
			typ, err := f.GetCellType(name, axis)
			if err != nil {
				return nil, fmt.Errorf("cell type %s: %w", axis, err)
			}
			cells[j] = xlsxCell(v, typ, displayAt(formatted, i, j))
		}
		rows[i] = Row{Index: i + 1, Cells: trimTrailing(cells)}
	}
	return rows, nil
}

func displayAt(rows [][]string, i, j int) string {
	if i >= len(rows) || j >= len(rows[i]) {
		return ""
	}
	return rows[i][j]
}

func xlsxCell(raw string, typ excelize.CellType, display string) Cell {
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeBool, excelize.CellTypeError:
		return TextCell(raw)
	case excelize.CellTypeDate:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
				return DateCell(t, raw)
			}
		}
		return TextCell(raw)
	}

	c := NumberCell(raw)
	if c.Kind == KindNumber && strings.HasSuffix(strings.TrimSpace(display), "%") {
		c.Percent = true
	}
	return c
}
