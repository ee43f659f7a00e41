package sheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/extrame/xls"
)

type xlsReader struct{}

func (xlsReader) Format() Format { return FormatXLS }

// ReadRows reads the first worksheet of a BIFF workbook. The library renders
// every value as text, so plain machine numbers are promoted back to numbers.
func (xlsReader) ReadRows(src io.ReadSeeker) (rows []Row, err error) {
	// The BIFF decoder panics on some truncated streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(src, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	ws := wb.GetSheet(0)
	if ws == nil {
		return nil, errors.New("first worksheet unreadable")
	}

	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			rows = append(rows, Row{Index: i + 1})
			continue
		}
		last := row.LastCol()
		cells := make([]Cell, 0, last)
		for j := 0; j < last; j++ {
			if j < row.FirstCol() {
				cells = append(cells, Cell{})
				continue
			}
			cells = append(cells, xlsCell(row.Col(j)))
		}
		rows = append(rows, Row{Index: i + 1, Cells: trimTrailing(cells)})
	}
	return trimTrailingRows(rows), nil
}

func xlsCell(v string) Cell {
	v = strings.TrimSpace(v)
	if plainNumber.MatchString(v) {
		return NumberCell(v)
	}
	if strings.HasSuffix(v, "%") && plainNumber.MatchString(strings.TrimSuffix(v, "%")) {
		c := NumberCell(strings.TrimSuffix(v, "%"))
		c.Number /= 100
		c.Percent = true
		c.Text = strconv.FormatFloat(c.Number, 'f', -1, 64)
		return c
	}
	return TextCell(v)
}

// trimTrailingRows drops blank rows after the last row with data.
func trimTrailingRows(rows []Row) []Row {
	n := len(rows)
	for n > 0 && rows[n-1].IsBlank() {
		n--
	}
	return rows[:n]
}
