package sheet

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	nsTable  = "urn:oasis:names:tc:opendocument:xmlns:table:1.0"
	nsOffice = "urn:oasis:names:tc:opendocument:xmlns:office:1.0"
	nsText   = "urn:oasis:names:tc:opendocument:xmlns:text:1.0"
)

// Repeat caps for ODS run-length encoding. Writers pad sheets with huge
// repeated blank runs (a full 1M-row column is common).
const (
	odsMaxColumns     = 1024
	odsMaxBlankRepeat = 2
	odsMaxRowRepeat   = 1000
)

type odsReader struct{}

func (odsReader) Format() Format { return FormatODS }

// ReadRows reads the first table of an OpenDocument spreadsheet.
func (odsReader) ReadRows(src io.ReadSeeker) ([]Row, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var content *zip.File
	for _, f := range zr.File {
		if f.Name == "content.xml" {
			content = f
			break
		}
	}
	if content == nil {
		return nil, errors.New("content.xml not found")
	}

	rc, err := content.Open()
	if err != nil {
		return nil, fmt.Errorf("open content.xml: %w", err)
	}
	defer rc.Close()

	rows, err := decodeODSTable(xml.NewDecoder(rc))
	if err != nil {
		return nil, fmt.Errorf("parse content.xml: %w", err)
	}
	return rows, nil
}

type odsCell struct {
	valueType string
	value     string
	dateValue string
	repeat    int
	text      strings.Builder
	paras     int
	inPara    bool
}

func decodeODSTable(dec *xml.Decoder) ([]Row, error) {
	var (
		rows      []Row
		rowIndex  int
		inTable   bool
		tableDone bool
		cells     []Cell
		rowRepeat int
		cell      *odsCell
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == nsTable && t.Name.Local == "table":
				if tableDone {
					return trimTrailingRows(rows), nil
				}
				inTable = true
			case !inTable:
			case t.Name.Space == nsTable && t.Name.Local == "table-row":
				cells = cells[:0]
				rowRepeat = attrInt(t, nsTable, "number-rows-repeated", 1)
			case t.Name.Space == nsTable && (t.Name.Local == "table-cell" || t.Name.Local == "covered-table-cell"):
				cell = &odsCell{
					valueType: attr(t, nsOffice, "value-type"),
					value:     attr(t, nsOffice, "value"),
					dateValue: attr(t, nsOffice, "date-value"),
					repeat:    attrInt(t, nsTable, "number-columns-repeated", 1),
				}
			case cell != nil && t.Name.Space == nsText:
				switch t.Name.Local {
				case "p":
					if cell.paras > 0 {
						cell.text.WriteByte('\n')
					}
					cell.paras++
					cell.inPara = true
				case "s":
					cell.text.WriteString(strings.Repeat(" ", attrInt(t, nsText, "c", 1)))
				case "tab":
					cell.text.WriteByte('\t')
				case "line-break":
					cell.text.WriteByte('\n')
				}
			}

		case xml.CharData:
			if cell != nil && cell.inPara {
				cell.text.Write(t)
			}

		case xml.EndElement:
			if cell != nil && t.Name.Space == nsText && t.Name.Local == "p" {
				cell.inPara = false
				continue
			}
			if !inTable || t.Name.Space != nsTable {
				continue
			}
			switch t.Name.Local {
			case "table-cell", "covered-table-cell":
				if cell == nil {
					continue
				}
				c := cell.toCell()
				for i := 0; i < cell.repeat && len(cells) < odsMaxColumns; i++ {
					cells = append(cells, c)
				}
				cell = nil
			case "table-row":
				row := trimTrailing(append([]Cell(nil), cells...))
				repeat := rowRepeat
				if len(row) == 0 && repeat > odsMaxBlankRepeat {
					repeat = odsMaxBlankRepeat
				} else if repeat > odsMaxRowRepeat {
					repeat = odsMaxRowRepeat
				}
				for i := 0; i < repeat; i++ {
					rows = append(rows, Row{Index: rowIndex + i + 1, Cells: row})
				}
				rowIndex += rowRepeat
			case "table":
				inTable = false
				tableDone = true
			}
		}
	}
	return trimTrailingRows(rows), nil
}

func (c *odsCell) toCell() Cell {
	text := c.text.String()
	switch c.valueType {
	case "float", "currency":
		if n := NumberCell(c.value); n.Kind == KindNumber {
			return n
		}
	case "percentage":
		if n := NumberCell(c.value); n.Kind == KindNumber {
			n.Percent = true
			return n
		}
	case "date":
		for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999", "2006-01-02"} {
			if t, err := time.Parse(layout, c.dateValue); err == nil {
				return DateCell(t, text)
			}
		}
	}
	return TextCell(text)
}

func attr(se xml.StartElement, space, local string) string {
	for _, a := range se.Attr {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func attrInt(se xml.StartElement, space, local string, def int) int {
	v := attr(se, space, local)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
