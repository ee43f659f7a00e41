package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/orderimport/internal/sheet"
)

// Precision of normalized values. Rounding is half away from zero.
const (
	MoneyPlaces   = 2
	PercentPlaces = 4
)

var errEmptyCell = errors.New("empty cell")

var hundred = decimal.NewFromInt(100)

// normalizer turns cells into typed values. A cell that holds something but
// cannot be read yields a missing value and a diagnostic; an empty cell
// yields a missing value silently.
type normalizer struct {
	locale Locale
	warn   func(row int, format string, args ...any)
}

func (n normalizer) text(c sheet.Cell) string {
	return strings.TrimSpace(c.Text)
}

func (n normalizer) number(c sheet.Cell) (decimal.Decimal, error) {
	switch c.Kind {
	case sheet.KindEmpty:
		return decimal.Zero, errEmptyCell
	case sheet.KindNumber:
		if d, err := decimal.NewFromString(c.Text); err == nil {
			return d, nil
		}
		return decimal.NewFromFloat(c.Number), nil
	case sheet.KindDate:
		return decimal.Zero, fmt.Errorf("%w: date %q in a numeric column", ErrInvalidNumber, c.Text)
	}
	if strings.TrimSpace(c.Text) == "" {
		return decimal.Zero, errEmptyCell
	}
	return n.locale.ParseDecimal(c.Text)
}

// looksNumeric reports whether the cell reads as a number, for row cues.
func (n normalizer) looksNumeric(c sheet.Cell) bool {
	_, err := n.number(c)
	return err == nil
}

// money reads an amount. Unsigned amounts must not be negative.
func (n normalizer) money(row int, name string, c sheet.Cell, signed bool) decimal.NullDecimal {
	d, err := n.number(c)
	if errors.Is(err, errEmptyCell) {
		return decimal.NullDecimal{}
	}
	if err != nil {
		n.warn(row, "%s: %v; left empty", name, err)
		return decimal.NullDecimal{}
	}
	if !signed && d.IsNegative() {
		n.warn(row, "%s: negative amount %s; left empty", name, d.String())
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d.Round(MoneyPlaces), Valid: true}
}

// percent reads a percentage as a fraction. Text and plain numbers are in
// percentage points ("15" or "15%" is 0.15); cells the workbook formats as a
// percentage already hold the fraction.
func (n normalizer) percent(row int, name string, c sheet.Cell) decimal.NullDecimal {
	if c.Kind == sheet.KindText {
		c.Text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(c.Text), "%"))
	}
	d, err := n.number(c)
	if errors.Is(err, errEmptyCell) {
		return decimal.NullDecimal{}
	}
	if err != nil {
		n.warn(row, "%s: %v; left empty", name, err)
		return decimal.NullDecimal{}
	}
	if !(c.Kind == sheet.KindNumber && c.Percent) {
		d = d.Div(hundred)
	}
	return decimal.NullDecimal{Decimal: d.Round(PercentPlaces), Valid: true}
}

// quantity reads a positive whole count.
func (n normalizer) quantity(row int, name string, c sheet.Cell) Quantity {
	d, err := n.number(c)
	if errors.Is(err, errEmptyCell) {
		return Quantity{}
	}
	if err != nil {
		n.warn(row, "%s: %v; left empty", name, err)
		return Quantity{}
	}
	if !d.Equal(d.Truncate(0)) || !d.IsPositive() {
		n.warn(row, "%s: %s is not a positive whole number; left empty", name, d.String())
		return Quantity{}
	}
	return Quantity{N: d.IntPart(), Valid: true}
}

// date reads a native date, a spreadsheet serial number or locale text.
func (n normalizer) date(row int, name string, c sheet.Cell) DateTime {
	switch c.Kind {
	case sheet.KindEmpty:
		return DateTime{}
	case sheet.KindDate:
		return DateTime{Time: c.Time, Valid: true}
	case sheet.KindNumber:
		t, err := excelize.ExcelDateToTime(c.Number, false)
		if err != nil || c.Number <= 0 {
			n.warn(row, "%s: serial %s is not a date; left empty", name, c.Text)
			return DateTime{}
		}
		return DateTime{Time: t, Valid: true}
	}
	if strings.TrimSpace(c.Text) == "" {
		return DateTime{}
	}
	t, err := n.locale.ParseTime(c.Text)
	if err != nil {
		n.warn(row, "%s: %v; left empty", name, err)
		return DateTime{}
	}
	return DateTime{Time: t, Valid: true}
}
