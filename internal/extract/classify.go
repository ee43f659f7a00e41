package extract

import (
	"strings"
	"unicode"

	"github.com/JonMunkholm/orderimport/internal/sheet"
)

// Verdict is the classifier's decision for one row.
type Verdict int

const (
	Noise Verdict = iota
	Separator
	Footer
	OrderLabels
	ItemLabels
	OrderStart
	Item
	MergedArtifact
	Ambiguous
)

func (v Verdict) String() string {
	return [...]string{
		"noise", "separator", "footer", "order-labels", "item-labels",
		"order-start", "item", "merged-artifact", "ambiguous",
	}[v]
}

// State is the extraction driver's position in the input.
type State int

const (
	SeekingHeader State = iota
	InOrder
	Done
	Failed
)

func (s State) String() string {
	return [...]string{"seeking-header", "in-order", "done", "failed"}[s]
}

// Cursor is the part of the run state the classifier looks at.
type Cursor struct {
	State State

	// AfterOrderLabels is set when the previous non-blank row was the
	// main header, whose next row always carries the order.
	AfterOrderLabels bool

	// Prev is the previous non-blank row.
	Prev sheet.Row
}

// classifier holds the immutable rules of a run.
type classifier struct {
	orderTypes map[string]bool
	norm       normalizer
}

// Classify decides what row is, given the cursor and the current layouts.
// It has no side effects.
func (c classifier) Classify(row sheet.Row, cur Cursor, orders, items layout) Verdict {
	if row.IsBlank() {
		return Separator
	}
	if isFooter(row) {
		return Footer
	}
	if isOrderLabels(row) {
		return OrderLabels
	}
	if isItemLabels(row) {
		return ItemLabels
	}
	if cur.AfterOrderLabels {
		return OrderStart
	}
	if !c.keyed(row, orders, items) && isCarryOver(row, cur.Prev) {
		return MergedArtifact
	}
	// Inside a block the type column may be the item code column, where a
	// code such as "PED" is an item, not a new order.
	typeCue := cur.State != InOrder || orders.col(fOrderType) != items.col(fCode)
	if typeCue && c.orderTypes[strings.ToUpper(orders.text(row, fOrderType))] {
		return OrderStart
	}
	if !orders.labeled && orders.col(fOrderID) != items.col(fCode) && identifierLike(orders.text(row, fOrderID)) {
		return OrderStart
	}

	if items.text(row, fCode) == "" {
		if cur.State == InOrder {
			return Ambiguous
		}
		return Noise
	}
	numeric := c.norm.looksNumeric(items.cell(row, fQuantity)) || c.norm.looksNumeric(items.cell(row, fPrice))
	switch {
	case cur.State == InOrder && numeric:
		return Item
	case cur.State == InOrder || numeric:
		return Ambiguous
	}
	return Noise
}

// keyed reports whether row carries its own order identifier, item code or
// quantity. Such rows are records in their own right even when they repeat
// the previous row.
func (c classifier) keyed(row sheet.Row, orders, items layout) bool {
	return orders.text(row, fOrderID) != "" ||
		items.text(row, fCode) != "" ||
		c.norm.looksNumeric(items.cell(row, fQuantity))
}

// isFooter matches summary rows such as "Totais de vendas".
func isFooter(row sheet.Row) bool {
	for i := range row.Cells {
		if strings.HasPrefix(normalizeLabel(row.Text(i)), "totais_de") {
			return true
		}
	}
	return false
}

// isCarryOver matches merged-cell residue: a row whose values all repeat the
// previous row at the same positions but with fewer cells filled. Only rows
// without a key are checked.
func isCarryOver(row, prev sheet.Row) bool {
	if len(prev.Cells) == 0 || row.Filled() >= prev.Filled() {
		return false
	}
	for i, c := range row.Cells {
		if c.IsEmpty() {
			continue
		}
		if row.Text(i) != prev.Text(i) {
			return false
		}
	}
	return true
}

// identifierLike reports whether s looks like an order number: one token
// containing at least one digit.
func identifierLike(s string) bool {
	if s == "" || strings.ContainsFunc(s, unicode.IsSpace) {
		return false
	}
	return strings.ContainsFunc(s, unicode.IsDigit)
}
