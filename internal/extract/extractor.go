// Package extract turns loosely structured order report spreadsheets into
// normalized order and item records.
//
// A run walks the rows of the first worksheet once. Each row is classified
// (order header, item, separator, footer, label row or noise) by a pure
// function over the row and a small cursor; order rows open a block and the
// item rows that follow attach to it. Field values are normalized with one
// injected Locale, never guessed per cell. When the input is exhausted the
// collected candidates are deduplicated in a single pass: orders by
// identifier with the last occurrence winning, items by (order, code) with
// quantities summed.
//
// An Extractor is immutable and safe for concurrent use; every call gets its
// own run state.
package extract

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/orderimport/internal/sheet"
)

// DefaultSubtotalTolerance is the largest accepted gap between a reported
// line total and the computed one before a diagnostic is written.
var DefaultSubtotalTolerance = decimal.New(1, -2)

// DefaultOrderTypes mark order rows in the type column.
var DefaultOrderTypes = []string{"PED", "ACU", "DEV"}

// DefaultHeaderSearchRows is how many leading rows are scanned for a
// labeled main header.
const DefaultHeaderSearchRows = 30

// Options configures an Extractor. Zero values take the defaults.
type Options struct {
	Locale           Locale
	OrderTypes       []string
	HeaderSearchRows int
	Tolerance        decimal.Decimal
	Verbose          bool

	// Now stamps records; tests inject a fixed clock.
	Now func() time.Time

	// Logger receives diagnostics at debug level.
	Logger *slog.Logger
}

// Extractor reads order reports.
type Extractor struct {
	opts       Options
	orderTypes map[string]bool
}

// New returns an Extractor with opts applied over the defaults.
func New(opts Options) *Extractor {
	if opts.Locale.Name == "" {
		opts.Locale = PtBR
	}
	if len(opts.OrderTypes) == 0 {
		opts.OrderTypes = DefaultOrderTypes
	}
	if opts.HeaderSearchRows <= 0 {
		opts.HeaderSearchRows = DefaultHeaderSearchRows
	}
	if opts.Tolerance.IsZero() {
		opts.Tolerance = DefaultSubtotalTolerance
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	types := make(map[string]bool, len(opts.OrderTypes))
	for _, t := range opts.OrderTypes {
		types[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	return &Extractor{opts: opts, orderTypes: types}
}

// Options returns the effective options.
func (e *Extractor) Options() Options {
	return e.opts
}

// WithVerbose returns a copy of e that does or does not return the
// diagnostic log.
func (e *Extractor) WithVerbose(v bool) *Extractor {
	cp := *e
	cp.opts.Verbose = v
	return &cp
}

// ExtractFile detects the format of src from its leading bytes and name,
// then extracts it.
func (e *Extractor) ExtractFile(src io.ReadSeeker, name string) (*Result, error) {
	format, err := sheet.DetectReader(src, name)
	if err != nil {
		return nil, newError(KindUnreadableFormat, err, "%s", name)
	}
	return e.Extract(src, format)
}

// Extract reads the first worksheet of src in the given format.
func (e *Extractor) Extract(src io.ReadSeeker, format sheet.Format) (*Result, error) {
	rows, err := sheet.Read(src, format)
	if err != nil {
		return nil, newError(KindUnreadableFormat, err, "cannot read %s workbook", format)
	}
	return e.ExtractRows(rows)
}

// ExtractRows runs extraction over rows already read from a worksheet.
func (e *Extractor) ExtractRows(rows []sheet.Row) (*Result, error) {
	r := e.newRun()
	return r.execute(rows)
}

// run is the mutable state of one extraction.
type run struct {
	opts *Options
	cls  classifier
	norm normalizer

	orderLayout layout
	itemLayout  layout
	cur         Cursor
	blanks      int
	blockItems  bool
	orderID     string

	// rejectedAt is the row of an order without identifier whose items are
	// being skipped; rejectedItems counts them.
	rejectedAt    int
	rejectedItems int

	orders []OrderRecord
	items  []ItemRecord
	log    []string
	counts Counts
}

func (e *Extractor) newRun() *run {
	r := &run{
		opts:        &e.opts,
		orderLayout: positionalLayout(orderFields),
		itemLayout:  positionalLayout(itemFields),
	}
	r.norm = normalizer{locale: e.opts.Locale, warn: r.warn}
	r.cls = classifier{orderTypes: e.orderTypes, norm: normalizer{locale: e.opts.Locale}}
	return r
}

// warn records a recoverable problem.
func (r *run) warn(row int, format string, args ...any) {
	r.counts.Warnings++
	r.note(row, format, args...)
}

// note records an informational entry in the diagnostic log.
func (r *run) note(row int, format string, args ...any) {
	msg := fmt.Sprintf("row %d: ", row) + fmt.Sprintf(format, args...)
	r.log = append(r.log, msg)
	r.opts.Logger.Debug("extract", "row", row, "detail", msg)
}

func (r *run) execute(rows []sheet.Row) (*Result, error) {
	nonBlank := 0
	for _, row := range rows {
		if !row.IsBlank() {
			nonBlank++
		}
	}
	if nonBlank == 0 {
		r.cur.State = Failed
		return nil, newError(KindEmptyInput, nil, "no data in %d rows", len(rows))
	}

	if r.hasLabeledHeader(rows) {
		r.orderLayout.labeled = true
	}
	for _, row := range rows {
		r.counts.RowsRead++
		r.step(row)
	}
	r.endBlock()

	if len(r.orders) == 0 {
		r.cur.State = Failed
		return nil, newError(KindStructuralCorruption, nil, "no order block found in %d non-blank rows", nonBlank)
	}
	r.cur.State = Done

	now := r.opts.Now().UTC()
	orders := r.dedupeOrders(r.orders)
	for i := range orders {
		orders[i].ExtractedAt = now
	}
	items := r.mergeItems(r.items)

	r.counts.Orders = len(orders)
	r.counts.Items = len(items)
	res := &Result{
		Orders:      orders,
		Items:       items,
		Totals:      totals(orders, items),
		Counts:      r.counts,
		ExtractedAt: now,
	}
	if r.opts.Verbose {
		res.Log = r.log
	}
	return res, nil
}

// hasLabeledHeader scans the leading rows for the main header. Reports that
// carry one are read by their labels only; positional identifier cues are
// disabled so banner lines cannot open orders.
func (r *run) hasLabeledHeader(rows []sheet.Row) bool {
	for i, row := range rows {
		if i >= r.opts.HeaderSearchRows {
			break
		}
		if isOrderLabels(row) {
			return true
		}
	}
	return false
}

func (r *run) step(row sheet.Row) {
	v := r.cls.Classify(row, r.cur, r.orderLayout, r.itemLayout)

	if v == Separator {
		r.blanks++
		if r.blanks >= 2 && (r.cur.State == InOrder && r.blockItems || r.rejectedAt > 0) {
			r.endBlock()
		}
		return
	}
	r.blanks = 0

	afterLabels := false
	switch v {
	case Footer:
		r.counts.RowsSkipped++
		r.note(row.Index, "summary row skipped")
		r.endBlock()
	case OrderLabels:
		r.endBlock()
		r.orderLayout = bindLayout(orderFields, row)
		afterLabels = true
	case ItemLabels:
		r.itemLayout = bindLayout(itemFields, row)
		if r.cur.State == InOrder {
			r.blockItems = true
		}
	case MergedArtifact:
		r.counts.RowsSkipped++
		r.warn(row.Index, "repeats values of row %d with fewer cells (merged cells); skipped", r.cur.Prev.Index)
	case OrderStart:
		r.startOrder(row)
	case Item:
		r.addItem(row)
	case Ambiguous:
		r.counts.RowsSkipped++
		if r.rejectedAt > 0 {
			r.rejectedItems++
		} else if r.cur.State == InOrder {
			r.warn(row.Index, "cannot tell whether row is an item of order %s; skipped", r.orderID)
		} else {
			r.warn(row.Index, "item-like row outside an order block; skipped")
		}
	case Noise:
		r.counts.RowsSkipped++
		r.note(row.Index, "outside any order block; skipped")
	}

	r.cur.AfterOrderLabels = afterLabels
	r.cur.Prev = row
}

func (r *run) endBlock() {
	if r.rejectedAt > 0 {
		r.warn(r.rejectedAt, "order row has no identifier; order and its %d item rows skipped", r.rejectedItems)
		r.rejectedAt, r.rejectedItems = 0, 0
	}
	r.cur.State = SeekingHeader
	r.orderID = ""
	r.blockItems = false
}

func (r *run) startOrder(row sheet.Row) {
	r.endBlock()

	l, n, at := r.orderLayout, r.norm, row.Index
	id := l.text(row, fOrderID)
	if id == "" {
		r.counts.RowsSkipped++
		r.rejectedAt = at
		return
	}

	r.orders = append(r.orders, OrderRecord{
		ID:                  id,
		Type:                l.text(row, fOrderType),
		Salesperson:         l.text(row, fSalesperson),
		Customer:            l.text(row, fCustomer),
		CustomerPhone:       l.text(row, fPhone),
		CustomerOrigin:      l.text(row, fOrigin),
		ClosedAt:            n.date(at, string(fClosedAt), l.cell(row, fClosedAt)),
		ReceivedAt:          n.date(at, string(fReceivedAt), l.cell(row, fReceivedAt)),
		ProductsValue:       n.money(at, string(fProducts), l.cell(row, fProducts), false),
		ServicesValue:       n.money(at, string(fServices), l.cell(row, fServices), false),
		Freight:             n.money(at, string(fFreight), l.cell(row, fFreight), false),
		OtherExpenses:       n.money(at, string(fOtherExpenses), l.cell(row, fOtherExpenses), false),
		Interest:            n.money(at, string(fInterest), l.cell(row, fInterest), false),
		Discount:            n.money(at, string(fDiscount), l.cell(row, fDiscount), false),
		NetValue:            n.money(at, string(fNetValue), l.cell(row, fNetValue), false),
		Cost:                n.money(at, string(fOrderCost), l.cell(row, fOrderCost), false),
		Margin:              n.percent(at, string(fOrderMargin), l.cell(row, fOrderMargin)),
		ExternalSalesperson: l.text(row, fExternalSales),
		PriceTable:          l.text(row, fPriceTable),
		ReturnOf:            l.text(row, fReturnOf),
		SourceRow:           at,
	})
	r.cur.State = InOrder
	r.orderID = id
}

func (r *run) addItem(row sheet.Row) {
	l, n, at := r.itemLayout, r.norm, row.Index
	r.items = append(r.items, ItemRecord{
		OrderID:       r.orderID,
		Code:          l.text(row, fCode),
		Name:          l.text(row, fName),
		Brand:         l.text(row, fBrand),
		Promotion:     l.text(row, fPromotion),
		Quantity:      n.quantity(at, string(fQuantity), l.cell(row, fQuantity)),
		UnitPrice:     n.money(at, string(fPrice), l.cell(row, fPrice), false),
		Adjustment:    n.money(at, string(fAdjustment), l.cell(row, fAdjustment), true),
		ReportedTotal: n.money(at, string(fReportedTotal), l.cell(row, fReportedTotal), true),
		Cost:          n.money(at, string(fItemCost), l.cell(row, fItemCost), false),
		PurchaseCost:  n.money(at, string(fPurchaseCost), l.cell(row, fPurchaseCost), false),
		Margin:        n.percent(at, string(fItemMargin), l.cell(row, fItemMargin)),
		SourceRow:     at,
	})
	r.blockItems = true
}
