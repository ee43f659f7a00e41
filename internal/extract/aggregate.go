package extract

import (
	"github.com/shopspring/decimal"
)

type itemKey struct {
	order string
	code  string
}

// dedupeOrders collapses orders sharing an identifier. The later occurrence
// replaces the earlier one entirely; output keeps first-appearance order.
func (r *run) dedupeOrders(candidates []OrderRecord) []OrderRecord {
	index := make(map[string]int, len(candidates))
	out := make([]OrderRecord, 0, len(candidates))

	for _, o := range candidates {
		i, seen := index[o.ID]
		if !seen {
			index[o.ID] = len(out)
			out = append(out, o)
			continue
		}
		r.warn(o.SourceRow, "order %s already read at row %d; the earlier occurrence is discarded", o.ID, out[i].SourceRow)
		r.counts.DuplicateOrders++
		out[i] = o
	}
	return out
}

// mergeItems sums repeated (order, code) rows: quantities, adjustments and
// reported totals add up, the first valid unit price is kept, and money
// totals are recomputed from the merged quantity.
func (r *run) mergeItems(candidates []ItemRecord) []ItemRecord {
	index := make(map[itemKey]int, len(candidates))
	out := make([]ItemRecord, 0, len(candidates))

	for _, it := range candidates {
		k := itemKey{it.OrderID, it.Code}
		i, seen := index[k]
		if !seen {
			it.MergedRows = 1
			index[k] = len(out)
			out = append(out, it)
			continue
		}

		cur := &out[i]
		r.counts.MergedItemRows++
		cur.MergedRows++
		cur.Quantity = addQuantity(cur.Quantity, it.Quantity)
		cur.Adjustment = addNull(cur.Adjustment, it.Adjustment)
		cur.ReportedTotal = addNull(cur.ReportedTotal, it.ReportedTotal)

		switch {
		case !cur.UnitPrice.Valid:
			cur.UnitPrice = it.UnitPrice
		case it.UnitPrice.Valid && !it.UnitPrice.Decimal.Equal(cur.UnitPrice.Decimal):
			r.warn(it.SourceRow, "item %s of order %s priced %s, keeping %s from row %d",
				it.Code, it.OrderID, it.UnitPrice.Decimal.StringFixed(MoneyPlaces),
				cur.UnitPrice.Decimal.StringFixed(MoneyPlaces), cur.SourceRow)
		}
		fillText(&cur.Name, it.Name)
		fillText(&cur.Brand, it.Brand)
		fillText(&cur.Promotion, it.Promotion)
		fillNull(&cur.Cost, it.Cost)
		fillNull(&cur.PurchaseCost, it.PurchaseCost)
		fillNull(&cur.Margin, it.Margin)
	}

	for i := range out {
		r.price(&out[i])
	}
	return out
}

// price computes subtotal (quantity × unit price) and net total (subtotal +
// adjustment), then checks the reported line total against the net total.
func (r *run) price(it *ItemRecord) {
	it.Subtotal = decimal.NullDecimal{}
	it.NetTotal = decimal.NullDecimal{}
	if !it.Quantity.Valid || !it.UnitPrice.Valid {
		return
	}

	sub := it.UnitPrice.Decimal.Mul(decimal.NewFromInt(it.Quantity.N)).Round(MoneyPlaces)
	it.Subtotal = decimal.NullDecimal{Decimal: sub, Valid: true}

	net := sub
	if it.Adjustment.Valid {
		net = net.Add(it.Adjustment.Decimal)
	}
	it.NetTotal = decimal.NullDecimal{Decimal: net.Round(MoneyPlaces), Valid: true}

	if it.ReportedTotal.Valid && it.ReportedTotal.Decimal.Sub(it.NetTotal.Decimal).Abs().GreaterThan(r.opts.Tolerance) {
		r.warn(it.SourceRow, "item %s of order %s reports total %s but quantity, price and adjustment give %s",
			it.Code, it.OrderID, it.ReportedTotal.Decimal.StringFixed(MoneyPlaces), it.NetTotal.Decimal.StringFixed(MoneyPlaces))
	}
}

// totals builds one summary per order, in order output sequence.
func totals(orders []OrderRecord, items []ItemRecord) []OrderTotals {
	out := make([]OrderTotals, len(orders))
	pos := make(map[string]int, len(orders))
	for i, o := range orders {
		out[i].OrderID = o.ID
		pos[o.ID] = i
	}

	for _, it := range items {
		i, ok := pos[it.OrderID]
		if !ok {
			continue
		}
		t := &out[i]
		t.ItemCount++
		if it.Subtotal.Valid {
			t.Gross = t.Gross.Add(it.Subtotal.Decimal)
		}
		if it.Adjustment.Valid {
			t.Adjustments = t.Adjustments.Add(it.Adjustment.Decimal)
		}
		if it.NetTotal.Valid {
			t.Net = t.Net.Add(it.NetTotal.Decimal)
		}
	}
	return out
}

func addQuantity(a, b Quantity) Quantity {
	switch {
	case a.Valid && b.Valid:
		return Quantity{N: a.N + b.N, Valid: true}
	case b.Valid:
		return b
	}
	return a
}

func addNull(a, b decimal.NullDecimal) decimal.NullDecimal {
	switch {
	case a.Valid && b.Valid:
		return decimal.NullDecimal{Decimal: a.Decimal.Add(b.Decimal), Valid: true}
	case b.Valid:
		return b
	}
	return a
}

func fillText(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func fillNull(dst *decimal.NullDecimal, v decimal.NullDecimal) {
	if !dst.Valid {
		*dst = v
	}
}
