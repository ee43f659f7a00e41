package extract

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Quantity is a positive whole item count, or missing.
type Quantity struct {
	N     int64
	Valid bool
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if !q.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(q.N, 10)), nil
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*q = Quantity{}
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*q = Quantity{N: n, Valid: true}
	return nil
}

// DateTime is a calendar date with optional time of day, or missing.
type DateTime struct {
	Time  time.Time
	Valid bool
}

const dateTimeLayout = "2006-01-02T15:04:05"

func (d DateTime) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.Time.Format(dateTimeLayout))
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = DateTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(dateTimeLayout, s)
	if err != nil {
		return err
	}
	*d = DateTime{Time: t, Valid: true}
	return nil
}

// OrderRecord is one order header. Money fields hold 2-place decimals and are
// invalid when the cell was empty or could not be read.
type OrderRecord struct {
	ID                  string              `json:"order_id"`
	Type                string              `json:"order_type"`
	Salesperson         string              `json:"salesperson"`
	Customer            string              `json:"customer"`
	CustomerPhone       string              `json:"customer_phone,omitempty"`
	CustomerOrigin      string              `json:"customer_origin,omitempty"`
	ClosedAt            DateTime            `json:"closed_at"`
	ReceivedAt          DateTime            `json:"received_at"`
	ProductsValue       decimal.NullDecimal `json:"products_value"`
	ServicesValue       decimal.NullDecimal `json:"services_value"`
	Freight             decimal.NullDecimal `json:"freight"`
	OtherExpenses       decimal.NullDecimal `json:"other_expenses"`
	Interest            decimal.NullDecimal `json:"interest"`
	Discount            decimal.NullDecimal `json:"discount"`
	NetValue            decimal.NullDecimal `json:"net_value"`
	Cost                decimal.NullDecimal `json:"cost"`
	Margin              decimal.NullDecimal `json:"margin"`
	ExternalSalesperson string              `json:"external_salesperson,omitempty"`
	PriceTable          string              `json:"price_table,omitempty"`
	ReturnOf            string              `json:"return_of,omitempty"`
	SourceRow           int                 `json:"source_row"`
	ExtractedAt         time.Time           `json:"extracted_at"`
}

// ItemRecord is one order line after aggregation.
type ItemRecord struct {
	OrderID       string              `json:"order_id"`
	Code          string              `json:"code"`
	Name          string              `json:"name"`
	Brand         string              `json:"brand,omitempty"`
	Promotion     string              `json:"promotion,omitempty"`
	Quantity      Quantity            `json:"quantity"`
	UnitPrice     decimal.NullDecimal `json:"unit_price"`
	Adjustment    decimal.NullDecimal `json:"adjustment"`
	Subtotal      decimal.NullDecimal `json:"subtotal"`
	NetTotal      decimal.NullDecimal `json:"net_total"`
	ReportedTotal decimal.NullDecimal `json:"reported_total"`
	Cost          decimal.NullDecimal `json:"cost"`
	PurchaseCost  decimal.NullDecimal `json:"purchase_cost"`
	Margin        decimal.NullDecimal `json:"margin"`
	SourceRow     int                 `json:"source_row"`
	MergedRows    int                 `json:"merged_rows"`
}

// OrderTotals summarizes the items of one order.
type OrderTotals struct {
	OrderID     string          `json:"order_id"`
	ItemCount   int             `json:"item_count"`
	Gross       decimal.Decimal `json:"gross"`
	Adjustments decimal.Decimal `json:"adjustments"`
	Net         decimal.Decimal `json:"net"`
}

// Counts describes what a run read and produced.
type Counts struct {
	Orders          int `json:"orders"`
	Items           int `json:"items"`
	RowsRead        int `json:"rows_read"`
	RowsSkipped     int `json:"rows_skipped"`
	DuplicateOrders int `json:"duplicate_orders"`
	MergedItemRows  int `json:"merged_item_rows"`
	Warnings        int `json:"warnings"`
}

// Result is the output of one extraction run.
type Result struct {
	Orders      []OrderRecord `json:"orders"`
	Items       []ItemRecord  `json:"items"`
	Totals      []OrderTotals `json:"totals"`
	Counts      Counts        `json:"counts"`
	Log         []string      `json:"log,omitempty"`
	ExtractedAt time.Time     `json:"extracted_at"`
}

// ItemsFor returns the items that belong to order id.
func (r *Result) ItemsFor(id string) []ItemRecord {
	var out []ItemRecord
	for _, it := range r.Items {
		if it.OrderID == id {
			out = append(out, it)
		}
	}
	return out
}
