package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/orderimport/internal/sheet"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// rows builds worksheet rows numbered from 1. Strings become text cells and
// ints or floats become number cells; nil rows are blank.
func rows(values ...[]any) []sheet.Row {
	out := make([]sheet.Row, len(values))
	for i, vals := range values {
		cells := make([]sheet.Cell, len(vals))
		for j, v := range vals {
			switch x := v.(type) {
			case string:
				cells[j] = sheet.TextCell(x)
			case int:
				cells[j] = sheet.NumberCell(strconv.Itoa(x))
			case float64:
				cells[j] = sheet.NumberCell(strconv.FormatFloat(x, 'f', -1, 64))
			case sheet.Cell:
				cells[j] = x
			}
		}
		out[i] = sheet.Row{Index: i + 1, Cells: cells}
	}
	return out
}

func newTestExtractor(verbose bool) *Extractor {
	return New(Options{
		Locale:  PtBR,
		Verbose: verbose,
		Now:     func() time.Time { return fixedNow },
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func wantMoney(t *testing.T, name string, got decimal.NullDecimal, want string) {
	t.Helper()
	if !got.Valid {
		t.Errorf("%s is missing, want %s", name, want)
		return
	}
	if !got.Decimal.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got.Decimal, want)
	}
}

func TestExtract_RepeatedItemsAreSummed(t *testing.T) {
	in := rows(
		[]any{"PED-001", "Venda", "João"},
		[]any{"", "ITEM-1", "Caneta", 2, "3,50"},
		[]any{"", "ITEM-1", "Caneta", 1, "3,50"},
		[]any{"PED-002", "Venda", "Maria"},
		[]any{"", "ITEM-2", "Lápis", 5, "1,00"},
	)

	res, err := newTestExtractor(false).ExtractRows(in)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}

	if len(res.Orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(res.Orders))
	}
	if res.Orders[0].ID != "PED-001" || res.Orders[1].ID != "PED-002" {
		t.Errorf("order ids = %q, %q", res.Orders[0].ID, res.Orders[1].ID)
	}

	items := res.ItemsFor("PED-001")
	if len(items) != 1 {
		t.Fatalf("PED-001 has %d items, want 1", len(items))
	}
	it := items[0]
	if it.Code != "ITEM-1" || it.Name != "Caneta" {
		t.Errorf("item = %s %s", it.Code, it.Name)
	}
	if !it.Quantity.Valid || it.Quantity.N != 3 {
		t.Errorf("Quantity = %+v, want 3", it.Quantity)
	}
	wantMoney(t, "UnitPrice", it.UnitPrice, "3.50")
	wantMoney(t, "Subtotal", it.Subtotal, "10.50")
	wantMoney(t, "NetTotal", it.NetTotal, "10.50")
	if it.MergedRows != 2 || it.SourceRow != 2 {
		t.Errorf("MergedRows = %d, SourceRow = %d, want 2, 2", it.MergedRows, it.SourceRow)
	}

	if res.Counts.MergedItemRows != 1 {
		t.Errorf("Counts.MergedItemRows = %d, want 1", res.Counts.MergedItemRows)
	}
	if res.Counts.Orders != 2 || res.Counts.Items != 2 {
		t.Errorf("Counts = %+v", res.Counts)
	}
	if res.Log != nil {
		t.Errorf("Log returned without verbose: %v", res.Log)
	}

	if len(res.Totals) != 2 {
		t.Fatalf("got %d totals, want 2", len(res.Totals))
	}
	if tot := res.Totals[0]; tot.ItemCount != 1 || !tot.Gross.Equal(dec("10.50")) || !tot.Net.Equal(dec("10.50")) {
		t.Errorf("PED-001 totals = %+v", tot)
	}
	if tot := res.Totals[1]; !tot.Gross.Equal(dec("5.00")) {
		t.Errorf("PED-002 gross = %s, want 5.00", tot.Gross)
	}
}

func TestExtract_LastOrderOccurrenceWins(t *testing.T) {
	in := rows(
		[]any{"PED-001", "Venda", "João", "Cliente A", "100,00"},
		[]any{"", "X1", "Caderno", 1, "10,00"},
		nil,
		nil,
		[]any{"PED-001", "Venda", "Maria", "Cliente B", "200,00"},
		[]any{"", "X2", "Borracha", 1, "5,00"},
	)

	res, err := newTestExtractor(true).ExtractRows(in)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}

	if len(res.Orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(res.Orders))
	}
	o := res.Orders[0]
	if o.Salesperson != "Maria" || o.Customer != "Cliente B" || o.SourceRow != 5 {
		t.Errorf("order = %+v, want the row 5 occurrence", o)
	}
	wantMoney(t, "ProductsValue", o.ProductsValue, "200.00")

	if res.Counts.DuplicateOrders != 1 {
		t.Errorf("Counts.DuplicateOrders = %d, want 1", res.Counts.DuplicateOrders)
	}
	if len(res.ItemsFor("PED-001")) != 2 {
		t.Errorf("items of both occurrences should be kept, got %d", len(res.ItemsFor("PED-001")))
	}
	if !logContains(res.Log, "discarded") {
		t.Errorf("Log lacks the discarded occurrence: %v", res.Log)
	}
}

func TestExtract_MalformedPriceIsLoggedAndLeftEmpty(t *testing.T) {
	in := rows(
		[]any{"PED-001", "Venda", "João"},
		[]any{"", "ITEM-1", "Caneta", 2, "abc"},
	)

	res, err := newTestExtractor(true).ExtractRows(in)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}

	it := res.Items[0]
	if it.UnitPrice.Valid {
		t.Errorf("UnitPrice = %s, want missing", it.UnitPrice.Decimal)
	}
	if it.Subtotal.Valid || it.NetTotal.Valid {
		t.Error("totals should be missing without a unit price")
	}
	if !it.Quantity.Valid || it.Quantity.N != 2 {
		t.Errorf("Quantity = %+v, want 2", it.Quantity)
	}
	if res.Counts.Warnings != 1 {
		t.Errorf("Counts.Warnings = %d, want 1", res.Counts.Warnings)
	}
	if !logContains(res.Log, "row 2: preco_venda") {
		t.Errorf("Log = %v, want an entry for row 2 preco_venda", res.Log)
	}
}

func TestExtract_MergedCellResidueSkipped(t *testing.T) {
	in := rows(
		[]any{"PED-9", "Venda", "Ana", "Cliente"},
		[]any{"", "A1", "Caneta", 1, "2,00"},
		[]any{"", "", "Caneta"},
		[]any{"", "A2", "Lápis", 1, "1,00"},
	)

	res, err := newTestExtractor(true).ExtractRows(in)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}
	if res.Counts.DuplicateOrders != 0 {
		t.Errorf("residue row was read as a duplicate order")
	}
	if res.Counts.RowsSkipped != 1 {
		t.Errorf("Counts.RowsSkipped = %d, want 1", res.Counts.RowsSkipped)
	}
	if !logContains(res.Log, "merged cells") {
		t.Errorf("Log = %v", res.Log)
	}
	if len(res.Items) != 2 || res.Items[0].OrderID != "PED-9" || res.Items[1].OrderID != "PED-9" {
		t.Errorf("items = %+v", res.Items)
	}
}

func TestExtract_SparseRepeatsAreRecords(t *testing.T) {
	tests := []struct {
		name  string
		in    []sheet.Row
		check func(t *testing.T, res *Result)
	}{
		{
			name: "item repeated without price is summed",
			in: rows(
				[]any{"PED-001", "Venda", "João"},
				[]any{"", "ITEM-1", "Caneta", 2, "3,50"},
				[]any{"", "ITEM-1", "Caneta", 2},
			),
			check: func(t *testing.T, res *Result) {
				if len(res.Items) != 1 {
					t.Fatalf("got %d items, want 1", len(res.Items))
				}
				it := res.Items[0]
				if !it.Quantity.Valid || it.Quantity.N != 4 || it.MergedRows != 2 {
					t.Errorf("Quantity = %+v, MergedRows = %d, want 4, 2", it.Quantity, it.MergedRows)
				}
				wantMoney(t, "UnitPrice", it.UnitPrice, "3.50")
				if res.Counts.MergedItemRows != 1 {
					t.Errorf("Counts.MergedItemRows = %d, want 1", res.Counts.MergedItemRows)
				}
			},
		},
		{
			name: "order repeated with fewer cells replaces the earlier one",
			in: rows(
				[]any{"PED-001", "Venda", "João", "ACME", "10,00"},
				[]any{"PED-001", "Venda", "João"},
				[]any{"", "A1", "Caneta", 1, "2,00"},
			),
			check: func(t *testing.T, res *Result) {
				if len(res.Orders) != 1 {
					t.Fatalf("got %d orders, want 1", len(res.Orders))
				}
				o := res.Orders[0]
				if o.Customer != "" || o.ProductsValue.Valid || o.SourceRow != 2 {
					t.Errorf("order = %+v, want the row 2 occurrence", o)
				}
				if res.Counts.DuplicateOrders != 1 {
					t.Errorf("Counts.DuplicateOrders = %d, want 1", res.Counts.DuplicateOrders)
				}
				if len(res.ItemsFor("PED-001")) != 1 {
					t.Errorf("items = %+v", res.Items)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestExtractor(true).ExtractRows(tt.in)
			if err != nil {
				t.Fatalf("ExtractRows() error = %v", err)
			}
			if logContains(res.Log, "merged cells") {
				t.Errorf("repeated record read as merged cells: %v", res.Log)
			}
			tt.check(t, res)
		})
	}
}

func TestExtract_ItemCodeMatchingOrderType(t *testing.T) {
	tests := []struct {
		name    string
		in      []sheet.Row
		orderID string
		codes   []string
	}{
		{
			name: "positional",
			in: rows(
				[]any{"PED-001", "Venda", "João"},
				[]any{"", "DEV", "Devolução", 1, "2,00"},
				[]any{"", "A1", "Caneta", 1, "3,00"},
			),
			orderID: "PED-001",
			codes:   []string{"DEV", "A1"},
		},
		{
			name: "labeled",
			in: rows(
				[]any{"Tipo", "Id", "Vendedor", "Cliente"},
				[]any{"PED", "1001", "Ana", "ACME"},
				[]any{"Código", "Nome", "Marca", "Quantidade", "Preço Venda"},
				[]any{"ACU", "Acumulador", "X", "1", "5,00"},
				[]any{"A1", "Caneta", "BIC", "2", "3,50"},
			),
			orderID: "1001",
			codes:   []string{"ACU", "A1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestExtractor(true).ExtractRows(tt.in)
			if err != nil {
				t.Fatalf("ExtractRows() error = %v", err)
			}
			if len(res.Orders) != 1 || res.Orders[0].ID != tt.orderID {
				t.Fatalf("orders = %+v, want only %s", res.Orders, tt.orderID)
			}
			items := res.ItemsFor(tt.orderID)
			if len(items) != len(tt.codes) {
				t.Fatalf("%s has %d items, want %d: %+v", tt.orderID, len(items), len(tt.codes), res.Items)
			}
			for i, code := range tt.codes {
				if items[i].Code != code {
					t.Errorf("item %d code = %q, want %q", i, items[i].Code, code)
				}
			}
			if res.Counts.Warnings != 0 || res.Counts.RowsSkipped != 0 {
				t.Errorf("Counts = %+v, Log = %v", res.Counts, res.Log)
			}
		})
	}
}

func TestExtract_OrderWithoutIdentifier(t *testing.T) {
	in := rows(
		[]any{"", "PED", "Ana"},
		[]any{"", "A1", "Caneta", 1, "2,00"},
		[]any{"", "A2", "Lápis", 2, "1,00"},
		[]any{"PED-2", "Venda", "Bia"},
		[]any{"", "A3", "Borracha", 1, "0,50"},
	)

	res, err := newTestExtractor(true).ExtractRows(in)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}
	if len(res.Orders) != 1 || res.Orders[0].ID != "PED-2" {
		t.Fatalf("orders = %+v", res.Orders)
	}
	if len(res.Items) != 1 || res.Items[0].Code != "A3" {
		t.Errorf("items = %+v", res.Items)
	}
	if res.Counts.RowsSkipped != 3 || res.Counts.Warnings != 1 {
		t.Errorf("Counts = %+v, Log = %v", res.Counts, res.Log)
	}
	if !logContains(res.Log, "row 1: order row has no identifier; order and its 2 item rows skipped") {
		t.Errorf("Log = %v", res.Log)
	}
	if logContains(res.Log, "outside an order block") {
		t.Errorf("items of the rejected order logged one by one: %v", res.Log)
	}
}

func TestExtract_AmbiguousRowInsideOrder(t *testing.T) {
	in := rows(
		[]any{"PED-1", "Venda", "Ana"},
		[]any{"", "", "observação do pedido"},
		[]any{"", "A1", "Caneta", 1, "2,00"},
	)

	res, err := newTestExtractor(true).ExtractRows(in)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}
	if len(res.Items) != 1 {
		t.Errorf("got %d items, want 1", len(res.Items))
	}
	if !logContains(res.Log, "row 2: cannot tell") {
		t.Errorf("Log = %v", res.Log)
	}
}

func TestExtract_LabeledReport(t *testing.T) {
	in := rows(
		[]any{"Relatório de Vendas"},
		[]any{"Período: 01/01/2024 a 31/01/2024"},
		nil,
		[]any{"Tipo", "Id", "Vendedor", "Cliente", "Vlr. Produtos", "Desconto", "Vlr. Líquido", "Data/Hora Fechamento", "% Lucro"},
		[]any{"PED", "1001", "Ana", "ACME", "1.234,50", "10,00", "1.224,50", "15/01/2024 10:30", "25,5"},
		nil,
		[]any{"Código", "Nome", "Marca", "Quantidade", "Preço Venda", "Juros/Desc.", "Total Líquido"},
		[]any{"A1", "Caneta", "BIC", "2", "3,50", "-0,50", "6,50"},
		[]any{"A1", "Caneta", "BIC", "1", "3,50", "", "3,50"},
		nil,
		nil,
		[]any{"Totais de vendas", "", "", "", "20,00"},
		[]any{"DEV", "1002", "Bia", "XYZ", "30,00", "", "30,00"},
		[]any{"A2", "Lápis", "Faber", "3", "10,00", "", "30,00"},
	)

	res, err := newTestExtractor(true).ExtractRows(in)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}

	if len(res.Orders) != 2 {
		t.Fatalf("got %d orders, want 2: %+v", len(res.Orders), res.Orders)
	}
	o := res.Orders[0]
	if o.ID != "1001" || o.Type != "PED" || o.Salesperson != "Ana" || o.Customer != "ACME" {
		t.Errorf("order 1001 = %+v", o)
	}
	wantMoney(t, "ProductsValue", o.ProductsValue, "1234.50")
	wantMoney(t, "Discount", o.Discount, "10.00")
	wantMoney(t, "NetValue", o.NetValue, "1224.50")
	wantMoney(t, "Margin", o.Margin, "0.255")
	if want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC); !o.ClosedAt.Valid || !o.ClosedAt.Time.Equal(want) {
		t.Errorf("ClosedAt = %+v, want %v", o.ClosedAt, want)
	}
	if !o.ExtractedAt.Equal(fixedNow) {
		t.Errorf("ExtractedAt = %v, want %v", o.ExtractedAt, fixedNow)
	}
	if res.Orders[1].ID != "1002" || res.Orders[1].Type != "DEV" {
		t.Errorf("second order = %+v", res.Orders[1])
	}

	a1 := res.ItemsFor("1001")
	if len(a1) != 1 {
		t.Fatalf("1001 has %d items, want 1", len(a1))
	}
	if a1[0].Brand != "BIC" || a1[0].Quantity.N != 3 {
		t.Errorf("A1 = %+v", a1[0])
	}
	wantMoney(t, "A1 Subtotal", a1[0].Subtotal, "10.50")
	wantMoney(t, "A1 Adjustment", a1[0].Adjustment, "-0.50")
	wantMoney(t, "A1 NetTotal", a1[0].NetTotal, "10.00")
	wantMoney(t, "A1 ReportedTotal", a1[0].ReportedTotal, "10.00")

	a2 := res.ItemsFor("1002")
	if len(a2) != 1 || a2[0].Code != "A2" {
		t.Fatalf("1002 items = %+v", a2)
	}
	wantMoney(t, "A2 Subtotal", a2[0].Subtotal, "30.00")

	tot := res.Totals[0]
	if tot.ItemCount != 1 || !tot.Gross.Equal(dec("10.50")) || !tot.Adjustments.Equal(dec("-0.50")) || !tot.Net.Equal(dec("10.00")) {
		t.Errorf("1001 totals = %+v", tot)
	}

	if res.Counts.Warnings != 0 {
		t.Errorf("Counts.Warnings = %d, want 0: %v", res.Counts.Warnings, res.Log)
	}
	if res.Counts.RowsRead != 14 {
		t.Errorf("Counts.RowsRead = %d, want 14", res.Counts.RowsRead)
	}
}

func TestExtract_ReportedTotalMismatchLogged(t *testing.T) {
	in := rows(
		[]any{"Tipo", "Id", "Vendedor"},
		[]any{"PED", "7", "Ana"},
		[]any{"Código", "Nome", "Quantidade", "Preço Venda", "Total Líquido"},
		[]any{"B1", "Régua", "2", "4,00", "9,00"},
	)

	res, err := newTestExtractor(true).ExtractRows(in)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}
	if res.Counts.Warnings != 1 || !logContains(res.Log, "reports total 9.00") {
		t.Errorf("Warnings = %d, Log = %v", res.Counts.Warnings, res.Log)
	}
	wantMoney(t, "NetTotal", res.Items[0].NetTotal, "8.00")
}

func TestExtract_Idempotent(t *testing.T) {
	in := rows(
		[]any{"PED-001", "Venda", "João", "Cliente", "10,00"},
		[]any{"", "ITEM-1", "Caneta", 2, "3,50"},
		[]any{"", "ITEM-1", "Caneta", 1, "3,50"},
		[]any{"", "ITEM-2", "Lápis", 1, "xx"},
		[]any{"PED-001", "Venda", "João", "Cliente", "11,00"},
	)

	ex := newTestExtractor(true)
	first, err := ex.ExtractRows(in)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := ex.ExtractRows(in)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("runs differ:\n%s\n%s", a, b)
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name string
		rows []sheet.Row
		want error
	}{
		{"no rows", nil, ErrEmptyInput},
		{"only blank rows", rows(nil, []any{"", "  "}, nil), ErrEmptyInput},
		{"no order rows", rows([]any{"Relatório"}, []any{"sem dados"}), ErrStructuralCorruption},
		{
			"only order without identifier",
			rows(
				[]any{"Tipo", "Id", "Vendedor"},
				[]any{"PED", "", "Ana"},
				[]any{"Código", "Nome", "Quantidade"},
				[]any{"A1", "Caneta", "1"},
			),
			ErrStructuralCorruption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestExtractor(false).ExtractRows(tt.rows)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if res != nil {
				t.Errorf("result = %+v, want nil", res)
			}
			var xe *Error
			if !errors.As(err, &xe) || xe.Kind.sentinel() != tt.want {
				t.Errorf("error %v is not an *Error of the expected kind", err)
			}
		})
	}
}

func TestExtractFile_Unreadable(t *testing.T) {
	_, err := newTestExtractor(false).ExtractFile(strings.NewReader("just some text"), "notes.txt")
	if !errors.Is(err, ErrUnreadableFormat) {
		t.Fatalf("error = %v, want ErrUnreadableFormat", err)
	}

	_, err = newTestExtractor(false).ExtractFile(strings.NewReader("PK\x03\x04 broken"), "orders.xlsx")
	if !errors.Is(err, ErrUnreadableFormat) {
		t.Fatalf("error = %v, want ErrUnreadableFormat", err)
	}
}

func TestExtractFile_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sheetRows := [][]any{
		{"Tipo", "Id", "Vendedor", "Cliente", "Vlr. Produtos"},
		{"PED", "5001", "Ana", "ACME", 7},
		nil,
		{"Código", "Nome", "Quantidade", "Preço Venda"},
		{"X1", "Caneta", 2, 3.5},
	}
	for i, r := range sheetRows {
		if r == nil {
			continue
		}
		axis, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", axis, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	res, err := newTestExtractor(false).ExtractFile(bytes.NewReader(buf.Bytes()), "orders.xlsx")
	if err != nil {
		t.Fatalf("ExtractFile() error = %v", err)
	}
	if len(res.Orders) != 1 || res.Orders[0].ID != "5001" {
		t.Fatalf("orders = %+v", res.Orders)
	}
	wantMoney(t, "ProductsValue", res.Orders[0].ProductsValue, "7.00")
	if len(res.Items) != 1 {
		t.Fatalf("items = %+v", res.Items)
	}
	wantMoney(t, "Subtotal", res.Items[0].Subtotal, "7.00")
}

func TestWithVerbose(t *testing.T) {
	quiet := newTestExtractor(false)
	loud := quiet.WithVerbose(true)
	if quiet.Options().Verbose {
		t.Error("WithVerbose modified the receiver")
	}
	if !loud.Options().Verbose {
		t.Error("WithVerbose(true) not applied")
	}
}

func logContains(log []string, sub string) bool {
	for _, l := range log {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}
