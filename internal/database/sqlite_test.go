package database

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/orderimport/internal/core"
	"github.com/JonMunkholm/orderimport/internal/extract"
	"github.com/JonMunkholm/orderimport/internal/sheet"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func extractRows(t *testing.T, at time.Time, values ...[]string) *extract.Result {
	t.Helper()
	rows := make([]sheet.Row, len(values))
	for i, vals := range values {
		cells := make([]sheet.Cell, len(vals))
		for j, v := range vals {
			if _, err := strconv.Atoi(v); err == nil && j == 3 {
				cells[j] = sheet.NumberCell(v)
			} else {
				cells[j] = sheet.TextCell(v)
			}
		}
		rows[i] = sheet.Row{Index: i + 1, Cells: cells}
	}
	res, err := extract.New(extract.Options{Now: func() time.Time { return at }}).ExtractRows(rows)
	if err != nil {
		t.Fatalf("ExtractRows() error = %v", err)
	}
	return res
}

func newUpload(t *testing.T, s *SQLiteStore, created time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := s.CreateUpload(context.Background(), core.Upload{
		ID:        id,
		Filename:  "pedidos.xlsx",
		FileURL:   "gs://bucket/pedidos.xlsx",
		Status:    core.StatusPending,
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	return id
}

func TestSQLiteStore_UploadLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := newUpload(t, s, created)

	if err := s.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	got, err := s.GetUpload(ctx, id)
	if err != nil {
		t.Fatalf("GetUpload() error = %v", err)
	}
	if got.Status != core.StatusProcessing || got.Filename != "pedidos.xlsx" || !got.CreatedAt.Equal(created) {
		t.Errorf("upload = %+v", got)
	}

	done := created.Add(time.Minute)
	if err := s.CompleteUpload(ctx, id, extract.Counts{Orders: 2, Items: 3, Warnings: 1}, done); err != nil {
		t.Fatalf("CompleteUpload() error = %v", err)
	}
	got, _ = s.GetUpload(ctx, id)
	if got.Status != core.StatusCompleted || got.TotalOrders != 2 || got.TotalItems != 3 || got.Warnings != 1 {
		t.Errorf("completed upload = %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
	}

	// Terminal runs do not go back to processing.
	if err := s.MarkProcessing(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("MarkProcessing() on completed run error = %v, want ErrNotFound", err)
	}

	if _, err := s.GetUpload(ctx, uuid.New()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetUpload(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_FailUpload(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := newUpload(t, s, time.Now())

	if err := s.FailUpload(ctx, id, "No order block found", "EXT003", time.Now()); err != nil {
		t.Fatalf("FailUpload() error = %v", err)
	}
	got, _ := s.GetUpload(ctx, id)
	if got.Status != core.StatusFailed || got.ErrorMessage != "No order block found" || got.ErrorCode != "EXT003" {
		t.Errorf("failed upload = %+v", got)
	}
}

func TestSQLiteStore_SaveResultAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := newUpload(t, s, at)

	res := extractRows(t, at,
		[]string{"PED-001", "Venda", "João", "ACME", "10,50"},
		[]string{"", "ITEM-1", "Caneta", "2", "3,50"},
		[]string{"", "ITEM-1", "Caneta", "1", "3,50"},
		[]string{"PED-002", "Venda", "Maria"},
		[]string{"", "ITEM-2", "Lápis", "5", "1,00"},
	)
	if err := s.SaveResult(ctx, id, res); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}

	orders, total, err := s.ListOrders(ctx, core.OrderFilter{Page: core.Page{Limit: 10}})
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if total != 2 || len(orders) != 2 {
		t.Fatalf("ListOrders() = %d orders, total %d", len(orders), total)
	}
	if orders[0].ID != "PED-001" || orders[0].UploadID != id {
		t.Errorf("first order = %+v", orders[0])
	}

	detail, err := s.GetOrder(ctx, "PED-001")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if !detail.Order.ProductsValue.Valid || !detail.Order.ProductsValue.Decimal.Equal(decimal.RequireFromString("10.50")) {
		t.Errorf("ProductsValue = %+v", detail.Order.ProductsValue)
	}
	if len(detail.Items) != 1 || detail.Items[0].Quantity.N != 3 || detail.Items[0].MergedRows != 2 {
		t.Fatalf("items = %+v", detail.Items)
	}
	if !detail.Items[0].Subtotal.Decimal.Equal(decimal.RequireFromString("10.50")) {
		t.Errorf("Subtotal = %s", detail.Items[0].Subtotal.Decimal)
	}
	if detail.Totals == nil || detail.Totals.ItemCount != 1 || !detail.Totals.Net.Equal(decimal.RequireFromString("10.50")) {
		t.Errorf("totals = %+v", detail.Totals)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts.Orders != 2 || counts.Items != 2 || counts.Uploads[core.StatusPending] != 1 || counts.Uploads[core.StatusFailed] != 0 {
		t.Errorf("Counts() = %+v", counts)
	}

	if _, err := s.GetOrder(ctx, "PED-404"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetOrder(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ResaveReplacesItems(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Now().UTC()

	first := newUpload(t, s, at)
	if err := s.SaveResult(ctx, first, extractRows(t, at,
		[]string{"PED-001", "Venda", "João"},
		[]string{"", "ITEM-1", "Caneta", "2", "3,50"},
		[]string{"", "ITEM-9", "Clipe", "1", "0,10"},
	)); err != nil {
		t.Fatalf("first SaveResult() error = %v", err)
	}

	second := newUpload(t, s, at)
	if err := s.SaveResult(ctx, second, extractRows(t, at,
		[]string{"PED-001", "Venda", "Maria"},
		[]string{"", "ITEM-1", "Caneta", "4", "3,50"},
	)); err != nil {
		t.Fatalf("second SaveResult() error = %v", err)
	}

	detail, err := s.GetOrder(ctx, "PED-001")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if detail.Order.Salesperson != "Maria" || detail.Order.UploadID != second {
		t.Errorf("order = %+v, want the second upload's version", detail.Order)
	}
	if len(detail.Items) != 1 || detail.Items[0].Quantity.N != 4 {
		t.Errorf("items = %+v, want only ITEM-1 x4", detail.Items)
	}

	byUpload, total, err := s.ListOrders(ctx, core.OrderFilter{Page: core.Page{Limit: 10}, UploadID: first})
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if total != 0 || len(byUpload) != 0 {
		t.Errorf("first upload still owns %d orders", total)
	}
}

func TestSQLiteStore_Maintenance(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	stale := newUpload(t, s, now.Add(-3*time.Hour))
	fresh := newUpload(t, s, now)
	old := newUpload(t, s, now.Add(-100*24*time.Hour))
	if err := s.CompleteUpload(ctx, old, extract.Counts{}, now.Add(-100*24*time.Hour)); err != nil {
		t.Fatalf("CompleteUpload() error = %v", err)
	}

	n, err := s.FailStaleUploads(ctx, now.Add(-time.Hour), "processing timed out")
	if err != nil {
		t.Fatalf("FailStaleUploads() error = %v", err)
	}
	if n != 1 {
		t.Errorf("FailStaleUploads() = %d, want 1", n)
	}
	got, _ := s.GetUpload(ctx, stale)
	if got.Status != core.StatusFailed || got.ErrorCode != "UPL006" {
		t.Errorf("stale upload = %+v", got)
	}
	if got, _ := s.GetUpload(ctx, fresh); got.Status != core.StatusPending {
		t.Errorf("fresh upload status = %s", got.Status)
	}

	n, err = s.DeleteUploadsBefore(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteUploadsBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteUploadsBefore() = %d, want 1", n)
	}

	list, total, err := s.ListUploads(ctx, core.Page{Limit: 10})
	if err != nil {
		t.Fatalf("ListUploads() error = %v", err)
	}
	if total != 2 || len(list) != 2 || list[0].ID != fresh {
		t.Errorf("ListUploads() = %+v (total %d)", list, total)
	}
}
