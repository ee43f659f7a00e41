package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/orderimport/internal/core"
	"github.com/JonMunkholm/orderimport/internal/extract"
)

//go:embed schema.sql
var schemaSQL string

// DefaultBatchSize bounds the statements sent in one pgx batch.
const DefaultBatchSize = 500

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Store is the PostgreSQL implementation of core.Store.
type Store struct {
	pool      *pgxpool.Pool
	q         *Queries
	batchSize int
}

var _ core.Store = (*Store)(nil)

// NewStore returns a Store over pool. batchSize bounds each pgx batch.
func NewStore(pool *pgxpool.Pool, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{pool: pool, q: New(pool), batchSize: batchSize}
}

func (s *Store) CreateUpload(ctx context.Context, u core.Upload) error {
	err := s.q.CreateUpload(ctx, CreateUploadParams{
		ID:        ToPgUUID(u.ID),
		FileUrl:   ToPgText(u.FileURL),
		Filename:  u.Filename,
		Status:    string(u.Status),
		CreatedAt: ToPgTimestamptz(u.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

func (s *Store) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	n, err := s.q.SetUploadStatus(ctx, ToPgUUID(id), string(core.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark upload processing: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("upload %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) CompleteUpload(ctx context.Context, id uuid.UUID, counts extract.Counts, at time.Time) error {
	n, err := s.q.CompleteUpload(ctx, CompleteUploadParams{
		ID:          ToPgUUID(id),
		CompletedAt: ToPgTimestamptz(at),
		TotalOrders: int32(counts.Orders),
		TotalItems:  int32(counts.Items),
		Warnings:    int32(counts.Warnings),
	})
	if err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("upload %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *Store) FailUpload(ctx context.Context, id uuid.UUID, msg, code string, at time.Time) error {
	n, err := s.q.FailUpload(ctx, FailUploadParams{
		ID:           ToPgUUID(id),
		CompletedAt:  ToPgTimestamptz(at),
		ErrorMessage: ToPgText(msg),
		ErrorCode:    ToPgText(code),
	})
	if err != nil {
		return fmt.Errorf("fail upload: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("upload %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// SaveResult writes orders, then their items, then totals in one
// transaction, in batches of at most batchSize statements.
func (s *Store) SaveResult(ctx context.Context, uploadID uuid.UUID, res *extract.Result) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		b := &batcher{tx: tx, size: s.batchSize}

		for _, o := range res.Orders {
			if err := b.add(ctx, func(batch *pgx.Batch) { QueueUpsertOrder(batch, orderParams(uploadID, o)) }); err != nil {
				return err
			}
		}
		for _, o := range res.Orders {
			if err := b.add(ctx, func(batch *pgx.Batch) { QueueDeleteOrderItems(batch, o.ID) }); err != nil {
				return err
			}
		}
		for _, it := range res.Items {
			if err := b.add(ctx, func(batch *pgx.Batch) { QueueInsertOrderItem(batch, itemParams(it)) }); err != nil {
				return err
			}
		}
		for _, t := range res.Totals {
			if err := b.add(ctx, func(batch *pgx.Batch) { QueueUpsertOrderTotals(batch, totalsParams(t)) }); err != nil {
				return err
			}
		}
		return b.flush(ctx)
	})
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// batcher sends queued statements whenever size is reached.
type batcher struct {
	tx    pgx.Tx
	size  int
	batch pgx.Batch
}

func (b *batcher) add(ctx context.Context, queue func(*pgx.Batch)) error {
	queue(&b.batch)
	if b.batch.Len() >= b.size {
		return b.flush(ctx)
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if b.batch.Len() == 0 {
		return nil
	}
	err := b.tx.SendBatch(ctx, &b.batch).Close()
	b.batch = pgx.Batch{}
	return err
}

func (s *Store) GetUpload(ctx context.Context, id uuid.UUID) (core.Upload, error) {
	row, err := s.q.GetUpload(ctx, ToPgUUID(id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Upload{}, fmt.Errorf("upload %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Upload{}, fmt.Errorf("get upload: %w", err)
	}
	return uploadFromRow(row), nil
}

func (s *Store) ListUploads(ctx context.Context, p core.Page) ([]core.Upload, int64, error) {
	rows, err := s.q.ListUploads(ctx, int32(p.Limit), int32(p.Offset))
	if err != nil {
		return nil, 0, fmt.Errorf("list uploads: %w", err)
	}
	total, err := s.q.CountUploads(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count uploads: %w", err)
	}

	out := make([]core.Upload, len(rows))
	for i, r := range rows {
		out[i] = uploadFromRow(r)
	}
	return out, total, nil
}

func (s *Store) ListOrders(ctx context.Context, f core.OrderFilter) ([]core.StoredOrder, int64, error) {
	upload := ToPgUUID(f.UploadID)
	rows, err := s.q.ListOrders(ctx, ListOrdersParams{
		Limit:    int32(f.Limit),
		Offset:   int32(f.Offset),
		UploadID: upload,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	total, err := s.q.CountOrders(ctx, upload)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	out := make([]core.StoredOrder, len(rows))
	for i, r := range rows {
		out[i] = orderFromRow(r)
	}
	return out, total, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*core.OrderDetail, error) {
	row, err := s.q.GetOrder(ctx, orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := s.q.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	detail := &core.OrderDetail{Order: orderFromRow(row), Items: make([]extract.ItemRecord, len(items))}
	for i, it := range items {
		detail.Items[i] = itemFromRow(it)
	}

	totals, err := s.q.GetOrderTotals(ctx, orderID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("get order totals: %w", err)
	default:
		t := totalsFromRow(totals)
		detail.Totals = &t
	}
	return detail, nil
}

func (s *Store) Counts(ctx context.Context) (core.Counts, error) {
	var c core.Counts
	var err error
	if c.Orders, err = s.q.CountOrders(ctx, ToPgUUID(uuid.Nil)); err != nil {
		return c, fmt.Errorf("count orders: %w", err)
	}
	if c.Items, err = s.q.CountOrderItems(ctx); err != nil {
		return c, fmt.Errorf("count items: %w", err)
	}
	rows, err := s.q.CountUploadsByStatus(ctx)
	if err != nil {
		return c, fmt.Errorf("count uploads: %w", err)
	}
	c.Uploads = make(map[core.UploadStatus]int64, len(core.Statuses))
	for _, st := range core.Statuses {
		c.Uploads[st] = 0
	}
	for _, r := range rows {
		c.Uploads[core.UploadStatus(r.Status)] = r.Count
	}
	return c, nil
}

func (s *Store) FailStaleUploads(ctx context.Context, cutoff time.Time, msg string) (int64, error) {
	n, err := s.q.FailStaleUploads(ctx, ToPgTimestamptz(cutoff), ToPgText(msg), ToPgTimestamptz(time.Now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("fail stale uploads: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteUploadsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.q.DeleteUploadsBefore(ctx, ToPgTimestamptz(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete uploads: %w", err)
	}
	return n, nil
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func orderParams(uploadID uuid.UUID, o extract.OrderRecord) UpsertOrderParams {
	return UpsertOrderParams{
		OrderID:             o.ID,
		UploadID:            ToPgUUID(uploadID),
		OrderType:           ToPgText(o.Type),
		Salesperson:         ToPgText(o.Salesperson),
		Customer:            ToPgText(o.Customer),
		CustomerPhone:       ToPgText(o.CustomerPhone),
		CustomerOrigin:      ToPgText(o.CustomerOrigin),
		ClosedAt:            ToPgTimestamp(o.ClosedAt),
		ReceivedAt:          ToPgTimestamp(o.ReceivedAt),
		ProductsValue:       ToPgNumeric(o.ProductsValue),
		ServicesValue:       ToPgNumeric(o.ServicesValue),
		Freight:             ToPgNumeric(o.Freight),
		OtherExpenses:       ToPgNumeric(o.OtherExpenses),
		Interest:            ToPgNumeric(o.Interest),
		Discount:            ToPgNumeric(o.Discount),
		NetValue:            ToPgNumeric(o.NetValue),
		Cost:                ToPgNumeric(o.Cost),
		Margin:              ToPgNumeric(o.Margin),
		ExternalSalesperson: ToPgText(o.ExternalSalesperson),
		PriceTable:          ToPgText(o.PriceTable),
		ReturnOf:            ToPgText(o.ReturnOf),
		SourceRow:           int32(o.SourceRow),
		ExtractedAt:         ToPgTimestamptz(o.ExtractedAt),
	}
}

func itemParams(it extract.ItemRecord) InsertOrderItemParams {
	return InsertOrderItemParams{
		OrderID:       it.OrderID,
		Code:          it.Code,
		Name:          ToPgText(it.Name),
		Brand:         ToPgText(it.Brand),
		Promotion:     ToPgText(it.Promotion),
		Quantity:      ToPgInt8(it.Quantity),
		UnitPrice:     ToPgNumeric(it.UnitPrice),
		Adjustment:    ToPgNumeric(it.Adjustment),
		Subtotal:      ToPgNumeric(it.Subtotal),
		NetTotal:      ToPgNumeric(it.NetTotal),
		ReportedTotal: ToPgNumeric(it.ReportedTotal),
		Cost:          ToPgNumeric(it.Cost),
		PurchaseCost:  ToPgNumeric(it.PurchaseCost),
		Margin:        ToPgNumeric(it.Margin),
		SourceRow:     int32(it.SourceRow),
		MergedRows:    int32(it.MergedRows),
	}
}

func totalsParams(t extract.OrderTotals) OrderTotal {
	return OrderTotal{
		OrderID:     t.OrderID,
		ItemCount:   int32(t.ItemCount),
		Gross:       ToPgDecimal(t.Gross),
		Adjustments: ToPgDecimal(t.Adjustments),
		Net:         ToPgDecimal(t.Net),
	}
}

func uploadFromRow(r Upload) core.Upload {
	u := core.Upload{
		ID:           FromPgUUID(r.ID),
		FileURL:      FromPgText(r.FileUrl),
		Filename:     r.Filename,
		Status:       core.UploadStatus(r.Status),
		CreatedAt:    r.CreatedAt.Time,
		ErrorMessage: FromPgText(r.ErrorMessage),
		ErrorCode:    FromPgText(r.ErrorCode),
		TotalOrders:  int(r.TotalOrders),
		TotalItems:   int(r.TotalItems),
		Warnings:     int(r.Warnings),
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		u.CompletedAt = &t
	}
	return u
}

func orderFromRow(r Order) core.StoredOrder {
	return core.StoredOrder{
		OrderRecord: extract.OrderRecord{
			ID:                  r.OrderID,
			Type:                FromPgText(r.OrderType),
			Salesperson:         FromPgText(r.Salesperson),
			Customer:            FromPgText(r.Customer),
			CustomerPhone:       FromPgText(r.CustomerPhone),
			CustomerOrigin:      FromPgText(r.CustomerOrigin),
			ClosedAt:            FromPgTimestamp(r.ClosedAt),
			ReceivedAt:          FromPgTimestamp(r.ReceivedAt),
			ProductsValue:       FromPgNumeric(r.ProductsValue),
			ServicesValue:       FromPgNumeric(r.ServicesValue),
			Freight:             FromPgNumeric(r.Freight),
			OtherExpenses:       FromPgNumeric(r.OtherExpenses),
			Interest:            FromPgNumeric(r.Interest),
			Discount:            FromPgNumeric(r.Discount),
			NetValue:            FromPgNumeric(r.NetValue),
			Cost:                FromPgNumeric(r.Cost),
			Margin:              FromPgNumeric(r.Margin),
			ExternalSalesperson: FromPgText(r.ExternalSalesperson),
			PriceTable:          FromPgText(r.PriceTable),
			ReturnOf:            FromPgText(r.ReturnOf),
			SourceRow:           int(r.SourceRow),
			ExtractedAt:         r.ExtractedAt.Time,
		},
		UploadID: FromPgUUID(r.UploadID),
	}
}

func itemFromRow(r OrderItem) extract.ItemRecord {
	return extract.ItemRecord{
		OrderID:       r.OrderID,
		Code:          r.Code,
		Name:          FromPgText(r.Name),
		Brand:         FromPgText(r.Brand),
		Promotion:     FromPgText(r.Promotion),
		Quantity:      FromPgInt8(r.Quantity),
		UnitPrice:     FromPgNumeric(r.UnitPrice),
		Adjustment:    FromPgNumeric(r.Adjustment),
		Subtotal:      FromPgNumeric(r.Subtotal),
		NetTotal:      FromPgNumeric(r.NetTotal),
		ReportedTotal: FromPgNumeric(r.ReportedTotal),
		Cost:          FromPgNumeric(r.Cost),
		PurchaseCost:  FromPgNumeric(r.PurchaseCost),
		Margin:        FromPgNumeric(r.Margin),
		SourceRow:     int(r.SourceRow),
		MergedRows:    int(r.MergedRows),
	}
}

func totalsFromRow(r OrderTotal) extract.OrderTotals {
	return extract.OrderTotals{
		OrderID:     r.OrderID,
		ItemCount:   int(r.ItemCount),
		Gross:       FromPgNumeric(r.Gross).Decimal,
		Adjustments: FromPgNumeric(r.Adjustments).Decimal,
		Net:         FromPgNumeric(r.Net).Decimal,
	}
}
