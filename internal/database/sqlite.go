package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/orderimport/internal/core"
	"github.com/JonMunkholm/orderimport/internal/extract"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// Instants are stored as fixed-width UTC text so they compare lexically.
const (
	sqliteInstant  = "2006-01-02T15:04:05.000000000Z"
	sqliteDateTime = "2006-01-02T15:04:05"
)

// SQLiteStore is a file-backed core.Store for offline use and tests.
type SQLiteStore struct {
	db *sql.DB
}

var _ core.Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{`PRAGMA foreign_keys = ON`, `PRAGMA busy_timeout = 5000`, sqliteSchemaSQL} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateUpload(ctx context.Context, u core.Upload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, file_url, filename, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID.String(), nullString(u.FileURL), u.Filename, string(u.Status), instant(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "mark upload processing", id,
		`UPDATE uploads SET status = 'processing' WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		id.String())
}

func (s *SQLiteStore) CompleteUpload(ctx context.Context, id uuid.UUID, counts extract.Counts, at time.Time) error {
	return s.execOne(ctx, "complete upload", id,
		`UPDATE uploads SET status = 'completed', completed_at = ?, total_orders = ?, total_items = ?,
		 warnings = ?, error_message = NULL, error_code = NULL WHERE id = ?`,
		instant(at), counts.Orders, counts.Items, counts.Warnings, id.String())
}

func (s *SQLiteStore) FailUpload(ctx context.Context, id uuid.UUID, msg, code string, at time.Time) error {
	return s.execOne(ctx, "fail upload", id,
		`UPDATE uploads SET status = 'failed', completed_at = ?, error_message = ?, error_code = ? WHERE id = ?`,
		instant(at), nullString(msg), nullString(code), id.String())
}

func (s *SQLiteStore) execOne(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("upload %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, uploadID uuid.UUID, res *extract.Result) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			err = fmt.Errorf("save result: %w", err)
		}
	}()

	upsertOrder, err := tx.PrepareContext(ctx, `
		INSERT INTO orders (order_id, upload_id, order_type, salesperson, customer, customer_phone,
			customer_origin, closed_at, received_at, products_value, services_value, freight,
			other_expenses, interest, discount, net_value, cost, margin, external_salesperson,
			price_table, return_of, source_row, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO UPDATE SET
			upload_id = excluded.upload_id, order_type = excluded.order_type,
			salesperson = excluded.salesperson, customer = excluded.customer,
			customer_phone = excluded.customer_phone, customer_origin = excluded.customer_origin,
			closed_at = excluded.closed_at, received_at = excluded.received_at,
			products_value = excluded.products_value, services_value = excluded.services_value,
			freight = excluded.freight, other_expenses = excluded.other_expenses,
			interest = excluded.interest, discount = excluded.discount, net_value = excluded.net_value,
			cost = excluded.cost, margin = excluded.margin,
			external_salesperson = excluded.external_salesperson, price_table = excluded.price_table,
			return_of = excluded.return_of, source_row = excluded.source_row,
			extracted_at = excluded.extracted_at`)
	if err != nil {
		return err
	}
	defer upsertOrder.Close()

	for _, o := range res.Orders {
		if _, err = upsertOrder.ExecContext(ctx,
			o.ID, nullUUID(uploadID), nullString(o.Type), nullString(o.Salesperson), nullString(o.Customer),
			nullString(o.CustomerPhone), nullString(o.CustomerOrigin), dateTime(o.ClosedAt), dateTime(o.ReceivedAt),
			o.ProductsValue, o.ServicesValue, o.Freight, o.OtherExpenses, o.Interest, o.Discount, o.NetValue,
			o.Cost, o.Margin, nullString(o.ExternalSalesperson), nullString(o.PriceTable), nullString(o.ReturnOf),
			o.SourceRow, instant(o.ExtractedAt),
		); err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, o.ID); err != nil {
			return fmt.Errorf("order %s items: %w", o.ID, err)
		}
	}

	insertItem, err := tx.PrepareContext(ctx, `
		INSERT INTO order_items (order_id, code, name, brand, promotion, quantity, unit_price,
			adjustment, subtotal, net_total, reported_total, cost, purchase_cost, margin,
			source_row, merged_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertItem.Close()

	for _, it := range res.Items {
		if _, err = insertItem.ExecContext(ctx,
			it.OrderID, it.Code, nullString(it.Name), nullString(it.Brand), nullString(it.Promotion),
			sql.NullInt64{Int64: it.Quantity.N, Valid: it.Quantity.Valid},
			it.UnitPrice, it.Adjustment, it.Subtotal, it.NetTotal, it.ReportedTotal, it.Cost,
			it.PurchaseCost, it.Margin, it.SourceRow, it.MergedRows,
		); err != nil {
			return fmt.Errorf("item %s/%s: %w", it.OrderID, it.Code, err)
		}
	}

	for _, t := range res.Totals {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_totals (order_id, item_count, gross, adjustments, net) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (order_id) DO UPDATE SET item_count = excluded.item_count, gross = excluded.gross,
				adjustments = excluded.adjustments, net = excluded.net`,
			t.OrderID, t.ItemCount, t.Gross, t.Adjustments, t.Net,
		); err != nil {
			return fmt.Errorf("totals %s: %w", t.OrderID, err)
		}
	}

	return tx.Commit()
}

const sqliteUploadColumns = `id, file_url, filename, status, created_at, completed_at, error_message,
	error_code, total_orders, total_items, warnings`

func scanSQLiteUpload(row interface{ Scan(...any) error }) (core.Upload, error) {
	var (
		u                          core.Upload
		status                     string
		fileURL, msg, code, doneAt sql.NullString
		createdAt                  string
	)
	err := row.Scan(&u.ID, &fileURL, &u.Filename, &status, &createdAt, &doneAt, &msg, &code,
		&u.TotalOrders, &u.TotalItems, &u.Warnings)
	if err != nil {
		return u, err
	}
	u.Status = core.UploadStatus(status)
	u.FileURL = fileURL.String
	u.ErrorMessage = msg.String
	u.ErrorCode = code.String
	if u.CreatedAt, err = time.Parse(sqliteInstant, createdAt); err != nil {
		return u, fmt.Errorf("created_at: %w", err)
	}
	if doneAt.Valid {
		t, err := time.Parse(sqliteInstant, doneAt.String)
		if err != nil {
			return u, fmt.Errorf("completed_at: %w", err)
		}
		u.CompletedAt = &t
	}
	return u, nil
}

func (s *SQLiteStore) GetUpload(ctx context.Context, id uuid.UUID) (core.Upload, error) {
	u, err := scanSQLiteUpload(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUploadColumns+` FROM uploads WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Upload{}, fmt.Errorf("upload %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Upload{}, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUploads(ctx context.Context, p core.Page) ([]core.Upload, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteUploadColumns+` FROM uploads ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list uploads: %w", err)
	}
	var out []core.Upload
	for rows.Next() {
		u, err := scanSQLiteUpload(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("list uploads: %w", err)
		}
		out = append(out, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list uploads: %w", err)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM uploads`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count uploads: %w", err)
	}
	return out, total, nil
}

const sqliteOrderColumns = `order_id, upload_id, order_type, salesperson, customer, customer_phone,
	customer_origin, closed_at, received_at, products_value, services_value, freight, other_expenses,
	interest, discount, net_value, cost, margin, external_salesperson, price_table, return_of,
	source_row, extracted_at`

func scanSQLiteOrder(row interface{ Scan(...any) error }) (core.StoredOrder, error) {
	var (
		o                                       core.StoredOrder
		upload                                  uuid.NullUUID
		typ, seller, customer, phone, origin    sql.NullString
		closed, received, extSeller, table, ret sql.NullString
		extractedAt                             string
	)
	err := row.Scan(&o.ID, &upload, &typ, &seller, &customer, &phone, &origin, &closed, &received,
		&o.ProductsValue, &o.ServicesValue, &o.Freight, &o.OtherExpenses, &o.Interest, &o.Discount,
		&o.NetValue, &o.Cost, &o.Margin, &extSeller, &table, &ret, &o.SourceRow, &extractedAt)
	if err != nil {
		return o, err
	}
	o.UploadID = upload.UUID
	o.Type, o.Salesperson, o.Customer = typ.String, seller.String, customer.String
	o.CustomerPhone, o.CustomerOrigin = phone.String, origin.String
	o.ExternalSalesperson, o.PriceTable, o.ReturnOf = extSeller.String, table.String, ret.String
	if o.ClosedAt, err = parseDateTime(closed); err != nil {
		return o, err
	}
	if o.ReceivedAt, err = parseDateTime(received); err != nil {
		return o, err
	}
	if o.ExtractedAt, err = time.Parse(sqliteInstant, extractedAt); err != nil {
		return o, fmt.Errorf("extracted_at: %w", err)
	}
	return o, nil
}

func (s *SQLiteStore) ListOrders(ctx context.Context, f core.OrderFilter) ([]core.StoredOrder, int64, error) {
	upload := nullUUID(f.UploadID)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteOrderColumns+` FROM orders WHERE (? IS NULL OR upload_id = ?)
		 ORDER BY extracted_at DESC, source_row, order_id LIMIT ? OFFSET ?`,
		upload, upload, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	var out []core.StoredOrder
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("list orders: %w", err)
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM orders WHERE (? IS NULL OR upload_id = ?)`, upload, upload).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	return out, total, nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*core.OrderDetail, error) {
	o, err := scanSQLiteOrder(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteOrderColumns+` FROM orders WHERE order_id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	detail := &core.OrderDetail{Order: o, Items: []extract.ItemRecord{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, code, name, brand, promotion, quantity, unit_price, adjustment, subtotal,
			net_total, reported_total, cost, purchase_cost, margin, source_row, merged_rows
		FROM order_items WHERE order_id = ? ORDER BY source_row, code`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	for rows.Next() {
		var (
			it                     extract.ItemRecord
			name, brand, promotion sql.NullString
			qty                    sql.NullInt64
		)
		if err := rows.Scan(&it.OrderID, &it.Code, &name, &brand, &promotion, &qty, &it.UnitPrice,
			&it.Adjustment, &it.Subtotal, &it.NetTotal, &it.ReportedTotal, &it.Cost, &it.PurchaseCost,
			&it.Margin, &it.SourceRow, &it.MergedRows); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list order items: %w", err)
		}
		it.Name, it.Brand, it.Promotion = name.String, brand.String, promotion.String
		it.Quantity = extract.Quantity{N: qty.Int64, Valid: qty.Valid}
		detail.Items = append(detail.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	var t extract.OrderTotals
	err = s.db.QueryRowContext(ctx,
		`SELECT order_id, item_count, gross, adjustments, net FROM order_totals WHERE order_id = ?`, orderID).
		Scan(&t.OrderID, &t.ItemCount, &t.Gross, &t.Adjustments, &t.Net)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("get order totals: %w", err)
	default:
		detail.Totals = &t
	}
	return detail, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (core.Counts, error) {
	c := core.Counts{Uploads: make(map[core.UploadStatus]int64, len(core.Statuses))}
	for _, st := range core.Statuses {
		c.Uploads[st] = 0
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM orders`).Scan(&c.Orders); err != nil {
		return c, fmt.Errorf("count orders: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM order_items`).Scan(&c.Items); err != nil {
		return c, fmt.Errorf("count items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM uploads GROUP BY status`)
	if err != nil {
		return c, fmt.Errorf("count uploads: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return c, fmt.Errorf("count uploads: %w", err)
		}
		c.Uploads[core.UploadStatus(status)] = n
	}
	return c, rows.Err()
}

func (s *SQLiteStore) FailStaleUploads(ctx context.Context, cutoff time.Time, msg string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET status = 'failed', completed_at = ?, error_message = ?, error_code = 'UPL006'
		 WHERE status IN ('pending', 'processing') AND created_at < ?`,
		instant(time.Now()), msg, instant(cutoff))
	if err != nil {
		return 0, fmt.Errorf("fail stale uploads: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteUploadsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM uploads WHERE status IN ('completed', 'failed') AND created_at < ?`, instant(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete uploads: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id uuid.UUID) sql.NullString {
	if id == uuid.Nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func instant(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(sqliteInstant), Valid: true}
}

func dateTime(dt extract.DateTime) sql.NullString {
	if !dt.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: dt.Time.Format(sqliteDateTime), Valid: true}
}

func parseDateTime(s sql.NullString) (extract.DateTime, error) {
	if !s.Valid {
		return extract.DateTime{}, nil
	}
	t, err := time.Parse(sqliteDateTime, s.String)
	if err != nil {
		return extract.DateTime{}, fmt.Errorf("date %q: %w", s.String, err)
	}
	return extract.DateTime{Time: t, Valid: true}, nil
}
