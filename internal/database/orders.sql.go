package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const upsertOrder = `-- name: UpsertOrder :batchexec
INSERT INTO orders (
    order_id, upload_id, order_type, salesperson, customer, customer_phone, customer_origin,
    closed_at, received_at, products_value, services_value, freight, other_expenses, interest,
    discount, net_value, cost, margin, external_salesperson, price_table, return_of,
    source_row, extracted_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
    $21, $22, $23, now()
)
ON CONFLICT (order_id) DO UPDATE SET
    upload_id = EXCLUDED.upload_id,
    order_type = EXCLUDED.order_type,
    salesperson = EXCLUDED.salesperson,
    customer = EXCLUDED.customer,
    customer_phone = EXCLUDED.customer_phone,
    customer_origin = EXCLUDED.customer_origin,
    closed_at = EXCLUDED.closed_at,
    received_at = EXCLUDED.received_at,
    products_value = EXCLUDED.products_value,
    services_value = EXCLUDED.services_value,
    freight = EXCLUDED.freight,
    other_expenses = EXCLUDED.other_expenses,
    interest = EXCLUDED.interest,
    discount = EXCLUDED.discount,
    net_value = EXCLUDED.net_value,
    cost = EXCLUDED.cost,
    margin = EXCLUDED.margin,
    external_salesperson = EXCLUDED.external_salesperson,
    price_table = EXCLUDED.price_table,
    return_of = EXCLUDED.return_of,
    source_row = EXCLUDED.source_row,
    extracted_at = EXCLUDED.extracted_at,
    updated_at = now()
`

type UpsertOrderParams struct {
	OrderID             string
	UploadID            pgtype.UUID
	OrderType           pgtype.Text
	Salesperson         pgtype.Text
	Customer            pgtype.Text
	CustomerPhone       pgtype.Text
	CustomerOrigin      pgtype.Text
	ClosedAt            pgtype.Timestamp
	ReceivedAt          pgtype.Timestamp
	ProductsValue       pgtype.Numeric
	ServicesValue       pgtype.Numeric
	Freight             pgtype.Numeric
	OtherExpenses       pgtype.Numeric
	Interest            pgtype.Numeric
	Discount            pgtype.Numeric
	NetValue            pgtype.Numeric
	Cost                pgtype.Numeric
	Margin              pgtype.Numeric
	ExternalSalesperson pgtype.Text
	PriceTable          pgtype.Text
	ReturnOf            pgtype.Text
	SourceRow           int32
	ExtractedAt         pgtype.Timestamptz
}

// QueueUpsertOrder adds an order upsert to b.
func QueueUpsertOrder(b *pgx.Batch, arg UpsertOrderParams) {
	b.Queue(upsertOrder,
		arg.OrderID,
		arg.UploadID,
		arg.OrderType,
		arg.Salesperson,
		arg.Customer,
		arg.CustomerPhone,
		arg.CustomerOrigin,
		arg.ClosedAt,
		arg.ReceivedAt,
		arg.ProductsValue,
		arg.ServicesValue,
		arg.Freight,
		arg.OtherExpenses,
		arg.Interest,
		arg.Discount,
		arg.NetValue,
		arg.Cost,
		arg.Margin,
		arg.ExternalSalesperson,
		arg.PriceTable,
		arg.ReturnOf,
		arg.SourceRow,
		arg.ExtractedAt,
	)
}

const deleteOrderItems = `-- name: DeleteOrderItems :batchexec
DELETE FROM order_items WHERE order_id = $1
`

// QueueDeleteOrderItems adds the removal of an order's items to b.
func QueueDeleteOrderItems(b *pgx.Batch, orderID string) {
	b.Queue(deleteOrderItems, orderID)
}

const insertOrderItem = `-- name: InsertOrderItem :batchexec
INSERT INTO order_items (
    order_id, code, name, brand, promotion, quantity, unit_price, adjustment, subtotal,
    net_total, reported_total, cost, purchase_cost, margin, source_row, merged_rows
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

type InsertOrderItemParams struct {
	OrderID       string
	Code          string
	Name          pgtype.Text
	Brand         pgtype.Text
	Promotion     pgtype.Text
	Quantity      pgtype.Int8
	UnitPrice     pgtype.Numeric
	Adjustment    pgtype.Numeric
	Subtotal      pgtype.Numeric
	NetTotal      pgtype.Numeric
	ReportedTotal pgtype.Numeric
	Cost          pgtype.Numeric
	PurchaseCost  pgtype.Numeric
	Margin        pgtype.Numeric
	SourceRow     int32
	MergedRows    int32
}

// QueueInsertOrderItem adds an item insert to b.
func QueueInsertOrderItem(b *pgx.Batch, arg InsertOrderItemParams) {
	b.Queue(insertOrderItem,
		arg.OrderID,
		arg.Code,
		arg.Name,
		arg.Brand,
		arg.Promotion,
		arg.Quantity,
		arg.UnitPrice,
		arg.Adjustment,
		arg.Subtotal,
		arg.NetTotal,
		arg.ReportedTotal,
		arg.Cost,
		arg.PurchaseCost,
		arg.Margin,
		arg.SourceRow,
		arg.MergedRows,
	)
}

const upsertOrderTotals = `-- name: UpsertOrderTotals :batchexec
INSERT INTO order_totals (order_id, item_count, gross, adjustments, net)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (order_id) DO UPDATE SET
    item_count = EXCLUDED.item_count,
    gross = EXCLUDED.gross,
    adjustments = EXCLUDED.adjustments,
    net = EXCLUDED.net
`

// QueueUpsertOrderTotals adds a totals upsert to b.
func QueueUpsertOrderTotals(b *pgx.Batch, arg OrderTotal) {
	b.Queue(upsertOrderTotals, arg.OrderID, arg.ItemCount, arg.Gross, arg.Adjustments, arg.Net)
}

const orderColumns = `order_id, upload_id, order_type, salesperson, customer, customer_phone, customer_origin,
    closed_at, received_at, products_value, services_value, freight, other_expenses, interest,
    discount, net_value, cost, margin, external_salesperson, price_table, return_of,
    source_row, extracted_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.OrderID,
		&i.UploadID,
		&i.OrderType,
		&i.Salesperson,
		&i.Customer,
		&i.CustomerPhone,
		&i.CustomerOrigin,
		&i.ClosedAt,
		&i.ReceivedAt,
		&i.ProductsValue,
		&i.ServicesValue,
		&i.Freight,
		&i.OtherExpenses,
		&i.Interest,
		&i.Discount,
		&i.NetValue,
		&i.Cost,
		&i.Margin,
		&i.ExternalSalesperson,
		&i.PriceTable,
		&i.ReturnOf,
		&i.SourceRow,
		&i.ExtractedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1
`

func (q *Queries) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, orderID))
}

const listOrders = `-- name: ListOrders :many
SELECT ` + orderColumns + ` FROM orders
WHERE ($3::uuid IS NULL OR upload_id = $3)
ORDER BY extracted_at DESC, source_row, order_id
LIMIT $1 OFFSET $2
`

type ListOrdersParams struct {
	Limit    int32
	Offset   int32
	UploadID pgtype.UUID
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders, arg.Limit, arg.Offset, arg.UploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countOrders = `-- name: CountOrders :one
SELECT count(*) FROM orders WHERE ($1::uuid IS NULL OR upload_id = $1)
`

func (q *Queries) CountOrders(ctx context.Context, uploadID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOrders, uploadID).Scan(&count)
	return count, err
}

const countOrderItems = `-- name: CountOrderItems :one
SELECT count(*) FROM order_items
`

func (q *Queries) CountOrderItems(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOrderItems).Scan(&count)
	return count, err
}

const listOrderItems = `-- name: ListOrderItems :many
SELECT order_id, code, name, brand, promotion, quantity, unit_price, adjustment, subtotal,
       net_total, reported_total, cost, purchase_cost, margin, source_row, merged_rows
FROM order_items WHERE order_id = $1
ORDER BY source_row, code
`

func (q *Queries) ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItems, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(
			&i.OrderID,
			&i.Code,
			&i.Name,
			&i.Brand,
			&i.Promotion,
			&i.Quantity,
			&i.UnitPrice,
			&i.Adjustment,
			&i.Subtotal,
			&i.NetTotal,
			&i.ReportedTotal,
			&i.Cost,
			&i.PurchaseCost,
			&i.Margin,
			&i.SourceRow,
			&i.MergedRows,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getOrderTotals = `-- name: GetOrderTotals :one
SELECT order_id, item_count, gross, adjustments, net FROM order_totals WHERE order_id = $1
`

func (q *Queries) GetOrderTotals(ctx context.Context, orderID string) (OrderTotal, error) {
	var i OrderTotal
	err := q.db.QueryRow(ctx, getOrderTotals, orderID).Scan(
		&i.OrderID,
		&i.ItemCount,
		&i.Gross,
		&i.Adjustments,
		&i.Net,
	)
	return i, err
}
