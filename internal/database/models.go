package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Upload struct {
	ID           pgtype.UUID
	FileUrl      pgtype.Text
	Filename     string
	Status       string
	CreatedAt    pgtype.Timestamptz
	CompletedAt  pgtype.Timestamptz
	ErrorMessage pgtype.Text
	ErrorCode    pgtype.Text
	TotalOrders  int32
	TotalItems   int32
	Warnings     int32
}

type Order struct {
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
	UpdatedAt           pgtype.Timestamptz
}

type OrderItem struct {
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

type OrderTotal struct {
	OrderID     string
	ItemCount   int32
	Gross       pgtype.Numeric
	Adjustments pgtype.Numeric
	Net         pgtype.Numeric
}
