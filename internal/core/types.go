package core

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/orderimport/internal/extract"
)

// ErrNotFound is returned by stores when a requested upload or order does not exist.
var ErrNotFound = errors.New("not found")

// UploadStatus is the lifecycle state of an upload run.
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusProcessing UploadStatus = "processing"
	StatusCompleted  UploadStatus = "completed"
	StatusFailed     UploadStatus = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []UploadStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Terminal reports whether no further transition is expected.
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Upload is one extraction run and its outcome.
type Upload struct {
	ID           uuid.UUID    `json:"upload_id"`
	FileURL      string       `json:"file_url,omitempty"`
	Filename     string       `json:"filename"`
	Status       UploadStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ErrorCode    string       `json:"error_code,omitempty"`
	TotalOrders  int          `json:"total_orders"`
	TotalItems   int          `json:"total_items"`
	Warnings     int          `json:"warnings"`
}

// StoredOrder is an order as persisted, with the upload that last wrote it.
type StoredOrder struct {
	extract.OrderRecord
	UploadID uuid.UUID `json:"upload_id"`
}

// OrderDetail is an order with its items and totals.
type OrderDetail struct {
	Order  StoredOrder          `json:"order"`
	Items  []extract.ItemRecord `json:"items"`
	Totals *extract.OrderTotals `json:"totals,omitempty"`
}

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	// MaxOffset keeps offsets within the int32 range the stores bind.
	MaxOffset = math.MaxInt32 - MaxPageSize
)

// Normalize clamps the page to valid bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	p.Offset = min(max(p.Offset, 0), MaxOffset)
	return p
}

// OrderFilter narrows an order listing.
type OrderFilter struct {
	Page
	UploadID uuid.UUID // zero means any upload
}

// Counts summarizes stored data.
type Counts struct {
	Orders  int64                  `json:"orders"`
	Items   int64                  `json:"items"`
	Uploads map[UploadStatus]int64 `json:"uploads"`
}

// StatusSink records upload lifecycle transitions.
type StatusSink interface {
	CreateUpload(ctx context.Context, u Upload) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	CompleteUpload(ctx context.Context, id uuid.UUID, counts extract.Counts, at time.Time) error
	FailUpload(ctx context.Context, id uuid.UUID, msg, code string, at time.Time) error
}

// RecordSink persists extraction results. Orders, items and totals are
// upserted by identifier; an order's items are replaced as a whole.
type RecordSink interface {
	SaveResult(ctx context.Context, uploadID uuid.UUID, res *extract.Result) error
}

// Store is everything the service needs from persistence.
type Store interface {
	StatusSink
	RecordSink

	GetUpload(ctx context.Context, id uuid.UUID) (Upload, error)
	ListUploads(ctx context.Context, p Page) ([]Upload, int64, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]StoredOrder, int64, error)
	GetOrder(ctx context.Context, orderID string) (*OrderDetail, error)
	Counts(ctx context.Context) (Counts, error)

	// FailStaleUploads marks runs still pending or processing that were
	// created before cutoff as failed.
	FailStaleUploads(ctx context.Context, cutoff time.Time, msg string) (int64, error)

	// DeleteUploadsBefore removes finished runs created before cutoff. Orders
	// they wrote are kept.
	DeleteUploadsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
