package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const uploadColumns = `id, file_url, filename, status, created_at, completed_at, error_message, error_code, total_orders, total_items, warnings`

func scanUpload(row interface{ Scan(...any) error }) (Upload, error) {
	var i Upload
	err := row.Scan(
		&i.ID,
		&i.FileUrl,
		&i.Filename,
		&i.Status,
		&i.CreatedAt,
		&i.CompletedAt,
		&i.ErrorMessage,
		&i.ErrorCode,
		&i.TotalOrders,
		&i.TotalItems,
		&i.Warnings,
	)
	return i, err
}

const createUpload = `-- name: CreateUpload :exec
INSERT INTO uploads (id, file_url, filename, status, created_at)
VALUES ($1, $2, $3, $4, $5)
`

type CreateUploadParams struct {
	ID        pgtype.UUID
	FileUrl   pgtype.Text
	Filename  string
	Status    string
	CreatedAt pgtype.Timestamptz
}

func (q *Queries) CreateUpload(ctx context.Context, arg CreateUploadParams) error {
	_, err := q.db.Exec(ctx, createUpload,
		arg.ID,
		arg.FileUrl,
		arg.Filename,
		arg.Status,
		arg.CreatedAt,
	)
	return err
}

const setUploadStatus = `-- name: SetUploadStatus :execrows
UPDATE uploads SET status = $2
WHERE id = $1 AND status NOT IN ('completed', 'failed')
`

func (q *Queries) SetUploadStatus(ctx context.Context, id pgtype.UUID, status string) (int64, error) {
	result, err := q.db.Exec(ctx, setUploadStatus, id, status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const completeUpload = `-- name: CompleteUpload :execrows
UPDATE uploads
SET status = 'completed', completed_at = $2, total_orders = $3, total_items = $4, warnings = $5,
    error_message = NULL, error_code = NULL
WHERE id = $1
`

type CompleteUploadParams struct {
	ID          pgtype.UUID
	CompletedAt pgtype.Timestamptz
	TotalOrders int32
	TotalItems  int32
	Warnings    int32
}

func (q *Queries) CompleteUpload(ctx context.Context, arg CompleteUploadParams) (int64, error) {
	result, err := q.db.Exec(ctx, completeUpload,
		arg.ID,
		arg.CompletedAt,
		arg.TotalOrders,
		arg.TotalItems,
		arg.Warnings,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const failUpload = `-- name: FailUpload :execrows
UPDATE uploads
SET status = 'failed', completed_at = $2, error_message = $3, error_code = $4
WHERE id = $1
`

type FailUploadParams struct {
	ID           pgtype.UUID
	CompletedAt  pgtype.Timestamptz
	ErrorMessage pgtype.Text
	ErrorCode    pgtype.Text
}

func (q *Queries) FailUpload(ctx context.Context, arg FailUploadParams) (int64, error) {
	result, err := q.db.Exec(ctx, failUpload,
		arg.ID,
		arg.CompletedAt,
		arg.ErrorMessage,
		arg.ErrorCode,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getUpload = `-- name: GetUpload :one
SELECT ` + uploadColumns + ` FROM uploads WHERE id = $1
`

func (q *Queries) GetUpload(ctx context.Context, id pgtype.UUID) (Upload, error) {
	return scanUpload(q.db.QueryRow(ctx, getUpload, id))
}

const listUploads = `-- name: ListUploads :many
SELECT ` + uploadColumns + ` FROM uploads
ORDER BY created_at DESC, id
LIMIT $1 OFFSET $2
`

func (q *Queries) ListUploads(ctx context.Context, limit, offset int32) ([]Upload, error) {
	rows, err := q.db.Query(ctx, listUploads, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Upload
	for rows.Next() {
		i, err := scanUpload(rows)
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

const countUploads = `-- name: CountUploads :one
SELECT count(*) FROM uploads
`

func (q *Queries) CountUploads(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countUploads).Scan(&count)
	return count, err
}

const countUploadsByStatus = `-- name: CountUploadsByStatus :many
SELECT status, count(*) FROM uploads GROUP BY status
`

type CountUploadsByStatusRow struct {
	Status string
	Count  int64
}

func (q *Queries) CountUploadsByStatus(ctx context.Context) ([]CountUploadsByStatusRow, error) {
	rows, err := q.db.Query(ctx, countUploadsByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountUploadsByStatusRow
	for rows.Next() {
		var i CountUploadsByStatusRow
		if err := rows.Scan(&i.Status, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const failStaleUploads = `-- name: FailStaleUploads :execrows
UPDATE uploads
SET status = 'failed', completed_at = $3, error_message = $2, error_code = 'UPL006'
WHERE status IN ('pending', 'processing') AND created_at < $1
`

func (q *Queries) FailStaleUploads(ctx context.Context, cutoff pgtype.Timestamptz, msg pgtype.Text, at pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, failStaleUploads, cutoff, msg, at)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteUploadsBefore = `-- name: DeleteUploadsBefore :execrows
DELETE FROM uploads
WHERE status IN ('completed', 'failed') AND created_at < $1
`

func (q *Queries) DeleteUploadsBefore(ctx context.Context, cutoff pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, deleteUploadsBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
