package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/orderimport/internal/config"
	"github.com/JonMunkholm/orderimport/internal/extract"
	"github.com/JonMunkholm/orderimport/internal/logging"
	"github.com/JonMunkholm/orderimport/internal/sheet"
	"github.com/JonMunkholm/orderimport/internal/storage"
)

// finishTimeout bounds the status write after a run fails, which uses a
// fresh context because the run's own may be done.
const finishTimeout = 10 * time.Second

// Service runs extractions and tracks their lifecycle.
type Service struct {
	store     Store
	files     storage.Opener
	extractor *extract.Extractor
	limiter   *UploadLimiter
	statuses  *cache.Cache
	cfg       *config.Config
	now       func() time.Time
}

// NewService builds a service over store. files resolves file URLs and may
// be nil when only direct uploads are accepted.
func NewService(store Store, files storage.Opener, cfg *config.Config) (*Service, error) {
	opts, err := ExtractorOptions(cfg.Extract)
	if err != nil {
		return nil, err
	}
	ttl := cfg.Upload.StatusCacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		store:     store,
		files:     files,
		extractor: extract.New(opts),
		limiter:   NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		statuses:  cache.New(ttl, 2*ttl),
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// ExtractorOptions converts extraction settings into extractor options.
func ExtractorOptions(c config.ExtractConfig) (extract.Options, error) {
	loc, err := extract.ParseLocale(c.Locale)
	if err != nil {
		return extract.Options{}, err
	}
	opts := extract.Options{
		Locale:           loc,
		OrderTypes:       c.OrderTypes,
		HeaderSearchRows: c.HeaderSearchRows,
		Verbose:          c.Verbose,
	}
	if c.SubtotalTolerance > 0 {
		opts.Tolerance = decimal.NewFromFloat(c.SubtotalTolerance)
	}
	return opts, nil
}

// Extractor returns the configured extractor.
func (s *Service) Extractor() *extract.Extractor {
	return s.extractor
}

// ProcessFile starts a run over the file at fileURL and returns its id.
// The reference is validated before the run is accepted.
func (s *Service) ProcessFile(ctx context.Context, fileURL string) (uuid.UUID, error) {
	fileURL = strings.TrimSpace(fileURL)
	if s.files == nil {
		return uuid.Nil, fmt.Errorf("%w: file references are disabled", storage.ErrUnsupportedScheme)
	}
	if v, ok := s.files.(storage.Validator); ok {
		if err := v.Validate(fileURL); err != nil {
			return uuid.Nil, err
		}
	}

	name := path.Base(fileURL)
	return s.start(ctx, fileURL, name, func(ctx context.Context) ([]byte, error) {
		obj, err := s.files.Open(ctx, fileURL)
		if err != nil {
			return nil, err
		}
		return storage.ReadAll(obj, s.cfg.Upload.MaxFileSize)
	})
}

// ProcessUpload starts a run over uploaded bytes and returns its id.
func (s *Service) ProcessUpload(ctx context.Context, filename string, data []byte) (uuid.UUID, error) {
	if err := s.checkSize(data); err != nil {
		return uuid.Nil, err
	}
	return s.start(ctx, "", filename, func(context.Context) ([]byte, error) {
		return data, nil
	})
}

// DryRun extracts data synchronously without storing anything.
func (s *Service) DryRun(ctx context.Context, filename string, data []byte, verbose bool) (*extract.Result, error) {
	if err := s.checkSize(data); err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ex := s.extractor
	if verbose {
		ex = ex.WithVerbose(true)
	}
	return ex.ExtractFile(bytes.NewReader(data), filename)
}

func (s *Service) checkSize(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty file")
	}
	return storage.CheckSize(int64(len(data)), s.cfg.Upload.MaxFileSize)
}

// UploadTimeout is the time one background run may take.
func (s *Service) UploadTimeout() time.Duration {
	if s.cfg.Upload.Timeout > 0 {
		return s.cfg.Upload.Timeout
	}
	return 10 * time.Minute
}

// start records a pending run and processes it in the background. The run
// holds a limiter slot until it finishes.
func (s *Service) start(ctx context.Context, fileURL, filename string, fetch func(context.Context) ([]byte, error)) (uuid.UUID, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return uuid.Nil, err
	}

	u := Upload{
		ID:        uuid.New(),
		FileURL:   fileURL,
		Filename:  filename,
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUpload(ctx, u); err != nil {
		s.limiter.Release()
		return uuid.Nil, fmt.Errorf("create upload: %w", err)
	}
	s.remember(u)

	base := logging.ContextWithRunID(context.Background(), u.ID.String())
	log := logging.WithFields(base, "filename", filename)
	log.Info("upload accepted", "file_url", fileURL)

	go func() {
		defer s.limiter.Release()

		runCtx, cancel := context.WithTimeout(base, s.UploadTimeout())
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in extraction run", "panic", r)
				s.fail(u, fmt.Errorf("internal error: %v", r))
			}
		}()
		s.run(runCtx, u, fetch, log)
	}()

	return u.ID, nil
}

func (s *Service) run(ctx context.Context, u Upload, fetch func(context.Context) ([]byte, error), log *slog.Logger) {
	start := time.Now()

	if err := s.store.MarkProcessing(ctx, u.ID); err != nil {
		s.fail(u, err)
		return
	}
	u.Status = StatusProcessing
	s.remember(u)

	data, err := fetch(ctx)
	if err != nil {
		s.fail(u, err)
		return
	}

	res, err := s.extractor.ExtractFile(bytes.NewReader(data), u.Filename)
	if err != nil {
		s.fail(u, err)
		return
	}
	if err := s.store.SaveResult(ctx, u.ID, res); err != nil {
		s.fail(u, fmt.Errorf("save result: %w", err))
		return
	}

	done := s.now().UTC()
	if err := s.store.CompleteUpload(ctx, u.ID, res.Counts, done); err != nil {
		s.fail(u, err)
		return
	}
	u.Status = StatusCompleted
	u.CompletedAt = &done
	u.TotalOrders, u.TotalItems, u.Warnings = res.Counts.Orders, res.Counts.Items, res.Counts.Warnings
	s.remember(u)

	log.Info("upload completed",
		"orders", res.Counts.Orders,
		"items", res.Counts.Items,
		"rows_read", res.Counts.RowsRead,
		"rows_skipped", res.Counts.RowsSkipped,
		"warnings", res.Counts.Warnings,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// fail records err as the run's outcome with its user message and code.
func (s *Service) fail(u Upload, err error) {
	msg := MapError(err)
	slog.Error("upload failed", "upload_id", u.ID, "code", msg.Code, "error", err)

	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	done := s.now().UTC()
	text := FormatUserError(err)
	if ferr := s.store.FailUpload(ctx, u.ID, text, msg.Code, done); ferr != nil {
		slog.Error("record upload failure", "upload_id", u.ID, "error", ferr)
	}
	u.Status = StatusFailed
	u.CompletedAt = &done
	u.ErrorMessage = text
	u.ErrorCode = msg.Code
	s.remember(u)
}

func (s *Service) remember(u Upload) {
	s.statuses.Set(u.ID.String(), u, cache.DefaultExpiration)
}

// UploadStatus returns a run's state, from memory when recently seen.
func (s *Service) UploadStatus(ctx context.Context, id uuid.UUID) (Upload, error) {
	if v, ok := s.statuses.Get(id.String()); ok {
		return v.(Upload), nil
	}
	u, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return Upload{}, err
	}
	if u.Status.Terminal() {
		s.remember(u)
	}
	return u, nil
}

func (s *Service) ListUploads(ctx context.Context, p Page) ([]Upload, int64, error) {
	return s.store.ListUploads(ctx, p.Normalize())
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter) ([]StoredOrder, int64, error) {
	f.Page = f.Page.Normalize()
	return s.store.ListOrders(ctx, f)
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderDetail, error) {
	return s.store.GetOrder(ctx, strings.TrimSpace(orderID))
}

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.store.Counts(ctx)
}

// Formats lists the spreadsheet formats that can be read.
func (s *Service) Formats() []sheet.Format {
	return sheet.Formats()
}

// Ping checks the store when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until accepted runs finish or ctx is done.
func (s *Service) WaitForUploads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
