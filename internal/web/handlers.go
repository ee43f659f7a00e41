package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/orderimport/internal/core"
	"github.com/JonMunkholm/orderimport/internal/extract"
	"github.com/JonMunkholm/orderimport/internal/storage"
	"github.com/JonMunkholm/orderimport/internal/web/templates"
)

const maxJSONBody = 64 << 10

type processRequest struct {
	FileURL string `json:"file_url"`
}

type processResponse struct {
	Status   string    `json:"status"`
	UploadID uuid.UUID `json:"upload_id"`
}

type uploadsResponse struct {
	Uploads []core.Upload `json:"uploads"`
	Total   int64         `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
	Pages   int64         `json:"pages"`
}

type ordersResponse struct {
	Orders  []core.StoredOrder `json:"orders"`
	Total   int64              `json:"total"`
	Page    int                `json:"page"`
	PerPage int                `json:"per_page"`
	Pages   int64              `json:"pages"`
}

// handleProcessFile starts a run over a stored file.
func (s *Server) handleProcessFile(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.FileURL) == "" {
		s.respondError(w, r, fmt.Errorf("%w: file_url is required", storage.ErrInvalidRef), 0)
		return
	}

	id, err := s.service.ProcessFile(r.Context(), req.FileURL)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusAccepted, processResponse{Status: "processing_started", UploadID: id})
}

// handleUpload starts a run over a file sent in the request.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := readUploadedFile(w, r, s.cfg.Upload.MaxFileSize)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	id, err := s.service.ProcessUpload(r.Context(), name, data)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusAccepted, processResponse{Status: "processing_started", UploadID: id})
}

// handleExtract runs an extraction and returns the result without storing it.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	name, data, err := readUploadedFile(w, r, s.cfg.Upload.MaxFileSize)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	res, err := s.service.DryRun(r.Context(), name, data, parseBoolParam(r, "verbose"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "uploadID")
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	u, err := s.service.UploadStatus(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	p := parsePagination(r)
	uploads, total, err := s.service.ListUploads(r.Context(), p.window())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if uploads == nil {
		uploads = []core.Upload{}
	}
	writeJSON(w, http.StatusOK, uploadsResponse{
		Uploads: uploads,
		Total:   total,
		Page:    p.Page,
		PerPage: p.PerPage,
		Pages:   p.pages(total),
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	p := parsePagination(r)
	filter := core.OrderFilter{Page: p.window()}
	if v := r.URL.Query().Get("upload_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("upload_id %q: %w", v, core.ErrNotFound), http.StatusNotFound)
			return
		}
		filter.UploadID = id
	}

	orders, total, err := s.service.ListOrders(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if orders == nil {
		orders = []core.StoredOrder{}
	}
	writeJSON(w, http.StatusOK, ordersResponse{
		Orders:  orders,
		Total:   total,
		Page:    p.Page,
		PerPage: p.PerPage,
		Pages:   p.pages(total),
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := url.PathUnescape(chi.URLParam(r, "orderID"))
	if err != nil {
		orderID = chi.URLParam(r, "orderID")
	}

	detail, err := s.service.GetOrder(r.Context(), orderID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if detail.Items == nil {
		detail.Items = []extract.ItemRecord{}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.Counts(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formats":       s.service.Formats(),
		"max_file_size": s.cfg.Upload.MaxFileSize,
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// handleHealth reports database reachability and upload capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	body := map[string]any{
		"service": "orderimport",
		"uploads": s.service.UploadLimiterStatus(),
	}
	if err := s.service.Ping(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		body["database"] = core.MapError(err)
	}
	body["status"] = status
	writeJSON(w, code, body)
}

// handleDashboard renders the overview page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.service.Counts(ctx)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	uploads, _, err := s.service.ListUploads(ctx, core.Page{Limit: parseIntParam(r, "limit", 25)})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	limiter := s.service.UploadLimiterStatus()
	data := templates.DashboardData{
		Orders:        counts.Orders,
		Items:         counts.Items,
		Active:        limiter.Active,
		MaxConcurrent: limiter.MaxConcurrent,
		MaxFileSize:   s.cfg.Upload.MaxFileSize,
		Now:           time.Now(),
	}
	for _, st := range core.Statuses {
		data.Statuses = append(data.Statuses, templates.StatusCount{Status: string(st), Count: counts.Uploads[st]})
	}
	for _, f := range s.service.Formats() {
		data.Formats = append(data.Formats, string(f))
	}
	for _, u := range uploads {
		data.Uploads = append(data.Uploads, templates.UploadRow{
			ID:        u.ID.String(),
			Filename:  u.Filename,
			Status:    string(u.Status),
			CreatedAt: u.CreatedAt,
			Orders:    u.TotalOrders,
			Items:     u.TotalItems,
			Warnings:  u.Warnings,
			Error:     u.ErrorMessage,
			ErrorCode: u.ErrorCode,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Dashboard(data).Render(ctx, w); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}
