package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/orderimport/internal/config"
	"github.com/JonMunkholm/orderimport/internal/core"
	"github.com/JonMunkholm/orderimport/internal/database"
	"github.com/JonMunkholm/orderimport/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: 10 * time.Second},
		Upload: config.UploadConfig{
			MaxFileSize:    1 << 20,
			MaxConcurrent:  2,
			MaxWaitTime:    time.Second,
			Timeout:        time.Minute,
			StatusCacheTTL: time.Minute,
		},
		Extract: config.ExtractConfig{
			Locale:            "pt-BR",
			OrderTypes:        []string{"PED", "ACU", "DEV"},
			HeaderSearchRows:  30,
			SubtotalTolerance: 0.01,
		},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

type testServer struct {
	*Server
	root string
}

func newTestServer(t *testing.T, cfg *config.Config) testServer {
	t.Helper()
	store, err := database.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	local, err := storage.NewLocal(root)
	if err != nil {
		t.Fatal(err)
	}
	files := storage.NewMux()
	files.Handle("file", local)

	svc, err := core.NewService(store, files, cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.WaitForUploads(ctx)
	})
	return testServer{Server: NewServer(svc, cfg), root: root}
}

func (ts testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func (ts testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func orderWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"PED-001", "Venda", "João", "Cliente A", 10.5},
		{"", "ITEM-1", "Caneta", 2, 3.5},
		{"", "ITEM-1", "Caneta", 1, 3.5},
		{"PED-002", "Venda", "Maria", "Cliente B", 5},
		{"", "ITEM-2", "Lápis", 5, 1},
		{"Totais de vendas", "", "", "", 15.5},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (ts testServer) waitCompleted(t *testing.T, id string) core.Upload {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := ts.get(t, "/v1/uploads/"+id+"/status")
		if rec.Code != http.StatusOK {
			t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
		}
		u := decode[core.Upload](t, rec)
		if u.Status.Terminal() {
			return u
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("upload %s did not finish", id)
	return core.Upload{}
}

func TestUploadFlow(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, multipartRequest(t, "/v1/uploads", "pedidos.xlsx", orderWorkbook(t), nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload code = %d: %s", rec.Code, rec.Body)
	}
	started := decode[processResponse](t, rec)
	if started.Status != "processing_started" {
		t.Errorf("status = %q", started.Status)
	}

	u := ts.waitCompleted(t, started.UploadID.String())
	if u.Status != core.StatusCompleted || u.TotalOrders != 2 || u.Filename != "pedidos.xlsx" {
		t.Fatalf("upload = %+v", u)
	}

	rec = ts.get(t, "/v1/orders?upload_id="+started.UploadID.String())
	orders := decode[ordersResponse](t, rec)
	if orders.Total != 2 || len(orders.Orders) != 2 || orders.Pages != 1 || orders.PerPage != core.DefaultPageSize {
		t.Errorf("orders = %+v", orders)
	}

	rec = ts.get(t, "/v1/orders/PED-001")
	if rec.Code != http.StatusOK {
		t.Fatalf("order code = %d: %s", rec.Code, rec.Body)
	}
	var detail struct {
		Order struct {
			ID string `json:"order_id"`
		} `json:"order"`
		Items []struct {
			Code       string `json:"code"`
			MergedRows int    `json:"merged_rows"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Order.ID != "PED-001" || len(detail.Items) != 1 || detail.Items[0].MergedRows != 2 {
		t.Errorf("detail = %+v", detail)
	}

	rec = ts.get(t, "/v1/uploads?page=1&per_page=10")
	list := decode[uploadsResponse](t, rec)
	if list.Total != 1 || list.PerPage != 10 || len(list.Uploads) != 1 {
		t.Errorf("uploads = %+v", list)
	}

	counts := decode[core.Counts](t, ts.get(t, "/v1/counts"))
	if counts.Orders != 2 || counts.Items != 2 || counts.Uploads[core.StatusCompleted] != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestListPageBeyondRange(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get(t, "/v1/uploads?page=9223372036854775807")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	list := decode[uploadsResponse](t, rec)
	if len(list.Uploads) != 0 || list.Page != core.MaxOffset/core.DefaultPageSize+1 {
		t.Errorf("uploads = %+v", list)
	}

	rec = ts.get(t, "/v1/orders?page=99999999&per_page=500")
	if rec.Code != http.StatusOK {
		t.Fatalf("orders code = %d: %s", rec.Code, rec.Body)
	}
}

func TestProcessFile(t *testing.T) {
	ts := newTestServer(t, testConfig())
	if err := os.WriteFile(filepath.Join(ts.root, "pedidos.xlsx"), orderWorkbook(t), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads/process", strings.NewReader(`{"file_url":"file:///pedidos.xlsx"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(t, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	u := ts.waitCompleted(t, decode[processResponse](t, rec).UploadID.String())
	if u.Status != core.StatusCompleted || u.FileURL != "file:///pedidos.xlsx" {
		t.Errorf("upload = %+v", u)
	}
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t, testConfig())

	jsonPost := func(path, body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantErr  string
	}{
		{"malformed json", jsonPost("/v1/uploads/process", `{"file_url":`), http.StatusBadRequest, "REQ001"},
		{"missing file_url", jsonPost("/v1/uploads/process", `{}`), http.StatusUnprocessableEntity, "FILE007"},
		{"unknown scheme", jsonPost("/v1/uploads/process", `{"file_url":"s3://b/a.xlsx"}`), http.StatusUnprocessableEntity, "FILE007"},
		{"path escape", jsonPost("/v1/uploads/process", `{"file_url":"file:///../a.xlsx"}`), http.StatusUnprocessableEntity, "FILE007"},
		{"no file part", multipartRequest(t, "/v1/uploads", "", nil, map[string]string{"x": "1"}), http.StatusBadRequest, "FILE004"},
		{"empty file", multipartRequest(t, "/v1/uploads", "a.xlsx", nil, nil), http.StatusBadRequest, "FILE005"},
		{"unknown upload", httptest.NewRequest(http.MethodGet, "/v1/uploads/9b2f6c1e-4a1d-4a5e-8f00-000000000000/status", nil), http.StatusNotFound, "UPL003"},
		{"malformed upload id", httptest.NewRequest(http.MethodGet, "/v1/uploads/abc/status", nil), http.StatusNotFound, "UPL003"},
		{"unknown order", httptest.NewRequest(http.MethodGet, "/v1/orders/PED-404", nil), http.StatusNotFound, "UPL003"},
		{"dry run of csv", multipartRequest(t, "/v1/extract", "a.csv", []byte("a;b\n"), nil), http.StatusUnprocessableEntity, "FILE002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.req)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Code != tt.wantErr || resp.Message == "" {
				t.Errorf("response = %+v, want code %s", resp, tt.wantErr)
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxFileSize = 64
	ts := newTestServer(t, cfg)

	rec := ts.do(t, multipartRequest(t, "/v1/uploads", "a.xlsx", make([]byte, 128), nil))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "FILE001" {
		t.Errorf("code = %s, want FILE001", resp.Code)
	}
}

func TestExtract(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, multipartRequest(t, "/v1/extract", "pedidos.xlsx", orderWorkbook(t), map[string]string{"verbose": "true"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	var res struct {
		Counts struct {
			Orders int `json:"orders"`
			Items  int `json:"items"`
		} `json:"counts"`
		Log []string `json:"log"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Counts.Orders != 2 || res.Counts.Items != 2 || len(res.Log) == 0 {
		t.Errorf("result = %+v", res)
	}

	counts := decode[core.Counts](t, ts.get(t, "/v1/counts"))
	if counts.Orders != 0 {
		t.Errorf("dry run stored %d orders", counts.Orders)
	}
}

func TestHealthAndPing(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health code = %d: %s", rec.Code, rec.Body)
	}
	health := decode[map[string]any](t, rec)
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}

	rec = ts.get(t, "/ping")
	if got := decode[map[string]string](t, rec)["message"]; got != "pong" {
		t.Errorf("ping message = %q", got)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, multipartRequest(t, "/v1/uploads", "<pedidos>.xlsx", orderWorkbook(t), nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload code = %d", rec.Code)
	}
	ts.waitCompleted(t, decode[processResponse](t, rec).UploadID.String())

	rec = ts.get(t, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	body, _ := io.ReadAll(rec.Body)
	page := string(body)
	if !strings.Contains(page, "&lt;pedidos&gt;.xlsx") || strings.Contains(page, "<pedidos>") {
		t.Error("file name should be rendered escaped")
	}
	if !strings.Contains(page, "completed") || !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("unexpected dashboard page: %s", page)
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("CSP header missing")
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"k1"}
	ts := newTestServer(t, cfg)

	if rec := ts.get(t, "/v1/counts"); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key code = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/counts", nil)
	req.Header.Set("X-API-Key", "k1")
	if rec := ts.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("valid key code = %d", rec.Code)
	}

	if rec := ts.get(t, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health should not need a key, code = %d", rec.Code)
	}
}

func TestUploadRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	ts := newTestServer(t, cfg)

	first := ts.do(t, multipartRequest(t, "/v1/extract", "pedidos.xlsx", orderWorkbook(t), nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first code = %d: %s", first.Code, first.Body)
	}
	second := ts.do(t, multipartRequest(t, "/v1/extract", "pedidos.xlsx", orderWorkbook(t), nil))
	if second.Code != http.StatusTooManyRequests || second.Header().Get("Retry-After") == "" {
		t.Errorf("second code = %d, Retry-After %q", second.Code, second.Header().Get("Retry-After"))
	}

	// Reads use the general limit.
	if rec := ts.get(t, "/v1/counts"); rec.Code != http.StatusOK {
		t.Errorf("counts code = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrTooManyUploads, http.StatusServiceUnavailable},
		{storage.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{storage.ErrNotFound, http.StatusNotFound},
		{errNoFile, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
