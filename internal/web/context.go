package web

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/orderimport/internal/core"
	"github.com/JonMunkholm/orderimport/internal/storage"
)

// multipartOverhead is allowed on top of the file size for form fields and
// part headers.
const multipartOverhead = 1 << 20

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseBoolParam reads a boolean query or form value; anything unparsable is false.
func parseBoolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.FormValue(name))
	return b
}

// pagination is the page window requested by page and per_page.
type pagination struct {
	Page    int
	PerPage int
}

func parsePagination(r *http.Request) pagination {
	p := pagination{
		Page:    parseIntParam(r, "page", 1),
		PerPage: parseIntParam(r, "per_page", core.DefaultPageSize),
	}
	p.PerPage = min(p.PerPage, core.MaxPageSize)
	p.Page = min(p.Page, core.MaxOffset/p.PerPage+1)
	return p
}

func (p pagination) window() core.Page {
	return core.Page{Limit: p.PerPage, Offset: (p.Page - 1) * p.PerPage}
}

// pages is the number of pages needed for total rows.
func (p pagination) pages(total int64) int64 {
	if total == 0 {
		return 0
	}
	return (total + int64(p.PerPage) - 1) / int64(p.PerPage)
}

// parseUUIDParam reads a UUID URL parameter. Malformed ids are reported as
// not found since no such record can exist.
func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q: %w", name, chi.URLParam(r, name), core.ErrNotFound)
	}
	return id, nil
}

// readUploadedFile reads the "file" part of a multipart request, bounded by
// maxSize.
func readUploadedFile(w http.ResponseWriter, r *http.Request, maxSize int64) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, fmt.Errorf("%w: request body over %d bytes", storage.ErrTooLarge, maxErr.Limit)
		}
		return "", nil, fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errNoFile
	}
	name := filepath.Base(header.Filename)
	data, err := storage.ReadAll(&storage.Object{ReadCloser: file, Name: name, Size: header.Size}, maxSize)
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}
