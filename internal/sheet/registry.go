package sheet

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Reader reads the first worksheet of a workbook into rows.
type Reader interface {
	Format() Format
	ReadRows(src io.ReadSeeker) ([]Row, error)
}

var (
	registry   = make(map[Format]Reader)
	registryMu sync.RWMutex
)

func init() {
	Register(xlsxReader{})
	Register(xlsReader{})
	Register(odsReader{})
}

// Register adds a reader to the registry.
// Panics if a reader for the same format is already registered.
func Register(r Reader) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[r.Format()]; exists {
		panic(fmt.Sprintf("sheet reader already registered: %s", r.Format()))
	}
	registry[r.Format()] = r
}

// Lookup returns the reader for a format.
func Lookup(f Format) (Reader, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	r, ok := registry[f]
	return r, ok
}

// Formats returns all registered formats in sorted order.
func Formats() []Format {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Format, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseFormat resolves a format name or file extension ("xlsx", ".ods").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "xlsx", "xlsm":
		return FormatXLSX, nil
	case "xls":
		return FormatXLS, nil
	case "ods":
		return FormatODS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	odsMime   = []byte("application/vnd.oasis.opendocument.spreadsheet")
)

// Detect determines the format from the leading bytes of a file, falling
// back to the file name extension. ODS files store their mimetype as the
// first, uncompressed zip entry, which tells them apart from XLSX.
func Detect(name string, head []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(head, ole2Magic):
		return FormatXLS, nil
	case bytes.HasPrefix(head, zipMagic):
		if bytes.Contains(head, odsMime) {
			return FormatODS, nil
		}
		if f, err := ParseFormat(filepath.Ext(name)); err == nil && f != FormatXLS {
			return f, nil
		}
		return FormatXLSX, nil
	}
	if ext := filepath.Ext(name); ext != "" {
		if f, err := ParseFormat(ext); err == nil {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// DetectReader peeks at src to determine its format and rewinds it.
func DetectReader(src io.ReadSeeker, name string) (Format, error) {
	head := make([]byte, 128)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read header: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind: %w", err)
	}
	return Detect(name, head[:n])
}

// Read reads the first worksheet of src using the reader for format.
func Read(src io.ReadSeeker, format Format) ([]Row, error) {
	r, ok := Lookup(format)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	rows, err := r.ReadRows(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", format, err)
	}
	return rows, nil
}

// Open detects the format of src and reads its first worksheet.
func Open(src io.ReadSeeker, name string) (Format, []Row, error) {
	format, err := DetectReader(src, name)
	if err != nil {
		return "", nil, err
	}
	rows, err := Read(src, format)
	return format, rows, err
}
