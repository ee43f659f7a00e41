// Package storage resolves file references (gs:// objects and file:// paths)
// to readable spreadsheet bytes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	ErrInvalidRef        = errors.New("invalid file reference")
	ErrUnsupportedScheme = errors.New("unsupported file reference scheme")
	ErrNotFound          = errors.New("file not found")
	ErrTooLarge          = errors.New("file too large")
)

// Object is an opened file. Name is the base name used for format detection.
type Object struct {
	io.ReadCloser
	Name string
	Size int64
}

// Opener resolves a file reference.
type Opener interface {
	Open(ctx context.Context, ref string) (*Object, error)
}

// Validator checks a reference without opening it.
type Validator interface {
	Validate(ref string) error
}

// Mux dispatches references to an Opener by scheme.
type Mux struct {
	openers map[string]Opener
}

func NewMux() *Mux {
	return &Mux{openers: make(map[string]Opener)}
}

// Handle registers o for scheme ("gs", "file").
func (m *Mux) Handle(scheme string, o Opener) {
	m.openers[strings.ToLower(scheme)] = o
}

// Schemes lists the registered schemes.
func (m *Mux) Schemes() []string {
	out := make([]string, 0, len(m.openers))
	for s := range m.openers {
		out = append(out, s)
	}
	return out
}

func (m *Mux) lookup(ref string) (Opener, error) {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrInvalidRef, ref)
	}
	o, ok := m.openers[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return o, nil
}

// Validate checks that ref names a registered scheme and, when the opener
// can tell, a well-formed location.
func (m *Mux) Validate(ref string) error {
	o, err := m.lookup(ref)
	if err != nil {
		return err
	}
	if v, ok := o.(Validator); ok {
		return v.Validate(ref)
	}
	return nil
}

func (m *Mux) Open(ctx context.Context, ref string) (*Object, error) {
	o, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}
	obj, err := o.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	slog.Debug("file opened", "ref", ref, "size", obj.Size)
	return obj, nil
}

// ReadAll reads and closes obj, failing with ErrTooLarge past limit bytes.
// A limit of zero or less reads everything.
func ReadAll(obj *Object, limit int64) ([]byte, error) {
	defer obj.Close()

	if err := CheckSize(obj.Size, limit); err != nil {
		return nil, err
	}
	r := io.Reader(obj)
	if limit > 0 {
		r = io.LimitReader(obj, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", obj.Name, err)
	}
	if err := CheckSize(int64(len(data)), limit); err != nil {
		return nil, err
	}
	return data, nil
}

// CheckSize fails with ErrTooLarge when size exceeds a positive limit.
func CheckSize(size, limit int64) error {
	if limit <= 0 || size <= limit {
		return nil
	}
	return fmt.Errorf("%w: %s exceeds the %s limit", ErrTooLarge,
		humanize.Bytes(uint64(size)), humanize.Bytes(uint64(limit)))
}
