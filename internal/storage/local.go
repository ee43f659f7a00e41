package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local opens file:// references relative to a root directory. References
// cannot leave the root.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", abs)
	}
	return &Local{root: abs}, nil
}

// Resolve maps a file:// reference to a path under the root.
func (l *Local) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("%w: %q must start with file://", ErrInvalidRef, ref)
	}
	// file://orders/a.xlsx puts "orders" in Host.
	rel := filepath.FromSlash(strings.TrimPrefix(u.Host+u.Path, "/"))
	if rel == "" {
		return "", fmt.Errorf("%w: %q names no file", ErrInvalidRef, ref)
	}

	full := filepath.Join(l.root, rel)
	within, err := filepath.Rel(l.root, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the storage root", ErrInvalidRef, ref)
	}
	return full, nil
}

func (l *Local) Validate(ref string) error {
	_, err := l.Resolve(ref)
	return err
}

func (l *Local) Open(_ context.Context, ref string) (*Object, error) {
	p, err := l.Resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidRef, ref)
	}
	return &Object{ReadCloser: f, Name: filepath.Base(p), Size: info.Size()}, nil
}
