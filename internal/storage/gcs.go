package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"cloud.google.com/go/storage"
)

var bucketName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,61}[a-z0-9]$`)

// ParseGCS splits gs://bucket/path/to/file into bucket and object name.
func ParseGCS(ref string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(ref, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q must start with gs://", ErrInvalidRef, ref)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("%w: %q must have the form gs://bucket/path/to/file", ErrInvalidRef, ref)
	}
	if !bucketName.MatchString(bucket) {
		return "", "", fmt.Errorf("%w: bad bucket name %q", ErrInvalidRef, bucket)
	}
	return bucket, object, nil
}

// GCS opens objects from Google Cloud Storage. Credentials come from the
// environment (GOOGLE_APPLICATION_CREDENTIALS or the metadata server).
type GCS struct {
	client *storage.Client

	// bucket, when set, is the only bucket references may name.
	bucket string
}

func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Validate(ref string) error {
	_, _, err := g.parse(ref)
	return err
}

func (g *GCS) parse(ref string) (bucket, object string, err error) {
	bucket, object, err = ParseGCS(ref)
	if err != nil {
		return "", "", err
	}
	if g.bucket != "" && bucket != g.bucket {
		return "", "", fmt.Errorf("%w: bucket %q is not allowed", ErrInvalidRef, bucket)
	}
	return bucket, object, nil
}

func (g *GCS) Open(ctx context.Context, ref string) (*Object, error) {
	bucket, object, err := g.parse(ref)
	if err != nil {
		return nil, err
	}

	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return &Object{ReadCloser: rc, Name: path.Base(object), Size: rc.Attrs.Size}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
