// Package storage abstracts where encoded batch files live: a local directory
// or an S3 bucket.
//
// Object names are slash-separated and relative to the store's root. Names
// that would escape the root are rejected.
package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/rowpack/pkg/config"
	"github.com/ajitpratap0/rowpack/pkg/logger"
	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// ErrNotFound is the cause of storage errors for missing objects. Test with
// errors.Is.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of immutable objects.
type Store interface {
	// Put stores the contents of r under name, replacing any existing object.
	Put(ctx context.Context, name string, r io.Reader) error
	// Get opens the object under name. The caller closes the reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes the object under name. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

type options struct {
	logger *zap.Logger
}

// Option configures a store.
type Option func(*options)

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logger.OrNop(o.logger)
	return o
}

// Open returns the store described by cfg.URI: a directory path, file:///dir
// or s3://bucket/prefix.
func Open(ctx context.Context, cfg config.StorageConfig, opts ...Option) (Store, error) {
	u, err := url.Parse(cfg.URI)
	if err != nil {
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeConfig, "invalid storage uri").
			WithDetail("uri", cfg.URI)
	}
	switch u.Scheme {
	case "":
		return NewLocalStore(cfg.URI, opts...), nil
	case "file":
		return NewLocalStore(u.Path, opts...), nil
	case "s3":
		if u.Host == "" {
			return nil, rowerrors.New(rowerrors.ErrorTypeConfig, "s3 storage uri needs a bucket").
				WithDetail("uri", cfg.URI)
		}
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, u.Host, strings.Trim(u.Path, "/"), opts...), nil
	default:
		return nil, rowerrors.Newf(rowerrors.ErrorTypeConfig, "unsupported storage scheme %q", u.Scheme).
			WithDetail("uri", cfg.URI)
	}
}

// cleanName validates an object name and returns its canonical form.
func cleanName(name string) (string, error) {
	clean := path.Clean(name)
	if name == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", rowerrors.Newf(rowerrors.ErrorTypeStorage, "invalid object name %q", name)
	}
	return clean, nil
}

func notFound(name string) error {
	return rowerrors.Wrap(ErrNotFound, rowerrors.ErrorTypeStorage, "object not found").
		WithDetail("name", name)
}
