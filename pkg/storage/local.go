package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/rowpack/pkg/rowerrors"
)

// LocalStore keeps objects as files under a root directory.
type LocalStore struct {
	root   string
	logger *zap.Logger
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore returns a store rooted at dir. The directory is created on
// the first Put.
func NewLocalStore(dir string, opts ...Option) *LocalStore {
	o := newOptions(opts)
	return &LocalStore{root: dir, logger: o.logger}
}

// Root returns the store's directory.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes r to a temporary file next to the target and renames it into
// place, so readers never observe a partial object.
func (s *LocalStore) Put(ctx context.Context, name string, r io.Reader) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeStorage, "failed to create directory").
			WithDetail("name", name)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-"+filepath.Base(p)+"-*")
	if err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeStorage, "failed to create temporary file").
			WithDetail("name", name)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return rowerrors.Wrap(err, rowerrors.ErrorTypeStorage, "failed to write object").
			WithDetail("name", name)
	}
	if err := tmp.Close(); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeStorage, "failed to close object").
			WithDetail("name", name)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeStorage, "failed to commit object").
			WithDetail("name", name)
	}

	s.logger.Debug("object stored", zap.String("name", name), zap.Int64("bytes", n))
	return nil
}

func (s *LocalStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p) //nolint:gosec // G304: path is confined to the store root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(name)
		}
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeStorage, "failed to open object").
			WithDetail("name", name)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return rowerrors.Wrap(err, rowerrors.ErrorTypeStorage, "failed to delete object").
			WithDetail("name", name)
	}
	return nil
}

// List walks the root directory. Temporary files left by interrupted puts
// are skipped.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == s.root {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, rowerrors.Wrap(err, rowerrors.ErrorTypeStorage, "failed to list objects").
			WithDetail("prefix", prefix)
	}
	sort.Strings(names)
	return names, nil
}
