// Package blob implements the content-addressed object store backing image
// storage. Objects are written by logical path with metadata sidecars; the
// store itself knows nothing about catalog items or the image registry.
package blob

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/provender/shelfsync/pkg/errors"
)

// metaSuffix marks metadata sidecar files, which never count as objects.
const metaSuffix = ".meta.json"

// Metadata is recorded alongside every stored object.
type Metadata struct {
	OriginalFilename string    `json:"original_filename,omitempty"`
	UploadedAt       time.Time `json:"uploaded_at"`
	SHA256           string    `json:"sha256"`
	MD5              string    `json:"md5"`
	ContentType      string    `json:"content_type,omitempty"`
}

// Store is a filesystem-backed object store. The afero abstraction keeps the
// same code path for a real directory tree and the in-memory fs used by
// tests.
type Store struct {
	fs   afero.Fs
	root string
}

// New creates a store rooted at the given directory of fsys.
func New(fsys afero.Fs, root string) *Store {
	return &Store{fs: fsys, root: root}
}

// NewOSStore creates a store over the local filesystem.
func NewOSStore(root string) *Store {
	return New(afero.NewOsFs(), root)
}

// Put writes an object and its metadata sidecar. An existing object at the
// same path is overwritten; the logical path is the identity.
func (s *Store) Put(ctx context.Context, objectPath string, data []byte, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full := s.fullPath(objectPath)
	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return errors.WrapIO("create", path.Dir(objectPath), err)
	}

	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return errors.WrapIO("write", objectPath, err)
	}

	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return errors.WrapIO("write", objectPath+metaSuffix, err)
	}
	if err := afero.WriteFile(s.fs, full+metaSuffix, raw, 0o644); err != nil {
		return errors.WrapIO("write", objectPath+metaSuffix, err)
	}

	return nil
}

// Get reads an object's bytes.
func (s *Store) Get(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("object", objectPath)
		}
		return nil, errors.WrapIO("read", objectPath, err)
	}
	return data, nil
}

// Stat returns an object's metadata sidecar.
func (s *Store) Stat(ctx context.Context, objectPath string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	raw, err := afero.ReadFile(s.fs, s.fullPath(objectPath)+metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, errors.NewNotFoundError("object metadata", objectPath)
		}
		return Metadata{}, errors.WrapIO("read", objectPath, err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, errors.WrapIO("read", objectPath+metaSuffix, err)
	}
	return meta, nil
}

// Exists reports whether an object is present.
func (s *Store) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ok, err := afero.Exists(s.fs, s.fullPath(objectPath))
	if err != nil {
		return false, errors.WrapIO("stat", objectPath, err)
	}
	return ok, nil
}

// Delete removes an object and its sidecar. Deleting a missing object is
// idempotent.
func (s *Store) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full := s.fullPath(objectPath)
	if err := s.fs.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.WrapIO("delete", objectPath, err)
	}
	if err := s.fs.Remove(full + metaSuffix); err != nil && !os.IsNotExist(err) {
		return errors.WrapIO("delete", objectPath+metaSuffix, err)
	}
	return nil
}

// Walk enumerates every object path in the store, skipping metadata
// sidecars. This is the expensive full-store scan behind the orphaned-file
// check, so callers invoke it only on explicit request.
func (s *Store) Walk(ctx context.Context, fn func(objectPath string) error) error {
	return afero.Walk(s.fs, s.root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.WrapIO("walk", p, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || strings.HasSuffix(p, metaSuffix) {
			return nil
		}

		rel := strings.TrimPrefix(p, s.root)
		rel = strings.TrimPrefix(rel, "/")
		return fn(rel)
	})
}

func (s *Store) fullPath(objectPath string) string {
	return path.Join(s.root, objectPath)
}
