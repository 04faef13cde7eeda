// SPDX-License-Identifier: MPL-2.0

package layercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/runner-service/envprov/pkg/recipe"
)

const (
	entryExt  = ".json"
	tmpPrefix = ".tmp-"
)

// FileStore keeps one JSON file per entry:
//
//	{dir}/
//	  {key[0:2]}/
//	    {key}.json
//
// Entries are written to a temp file in the shard directory and hard-linked
// to their final name. Linking fails if the name exists, which makes the
// first writer win without locks.
type FileStore struct {
	dir    string
	logger *log.Logger
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first write. A nil logger discards output.
func NewFileStore(dir string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &FileStore{dir: dir, logger: logger}
}

// Dir returns the root directory of the store.
func (s *FileStore) Dir() string { return s.dir }

// Get returns the entry for key. Unreadable or corrupt entries are reported
// as ErrNotFound so that the step is rebuilt.
func (s *FileStore) Get(ctx context.Context, key recipe.StepKey) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := key.Validate(); err != nil {
		return Entry{}, err
	}

	e, err := s.read(s.entryPath(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Entry{}, ErrNotFound
	case err != nil:
		s.logger.Warn("ignoring corrupt cache entry", "key", key.Short(), "err", err)
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// PutIfAbsent stores e unless an entry for e.Key already exists.
func (s *FileStore) PutIfAbsent(ctx context.Context, e Entry) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if err := e.Validate(); err != nil {
		return Entry{}, false, fmt.Errorf("invalid cache entry: %w", err)
	}

	final := s.entryPath(e.Key)
	shard := filepath.Dir(final)
	if err := os.MkdirAll(shard, 0o755); err != nil {
		return Entry{}, false, fmt.Errorf("create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return Entry{}, false, fmt.Errorf("marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(shard, tmpPrefix+string(e.Key)+"-")
	if err != nil {
		return Entry{}, false, fmt.Errorf("create temp cache entry: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }() // the linked name keeps the data

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return Entry{}, false, fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Entry{}, false, fmt.Errorf("sync cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Entry{}, false, fmt.Errorf("close cache entry: %w", err)
	}

	err = os.Link(tmp.Name(), final)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return Entry{}, false, fmt.Errorf("commit cache entry: %w", err)
	}

	existing, rerr := s.read(final)
	if rerr == nil {
		return existing, false, nil
	}
	// The existing file is unreadable; replace it so the key recovers.
	s.logger.Warn("replacing corrupt cache entry", "key", e.Key.Short(), "err", rerr)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return Entry{}, false, fmt.Errorf("replace corrupt cache entry: %w", err)
	}
	return e, true, nil
}

// Delete removes the entry for key.
func (s *FileStore) Delete(ctx context.Context, key recipe.StepKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if err := os.Remove(s.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// List returns every readable entry, oldest first. A missing root directory
// yields an empty list.
func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.dir {
				return fs.SkipAll
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) || filepath.Ext(d.Name()) != entryExt {
			return nil
		}
		e, rerr := s.read(path)
		if rerr != nil {
			s.logger.Warn("skipping corrupt cache entry", "path", path, "err", rerr)
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	slices.SortStableFunc(entries, func(a, b Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return entries, nil
}

func (s *FileStore) entryPath(key recipe.StepKey) string {
	return filepath.Join(s.dir, string(key[:2]), string(key)+entryExt)
}

func (s *FileStore) read(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := e.Validate(); err != nil {
		return Entry{}, fmt.Errorf("validate %s: %w", filepath.Base(path), err)
	}
	return e, nil
}
