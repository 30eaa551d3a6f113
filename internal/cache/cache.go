// Package cache implements the on-disk block cache: a simple sequence of
// serialized block blobs keyed by height, at
// <cache_dir>/slp/<height/1000>/<height> (spec.md §6). Files are written
// once and never rewritten; directories are created on demand.
package cache

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/jcramer/slpgraphsearch/internal/rawblock"
)

// Store reads and writes cached blocks under a root directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (the configured cache.dir).
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the on-disk path for the block at height, without touching
// the filesystem.
func (s *Store) Path(height uint32) string {
	return filepath.Join(s.dir, "slp", strconv.Itoa(int(height/1000)), strconv.Itoa(int(height)))
}

// Load reads and decodes the cached block at height. The second return
// value is false if no cache file exists for that height (the normal signal
// to stop backfilling from cache and fall through to the upstream node,
// per spec.md §4.5 phase 1).
func (s *Store) Load(height uint32) (rawblock.Block, bool, error) {
	path := s.Path(height)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rawblock.Block{}, false, nil
		}
		return rawblock.Block{}, false, errors.Wrapf(err, "reading cache file %s", path)
	}

	block, err := rawblock.DecodeBlock(data)
	if err != nil {
		return rawblock.Block{}, false, errors.Wrapf(err, "decoding cache file %s", path)
	}
	return block, true, nil
}

// Save re-serializes block and writes it to its height's cache path,
// creating parent directories as needed.
func (s *Store) Save(height uint32, block rawblock.Block) error {
	path := s.Path(height)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating cache directory for height %d", height)
	}
	if err := os.WriteFile(path, rawblock.EncodeBlock(block), 0o644); err != nil {
		return errors.Wrapf(err, "writing cache file %s", path)
	}
	return nil
}
