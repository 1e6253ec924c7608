package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	entryPrefix   = "e:"
	installedFile = "installed"
)

// VersionedStore is a leveldb-backed Store bound to a single cache version.
// Each version lives in its own directory under the root; rotation works by
// opening a new version and dropping every other directory. There is no
// per-entry TTL and no LRU, versions are evicted whole.
type VersionedStore struct {
	root    string
	version string
	db      *leveldb.DB
}

func Open(root, version string) (*VersionedStore, error) {
	if version == "" {
		return nil, fmt.Errorf("cache version must not be empty")
	}
	if strings.ContainsAny(version, `/\`) {
		return nil, fmt.Errorf("cache version %q must not contain path separators", version)
	}
	db, err := leveldb.OpenFile(filepath.Join(root, version), nil)
	if err != nil {
		return nil, fmt.Errorf("open cache store %s/%s: %w", root, version, err)
	}
	return &VersionedStore{
		root:    root,
		version: version,
		db:      db,
	}, nil
}

func (s *VersionedStore) Version() string {
	return s.version
}

func (s *VersionedStore) Close() error {
	return s.db.Close()
}

func (s *VersionedStore) Get(ctx context.Context, key string) (Entry, bool) {
	b, err := s.db.Get([]byte(entryPrefix+key), nil)
	if err != nil {
		return Entry{}, false
	}
	var ent Entry
	if err := decodeEntry(b, &ent); err != nil {
		return Entry{}, false
	}
	return ent, true
}

func (s *VersionedStore) Put(ctx context.Context, key string, ent Entry) error {
	b, err := encodeEntry(ent)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.db.Put([]byte(entryPrefix+key), b, nil); err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *VersionedStore) Delete(ctx context.Context, key string) error {
	return s.db.Delete([]byte(entryPrefix+key), nil)
}

func (s *VersionedStore) Keys(ctx context.Context) []string {
	it := s.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte(entryPrefix))))
	}
	sort.Strings(out)
	return out
}

// MarkInstalled records that the version's warm-up completed in full. The
// marker is a plain file next to the leveldb files so other processes can
// check it without opening the database.
func (s *VersionedStore) MarkInstalled() error {
	path := filepath.Join(s.root, s.version, installedFile)
	if err := os.WriteFile(path, []byte(s.version+"\n"), 0o644); err != nil {
		return fmt.Errorf("mark installed: %w", err)
	}
	return nil
}

func (s *VersionedStore) Installed() bool {
	return Installed(s.root, s.version)
}

func Installed(root, version string) bool {
	_, err := os.Stat(filepath.Join(root, version, installedFile))
	return err == nil
}

// Versions enumerates the version directories under root, oldest name first.
func Versions(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list cache versions: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// DropOtherVersions removes every version directory except current. This is
// the sole eviction mechanism the store supports.
func DropOtherVersions(root, current string) error {
	versions, err := Versions(root)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, v)); err != nil {
			return fmt.Errorf("drop cache version %s: %w", v, err)
		}
	}
	return nil
}

// Remove deletes a single version directory, installed or not.
func Remove(root, version string) error {
	if version == "" || strings.ContainsAny(version, `/\`) {
		return fmt.Errorf("refusing to remove cache version %q", version)
	}
	return os.RemoveAll(filepath.Join(root, version))
}

func encodeEntry(ent Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(b []byte, ent *Entry) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(ent)
}
