package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	fileExt     = ".json"
	emptySubKey = "_"
)

// FileStore keeps one JSON envelope per key under a root directory:
// <root>/<kind>/<org>/<sub-key>.json. Writes go through a temp file and
// rename so readers never observe a partial record.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFile returns a Store rooted at dir, creating it if needed.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root %s: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) path(key Key) string {
	sub := key.SubKey
	if sub == "" {
		sub = emptySubKey
	}
	return filepath.Join(s.root, escapeSegment(key.Kind), escapeSegment(key.OrgID), escapeSegment(sub)+fileExt)
}

// escapeSegment makes a key component safe to use as a single path element.
func escapeSegment(s string) string {
	s = url.PathEscape(s)
	if strings.HasPrefix(s, ".") {
		s = "%2E" + s[1:]
	}
	return s
}

func (s *FileStore) Get(ctx context.Context, key Key) (*Object, error) {
	env, err := s.read(key)
	if err != nil {
		return nil, err
	}
	return &Object{Key: key, Data: []byte(env.Data), Version: env.Version, UpdatedAt: env.UpdatedAt}, nil
}

func (s *FileStore) read(key Key) (*envelope, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store: get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("store: decode envelope %s: %w", key, err)
	}
	return &env, nil
}

func (s *FileStore) Put(ctx context.Context, key Key, data []byte, expectVersion int64) (*Object, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("store: put %s: data is not valid JSON", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	existing, err := s.read(key)
	switch {
	case err == nil:
		current = existing.Version
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	if err := checkVersion(key, existing != nil, current, expectVersion); err != nil {
		return nil, err
	}

	env := envelope{Version: current + 1, UpdatedAt: time.Now().UTC(), Data: json.RawMessage(data)}
	encoded, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("store: encode envelope %s: %w", key, err)
	}
	if err := writeAtomic(s.path(key), encoded); err != nil {
		return nil, fmt.Errorf("store: put %s: %w", key, err)
	}
	return &Object{Key: key, Data: data, Version: env.Version, UpdatedAt: env.UpdatedAt}, nil
}

func (s *FileStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("store: delete %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, kind, orgID string) ([]Key, error) {
	kindDir := filepath.Join(s.root, escapeSegment(kind))
	var orgs []string
	if orgID != "" {
		orgs = []string{orgID}
	} else {
		entries, err := os.ReadDir(kindDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("store: list %s: %w", kind, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			org, err := url.PathUnescape(e.Name())
			if err != nil {
				continue
			}
			orgs = append(orgs, org)
		}
	}
	sort.Strings(orgs)

	var keys []Key
	for _, org := range orgs {
		entries, err := os.ReadDir(filepath.Join(kindDir, escapeSegment(org)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("store: list %s/%s: %w", kind, org, err)
		}
		var subs []string
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, fileExt) {
				continue
			}
			sub, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
			if err != nil {
				continue
			}
			if sub == emptySubKey {
				sub = ""
			}
			subs = append(subs, sub)
		}
		sort.Strings(subs)
		for _, sub := range subs {
			keys = append(keys, Key{Kind: kind, OrgID: org, SubKey: sub})
		}
	}
	return keys, nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
