// Package store provides the keyed JSON record store every other component
// persists through. Backends guarantee single-key atomicity and optimistic
// version checks; none of them offers multi-key transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a key has no record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write's expected version does not
	// match the stored one.
	ErrConflict = errors.New("version conflict")
)

// AnyVersion disables the version check on Put.
const AnyVersion int64 = -1

// GlobalOrg is the organization slot used for records that belong to no
// organization, such as the notification feed.
const GlobalOrg = "_global"

// Key addresses one record.
type Key struct {
	Kind   string
	OrgID  string
	SubKey string
}

func (k Key) String() string {
	if k.SubKey == "" {
		return k.Kind + "/" + k.OrgID
	}
	return k.Kind + "/" + k.OrgID + "/" + k.SubKey
}

// Object is a stored record.
type Object struct {
	Key       Key
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// Store is the record store contract.
//
// Put writes data under key. expectVersion is AnyVersion for an
// unconditional write, 0 to require that the key does not exist yet, or
// the version last read to require that nobody wrote in between.
// Every successful write increments the version.
//
// List returns the keys of a kind, restricted to one organization unless
// orgID is empty. Keys come back ordered by organization then sub-key.
type Store interface {
	Get(ctx context.Context, key Key) (*Object, error)
	Put(ctx context.Context, key Key, data []byte, expectVersion int64) (*Object, error)
	Delete(ctx context.Context, key Key) error
	List(ctx context.Context, kind, orgID string) ([]Key, error)
}

// GetJSON loads the record at key into v and returns its version.
func GetJSON(ctx context.Context, st Store, key Key, v any) (int64, error) {
	obj, err := st.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return 0, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return obj.Version, nil
}

// PutJSON encodes v and writes it under key, returning the new version.
func PutJSON(ctx context.Context, st Store, key Key, v any, expectVersion int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("store: encode %s: %w", key, err)
	}
	obj, err := st.Put(ctx, key, data, expectVersion)
	if err != nil {
		return 0, err
	}
	return obj.Version, nil
}

// Update runs a read-modify-write cycle on the record at key. fn receives
// the current value (zero when absent) and may mutate it; the write is
// guarded by the version that was read, so a concurrent writer surfaces
// as ErrConflict instead of a lost update.
func Update[T any](ctx context.Context, st Store, key Key, fn func(v *T, exists bool) error) (*T, error) {
	var v T
	version, err := GetJSON(ctx, st, key, &v)
	exists := true
	if errors.Is(err, ErrNotFound) {
		exists = false
		version = 0
	} else if err != nil {
		return nil, err
	}
	if err := fn(&v, exists); err != nil {
		return nil, err
	}
	if _, err := PutJSON(ctx, st, key, &v, version); err != nil {
		return nil, err
	}
	return &v, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// checkVersion enforces the expectVersion contract of Put.
func checkVersion(key Key, exists bool, current, expect int64) error {
	switch {
	case expect == AnyVersion:
		return nil
	case expect == 0 && exists:
		return fmt.Errorf("store: put %s: already exists at version %d: %w", key, current, ErrConflict)
	case expect > 0 && !exists:
		return fmt.Errorf("store: put %s: expected version %d, record missing: %w", key, expect, ErrConflict)
	case expect > 0 && current != expect:
		return fmt.Errorf("store: put %s: expected version %d, have %d: %w", key, expect, current, ErrConflict)
	}
	return nil
}

// envelope is the on-disk and on-object form used by the file and s3
// backends.
type envelope struct {
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}
