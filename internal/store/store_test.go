package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/almanac/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openGormStore(t *testing.T) Store {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(gormDB))
	return NewGorm(gormDB)
}

func openFileStore(t *testing.T) Store {
	t.Helper()
	st, err := NewFile(t.TempDir())
	require.NoError(t, err)
	return st
}

func openS3Store(t *testing.T) Store {
	t.Helper()
	return newS3WithClient(newFakeS3(), "almanac-test", "records/")
}

var backends = map[string]func(t *testing.T) Store{
	"gorm": openGormStore,
	"file": openFileStore,
	"s3":   openS3Store,
}

func forEachBackend(t *testing.T, fn func(t *testing.T, st Store)) {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		open := backends[name]
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		_, err := st.Get(context.Background(), Key{Kind: "draft", OrgID: "a", SubKey: "health"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound), "err = %v", err)
	})
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		key := Key{Kind: "variables", OrgID: "tokyo-shibuya"}

		obj, err := st.Put(ctx, key, []byte(`{"kokuho_phone":{"value":"03-1234-5678"}}`), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), obj.Version)

		got, err := st.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.JSONEq(t, `{"kokuho_phone":{"value":"03-1234-5678"}}`, string(got.Data))
		assert.Equal(t, key, got.Key)
		assert.False(t, got.UpdatedAt.IsZero())
	})
}

func TestStore_VersionChecks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		key := Key{Kind: "draft", OrgID: "a", SubKey: "health"}

		_, err := st.Put(ctx, key, []byte(`{"n":1}`), 3)
		assert.True(t, errors.Is(err, ErrConflict), "expected conflict for missing record, got %v", err)

		_, err = st.Put(ctx, key, []byte(`{"n":1}`), 0)
		require.NoError(t, err)

		_, err = st.Put(ctx, key, []byte(`{"n":2}`), 0)
		assert.True(t, errors.Is(err, ErrConflict), "create over existing should conflict, got %v", err)

		obj, err := st.Put(ctx, key, []byte(`{"n":2}`), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), obj.Version)

		_, err = st.Put(ctx, key, []byte(`{"n":3}`), 1)
		assert.True(t, errors.Is(err, ErrConflict), "stale version should conflict, got %v", err)

		obj, err = st.Put(ctx, key, []byte(`{"n":3}`), AnyVersion)
		require.NoError(t, err)
		assert.Equal(t, int64(3), obj.Version)

		got, err := st.Get(ctx, key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":3}`, string(got.Data))
	})
}

func TestStore_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		key := Key{Kind: "notification", OrgID: GlobalOrg, SubKey: "n1"}

		err := st.Delete(ctx, key)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

		_, err = st.Put(ctx, key, []byte(`{}`), AnyVersion)
		require.NoError(t, err)
		require.NoError(t, st.Delete(ctx, key))

		_, err = st.Get(ctx, key)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})
}

func TestStore_List(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for _, k := range []Key{
			{Kind: "draft", OrgID: "b", SubKey: "health"},
			{Kind: "draft", OrgID: "a", SubKey: "pension"},
			{Kind: "draft", OrgID: "a", SubKey: "health"},
			{Kind: "history", OrgID: "a", SubKey: "2026-10"},
			{Kind: "variables", OrgID: "a"},
		} {
			_, err := st.Put(ctx, k, []byte(`{}`), AnyVersion)
			require.NoError(t, err)
		}

		all, err := st.List(ctx, "draft", "")
		require.NoError(t, err)
		assert.Equal(t, []Key{
			{Kind: "draft", OrgID: "a", SubKey: "health"},
			{Kind: "draft", OrgID: "a", SubKey: "pension"},
			{Kind: "draft", OrgID: "b", SubKey: "health"},
		}, all)

		orgA, err := st.List(ctx, "draft", "a")
		require.NoError(t, err)
		assert.Len(t, orgA, 2)

		vars, err := st.List(ctx, "variables", "a")
		require.NoError(t, err)
		assert.Equal(t, []Key{{Kind: "variables", OrgID: "a"}}, vars)

		none, err := st.List(ctx, "page_reviews", "")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestUpdate_ReadModifyWrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		key := Key{Kind: "org_state", OrgID: "a"}

		type counter struct{ N int }
		for i := 0; i < 3; i++ {
			_, err := Update(ctx, st, key, func(c *counter, exists bool) error {
				if exists != (i > 0) {
					t.Errorf("iteration %d: exists = %v", i, exists)
				}
				c.N++
				return nil
			})
			require.NoError(t, err)
		}

		var got counter
		version, err := GetJSON(ctx, st, key, &got)
		require.NoError(t, err)
		assert.Equal(t, 3, got.N)
		assert.Equal(t, int64(3), version)
	})
}

func TestUpdate_CallbackErrorSkipsWrite(t *testing.T) {
	st := openFileStore(t)
	ctx := context.Background()
	key := Key{Kind: "org_state", OrgID: "a"}

	boom := errors.New("boom")
	_, err := Update(ctx, st, key, func(v *map[string]int, exists bool) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, err = st.Get(ctx, key)
	assert.True(t, IsNotFound(err))
}

func TestFileStore_RejectsInvalidJSON(t *testing.T) {
	st := openFileStore(t)
	_, err := st.Put(context.Background(), Key{Kind: "draft", OrgID: "a"}, []byte(`{not json`), AnyVersion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestFileStore_EscapesKeys(t *testing.T) {
	st := openFileStore(t)
	ctx := context.Background()
	key := Key{Kind: "draft", OrgID: "..", SubKey: "a/b"}

	_, err := st.Put(ctx, key, []byte(`{}`), AnyVersion)
	require.NoError(t, err)

	keys, err := st.List(ctx, "draft", "")
	require.NoError(t, err)
	assert.Equal(t, []Key{key}, keys)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "variables/a", Key{Kind: "variables", OrgID: "a"}.String())
	assert.Equal(t, "draft/a/health", Key{Kind: "draft", OrgID: "a", SubKey: "health"}.String())
}

func TestIsS3NotFound(t *testing.T) {
	assert.True(t, isS3NotFound(&types.NoSuchKey{}))
	assert.True(t, isS3NotFound(&types.NotFound{}))
	assert.False(t, isS3NotFound(errors.New("access denied")))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), configFor("redis"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), `unknown driver "redis"`), err.Error())
}

// --- fake S3 ---

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	var names []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, n := range names {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(n)})
	}
	return out, nil
}
