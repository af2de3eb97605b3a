package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend stands in for the S3 variant in tests.
type memBackend struct {
	objects   map[string][]byte
	saveErr   error
	lookupErr error
	deleteErr error
}

func newMem() *memBackend { return &memBackend{objects: map[string][]byte{}} }

func (m *memBackend) Kind() Kind   { return KindS3 }
func (m *memBackend) Name() string { return "s3://mem" }
func (m *memBackend) sealed()      {}

func (m *memBackend) Save(_ context.Context, key string, src io.ReadSeeker) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memBackend) Load(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBackend) List(_ context.Context, prefix string) ([]string, error) {
	keys := []string{}
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memBackend) Delete(_ context.Context, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *memBackend) Exists(_ context.Context, key string) (bool, error) {
	if m.lookupErr != nil {
		return false, m.lookupErr
	}
	_, ok := m.objects[key]
	return ok, nil
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, local.Save(ctx, "app/app-2025-01-01-030000.tar.gz", strings.NewReader("payload")))

	ok, err := local.Exists(ctx, "app/app-2025-01-01-030000.tar.gz")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := local.Load(ctx, "app/app-2025-01-01-030000.tar.gz")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	keys, err := local.List(ctx, "app/")
	require.NoError(t, err)
	assert.Equal(t, []string{"app/app-2025-01-01-030000.tar.gz"}, keys)

	require.NoError(t, local.Delete(ctx, "app/app-2025-01-01-030000.tar.gz"))
	_, err = local.Load(ctx, "app/app-2025-01-01-030000.tar.gz")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalListMissingPrefixIsEmpty(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	keys, err := local.List(context.Background(), "nothing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalRejectsKeysOutsideRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	local, err := NewLocal(root)
	require.NoError(t, err)

	err = local.Save(context.Background(), "../escape.tar.gz", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrStorage)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(root), "escape.tar.gz"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewSetWithoutBackends(t *testing.T) {
	var local *Local
	_, err := NewSet(nil, local, nil)
	require.ErrorIs(t, err, ErrNoDestination)
}

func TestSetOrdersLocalFirst(t *testing.T) {
	mem := newMem()
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	set, err := NewSet(nil, mem, local)
	require.NoError(t, err)

	backends := set.Backends()
	require.Len(t, backends, 2)
	assert.Equal(t, KindLocal, backends[0].Kind())
	assert.Equal(t, KindS3, backends[1].Kind())
}

func TestSetSaveSurvivesSecondaryFailure(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.saveErr = errors.New("bucket unreachable")
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	set, err := NewSet(nil, local, mem)
	require.NoError(t, err)

	require.NoError(t, set.Save(ctx, "app/a.tar.gz", strings.NewReader("data")))

	ok, err := local.Exists(ctx, "app/a.tar.gz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, mem.objects)
}

func TestSetSaveFailsWhenPrimaryFails(t *testing.T) {
	mem := newMem()
	mem.saveErr = errors.New("bucket unreachable")

	set, err := NewSet(nil, mem)
	require.NoError(t, err)

	err = set.Save(context.Background(), "app/a.tar.gz", strings.NewReader("data"))
	require.Error(t, err)
}

func TestSetSaveWritesBothBackends(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	set, err := NewSet(nil, local, mem)
	require.NoError(t, err)

	require.NoError(t, set.Save(ctx, "app/a.tar.gz", strings.NewReader("data")))
	assert.Equal(t, []byte("data"), mem.objects["app/a.tar.gz"])
}

func TestSetLoadPrefersLocalAndFallsBack(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.objects["app/both.tar.gz"] = []byte("remote")
	mem.objects["app/remote-only.tar.gz"] = []byte("remote")

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, local.Save(ctx, "app/both.tar.gz", strings.NewReader("local")))

	set, err := NewSet(nil, local, mem)
	require.NoError(t, err)

	rc, from, err := set.Load(ctx, "app/both.tar.gz")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "local", string(data))
	assert.Equal(t, KindLocal, from.Kind())

	rc, from, err = set.Load(ctx, "app/remote-only.tar.gz")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "remote", string(data))
	assert.Equal(t, KindS3, from.Kind())

	_, _, err = set.Load(ctx, "app/none.tar.gz")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetLookupToleratesUnreachableSecondary(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.lookupErr = errors.New("connection refused")

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, local.Save(ctx, "app/a.tar.gz", strings.NewReader("local")))

	set, err := NewSet(nil, local, mem)
	require.NoError(t, err)

	ok, err := set.Exists(ctx, "app/a.tar.gz.gpg")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = set.Exists(ctx, "app/a.tar.gz")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = set.Load(ctx, "app/missing.tar.gz")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetLookupFailsWhenNoBackendAnswers(t *testing.T) {
	mem := newMem()
	mem.lookupErr = errors.New("connection refused")

	set, err := NewSet(nil, mem)
	require.NoError(t, err)

	_, err = set.Exists(context.Background(), "app/a.tar.gz")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSetDelete(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.objects["app/remote.tar.gz"] = []byte("x")

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, local.Save(ctx, "app/local.tar.gz", strings.NewReader("x")))

	set, err := NewSet(nil, local, mem)
	require.NoError(t, err)

	require.NoError(t, set.Delete(ctx, "app/local.tar.gz"))
	ok, err := local.Exists(ctx, "app/local.tar.gz")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, set.Delete(ctx, "app/remote.tar.gz"))
	assert.Empty(t, mem.objects)

	require.ErrorIs(t, set.Delete(ctx, "app/none.tar.gz"), ErrNotFound)

	mem.objects["app/stuck.tar.gz"] = []byte("x")
	mem.deleteErr = errors.New("access denied")
	require.ErrorContains(t, set.Delete(ctx, "app/stuck.tar.gz"), "access denied")
}

func TestSetListUnion(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.objects["app/b.tar.gz"] = []byte("x")
	mem.objects["app/c.tar.gz"] = []byte("x")
	mem.objects["other/z.tar.gz"] = []byte("x")

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, local.Save(ctx, "app/a.tar.gz", strings.NewReader("x")))
	require.NoError(t, local.Save(ctx, "app/b.tar.gz", strings.NewReader("x")))

	set, err := NewSet(nil, local, mem)
	require.NoError(t, err)

	keys, err := set.List(ctx, "app/")
	require.NoError(t, err)
	assert.Equal(t, []string{"app/a.tar.gz", "app/b.tar.gz", "app/c.tar.gz"}, keys)
}

func TestS3RequiresBucket(t *testing.T) {
	_, err := NewS3(S3Config{Endpoint: "s3.amazonaws.com"})
	require.ErrorIs(t, err, ErrStorage)
}

func TestS3KeyPrefixing(t *testing.T) {
	s3, err := NewS3(S3Config{Bucket: "backups", Endpoint: "https://minio.local:9000", Prefix: "/prod/", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)

	assert.Equal(t, "s3://backups/prod", s3.Name())
	assert.Equal(t, "prod/app/a.tar.gz", s3.objectName("app/a.tar.gz"))
	assert.Equal(t, "app/a.tar.gz", s3.keyOf("prod/app/a.tar.gz"))
}
