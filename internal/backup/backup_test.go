package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtream1101/docker-backup-sidecar/internal/database"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
)

// fakeTools returns a Toolbox whose client tools only touch the filesystem.
func fakeTools(t *testing.T, failing string) (*database.Toolbox, *[]string) {
	t.Helper()
	var calls []string
	tb := database.NewToolbox(time.Minute, filepath.Join(t.TempDir(), "%d"), logger.Nop())
	tb.Versions.Query = func(context.Context, string) (int, error) { return 160000, nil }
	tb.Run = func(_ context.Context, name string, args ...string) error {
		calls = append(calls, name)
		if name == failing {
			return errors.New("exit status 1")
		}
		switch name {
		case "pg_dump":
			for i, a := range args {
				if a == "-f" {
					return os.WriteFile(args[i+1], []byte("pgdump"), 0o600)
				}
			}
		case "mongodump":
			for _, a := range args {
				if out, ok := strings.CutPrefix(a, "--out="); ok {
					return os.WriteFile(filepath.Join(out, "placeholder.bson"), []byte("bson"), 0o600)
				}
			}
		}
		return nil
	}
	return tb, &calls
}

func TestParseMount(t *testing.T) {
	tests := []struct {
		in   string
		want Mount
	}{
		{"/data:app", Mount{Path: "/data", Name: "app"}},
		{"/data", Mount{Path: "/data", Name: "data"}},
		{"/etc/app/config.yml:config", Mount{Path: "/etc/app/config.yml", Name: "config"}},
		{"/srv/www/", Mount{Path: "/srv/www/", Name: "www"}},
	}
	for _, tt := range tests {
		got, err := ParseMount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{":app", "/", "/data:.."} {
		_, err := ParseMount(bad)
		assert.Error(t, err, bad)
	}
}

func TestUnitsOrderAndRedaction(t *testing.T) {
	units := Units(
		[]string{"postgres://u:secret@db/app"},
		[]string{"mongodb://mongo/shop"},
		[]Mount{{Path: "/data", Name: "app"}},
		[]Mount{{Path: "/etc/hosts", Name: "hosts"}},
	)
	require.Len(t, units, 4)
	assert.Equal(t, KindPostgres, units[0].Kind())
	assert.Equal(t, KindMongoDB, units[1].Kind())
	assert.Equal(t, KindDirectory, units[2].Kind())
	assert.Equal(t, KindFile, units[3].Kind())
	assert.NotContains(t, units[0].String(), "secret")
}

func TestCollectDirectoryAndFile(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0o644))
	file := filepath.Join(t.TempDir(), "settings.ini")
	require.NoError(t, os.WriteFile(file, []byte("k=v"), 0o640))

	tools, _ := fakeTools(t, "")
	collector := NewCollector(tools, logger.Nop())
	dir := t.TempDir()

	meta, err := collector.Collect(context.Background(), []Unit{
		DirectoryUnit{Path: src, Name: "app"},
		FileUnit{Path: file, Name: "settings"},
	}, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Captured())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"app.tar.gz", "settings"}, names)

	info, err := os.Stat(filepath.Join(dir, "settings"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestCollectSkipsMissingSources(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0o644))

	tools, _ := fakeTools(t, "")
	meta, err := NewCollector(tools, logger.Nop()).Collect(context.Background(), []Unit{
		DirectoryUnit{Path: filepath.Join(src, "missing"), Name: "gone"},
		FileUnit{Path: filepath.Join(src, "missing.txt"), Name: "gone.txt"},
		DirectoryUnit{Path: src, Name: "app"},
	}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Captured())
	assert.Equal(t, 2, meta.Skipped())
}

func TestCollectNothing(t *testing.T) {
	tools, _ := fakeTools(t, "")
	collector := NewCollector(tools, logger.Nop())

	_, err := collector.Collect(context.Background(), nil, t.TempDir())
	require.ErrorIs(t, err, ErrNothingCollected)

	_, err = collector.Collect(context.Background(), []Unit{
		DirectoryUnit{Path: filepath.Join(t.TempDir(), "missing"), Name: "gone"},
	}, t.TempDir())
	require.ErrorIs(t, err, ErrNothingCollected)
}

func TestCollectFailsFast(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0o644))

	tools, calls := fakeTools(t, "pg_dump")
	dir := t.TempDir()
	_, err := NewCollector(tools, logger.Nop()).Collect(context.Background(), []Unit{
		PostgresUnit{URI: "postgres://db/app"},
		MongoUnit{URI: "mongodb://mongo/shop"},
		DirectoryUnit{Path: src, Name: "app"},
	}, dir)
	require.ErrorIs(t, err, ErrCollect)
	assert.Equal(t, []string{"pg_dump"}, *calls)

	_, statErr := os.Stat(filepath.Join(dir, "app.tar.gz"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCollectDatabases(t *testing.T) {
	tools, calls := fakeTools(t, "")
	dir := t.TempDir()

	meta, err := NewCollector(tools, logger.Nop()).Collect(context.Background(), []Unit{
		PostgresUnit{URI: "postgres://db/app"},
		MongoUnit{URI: "mongodb://mongo/shop"},
	}, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"pg_dump", "mongodump"}, *calls)
	assert.Equal(t, "postgres-app.dump", meta.Units[0].Output)
	assert.Equal(t, database.MongoDumpDir, meta.Units[1].Output)
	assert.Positive(t, meta.TotalBytes())
}

func TestCollectRejectsNameClash(t *testing.T) {
	a := filepath.Join(t.TempDir(), "a")
	b := filepath.Join(t.TempDir(), "b")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o644))

	tools, _ := fakeTools(t, "")
	_, err := NewCollector(tools, logger.Nop()).Collect(context.Background(), []Unit{
		FileUnit{Path: a, Name: "same"},
		FileUnit{Path: b, Name: "same"},
	}, t.TempDir())
	require.ErrorIs(t, err, ErrCollect)
}

func TestRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0o644))
	file := filepath.Join(t.TempDir(), "settings.ini")
	require.NoError(t, os.WriteFile(file, []byte("k=v"), 0o600))

	tools, _ := fakeTools(t, "")
	dir := t.TempDir()
	_, err := NewCollector(tools, logger.Nop()).Collect(context.Background(), []Unit{
		DirectoryUnit{Path: src, Name: "app"},
		FileUnit{Path: file, Name: "settings"},
	}, dir)
	require.NoError(t, err)

	restoredDir := filepath.Join(t.TempDir(), "restored")
	restoredFile := filepath.Join(t.TempDir(), "nested", "settings.ini")
	result, err := NewRestorer(tools, logger.Nop()).Restore(context.Background(), []Unit{
		DirectoryUnit{Path: restoredDir, Name: "app"},
		FileUnit{Path: restoredFile, Name: "settings"},
	}, dir)
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{Restored: 2}, result)

	data, err := os.ReadFile(filepath.Join(restoredDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	data, err = os.ReadFile(restoredFile)
	require.NoError(t, err)
	assert.Equal(t, "k=v", string(data))
}

func TestRestoreIsBestEffort(t *testing.T) {
	tools, calls := fakeTools(t, "pg_restore")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "postgres-app.dump"), []byte("dump"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, database.MongoDumpDir), 0o755))

	result, err := NewRestorer(tools, logger.Nop()).Restore(context.Background(), []Unit{
		PostgresUnit{URI: "postgres://db/app"},
		PostgresUnit{URI: "postgres://db/other"},
		MongoUnit{URI: "mongodb://mongo/shop"},
	}, dir)
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.ErrorIs(t, err, database.ErrRestoreFailed)

	assert.Equal(t, RestoreResult{Restored: 1, Missing: 1, Failed: 1}, result)
	assert.Equal(t, []string{"pg_restore", "mongorestore"}, *calls)
}
