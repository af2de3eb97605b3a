package artifact

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	ts := time.Date(2025, 3, 7, 4, 5, 6, 0, time.UTC)

	assert.Equal(t, "app-2025-03-07-040506.tar.gz", Filename("app", ts, false))
	assert.Equal(t, "app-2025-03-07-040506.tar.gz.gpg", Filename("app", ts, true))
	assert.Equal(t, "app/app-2025-03-07-040506.tar.gz.gpg", Key("app", Filename("app", ts, true)))
}

func TestParseRoundTrip(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC)

	a, ok := Parse("my-app", "my-app/"+Filename("my-app", ts, true), time.UTC)
	require.True(t, ok)
	assert.True(t, a.Timestamp.Equal(ts))
	assert.True(t, a.Encrypted)
	assert.Equal(t, "my-app-2024-12-31-235958.tar.gz.gpg", a.Filename)
}

func TestParseRejectsForeignNames(t *testing.T) {
	for _, name := range []string{
		"other-2024-12-31-235958.tar.gz",
		"app-2024-12-31.tar.gz",
		"app-2024-13-31-235958.tar.gz",
		"app-2024-12-31-235958.zip",
		"app-latest.tar.gz.gpg",
	} {
		_, ok := Parse("app", name, time.UTC)
		assert.False(t, ok, name)
	}
}

func TestLexicalOrderIsChronological(t *testing.T) {
	base := time.Date(2025, 1, 9, 9, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(30 * 24 * time.Hour),
		base,
		base.Add(time.Second),
		base.Add(10 * time.Hour),
	}
	names := make([]string, 0, len(times))
	for _, ts := range times {
		names = append(names, Filename("app", ts, false))
	}
	sort.Strings(names)

	var prev time.Time
	for _, n := range names {
		a, ok := Parse("app", n, time.UTC)
		require.True(t, ok)
		assert.False(t, a.Timestamp.Before(prev))
		prev = a.Timestamp
	}
}
