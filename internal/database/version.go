package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	DefaultBinDirPattern = "/usr/lib/postgresql/%d/bin"
	versionQueryTimeout  = 10 * time.Second
)

var (
	// SupportedMajors is ascending.
	SupportedMajors = []int{15, 16, 17}
	// DefaultMajor is used when the server version cannot be determined.
	DefaultMajor = 16
)

// VersionQuery returns the server_version_num of the server behind uri.
type VersionQuery func(ctx context.Context, uri string) (int, error)

// VersionSelector picks the pg_dump/pg_restore build matching a server.
type VersionSelector struct {
	BinDirPattern string
	Query         VersionQuery
	// stat is swapped in tests.
	stat func(string) (os.FileInfo, error)
}

func NewVersionSelector(binDirPattern string) *VersionSelector {
	if binDirPattern == "" {
		binDirPattern = DefaultBinDirPattern
	}
	return &VersionSelector{
		BinDirPattern: binDirPattern,
		Query:         QueryServerVersion,
		stat:          os.Stat,
	}
}

// SelectMajor maps a server_version_num to the newest supported client major
// not newer than the server. Older servers get the oldest supported client and
// an unknown version (<= 0) gets DefaultMajor.
func SelectMajor(serverVersionNum int) int {
	if serverVersionNum <= 0 {
		return DefaultMajor
	}
	major := serverVersionNum / 10000
	chosen := SupportedMajors[0]
	for _, m := range SupportedMajors {
		if m <= major {
			chosen = m
		}
	}
	return chosen
}

// Major queries the server and returns the client major to use.
func (s *VersionSelector) Major(ctx context.Context, uri string) (int, error) {
	num, err := s.Query(ctx, uri)
	if err != nil {
		return DefaultMajor, err
	}
	return SelectMajor(num), nil
}

// Binary returns the tool path for major, or the bare tool name (resolved on
// PATH) when the versioned build is not installed.
func (s *VersionSelector) Binary(major int, tool string) string {
	candidate := filepath.Join(fmt.Sprintf(s.BinDirPattern, major), tool)
	info, err := s.stat(candidate)
	if err != nil || info.IsDir() {
		return tool
	}
	return candidate
}

// QueryServerVersion asks the server for server_version_num. When the URI
// does not pin an sslmode and the first attempt fails, it retries without TLS.
func QueryServerVersion(ctx context.Context, uri string) (int, error) {
	num, err := queryVersion(ctx, uri)
	if err == nil {
		return num, nil
	}
	if plain, ok := withoutSSL(uri); ok {
		if num, retryErr := queryVersion(ctx, plain); retryErr == nil {
			return num, nil
		}
	}
	return 0, err
}

func queryVersion(ctx context.Context, uri string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, versionQueryTimeout)
	defer cancel()

	db, err := sql.Open("postgres", uri)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var raw string
	if err := db.QueryRowContext(ctx, "SHOW server_version_num").Scan(&raw); err != nil {
		return 0, err
	}
	num, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("unexpected server_version_num %q: %w", raw, err)
	}
	return num, nil
}

func withoutSSL(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", false
	}
	q := u.Query()
	if q.Has("sslmode") {
		return "", false
	}
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String(), true
}
