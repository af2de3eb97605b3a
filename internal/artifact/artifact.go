// Package artifact names backup artifacts and their storage keys.
//
// The timestamp layout is fixed-width and zero-padded so that lexical order of
// artifact names equals chronological order.
package artifact

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// TimestampLayout renders as YYYY-MM-DD-HHMMSS.
	TimestampLayout = "2006-01-02-150405"

	ArchiveExt   = ".tar.gz"
	EncryptedExt = ".gpg"
)

// Artifact is one stored backup identified by its file name.
type Artifact struct {
	Filename  string
	Timestamp time.Time
	Encrypted bool
}

// Timestamp formats t for use in artifact names.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Filename builds "<name>-<timestamp>.tar.gz[.gpg]".
func Filename(name string, t time.Time, encrypted bool) string {
	f := fmt.Sprintf("%s-%s%s", name, Timestamp(t), ArchiveExt)
	if encrypted {
		f += EncryptedExt
	}
	return f
}

// Key returns the storage key "<name>/<filename>".
func Key(name, filename string) string {
	return name + "/" + filename
}

// Prefix returns the listing prefix for all artifacts of name.
func Prefix(name string) string {
	return name + "/"
}

// Parse recognizes a file name (or a key ending in one) produced by Filename
// for the given name. Timestamps are interpreted in loc.
func Parse(name, filename string, loc *time.Location) (Artifact, bool) {
	base := path.Base(filename)
	rest, ok := strings.CutPrefix(base, name+"-")
	if !ok {
		return Artifact{}, false
	}

	encrypted := false
	if trimmed, ok := strings.CutSuffix(rest, EncryptedExt); ok {
		rest = trimmed
		encrypted = true
	}
	ts, ok := strings.CutSuffix(rest, ArchiveExt)
	if !ok || len(ts) != len(TimestampLayout) {
		return Artifact{}, false
	}

	t, err := time.ParseInLocation(TimestampLayout, ts, loc)
	if err != nil {
		return Artifact{}, false
	}
	return Artifact{Filename: base, Timestamp: t, Encrypted: encrypted}, true
}

// Candidates lists the file names a restore of timestamp ts may be stored
// under, preferring the encrypted variant.
func Candidates(name, ts string) []string {
	plain := fmt.Sprintf("%s-%s%s", name, ts, ArchiveExt)
	return []string{plain + EncryptedExt, plain}
}
