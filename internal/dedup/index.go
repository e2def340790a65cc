// Package dedup tracks the content hashes of every stored evidence image so
// identical bytes are never stored twice.
package dedup

import (
	"errors"
	"io/fs"
	"log/slog"

	"lostfound/internal/fileutil"
	"lostfound/internal/logging"
)

// Index is a set of SHA-256 content digests. It is not synchronized; the
// claims ledger serializes every access under its own lock.
type Index struct {
	hashes map[string]struct{}
}

// New returns an empty index.
func New() *Index {
	return &Index{hashes: make(map[string]struct{})}
}

// Digest returns the hex SHA-256 digest used as an index key.
func Digest(data []byte) string {
	return fileutil.HashBytes(data)
}

// Contains reports whether hash is already indexed.
func (i *Index) Contains(hash string) bool {
	_, ok := i.hashes[hash]
	return ok
}

// Add records hash.
func (i *Index) Add(hash string) {
	if hash == "" {
		return
	}
	i.hashes[hash] = struct{}{}
}

// Remove releases hash so identical content can be stored again.
func (i *Index) Remove(hash string) {
	delete(i.hashes, hash)
}

// Len returns the number of indexed hashes.
func (i *Index) Len() int {
	return len(i.hashes)
}

// Entry names one persisted image for Build.
type Entry struct {
	Path         string
	RecordedHash string
}

// Rehash hashes every persisted image once and returns the effective hash for
// each path. A missing or unreadable file falls back to its recorded hash so
// the content stays blocked until the claim that references it is deleted.
func Rehash(entries []Entry, logger *slog.Logger) map[string]string {
	if logger == nil {
		logger = logging.NewNop()
	}
	effective := make(map[string]string, len(entries))
	for _, entry := range entries {
		hash, err := fileutil.HashFile(entry.Path)
		if err != nil {
			hash = entry.RecordedHash
			hint := "file unreadable"
			if errors.Is(err, fs.ErrNotExist) {
				hint = "file missing from evidence directory"
			}
			logging.WarnWithContext(logger, "evidence hash fallback", "dedup_hash_fallback",
				logging.String("path", entry.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, hint),
				logging.String(logging.FieldImpact, "recorded hash kept in dedup index"),
			)
		}
		effective[entry.Path] = hash
	}
	return effective
}
