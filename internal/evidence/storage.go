// Package evidence stores uploaded claim images as individually named files.
package evidence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"lostfound/internal/fileutil"
	"lostfound/internal/services"
)

// ErrEvidenceNotFound is returned when a requested evidence file does not exist.
var ErrEvidenceNotFound = fmt.Errorf("%w: evidence file", services.ErrNotFound)

const maxNameRunes = 96

// Storage writes evidence files beneath a single directory.
type Storage struct {
	dir string
}

// NewStorage prepares dir for evidence files.
func NewStorage(dir string) (*Storage, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("evidence directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *Storage) Dir() string {
	return s.dir
}

// Path resolves a stored name to its absolute location.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Save writes data under a fresh collision-proof name derived from the
// original upload name and returns the stored name.
func (s *Storage) Save(originalName string, data []byte) (string, error) {
	name := uuid.NewString() + "_" + SanitizeName(originalName)
	if err := fileutil.WriteNewFile(s.Path(name), data, 0o644); err != nil {
		return "", services.Wrap(services.ErrStorage, "evidence", "save", originalName, err)
	}
	return name, nil
}

// Remove deletes a stored file. Missing files are not an error.
func (s *Storage) Remove(name string) error {
	if !validName(name) {
		return nil
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Open returns a stored file for reading. Names containing path separators
// or parent references are rejected as not found.
func (s *Storage) Open(name string) (*os.File, error) {
	if !validName(name) {
		return nil, ErrEvidenceNotFound
	}
	f, err := os.Open(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrEvidenceNotFound
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "evidence", "open", name, err)
	}
	return f, nil
}

// List returns the names of the regular files in the storage directory that
// Save could have produced. Anything else in the directory is left alone.
func (s *Storage) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsStorageName(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// IsStorageName reports whether name has the <uuid>_<name> shape Save uses.
func IsStorageName(name string) bool {
	if !validName(name) {
		return false
	}
	prefix, rest, ok := strings.Cut(name, "_")
	if !ok || rest == "" || len(prefix) != 36 {
		return false
	}
	_, err := uuid.Parse(prefix)
	return err == nil
}

// Extension returns the lowercased extension of name without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// SanitizeName reduces an uploaded filename to ASCII letters, digits, dots,
// dashes and underscores. Accents are stripped rather than dropped so
// "café.jpg" becomes "cafe.jpg".
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-'):
			b.WriteRune(r)
			prevUnderscore = false
		case unicode.IsSpace(r) || r == '_':
			if !prevUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	cleaned := strings.Trim(b.String(), "_-")
	if len(cleaned) > maxNameRunes {
		ext := filepath.Ext(cleaned)
		if len(ext) >= maxNameRunes {
			ext = ""
		}
		cleaned = cleaned[:maxNameRunes-len(ext)] + ext
	}
	if cleaned == "" || strings.HasPrefix(cleaned, ".") {
		cleaned = "image" + cleaned
	}
	return cleaned
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return false
	}
	return filepath.Base(name) == name
}
