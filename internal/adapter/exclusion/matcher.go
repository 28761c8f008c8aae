package exclusion

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/semmidev/strongbox/internal/domain"
)

// Matcher decides whether a path is left out of an archive. It is immutable
// after New and safe for concurrent use.
type Matcher struct {
	prefixes []string
}

// New validates and normalizes the prefix list. Any bad entry is a
// configuration error; IsExcluded itself never fails.
func New(prefixes []string) (*Matcher, error) {
	m := &Matcher{prefixes: make([]string, 0, len(prefixes))}
	seen := make(map[string]struct{}, len(prefixes))

	for i, p := range prefixes {
		if strings.TrimSpace(p) == "" {
			return nil, &domain.ConfigurationError{
				Field: fmt.Sprintf("exclude[%d]", i),
				Err:   errors.New("empty prefix"),
			}
		}
		if strings.ContainsRune(p, 0) {
			return nil, &domain.ConfigurationError{
				Field: fmt.Sprintf("exclude[%d]", i),
				Err:   errors.New("prefix contains a NUL byte"),
			}
		}
		if !filepath.IsAbs(p) {
			return nil, &domain.ConfigurationError{
				Field: fmt.Sprintf("exclude[%d]", i),
				Err:   fmt.Errorf("%q is not absolute", p),
			}
		}

		clean := filepath.Clean(p)
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		m.prefixes = append(m.prefixes, clean)
	}

	return m, nil
}

// IsExcluded reports whether path equals a configured prefix or lies
// beneath one. Relative paths never match.
func (m *Matcher) IsExcluded(path string) bool {
	if m == nil || !filepath.IsAbs(path) {
		return false
	}
	path = filepath.Clean(path)

	for _, prefix := range m.prefixes {
		if path == prefix {
			return true
		}
		// "/" is its own separator boundary.
		if prefix == string(filepath.Separator) || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (m *Matcher) Prefixes() []string {
	return append([]string(nil), m.prefixes...)
}
