package tape

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsTapeFile reports whether path has a tape extension.
func IsTapeFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ParseFile reads and parses the tape at path. A tape without a name is
// named after its file.
func ParseFile(path string) (*Tape, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tape: %w", err)
	}
	t, err := Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Path = path
	if t.Name == "" {
		base := filepath.Base(path)
		t.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return t, nil
}

// LoadDir parses every tape directly inside dir, in file name order.
func LoadDir(dir string) ([]*Tape, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tapes directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsTapeFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	tapes := make([]*Tape, 0, len(names))
	for _, name := range names {
		t, err := ParseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		tapes = append(tapes, t)
	}
	return tapes, nil
}
