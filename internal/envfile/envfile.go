package envfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/eugenenazirov/metabase-mcp/internal/environ"
)

// DefaultName is the file looked up in the installation root when no path is configured.
const DefaultName = ".env"

const maxLineSize = 1 << 20

// Entry is a single KEY=VALUE pair taken from the file.
type Entry struct {
	Key   string
	Value string
}

// Overlay holds the entries of an environment file in the order they first appeared.
// Malformed lists the 1-based line numbers that were skipped because they had no
// '=' or an empty key.
type Overlay struct {
	Entries   []Entry
	Malformed []int
}

// Len reports the number of entries.
func (o Overlay) Len() int {
	return len(o.Entries)
}

// Get returns the value for key and whether the overlay defines it.
func (o Overlay) Get(key string) (string, bool) {
	for _, e := range o.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Map returns the entries as a map.
func (o Overlay) Map() map[string]string {
	out := make(map[string]string, len(o.Entries))
	for _, e := range o.Entries {
		out[e.Key] = e.Value
	}
	return out
}

// ReadError reports an environment file that exists but could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read environment file %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Load reads and parses the file at path. A missing file yields an empty
// overlay and no error; any other failure is returned as *ReadError.
func Load(path string) (Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Overlay{}, nil
		}
		return Overlay{}, &ReadError{Path: path, Err: err}
	}

	overlay, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Overlay{}, &ReadError{Path: path, Err: err}
	}
	return overlay, nil
}

// Parse reads KEY=VALUE lines. Blank lines and lines starting with '#' are
// skipped, only the first '=' separates key from value, and both sides are
// trimmed. A repeated key keeps its first position and takes the last value.
func Parse(r io.Reader) (Overlay, error) {
	var overlay Overlay
	index := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rawKey, rawValue, ok := strings.Cut(line, "=")
		key := strings.TrimSpace(rawKey)
		if !ok || key == "" {
			overlay.Malformed = append(overlay.Malformed, lineNo)
			continue
		}
		value := strings.TrimSpace(rawValue)

		if i, seen := index[key]; seen {
			overlay.Entries[i].Value = value
			continue
		}
		index[key] = len(overlay.Entries)
		overlay.Entries = append(overlay.Entries, Entry{Key: key, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return Overlay{}, fmt.Errorf("scan line %d: %w", lineNo+1, err)
	}

	return overlay, nil
}

// Apply copies overlay entries into store, skipping keys the store already
// defines. It returns the keys that were written, in overlay order.
func Apply(store environ.Store, overlay Overlay) ([]string, error) {
	applied := make([]string, 0, len(overlay.Entries))
	for _, e := range overlay.Entries {
		if _, exists := store.Lookup(e.Key); exists {
			continue
		}
		if err := store.Set(e.Key, e.Value); err != nil {
			return applied, fmt.Errorf("set %s: %w", e.Key, err)
		}
		applied = append(applied, e.Key)
	}
	return applied, nil
}
