package environ

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidKey indicates the key cannot be stored as an environment variable.
var ErrInvalidKey = errors.New("environment key must be non-empty and must not contain '=' or NUL")

// Store provides access to a set of environment variables.
type Store interface {
	Lookup(key string) (string, bool)
	Set(key, value string) error
	Environ() []string
}

// Map keeps environment variables in-memory and guards access with a RWMutex.
type Map struct {
	mu   sync.RWMutex
	vars map[string]string
}

// NewMap initialises a store from KEY=VALUE pairs, as returned by os.Environ.
// Entries without '=' are ignored; later duplicates win.
func NewMap(pairs ...string) *Map {
	m := &Map{vars: make(map[string]string, len(pairs))}
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		m.vars[key] = value
	}
	return m
}

// Lookup returns the value for key and whether it is set.
func (m *Map) Lookup(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.vars[key]
	return value, ok
}

// Set validates and stores a variable.
func (m *Map) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	m.vars[key] = value
	m.mu.Unlock()

	return nil
}

// Environ returns a sorted copy of the variables as KEY=VALUE pairs.
func (m *Map) Environ() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.vars))
	for key, value := range m.vars {
		out = append(out, key+"="+value)
	}
	sort.Strings(out)
	return out
}

// OS is a Store backed by the environment of the current process.
type OS struct{}

// Lookup wraps os.LookupEnv.
func (OS) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Set wraps os.Setenv.
func (OS) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return os.Setenv(key, value)
}

// Environ wraps os.Environ.
func (OS) Environ() []string {
	return os.Environ()
}

// Value returns the value of key, or "" when it is unset.
func Value(s Store, key string) string {
	value, _ := s.Lookup(key)
	return value
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, "=\x00") {
		return ErrInvalidKey
	}
	return nil
}
