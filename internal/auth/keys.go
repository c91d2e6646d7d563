package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
)

// APIKey is one configured key.
type APIKey struct {
	Name string
	Key  string
	Role Role
}

// ParseKeys parses a comma-separated list of name:key:role triples. The key
// itself may contain colons: the name ends at the first colon and the role
// starts after the last.
func ParseKeys(raw string) ([]APIKey, error) {
	var (
		keys []APIKey
		bad  []string
	)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		first := strings.Index(entry, ":")
		last := strings.LastIndex(entry, ":")
		if first <= 0 || last == first || last == len(entry)-1 {
			bad = append(bad, redact(entry))
			continue
		}
		role, ok := ParseRole(entry[last+1:])
		key := entry[first+1 : last]
		if !ok || key == "" {
			bad = append(bad, redact(entry))
			continue
		}
		keys = append(keys, APIKey{Name: entry[:first], Key: key, Role: role})
	}
	if len(bad) > 0 {
		return keys, fmt.Errorf("invalid API key entries: %s", strings.Join(bad, ", "))
	}
	return keys, nil
}

func redact(entry string) string {
	if i := strings.Index(entry, ":"); i > 0 {
		return entry[:i] + ":***"
	}
	return "***"
}

// KeyTable holds the parsed API key table. The source is parsed on first use
// and kept until Reload or Clear.
type KeyTable struct {
	source func() string

	mu     sync.RWMutex
	keys   []APIKey
	loaded bool
	err    error
}

// NewKeyTable creates a table that reads its configuration from source.
func NewKeyTable(source func() string) *KeyTable {
	if source == nil {
		source = func() string { return "" }
	}
	return &KeyTable{source: source}
}

// StaticKeys returns a source for a fixed configuration string.
func StaticKeys(raw string) func() string {
	return func() string { return raw }
}

func (t *KeyTable) load() ([]APIKey, error) {
	t.mu.RLock()
	if t.loaded {
		defer t.mu.RUnlock()
		return t.keys, t.err
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		t.keys, t.err = ParseKeys(t.source())
		t.loaded = true
	}
	return t.keys, t.err
}

// Reload re-reads and re-parses the source. Valid entries are kept even when
// some entries are malformed; the error describes the malformed ones.
func (t *KeyTable) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys, t.err = ParseKeys(t.source())
	t.loaded = true
	return t.err
}

// Clear drops the parsed table so the next lookup parses the source again.
func (t *KeyTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys, t.err, t.loaded = nil, nil, false
}

// Len returns the number of valid keys.
func (t *KeyTable) Len() int {
	keys, _ := t.load()
	return len(keys)
}

// Err returns the parse error of the current table, if any.
func (t *KeyTable) Err() error {
	_, err := t.load()
	return err
}

// Lookup finds the entry for presented. Every entry is compared in constant
// time.
func (t *KeyTable) Lookup(presented string) (APIKey, bool) {
	keys, _ := t.load()
	var (
		found APIKey
		ok    bool
	)
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(presented)) == 1 && !ok {
			found, ok = k, true
		}
	}
	return found, ok
}
