package config

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

// Snapshot is one extension's resolved configuration: an immutable key-value
// set fixed at load time. Re-resolving after load is unsupported; the
// resolver hands the same snapshot back for repeated lookups.
type Snapshot struct {
	extension string
	values    map[string]any
	digest    string
}

func newSnapshot(extension string, values map[string]any) *Snapshot {
	return &Snapshot{
		extension: extension,
		values:    values,
		digest:    digestValues(values),
	}
}

// Extension returns the owning extension's name.
func (s *Snapshot) Extension() string {
	return s.extension
}

// Keys returns the snapshot's keys, sorted.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the raw value under key and whether it is present.
func (s *Snapshot) Value(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// String returns the value under key as a string, or "" if absent or not a
// string.
func (s *Snapshot) String(key string) string {
	if v, ok := s.values[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the value under key as an int, or 0 if absent or not numeric.
func (s *Snapshot) Int(key string) int {
	switch v := s.values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool returns the value under key as a bool, or false if absent or not a
// bool.
func (s *Snapshot) Bool(key string) bool {
	if v, ok := s.values[key].(bool); ok {
		return v
	}
	return false
}

// Duration parses the value under key as a time.Duration string, or returns
// 0 if absent or unparseable.
func (s *Snapshot) Duration(key string) time.Duration {
	v, ok := s.values[key].(string)
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// Map returns a shallow copy of the snapshot's values.
func (s *Snapshot) Map() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Digest returns the BLAKE3 digest of the snapshot's canonical form, used
// in the introspection table and inspect report.
func (s *Snapshot) Digest() string {
	return s.digest
}

// digestValues hashes the canonical JSON form of values. encoding/json
// sorts map keys, so equal snapshots digest equally.
func digestValues(values map[string]any) string {
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
