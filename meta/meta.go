// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Meta is the local replica of one entity's meta together with the
// revision the server last acknowledged. Safe for concurrent use.
//
// The revision only moves forward except through SetRevision, which
// the patch queue uses to adopt the authoritative revision from a
// stale-revision rejection.
type Meta struct {
	mu       sync.RWMutex
	values   map[Key]Value
	revision int64
}

// New returns an empty Meta at revision 0.
func New() *Meta {
	return &Meta{values: make(map[Key]Value)}
}

// FromWire builds a Meta from a server document. Entries that fail to
// decode as their suffix's kind are kept as KindRaw so a malformed key
// written by another client does not poison the whole replica.
func FromWire(document map[string]string, revision int64) *Meta {
	m := New()
	m.revision = revision
	m.applyWireLocked(document, nil)
	return m
}

// Get returns the value stored under key.
func (m *Meta) Get(key Key) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok
}

// Text returns a string value, or "" when absent.
func (m *Meta) Text(key Key) string {
	value, _ := m.Get(key)
	text, _ := value.Text()
	return text
}

// Flag returns a bool value, or false when absent.
func (m *Meta) Flag(key Key) bool {
	value, _ := m.Get(key)
	flag, _ := value.Flag()
	return flag
}

// DecodeObject unmarshals an object value into out. Returns an error
// wrapping ErrMissing when key is absent.
func (m *Meta) DecodeObject(key Key, out any) error {
	value, ok := m.Get(key)
	if !ok {
		return fmt.Errorf("meta: %s: %w", key, ErrMissing)
	}
	return value.DecodeObject(out)
}

// ErrMissing reports an absent key.
var ErrMissing = errors.New("key not present")

// Apply applies a local patch optimistically. The revision is left
// untouched: it advances only when the server acknowledges.
func (m *Meta) Apply(patch *Patch) {
	if patch.Empty() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range patch.updated {
		m.values[key] = value
	}
	for key := range patch.deleted {
		delete(m.values, key)
	}
}

// ApplyWire applies an authoritative server change in wire form, as
// carried by party notifications.
func (m *Meta) ApplyWire(updated map[string]string, deleted []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyWireLocked(updated, deleted)
}

// Replace discards every entry and loads the server document.
func (m *Meta) Replace(document map[string]string, revision int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[Key]Value, len(document))
	m.applyWireLocked(document, nil)
	m.revision = revision
}

func (m *Meta) applyWireLocked(updated map[string]string, deleted []string) {
	for wire, encoded := range updated {
		key, err := ParseKey(wire)
		if err != nil {
			continue
		}
		value, err := Decode(key.Kind, encoded)
		if err != nil {
			key, value = Key{Name: wire, Kind: KindRaw}, Raw(encoded)
		}
		m.values[key] = value
	}
	for _, wire := range deleted {
		key, err := ParseKey(wire)
		if err != nil {
			continue
		}
		delete(m.values, key)
		delete(m.values, Key{Name: wire, Kind: KindRaw})
	}
}

// Snapshot returns the meta in wire form.
func (m *Meta) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	document := make(map[string]string, len(m.values))
	for key, value := range m.values {
		document[key.String()] = value.Encode()
	}
	return document
}

// Keys returns the stored keys sorted by wire form.
func (m *Meta) Keys() []Key {
	m.mu.RLock()
	keys := make([]Key, 0, len(m.values))
	for key := range m.values {
		keys = append(keys, key)
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the number of entries.
func (m *Meta) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Revision returns the remembered revision.
func (m *Meta) Revision() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// SetRevision sets the revision exactly, including backwards.
func (m *Meta) SetRevision(revision int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revision = revision
}

// RaiseRevision moves the revision to revision if that is higher and
// returns the resulting revision.
func (m *Meta) RaiseRevision(revision int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if revision > m.revision {
		m.revision = revision
	}
	return m.revision
}
