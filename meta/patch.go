// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"fmt"
	"sort"
)

// Patch is a partial meta update: keys to set and keys to delete. A
// key is never in both sets; the later of Set and Delete wins.
type Patch struct {
	updated map[Key]Value
	deleted map[Key]struct{}
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{
		updated: make(map[Key]Value),
		deleted: make(map[Key]struct{}),
	}
}

// Set records key = value, cancelling any earlier Delete of key. It
// panics when the value's kind differs from the key's: keys and values
// are built from the same constant tables, so a mismatch is a bug.
func (p *Patch) Set(key Key, value Value) *Patch {
	if key.Kind != value.Kind() && key.Kind != KindRaw {
		panic(fmt.Sprintf("meta: %s value for %s key %s", value.Kind(), key.Kind, key))
	}
	delete(p.deleted, key)
	p.updated[key] = value
	return p
}

// Delete records the removal of key, cancelling any earlier Set.
func (p *Patch) Delete(key Key) *Patch {
	delete(p.updated, key)
	p.deleted[key] = struct{}{}
	return p
}

// Merge folds later into p. Entries of later win per key.
func (p *Patch) Merge(later *Patch) *Patch {
	if later == nil {
		return p
	}
	for key, value := range later.updated {
		p.Set(key, value)
	}
	for key := range later.deleted {
		p.Delete(key)
	}
	return p
}

// Clone returns an independent copy.
func (p *Patch) Clone() *Patch {
	return NewPatch().Merge(p)
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	return p == nil || len(p.updated) == 0 && len(p.deleted) == 0
}

// Updated returns the value set for key, if any.
func (p *Patch) Updated(key Key) (Value, bool) {
	value, ok := p.updated[key]
	return value, ok
}

// Deleted reports whether the patch removes key.
func (p *Patch) Deleted(key Key) bool {
	_, ok := p.deleted[key]
	return ok
}

// Wire returns the patch in request form: wire keys to encoded values,
// and the sorted wire keys to delete. Both are non-nil so they encode
// as {} and [].
func (p *Patch) Wire() (updated map[string]string, deleted []string) {
	updated = make(map[string]string, len(p.updated))
	for key, value := range p.updated {
		updated[key.String()] = value.Encode()
	}
	deleted = make([]string, 0, len(p.deleted))
	for key := range p.deleted {
		deleted = append(deleted, key.String())
	}
	sort.Strings(deleted)
	return updated, deleted
}
