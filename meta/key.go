// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package meta models the key/value state the party service keeps for
// a party and for each of its members.
//
// On the wire every meta value is a string and the value's type is
// encoded as a one-letter suffix on the key ("Default:LobbyState_j").
// This package makes the type explicit: a [Key] pairs a name with a
// [Kind], a [Value] is a tagged union with an Encode/Decode pair, and
// [Meta] is the revisioned replica of one entity's state. A [Patch] is
// a partial update (keys set plus keys removed) with latest-wins merge
// semantics, the unit the party patch queue coalesces and submits.
package meta

import (
	"fmt"
	"strings"
)

// Kind is the value type of a meta key.
type Kind uint8

const (
	// KindRaw is a key without a recognised type suffix. Its value is
	// kept as the opaque wire string and its name is the full wire key.
	KindRaw Kind = iota
	// KindString is a plain string value ("_s").
	KindString
	// KindBool is "true" or "false" ("_b").
	KindBool
	// KindObject is a JSON document ("_j").
	KindObject
	// KindUint is a decimal unsigned integer ("_U").
	KindUint
)

var kindSuffixes = map[Kind]string{
	KindString: "s",
	KindBool:   "b",
	KindObject: "j",
	KindUint:   "U",
}

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindUint:
		return "uint"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Suffix returns the wire suffix letter, or "" for KindRaw.
func (k Kind) Suffix() string { return kindSuffixes[k] }

// Key identifies one meta entry.
type Key struct {
	// Name is the key without its type suffix, e.g.
	// "Default:AthenaCosmeticLoadout".
	Name string
	// Kind is the value type.
	Kind Kind
}

// StringKey, BoolKey, ObjectKey and UintKey build typed keys.
func StringKey(name string) Key { return Key{Name: name, Kind: KindString} }
func BoolKey(name string) Key   { return Key{Name: name, Kind: KindBool} }
func ObjectKey(name string) Key { return Key{Name: name, Kind: KindObject} }
func UintKey(name string) Key   { return Key{Name: name, Kind: KindUint} }

// String returns the wire form of the key.
func (k Key) String() string {
	if k.Kind == KindRaw {
		return k.Name
	}
	return k.Name + "_" + k.Kind.Suffix()
}

// ParseKey splits a wire key into name and kind. Keys without a
// recognised suffix parse as KindRaw with the full wire key as name;
// ParseKey never fails on non-empty input.
func ParseKey(wire string) (Key, error) {
	if wire == "" {
		return Key{}, fmt.Errorf("meta: empty key")
	}
	separator := strings.LastIndexByte(wire, '_')
	if separator > 0 && separator == len(wire)-2 {
		suffix := wire[separator+1:]
		for kind, candidate := range kindSuffixes {
			if candidate == suffix {
				return Key{Name: wire[:separator], Kind: kind}, nil
			}
		}
	}
	return Key{Name: wire, Kind: KindRaw}, nil
}
