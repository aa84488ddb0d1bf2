// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a tagged meta value. The zero Value is an empty KindRaw
// string.
type Value struct {
	kind   Kind
	text   string // KindString and KindRaw
	flag   bool
	object json.RawMessage
	number uint64
}

// String returns a KindString value.
func String(text string) Value { return Value{kind: KindString, text: text} }

// Bool returns a KindBool value.
func Bool(flag bool) Value { return Value{kind: KindBool, flag: flag} }

// Uint returns a KindUint value.
func Uint(number uint64) Value { return Value{kind: KindUint, number: number} }

// Raw returns a KindRaw value holding the wire string as-is.
func Raw(wire string) Value { return Value{kind: KindRaw, text: wire} }

// Object returns a KindObject value holding an already-encoded JSON
// document. The document is compacted so equal documents compare
// equal.
func Object(document json.RawMessage) (Value, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, document); err != nil {
		return Value{}, fmt.Errorf("meta: invalid object value: %w", err)
	}
	return Value{kind: KindObject, object: compact.Bytes()}, nil
}

// ObjectOf JSON-encodes v into a KindObject value.
func ObjectOf(v any) (Value, error) {
	document, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("meta: encoding object value: %w", err)
	}
	return Value{kind: KindObject, object: document}, nil
}

// MustObjectOf is ObjectOf for values whose encoding cannot fail
// (maps and structs of plain fields). Panics on error.
func MustObjectOf(v any) Value {
	value, err := ObjectOf(v)
	if err != nil {
		panic(err)
	}
	return value
}

// Kind returns the value's type.
func (v Value) Kind() Kind { return v.kind }

// Encode returns the wire string.
func (v Value) Encode() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindUint:
		return strconv.FormatUint(v.number, 10)
	case KindObject:
		return string(v.object)
	default:
		return v.text
	}
}

// Decode parses a wire string as a value of the given kind. Object
// values must be valid JSON. Booleans and integers follow the
// platform's encoding, which is lenient about surrounding whitespace
// but nothing else.
func Decode(kind Kind, wire string) (Value, error) {
	switch kind {
	case KindRaw:
		return Raw(wire), nil
	case KindString:
		return String(wire), nil
	case KindBool:
		flag, err := strconv.ParseBool(string(bytes.TrimSpace([]byte(wire))))
		if err != nil {
			return Value{}, fmt.Errorf("meta: decoding bool %q: %w", wire, err)
		}
		return Bool(flag), nil
	case KindUint:
		number, err := strconv.ParseUint(string(bytes.TrimSpace([]byte(wire))), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("meta: decoding uint %q: %w", wire, err)
		}
		return Uint(number), nil
	case KindObject:
		return Object(json.RawMessage(wire))
	}
	return Value{}, fmt.Errorf("meta: unknown kind %s", kind)
}

// Text returns the string of a KindString or KindRaw value.
func (v Value) Text() (string, bool) {
	if v.kind != KindString && v.kind != KindRaw {
		return "", false
	}
	return v.text, true
}

// Flag returns the boolean of a KindBool value.
func (v Value) Flag() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.flag, true
}

// Number returns the integer of a KindUint value.
func (v Value) Number() (uint64, bool) {
	if v.kind != KindUint {
		return 0, false
	}
	return v.number, true
}

// Document returns the JSON of a KindObject value.
func (v Value) Document() (json.RawMessage, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.object, true
}

// DecodeObject unmarshals a KindObject value into out.
func (v Value) DecodeObject(out any) error {
	if v.kind != KindObject {
		return fmt.Errorf("meta: %s value is not an object", v.kind)
	}
	return json.Unmarshal(v.object, out)
}

// Equal reports whether two values have the same kind and encoding.
func (v Value) Equal(other Value) bool {
	return v.kind == other.kind && v.Encode() == other.Encode()
}
