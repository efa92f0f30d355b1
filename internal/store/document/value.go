// Package document implements the typed property map and ORM diff engine
// described by the document model: a document is a mapping from property
// id to typed value, serialized as one binary blob per document, with a
// diff-based change tracker ("changes since source") that the write
// pipeline consumes to compute the minimal set of derived updates.
package document

import (
	"fmt"
	"sort"

	"github.com/nyxmail/corestore/internal/store/schema"
)

// Value is a typed property value. Exactly one of the typed fields is
// meaningful, selected by Type — the tagged-variant representation the
// design notes call for in place of a generic enum.
type Value struct {
	Type schema.PropertyType
	Text string
	Uint uint64
	Int  int64
	Float float64
	Bool bool
	Blob []byte // for TypeBlobRef, the 36-byte blob hash key (digest + length)
	Tags []string // for keyword-tagged text fields with multiple members
	Obj  map[string]any // for TypeObject
}

func TextValue(s string) Value  { return Value{Type: schema.TypeText, Text: s} }
func UintValue(v uint64) Value  { return Value{Type: schema.TypeUint, Uint: v} }
func IntValue(v int64) Value    { return Value{Type: schema.TypeInt, Int: v} }
func FloatValue(v float64) Value { return Value{Type: schema.TypeFloat, Float: v} }
func BoolValue(v bool) Value    { return Value{Type: schema.TypeBool, Bool: v} }
func BlobValue(hash []byte) Value { return Value{Type: schema.TypeBlobRef, Blob: hash} }
func TagValue(tags ...string) Value {
	sorted := append([]string{}, tags...)
	sort.Strings(sorted)
	return Value{Type: schema.TypeText, Tags: sorted}
}

// Equal reports deep equality between two values of the same property.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case schema.TypeText:
		if len(v.Tags) > 0 || len(o.Tags) > 0 {
			return stringSliceEqual(v.Tags, o.Tags)
		}
		return v.Text == o.Text
	case schema.TypeUint:
		return v.Uint == o.Uint
	case schema.TypeInt:
		return v.Int == o.Int
	case schema.TypeFloat:
		return v.Float == o.Float
	case schema.TypeBool:
		return v.Bool == o.Bool
	case schema.TypeBlobRef:
		return string(v.Blob) == string(o.Blob)
	case schema.TypeObject:
		return fmt.Sprint(v.Obj) == fmt.Sprint(o.Obj)
	case schema.TypeNull:
		return true
	default:
		return false
	}
}

func (v Value) IsNull() bool { return v.Type == schema.TypeNull }

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
