package document

import (
	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// Document is a typed mapping from property id to value, the unit the
// write pipeline reads, diffs, and persists as one binary blob per
// (account, collection, document).
type Document struct {
	Account    uint32
	Collection schema.Collection
	ID         uint32
	Properties map[schema.PropertyID]Value
}

// New returns an empty document ready for insert.
func New(account uint32, collection schema.Collection, id uint32) *Document {
	return &Document{
		Account:    account,
		Collection: collection,
		ID:         id,
		Properties: make(map[schema.PropertyID]Value),
	}
}

// Clone returns a deep-enough copy suitable as an ORM "working copy" to
// diff against an unmodified "source" snapshot.
func (d *Document) Clone() *Document {
	cp := New(d.Account, d.Collection, d.ID)
	for k, v := range d.Properties {
		cp.Properties[k] = v
	}
	return cp
}

// Set sets or overwrites a property.
func (d *Document) Set(property schema.PropertyID, v Value) {
	d.Properties[property] = v
}

// Remove deletes a property and returns the previous value, if any.
func (d *Document) Remove(property schema.PropertyID) (Value, bool) {
	old, ok := d.Properties[property]
	if ok {
		delete(d.Properties, property)
	}
	return old, ok
}

// Tag adds tag to the tag set held by property, creating it if absent.
func (d *Document) Tag(property schema.PropertyID, tag string) {
	v := d.Properties[property]
	for _, t := range v.Tags {
		if t == tag {
			return
		}
	}
	v.Type = schema.TypeText
	v.Tags = append(append([]string{}, v.Tags...), tag)
	d.Properties[property] = v
}

// Untag removes tag from property's tag set.
func (d *Document) Untag(property schema.PropertyID, tag string) {
	v, ok := d.Properties[property]
	if !ok {
		return
	}
	out := v.Tags[:0]
	for _, t := range v.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	v.Tags = out
	d.Properties[property] = v
}

// InsertValidate enforces the collection schema's required-property
// invariant before an Insert write is accepted.
func InsertValidate(doc *Document, sc *schema.CollectionSchema) error {
	for _, req := range sc.RequiredFields() {
		if _, ok := doc.Properties[req]; !ok {
			f := sc.Fields[req]
			return storeerr.ErrSchemaViolation.WithDetails("missing required property '" + f.Name + "'")
		}
	}
	for id := range doc.Properties {
		if _, ok := sc.Fields[id]; !ok {
			return storeerr.ErrSchemaViolation.WithDetails("property not declared by collection schema")
		}
	}
	return nil
}

// MergeValidate enforces the same invariant for an Update, where the
// merged document (source properties overlaid with changes) must still
// satisfy every required field — deleting a required property is
// rejected rather than silently tolerated.
func MergeValidate(merged *Document, sc *schema.CollectionSchema) error {
	return InsertValidate(merged, sc)
}
