package document

import (
	"testing"

	"github.com/nyxmail/corestore/internal/store/schema"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := New(1, schema.CollectionMail, 42)
	d.Set(schema.PropMailSubject, TextValue("hello world"))
	d.Set(schema.PropMailReceivedAt, UintValue(1234567890))
	d.Set(schema.PropMailSize, UintValue(2048))
	d.Set(schema.PropMailBlobID, BlobValue([]byte("0123456789abcdef0123456789abcdef")))
	d.Tag(schema.PropMailKeywords, "$seen")
	d.Tag(schema.PropMailKeywords, "$flagged")
	d.Set(schema.PropMailThreadID, UintValue(7))

	buf := Encode(d)
	decoded, err := Decode(1, schema.CollectionMail, 42, buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	for id, v := range d.Properties {
		got, ok := decoded.Properties[id]
		if !ok {
			t.Fatalf("missing property %d after round-trip", id)
		}
		if !v.Equal(got) {
			t.Fatalf("property %d mismatch: want %+v got %+v", id, v, got)
		}
	}
	if len(decoded.Properties) != len(d.Properties) {
		t.Fatalf("property count mismatch: want %d got %d", len(d.Properties), len(decoded.Properties))
	}
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	if _, err := Decode(1, schema.CollectionMail, 1, []byte{serializationVersion}); err == nil {
		t.Fatalf("expected an error decoding a truncated buffer")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	if _, err := Decode(1, schema.CollectionMail, 1, []byte{99, 0}); err == nil {
		t.Fatalf("expected an error for an unrecognized encoding version")
	}
}

func TestEncodeDecodeObjectValue(t *testing.T) {
	d := New(1, schema.CollectionMailbox, 5)
	d.Set(schema.PropMailboxACL, Value{Type: schema.TypeObject, Obj: map[string]any{
		"grantee": uint64(7),
		"caps":    "ReadItems",
	}})

	buf := Encode(d)
	decoded, err := Decode(1, schema.CollectionMailbox, 5, buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := decoded.Properties[schema.PropMailboxACL].Obj
	if got["grantee"] != uint64(7) || got["caps"] != "ReadItems" {
		t.Fatalf("object round-trip mismatch: %+v", got)
	}
}
