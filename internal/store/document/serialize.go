package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/nyxmail/corestore/internal/store/schema"
	"github.com/nyxmail/corestore/pkg/storeerr"
)

// serializationVersion lets the binary format evolve without breaking
// documents already on disk; Decode rejects versions it doesn't recognize.
const serializationVersion = 1

// Encode serializes a document's properties into the compact, versioned,
// length-prefixed binary value stored once per document in the Values
// family (see keycodec.ValuesDocumentPrefix for how fields are keyed).
func Encode(d *Document) []byte {
	var buf bytes.Buffer
	buf.WriteByte(serializationVersion)
	writeUvarint(&buf, uint64(len(d.Properties)))
	for id, v := range d.Properties {
		buf.WriteByte(byte(id))
		writeValue(&buf, v)
	}
	return buf.Bytes()
}

// Decode reconstructs a document's property map from Encode's output. A
// malformed buffer (truncated, unknown version, unknown type tag) is
// reported as DataCorruption: the spec requires reads to surface
// corruption rather than return incorrect results.
func Decode(account uint32, collection schema.Collection, id uint32, buf []byte) (*Document, error) {
	r := bytes.NewReader(buf)
	version, err := r.ReadByte()
	if err != nil {
		return nil, storeerr.ErrCorrupted.WithDetails("empty document blob")
	}
	if version != serializationVersion {
		return nil, storeerr.ErrCorrupted.WithDetails(fmt.Sprintf("unsupported document encoding version %d", version))
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, storeerr.ErrCorrupted.WithDetails("truncated property count")
	}

	d := New(account, collection, id)
	for i := uint64(0); i < count; i++ {
		propByte, err := r.ReadByte()
		if err != nil {
			return nil, storeerr.ErrCorrupted.WithDetails("truncated property id")
		}
		v, err := readValue(r)
		if err != nil {
			return nil, storeerr.ErrCorrupted.WithCause(err)
		}
		d.Properties[schema.PropertyID(propByte)] = v
	}
	return d, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.Type))
	switch v.Type {
	case schema.TypeText:
		if len(v.Tags) > 0 {
			buf.WriteByte(1) // tag-set marker
			writeUvarint(buf, uint64(len(v.Tags)))
			for _, t := range v.Tags {
				writeUvarint(buf, uint64(len(t)))
				buf.WriteString(t)
			}
		} else {
			buf.WriteByte(0)
			writeUvarint(buf, uint64(len(v.Text)))
			buf.WriteString(v.Text)
		}
	case schema.TypeUint:
		writeUvarint(buf, v.Uint)
	case schema.TypeInt:
		var tmp [binary.MaxVarintLen64]byte
		n := binary.PutVarint(tmp[:], v.Int)
		buf.Write(tmp[:n])
	case schema.TypeFloat:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float))
		buf.Write(b[:])
	case schema.TypeBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case schema.TypeBlobRef:
		writeUvarint(buf, uint64(len(v.Blob)))
		buf.Write(v.Blob)
	case schema.TypeObject:
		encodeObject(buf, v.Obj)
	case schema.TypeNull:
		// no payload
	}
}

func readValue(r *bytes.Reader) (Value, error) {
	typeByte, err := r.ReadByte()
	if err != nil {
		return Value{}, fmt.Errorf("truncated value type: %w", err)
	}
	v := Value{Type: schema.PropertyType(typeByte)}
	switch v.Type {
	case schema.TypeText:
		marker, err := r.ReadByte()
		if err != nil {
			return v, fmt.Errorf("truncated text marker: %w", err)
		}
		if marker == 1 {
			n, err := binary.ReadUvarint(r)
			if err != nil {
				return v, fmt.Errorf("truncated tag count: %w", err)
			}
			tags := make([]string, 0, n)
			for i := uint64(0); i < n; i++ {
				s, err := readString(r)
				if err != nil {
					return v, err
				}
				tags = append(tags, s)
			}
			v.Tags = tags
		} else {
			s, err := readString(r)
			if err != nil {
				return v, err
			}
			v.Text = s
		}
	case schema.TypeUint:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return v, fmt.Errorf("truncated uint: %w", err)
		}
		v.Uint = n
	case schema.TypeInt:
		n, err := binary.ReadVarint(r)
		if err != nil {
			return v, fmt.Errorf("truncated int: %w", err)
		}
		v.Int = n
	case schema.TypeFloat:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return v, fmt.Errorf("truncated float: %w", err)
		}
		v.Float = math.Float64frombits(binary.BigEndian.Uint64(b[:]))
	case schema.TypeBool:
		b, err := r.ReadByte()
		if err != nil {
			return v, fmt.Errorf("truncated bool: %w", err)
		}
		v.Bool = b == 1
	case schema.TypeBlobRef:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return v, fmt.Errorf("truncated blob ref length: %w", err)
		}
		blob := make([]byte, n)
		if _, err := io.ReadFull(r, blob); err != nil {
			return v, fmt.Errorf("truncated blob ref: %w", err)
		}
		v.Blob = blob
	case schema.TypeObject:
		obj, err := decodeObject(r)
		if err != nil {
			return v, err
		}
		v.Obj = obj
	case schema.TypeNull:
		// no payload
	default:
		return v, fmt.Errorf("unknown property type tag %d", typeByte)
	}
	return v, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", fmt.Errorf("truncated string length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("truncated string: %w", err)
	}
	return string(buf), nil
}

// encodeObject serializes a flat string-keyed map of primitives. One
// level of nesting is enough: no collection schema needs deeper
// structure.
func encodeObject(buf *bytes.Buffer, m map[string]any) {
	writeUvarint(buf, uint64(len(m)))
	for k, v := range m {
		writeUvarint(buf, uint64(len(k)))
		buf.WriteString(k)
		switch t := v.(type) {
		case string:
			buf.WriteByte(0)
			writeUvarint(buf, uint64(len(t)))
			buf.WriteString(t)
		case uint64:
			buf.WriteByte(1)
			writeUvarint(buf, t)
		case int64:
			buf.WriteByte(2)
			var tmp [binary.MaxVarintLen64]byte
			n := binary.PutVarint(tmp[:], t)
			buf.Write(tmp[:n])
		case bool:
			buf.WriteByte(3)
			if t {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		default:
			// unsupported nested kinds degrade to their string form rather
			// than failing the whole document encode.
			buf.WriteByte(0)
			s := fmt.Sprint(t)
			writeUvarint(buf, uint64(len(s)))
			buf.WriteString(s)
		}
	}
}

func decodeObject(r *bytes.Reader) (map[string]any, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("truncated object field count: %w", err)
	}
	m := make(map[string]any, n)
	for i := uint64(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("truncated object value kind: %w", err)
		}
		switch kind {
		case 0:
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			m[k] = s
		case 1:
			v, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, fmt.Errorf("truncated object uint value: %w", err)
			}
			m[k] = v
		case 2:
			v, err := binary.ReadVarint(r)
			if err != nil {
				return nil, fmt.Errorf("truncated object int value: %w", err)
			}
			m[k] = v
		case 3:
			b, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("truncated object bool value: %w", err)
			}
			m[k] = b == 1
		default:
			return nil, fmt.Errorf("unknown object value kind %d", kind)
		}
	}
	return m, nil
}
