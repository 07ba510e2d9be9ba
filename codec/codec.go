// Package codec implements the self-delimiting value encoding used for
// cache entry payloads.
//
// Each value is a one byte type tag followed by a tag-specific body, so the
// decoder always knows where a value ends. Supported values round-trip with
// their exact Go type. Boolean false has a reserved single byte literal so a
// stored false is never confused with a failed decode.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"
)

// Type tags.
const (
	tagNil      byte = 'N'
	tagFalse    byte = 'F'
	tagTrue     byte = 'T'
	tagInt      byte = 'i'
	tagInt8     byte = 'c'
	tagInt16    byte = 'h'
	tagInt32    byte = 'l'
	tagInt64    byte = 'q'
	tagUint     byte = 'u'
	tagUint8    byte = 'C'
	tagUint16   byte = 'H'
	tagUint32   byte = 'L'
	tagUint64   byte = 'Q'
	tagFloat32  byte = 'f'
	tagFloat64  byte = 'd'
	tagString   byte = 's'
	tagBytes    byte = 'y'
	tagTime     byte = 't'
	tagDuration byte = 'D'
	tagList     byte = 'a'
	tagMap      byte = 'm'
)

// MaxDepth bounds nesting of lists and maps.
const MaxDepth = 64

// FalseLiteral is the complete encoding of boolean false.
var FalseLiteral = []byte{tagFalse}

var (
	// ErrUnsupportedType is returned when encoding a value of a type the codec cannot represent.
	ErrUnsupportedType = errors.New("codec: unsupported value type")

	// ErrMalformed is returned when data is not a single well-formed encoded value.
	ErrMalformed = errors.New("codec: malformed value")
)

// IsFalse reports whether data is the encoding of boolean false.
func IsFalse(data []byte) bool {
	return len(data) == 1 && data[0] == tagFalse
}

// Encode encodes v.
func Encode(v any) ([]byte, error) {
	return appendValue(nil, v, 0)
}

func appendValue(buf []byte, v any, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedType, MaxDepth)
	}

	switch x := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case bool:
		if x {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case int:
		return binary.AppendVarint(append(buf, tagInt), int64(x)), nil
	case int8:
		return binary.AppendVarint(append(buf, tagInt8), int64(x)), nil
	case int16:
		return binary.AppendVarint(append(buf, tagInt16), int64(x)), nil
	case int32:
		return binary.AppendVarint(append(buf, tagInt32), int64(x)), nil
	case int64:
		return binary.AppendVarint(append(buf, tagInt64), x), nil
	case uint:
		return binary.AppendUvarint(append(buf, tagUint), uint64(x)), nil
	case uint8:
		return binary.AppendUvarint(append(buf, tagUint8), uint64(x)), nil
	case uint16:
		return binary.AppendUvarint(append(buf, tagUint16), uint64(x)), nil
	case uint32:
		return binary.AppendUvarint(append(buf, tagUint32), uint64(x)), nil
	case uint64:
		return binary.AppendUvarint(append(buf, tagUint64), x), nil
	case float32:
		return binary.BigEndian.AppendUint32(append(buf, tagFloat32), math.Float32bits(x)), nil
	case float64:
		return binary.BigEndian.AppendUint64(append(buf, tagFloat64), math.Float64bits(x)), nil
	case string:
		buf = binary.AppendUvarint(append(buf, tagString), uint64(len(x)))
		return append(buf, x...), nil
	case []byte:
		buf = binary.AppendUvarint(append(buf, tagBytes), uint64(len(x)))
		return append(buf, x...), nil
	case time.Time:
		b, err := x.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedType, err)
		}
		buf = binary.AppendUvarint(append(buf, tagTime), uint64(len(b)))
		return append(buf, b...), nil
	case time.Duration:
		return binary.AppendVarint(append(buf, tagDuration), int64(x)), nil
	case []any:
		buf = binary.AppendUvarint(append(buf, tagList), uint64(len(x)))
		for _, item := range x {
			var err error
			if buf, err = appendValue(buf, item, depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case map[string]any:
		buf = binary.AppendUvarint(append(buf, tagMap), uint64(len(x)))
		for _, k := range slices.Sorted(maps.Keys(x)) {
			buf = binary.AppendUvarint(buf, uint64(len(k)))
			buf = append(buf, k...)
			var err error
			if buf, err = appendValue(buf, x[k], depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// Decode decodes exactly one value from data. Trailing bytes are an error.
func Decode(data []byte) (any, error) {
	d := decoder{buf: data}
	v, err := d.value(0)
	if err != nil {
		return nil, err
	}
	if d.off != len(d.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf)-d.off)
	}
	return v, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrMalformed)
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) varint() (int64, error) {
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad varint", ErrMalformed)
	}
	d.off += n
	return v, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad uvarint", ErrMalformed)
	}
	d.off += n
	return v, nil
}

// length reads a length prefix and checks that at least width*length bytes remain.
func (d *decoder) length(width int) (int, error) {
	n, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if n > uint64(d.remaining()/width) {
		return 0, fmt.Errorf("%w: length %d exceeds remaining data", ErrMalformed, n)
	}
	return int(n), nil
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrMalformed)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) signed(bits int) (int64, error) {
	v, err := d.varint()
	if err != nil {
		return 0, err
	}
	if bits < 64 && (v < -(1<<(bits-1)) || v > 1<<(bits-1)-1) {
		return 0, fmt.Errorf("%w: value %d overflows int%d", ErrMalformed, v, bits)
	}
	return v, nil
}

func (d *decoder) unsigned(bits int) (uint64, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if bits < 64 && v > 1<<bits-1 {
		return 0, fmt.Errorf("%w: value %d overflows uint%d", ErrMalformed, v, bits)
	}
	return v, nil
}

func (d *decoder) value(depth int) (any, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, MaxDepth)
	}

	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagNil:
		return nil, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagInt:
		v, err := d.signed(strconv.IntSize)
		return int(v), err
	case tagInt8:
		v, err := d.signed(8)
		return int8(v), err
	case tagInt16:
		v, err := d.signed(16)
		return int16(v), err
	case tagInt32:
		v, err := d.signed(32)
		return int32(v), err
	case tagInt64:
		return d.signed(64)
	case tagUint:
		v, err := d.unsigned(strconv.IntSize)
		return uint(v), err
	case tagUint8:
		v, err := d.unsigned(8)
		return uint8(v), err
	case tagUint16:
		v, err := d.unsigned(16)
		return uint16(v), err
	case tagUint32:
		v, err := d.unsigned(32)
		return uint32(v), err
	case tagUint64:
		return d.unsigned(64)
	case tagFloat32:
		b, err := d.bytes(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case tagFloat64:
		b, err := d.bytes(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case tagString:
		n, err := d.length(1)
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(n)
		return string(b), err
	case tagBytes:
		n, err := d.length(1)
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(n)
		if err != nil {
			return nil, err
		}
		return slices.Clone(b), nil
	case tagTime:
		n, err := d.length(1)
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(n)
		if err != nil {
			return nil, err
		}
		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return t, nil
	case tagDuration:
		v, err := d.varint()
		return time.Duration(v), err
	case tagList:
		n, err := d.length(1)
		if err != nil {
			return nil, err
		}
		list := make([]any, n)
		for i := range list {
			if list[i], err = d.value(depth + 1); err != nil {
				return nil, err
			}
		}
		return list, nil
	case tagMap:
		n, err := d.length(2)
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, n)
		for range n {
			kn, err := d.length(1)
			if err != nil {
				return nil, err
			}
			k, err := d.bytes(kn)
			if err != nil {
				return nil, err
			}
			if m[string(k)], err = d.value(depth + 1); err != nil {
				return nil, err
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrMalformed, tag)
	}
}
