package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Encoder writes tagged values into an in-memory buffer. The zero value
// is ready to use; a single Encoder may be reused via Reset.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder creates an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Reset clears the encoder for reuse.
func (e *Encoder) Reset() {
	e.buf.Reset()
}

// Bytes returns the encoded bytes accumulated so far.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Len returns the current encoded size.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// EncodeValue encodes v as a single tagged value and returns the bytes.
func EncodeValue(v any) ([]byte, error) {
	e := NewEncoder()
	if err := e.WriteValue(v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// WriteValue writes one tagged value. Sized integer types keep their
// width; the untyped Go int is written with the narrowest signed tag
// that fits the value.
func (e *Encoder) WriteValue(v any) error {
	switch t := v.(type) {
	case nil:
		e.buf.WriteByte(TagNull)
	case bool:
		e.buf.WriteByte(TagBool)
		if t {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
	case byte:
		e.buf.WriteByte(TagByte)
		e.buf.WriteByte(t)
	case int16:
		e.buf.WriteByte(TagShort)
		e.writeBE(t)
	case int32:
		e.buf.WriteByte(TagInt)
		e.writeBE(t)
	case int64:
		e.buf.WriteByte(TagLong)
		e.writeBE(t)
	case int:
		e.writeNarrowInt(int64(t))
	case float32:
		e.buf.WriteByte(TagFloat)
		e.writeBE(math.Float32bits(t))
	case float64:
		e.buf.WriteByte(TagDouble)
		e.writeBE(math.Float64bits(t))
	case string:
		e.buf.WriteByte(TagString)
		return e.writeString(t)
	case []byte:
		e.buf.WriteByte(TagByteArray)
		e.writeBE(uint32(len(t)))
		e.buf.Write(t)
	case []int32:
		e.buf.WriteByte(TagIntArray)
		e.writeBE(uint32(len(t)))
		for _, n := range t {
			e.writeBE(n)
		}
	case []string:
		e.buf.WriteByte(TagStringArray)
		if err := e.writeU16Len(len(t), "string-array"); err != nil {
			return err
		}
		for _, s := range t {
			if err := e.writeString(s); err != nil {
				return err
			}
		}
	case TypedArray:
		e.buf.WriteByte(TagTypedArray)
		if err := e.writeU16Len(len(t.Items), "typed-array"); err != nil {
			return err
		}
		e.buf.WriteByte(t.ElemTag)
		for _, item := range t.Items {
			if err := e.writeUntagged(t.ElemTag, item); err != nil {
				return err
			}
		}
	case ObjectArray:
		e.buf.WriteByte(TagObjectArray)
		if err := e.writeU16Len(len(t), "object-array"); err != nil {
			return err
		}
		for _, item := range t {
			if err := e.WriteValue(item); err != nil {
				return err
			}
		}
	case Hashtable:
		e.buf.WriteByte(TagHashtable)
		if err := e.writeU16Len(len(t), "hash-table"); err != nil {
			return err
		}
		for k, val := range t {
			if err := e.WriteValue(k); err != nil {
				return err
			}
			if err := e.WriteValue(val); err != nil {
				return err
			}
		}
	case Dictionary:
		return e.writeDictionary(t)
	case Vec2:
		e.writeCustomHeader(CustomVec2, 8)
		e.writeBE(t)
	case Vec3:
		e.writeCustomHeader(CustomVec3, 12)
		e.writeBE(t)
	case Quaternion:
		e.writeCustomHeader(CustomQuaternion, 16)
		e.writeBE(t)
	case Player:
		e.writeCustomHeader(CustomPlayer, 4)
		e.writeBE(t.ID)
	case CustomBlob:
		if len(t.Data) > math.MaxUint16 {
			return fmt.Errorf("custom-data payload too large: %d bytes", len(t.Data))
		}
		e.writeCustomHeader(t.Variant, uint16(len(t.Data)))
		e.buf.Write(t.Data)
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

// writeNarrowInt picks the smallest signed tag that can hold n.
func (e *Encoder) writeNarrowInt(n int64) {
	switch {
	case n >= 0 && n <= math.MaxUint8:
		e.buf.WriteByte(TagByte)
		e.buf.WriteByte(byte(n))
	case n >= math.MinInt16 && n <= math.MaxInt16:
		e.buf.WriteByte(TagShort)
		e.writeBE(int16(n))
	case n >= math.MinInt32 && n <= math.MaxInt32:
		e.buf.WriteByte(TagInt)
		e.writeBE(int32(n))
	default:
		e.buf.WriteByte(TagLong)
		e.writeBE(n)
	}
}

func (e *Encoder) writeDictionary(d Dictionary) error {
	e.buf.WriteByte(TagDictionary)
	e.buf.WriteByte(d.KeyTag)
	e.buf.WriteByte(d.ValueTag)
	if err := e.writeU16Len(len(d.Items), "dictionary"); err != nil {
		return err
	}
	for k, v := range d.Items {
		if err := e.writeDictEntry(d.KeyTag, k); err != nil {
			return err
		}
		if err := e.writeDictEntry(d.ValueTag, v); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeDictEntry(tag byte, v any) error {
	if tag == 0 || tag == TagNull {
		return e.WriteValue(v)
	}
	return e.writeUntagged(tag, v)
}

// writeUntagged writes the body of v, which must match the declared tag.
func (e *Encoder) writeUntagged(tag byte, v any) error {
	start := e.buf.Len()
	if err := e.WriteValue(v); err != nil {
		return err
	}
	written := e.buf.Bytes()[start:]
	if len(written) == 0 || written[0] != tag {
		return fmt.Errorf("value of type %T does not match declared tag 0x%02X", v, tag)
	}
	// Strip the redundant tag byte in place.
	copy(written, written[1:])
	e.buf.Truncate(e.buf.Len() - 1)
	return nil
}

func (e *Encoder) writeCustomHeader(variant byte, size uint16) {
	e.buf.WriteByte(TagCustom)
	e.buf.WriteByte(variant)
	e.writeBE(size)
}

func (e *Encoder) writeString(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	e.writeBE(uint16(len(s)))
	e.buf.WriteString(s)
	return nil
}

func (e *Encoder) writeU16Len(n int, what string) error {
	if n > math.MaxUint16 {
		return fmt.Errorf("%s too long: %d elements", what, n)
	}
	e.writeBE(uint16(n))
	return nil
}

func (e *Encoder) writeBE(v any) {
	binary.Write(&e.buf, binary.BigEndian, v)
}
