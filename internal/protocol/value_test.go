package protocol

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func roundTrip(t *testing.T, v any) any {
	t.Helper()
	data, err := EncodeValue(v)
	if err != nil {
		t.Fatalf("encode %T: %v", v, err)
	}
	d := NewDecoder(data)
	out, err := d.ReadValue()
	if err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	if d.Remaining() != 0 {
		t.Fatalf("decode %T left %d trailing bytes", v, d.Remaining())
	}
	return out
}

func TestScalarRoundTrip(t *testing.T) {
	values := []any{
		nil,
		true,
		false,
		byte(0),
		byte(255),
		int16(-1),
		int16(math.MaxInt16),
		int32(-70000),
		int64(math.MinInt64),
		float32(1.5),
		float64(-2.25),
		"",
		"hello world",
		"héllo ütf8",
	}
	for _, v := range values {
		got := roundTrip(t, v)
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip %#v: got %#v", v, got)
		}
	}
}

func TestSizedIntsKeepTheirTags(t *testing.T) {
	cases := []struct {
		v   any
		tag byte
	}{
		{int16(5), TagShort},
		{int32(5), TagInt},
		{int64(5), TagLong},
		{byte(5), TagByte},
	}
	for _, c := range cases {
		data, err := EncodeValue(c.v)
		if err != nil {
			t.Fatalf("encode %T: %v", c.v, err)
		}
		if data[0] != c.tag {
			t.Errorf("%T encoded with tag 0x%02X, want 0x%02X", c.v, data[0], c.tag)
		}
	}
}

func TestUntypedIntNarrows(t *testing.T) {
	cases := []struct {
		n   int
		tag byte
	}{
		{0, TagByte},
		{255, TagByte},
		{256, TagShort},
		{-1, TagShort},
		{40000, TagInt},
		{int(math.MaxInt32) + 1, TagLong},
	}
	for _, c := range cases {
		data, err := EncodeValue(c.n)
		if err != nil {
			t.Fatalf("encode %d: %v", c.n, err)
		}
		if data[0] != c.tag {
			t.Errorf("int %d encoded with tag 0x%02X, want 0x%02X", c.n, data[0], c.tag)
		}
	}
}

func TestArrayRoundTrip(t *testing.T) {
	values := []any{
		[]byte{1, 2, 3},
		[]byte{},
		[]int32{-1, 0, 1 << 20},
		[]string{"a", "", "ccc"},
		ObjectArray{byte(1), "two", int32(3), nil},
		TypedArray{ElemTag: TagInt, Items: []any{int32(1), int32(2)}},
	}
	for _, v := range values {
		got := roundTrip(t, v)
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip %#v: got %#v", v, got)
		}
	}
}

func TestHashtableRoundTrip(t *testing.T) {
	h := Hashtable{
		byte(1):  "one",
		"name":   "alpha",
		int32(7): []byte{0xAA},
	}
	got := roundTrip(t, h).(Hashtable)
	if !reflect.DeepEqual(got, h) {
		t.Errorf("round trip: got %#v want %#v", got, h)
	}
}

func TestDictionaryTypedKeysRoundTrip(t *testing.T) {
	d := Dictionary{
		KeyTag:   TagByte,
		ValueTag: 0,
		Items: map[any]any{
			byte(255): "room-1",
			byte(254): int32(4),
		},
	}
	got := roundTrip(t, d).(Dictionary)
	if got.KeyTag != d.KeyTag || got.ValueTag != d.ValueTag {
		t.Fatalf("tags changed: got (%#x,%#x)", got.KeyTag, got.ValueTag)
	}
	if !reflect.DeepEqual(got.Items, d.Items) {
		t.Errorf("items: got %#v want %#v", got.Items, d.Items)
	}
}

func TestCustomDataRoundTrip(t *testing.T) {
	values := []any{
		Vec2{X: 1, Y: -2},
		Vec3{X: 0.5, Y: 1.5, Z: -9},
		Quaternion{W: 1, X: 0, Y: 0, Z: 0},
		Player{ID: 42},
	}
	for _, v := range values {
		got := roundTrip(t, v)
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip %#v: got %#v", v, got)
		}
	}
}

func TestUnknownCustomVariantPreserved(t *testing.T) {
	blob := CustomBlob{Variant: 'Z', Data: []byte{9, 8, 7}}
	got := roundTrip(t, blob)
	if !reflect.DeepEqual(got, blob) {
		t.Errorf("unknown variant not preserved: got %#v", got)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	d := NewDecoder([]byte{0x00})
	_, err := d.ReadValue()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("want DecodeError, got %v", err)
	}
	if de.Offset != 1 {
		t.Errorf("offset = %d, want 1", de.Offset)
	}
}

func TestDecodeTruncatedString(t *testing.T) {
	// Declares 10 bytes of string but supplies 2.
	data := []byte{TagString, 0x00, 0x0A, 'a', 'b'}
	d := NewDecoder(data)
	if _, err := d.ReadValue(); err == nil {
		t.Fatal("want error for truncated string")
	}
}

func TestDecodeOversizedLengthRejected(t *testing.T) {
	// byte-array claiming 4 GiB must fail before allocating.
	data := []byte{TagByteArray, 0xFF, 0xFF, 0xFF, 0xFF}
	d := NewDecoder(data)
	if _, err := d.ReadValue(); err == nil {
		t.Fatal("want error for oversized byte-array length")
	}
}

func TestDecodeNonComparableHashtableKey(t *testing.T) {
	e := NewEncoder()
	e.buf.WriteByte(TagHashtable)
	e.writeBE(uint16(1))
	if err := e.WriteValue([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := e.WriteValue("v"); err != nil {
		t.Fatal(err)
	}
	d := NewDecoder(e.Bytes())
	if _, err := d.ReadValue(); err == nil {
		t.Fatal("want error for byte-array hash-table key")
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	if _, err := EncodeValue(struct{}{}); err == nil {
		t.Fatal("want error for unsupported type")
	}
}
