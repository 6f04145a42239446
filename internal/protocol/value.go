package protocol

// A wire value is represented by plain Go types so handler code can
// work with parameters without unwrapping:
//
//	null        nil
//	bool        bool
//	byte        byte
//	short       int16
//	int         int32
//	long        int64
//	float       float32
//	double      float64
//	string      string
//	byte-array  []byte
//	int-array   []int32
//	str-array   []string
//	typed-array TypedArray
//	obj-array   ObjectArray
//	hash-table  Hashtable
//	dictionary  Dictionary
//	custom-data Vec2, Vec3, Quaternion, Player or CustomBlob
//
// The untyped Go int is also accepted on encode and is written with the
// narrowest signed tag that fits the value.

// Hashtable is a loosely typed key/value mapping (tag 0x68). Keys are
// restricted to comparable wire values in practice (byte, string, ints).
type Hashtable map[any]any

// ObjectArray is an array of arbitrarily tagged values (tag 0x7A).
type ObjectArray []any

// TypedArray is a homogeneous array (tag 0x79) whose elements all share
// ElemTag and are encoded without per-element tags.
type TypedArray struct {
	ElemTag byte
	Items   []any
}

// Dictionary is a typed key/value mapping (tag 0x44). A KeyTag or
// ValueTag of zero means the tag is written inline per element.
type Dictionary struct {
	KeyTag   byte
	ValueTag byte
	Items    map[any]any
}

// Vec2 is custom-data variant 'W'.
type Vec2 struct {
	X, Y float32
}

// Vec3 is custom-data variant 'V'.
type Vec3 struct {
	X, Y, Z float32
}

// Quaternion is custom-data variant 'Q', encoded w,x,y,z.
type Quaternion struct {
	W, X, Y, Z float32
}

// Player is custom-data variant 'P': a reference to a player by id.
type Player struct {
	ID uint32
}

// CustomBlob preserves a custom-data value with an unrecognised variant
// marker as opaque bytes so it survives a decode/encode round trip.
type CustomBlob struct {
	Variant byte
	Data    []byte
}
