package rosnode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringMessageTemplate() *Message {
	return NewMessage("std_msgs/String", []Field{
		{Name: "data", Kind: KindString},
	})
}

func TestMessageCloneIsIndependent(t *testing.T) {
	tmpl := stringMessageTemplate()
	clone := tmpl.Clone()
	require.NoError(t, clone.SetString("data", "hello"))

	_, ok := tmpl.Get("data")
	require.True(t, ok)
	v, _ := tmpl.GetString("data")
	assert.Equal(t, "", v, "mutating a clone must not affect the template it was cloned from")

	got, _ := clone.GetString("data")
	assert.Equal(t, "hello", got)
}

func TestMessageSetWrongKindRejected(t *testing.T) {
	m := stringMessageTemplate()
	err := m.SetBool("data", true)
	require.Error(t, err)
	re, ok := AsRosError(err)
	require.True(t, ok)
	assert.Equal(t, KindBadArgument, re.Kind())
}

func TestMessageSetUnknownFieldRejected(t *testing.T) {
	m := stringMessageTemplate()
	err := m.SetString("nope", "x")
	require.Error(t, err)
}

func TestMessageMarshalUnmarshalRoundTripScalars(t *testing.T) {
	tmpl := NewMessage("test/Scalars", []Field{
		{Name: "a", Kind: KindInt8},
		{Name: "b", Kind: KindUint8},
		{Name: "c", Kind: KindInt16},
		{Name: "d", Kind: KindUint16},
		{Name: "e", Kind: KindInt32},
		{Name: "f", Kind: KindUint32},
		{Name: "g", Kind: KindInt64},
		{Name: "h", Kind: KindUint64},
		{Name: "i", Kind: KindFloat32},
		{Name: "j", Kind: KindFloat64},
		{Name: "k", Kind: KindBool},
		{Name: "l", Kind: KindString},
	})
	m := tmpl.Clone()
	m.Fields[0].Value = int8(-5)
	m.Fields[1].Value = uint8(250)
	m.Fields[2].Value = int16(-1000)
	m.Fields[3].Value = uint16(60000)
	m.Fields[4].Value = int32(-100000)
	m.Fields[5].Value = uint32(4000000000)
	m.Fields[6].Value = int64(-9000000000000)
	m.Fields[7].Value = uint64(18000000000000000000)
	m.Fields[8].Value = float32(3.5)
	m.Fields[9].Value = float64(2.71828)
	m.Fields[10].Value = true
	m.Fields[11].Value = "hello world"

	enc, err := m.MarshalBinary()
	require.NoError(t, err)

	decoded, err := tmpl.UnmarshalBinary(enc, nil)
	require.NoError(t, err)

	assert.Equal(t, m.Fields[0].Value, decoded.Fields[0].Value)
	assert.Equal(t, m.Fields[1].Value, decoded.Fields[1].Value)
	assert.Equal(t, m.Fields[2].Value, decoded.Fields[2].Value)
	assert.Equal(t, m.Fields[3].Value, decoded.Fields[3].Value)
	assert.Equal(t, m.Fields[4].Value, decoded.Fields[4].Value)
	assert.Equal(t, m.Fields[5].Value, decoded.Fields[5].Value)
	assert.Equal(t, m.Fields[6].Value, decoded.Fields[6].Value)
	assert.Equal(t, m.Fields[7].Value, decoded.Fields[7].Value)
	assert.Equal(t, m.Fields[8].Value, decoded.Fields[8].Value)
	assert.Equal(t, m.Fields[9].Value, decoded.Fields[9].Value)
	assert.Equal(t, m.Fields[10].Value, decoded.Fields[10].Value)
	assert.Equal(t, m.Fields[11].Value, decoded.Fields[11].Value)
}

func TestMessageRoundTripEmptyString(t *testing.T) {
	tmpl := stringMessageTemplate()
	m := tmpl.Clone()
	require.NoError(t, m.SetString("data", ""))

	enc, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, enc)

	decoded, err := tmpl.UnmarshalBinary(enc, nil)
	require.NoError(t, err)
	got, _ := decoded.GetString("data")
	assert.Equal(t, "", got)
}

func TestMessageRoundTripZeroLengthArray(t *testing.T) {
	tmpl := NewMessage("test/Ints", []Field{
		{Name: "values", Kind: KindArray, ElemKind: KindInt32},
	})
	m := tmpl.Clone()
	m.Fields[0].Value = []any{}

	enc, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, enc)

	decoded, err := tmpl.UnmarshalBinary(enc, nil)
	require.NoError(t, err)
	vals, _ := decoded.Fields[0].Value.([]any)
	assert.Len(t, vals, 0)
}

func TestMessageRoundTripFixedLengthArraySkipsCountPrefix(t *testing.T) {
	tmpl := NewMessage("test/Fixed", []Field{
		{Name: "triplet", Kind: KindArray, ElemKind: KindInt32, FixedLen: 3},
	})
	m := tmpl.Clone()
	m.Fields[0].Value = []any{int32(1), int32(2), int32(3)}

	enc, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, enc, 12, "a fixed-length array must not carry a 4-byte count prefix")

	decoded, err := tmpl.UnmarshalBinary(enc, nil)
	require.NoError(t, err)
	vals, _ := decoded.Fields[0].Value.([]any)
	require.Len(t, vals, 3)
	assert.Equal(t, int32(2), vals[1])
}

func TestMessageUnmarshalTruncatedPayloadReturnsProtocolMalformed(t *testing.T) {
	tmpl := stringMessageTemplate()
	_, err := tmpl.UnmarshalBinary([]byte{5, 0, 0, 0, 'h', 'i'}, nil)
	require.Error(t, err)
	re, ok := AsRosError(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolMalformed, re.Kind())
}

func TestMessageUnmarshalTruncatedHeaderReturnsProtocolMalformed(t *testing.T) {
	tmpl := NewMessage("test/I32", []Field{{Name: "v", Kind: KindInt32}})
	_, err := tmpl.UnmarshalBinary([]byte{1, 2}, nil)
	require.Error(t, err)
	re, ok := AsRosError(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolMalformed, re.Kind())
}

func TestMessageNestedMessageRoundTrip(t *testing.T) {
	header := NewMessage("std_msgs/Header", []Field{
		{Name: "seq", Kind: KindUint32},
		{Name: "frame_id", Kind: KindString},
	})
	tmpl := NewMessage("test/Stamped", []Field{
		{Name: "header", Kind: KindMessage, TypeName: "std_msgs/Header", Value: header},
		{Name: "data", Kind: KindString},
	})
	m := tmpl.Clone()
	nested, _ := m.Fields[0].Value.(*Message)
	require.NoError(t, nested.SetUint32("seq", 42))
	require.NoError(t, nested.SetString("frame_id", "base_link"))
	require.NoError(t, m.SetString("data", "payload"))

	enc, err := m.MarshalBinary()
	require.NoError(t, err)

	decoded, err := tmpl.UnmarshalBinary(enc, nil)
	require.NoError(t, err)
	decodedNested, _ := decoded.Fields[0].Value.(*Message)
	seq, _ := decodedNested.Get("seq")
	assert.Equal(t, uint32(42), seq.Value)
	frameID, _ := decodedNested.GetString("frame_id")
	assert.Equal(t, "base_link", frameID)
}

func TestMessageDurationAndTimeRoundTrip(t *testing.T) {
	tmpl := NewMessage("test/Stamp", []Field{
		{Name: "d", Kind: KindDuration},
		{Name: "t", Kind: KindTime},
	})
	m := tmpl.Clone()
	m.Fields[0].Value = 1500 * time.Millisecond
	stamp := time.Unix(1700000000, 250000000).UTC()
	m.Fields[1].Value = stamp

	enc, err := m.MarshalBinary()
	require.NoError(t, err)

	decoded, err := tmpl.UnmarshalBinary(enc, nil)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, decoded.Fields[0].Value)
	assert.True(t, stamp.Equal(decoded.Fields[1].Value.(time.Time)))
}

func TestMessageMD5StableAndCached(t *testing.T) {
	m := stringMessageTemplate()
	first := m.MD5()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, m.MD5())
}

func TestMessageMD5ChangesWithFieldOrder(t *testing.T) {
	a := NewMessage("test/Pair", []Field{
		{Name: "x", Kind: KindInt32},
		{Name: "y", Kind: KindInt32},
	})
	b := NewMessage("test/Pair", []Field{
		{Name: "y", Kind: KindInt32},
		{Name: "x", Kind: KindInt32},
	})
	assert.NotEqual(t, a.MD5(), b.MD5())
}

func TestMessageMD5OfNestedFieldReflectsNestedSchema(t *testing.T) {
	innerA := NewMessage("test/Inner", []Field{{Name: "v", Kind: KindInt32}})
	innerB := NewMessage("test/Inner", []Field{{Name: "v", Kind: KindInt64}})

	outerA := NewMessage("test/Outer", []Field{
		{Name: "inner", Kind: KindMessage, TypeName: "test/Inner", Value: innerA},
	})
	outerB := NewMessage("test/Outer", []Field{
		{Name: "inner", Kind: KindMessage, TypeName: "test/Inner", Value: innerB},
	})
	assert.NotEqual(t, outerA.MD5(), outerB.MD5(), "a nested field's MD5 must fold into the outer type's hash")
}

func TestTemplateResolverIsUsedForArrayOfMessageDecode(t *testing.T) {
	elem := NewMessage("test/Elem", []Field{{Name: "v", Kind: KindInt32}})

	resolve := func(typeName string) *Message {
		if typeName == "test/Elem" {
			return elem.Clone()
		}
		return NewMessage(typeName, nil)
	}

	tmpl := NewMessage("test/Arr", []Field{
		{Name: "items", Kind: KindArray, ElemKind: KindMessage, TypeName: "test/Elem"},
	})
	m := tmpl.Clone()
	e1 := elem.Clone()
	require.NoError(t, e1.set("v", KindInt32, int32(7)))
	m.Fields[0].Value = []any{e1}

	enc, err := m.MarshalBinary()
	require.NoError(t, err)

	decoded, err := tmpl.UnmarshalBinary(enc, resolve)
	require.NoError(t, err)
	items, _ := decoded.Fields[0].Value.([]any)
	require.Len(t, items, 1)
	nested, ok := items[0].(*Message)
	require.True(t, ok)
	v, _ := nested.Get("v")
	assert.Equal(t, int32(7), v.Value)
}
