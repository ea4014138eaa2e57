// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind tags the variant payload of a Field: a tagged union over the
// closed set of primitive kinds plus nested-message and array.
type Kind int

const (
	KindInt8 Kind = iota
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindBool
	KindString
	KindDuration
	KindTime
	KindMessage
	KindArray
)

func (k Kind) String() string {
	names := []string{
		"int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64",
		"float32", "float64", "bool", "string", "duration", "time", "message", "array",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "unknown"
	}
	return names[k]
}

// Field is one entry of a Message's ordered field tree.
type Field struct {
	Name     string
	Kind     Kind
	TypeName string // nested/array-of-message type name, e.g. "std_msgs/Header"
	ElemKind Kind   // valid when Kind == KindArray
	FixedLen int    // >0 for a fixed-size array (type[N]); 0 means variable-length
	Value    any
}

// Message is a self-describing, recursive, ordered field tree. A
// Message is either a template (built once per registered type name
// and cached) or a clone of a template that a publisher/caller has
// populated with values.
type Message struct {
	TypeName string
	Fields   []Field
	md5      string // computed lazily, cached
}

// NewMessage creates an empty template for typeName with the given
// ordered fields.
func NewMessage(typeName string, fields []Field) *Message {
	return &Message{TypeName: typeName, Fields: append([]Field{}, fields...)}
}

// Clone deep-copies a Message (template or populated instance).
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := &Message{TypeName: m.TypeName, md5: m.md5}
	out.Fields = make([]Field, len(m.Fields))
	for i, f := range m.Fields {
		out.Fields[i] = cloneField(f)
	}
	return out
}

func cloneField(f Field) Field {
	nf := f
	switch v := f.Value.(type) {
	case *Message:
		nf.Value = v.Clone()
	case []any:
		cp := make([]any, len(v))
		for i, e := range v {
			if nested, ok := e.(*Message); ok {
				cp[i] = nested.Clone()
			} else {
				cp[i] = e
			}
		}
		nf.Value = cp
	}
	return nf
}

// Get returns the named field, or ok=false if no such field exists.
// Lookup is by name against the template's ordered field list (linear
// scan is acceptable; a typical message has under 16 fields).
func (m *Message) Get(name string) (*Field, bool) {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i], true
		}
	}
	return nil, false
}

func (m *Message) set(name string, kind Kind, value any) error {
	f, ok := m.Get(name)
	if !ok {
		return NewRosError(fmt.Sprintf("no such field %q on %s", name, m.TypeName), KindBadArgument)
	}
	if f.Kind != kind {
		return NewRosError(fmt.Sprintf("field %q is %s, not %s", name, f.Kind, kind), KindBadArgument)
	}
	f.Value = value
	return nil
}

func (m *Message) SetString(name, v string) error   { return m.set(name, KindString, v) }
func (m *Message) SetBool(name string, v bool) error { return m.set(name, KindBool, v) }
func (m *Message) SetInt32(name string, v int32) error { return m.set(name, KindInt32, v) }
func (m *Message) SetUint32(name string, v uint32) error { return m.set(name, KindUint32, v) }
func (m *Message) SetInt64(name string, v int64) error { return m.set(name, KindInt64, v) }
func (m *Message) SetFloat64(name string, v float64) error { return m.set(name, KindFloat64, v) }

func (m *Message) GetString(name string) (string, bool) {
	f, ok := m.Get(name)
	if !ok || f.Kind != KindString {
		return "", false
	}
	s, _ := f.Value.(string)
	return s, true
}

func (m *Message) GetInt32(name string) (int32, bool) {
	f, ok := m.Get(name)
	if !ok || f.Kind != KindInt32 {
		return 0, false
	}
	v, _ := f.Value.(int32)
	return v, true
}

func (m *Message) GetBool(name string) (bool, bool) {
	f, ok := m.Get(name)
	if !ok || f.Kind != KindBool {
		return false, false
	}
	v, _ := f.Value.(bool)
	return v, true
}

// CanonicalText builds the canonical textual schema used to compute the
// type's MD5 hash. Every field contributes its type and name, in field
// order, so renaming or reordering fields changes the hash. A singular
// nested message field contributes its own MD5 (the real ROS "genmsg"
// algorithm), not its raw field list; an array-of-message field
// contributes only its element type name.
func (m *Message) CanonicalText() string {
	var b strings.Builder
	for _, f := range m.Fields {
		switch f.Kind {
		case KindMessage:
			nested, _ := f.Value.(*Message)
			if nested == nil {
				nested = NewMessage(f.TypeName, nil)
			}
			fmt.Fprintf(&b, "%s %s\n", nested.MD5(), f.Name)
		case KindArray:
			suffix := "[]"
			if f.FixedLen > 0 {
				suffix = fmt.Sprintf("[%d]", f.FixedLen)
			}
			if f.ElemKind == KindMessage {
				fmt.Fprintf(&b, "%s%s %s\n", f.TypeName, suffix, f.Name)
			} else {
				fmt.Fprintf(&b, "%s%s %s\n", f.ElemKind, suffix, f.Name)
			}
		default:
			fmt.Fprintf(&b, "%s %s\n", f.Kind, f.Name)
		}
	}
	return b.String()
}

// MD5 returns the type-level MD5 hash exchanged in peer headers,
// computed once and cached. The canonical text is NFC-normalized
// first so that a schema loaded from a UTF-8 file on two different
// platforms always hashes identically.
func (m *Message) MD5() string {
	if m.md5 != "" {
		return m.md5
	}
	text := norm.NFC.String(m.CanonicalText())
	sum := md5.Sum([]byte(text))
	m.md5 = fmt.Sprintf("%x", sum)
	return m.md5
}

// --- wire codec: length-prefixed binary encoding of a populated Message ---

// MarshalBinary encodes m's populated fields in declaration order:
// integers little-endian, strings as 4-byte length + bytes, arrays as
// 4-byte count + elements, nested messages inlined with no length
// prefix of their own.
func (m *Message) MarshalBinary() ([]byte, error) {
	var buf []byte
	for _, f := range m.Fields {
		enc, err := encodeField(f)
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

func encodeField(f Field) ([]byte, error) {
	switch f.Kind {
	case KindInt8:
		return []byte{byte(toInt64(f.Value))}, nil
	case KindUint8:
		return []byte{byte(toUint64(f.Value))}, nil
	case KindBool:
		v, _ := f.Value.(bool)
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case KindInt16, KindUint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(toUint64(f.Value)))
		return b, nil
	case KindInt32, KindUint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(toUint64(f.Value)))
		return b, nil
	case KindInt64, KindUint64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, toUint64(f.Value))
		return b, nil
	case KindFloat32:
		v, _ := f.Value.(float32)
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		return b, nil
	case KindFloat64:
		v, _ := f.Value.(float64)
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		return b, nil
	case KindString:
		s, _ := f.Value.(string)
		b := make([]byte, 4+len(s))
		binary.LittleEndian.PutUint32(b, uint32(len(s)))
		copy(b[4:], s)
		return b, nil
	case KindDuration:
		d, _ := f.Value.(time.Duration)
		return encodeSecNsec(d), nil
	case KindTime:
		t, _ := f.Value.(time.Time)
		return encodeSecNsec(time.Duration(t.Unix())*time.Second + time.Duration(t.Nanosecond())), nil
	case KindMessage:
		nested, _ := f.Value.(*Message)
		if nested == nil {
			return nil, NewRosError(fmt.Sprintf("nested field %q is nil", f.Name), KindBadArgument)
		}
		return nested.MarshalBinary()
	case KindArray:
		return encodeArray(f)
	default:
		return nil, NewRosError(fmt.Sprintf("unknown field kind %d", f.Kind), KindInternalInvariant)
	}
}

func encodeSecNsec(d time.Duration) []byte {
	sec := int32(d / time.Second)
	nsec := int32(d % time.Second)
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], uint32(sec))
	binary.LittleEndian.PutUint32(b[4:8], uint32(nsec))
	return b
}

func encodeArray(f Field) ([]byte, error) {
	elems, _ := f.Value.([]any)
	// Maximum array length 2^31-1 is rejected with bad-argument.
	if len(elems) > 1<<31-1 {
		return nil, NewRosError("array length exceeds 2^31-1", KindBadArgument)
	}
	var body []byte
	for _, e := range elems {
		elemField := Field{Name: f.Name, Kind: f.ElemKind, TypeName: f.TypeName, Value: e}
		enc, err := encodeField(elemField)
		if err != nil {
			return nil, err
		}
		body = append(body, enc...)
	}
	if f.FixedLen > 0 {
		return body, nil
	}
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, uint32(len(elems)))
	return append(hdr, body...), nil
}

// UnmarshalBinary clones the receiver as a template and fills the clone
// from data, returning the populated Message. A truncated or malformed
// payload returns a RosError with KindProtocolMalformed, never a
// partial Message.
// UnmarshalBinary takes an explicit resolver used to materialize
// templates for nested array-of-message fields (nil uses an empty
// template per type name). Callers pass the owning Node's loader
// rather than relying on shared package state, so two Nodes with
// different loaders never interfere with each other's decoding.
func (tmpl *Message) UnmarshalBinary(data []byte, resolve TemplateResolver) (*Message, error) {
	if resolve == nil {
		resolve = defaultTemplateResolver
	}
	out := tmpl.Clone()
	cur := 0
	for i := range out.Fields {
		n, err := decodeFieldInto(&out.Fields[i], data[cur:], resolve)
		if err != nil {
			return nil, err
		}
		cur += n
	}
	return out, nil
}

func decodeFieldInto(f *Field, data []byte, resolve TemplateResolver) (int, error) {
	switch f.Kind {
	case KindInt8:
		if len(data) < 1 {
			return 0, errShort(f.Name)
		}
		f.Value = int8(data[0])
		return 1, nil
	case KindUint8:
		if len(data) < 1 {
			return 0, errShort(f.Name)
		}
		f.Value = data[0]
		return 1, nil
	case KindBool:
		if len(data) < 1 {
			return 0, errShort(f.Name)
		}
		f.Value = data[0] != 0
		return 1, nil
	case KindInt16:
		if len(data) < 2 {
			return 0, errShort(f.Name)
		}
		f.Value = int16(binary.LittleEndian.Uint16(data))
		return 2, nil
	case KindUint16:
		if len(data) < 2 {
			return 0, errShort(f.Name)
		}
		f.Value = binary.LittleEndian.Uint16(data)
		return 2, nil
	case KindInt32:
		if len(data) < 4 {
			return 0, errShort(f.Name)
		}
		f.Value = int32(binary.LittleEndian.Uint32(data))
		return 4, nil
	case KindUint32:
		if len(data) < 4 {
			return 0, errShort(f.Name)
		}
		f.Value = binary.LittleEndian.Uint32(data)
		return 4, nil
	case KindInt64:
		if len(data) < 8 {
			return 0, errShort(f.Name)
		}
		f.Value = int64(binary.LittleEndian.Uint64(data))
		return 8, nil
	case KindUint64:
		if len(data) < 8 {
			return 0, errShort(f.Name)
		}
		f.Value = binary.LittleEndian.Uint64(data)
		return 8, nil
	case KindFloat32:
		if len(data) < 4 {
			return 0, errShort(f.Name)
		}
		f.Value = math.Float32frombits(binary.LittleEndian.Uint32(data))
		return 4, nil
	case KindFloat64:
		if len(data) < 8 {
			return 0, errShort(f.Name)
		}
		f.Value = math.Float64frombits(binary.LittleEndian.Uint64(data))
		return 8, nil
	case KindString:
		if len(data) < 4 {
			return 0, errShort(f.Name)
		}
		n := int(binary.LittleEndian.Uint32(data))
		if n < 0 || len(data) < 4+n {
			return 0, errShort(f.Name)
		}
		f.Value = string(data[4 : 4+n])
		return 4 + n, nil
	case KindDuration:
		if len(data) < 8 {
			return 0, errShort(f.Name)
		}
		sec := int32(binary.LittleEndian.Uint32(data[0:4]))
		nsec := int32(binary.LittleEndian.Uint32(data[4:8]))
		f.Value = time.Duration(sec)*time.Second + time.Duration(nsec)
		return 8, nil
	case KindTime:
		if len(data) < 8 {
			return 0, errShort(f.Name)
		}
		sec := int32(binary.LittleEndian.Uint32(data[0:4]))
		nsec := int32(binary.LittleEndian.Uint32(data[4:8]))
		f.Value = time.Unix(int64(sec), int64(nsec)).UTC()
		return 8, nil
	case KindMessage:
		nested, _ := f.Value.(*Message)
		if nested == nil {
			return 0, NewRosError(fmt.Sprintf("nested field %q has no template", f.Name), KindInternalInvariant)
		}
		n := 0
		for i := range nested.Fields {
			k, err := decodeFieldInto(&nested.Fields[i], data[n:], resolve)
			if err != nil {
				return 0, err
			}
			n += k
		}
		return n, nil
	case KindArray:
		return decodeArrayInto(f, data, resolve)
	default:
		return 0, NewRosError(fmt.Sprintf("unknown field kind %d", f.Kind), KindInternalInvariant)
	}
}

func decodeArrayInto(f *Field, data []byte, resolve TemplateResolver) (int, error) {
	count := f.FixedLen
	cur := 0
	if f.FixedLen == 0 {
		if len(data) < 4 {
			return 0, errShort(f.Name)
		}
		count = int(binary.LittleEndian.Uint32(data))
		cur = 4
	}
	elems := make([]any, count)
	for i := 0; i < count; i++ {
		elemField := Field{Name: f.Name, Kind: f.ElemKind, TypeName: f.TypeName}
		if f.ElemKind == KindMessage {
			elemField.Value = resolve(f.TypeName)
		}
		n, err := decodeFieldInto(&elemField, data[cur:], resolve)
		if err != nil {
			return 0, err
		}
		elems[i] = elemField.Value
		cur += n
	}
	f.Value = elems
	return cur, nil
}

func errShort(field string) error {
	return NewRosError(fmt.Sprintf("truncated payload decoding field %q", field), KindProtocolMalformed)
}

// TemplateResolver materializes an owned template for a named message
// type, used when decoding array-of-message fields (each element needs
// its own template instance, unlike a singular nested message field
// which already carries one in Field.Value). A Node passes a resolver
// backed by its own loader (Node.templateResolver) explicitly at each
// decode call site rather than through shared package state.
type TemplateResolver func(typeName string) *Message

// defaultTemplateResolver is used when a caller has no loader
// configured; it returns an empty template so decoding never panics,
// even for an unregistered nested type.
func defaultTemplateResolver(typeName string) *Message { return NewMessage(typeName, nil) }

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	case int8:
		return uint64(n)
	case int16:
		return uint64(n)
	case int32:
		return uint64(n)
	case int64:
		return uint64(n)
	default:
		return 0
	}
}
