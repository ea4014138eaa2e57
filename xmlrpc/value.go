// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xmlrpc implements just enough of the XML-RPC wire format (value
// encoding plus methodCall/methodResponse envelopes) to talk to a ROS-style
// master and to peers over their negotiation RPC surface. It follows the
// teacher's own wire-codec habit of hand-rolling the marshal/unmarshal code
// against the concrete grammar rather than reaching for a generic reflective
// encoder, the same way protocol_conn.go hand-rolls ZMTP framing.
package xmlrpc

import "fmt"

// Value is a tagged union over the XML-RPC scalar and container types this
// node ever needs to send or receive: int, string, boolean, array and
// struct. double is accepted on decode for forward compatibility but the
// node never emits one.
type Value struct {
	kind   valueKind
	i      int32
	s      string
	b      bool
	d      float64
	array  []Value
	fields map[string]Value
}

type valueKind int

const (
	kindInt valueKind = iota
	kindString
	kindBool
	kindDouble
	kindArray
	kindStruct
)

func Int(v int32) Value         { return Value{kind: kindInt, i: v} }
func String(v string) Value     { return Value{kind: kindString, s: v} }
func Bool(v bool) Value         { return Value{kind: kindBool, b: v} }
func Double(v float64) Value    { return Value{kind: kindDouble, d: v} }
func Array(vs ...Value) Value   { return Value{kind: kindArray, array: vs} }
func Struct(m map[string]Value) Value {
	return Value{kind: kindStruct, fields: m}
}

func (v Value) IsInt() bool    { return v.kind == kindInt }
func (v Value) IsString() bool { return v.kind == kindString }
func (v Value) IsBool() bool   { return v.kind == kindBool }
func (v Value) IsArray() bool  { return v.kind == kindArray }
func (v Value) IsStruct() bool { return v.kind == kindStruct }

func (v Value) AsInt() (int32, error) {
	if v.kind != kindInt {
		return 0, fmt.Errorf("xmlrpc: value is %v, not int", v.kind)
	}
	return v.i, nil
}

func (v Value) AsString() (string, error) {
	if v.kind != kindString {
		return "", fmt.Errorf("xmlrpc: value is %v, not string", v.kind)
	}
	return v.s, nil
}

func (v Value) AsBool() (bool, error) {
	if v.kind != kindBool {
		return false, fmt.Errorf("xmlrpc: value is %v, not bool", v.kind)
	}
	return v.b, nil
}

func (v Value) AsArray() ([]Value, error) {
	if v.kind != kindArray {
		return nil, fmt.Errorf("xmlrpc: value is %v, not array", v.kind)
	}
	return v.array, nil
}

func (v Value) AsStruct() (map[string]Value, error) {
	if v.kind != kindStruct {
		return nil, fmt.Errorf("xmlrpc: value is %v, not struct", v.kind)
	}
	return v.fields, nil
}

// Field looks up a member of a struct value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != kindStruct {
		return Value{}, false
	}
	f, ok := v.fields[name]
	return f, ok
}

func (k valueKind) String() string {
	switch k {
	case kindInt:
		return "int"
	case kindString:
		return "string"
	case kindBool:
		return "boolean"
	case kindDouble:
		return "double"
	case kindArray:
		return "array"
	case kindStruct:
		return "struct"
	default:
		return "unknown"
	}
}
