// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import "fmt"

// TemplateLoader is the downward interface to the schema loader: given
// a type name, return an owning handle to a field-tree template. It is
// deliberately small so that the msgdef package's filesystem-backed
// loader and a test's in-memory loader satisfy it identically.
type TemplateLoader interface {
	Load(typeName string) (*Message, error)
}

// StaticLoader is a TemplateLoader backed by an in-memory map, useful in
// tests and for the two built-in types exercised throughout
// (std_msgs/String, roscpp_tutorials/TwoInts) without touching a
// filesystem.
type StaticLoader struct {
	templates map[string]*Message
}

// NewStaticLoader builds a StaticLoader from already-constructed
// templates.
func NewStaticLoader(templates ...*Message) *StaticLoader {
	l := &StaticLoader{templates: make(map[string]*Message, len(templates))}
	for _, t := range templates {
		l.templates[t.TypeName] = t
	}
	return l
}

func (l *StaticLoader) Load(typeName string) (*Message, error) {
	t, ok := l.templates[typeName]
	if !ok {
		return nil, NewRosError(fmt.Sprintf("unknown message type %q", typeName), KindBadArgument)
	}
	return t.Clone(), nil
}

// StdMsgsString is the std_msgs/String template used throughout the
// end-to-end scenarios.
func StdMsgsString() *Message {
	return NewMessage("std_msgs/String", []Field{
		{Name: "data", Kind: KindString},
	})
}

// TwoIntsRequest is the roscpp_tutorials/TwoInts request type.
func TwoIntsRequest() *Message {
	return NewMessage("roscpp_tutorials/TwoIntsRequest", []Field{
		{Name: "a", Kind: KindInt64},
		{Name: "b", Kind: KindInt64},
	})
}

// TwoIntsResponse is the roscpp_tutorials/TwoInts response type.
func TwoIntsResponse() *Message {
	return NewMessage("roscpp_tutorials/TwoIntsResponse", []Field{
		{Name: "sum", Kind: KindInt64},
	})
}
