// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmlrpc

import (
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
)

// MethodCall renders a <methodCall> document for the given method name and
// positional parameters.
func MethodCall(method string, params ...Value) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><methodCall><methodName>`)
	b.WriteString(html.EscapeString(method))
	b.WriteString(`</methodName><params>`)
	for _, p := range params {
		b.WriteString("<param>")
		writeValue(&b, p)
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>")
	return []byte(b.String())
}

// MethodResponse renders a <methodResponse> document carrying a single
// return value, the shape every master/peer RPC handler replies with.
func MethodResponse(v Value) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><methodResponse><params><param>`)
	writeValue(&b, v)
	b.WriteString(`</param></params></methodResponse>`)
	return []byte(b.String())
}

// Fault renders a <methodResponse> carrying a <fault>, used when a peer
// negotiation RPC handler rejects a call outright.
func Fault(code int32, message string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><methodResponse><fault>`)
	writeValue(&b, Struct(map[string]Value{
		"faultCode":   Int(code),
		"faultString": String(message),
	}))
	b.WriteString(`</fault></methodResponse>`)
	return []byte(b.String())
}

func writeValue(b *strings.Builder, v Value) {
	b.WriteString("<value>")
	switch v.kind {
	case kindInt:
		b.WriteString("<int>")
		b.WriteString(strconv.FormatInt(int64(v.i), 10))
		b.WriteString("</int>")
	case kindString:
		b.WriteString("<string>")
		b.WriteString(html.EscapeString(v.s))
		b.WriteString("</string>")
	case kindBool:
		b.WriteString("<boolean>")
		if v.b {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
		b.WriteString("</boolean>")
	case kindDouble:
		b.WriteString("<double>")
		b.WriteString(strconv.FormatFloat(v.d, 'g', -1, 64))
		b.WriteString("</double>")
	case kindArray:
		b.WriteString("<array><data>")
		for _, e := range v.array {
			writeValue(b, e)
		}
		b.WriteString("</data></array>")
	case kindStruct:
		b.WriteString("<struct>")
		for name, f := range v.fields {
			b.WriteString("<member><name>")
			b.WriteString(html.EscapeString(name))
			b.WriteString("</name>")
			writeValue(b, f)
			b.WriteString("</member>")
		}
		b.WriteString("</struct>")
	}
	b.WriteString("</value>")
}

// Request is a decoded <methodCall>: the method name plus positional params,
// the shape the peer negotiation RPC server dispatches on.
type Request struct {
	Method string
	Params []Value
}

// ParseMethodCall decodes a <methodCall> document.
func ParseMethodCall(r io.Reader) (*Request, error) {
	dec := xml.NewDecoder(r)
	call := &Request{}
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("xmlrpc: parse methodCall: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "methodName":
			name, err := readCharData(dec)
			if err != nil {
				return nil, err
			}
			call.Method = name
		case "params":
			params, err := readParams(dec)
			if err != nil {
				return nil, err
			}
			call.Params = params
		}
	}
	if call.Method == "" {
		return nil, fmt.Errorf("xmlrpc: methodCall missing methodName")
	}
	return call, nil
}

// Response is a decoded <methodResponse>: either a single return value or a
// fault.
type Response struct {
	Value      Value
	IsFault    bool
	FaultCode  int32
	FaultError string
}

// ParseMethodResponse decodes a <methodResponse> document.
func ParseMethodResponse(r io.Reader) (*Response, error) {
	dec := xml.NewDecoder(r)
	resp := &Response{}
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("xmlrpc: parse methodResponse: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "params":
			params, err := readParams(dec)
			if err != nil {
				return nil, err
			}
			if len(params) > 0 {
				resp.Value = params[0]
			}
		case "fault":
			v, err := readNextValue(dec)
			if err != nil {
				return nil, err
			}
			resp.IsFault = true
			if code, ok := v.Field("faultCode"); ok {
				resp.FaultCode, _ = code.AsInt()
			}
			if msg, ok := v.Field("faultString"); ok {
				resp.FaultError, _ = msg.AsString()
			}
		}
	}
	return resp, nil
}

func readParams(dec *xml.Decoder) ([]Value, error) {
	var params []Value
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: parse params: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "param" {
				v, err := readNextValue(dec)
				if err != nil {
					return nil, err
				}
				params = append(params, v)
			}
		case xml.EndElement:
			if t.Name.Local == "params" {
				depth--
			}
		}
	}
	return params, nil
}

// readNextValue scans forward for the next <value>...</value> and decodes
// it, leaving the decoder positioned just past its end tag.
func readNextValue(dec *xml.Decoder) (Value, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("xmlrpc: expected <value>: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "value" {
			continue
		}
		return decodeValueBody(dec)
	}
}

// decodeValueBody decodes the content of a <value> element whose start tag
// has already been consumed.
func decodeValueBody(dec *xml.Decoder) (Value, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("xmlrpc: decode value: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text != "" {
				// <value>text</value> with no inner type tag means string.
				return String(text), nil
			}
		case xml.StartElement:
			return decodeTyped(dec, t.Name.Local)
		case xml.EndElement:
			if t.Name.Local == "value" {
				// Empty <value/> defaults to an empty string.
				return String(""), nil
			}
		}
	}
}

func decodeTyped(dec *xml.Decoder, typeName string) (Value, error) {
	switch typeName {
	case "int", "i4", "i8":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("xmlrpc: bad int %q: %w", text, err)
		}
		return Int(int32(n)), nil
	case "string":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		return String(text), nil
	case "boolean":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		return Bool(strings.TrimSpace(text) == "1"), nil
	case "double":
		text, err := readCharData(dec)
		if err != nil {
			return Value{}, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("xmlrpc: bad double %q: %w", text, err)
		}
		return Double(f), nil
	case "array":
		return decodeArray(dec)
	case "struct":
		return decodeStruct(dec)
	default:
		return Value{}, fmt.Errorf("xmlrpc: unsupported value type %q", typeName)
	}
}

func decodeArray(dec *xml.Decoder) (Value, error) {
	var elems []Value
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("xmlrpc: decode array: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "value" {
				v, err := decodeValueBody(dec)
				if err != nil {
					return Value{}, err
				}
				elems = append(elems, v)
			}
		case xml.EndElement:
			if t.Name.Local == "array" {
				depth--
			}
		}
	}
	return Array(elems...), nil
}

func decodeStruct(dec *xml.Decoder) (Value, error) {
	fields := make(map[string]Value)
	depth := 1
	var curName string
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, fmt.Errorf("xmlrpc: decode struct: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				curName, err = readCharData(dec)
				if err != nil {
					return Value{}, err
				}
			case "value":
				v, err := decodeValueBody(dec)
				if err != nil {
					return Value{}, err
				}
				fields[curName] = v
			}
		case xml.EndElement:
			if t.Name.Local == "struct" {
				depth--
			}
		}
	}
	return Struct(fields), nil
}

// readCharData accumulates character data up to the next end element.
func readCharData(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("xmlrpc: read text: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			return b.String(), nil
		}
	}
}
