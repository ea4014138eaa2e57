// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package msgdef loads ROS-style ".msg" text schemas from a directory tree
// and turns them into rosnode.Message templates, the concrete
// implementation behind the rosnode.TemplateLoader interface that
// node.go's registries use to resolve a topic or service type name into a
// field-tree template.
package msgdef

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/roslibgo/rosnode"
)

// FSLoader loads message definitions from files laid out the way a ROS
// package tree lays them out: <root>/<package>/msg/<Type>.msg. Parsed
// templates are cached, and a type already in progress on the call stack is
// detected to reject a self-referential definition instead of recursing
// forever.
type FSLoader struct {
	root string

	mu      sync.Mutex
	cache   map[string]*rosnode.Message
	loading map[string]bool
}

// NewFSLoader returns a loader rooted at dir.
func NewFSLoader(dir string) *FSLoader {
	return &FSLoader{
		root:    dir,
		cache:   make(map[string]*rosnode.Message),
		loading: make(map[string]bool),
	}
}

var _ rosnode.TemplateLoader = (*FSLoader)(nil)

// Load resolves typeName ("package/Type") into an owning clone of its
// template, parsing and caching the backing .msg file on first use.
func (l *FSLoader) Load(typeName string) (*rosnode.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(typeName)
}

func (l *FSLoader) load(typeName string) (*rosnode.Message, error) {
	if tmpl, ok := l.cache[typeName]; ok {
		return tmpl.Clone(), nil
	}
	if l.loading[typeName] {
		return nil, rosnode.NewRosError(fmt.Sprintf("cyclic message definition: %s", typeName), rosnode.KindBadArgument)
	}

	path, err := l.pathFor(typeName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, rosnode.NewRosError(fmt.Sprintf("loading %s", typeName), rosnode.KindBadArgument).Wrap(err)
	}
	defer f.Close()

	l.loading[typeName] = true
	defer delete(l.loading, typeName)

	fields, err := parseMsgFile(f, packageOf(typeName), l.load)
	if err != nil {
		return nil, err
	}

	tmpl := rosnode.NewMessage(typeName, fields)
	l.cache[typeName] = tmpl
	return tmpl.Clone(), nil
}

func (l *FSLoader) pathFor(typeName string) (string, error) {
	parts := strings.SplitN(typeName, "/", 2)
	if len(parts) != 2 {
		return "", rosnode.NewRosError(fmt.Sprintf("malformed type name %q, want pkg/Type", typeName), rosnode.KindBadArgument)
	}
	return filepath.Join(l.root, parts[0], "msg", parts[1]+".msg"), nil
}

func packageOf(typeName string) string {
	parts := strings.SplitN(typeName, "/", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

// resolveFunc looks up a nested message type by name, resolving a bare
// "Header" to "std_msgs/Header" the way roslib's genmsg does.
type resolveFunc func(typeName string) (*rosnode.Message, error)

// parseMsgFile parses the ".msg" grammar: one "type name" pair per
// non-blank, non-comment line, "#" starting a line comment, "CONST_NAME =
// value" for manifest constants (recorded as fixed-length string/number
// fields is overkill for a wire schema, so constants are parsed but not
// materialized as fields — they exist for documentation and for generator
// tooling outside this package's scope), and "type[]"/"type[N]" suffixes
// for variable/fixed-length arrays.
func parseMsgFile(r *os.File, ownerPkg string, resolve resolveFunc) ([]rosnode.Field, error) {
	var fields []rosnode.Field
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		fieldParts := strings.Fields(line)
		if len(fieldParts) < 2 {
			return nil, rosnode.NewRosError(fmt.Sprintf("malformed .msg line %q", line), rosnode.KindBadArgument)
		}
		typeTok, nameTok := fieldParts[0], fieldParts[1]

		if eq := strings.Index(nameTok, "="); eq >= 0 || (len(fieldParts) >= 3 && fieldParts[2] == "=") {
			// Constant definition: "type NAME=value" or "type NAME = value".
			continue
		}

		field, err := buildField(typeTok, nameTok, ownerPkg, resolve)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("msgdef: scan: %w", err)
	}
	return fields, nil
}

func buildField(typeTok, name, ownerPkg string, resolve resolveFunc) (rosnode.Field, error) {
	baseType := typeTok
	elemLen := -1
	isArray := false
	if open := strings.IndexByte(typeTok, '['); open >= 0 {
		if !strings.HasSuffix(typeTok, "]") {
			return rosnode.Field{}, rosnode.NewRosError(fmt.Sprintf("malformed array type %q", typeTok), rosnode.KindBadArgument)
		}
		isArray = true
		baseType = typeTok[:open]
		inside := typeTok[open+1 : len(typeTok)-1]
		if inside != "" {
			n, err := strconv.Atoi(inside)
			if err != nil {
				return rosnode.Field{}, rosnode.NewRosError(fmt.Sprintf("malformed array length %q", typeTok), rosnode.KindBadArgument)
			}
			elemLen = n
		}
	}

	kind, qualifiedType, nested, err := resolveKind(baseType, ownerPkg, resolve)
	if err != nil {
		return rosnode.Field{}, err
	}

	if isArray {
		f := rosnode.Field{Name: name, Kind: rosnode.KindArray, ElemKind: kind, TypeName: qualifiedType}
		if elemLen >= 0 {
			f.FixedLen = elemLen
		} else {
			f.FixedLen = 0
		}
		return f, nil
	}

	f := rosnode.Field{Name: name, Kind: kind, TypeName: qualifiedType}
	if kind == rosnode.KindMessage {
		f.Value = nested
	}
	return f, nil
}

var primitiveKinds = map[string]rosnode.Kind{
	"int8":     rosnode.KindInt8,
	"uint8":    rosnode.KindUint8,
	"byte":     rosnode.KindUint8,
	"char":     rosnode.KindUint8,
	"int16":    rosnode.KindInt16,
	"uint16":   rosnode.KindUint16,
	"int32":    rosnode.KindInt32,
	"uint32":   rosnode.KindUint32,
	"int64":    rosnode.KindInt64,
	"uint64":   rosnode.KindUint64,
	"float32":  rosnode.KindFloat32,
	"float64":  rosnode.KindFloat64,
	"bool":     rosnode.KindBool,
	"string":   rosnode.KindString,
	"time":     rosnode.KindTime,
	"duration": rosnode.KindDuration,
}

func resolveKind(baseType, ownerPkg string, resolve resolveFunc) (rosnode.Kind, string, *rosnode.Message, error) {
	if k, ok := primitiveKinds[baseType]; ok {
		return k, baseType, nil, nil
	}

	typeName := baseType
	if !strings.Contains(typeName, "/") {
		if typeName == "Header" {
			typeName = "std_msgs/Header"
		} else {
			typeName = ownerPkg + "/" + typeName
		}
	}
	nested, err := resolve(typeName)
	if err != nil {
		return 0, "", nil, err
	}
	return rosnode.KindMessage, typeName, nested, nil
}
