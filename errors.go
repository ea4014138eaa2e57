// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is one of the closed set of error categories a RosError can
// carry.
type ErrorKind int

const (
	KindOK ErrorKind = iota
	KindTransportIO
	KindTransportTimeout
	KindProtocolMalformed
	KindProtocolMD5Mismatch
	KindRPCServerRefused
	KindRPCMethodFailed
	KindMasterUnreachable
	KindRegistrationConflict
	KindSlotExhausted
	KindBadArgument
	KindInternalInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTransportIO:
		return "transport-io"
	case KindTransportTimeout:
		return "transport-timeout"
	case KindProtocolMalformed:
		return "protocol-malformed"
	case KindProtocolMD5Mismatch:
		return "protocol-md5-mismatch"
	case KindRPCServerRefused:
		return "rpc-server-refused"
	case KindRPCMethodFailed:
		return "rpc-method-failed"
	case KindMasterUnreachable:
		return "master-unreachable"
	case KindRegistrationConflict:
		return "registration-conflict"
	case KindSlotExhausted:
		return "slot-exhausted"
	case KindBadArgument:
		return "bad-argument"
	case KindInternalInvariant:
		return "internal-invariant"
	default:
		return "unknown"
	}
}

// sentinel kinds, so callers can do errors.Is(err, rosnode.ErrMasterUnreachable).
var (
	ErrOK                   = kindSentinel(KindOK)
	ErrTransportIO          = kindSentinel(KindTransportIO)
	ErrTransportTimeout     = kindSentinel(KindTransportTimeout)
	ErrProtocolMalformed    = kindSentinel(KindProtocolMalformed)
	ErrProtocolMD5Mismatch  = kindSentinel(KindProtocolMD5Mismatch)
	ErrRPCServerRefused     = kindSentinel(KindRPCServerRefused)
	ErrRPCMethodFailed      = kindSentinel(KindRPCMethodFailed)
	ErrMasterUnreachable    = kindSentinel(KindMasterUnreachable)
	ErrRegistrationConflict = kindSentinel(KindRegistrationConflict)
	ErrSlotExhausted        = kindSentinel(KindSlotExhausted)
	ErrBadArgument          = kindSentinel(KindBadArgument)
	ErrInternalInvariant    = kindSentinel(KindInternalInvariant)
)

type kindError ErrorKind

func kindSentinel(k ErrorKind) error { return kindError(k) }

func (k kindError) Error() string { return "rosnode: " + ErrorKind(k).String() }

// RosError packs up to four error kinds in priority order, so a single
// return carries layered context (e.g. a transport-io failure that is
// also why a master call was never sent). Layer 0 is the most specific
// and is what Error() and Kind() report; Is matches any layer.
type RosError struct {
	layers  [4]ErrorKind
	n       int
	detail  string
	wrapped error
}

// NewRosError builds a RosError around one or more kinds, most specific
// first, with an optional human-readable detail string.
func NewRosError(detail string, kinds ...ErrorKind) *RosError {
	e := &RosError{detail: detail}
	for _, k := range kinds {
		if e.n >= len(e.layers) {
			break
		}
		e.layers[e.n] = k
		e.n++
	}
	if e.n == 0 {
		e.layers[0] = KindInternalInvariant
		e.n = 1
	}
	return e
}

// Wrap attaches an underlying error for Unwrap/%w chains without changing
// the packed kind layers.
func (e *RosError) Wrap(err error) *RosError {
	e.wrapped = err
	return e
}

func (e *RosError) Kind() ErrorKind { return e.layers[0] }

func (e *RosError) Kinds() []ErrorKind { return append([]ErrorKind{}, e.layers[:e.n]...) }

func (e *RosError) Error() string {
	var b strings.Builder
	b.WriteString("rosnode: ")
	b.WriteString(e.layers[0].String())
	if e.detail != "" {
		b.WriteString(": ")
		b.WriteString(e.detail)
	}
	if e.wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.wrapped.Error())
	}
	return b.String()
}

func (e *RosError) Unwrap() error { return e.wrapped }

// Is reports whether target is one of the packed kind layers, so
// errors.Is(err, rosnode.ErrMasterUnreachable) works regardless of which
// layer carries it.
func (e *RosError) Is(target error) bool {
	ke, ok := target.(kindError)
	if !ok {
		return false
	}
	for i := 0; i < e.n; i++ {
		if e.layers[i] == ErrorKind(ke) {
			return true
		}
	}
	return false
}

// Render converts the packed error into a multi-line human-readable
// message.
func (e *RosError) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rosnode error (%d layer(s)):\n", e.n)
	for i := 0; i < e.n; i++ {
		fmt.Fprintf(&b, "  [%d] %s\n", i, e.layers[i])
	}
	if e.detail != "" {
		fmt.Fprintf(&b, "  detail: %s\n", e.detail)
	}
	if e.wrapped != nil {
		fmt.Fprintf(&b, "  caused by: %s\n", e.wrapped)
	}
	return b.String()
}

// AsRosError extracts a *RosError from err, if any layer of err's chain is one.
func AsRosError(err error) (*RosError, bool) {
	var re *RosError
	ok := errors.As(err, &re)
	return re, ok
}
