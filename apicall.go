// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import "github.com/roslibgo/rosnode/xmlrpc"

// apiMethod is the closed set of master/peer RPC methods this node ever
// issues as an outbound apiCall. publisherUpdate, getBusInfo, and
// shutdown are also part of the wire protocol, but only as methods this
// node answers when a peer or the master calls them against its own
// negotiation port (peerrpc.go's dispatchNegotiation matches those by
// the literal method name, not through this enum) — a plain ROS node
// never originates any of the three itself, so they have no member here.
type apiMethod int

const (
	methodRegisterPublisher apiMethod = iota
	methodUnregisterPublisher
	methodRegisterSubscriber
	methodUnregisterSubscriber
	methodRegisterService
	methodUnregisterService
	methodLookupService
	// requestTopic is the one peer-RPC issued outbound by this node,
	// against a publisher's negotiation port rather than the master.
	methodRequestTopic
)

func (m apiMethod) String() string {
	names := [...]string{
		"registerPublisher", "unregisterPublisher",
		"registerSubscriber", "unregisterSubscriber",
		"registerService", "unregisterService",
		"lookupService", "requestTopic",
	}
	if int(m) < 0 || int(m) >= len(names) {
		return "unknown"
	}
	return names[m]
}

// resultFetchFunc extracts a typed Go value out of a decoded XML-RPC
// return value. It runs unconditionally, even when the call has no
// user-visible onResult, because slot-state cleanup (e.g. marking a
// publisher's "registered with master" flag) must happen from it —
// a three-callback pipeline kept distinct rather than collapsed into
// one closure.
type resultFetchFunc func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any

// onResultFunc is the user-visible result callback.
type onResultFunc func(n *Node, call *apiCall, result any, callErr error)

// freeResultFunc releases any resources resultFetch allocated. Most calls
// have nothing to free; it exists for symmetry with the three-callback
// pipeline and for calls whose fetched result owns a resource (e.g. an
// opened peer connection).
type freeResultFunc func(n *Node, call *apiCall, result any)

// apiCall is one in-flight or queued master/peer RPC.
type apiCall struct {
	id     uint64
	method apiMethod
	params []xmlrpc.Value
	host   string
	port   int

	// provider is the back-link to the slot that originated this call, so
	// the fetch/result callbacks can find it again by handle rather than
	// capturing a raw pointer across the call's lifetime.
	provider SlotHandle

	resultFetch resultFetchFunc
	onResult    onResultFunc
	free        freeResultFunc

	attempts int
}

// apiCallQueue is the loop-private FIFO of pending master/peer RPCs.
// It requires no locking: only the event loop thread ever touches it.
type apiCallQueue struct {
	items []*apiCall
}

func (q *apiCallQueue) Enqueue(c *apiCall) { q.items = append(q.items, c) }

func (q *apiCallQueue) Peek() (*apiCall, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

func (q *apiCallQueue) Dequeue() (*apiCall, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	return c, true
}

func (q *apiCallQueue) Count() int { return len(q.items) }

// Release drops every queued call without running any of its callbacks,
// so no slot is told that its call will never complete. Node.Close uses
// it at shutdown.
func (q *apiCallQueue) Release() {
	q.items = nil
}
