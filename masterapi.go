// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"net"
	"strconv"
	"time"

	"github.com/roslibgo/rosnode/xmlrpc"
)

// maxMasterCallAttempts caps retries before a call surfaces failure to
// its caller and is dropped.
const maxMasterCallAttempts = 5

// masterCallTimeout bounds a single master-call round trip. The master
// channel carries low-volume control traffic (registrations, lookups),
// never the hot data path, so this engine issues each attempt as one
// bounded synchronous round trip from the loop thread rather than a
// fully non-blocking per-byte state machine like peerConn's — a
// documented simplification (see DESIGN.md) traded for roughly half
// the code at negligible behavioral cost when call volume is this low.
const masterCallTimeout = 2 * time.Second

// masterCallState tracks the one call currently in flight against the
// master or a peer's negotiation port: at most one master call is in
// flight at any instant.
type masterCallState struct {
	call        *apiCall
	attempts    int
	nextAttempt time.Time
}

// pumpMasterQueue advances the master/peer-RPC call engine by at most one
// step: if no call is in flight, start the next queued one; if a call is
// in flight and its backoff window has elapsed, retry it.
func (n *Node) pumpMasterQueue(now time.Time) {
	if n.inFlight == nil {
		call, ok := n.queue.Dequeue()
		if !ok {
			return
		}
		n.inFlight = &masterCallState{call: call}
	}

	state := n.inFlight
	if state.attempts > 0 && now.Before(state.nextAttempt) {
		return
	}

	state.attempts++
	result, fetchErr, callErr := n.attemptMasterCall(state.call)

	if callErr != nil && state.attempts < maxMasterCallAttempts {
		state.nextAttempt = now.Add(backoffDuration(state.attempts))
		n.logger.Warnf("master call %s (id=%d) attempt %d failed: %v; retrying", state.call.method, state.call.id, state.attempts, callErr)
		return
	}

	n.inFlight = nil
	if callErr != nil {
		n.logger.Errorf("master call %s (id=%d) failed permanently after %d attempts: %v", state.call.method, state.call.id, state.attempts, callErr)
	}
	finalErr := callErr
	if finalErr == nil {
		finalErr = fetchErr
	}
	n.finishCall(state.call, result, finalErr)
}

// finishCall drives the three-callback pipeline, kept distinct from
// attemptMasterCall's transport work so resultFetch always runs exactly
// once per terminal outcome
// (success or permanent failure), never per attempt.
func (n *Node) finishCall(call *apiCall, raw xmlrpc.Value, callErr error) {
	var result any
	if call.resultFetch != nil {
		result = call.resultFetch(n, call, raw, callErr)
	}
	if call.onResult != nil {
		call.onResult(n, call, result, callErr)
	}
	if call.free != nil {
		call.free(n, call, result)
	}
}

// attemptMasterCall performs one synchronous XML-RPC round trip. The
// returned fetchErr is reserved for a future protocol-level fault
// distinct from a transport error; today ParseMethodResponse's fault
// path already folds into callErr.
func (n *Node) attemptMasterCall(call *apiCall) (xmlrpc.Value, error, error) {
	addr := net.JoinHostPort(call.host, strconv.Itoa(call.port))
	v, err := xmlrpc.Call(addr, "/RPC2", call.method.String(), masterCallTimeout, call.params...)
	if err != nil {
		return xmlrpc.Value{}, nil, NewRosError("master/peer RPC call failed", KindMasterUnreachable).Wrap(err)
	}
	return v, nil, nil
}
