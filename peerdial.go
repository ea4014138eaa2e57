// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/roslibgo/rosnode/xmlrpc"
)

// requestTopicTimeout is the default RPC round-trip timeout used by
// callers that don't go through the apiCallQueue engine (which has its
// own masterCallTimeout), e.g. the periodic service-call tick in
// loop.go.
const requestTopicTimeout = 2 * time.Second

// enqueueRequestTopic negotiates a data channel from subscriber slot h
// to the publisher at pubURI. Like every other master/peer RPC, the
// requestTopic call is driven through n.queue/pumpMasterQueue rather
// than dialed synchronously inline: the caller that discovers pubURI
// (a registerSubscriber result, or a publisherUpdate negotiation RPC
// being serviced synchronously on the loop thread) enqueues the call
// and returns immediately, and the call engine's own backoff/retry
// schedule (masterapi.go) covers a slow or unreachable publisher
// instead of stalling the loop for requestTopicTimeout per URI.
func (n *Node) enqueueRequestTopic(h SlotHandle, pubURI string) {
	s, ok := n.subscribers.Get(h)
	if !ok {
		return
	}
	addr, _, err := parseHTTPURI(pubURI)
	if err != nil {
		n.logger.Warnf("subscriber %s: %v", s.topic, err)
		return
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		n.logger.Warnf("subscriber %s: malformed negotiation address %q: %v", s.topic, addr, err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		n.logger.Warnf("subscriber %s: malformed negotiation port %q: %v", s.topic, portStr, err)
		return
	}

	protocols := xmlrpc.Array(xmlrpc.Array(xmlrpc.String("TCPROS")))
	call := &apiCall{
		id:       n.nextCallID(),
		method:   methodRequestTopic,
		host:     host,
		port:     port,
		provider: h,
		params: []xmlrpc.Value{
			xmlrpc.String(n.callerID),
			xmlrpc.String(s.topic),
			protocols,
		},
		resultFetch: func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any {
			slot, ok := n.subscribers.Get(call.provider)
			if !ok {
				return nil
			}
			if callErr != nil {
				delete(slot.peerByURI, pubURI)
				return callErr
			}
			ph, err := n.openSubscriberPeerConn(call.provider, slot, v)
			if err != nil {
				delete(slot.peerByURI, pubURI)
				n.logger.Warnf("subscriber %s: failed to connect to publisher %s: %v", slot.topic, pubURI, err)
				return err
			}
			if _, stillWanted := slot.peerByURI[pubURI]; !stillWanted {
				// pubURI dropped out of the advertised set while this
				// negotiation was in flight; the connection just opened
				// is no longer wanted.
				if conn, ok := n.dataConns.Get(ph); ok && *conn != nil {
					(*conn).Close()
				}
				return nil
			}
			slot.peerByURI[pubURI] = ph
			return nil
		},
	}
	n.queue.Enqueue(call)
}

// openSubscriberPeerConn turns a successful requestTopic reply into an
// opened (CONNECTING-state) peer data connection for step() to drive.
func (n *Node) openSubscriberPeerConn(h SlotHandle, s *subscriberSlot, v xmlrpc.Value) (SlotHandle, error) {
	_, _, proto, err := unpackTriple(v)
	if err != nil {
		return SlotHandle{}, err
	}
	arr, err := proto.AsArray()
	if err != nil || len(arr) < 3 {
		return SlotHandle{}, NewRosError("malformed requestTopic protocol params", KindProtocolMalformed)
	}
	host, err := arr[1].AsString()
	if err != nil {
		return SlotHandle{}, NewRosError("malformed requestTopic host", KindProtocolMalformed)
	}
	port, err := arr[2].AsInt()
	if err != nil {
		return SlotHandle{}, NewRosError("malformed requestTopic port", KindProtocolMalformed)
	}

	tmpl := s.template.Clone()
	headerOut := encodeHeader(map[string]string{
		"topic":    s.topic,
		"type":     s.typeName,
		"md5sum":   tmpl.MD5(),
		"callerid": n.callerID,
	})
	c := &peerConn{
		role:        roleSubscriber,
		state:       pdConnecting,
		remoteHost:  host,
		remotePort:  int(port),
		subHandle:   h,
		subTemplate: tmpl,
		subCallback: s.callback,
		expectedMD5: tmpl.MD5(),
		headerOut:   headerOut,
		highWater:   n.backpressureHighWater,
	}
	ph := n.dataConns.Alloc(c)
	if got, ok := n.dataConns.Get(ph); ok {
		(*got).ownHandle = ph
	}
	return ph, nil
}

// parseHTTPURI splits a "http://host:port/path" negotiation URI into a
// dialable "host:port" address and the request path.
func parseHTTPURI(uri string) (addr, path string, err error) {
	const scheme = "http://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", NewRosError(fmt.Sprintf("unsupported negotiation URI %q", uri), KindProtocolMalformed)
	}
	rest := uri[len(scheme):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		addr, path = rest, "/"
	} else {
		addr, path = rest[:slash], rest[slash:]
	}
	if _, _, serr := net.SplitHostPort(addr); serr != nil {
		return "", "", NewRosError(fmt.Sprintf("malformed negotiation URI %q", uri), KindProtocolMalformed).Wrap(serr)
	}
	if path == "" {
		path = "/"
	}
	return addr, path, nil
}
