// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/roslibgo/rosnode/xmlrpc"
)

// negotiationCallTimeout bounds one accepted peer negotiation RPC's
// entire request/dispatch/response turnaround. Like the master call
// engine, this is a hand-rolled HTTP/1.1 exchange (no net/http server —
// the negotiation surface has to stay inside the single-threaded loop's
// readiness set, which rules out net/http's own goroutine-per-connection
// model; instead it's handled synchronously per accepted
// connection rather than as a byte-level state machine, since these
// calls are small, infrequent, and bounded by this timeout.
const negotiationCallTimeout = 2 * time.Second

// pollNegotiationAccept checks, without blocking meaningfully, for one
// new inbound peer negotiation RPC connection and services it fully
// before returning.
func (n *Node) pollNegotiationAccept() {
	ln, ok := n.negotiationLn.(*net.TCPListener)
	if !ok {
		n.acceptAndServeOnce(n.negotiationLn)
		return
	}
	ln.SetDeadline(time.Now().Add(2 * time.Millisecond))
	n.acceptAndServeOnce(ln)
}

func (n *Node) acceptAndServeOnce(ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	n.serveNegotiationConn(conn)
}

func (n *Node) serveNegotiationConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(negotiationCallTimeout))

	method, body, err := readHTTPRequest(conn)
	if err != nil {
		n.logger.Warnf("negotiation RPC: read request: %v", err)
		return
	}
	if method != "POST" {
		conn.Write([]byte("HTTP/1.1 405 Method Not Allowed\r\nContent-Length: 0\r\n\r\n"))
		return
	}

	call, err := xmlrpc.ParseMethodCall(bytes.NewReader(body))
	if err != nil {
		n.logger.Warnf("negotiation RPC: parse methodCall: %v", err)
		writeHTTPResponse(conn, xmlrpc.Fault(1, err.Error()))
		return
	}

	respBody := n.dispatchNegotiation(call)
	writeHTTPResponse(conn, respBody)
}

func (n *Node) dispatchNegotiation(call *xmlrpc.Request) []byte {
	switch call.Method {
	case "requestTopic":
		return n.handleRequestTopic(call.Params)
	case "publisherUpdate":
		return n.handlePublisherUpdate(call.Params)
	case "getBusInfo":
		return n.handleGetBusInfo(call.Params)
	case "shutdown":
		return n.handleShutdown(call.Params)
	default:
		return xmlrpc.Fault(1, fmt.Sprintf("unsupported method %q", call.Method))
	}
}

func tripleOK(v xmlrpc.Value) []byte {
	return xmlrpc.MethodResponse(xmlrpc.Array(xmlrpc.Int(1), xmlrpc.String(""), v))
}

func tripleErr(code int32, msg string) []byte {
	return xmlrpc.MethodResponse(xmlrpc.Array(xmlrpc.Int(code), xmlrpc.String(msg), xmlrpc.Array()))
}

// handleRequestTopic answers a subscriber that wants to open a data
// channel to one of our publisher slots.
func (n *Node) handleRequestTopic(params []xmlrpc.Value) []byte {
	if len(params) < 2 {
		return tripleErr(-1, "requestTopic requires callerId and topic")
	}
	topic, _ := params[1].AsString()
	var found bool
	n.publishers.Each(func(_ SlotHandle, p *publisherSlot) {
		if p.topic == topic {
			found = true
		}
	})
	if !found {
		return tripleErr(-1, fmt.Sprintf("no publisher for topic %q", topic))
	}
	return tripleOK(xmlrpc.Array(xmlrpc.String("TCPROS"), xmlrpc.String(n.host), xmlrpc.Int(int32(n.dataPort))))
}

// handlePublisherUpdate is called by the master (or, in some
// deployments, a peer) to push a topic's current publisher URI list,
// per the protocol.
func (n *Node) handlePublisherUpdate(params []xmlrpc.Value) []byte {
	if len(params) < 3 {
		return tripleErr(-1, "publisherUpdate requires callerId, topic, publishers")
	}
	topic, _ := params[1].AsString()
	uris := decodeURIArray(params[2])

	var targetH SlotHandle
	var target *subscriberSlot
	n.subscribers.Each(func(h SlotHandle, s *subscriberSlot) {
		if s.topic == topic {
			targetH, target = h, s
		}
	})
	if target == nil {
		return tripleErr(-1, fmt.Sprintf("no subscriber for topic %q", topic))
	}
	n.reconcileSubscriberPeers(targetH, target, uris)
	return tripleOK(xmlrpc.Int(1))
}

// handleGetBusInfo reports active peer data connections, in the ROS
// busInfo tuple shape: (connectionId, destinationId, direction,
// transport, topic, connected).
func (n *Node) handleGetBusInfo(params []xmlrpc.Value) []byte {
	var rows []xmlrpc.Value
	n.dataConns.Each(func(h SlotHandle, c **peerConn) {
		if *c == nil || (*c).state == pdClosed {
			return
		}
		direction := "o"
		topic := ""
		if (*c).role == roleSubscriber {
			direction = "i"
			if s, ok := n.subscribers.Get((*c).subHandle); ok {
				topic = s.topic
			}
		} else if p, ok := n.publishers.Get((*c).pubHandle); ok {
			topic = p.topic
		}
		rows = append(rows, xmlrpc.Array(
			xmlrpc.Int(int32(h.Index)),
			xmlrpc.String(""),
			xmlrpc.String(direction),
			xmlrpc.String("TCPROS"),
			xmlrpc.String(topic),
			xmlrpc.Bool(true),
		))
	})
	return tripleOK(xmlrpc.Array(rows...))
}

// handleShutdown acknowledges the request. The core does not terminate
// itself: signal bridging belongs to the surrounding program, so a
// shutdown request is only logged here and does not signal any exit
// flag.
func (n *Node) handleShutdown(params []xmlrpc.Value) []byte {
	reason := ""
	if len(params) > 1 {
		reason, _ = params[1].AsString()
	}
	n.logger.Infof("received shutdown request: %s", reason)
	return tripleOK(xmlrpc.Int(1))
}

// readHTTPRequest parses a minimal HTTP/1.1 request: request line,
// headers up to the blank line, and a Content-Length-bounded body. It
// is the server-side mirror of xmlrpc.Do's hand-rolled client parsing.
func readHTTPRequest(r io.Reader) (method string, body []byte, err error) {
	br := bufio.NewReader(r)

	line, err := br.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("read request line: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", nil, fmt.Errorf("malformed request line %q", strings.TrimSpace(line))
	}
	method = fields[0]

	contentLength := 0
	for {
		hline, err := br.ReadString('\n')
		if err != nil {
			return "", nil, fmt.Errorf("read headers: %w", err)
		}
		hline = strings.TrimRight(hline, "\r\n")
		if hline == "" {
			break
		}
		if idx := strings.IndexByte(hline, ':'); idx >= 0 {
			key := strings.ToLower(strings.TrimSpace(hline[:idx]))
			val := strings.TrimSpace(hline[idx+1:])
			if key == "content-length" {
				contentLength, _ = strconv.Atoi(val)
			}
		}
	}

	body = make([]byte, contentLength)
	if contentLength > 0 {
		if _, err := io.ReadFull(br, body); err != nil {
			return "", nil, fmt.Errorf("read body: %w", err)
		}
	}
	return method, body, nil
}

func writeHTTPResponse(w io.Writer, body []byte) {
	fmt.Fprintf(w, "HTTP/1.1 200 OK\r\nContent-Type: text/xml\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", len(body))
	w.Write(body)
}
