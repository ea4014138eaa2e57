// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// peerDataState is the per-connection state, collapsed where the wire
// format makes two named states ("READING_SIZE" then
// "READING_PAYLOAD") a single non-blocking framed-read step in this
// implementation (tryReadFrame reads a 4-byte length then that many
// bytes, resuming across iterations since a partial read is normal and
// expected on a non-blocking socket either way).
type peerDataState int

const (
	pdIdle peerDataState = iota
	pdConnecting
	pdWritingHeader
	pdReadingHeader
	pdReadingPayload // subscriber-side steady state; loops back to itself
	pdAccepted
	pdWritingPayload // publisher-side steady state; loops back to itself
	pdServiceReadingRequest
	pdServiceWritingResponse
	pdClosed
)

// peerConn is the per-peer process for the data channel (the
// negotiation channel is handled separately by peerrpc.go, since its
// shape — a short-lived request/response XML-RPC exchange — does not
// share this framed-binary state machine).
type peerConn struct {
	ownHandle  SlotHandle
	role       peerRole
	conn       net.Conn
	state      peerDataState
	in         byteBuffer
	out        outBuffer
	headerOut  []byte
	highWater  int
	queueSize  int

	subHandle   SlotHandle
	subTemplate *Message
	subCallback func(*Node, SlotHandle, *Message)
	expectedMD5 string

	pubHandle SlotHandle

	isServiceConn  bool
	svcHeaderFailed bool
	svcHandle      SlotHandle
	svcPersistent  bool
	pendingWrite   []byte

	remoteHost        string
	remotePort        int
	lastActivity      time.Time
	reconnectAttempts int
	nextReconnectAt   time.Time
}

type peerRole int

const (
	roleSubscriber peerRole = iota
	rolePublisher
)

func (c *peerConn) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.state = pdClosed
}

// encodeHeader renders the wire header block: concatenated
// "key=value" pairs, each individually length-prefixed, as the content
// that follows the block's own 4-byte total-length prefix.
func encodeHeader(fields map[string]string) []byte {
	var body []byte
	for k, v := range fields {
		pair := []byte(k + "=" + v)
		lenPrefix := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenPrefix, uint32(len(pair)))
		body = append(body, lenPrefix...)
		body = append(body, pair...)
	}
	frame := make([]byte, 4)
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	return append(frame, body...)
}

// decodeHeader parses the content of a header block (the bytes after its
// own length prefix has already been consumed by tryReadFrame).
func decodeHeader(body []byte) (map[string]string, error) {
	fields := make(map[string]string)
	cur := 0
	for cur < len(body) {
		if cur+4 > len(body) {
			return nil, NewRosError("truncated header field", KindProtocolMalformed)
		}
		n := int(binary.LittleEndian.Uint32(body[cur:]))
		cur += 4
		if cur+n > len(body) {
			return nil, NewRosError("truncated header field", KindProtocolMalformed)
		}
		pair := string(body[cur : cur+n])
		cur += n
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return nil, NewRosError(fmt.Sprintf("malformed header field %q", pair), KindProtocolMalformed)
		}
		fields[pair[:eq]] = pair[eq+1:]
	}
	return fields, nil
}

// tryReadFrame attempts to extract one 4-byte-length-prefixed frame from
// buf, pulling more bytes from conn (bounded by a short read deadline so
// the loop never blocks meaningfully on a single step) as needed. ok is
// false when the frame is not yet fully buffered; the caller retries on
// the next loop iteration.
func tryReadFrame(conn net.Conn, buf *byteBuffer, maxFrame int) (frame []byte, ok bool, err error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Millisecond))
	chunk := make([]byte, 65536)
	n, rerr := conn.Read(chunk)
	if n > 0 {
		buf.Append(chunk[:n])
	}
	if rerr != nil {
		if !isTimeout(rerr) {
			return nil, false, NewRosError("peer read failed", KindTransportIO).Wrap(rerr)
		}
	}

	if buf.Len() < 4 {
		return nil, false, nil
	}
	length := int(binary.LittleEndian.Uint32(buf.Bytes()))
	if length < 0 || (maxFrame > 0 && length > maxFrame) {
		return nil, false, NewRosError(fmt.Sprintf("frame length %d exceeds limit", length), KindProtocolMalformed)
	}
	if buf.Len() < 4+length {
		return nil, false, nil
	}
	frame = append([]byte{}, buf.Bytes()[4:4+length]...)
	buf.Advance(4 + length)
	return frame, true, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

const maxPeerFrameBytes = 64 << 20 // sanity bound, well above any legitimate message

// step advances a peer connection (subscriber side, accepted publisher
// side, or service provider side) by one non-blocking increment. It is called once per Spin iteration for
// every live data peer.
func (c *peerConn) step(n *Node, now time.Time) {
	switch c.state {
	case pdConnecting:
		if now.Before(c.nextReconnectAt) {
			return
		}
		c.attemptConnect(now)
	case pdWritingHeader:
		c.flushHeader(n, now)
	case pdReadingHeader:
		c.readHeaderStep(n, now)
	case pdReadingPayload:
		c.readPayloadStep(n, now)
	case pdAccepted:
		// waiting for the subscriber's header; handled identically to
		// pdReadingHeader but this label distinguishes "never sent ours
		// yet" for diagnostics.
		c.readHeaderStep(n, now)
	case pdWritingPayload:
		c.flushOutbound(n, now)
	case pdServiceReadingRequest:
		c.serviceReadRequestStep(n, now)
	case pdServiceWritingResponse:
		c.serviceWriteResponseStep(n, now)
	}
}

func (c *peerConn) attemptConnect(now time.Time) {
	addr := net.JoinHostPort(c.remoteHost, strconv.Itoa(c.remotePort))
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		c.scheduleReconnect(now)
		return
	}
	c.conn = conn
	c.state = pdWritingHeader
	c.lastActivity = now
}

func (c *peerConn) scheduleReconnect(now time.Time) {
	c.reconnectAttempts++
	c.state = pdConnecting
	c.nextReconnectAt = now.Add(backoffDuration(c.reconnectAttempts))
}

func (c *peerConn) flushHeader(n *Node, now time.Time) {
	if c.conn == nil {
		return
	}
	c.conn.SetWriteDeadline(now.Add(50 * time.Millisecond))
	nwritten, err := c.conn.Write(c.headerOut)
	if err != nil {
		c.fail(n, err)
		return
	}
	c.headerOut = c.headerOut[nwritten:]
	if len(c.headerOut) == 0 {
		switch {
		case c.role == roleSubscriber:
			c.state = pdReadingHeader
		case c.isServiceConn && c.svcHeaderFailed:
			c.state = pdClosed
			c.conn.Close()
		case c.isServiceConn:
			c.state = pdServiceReadingRequest
		default:
			c.state = pdWritingPayload
		}
		c.lastActivity = now
	}
}

func (c *peerConn) readHeaderStep(n *Node, now time.Time) {
	body, ok, err := tryReadFrame(c.conn, &c.in, maxPeerFrameBytes)
	if err != nil {
		c.fail(n, err)
		return
	}
	if !ok {
		return
	}
	c.lastActivity = now
	fields, err := decodeHeader(body)
	if err != nil {
		c.fail(n, err)
		return
	}

	if c.role == roleSubscriber {
		gotMD5 := fields["md5sum"]
		if c.expectedMD5 != "" && gotMD5 != "" && gotMD5 != c.expectedMD5 {
			c.failKind(n, NewRosError(
				fmt.Sprintf("md5 mismatch on topic header: want %s got %s", c.expectedMD5, gotMD5),
				KindProtocolMD5Mismatch))
			return
		}
		c.state = pdReadingPayload
		c.reconnectAttempts = 0
		return
	}

	// Accepting side: we just received the remote's header. It is either
	// a topic subscriber or a service caller connecting to our shared
	// data port; "service" vs "topic" in the header tells us which.
	if service, isService := fields["service"]; isService {
		c.acceptServiceHeader(n, service, fields)
		return
	}

	topic := fields["topic"]
	var matched SlotHandle
	var pub *publisherSlot
	n.publishers.Each(func(h SlotHandle, p *publisherSlot) {
		if p.topic == topic {
			matched, pub = h, p
		}
	})
	if pub == nil {
		c.failKind(n, NewRosError(fmt.Sprintf("no publisher registered for topic %q", topic), KindBadArgument))
		return
	}
	c.pubHandle = matched
	c.queueSize = pub.queueSize
	c.headerOut = encodeHeader(map[string]string{
		"topic":    pub.topic,
		"type":     pub.typeName,
		"md5sum":   pub.template.MD5(),
		"callerid": n.callerID,
		"latching": "0",
	})
	pub.subscriberPeers = append(pub.subscriberPeers, c.ownHandle)
	c.state = pdWritingHeader
}

// acceptServiceHeader resolves an inbound service connection's header
// against our provider registry, replies with either an ack header or
// an error header, and, on success,
// transitions into the request/response serving loop.
func (c *peerConn) acceptServiceHeader(n *Node, service string, fields map[string]string) {
	var matched SlotHandle
	var prov *providerSlot
	n.providers.Each(func(h SlotHandle, p *providerSlot) {
		if p.service == service {
			matched, prov = h, p
		}
	})
	c.isServiceConn = true
	if prov == nil {
		c.headerOut = encodeHeader(map[string]string{"error": fmt.Sprintf("no provider for service %q", service)})
		c.svcHeaderFailed = true
		c.state = pdWritingHeader
		return
	}
	if got := fields["md5sum"]; got != "" && got != prov.reqTemplate.MD5() {
		c.headerOut = encodeHeader(map[string]string{"error": fmt.Sprintf("md5 mismatch for service %q", service)})
		c.svcHeaderFailed = true
		c.state = pdWritingHeader
		return
	}
	c.svcHandle = matched
	c.svcPersistent = fields["persistent"] == "1"
	c.headerOut = encodeHeader(map[string]string{
		"callerid": n.callerID,
		"md5sum":   prov.reqTemplate.MD5(),
	})
	c.state = pdWritingHeader
}

func (c *peerConn) readPayloadStep(n *Node, now time.Time) {
	payload, ok, err := tryReadFrame(c.conn, &c.in, maxPeerFrameBytes)
	if err != nil {
		c.fail(n, err)
		return
	}
	if !ok {
		return
	}
	c.lastActivity = now
	msg, err := c.subTemplate.UnmarshalBinary(payload, n.templateResolver())
	if err != nil {
		c.failKind(n, err)
		return
	}
	if c.subCallback != nil {
		c.subCallback(n, c.subHandle, msg)
	}
	// state stays pdReadingPayload: "loop back to READING_SIZE".
}

func (c *peerConn) flushOutbound(n *Node, now time.Time) {
	head := c.out.Head()
	if len(head) == 0 {
		return
	}
	c.conn.SetWriteDeadline(now.Add(50 * time.Millisecond))
	nwritten, err := c.conn.Write(head)
	if err != nil {
		if isTimeout(err) {
			return
		}
		c.fail(n, err)
		return
	}
	c.out.Advance(nwritten)
	c.lastActivity = now
}

// serviceReadRequestStep reads one request frame from a service caller,
// invokes the provider's callback, and prepares the ok-flag-prefixed
// response frame for serviceWriteResponseStep to flush: a one-byte "ok"
// flag precedes the response
// payload").
func (c *peerConn) serviceReadRequestStep(n *Node, now time.Time) {
	payload, ok, err := tryReadFrame(c.conn, &c.in, maxPeerFrameBytes)
	if err != nil {
		c.fail(n, err)
		return
	}
	if !ok {
		return
	}
	c.lastActivity = now

	prov, found := n.providers.Get(c.svcHandle)
	if !found {
		c.fail(n, NewRosError("service provider slot no longer exists", KindInternalInvariant))
		return
	}
	req, err := prov.reqTemplate.UnmarshalBinary(payload, n.templateResolver())
	if err != nil {
		c.failKind(n, err)
		return
	}
	resp := prov.respTemplate.Clone()
	okFlag := byte(1)
	if prov.callback == nil || !prov.callback(n, req, resp) {
		okFlag = 0
	}

	var body []byte
	if okFlag == 1 {
		body, err = resp.MarshalBinary()
		if err != nil {
			okFlag = 0
			body = []byte(err.Error())
		}
	} else {
		body = []byte("service handler rejected the request")
	}

	frame := make([]byte, 5+len(body))
	frame[0] = okFlag
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(body)))
	copy(frame[5:], body)
	c.pendingWrite = frame
	c.state = pdServiceWritingResponse
}

func (c *peerConn) serviceWriteResponseStep(n *Node, now time.Time) {
	if len(c.pendingWrite) == 0 {
		if c.svcPersistent {
			c.state = pdServiceReadingRequest
		} else {
			c.conn.Close()
			c.state = pdClosed
		}
		return
	}
	c.conn.SetWriteDeadline(now.Add(50 * time.Millisecond))
	nwritten, err := c.conn.Write(c.pendingWrite)
	if err != nil {
		if isTimeout(err) {
			return
		}
		c.fail(n, err)
		return
	}
	c.pendingWrite = c.pendingWrite[nwritten:]
	c.lastActivity = now
	if len(c.pendingWrite) == 0 {
		if c.svcPersistent {
			c.state = pdServiceReadingRequest
		} else {
			c.conn.Close()
			c.state = pdClosed
		}
	}
}

// enqueueDataFrame appends a 4-byte-length-prefixed message frame to the
// connection's outbound buffer, applying two backpressure triggers
// together: the byte-based high-water mark (c.highWater, guarding
// against a few huge messages) and the publisher's configured
// message-count queueSize (guarding against many small ones). Either
// one being exceeded drops the oldest queued frame first (FIFO
// drop-oldest); if that still doesn't make room the new frame is
// dropped instead of growing without bound. queueSize <= 0 means no
// count-based limit, only the byte-based one applies.
func (c *peerConn) enqueueDataFrame(payload []byte, queueSize int) {
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	hw := c.highWater
	if hw <= 0 {
		hw = defaultBackpressureHighWater
	}
	for c.out.Len()+len(frame) > hw || (queueSize > 0 && c.out.Count() >= queueSize) {
		if !c.out.DropOldest() {
			return // queue holds only the in-flight head frame; drop this one instead of blocking
		}
	}
	c.out.Push(frame)
}

// fail closes the connection on a transport-level error. Subscriber-side
// connections are eligible for reconnection with backoff; publisher-side
// (accepted) connections are simply
// torn down, since the subscriber is the one responsible for
// reconnecting.
func (c *peerConn) fail(n *Node, err error) {
	n.logger.Warnf("peer connection error: %v", err)
	c.teardown(n)
}

func (c *peerConn) failKind(n *Node, err error) {
	n.logger.Warnf("peer connection protocol error: %v", err)
	c.teardown(n)
}

func (c *peerConn) teardown(n *Node) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.in.Reset()
	if c.role == roleSubscriber && c.remoteHost != "" {
		c.scheduleReconnect(n.clock.Now())
		return
	}
	c.state = pdClosed
}
