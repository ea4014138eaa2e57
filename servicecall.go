// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// ServiceCall performs one request/response round trip against the
// service caller slot h. It dials (or reuses a persistent) TCP
// connection to the provider, exchanges the header block, verifies the
// MD5 hashes, writes the request frame, and reads the one-byte
// ok-flag-prefixed response frame into resp.
//
// Like the master call engine, this is a single bounded synchronous
// operation rather than a per-byte non-blocking state machine: a
// service call is inherently a "send one request, wait for one
// response" unit of work from the caller's perspective, so collapsing
// its wire steps into one function costs no expressiveness the upward
// API's signature doesn't already commit to.
func (n *Node) ServiceCall(h SlotHandle, req, resp *Message, timeout time.Duration) error {
	c, ok := n.callers.Get(h)
	if !ok {
		return NewRosError("unknown service caller slot", KindBadArgument)
	}
	if c.providerHost == "" {
		return NewRosError(fmt.Sprintf("service %q location not yet resolved", c.service), KindMasterUnreachable)
	}

	conn := c.conn
	if conn == nil {
		dialed, err := net.DialTimeout("tcp", net.JoinHostPort(c.providerHost, itoaPort(c.providerPort)), timeout)
		if err != nil {
			return NewRosError(fmt.Sprintf("dialing service %q", c.service), KindTransportIO).Wrap(err)
		}
		conn = dialed
		if err := exchangeServiceHeader(conn, c, timeout); err != nil {
			conn.Close()
			return err
		}
	}

	conn.SetDeadline(time.Now().Add(timeout))

	payload, err := req.MarshalBinary()
	if err != nil {
		closeIfNotPersistent(c, conn)
		return err
	}
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := conn.Write(frame); err != nil {
		closeIfNotPersistent(c, conn)
		c.conn = nil
		return NewRosError("writing service request", KindTransportIO).Wrap(err)
	}

	okByte := make([]byte, 1)
	if _, err := readFull(conn, okByte); err != nil {
		closeIfNotPersistent(c, conn)
		c.conn = nil
		return NewRosError("reading service response flag", KindTransportIO).Wrap(err)
	}

	lenBuf := make([]byte, 4)
	if _, err := readFull(conn, lenBuf); err != nil {
		closeIfNotPersistent(c, conn)
		c.conn = nil
		return NewRosError("reading service response length", KindTransportIO).Wrap(err)
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	body := make([]byte, length)
	if _, err := readFull(conn, body); err != nil {
		closeIfNotPersistent(c, conn)
		c.conn = nil
		return NewRosError("reading service response body", KindTransportIO).Wrap(err)
	}

	if okByte[0] == 0 {
		closeIfNotPersistent(c, conn)
		return NewRosError(string(body), KindRPCMethodFailed)
	}

	decoded, err := resp.UnmarshalBinary(body, n.templateResolver())
	if err != nil {
		closeIfNotPersistent(c, conn)
		return err
	}
	*resp = *decoded

	if c.persistent {
		c.conn = conn
	} else {
		conn.Close()
	}
	return nil
}

func closeIfNotPersistent(c *callerSlot, conn net.Conn) {
	if !c.persistent {
		conn.Close()
	}
}

func exchangeServiceHeader(conn net.Conn, c *callerSlot, timeout time.Duration) error {
	conn.SetDeadline(time.Now().Add(timeout))
	out := encodeHeader(map[string]string{
		"service":    c.service,
		"md5sum":     c.reqTemplate.MD5(),
		"callerid":   "",
		"persistent": boolFlag(c.persistent),
	})
	if _, err := conn.Write(out); err != nil {
		return NewRosError("writing service header", KindTransportIO).Wrap(err)
	}

	lenBuf := make([]byte, 4)
	if _, err := readFull(conn, lenBuf); err != nil {
		return NewRosError("reading service header length", KindTransportIO).Wrap(err)
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	body := make([]byte, n)
	if _, err := readFull(conn, body); err != nil {
		return NewRosError("reading service header body", KindTransportIO).Wrap(err)
	}
	fields, err := decodeHeader(body)
	if err != nil {
		return err
	}
	if errMsg, ok := fields["error"]; ok {
		return NewRosError(errMsg, KindRPCServerRefused)
	}
	if got := fields["md5sum"]; got != "" && got != c.reqTemplate.MD5() {
		return NewRosError(fmt.Sprintf("service md5 mismatch: want %s got %s", c.reqTemplate.MD5(), got), KindProtocolMD5Mismatch)
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func itoaPort(p int) string {
	return fmt.Sprintf("%d", p)
}
