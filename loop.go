// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"net"
	"time"
)

// SpinOnce runs exactly one iteration of the event loop: accept new
// peer connections, advance every live peer
// connection's state machine by one step, drain the master/peer-RPC call
// queue by at most one step, fire any expired periodic timers, then
// return. Socket reads and writes use short deadlines, but a master or
// peer RPC round trip, a served negotiation request and a due service
// call each run to completion inside the iteration, so one iteration can
// block for up to that call's timeout. No I/O is in progress when the
// function returns.
func (n *Node) SpinOnce() {
	now := n.clock.Now()

	n.acceptDataConn()
	n.pollNegotiationAccept()

	n.dataConns.Each(func(_ SlotHandle, c **peerConn) {
		if *c != nil && (*c).state != pdClosed {
			(*c).step(n, now)
		}
	})

	n.pumpMasterQueue(now)
	n.fireTimers(now)
}

// SpinUntil repeatedly calls SpinOnce until flag is set or timeout
// elapses (timeout <= 0 means run until flag is set).
//
// Guarantees: no callback is invoked
// re-entrantly from within the loop (every callback runs from exactly
// one step of exactly one SpinOnce call); all callbacks run on the
// goroutine calling SpinUntil; when SpinUntil returns, no I/O is in
// progress (every step either completed or deferred cleanly to the next
// iteration).
func (n *Node) SpinUntil(timeout time.Duration, flag *ExitFlag) error {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = n.clock.Now().Add(timeout)
	}
	for {
		if flag != nil && flag.IsSet() {
			return nil
		}
		if hasDeadline && !n.clock.Now().Before(deadline) {
			return nil
		}
		n.SpinOnce()
		time.Sleep(time.Millisecond)
	}
}

// acceptDataConn accepts at most one new inbound peer data connection
// per iteration (publisher-side: a subscriber dialing in after a
// successful requestTopic negotiation).
func (n *Node) acceptDataConn() {
	ln, ok := n.dataLn.(*net.TCPListener)
	if !ok {
		return
	}
	ln.SetDeadline(time.Now().Add(2 * time.Millisecond))
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	c := &peerConn{
		role:      rolePublisher,
		conn:      conn,
		state:     pdAccepted,
		highWater: n.backpressureHighWater,
	}
	h := n.dataConns.Alloc(c)
	if got, ok := n.dataConns.Get(h); ok {
		(*got).ownHandle = h
	}
}

// fireTimers advances every publisher's and service caller's periodic
// timer, invoking onPublish/fill for each that is due.
func (n *Node) fireTimers(now time.Time) {
	n.publishers.Each(func(h SlotHandle, p *publisherSlot) {
		if !p.timer.Due(now) || p.onPublish == nil {
			return
		}
		msg := p.onPublish(n, h)
		if msg == nil {
			return
		}
		if err := n.SendTopicMessage(h, msg, 0); err != nil {
			n.logger.Warnf("periodic publish on %s failed: %v", p.topic, err)
		}
	})

	n.callers.Each(func(h SlotHandle, c *callerSlot) {
		if !c.timer.Due(now) || c.fill == nil {
			return
		}
		req := c.reqTemplate.Clone()
		if !c.fill(n, req) {
			return
		}
		resp := c.respTemplate.Clone()
		err := n.ServiceCall(h, req, resp, requestTopicTimeout)
		if c.collect != nil {
			c.collect(n, resp, err)
		}
	})
}
