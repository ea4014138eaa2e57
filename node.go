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

	"github.com/google/uuid"
	"github.com/roslibgo/rosnode/z85"
)

// Node is the process-wide participant handle: master registration state,
// the negotiation and data-port listeners, and every publisher,
// subscriber, service-provider and service-caller slot owned by this
// process. Unlike the source system's singleton, a Node here is an
// explicit value the caller owns and passes around — the core itself
// holds no globals.
//
// Node is not safe for concurrent use. Every method that touches its
// internal state must be called from the goroutine driving SpinOnce/
// SpinUntil, with the sole exception of ExitFlag.Signal.
type Node struct {
	name   string
	host   string
	master string // "host:port"

	loader TemplateLoader
	clock  Clock
	logger *Logger

	callerID string // the caller_id header value, e.g. the node name

	callIDCounter uint64
	queue         apiCallQueue
	inFlight      *masterCallState

	publishers  *slotArena[publisherSlot]
	subscribers *slotArena[subscriberSlot]
	providers   *slotArena[providerSlot]
	callers     *slotArena[callerSlot]

	dataConns *slotArena[*peerConn]

	negotiationPort int
	dataPort        int
	negotiationLn    net.Listener
	dataLn           net.Listener

	backpressureHighWater int

	closed bool
}

// Option configures a Node at construction time, via the usual
// functional-options pattern.
type Option func(*Node)

// WithLogger injects a non-default Logger.
func WithLogger(l *Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithClock injects a non-default Clock, primarily for tests.
func WithClock(c Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithTemplateLoader injects the message-schema loader used both to
// supply publisher/subscriber/provider/caller templates by type name and,
// via Node.templateResolver, to resolve nested message types found
// inside array fields while decoding.
func WithTemplateLoader(l TemplateLoader) Option {
	return func(n *Node) { n.loader = l }
}

// templateResolver adapts n's own loader into a TemplateResolver for
// Message.UnmarshalBinary, so nested array-of-message decoding on this
// Node's connections always resolves against this Node's loader rather
// than any shared package state. Two Nodes in the same process with
// different loaders never observe each other's templates.
func (n *Node) templateResolver() TemplateResolver {
	return func(typeName string) *Message {
		if n.loader == nil {
			return defaultTemplateResolver(typeName)
		}
		tmpl, err := n.loader.Load(typeName)
		if err != nil {
			return defaultTemplateResolver(typeName)
		}
		return tmpl
	}
}

// WithHost overrides the host advertised to the master and to peers
// (default: "127.0.0.1").
func WithHost(host string) Option {
	return func(n *Node) { n.host = host }
}

// WithBackpressureHighWater overrides the default 1 MiB per-channel
// outbound high-water mark.
func WithBackpressureHighWater(bytes int) Option {
	return func(n *Node) { n.backpressureHighWater = bytes }
}

const defaultBackpressureHighWater = 1 << 20 // 1 MiB

// NewNode constructs a Node named name (forward-slash-prefixed),
// registering against the given master address ("host:port"). An empty
// name requests an anonymous name, suffixed with a random token.
func NewNode(name, masterAddr string, opts ...Option) (*Node, error) {
	if masterAddr == "" {
		return nil, NewRosError("master address is required", KindBadArgument)
	}
	if name == "" {
		name = anonymousName("node")
	} else if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	n := &Node{
		name:                  name,
		host:                  "127.0.0.1",
		master:                masterAddr,
		loader:                NewStaticLoader(StdMsgsString(), TwoIntsRequest(), TwoIntsResponse()),
		clock:                 RealClock{},
		logger:                defaultLogger(),
		callerID:              name,
		publishers:            newSlotArena[publisherSlot](),
		subscribers:           newSlotArena[subscriberSlot](),
		providers:             newSlotArena[providerSlot](),
		callers:               newSlotArena[callerSlot](),
		dataConns:             newSlotArena[*peerConn](),
		backpressureHighWater: defaultBackpressureHighWater,
	}
	for _, opt := range opts {
		opt(n)
	}

	dataLn, err := net.Listen("tcp", net.JoinHostPort(n.host, "0"))
	if err != nil {
		return nil, NewRosError("opening peer data listener", KindTransportIO).Wrap(err)
	}
	n.dataLn = dataLn
	n.dataPort = dataLn.Addr().(*net.TCPAddr).Port

	negotiationLn, err := net.Listen("tcp", net.JoinHostPort(n.host, "0"))
	if err != nil {
		dataLn.Close()
		return nil, NewRosError("opening peer negotiation listener", KindTransportIO).Wrap(err)
	}
	n.negotiationLn = negotiationLn
	n.negotiationPort = negotiationLn.Addr().(*net.TCPAddr).Port

	return n, nil
}

// Name returns the node's fully-qualified name.
func (n *Node) Name() string { return n.name }

// NegotiationURI is this node's XML-RPC URI, advertised to the master and
// to peers as the callerAPI/negotiation endpoint.
func (n *Node) NegotiationURI() string {
	return fmt.Sprintf("http://%s/", net.JoinHostPort(n.host, strconv.Itoa(n.negotiationPort)))
}

// DataPort is the port this node's peer data listener is bound to.
func (n *Node) DataPort() int { return n.dataPort }

// nextCallID allocates the next strictly-increasing master/peer RPC
// call id.
func (n *Node) nextCallID() uint64 {
	n.callIDCounter++
	return n.callIDCounter
}

// anonymousName builds "/prefix_<random>": 8 random bytes drawn from a
// UUID, Z85-encoded into 10 printable characters. The Z85 alphabet
// includes punctuation such as '-', '/', '.' and ':', so the suffix may
// contain those characters.
func anonymousName(prefix string) string {
	id := uuid.New()
	suffix, err := z85.EncodeToString(id[:8])
	if err != nil {
		suffix = strings.ReplaceAll(id.String(), "-", "")[:10]
	}
	return fmt.Sprintf("/%s_%s", prefix, suffix)
}

// Close shuts down both listeners, closes any open peer connections, and
// releases every slot back to its arena. It does not unregister slots
// from the master; callers that need every slot unregistered from the
// master before teardown must call UnregisterAll and drive the loop
// until the queue drains before calling Close.
func (n *Node) Close() error {
	if n.closed {
		return nil
	}
	n.closed = true
	n.dataConns.Each(func(h SlotHandle, c **peerConn) {
		if *c != nil {
			(*c).Close()
		}
		n.dataConns.Free(h)
	})
	n.publishers.Each(func(h SlotHandle, _ *publisherSlot) { n.publishers.Free(h) })
	n.subscribers.Each(func(h SlotHandle, _ *subscriberSlot) { n.subscribers.Free(h) })
	n.providers.Each(func(h SlotHandle, _ *providerSlot) { n.providers.Free(h) })
	n.callers.Each(func(h SlotHandle, c *callerSlot) {
		if c.conn != nil {
			c.conn.Close()
		}
		n.callers.Free(h)
	})
	var firstErr error
	if err := n.dataLn.Close(); err != nil {
		firstErr = err
	}
	if err := n.negotiationLn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	n.queue.Release()
	return firstErr
}

// UnregisterAll enqueues an unregister call for every currently
// registered publisher, subscriber, and provider slot. Callers must
// drive the loop afterwards until the queue is empty before tearing
// down the Node.
func (n *Node) UnregisterAll() {
	n.publishers.Each(func(h SlotHandle, p *publisherSlot) {
		if p.registered {
			n.unregisterPublisher(h, p)
		}
	})
	n.subscribers.Each(func(h SlotHandle, s *subscriberSlot) {
		if s.registered {
			n.unregisterSubscriber(h, s)
		}
	})
	n.providers.Each(func(h SlotHandle, p *providerSlot) {
		if p.registered {
			n.unregisterProvider(h, p)
		}
	})
}

// WaitPortOpen blocks (via repeated non-blocking dial attempts, never a
// real blocking call from inside the loop — this is a standalone helper
// meant to be called before SpinUntil, e.g. to wait for the master to
// come up) until host:port accepts a TCP connection or timeout elapses.
func WaitPortOpen(host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return NewRosError(fmt.Sprintf("%s did not open within %s", addr, timeout), KindMasterUnreachable).Wrap(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
