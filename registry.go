// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/roslibgo/rosnode/xmlrpc"
)

// publisherSlot holds one registered topic publication.
type publisherSlot struct {
	topic    string
	typeName string
	template *Message

	queueSize int
	period    time.Duration
	timer     periodicTimer
	onPublish func(*Node, SlotHandle) *Message // optional; nil means publish-on-demand only via SendTopicMessage

	registered bool
	lastPublish time.Time

	subscriberPeers []SlotHandle // connected subscriber-facing peer indices
}

// subscriberSlot holds one registered topic subscription.
type subscriberSlot struct {
	topic    string
	typeName string
	template *Message
	callback func(*Node, SlotHandle, *Message)

	registered    bool
	publisherURIs []string
	peerByURI     map[string]SlotHandle
}

// providerSlot holds one registered service provider.
type providerSlot struct {
	service      string
	reqTemplate  *Message
	respTemplate *Message
	callback     func(*Node, *Message, *Message) bool // returns ok

	registered bool
}

// callerSlot holds one registered service caller.
type callerSlot struct {
	service      string
	reqTemplate  *Message
	respTemplate *Message
	persistent   bool

	period   time.Duration
	timer    periodicTimer
	fill     func(*Node, *Message) bool
	collect  func(*Node, *Message, error)
	nextCall time.Time

	providerHost string
	providerPort int
	conn         net.Conn // cached open socket when persistent is true
}

func (n *Node) masterHostPort() (string, int, error) {
	host, portStr, err := net.SplitHostPort(n.master)
	if err != nil {
		return "", 0, NewRosError(fmt.Sprintf("malformed master address %q", n.master), KindBadArgument).Wrap(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, NewRosError(fmt.Sprintf("malformed master port in %q", n.master), KindBadArgument).Wrap(err)
	}
	return host, port, nil
}

// unpackTriple decodes the [code, statusMessage, value] envelope the
// master and peer negotiation RPC surface use, per the middleware's
// published convention.
func unpackTriple(v xmlrpc.Value) (int32, string, xmlrpc.Value, error) {
	arr, err := v.AsArray()
	if err != nil || len(arr) < 3 {
		return 0, "", xmlrpc.Value{}, NewRosError("malformed RPC response envelope", KindRPCMethodFailed).Wrap(err)
	}
	code, err := arr[0].AsInt()
	if err != nil {
		return 0, "", xmlrpc.Value{}, NewRosError("malformed RPC response code", KindRPCMethodFailed).Wrap(err)
	}
	msg, _ := arr[1].AsString()
	if code < 0 {
		return code, msg, arr[2], NewRosError(msg, KindRPCMethodFailed)
	}
	return code, msg, arr[2], nil
}

// --- Publisher ---

// RegisterPublisher registers a new publisher on topic, returning its
// slot handle. period < 0 requests publish-on-demand only; onPublish,
// if non-nil, is invoked at each periodic tick to
// produce the message to send (nil skips that tick).
func (n *Node) RegisterPublisher(topic, typeName string, queueSize int, period time.Duration, onPublish func(*Node, SlotHandle) *Message) (SlotHandle, error) {
	tmpl, err := n.loader.Load(typeName)
	if err != nil {
		return SlotHandle{}, err
	}
	slot := publisherSlot{
		topic:     topic,
		typeName:  typeName,
		template:  tmpl,
		queueSize: queueSize,
		period:    period,
		timer:     newPeriodicTimer(n.clock, period),
		onPublish: onPublish,
	}
	h := n.publishers.Alloc(slot)
	n.enqueueRegisterPublisher(h)
	return h, nil
}

func (n *Node) enqueueRegisterPublisher(h SlotHandle) {
	p, ok := n.publishers.Get(h)
	if !ok {
		return
	}
	host, port, err := n.masterHostPort()
	if err != nil {
		n.logger.Errorf("registerPublisher %s: %v", p.topic, err)
		return
	}
	call := &apiCall{
		id:       n.nextCallID(),
		method:   methodRegisterPublisher,
		host:     host,
		port:     port,
		provider: h,
		params: []xmlrpc.Value{
			xmlrpc.String(n.callerID),
			xmlrpc.String(p.topic),
			xmlrpc.String(p.typeName),
			xmlrpc.String(n.NegotiationURI()),
		},
		resultFetch: func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any {
			slot, ok := n.publishers.Get(call.provider)
			if !ok {
				return nil
			}
			if callErr != nil {
				return callErr
			}
			_, _, _, err := unpackTriple(v)
			if err != nil {
				return err
			}
			slot.registered = true
			return nil
		},
	}
	n.queue.Enqueue(call)
}

func (n *Node) unregisterPublisher(h SlotHandle, p *publisherSlot) {
	host, port, err := n.masterHostPort()
	if err != nil {
		n.logger.Errorf("unregisterPublisher %s: %v", p.topic, err)
		return
	}
	call := &apiCall{
		id:       n.nextCallID(),
		method:   methodUnregisterPublisher,
		host:     host,
		port:     port,
		provider: h,
		params: []xmlrpc.Value{
			xmlrpc.String(n.callerID),
			xmlrpc.String(p.topic),
			xmlrpc.String(n.NegotiationURI()),
		},
		resultFetch: func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any {
			if slot, ok := n.publishers.Get(call.provider); ok {
				slot.registered = false
				for _, ph := range slot.subscriberPeers {
					if conn, ok := n.dataConns.Get(ph); ok && *conn != nil {
						(*conn).Close()
					}
				}
			}
			n.publishers.Free(call.provider)
			return callErr
		},
	}
	n.queue.Enqueue(call)
}

// SendTopicMessage publishes msg on the publisher slot h to every
// currently connected subscriber peer, applying the FIFO-drop-oldest
// backpressure policy on any saturated channel.
func (n *Node) SendTopicMessage(h SlotHandle, msg *Message, timeout time.Duration) error {
	p, ok := n.publishers.Get(h)
	if !ok {
		return NewRosError("unknown publisher slot", KindBadArgument)
	}
	if msg.TypeName != p.typeName {
		return NewRosError(fmt.Sprintf("message type %s does not match publisher type %s", msg.TypeName, p.typeName), KindBadArgument)
	}
	payload, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	p.lastPublish = n.clock.Now()
	for _, ph := range p.subscriberPeers {
		conn, ok := n.dataConns.Get(ph)
		if !ok || *conn == nil {
			continue
		}
		(*conn).enqueueDataFrame(payload, p.queueSize)
	}
	return nil
}

// CreateTemplateMessage returns a fresh clone of the slot's message
// template.
func (n *Node) CreateTemplateMessage(h SlotHandle) (*Message, error) {
	if p, ok := n.publishers.Get(h); ok {
		return p.template.Clone(), nil
	}
	if s, ok := n.subscribers.Get(h); ok {
		return s.template.Clone(), nil
	}
	return nil, NewRosError("unknown slot", KindBadArgument)
}

// --- Subscriber ---

// RegisterSubscriber registers a subscriber on topic, returning its slot
// handle. callback fires once per inbound message, on the loop thread.
func (n *Node) RegisterSubscriber(topic, typeName string, callback func(*Node, SlotHandle, *Message)) (SlotHandle, error) {
	tmpl, err := n.loader.Load(typeName)
	if err != nil {
		return SlotHandle{}, err
	}
	slot := subscriberSlot{
		topic:     topic,
		typeName:  typeName,
		template:  tmpl,
		callback:  callback,
		peerByURI: make(map[string]SlotHandle),
	}
	h := n.subscribers.Alloc(slot)
	n.enqueueRegisterSubscriber(h)
	return h, nil
}

func (n *Node) enqueueRegisterSubscriber(h SlotHandle) {
	s, ok := n.subscribers.Get(h)
	if !ok {
		return
	}
	host, port, err := n.masterHostPort()
	if err != nil {
		n.logger.Errorf("registerSubscriber %s: %v", s.topic, err)
		return
	}
	call := &apiCall{
		id:       n.nextCallID(),
		method:   methodRegisterSubscriber,
		host:     host,
		port:     port,
		provider: h,
		params: []xmlrpc.Value{
			xmlrpc.String(n.callerID),
			xmlrpc.String(s.topic),
			xmlrpc.String(s.typeName),
			xmlrpc.String(n.NegotiationURI()),
		},
		resultFetch: func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any {
			slot, ok := n.subscribers.Get(call.provider)
			if !ok {
				return nil
			}
			if callErr != nil {
				return callErr
			}
			_, _, value, err := unpackTriple(v)
			if err != nil {
				return err
			}
			slot.registered = true
			uris := decodeURIArray(value)
			n.reconcileSubscriberPeers(call.provider, slot, uris)
			return nil
		},
	}
	n.queue.Enqueue(call)
}

func decodeURIArray(v xmlrpc.Value) []string {
	arr, err := v.AsArray()
	if err != nil {
		return nil
	}
	uris := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, err := e.AsString(); err == nil {
			uris = append(uris, s)
		}
	}
	return uris
}

// reconcileSubscriberPeers diffs the master/publisherUpdate-advertised
// URI list against the subscriber's current peer set, enqueuing a
// requestTopic negotiation for each new publisher and closing channels
// to ones no longer advertised. An already-open (or still negotiating)
// channel to a re-advertised URI is reused rather than torn down and
// redialed (see DESIGN.md). Each new URI's handle starts as the zero
// SlotHandle, a placeholder marking "negotiation in flight" so a
// second reconcile call before the first resolves doesn't enqueue a
// duplicate requestTopic for the same URI.
func (n *Node) reconcileSubscriberPeers(h SlotHandle, s *subscriberSlot, uris []string) {
	wanted := make(map[string]bool, len(uris))
	for _, u := range uris {
		wanted[u] = true
		if _, exists := s.peerByURI[u]; exists {
			continue // already connected, or negotiation already in flight
		}
		s.peerByURI[u] = SlotHandle{}
		n.enqueueRequestTopic(h, u)
	}
	for u, ph := range s.peerByURI {
		if wanted[u] {
			continue
		}
		if ph.Valid() {
			if conn, ok := n.dataConns.Get(ph); ok && *conn != nil {
				(*conn).Close()
			}
		}
		delete(s.peerByURI, u)
	}
	s.publisherURIs = uris
}

func (n *Node) unregisterSubscriber(h SlotHandle, s *subscriberSlot) {
	host, port, err := n.masterHostPort()
	if err != nil {
		n.logger.Errorf("unregisterSubscriber %s: %v", s.topic, err)
		return
	}
	call := &apiCall{
		id:       n.nextCallID(),
		method:   methodUnregisterSubscriber,
		host:     host,
		port:     port,
		provider: h,
		params: []xmlrpc.Value{
			xmlrpc.String(n.callerID),
			xmlrpc.String(s.topic),
			xmlrpc.String(n.NegotiationURI()),
		},
		resultFetch: func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any {
			if slot, ok := n.subscribers.Get(call.provider); ok {
				slot.registered = false
				for _, ph := range slot.peerByURI {
					if ph.Valid() {
						if conn, ok := n.dataConns.Get(ph); ok && *conn != nil {
							(*conn).Close()
						}
					}
				}
			}
			n.subscribers.Free(call.provider)
			return callErr
		},
	}
	n.queue.Enqueue(call)
}

// --- Service provider ---

// RegisterServiceProvider registers a service provider, returning its
// slot handle. callback receives a populated request clone and a
// response clone to fill; its bool return is the "ok" flag sent back to
// the caller.
func (n *Node) RegisterServiceProvider(service, reqType, respType string, callback func(*Node, *Message, *Message) bool) (SlotHandle, error) {
	reqTmpl, err := n.loader.Load(reqType)
	if err != nil {
		return SlotHandle{}, err
	}
	respTmpl, err := n.loader.Load(respType)
	if err != nil {
		return SlotHandle{}, err
	}
	slot := providerSlot{service: service, reqTemplate: reqTmpl, respTemplate: respTmpl, callback: callback}
	h := n.providers.Alloc(slot)
	n.enqueueRegisterService(h)
	return h, nil
}

func (n *Node) enqueueRegisterService(h SlotHandle) {
	p, ok := n.providers.Get(h)
	if !ok {
		return
	}
	host, port, err := n.masterHostPort()
	if err != nil {
		n.logger.Errorf("registerService %s: %v", p.service, err)
		return
	}
	serviceURI := fmt.Sprintf("rosrpc://%s:%d", n.host, n.dataPort)
	call := &apiCall{
		id:       n.nextCallID(),
		method:   methodRegisterService,
		host:     host,
		port:     port,
		provider: h,
		params: []xmlrpc.Value{
			xmlrpc.String(n.callerID),
			xmlrpc.String(p.service),
			xmlrpc.String(serviceURI),
			xmlrpc.String(n.NegotiationURI()),
		},
		resultFetch: func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any {
			slot, ok := n.providers.Get(call.provider)
			if !ok {
				return nil
			}
			if callErr != nil {
				return callErr
			}
			if _, _, _, err := unpackTriple(v); err != nil {
				return err
			}
			slot.registered = true
			return nil
		},
	}
	n.queue.Enqueue(call)
}

func (n *Node) unregisterProvider(h SlotHandle, p *providerSlot) {
	host, port, err := n.masterHostPort()
	if err != nil {
		n.logger.Errorf("unregisterService %s: %v", p.service, err)
		return
	}
	serviceURI := fmt.Sprintf("rosrpc://%s:%d", n.host, n.dataPort)
	call := &apiCall{
		id:       n.nextCallID(),
		method:   methodUnregisterService,
		host:     host,
		port:     port,
		provider: h,
		params: []xmlrpc.Value{
			xmlrpc.String(n.callerID),
			xmlrpc.String(p.service),
			xmlrpc.String(serviceURI),
		},
		resultFetch: func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any {
			if slot, ok := n.providers.Get(call.provider); ok {
				slot.registered = false
			}
			n.providers.Free(call.provider)
			return callErr
		},
	}
	n.queue.Enqueue(call)
}

// --- Service caller ---

// RegisterServiceCaller registers a service caller. fill populates the
// request message before each call; collect observes the response (or
// error) after each call. persistent keeps the peer connection open
// across calls instead of reconnecting for every request.
func (n *Node) RegisterServiceCaller(service, reqType, respType string, persistent bool, period time.Duration, fill func(*Node, *Message) bool, collect func(*Node, *Message, error)) (SlotHandle, error) {
	reqTmpl, err := n.loader.Load(reqType)
	if err != nil {
		return SlotHandle{}, err
	}
	respTmpl, err := n.loader.Load(respType)
	if err != nil {
		return SlotHandle{}, err
	}
	slot := callerSlot{
		service:      service,
		reqTemplate:  reqTmpl,
		respTemplate: respTmpl,
		persistent:   persistent,
		period:       period,
		timer:        newPeriodicTimer(n.clock, period),
		fill:         fill,
		collect:      collect,
	}
	h := n.callers.Alloc(slot)
	n.enqueueLookupService(h)
	return h, nil
}

func (n *Node) enqueueLookupService(h SlotHandle) {
	c, ok := n.callers.Get(h)
	if !ok {
		return
	}
	host, port, err := n.masterHostPort()
	if err != nil {
		n.logger.Errorf("lookupService %s: %v", c.service, err)
		return
	}
	call := &apiCall{
		id:       n.nextCallID(),
		method:   methodLookupService,
		host:     host,
		port:     port,
		provider: h,
		params: []xmlrpc.Value{
			xmlrpc.String(n.callerID),
			xmlrpc.String(c.service),
		},
		resultFetch: func(n *Node, call *apiCall, v xmlrpc.Value, callErr error) any {
			slot, ok := n.callers.Get(call.provider)
			if !ok {
				return nil
			}
			if callErr != nil {
				return callErr
			}
			_, _, value, err := unpackTriple(v)
			if err != nil {
				return err
			}
			uri, _ := value.AsString()
			host, port, err := parseRosrpcURI(uri)
			if err != nil {
				return err
			}
			slot.providerHost = host
			slot.providerPort = port
			return nil
		},
	}
	n.queue.Enqueue(call)
}

func parseRosrpcURI(uri string) (string, int, error) {
	// rosrpc://host:port/
	const prefix = "rosrpc://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", 0, NewRosError(fmt.Sprintf("malformed service URI %q", uri), KindProtocolMalformed)
	}
	rest := uri[len(prefix):]
	for len(rest) > 0 && rest[len(rest)-1] == '/' {
		rest = rest[:len(rest)-1]
	}
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return "", 0, NewRosError(fmt.Sprintf("malformed service URI %q", uri), KindProtocolMalformed).Wrap(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, NewRosError(fmt.Sprintf("malformed service URI %q", uri), KindProtocolMalformed).Wrap(err)
	}
	return host, port, nil
}
