package rosnode

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roslibgo/rosnode/xmlrpc"
)

func TestMasterHostPortSplitsAddress(t *testing.T) {
	n := &Node{master: "10.0.0.5:11311"}
	host, port, err := n.masterHostPort()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", host)
	assert.Equal(t, 11311, port)
}

func TestMasterHostPortRejectsMalformedAddress(t *testing.T) {
	n := &Node{master: "not-a-host-port"}
	_, _, err := n.masterHostPort()
	require.Error(t, err)
	re, ok := AsRosError(err)
	require.True(t, ok)
	assert.Equal(t, KindBadArgument, re.Kind())
}

// TestUnregisterPublisherFreesSlot guards against a regression where
// unregistering a publisher removed it from the master but never
// released its arena slot, leaking it forever across repeated
// register/unregister cycles.
func TestUnregisterPublisherFreesSlot(t *testing.T) {
	n := &Node{
		master:      "127.0.0.1:11311",
		publishers:  newSlotArena[publisherSlot](),
		dataConns:   newSlotArena[*peerConn](),
		logger:      NewLogger(io.Discard, LogError),
	}
	h := n.publishers.Alloc(publisherSlot{topic: "/chatter", registered: true})
	p, _ := n.publishers.Get(h)

	n.unregisterPublisher(h, p)
	require.Equal(t, 1, n.queue.Count())
	call, _ := n.queue.Dequeue()

	call.resultFetch(n, call, xmlrpc.Value{}, nil)

	_, ok := n.publishers.Get(h)
	assert.False(t, ok, "unregisterPublisher must release its slot back to the arena once the master call completes")
}

// TestUnregisterSubscriberFreesSlot mirrors
// TestUnregisterPublisherFreesSlot for the subscriber path, and also
// checks that a still-negotiating or already-open peer connection is
// closed rather than left dangling once the subscriber slot is gone.
func TestUnregisterSubscriberFreesSlot(t *testing.T) {
	n := &Node{
		master:      "127.0.0.1:11311",
		subscribers: newSlotArena[subscriberSlot](),
		dataConns:   newSlotArena[*peerConn](),
		logger:      NewLogger(io.Discard, LogError),
	}
	h := n.subscribers.Alloc(subscriberSlot{
		topic:      "/chatter",
		registered: true,
		peerByURI:  map[string]SlotHandle{"http://pub:1234/": {}},
	})
	s, _ := n.subscribers.Get(h)

	n.unregisterSubscriber(h, s)
	require.Equal(t, 1, n.queue.Count())
	call, _ := n.queue.Dequeue()

	call.resultFetch(n, call, xmlrpc.Value{}, nil)

	_, ok := n.subscribers.Get(h)
	assert.False(t, ok, "unregisterSubscriber must release its slot back to the arena once the master call completes")
}

// TestUnregisterProviderFreesSlot mirrors TestUnregisterPublisherFreesSlot
// for the service provider path.
func TestUnregisterProviderFreesSlot(t *testing.T) {
	n := &Node{
		master:    "127.0.0.1:11311",
		providers: newSlotArena[providerSlot](),
		logger:    NewLogger(io.Discard, LogError),
	}
	h := n.providers.Alloc(providerSlot{service: "/add", registered: true})
	p, _ := n.providers.Get(h)

	n.unregisterProvider(h, p)
	require.Equal(t, 1, n.queue.Count())
	call, _ := n.queue.Dequeue()

	call.resultFetch(n, call, xmlrpc.Value{}, nil)

	_, ok := n.providers.Get(h)
	assert.False(t, ok, "unregisterProvider must release its slot back to the arena once the master call completes")
}

func TestUnpackTripleSuccess(t *testing.T) {
	envelope := xmlrpc.Array(xmlrpc.Int(1), xmlrpc.String("ok"), xmlrpc.Array(xmlrpc.String("http://a"), xmlrpc.String("http://b")))
	code, msg, value, err := unpackTriple(envelope)
	require.NoError(t, err)
	assert.Equal(t, int32(1), code)
	assert.Equal(t, "ok", msg)
	uris := decodeURIArray(value)
	assert.Equal(t, []string{"http://a", "http://b"}, uris)
}

func TestUnpackTripleNegativeCodeIsError(t *testing.T) {
	envelope := xmlrpc.Array(xmlrpc.Int(-1), xmlrpc.String("no such topic"), xmlrpc.String(""))
	code, msg, _, err := unpackTriple(envelope)
	require.Error(t, err)
	assert.Equal(t, int32(-1), code)
	assert.Equal(t, "no such topic", msg)
}

func TestUnpackTripleMalformedEnvelope(t *testing.T) {
	_, _, _, err := unpackTriple(xmlrpc.Array(xmlrpc.Int(1)))
	require.Error(t, err)
	re, ok := AsRosError(err)
	require.True(t, ok)
	assert.Equal(t, KindRPCMethodFailed, re.Kind())
}

func TestUnpackTripleNotAnArray(t *testing.T) {
	_, _, _, err := unpackTriple(xmlrpc.String("not an array"))
	require.Error(t, err)
}

func TestDecodeURIArraySkipsNonStringEntries(t *testing.T) {
	v := xmlrpc.Array(xmlrpc.String("http://a"), xmlrpc.Int(5), xmlrpc.String("http://b"))
	uris := decodeURIArray(v)
	assert.Equal(t, []string{"http://a", "http://b"}, uris)
}

func TestDecodeURIArrayNotAnArrayReturnsNil(t *testing.T) {
	assert.Nil(t, decodeURIArray(xmlrpc.String("x")))
}

func TestParseRosrpcURI(t *testing.T) {
	host, port, err := parseRosrpcURI("rosrpc://192.168.1.10:54321/")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", host)
	assert.Equal(t, 54321, port)
}

func TestParseRosrpcURIWithoutTrailingSlash(t *testing.T) {
	host, port, err := parseRosrpcURI("rosrpc://192.168.1.10:54321")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", host)
	assert.Equal(t, 54321, port)
}

func TestParseRosrpcURIRejectsWrongScheme(t *testing.T) {
	_, _, err := parseRosrpcURI("http://192.168.1.10:54321/")
	require.Error(t, err)
	re, ok := AsRosError(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolMalformed, re.Kind())
}

func TestParseRosrpcURIRejectsMissingPort(t *testing.T) {
	_, _, err := parseRosrpcURI("rosrpc://192.168.1.10")
	require.Error(t, err)
}

func TestReconcileSubscriberPeersReusesExistingURI(t *testing.T) {
	n := &Node{
		dataConns: newSlotArena[*peerConn](),
		logger:    NewLogger(io.Discard, LogError),
	}
	existing := SlotHandle{Index: 3, Generation: 1}
	s := &subscriberSlot{
		topic:     "/chatter",
		peerByURI: map[string]SlotHandle{"http://pub:1234/": existing},
	}
	h := SlotHandle{Index: 0, Generation: 1}
	n.reconcileSubscriberPeers(h, s, []string{"http://pub:1234/"})

	assert.Equal(t, existing, s.peerByURI["http://pub:1234/"])
	assert.Equal(t, []string{"http://pub:1234/"}, s.publisherURIs)
}

func TestReconcileSubscriberPeersDropsUnwantedURI(t *testing.T) {
	n := &Node{
		dataConns: newSlotArena[*peerConn](),
		logger:    NewLogger(io.Discard, LogError),
	}
	stale := SlotHandle{Index: 7, Generation: 1}
	s := &subscriberSlot{
		topic:     "/chatter",
		peerByURI: map[string]SlotHandle{"http://old:1111/": stale},
	}
	h := SlotHandle{Index: 0, Generation: 1}
	n.reconcileSubscriberPeers(h, s, nil)

	assert.Empty(t, s.peerByURI)
	assert.Empty(t, s.publisherURIs)
}

// TestReconcileSubscriberPeersEnqueuesRequestTopicForNewURI guards against
// a regression where a newly-advertised publisher URI was dialed
// synchronously inline instead of negotiated through the apiCallQueue
// engine: reconciling must install a SlotHandle{} in-flight placeholder
// and hand the negotiation to n.queue, returning immediately rather than
// blocking on an RPC round trip.
func TestReconcileSubscriberPeersEnqueuesRequestTopicForNewURI(t *testing.T) {
	n := &Node{
		subscribers: newSlotArena[subscriberSlot](),
		dataConns:   newSlotArena[*peerConn](),
		logger:      NewLogger(io.Discard, LogError),
	}
	s := &subscriberSlot{
		topic:     "/chatter",
		peerByURI: map[string]SlotHandle{},
	}
	h := n.subscribers.Alloc(*s)
	slot, _ := n.subscribers.Get(h)

	n.reconcileSubscriberPeers(h, slot, []string{"http://pub:1234/"})

	ph, ok := slot.peerByURI["http://pub:1234/"]
	require.True(t, ok, "reconcile must record the new URI immediately")
	assert.False(t, ph.Valid(), "a freshly-discovered URI must start as the in-flight placeholder, not an already-opened connection")
	assert.Equal(t, []string{"http://pub:1234/"}, slot.publisherURIs)

	require.Equal(t, 1, n.queue.Count(), "reconcile must enqueue exactly one requestTopic call instead of dialing inline")
	call, ok := n.queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, methodRequestTopic, call.method)
	assert.Equal(t, "pub", call.host)
	assert.Equal(t, 1234, call.port)
	assert.Equal(t, h, call.provider)
}

// TestReconcileSubscriberPeersDoesNotReenqueueInFlightNegotiation guards
// against duplicate requestTopic calls for the same URI across repeated
// publisherUpdate-driven reconciles while the first negotiation is still
// pending.
func TestReconcileSubscriberPeersDoesNotReenqueueInFlightNegotiation(t *testing.T) {
	n := &Node{
		subscribers: newSlotArena[subscriberSlot](),
		dataConns:   newSlotArena[*peerConn](),
		logger:      NewLogger(io.Discard, LogError),
	}
	s := &subscriberSlot{
		topic:     "/chatter",
		peerByURI: map[string]SlotHandle{},
	}
	h := n.subscribers.Alloc(*s)
	slot, _ := n.subscribers.Get(h)

	n.reconcileSubscriberPeers(h, slot, []string{"http://pub:1234/"})
	require.Equal(t, 1, n.queue.Count())

	n.reconcileSubscriberPeers(h, slot, []string{"http://pub:1234/"})
	assert.Equal(t, 1, n.queue.Count(), "a URI with an in-flight negotiation must not be re-enqueued")
}
