package rosnode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/roslibgo/rosnode/internal/testutil"
	"github.com/roslibgo/rosnode/xmlrpc"
)

// newFakeMaster starts an httptest server that speaks the master's
// XML-RPC envelope convention, dispatching each call's method name and
// params to handler and wrapping its return value in a [1, "", value]
// success triple (or a negative-code triple on error).
func newFakeMaster(t *testing.T, handler func(method string, params []xmlrpc.Value) (xmlrpc.Value, error)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.Write(tripleErr(-1, err.Error()))
			return
		}
		call, err := xmlrpc.ParseMethodCall(bytes.NewReader(body))
		if err != nil {
			w.Write(tripleErr(-1, err.Error()))
			return
		}
		v, herr := handler(call.Method, call.Params)
		if herr != nil {
			w.Write(tripleErr(-1, herr.Error()))
			return
		}
		w.Write(tripleOK(v))
	}))
	return srv
}

func masterAddrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

// drainQueue spins n's loop with a short real-time budget, enough for a
// handful of queued master calls (each a synchronous round trip against
// a localhost listener) to complete.
func drainQueue(n *Node, budget time.Duration) {
	n.SpinUntil(budget, nil)
}

func TestPublishSubscribeEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var pubNegotiationURI string

	master := newFakeMaster(t, func(method string, params []xmlrpc.Value) (xmlrpc.Value, error) {
		switch method {
		case "registerPublisher":
			return xmlrpc.Array(), nil
		case "unregisterPublisher", "unregisterSubscriber":
			return xmlrpc.Int(1), nil
		case "registerSubscriber":
			mu.Lock()
			uri := pubNegotiationURI
			mu.Unlock()
			return xmlrpc.Array(xmlrpc.String(uri)), nil
		default:
			return xmlrpc.Value{}, fmt.Errorf("unsupported method %q", method)
		}
	})
	addr := masterAddrOf(master)

	pubNode, err := NewNode("talker", addr, WithLogger(NewLogger(io.Discard, LogError)))
	require.NoError(t, err)
	subNode, err := NewNode("listener", addr, WithLogger(NewLogger(io.Discard, LogError)))
	require.NoError(t, err)

	mu.Lock()
	pubNegotiationURI = pubNode.NegotiationURI()
	mu.Unlock()

	_, err = pubNode.RegisterPublisher("/chatter", "std_msgs/String", 10, 20*time.Millisecond, func(n *Node, h SlotHandle) *Message {
		msg, err := n.CreateTemplateMessage(h)
		if err != nil || msg.SetString("data", "hello world") != nil {
			return nil
		}
		return msg
	})
	require.NoError(t, err)

	tracker := testutil.NewMessageTracker()
	tracker.MarkSent("hello world")

	received := make(chan string, 1)
	var pubFlag, subFlag ExitFlag
	var once sync.Once

	_, err = subNode.RegisterSubscriber("/chatter", "std_msgs/String", func(n *Node, h SlotHandle, msg *Message) {
		data, _ := msg.GetString("data")
		once.Do(func() {
			tracker.MarkReceived(data)
			received <- data
			pubFlag.Signal()
			subFlag.Signal()
		})
	})
	require.NoError(t, err)

	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { return pubNode.SpinUntil(10*time.Second, &pubFlag) })
	g.Go(func() error { return subNode.SpinUntil(10*time.Second, &subFlag) })

	select {
	case data := <-received:
		assert.Equal(t, "hello world", data)
		assert.Equal(t, []string{"hello world"}, tracker.Received())
	case <-time.After(8 * time.Second):
		pubFlag.Signal()
		subFlag.Signal()
		t.Fatal("timed out waiting for subscriber to receive a message")
	}

	require.NoError(t, g.Wait())

	pubNode.UnregisterAll()
	subNode.UnregisterAll()
	drainQueue(pubNode, 200*time.Millisecond)
	drainQueue(subNode, 200*time.Millisecond)

	require.NoError(t, pubNode.Close())
	require.NoError(t, subNode.Close())
	master.Close()

	goleak.VerifyNone(t)
}

func TestServiceCallEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var providerRosrpcURI string

	master := newFakeMaster(t, func(method string, params []xmlrpc.Value) (xmlrpc.Value, error) {
		switch method {
		case "registerService", "unregisterService":
			return xmlrpc.Int(1), nil
		case "lookupService":
			mu.Lock()
			uri := providerRosrpcURI
			mu.Unlock()
			if uri == "" {
				return xmlrpc.Value{}, fmt.Errorf("service not yet available")
			}
			return xmlrpc.String(uri), nil
		default:
			return xmlrpc.Value{}, fmt.Errorf("unsupported method %q", method)
		}
	})
	addr := masterAddrOf(master)

	providerNode, err := NewNode("add_two_ints_server", addr, WithLogger(NewLogger(io.Discard, LogError)))
	require.NoError(t, err)
	callerNode, err := NewNode("add_two_ints_client", addr, WithLogger(NewLogger(io.Discard, LogError)))
	require.NoError(t, err)

	mu.Lock()
	providerRosrpcURI = fmt.Sprintf("rosrpc://127.0.0.1:%d/", providerNode.DataPort())
	mu.Unlock()

	_, err = providerNode.RegisterServiceProvider("/add_two_ints",
		"roscpp_tutorials/TwoIntsRequest", "roscpp_tutorials/TwoIntsResponse",
		func(n *Node, req, resp *Message) bool {
			a, _ := req.Get("a")
			b, _ := req.Get("b")
			av, _ := a.Value.(int64)
			bv, _ := b.Value.(int64)
			return resp.SetInt64("sum", av+bv) == nil
		})
	require.NoError(t, err)

	var callFlag, providerFlag ExitFlag
	var once sync.Once
	results := make(chan int64, 1)
	callErrs := make(chan error, 1)

	_, err = callerNode.RegisterServiceCaller("/add_two_ints",
		"roscpp_tutorials/TwoIntsRequest", "roscpp_tutorials/TwoIntsResponse",
		false, 20*time.Millisecond,
		func(n *Node, req *Message) bool {
			return req.SetInt64("a", 2) == nil && req.SetInt64("b", 3) == nil
		},
		func(n *Node, resp *Message, callErr error) {
			once.Do(func() {
				if callErr != nil {
					callErrs <- callErr
					callFlag.Signal()
					providerFlag.Signal()
					return
				}
				sum, _ := resp.Get("sum")
				v, _ := sum.Value.(int64)
				results <- v
				callFlag.Signal()
				providerFlag.Signal()
			})
		})
	require.NoError(t, err)

	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { return providerNode.SpinUntil(10*time.Second, &providerFlag) })
	g.Go(func() error { return callerNode.SpinUntil(10*time.Second, &callFlag) })

	select {
	case sum := <-results:
		assert.Equal(t, int64(5), sum)
	case err := <-callErrs:
		t.Fatalf("service call failed: %v", err)
	case <-time.After(8 * time.Second):
		callFlag.Signal()
		providerFlag.Signal()
		t.Fatal("timed out waiting for service call to complete")
	}

	require.NoError(t, g.Wait())

	providerNode.UnregisterAll()
	callerNode.UnregisterAll()
	drainQueue(providerNode, 200*time.Millisecond)
	drainQueue(callerNode, 200*time.Millisecond)

	require.NoError(t, providerNode.Close())
	require.NoError(t, callerNode.Close())
	master.Close()

	goleak.VerifyNone(t)
}
