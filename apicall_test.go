package rosnode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApiCallQueueFIFOOrder(t *testing.T) {
	var q apiCallQueue
	a := &apiCall{id: 1, method: methodRegisterPublisher}
	b := &apiCall{id: 2, method: methodRegisterSubscriber}
	c := &apiCall{id: 3, method: methodRegisterService}

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)
	assert.Equal(t, 3, q.Count())

	peeked, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, a, peeked)

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = q.Dequeue()
	require.True(t, ok)
	assert.Same(t, b, got)

	got, ok = q.Dequeue()
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestApiCallQueueDequeueEmpty(t *testing.T) {
	var q apiCallQueue
	_, ok := q.Dequeue()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestApiCallQueueRelease(t *testing.T) {
	var q apiCallQueue
	q.Enqueue(&apiCall{id: 1})
	q.Enqueue(&apiCall{id: 2})
	q.Release()
	assert.Equal(t, 0, q.Count())
}

func TestNextCallIDIsStrictlyIncreasing(t *testing.T) {
	n := &Node{}
	ids := make(map[uint64]bool)
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		id := n.nextCallID()
		assert.Greater(t, id, prev)
		assert.False(t, ids[id], "call id %d issued twice", id)
		ids[id] = true
		prev = id
	}
}

func TestApiMethodStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "registerPublisher", methodRegisterPublisher.String())
	assert.Equal(t, "requestTopic", methodRequestTopic.String())
	assert.Equal(t, "unknown", apiMethod(999).String())
}
