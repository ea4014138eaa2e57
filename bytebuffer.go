// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

// byteBuffer is an amortized-O(1)-append, compact-on-drain buffer for a
// peer channel's inbound or outbound bytes. It is the non-blocking
// analogue of a read loop that accumulates frame bytes across
// possibly-partial reads; here the accumulation is explicit state
// instead of a blocking io.ReadFull, since the event loop must never
// block on a socket.
type byteBuffer struct {
	buf []byte
	off int // bytes [0:off] are already consumed
}

// Len returns the number of unconsumed bytes.
func (b *byteBuffer) Len() int { return len(b.buf) - b.off }

// Bytes returns the unconsumed bytes. The slice is invalidated by the next
// Append or Advance call.
func (b *byteBuffer) Bytes() []byte { return b.buf[b.off:] }

// Append adds p to the buffer, compacting first if most of the backing
// array has already been consumed.
func (b *byteBuffer) Append(p []byte) {
	if b.off > 0 && b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	} else if b.off > 1024 && b.off > len(b.buf)/2 {
		b.buf = append(b.buf[:0], b.buf[b.off:]...)
		b.off = 0
	}
	b.buf = append(b.buf, p...)
}

// Advance marks n bytes as consumed.
func (b *byteBuffer) Advance(n int) {
	b.off += n
	if b.off > len(b.buf) {
		b.off = len(b.buf)
	}
	if b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	}
}

// Reset clears the buffer entirely.
func (b *byteBuffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}

// outBuffer is the outbound counterpart: a FIFO of whole frames plus the
// partially-written prefix of the frame at the head, so a short Write()
// resumes exactly where it left off on the next loop iteration.
type outBuffer struct {
	pending  [][]byte
	sentHead int // bytes of pending[0] already written
	size     int // total unsent bytes, for the backpressure high-water mark
}

func (o *outBuffer) Len() int { return o.size }

// Count returns the number of whole frames currently queued, including
// the partially-written head frame.
func (o *outBuffer) Count() int { return len(o.pending) }

// Push appends a whole frame to the outbound queue.
func (o *outBuffer) Push(frame []byte) {
	o.pending = append(o.pending, frame)
	o.size += len(frame)
}

// Head returns the unsent remainder of the frame at the head of the
// queue, or nil if the queue is empty.
func (o *outBuffer) Head() []byte {
	if len(o.pending) == 0 {
		return nil
	}
	return o.pending[0][o.sentHead:]
}

// Advance records that n more bytes of the head frame were written,
// popping it once fully sent.
func (o *outBuffer) Advance(n int) {
	o.sentHead += n
	o.size -= n
	if len(o.pending) > 0 && o.sentHead >= len(o.pending[0]) {
		o.size += o.sentHead - len(o.pending[0])
		o.pending = o.pending[1:]
		o.sentHead = 0
	}
}

// DropOldest discards the oldest frame queued behind the head frame,
// implementing the "FIFO drop-oldest" queue discipline applied when a
// subscriber's channel has been saturated longer than its configured
// queue size allows. The head frame itself is never dropped, whether or
// not any of it has been written yet; with one frame or none queued it
// drops nothing and returns false.
func (o *outBuffer) DropOldest() bool {
	if len(o.pending) <= 1 {
		return false
	}
	o.size -= len(o.pending[1])
	o.pending = append(o.pending[:1], o.pending[2:]...)
	return true
}
