// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rosnode implements the node runtime for a process that wants to
// participate as a publisher, subscriber, or service endpoint in a
// ROS-style publish/subscribe and RPC middleware.
//
// A Node registers publishers, subscribers, service providers and service
// callers locally, then drives everything — master API calls, peer
// negotiation, and peer data exchange — from a single cooperative event
// loop (Node.SpinOnce / Node.SpinUntil). There is no concurrency inside
// the loop: every callback supplied by user code runs on whichever
// goroutine calls Spin*, never re-entrantly, and the only thread-safe
// entry point from outside the loop is the Node's exit flag.
package rosnode
