// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import "sync/atomic"

// ExitFlag is the single synchronization primitive the core requires:
// a byte set atomically from outside the loop, read once per iteration
// from inside it. No other cross-thread interaction with a running
// Node is safe.
type ExitFlag struct {
	set atomic.Bool
}

// Signal requests that the loop stop at the next iteration boundary.
func (f *ExitFlag) Signal() { f.set.Store(true) }

// IsSet reports whether Signal has been called.
func (f *ExitFlag) IsSet() bool { return f.set.Load() }

// Reset clears the flag, so a single Node/ExitFlag pair can be reused
// across successive SpinUntil calls.
func (f *ExitFlag) Reset() { f.set.Store(false) }
