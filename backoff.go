// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rosnode

import "time"

const (
	backoffInitial = 100 * time.Millisecond
	backoffCap     = 4 * time.Second
)

// backoffDuration computes the exponential backoff delay before the
// attempt'th retry (attempt is 1-based: the delay before the first
// retry, after the first failure): exponential, initial 100ms, capped
// at 4s, reset on successful header exchange. The same schedule is
// reused for master-call retries since there's no reason to track a separate
// schedule for the master channel.
func backoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := backoffInitial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
