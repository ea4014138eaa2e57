// Copyright 2018 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xmlrpc

import (
	"bytes"
	"fmt"
	"time"
)

// Call performs one XML-RPC request/response round trip against addr,
// returning the decoded return value or an error describing a fault.
func Call(addr, path, method string, timeout time.Duration, params ...Value) (Value, error) {
	reqBody := MethodCall(method, params...)
	respBody, err := Do(addr, path, reqBody, timeout)
	if err != nil {
		return Value{}, err
	}
	resp, err := ParseMethodResponse(bytes.NewReader(respBody))
	if err != nil {
		return Value{}, err
	}
	if resp.IsFault {
		return Value{}, fmt.Errorf("xmlrpc: fault %d: %s", resp.FaultCode, resp.FaultError)
	}
	return resp.Value, nil
}
