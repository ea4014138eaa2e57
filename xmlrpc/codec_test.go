package xmlrpc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodCallRoundTrip(t *testing.T) {
	body := MethodCall("registerPublisher",
		String("/talker"),
		String("/chatter"),
		String("std_msgs/String"),
		String("http://localhost:11311/"),
	)

	call, err := ParseMethodCall(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "registerPublisher", call.Method)
	require.Len(t, call.Params, 4)

	s, err := call.Params[0].AsString()
	require.NoError(t, err)
	assert.Equal(t, "/talker", s)
}

func TestMethodResponseRoundTrip(t *testing.T) {
	body := MethodResponse(Array(Int(1), String("ok"), Array(String("http://a"), String("http://b"))))

	resp, err := ParseMethodResponse(bytes.NewReader(body))
	require.NoError(t, err)
	require.False(t, resp.IsFault)

	arr, err := resp.Value.AsArray()
	require.NoError(t, err)
	require.Len(t, arr, 3)

	code, err := arr[0].AsInt()
	require.NoError(t, err)
	assert.Equal(t, int32(1), code)

	uris, err := arr[2].AsArray()
	require.NoError(t, err)
	require.Len(t, uris, 2)
}

func TestFaultRoundTrip(t *testing.T) {
	body := Fault(8, "unknown method")

	resp, err := ParseMethodResponse(bytes.NewReader(body))
	require.NoError(t, err)
	require.True(t, resp.IsFault)
	assert.Equal(t, int32(8), resp.FaultCode)
	assert.Equal(t, "unknown method", resp.FaultError)
}

func TestStructRoundTrip(t *testing.T) {
	body := MethodResponse(Struct(map[string]Value{
		"host": String("10.0.0.1"),
		"port": Int(9090),
	}))

	resp, err := ParseMethodResponse(bytes.NewReader(body))
	require.NoError(t, err)

	host, ok := resp.Value.Field("host")
	require.True(t, ok)
	hs, err := host.AsString()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", hs)
}

func TestEscapingRoundTrip(t *testing.T) {
	body := MethodCall("echo", String(`<tag> & "quoted" 'value'`))
	call, err := ParseMethodCall(bytes.NewReader(body))
	require.NoError(t, err)
	s, err := call.Params[0].AsString()
	require.NoError(t, err)
	assert.Equal(t, `<tag> & "quoted" 'value'`, s)
}
