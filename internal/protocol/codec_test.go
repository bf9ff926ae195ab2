package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    string
		wantCode int
	}{
		{"valid execute", `{"jsonrpc":"2.0","method":"execute","params":{"command":"echo hi"},"id":1}`, 0},
		{"valid notification", `{"jsonrpc":"2.0","method":"ping"}`, 0},
		{"not json", `{nope`, CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"execute","id":1}`, CodeInvalidRequest},
		{"missing version", `{"method":"execute","id":1}`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rpcErr := ParseRequest([]byte(tt.frame))
			if tt.wantCode == 0 {
				require.Nil(t, rpcErr)
				assert.NotEmpty(t, req.Method)
			} else {
				require.NotNil(t, rpcErr)
				assert.Equal(t, tt.wantCode, rpcErr.Code)
			}
		})
	}
}

func TestRequestNotification(t *testing.T) {
	t.Parallel()

	withID, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"execute","id":7}`))
	require.Nil(t, rpcErr)
	assert.False(t, withID.Notification())

	withoutID, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"execute"}`))
	require.Nil(t, rpcErr)
	assert.True(t, withoutID.Notification())

	nullID, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"execute","id":null}`))
	require.Nil(t, rpcErr)
	assert.True(t, nullID.Notification())
}

func TestDecodeParams(t *testing.T) {
	t.Parallel()

	req, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"execute","params":{"command":"ls","timeout":5},"id":1}`))
	require.Nil(t, rpcErr)

	var params ExecuteParams
	require.Nil(t, DecodeParams(req, &params))
	assert.Equal(t, "ls", params.Command)
	assert.Equal(t, 5.0, params.TimeoutSecs)

	noParams, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"execute","id":2}`))
	require.Nil(t, rpcErr)
	decErr := DecodeParams(noParams, &params)
	require.NotNil(t, decErr)
	assert.Equal(t, CodeInvalidParams, decErr.Code)
}

func TestEncodeErrorDefaultsNullID(t *testing.T) {
	t.Parallel()

	data, err := Encode(NewError(nil, CodeParseError, "parse error"))
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "null", string(decoded["id"]))
	assert.Contains(t, string(decoded["error"]), "-32700")
}

func TestEncodeNotificationOmitsID(t *testing.T) {
	t.Parallel()

	data, err := Encode(NewNotification(NotifyStarted, StartedParams{PID: 12, PGID: 12}))
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "id")
	assert.NotContains(t, decoded, "result")
	assert.Equal(t, `"process.started"`, string(decoded["method"]))
}
