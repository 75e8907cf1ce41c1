package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/fcsdk/types"
)

func TestEncodeEmptyPayload(t *testing.T) {
	for _, payload := range []any{nil, types.Empty{}, &types.Empty{}} {
		raw, err := Encode("GET", "/version", payload)
		require.NoError(t, err)
		assert.Equal(t, "GET /version HTTP/1.0\r\n\r\n", string(raw))
	}
}

func TestEncodeJSONPayload(t *testing.T) {
	raw, err := Request{
		Method:  "PUT",
		Path:    "/actions",
		Payload: types.InstanceActionInfo{ActionType: types.ActionInstanceStart},
	}.Encode()
	require.NoError(t, err)

	body := `{"action_type":"InstanceStart"}`
	assert.Equal(t, "PUT /actions HTTP/1.0\r\nContent-Length: 31\r\n\r\n"+body, string(raw))
	assert.Len(t, body, 31)
}

func TestEncodeUnmarshalable(t *testing.T) {
	_, err := Encode("PUT", "/mmds", types.MMDSContents{"bad": make(chan int)})
	require.Error(t, err)
}

func TestDecodeVersion(t *testing.T) {
	body := `{"firecracker_version":"1.7.0"}`
	raw := "HTTP/1.1 200 OK\r\nServer: Firecracker API\r\nContent-Type: application/json\r\nContent-Length: 31\r\n\r\n" + body

	var v types.FirecrackerVersion
	status, err := Decode([]byte(raw), &v)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "1.7.0", v.FirecrackerVersion)
}

func TestDecodeNoContent(t *testing.T) {
	status, err := Decode([]byte("HTTP/1.1 204 No Content\r\nServer: Firecracker API\r\n\r\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, 204, status)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n{}garbage"
	var info types.InstanceInfo
	_, err := Decode([]byte(raw), &info)
	require.NoError(t, err)
}

func TestDecodeErrors(t *testing.T) {
	cases := map[string]string{
		"incomplete header": "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n",
		"missing length":    "HTTP/1.1 200 OK\r\nServer: x\r\n\r\n{}",
		"truncated body":    "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n{}",
		"bad json":          "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nnope!",
		"bad status line":   "HELLO\r\nContent-Length: 0\r\n\r\n",
		"bad length":        "HTTP/1.1 200 OK\r\nContent-Length: -4\r\n\r\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var v types.FirecrackerVersion
			_, err := Decode([]byte(raw), &v)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestDecodeTooManyHeaders(t *testing.T) {
	raw := "HTTP/1.1 204 No Content\r\n"
	for range MaxHeaders + 1 {
		raw += "X-Pad: 1\r\n"
	}
	raw += "\r\n"
	_, err := Decode([]byte(raw), nil)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeAPIError(t *testing.T) {
	body := `{"fault_message":"The requested operation is not supported"}`
	raw := "HTTP/1.1 400 Bad Request\r\nContent-Length: 60\r\n\r\n" + body
	require.Len(t, body, 60)

	status, err := Decode([]byte(raw), nil)
	assert.Equal(t, 400, status)
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 400, ae.Code)
	assert.Equal(t, "The requested operation is not supported", ae.Message)
	assert.True(t, IsStatus(err, 400))
	assert.NotErrorIs(t, err, ErrProtocol)
}

func TestComplete(t *testing.T) {
	full := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n{}"
	assert.True(t, Complete([]byte(full)))
	assert.False(t, Complete([]byte(full[:len(full)-1])))
	assert.False(t, Complete([]byte("HTTP/1.1 200 OK\r\n")))
	assert.True(t, Complete([]byte("HTTP/1.1 204 No Content\r\n\r\n")))
	assert.True(t, Complete([]byte("garbage\r\n\r\n")))
}
