// Package protocol frames single request/response exchanges on the VMM
// control socket. It is deliberately not general HTTP: one request yields
// exactly one response whose body length is given by Content-Length.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/projecteru2/fcsdk/types"
)

// MaxHeaders caps the number of header lines accepted in a response.
const MaxHeaders = 64

var (
	// ErrProtocol is wrapped by every framing or body decoding failure.
	ErrProtocol = errors.New("protocol error")

	headerEnd = []byte("\r\n\r\n")
	crlf      = []byte("\r\n")
)

// APIError carries a non-2xx status returned by the VMM.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vmm returned %d: %s", e.Code, e.Message)
}

// Request is one control call.
type Request struct {
	Method  string
	Path    string
	Payload any
}

// Encode renders r, see Encode.
func (r Request) Encode() ([]byte, error) {
	return Encode(r.Method, r.Path, r.Payload)
}

func (r Request) String() string {
	return r.Method + " " + r.Path
}

// Encode renders `METHOD PATH HTTP/1.0`. A nil or types.Empty payload ends the
// request with a blank line; anything else is sent as a JSON body preceded by
// its Content-Length.
func Encode(method, path string, payload any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte(' ')
	buf.WriteString(path)
	buf.WriteString(" HTTP/1.0\r\n")

	if isEmpty(payload) {
		buf.Write(crlf)
		return buf.Bytes(), nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
	}
	buf.WriteString("Content-Length: ")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.Write(crlf)
	buf.Write(crlf)
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode parses one response from raw and unmarshals its body into out.
// out may be nil or *types.Empty when the caller expects no body.
// Non-2xx responses are returned as *APIError together with the status.
func Decode(raw []byte, out any) (int, error) {
	head, err := parseHead(raw)
	if err != nil {
		return 0, err
	}
	if head.length < 0 {
		return head.status, fmt.Errorf("%w: response %d has no Content-Length", ErrProtocol, head.status)
	}
	body := raw[head.size:]
	if len(body) < head.length {
		return head.status, fmt.Errorf("%w: body truncated: want %d bytes, got %d", ErrProtocol, head.length, len(body))
	}
	body = body[:head.length]

	if head.status < 200 || head.status > 299 {
		return head.status, &APIError{Code: head.status, Message: faultMessage(head.status, body)}
	}
	if isEmpty(out) {
		return head.status, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return head.status, fmt.Errorf("%w: decode body: %v", ErrProtocol, err)
	}
	return head.status, nil
}

// Complete reports whether raw holds a whole response: the header section plus
// as many body bytes as Content-Length declares. A header section without a
// usable length counts as complete, Decode reports it.
func Complete(raw []byte) bool {
	head, err := parseHead(raw)
	if err != nil {
		return !errors.Is(err, errIncomplete)
	}
	if head.length < 0 {
		return true
	}
	return len(raw)-head.size >= head.length
}

func faultMessage(status int, body []byte) string {
	var fault types.Fault
	if err := json.Unmarshal(body, &fault); err == nil && fault.FaultMessage != "" {
		return fault.FaultMessage
	}
	if len(body) > 0 {
		return string(body)
	}
	return http.StatusText(status)
}

func isEmpty(v any) bool {
	switch v.(type) {
	case nil, types.Empty, *types.Empty:
		return true
	}
	return false
}
