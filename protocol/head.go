package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

var errIncomplete = fmt.Errorf("%w: incomplete response header", ErrProtocol)

type responseHead struct {
	status int
	// length is the declared Content-Length, -1 when absent.
	length int
	// size is the header section length including the terminating blank line.
	size int
}

func parseHead(raw []byte) (responseHead, error) {
	idx := bytes.Index(raw, headerEnd)
	if idx < 0 {
		return responseHead{}, errIncomplete
	}
	lines := strings.Split(string(raw[:idx]), "\r\n")
	if len(lines)-1 > MaxHeaders {
		return responseHead{}, fmt.Errorf("%w: more than %d headers", ErrProtocol, MaxHeaders)
	}

	status, err := parseStatusLine(lines[0])
	if err != nil {
		return responseHead{}, err
	}
	head := responseHead{status: status, length: -1, size: idx + len(headerEnd)}

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return responseHead{}, fmt.Errorf("%w: malformed header %q", ErrProtocol, line)
		}
		if textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name)) != "Content-Length" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return responseHead{}, fmt.Errorf("%w: bad Content-Length %q", ErrProtocol, value)
		}
		head.length = n
	}
	// 204 carries no body by definition.
	if head.length < 0 && status == http.StatusNoContent {
		head.length = 0
	}
	return head, nil
}

func parseStatusLine(line string) (int, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return 0, fmt.Errorf("%w: malformed status line %q", ErrProtocol, line)
	}
	code, _, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 {
		return 0, fmt.Errorf("%w: malformed status code %q", ErrProtocol, code)
	}
	return status, nil
}

// IsStatus reports whether err is an *APIError with the given code.
func IsStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}
