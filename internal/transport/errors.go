package transport

import (
	"errors"
	"fmt"
)

// TransportError means the remote side could not be reached or the
// connection failed before a complete response was read.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the remote side answered, but not with what was
// expected: an unexpected status, a body that is not JSON, or an error
// object. Body holds a prefix of the raw response for diagnostics.
type ProtocolError struct {
	StatusCode int
	URL        string
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("unexpected response from %s", e.URL)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.Body)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by a ProtocolError in err's
// chain.
func StatusCode(err error) (int, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return pe.StatusCode, true
	}
	return 0, false
}

// IsTransportError reports whether err's chain contains a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

const maxErrorBody = 512

func truncate(bz []byte) string {
	if len(bz) > maxErrorBody {
		return string(bz[:maxErrorBody]) + "..."
	}
	return string(bz)
}
