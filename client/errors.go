package client

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/boxKV/protocol"
)

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

var (
	// ErrTimeout reports an expired per-request deadline. The connection
	// itself stays alive.
	ErrTimeout = errors.New("operation timed out")

	// ErrTimedWrite reports an expired write-path deadline (buffer lock,
	// buffer room or channel lock). The connection itself stays alive.
	ErrTimedWrite = errors.New("write timeout exceeded")

	// ErrClosed reports access to a closed client.
	ErrClosed = errors.New("connection is closed")
)

// CommunicationError reports a socket or protocol framing failure. It is
// fatal to the connection and triggers reconnection.
type CommunicationError struct {
	Message string
	Cause   error
}

func (e *CommunicationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommunicationError) Unwrap() error {
	return e.Cause
}

func newCommunicationError(message string, cause error) *CommunicationError {
	return &CommunicationError{Message: message, Cause: cause}
}

// ServerError reports a non-zero response code from the server. It is
// surfaced to the originating caller and does not affect the connection.
type ServerError struct {
	Code    uint64
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error 0x%x: %s", e.Code, e.Message)
}

// IsTransient reports whether the operation may succeed when retried,
// possibly against another cluster member.
func (e *ServerError) IsTransient() bool {
	return protocol.IsTransientServerCode(e.Code)
}

// ClientError reports misuse of the client API: an index name scoped by a
// space reference that is neither a name nor an id, a response shape the
// called method cannot return, a malformed SQL result row. Never retried.
// Unknown space or index names are reported as schema.NotFoundError.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}

func newClientError(format string, args ...interface{}) *ClientError {
	return &ClientError{Message: fmt.Sprintf(format, args...)}
}

// isTransientError classifies errors for the cluster retry policy:
// communication failures and transient server errors qualify.
func isTransientError(err error) bool {
	var comm *CommunicationError
	if errors.As(err, &comm) {
		return true
	}
	var server *ServerError
	if errors.As(err, &server) {
		return server.IsTransient()
	}
	return false
}
