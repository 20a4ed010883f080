package provider

import (
	"errors"
	"net"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("provider")

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// ISocketProvider hands out connected sockets to the client supervisor.
type ISocketProvider interface {
	// Get establishes a new connection. retryNumber counts the attempts of
	// the current reconnection episode starting at 0; lastError is the error
	// that ended the previous attempt (nil on the first one).
	//
	// A returned TransientError keeps the supervisor retrying; any other
	// error closes the client permanently.
	Get(retryNumber int, lastError error) (net.Conn, error)
}

// IConfigurableProvider is implemented by providers whose dial policy can be
// adjusted from the client configuration.
type IConfigurableProvider interface {
	ISocketProvider

	// SetConnectionTimeout bounds a single dial attempt.
	SetConnectionTimeout(timeout time.Duration)

	// SetRetriesLimit bounds the attempts per reconnection episode.
	// A non-positive limit means unlimited retries.
	SetRetriesLimit(limit int)
}

// IRefreshableProvider is implemented by providers whose address set can be
// replaced at runtime (cluster discovery).
type IRefreshableProvider interface {
	ISocketProvider

	// RefreshAddresses replaces the provider's address set. An empty set is
	// ignored.
	RefreshAddresses(addresses []string)

	// Addresses returns the currently configured addresses, resolved to the
	// host:port form of the peers the provider dials.
	Addresses() []string
}

// --------------------------------------------------------------------------
// Error Classification
// --------------------------------------------------------------------------

// TransientError marks a dial failure the supervisor should retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient connect error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err allows another connection attempt.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// upgradeConn applies protocol-specific socket settings to a fresh connection
func upgradeConn(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
	}
}
