package provider

import (
	"fmt"
	"net"
	"time"
)

// SingleSocketProvider dials one fixed address.
type SingleSocketProvider struct {
	address string
	timeout time.Duration
	retries int
}

// NewSingleSocketProvider creates a provider for the given host:port address.
func NewSingleSocketProvider(address string) *SingleSocketProvider {
	return &SingleSocketProvider{
		address: address,
		timeout: 2 * time.Second,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (p *SingleSocketProvider) Get(retryNumber int, lastError error) (net.Conn, error) {
	if p.retries > 0 && retryNumber >= p.retries {
		if lastError != nil {
			return nil, fmt.Errorf("connect retries to %s exhausted after %d attempts: %w", p.address, retryNumber, lastError)
		}
		return nil, fmt.Errorf("connect retries to %s exhausted after %d attempts", p.address, retryNumber)
	}

	conn, err := net.DialTimeout("tcp", p.address, p.timeout)
	if err != nil {
		Logger.Debugf("failed to connect to %s (attempt %d): %v", p.address, retryNumber+1, err)
		return nil, &TransientError{Err: err}
	}

	upgradeConn(conn)
	return conn, nil
}

func (p *SingleSocketProvider) SetConnectionTimeout(timeout time.Duration) {
	p.timeout = timeout
}

func (p *SingleSocketProvider) SetRetriesLimit(limit int) {
	p.retries = limit
}

// Address returns the configured address.
func (p *SingleSocketProvider) Address() string {
	return p.address
}
