package provider

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// RoundRobinSocketProvider cycles through a refreshable set of addresses.
// Every reconnection attempt moves on to the next member, so a dead peer
// costs exactly one attempt.
type RoundRobinSocketProvider struct {
	mu        sync.RWMutex
	addresses []string
	next      int

	timeout time.Duration
	retries int
}

// NewRoundRobinSocketProvider creates a provider over the given host:port
// addresses.
func NewRoundRobinSocketProvider(addresses ...string) (*RoundRobinSocketProvider, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("at least one address is required")
	}
	return &RoundRobinSocketProvider{
		addresses: normalizeAddresses(addresses),
		timeout:   2 * time.Second,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (p *RoundRobinSocketProvider) Get(retryNumber int, lastError error) (net.Conn, error) {
	if p.retries > 0 && retryNumber >= p.retries {
		if lastError != nil {
			return nil, fmt.Errorf("connect retries exhausted after %d attempts: %w", retryNumber, lastError)
		}
		return nil, fmt.Errorf("connect retries exhausted after %d attempts", retryNumber)
	}

	address := p.nextAddress()
	conn, err := net.DialTimeout("tcp", address, p.timeout)
	if err != nil {
		Logger.Debugf("failed to connect to %s (attempt %d): %v", address, retryNumber+1, err)
		return nil, &TransientError{Err: err}
	}

	upgradeConn(conn)
	return conn, nil
}

func (p *RoundRobinSocketProvider) SetConnectionTimeout(timeout time.Duration) {
	p.timeout = timeout
}

func (p *RoundRobinSocketProvider) SetRetriesLimit(limit int) {
	p.retries = limit
}

func (p *RoundRobinSocketProvider) RefreshAddresses(addresses []string) {
	if len(addresses) == 0 {
		return
	}
	normalized := normalizeAddresses(addresses)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses = normalized
	p.next = 0
}

func (p *RoundRobinSocketProvider) Addresses() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.addresses))
	copy(out, p.addresses)
	return out
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// nextAddress selects the next address to dial
func (p *RoundRobinSocketProvider) nextAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	address := p.addresses[p.next%len(p.addresses)]
	p.next++
	return address
}

// normalizeAddresses resolves each address to the ip:port form so that the
// set can be compared against net.Conn remote addresses
func normalizeAddresses(addresses []string) []string {
	normalized := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if resolved, err := net.ResolveTCPAddr("tcp", address); err == nil {
			normalized = append(normalized, resolved.String())
		} else {
			normalized = append(normalized, address)
		}
	}
	return normalized
}
