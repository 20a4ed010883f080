package provider

import (
	"net"
	"testing"
	"time"
)

// TestRoundRobinCycles tests that consecutive attempts move through the
// address set
func TestRoundRobinCycles(t *testing.T) {
	p, err := NewRoundRobinSocketProvider("127.0.0.1:3301", "127.0.0.1:3302", "127.0.0.1:3303")
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	want := []string{"127.0.0.1:3301", "127.0.0.1:3302", "127.0.0.1:3303", "127.0.0.1:3301"}
	for i, expected := range want {
		if address := p.nextAddress(); address != expected {
			t.Errorf("attempt %d: got %s, want %s", i, address, expected)
		}
	}
}

// TestRoundRobinRefresh tests address replacement
func TestRoundRobinRefresh(t *testing.T) {
	p, err := NewRoundRobinSocketProvider("127.0.0.1:3301")
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	// an empty refresh is ignored
	p.RefreshAddresses(nil)
	if addresses := p.Addresses(); len(addresses) != 1 {
		t.Errorf("addresses after empty refresh: got %v", addresses)
	}

	p.RefreshAddresses([]string{"127.0.0.1:4401", "127.0.0.1:4402"})
	addresses := p.Addresses()
	if len(addresses) != 2 || addresses[0] != "127.0.0.1:4401" {
		t.Errorf("addresses after refresh: got %v", addresses)
	}
	if address := p.nextAddress(); address != "127.0.0.1:4401" {
		t.Errorf("rotation must restart after refresh, got %s", address)
	}
}

// TestProviderRetriesExhausted tests the non-transient give-up error
func TestProviderRetriesExhausted(t *testing.T) {
	p := NewSingleSocketProvider("127.0.0.1:1")
	p.SetRetriesLimit(3)
	p.SetConnectionTimeout(100 * time.Millisecond)

	if _, err := p.Get(3, nil); err == nil || IsTransient(err) {
		t.Errorf("an exhausted retry budget must be a fatal error, got %v", err)
	}
}

// TestProviderTransientDialFailure tests that a refused dial keeps the
// supervisor retrying
func TestProviderTransientDialFailure(t *testing.T) {
	// grab a port and close it again so the dial is refused
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	address := listener.Addr().String()
	_ = listener.Close()

	p := NewSingleSocketProvider(address)
	p.SetConnectionTimeout(200 * time.Millisecond)

	if _, err := p.Get(0, nil); err == nil || !IsTransient(err) {
		t.Errorf("a refused dial must be transient, got %v", err)
	}
}

// TestProviderConnects tests the success path
func TestProviderConnects(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	p := NewSingleSocketProvider(listener.Addr().String())
	conn, err := p.Get(0, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if conn.RemoteAddr().String() != listener.Addr().String() {
		t.Errorf("connected to %s, want %s", conn.RemoteAddr(), listener.Addr())
	}
}
