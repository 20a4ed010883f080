package client

import (
	"bufio"
	"net"
	"sync"
	"testing"

	"github.com/ValentinKolb/boxKV/protocol"
	"github.com/ValentinKolb/boxKV/schema"
)

// stubHandler intercepts one request; returning false falls back to the
// stub's default behavior
type stubHandler func(server *stubServer, conn *stubConn, packet *protocol.Packet) bool

// stubServer is an in-process iproto peer for engine tests: it speaks the
// real wire format (greeting, catalog spaces, responses) over a loopback
// listener.
type stubServer struct {
	t        *testing.T
	listener net.Listener

	mu            sync.Mutex
	schemaVersion uint64
	spaceRows     []interface{}
	indexRows     []interface{}
	handler       stubHandler
	conns         []net.Conn
}

// stubConn serializes response writes per connection
type stubConn struct {
	net.Conn
	writeMu sync.Mutex
}

// respond encodes and writes one response frame
func (c *stubConn) respond(t *testing.T, code, sync, schemaID uint64, body map[protocol.Key]interface{}) {
	frame, err := protocol.EncodeResponse(code, sync, schemaID, body)
	if err != nil {
		t.Errorf("stub failed to encode response: %v", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.Write(frame); err != nil {
		// the peer may legitimately be gone mid-test
		return
	}
}

// respondData writes a success response carrying the given rows
func (c *stubConn) respondData(t *testing.T, sync, schemaID uint64, rows []interface{}) {
	c.respond(t, protocol.ResponseSuccess, sync, schemaID, map[protocol.Key]interface{}{
		protocol.KeyData: rows,
	})
}

// newStubServer starts a peer with one space "T" (id 512, index "pk") at
// schema version 10.
func newStubServer(t *testing.T) *stubServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &stubServer{
		t:             t,
		listener:      listener,
		schemaVersion: 10,
		spaceRows: []interface{}{
			[]interface{}{uint64(512), uint64(1), "T", "memtx", uint64(0)},
		},
		indexRows: []interface{}{
			[]interface{}{uint64(512), uint64(0), "pk", "tree"},
		},
	}
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *stubServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *stubServer) Close() {
	_ = s.listener.Close()
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// CloseConns drops every live connection, keeping the listener up
func (s *stubServer) CloseConns() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *stubServer) SetHandler(handler stubHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

func (s *stubServer) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaVersion
}

// SetCatalog replaces the schema version and the space rows
func (s *stubServer) SetCatalog(version uint64, spaceRows, indexRows []interface{}) {
	s.mu.Lock()
	s.schemaVersion = version
	s.spaceRows = spaceRows
	s.indexRows = indexRows
	s.mu.Unlock()
}

func (s *stubServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(&stubConn{Conn: conn})
	}
}

func (s *stubServer) serve(conn *stubConn) {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i)
	}
	if _, err := conn.Write(protocol.BuildGreeting("BoxDB 2.10 (stub)", salt)); err != nil {
		return
	}

	reader := bufio.NewReader(conn)
	for {
		packet, err := protocol.ReadPacket(reader)
		if err != nil {
			return
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler != nil && handler(s, conn, packet) {
			continue
		}
		s.defaultHandle(conn, packet)
	}
}

// defaultHandle serves the catalog spaces and acknowledges anything else
func (s *stubServer) defaultHandle(conn *stubConn, packet *protocol.Packet) {
	s.mu.Lock()
	version := s.schemaVersion
	spaceRows := s.spaceRows
	indexRows := s.indexRows
	s.mu.Unlock()

	if packet.Code == uint64(protocol.CodeSelect) {
		switch spaceOf(packet) {
		case schema.VSpaceID:
			conn.respondData(s.t, packet.Sync, version, spaceRows)
			return
		case schema.VIndexID:
			conn.respondData(s.t, packet.Sync, version, indexRows)
			return
		}
	}
	conn.respondData(s.t, packet.Sync, version, []interface{}{})
}

// spaceOf extracts the space id of a request body
func spaceOf(packet *protocol.Packet) uint64 {
	value, ok := packet.Body[protocol.KeySpace]
	if !ok {
		return 0
	}
	switch n := value.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	}
	return 0
}

// keyOf extracts the first key cell of a request body
func keyOf(packet *protocol.Packet) interface{} {
	key, ok := packet.Body[protocol.KeyKey].([]interface{})
	if !ok || len(key) == 0 {
		return nil
	}
	return key[0]
}
