package client

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/boxKV/protocol"
	"github.com/ValentinKolb/boxKV/schema"
)

// newTestClient connects to the stub with tight timeouts
func newTestClient(t *testing.T, address string, mutate func(*ClientConfig)) *Client {
	t.Helper()
	config := DefaultClientConfig()
	config.InitTimeout = 5 * time.Second
	config.OperationTimeout = 5 * time.Second
	config.WriteTimeout = time.Second
	config.SharedBufferSize = 64 * 1024
	if mutate != nil {
		mutate(&config)
	}

	c, err := NewClient(address, config)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// waitSchemaLoaded blocks until the initial catalog refresh finished
func waitSchemaLoaded(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.SchemaMeta().IsInitialized() && !c.state.isSet(stateSchemaUpdating) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("schema never finished loading")
}

func waitCondition(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestConnectAndPing tests the happy path: handshake, schema load, ping
func TestConnectAndPing(t *testing.T) {
	s := newStubServer(t)
	c := newTestClient(t, s.Addr(), nil)

	if !c.IsAlive() {
		t.Error("client must be alive after construction")
	}
	if err := c.Ping(); err != nil {
		t.Errorf("ping failed: %v", err)
	}
	waitSchemaLoaded(t, c)
	if version := c.SchemaMeta().SchemaVersion(); version != 10 {
		t.Errorf("schema version: got %d, want 10", version)
	}
	if id, err := c.SchemaMeta().SpaceID("T"); err != nil || id != 512 {
		t.Errorf("space resolution: got (%d, %v), want (512, nil)", id, err)
	}
}

// TestPipeliningOutOfOrder tests that responses returning in a different
// order than their requests complete the right futures
func TestPipeliningOutOfOrder(t *testing.T) {
	s := newStubServer(t)

	type pendingSelect struct {
		conn *stubConn
		sync uint64
		key  interface{}
	}
	var mu sync.Mutex
	var pending []pendingSelect

	s.SetHandler(func(server *stubServer, conn *stubConn, packet *protocol.Packet) bool {
		if packet.Code != uint64(protocol.CodeSelect) || spaceOf(packet) != 512 {
			return false
		}
		mu.Lock()
		pending = append(pending, pendingSelect{conn: conn, sync: packet.Sync, key: keyOf(packet)})
		batch := pending
		mu.Unlock()
		if len(batch) == 3 {
			// reorder: respond 2, 3, 1
			for _, i := range []int{1, 2, 0} {
				p := batch[i]
				p.conn.respondData(server.t, p.sync, server.Version(), []interface{}{
					[]interface{}{p.key},
				})
			}
		}
		return true
	})

	c := newTestClient(t, s.Addr(), nil)
	waitSchemaLoaded(t, c)

	futures := make([]*Future, 3)
	for i := range futures {
		futures[i] = c.Async().Select(uint64(512), uint64(0), []interface{}{uint64(i + 100)}, 0, 1, protocol.IterEq)
	}

	for i, f := range futures {
		value, err := f.Get()
		if err != nil {
			t.Fatalf("future %d failed: %v", i, err)
		}
		rows := value.([]interface{})
		if len(rows) != 1 {
			t.Fatalf("future %d: got %d rows, want 1", i, len(rows))
		}
		cell := rows[0].([]interface{})[0]
		if got, _ := cell.(uint64); got != uint64(i+100) {
			t.Errorf("future %d completed with key %v, want %d", i, cell, i+100)
		}
	}

	waitCondition(t, "empty registry", func() bool { return c.registry.Size() == 0 })
	if pendingCount := c.pendingResponses.Load(); pendingCount != 0 {
		t.Errorf("pending responses: got %d, want 0", pendingCount)
	}
}

// TestSchemaDriftRetriesTransparently tests the wrong-schema-version path:
// refresh runs, the delayed queue drains, the request is re-sent at the new
// version and completes without a user-visible error
func TestSchemaDriftRetriesTransparently(t *testing.T) {
	s := newStubServer(t)

	var inserts []uint64
	var mu sync.Mutex
	s.SetHandler(func(server *stubServer, conn *stubConn, packet *protocol.Packet) bool {
		if packet.Code != uint64(protocol.CodeInsert) {
			return false
		}
		mu.Lock()
		inserts = append(inserts, packet.SchemaID)
		attempt := len(inserts)
		mu.Unlock()
		if attempt == 1 {
			server.SetCatalog(11, []interface{}{
				[]interface{}{uint64(512), uint64(1), "T", "memtx", uint64(0)},
			}, []interface{}{
				[]interface{}{uint64(512), uint64(0), "pk", "tree"},
			})
			conn.respond(server.t, protocol.ErrWrongSchemaVersion, packet.Sync, 11, nil)
			return true
		}
		conn.respondData(server.t, packet.Sync, server.Version(), []interface{}{
			[]interface{}{uint64(1), "alice"},
		})
		return true
	})

	c := newTestClient(t, s.Addr(), nil)
	waitSchemaLoaded(t, c)

	value, err := c.Async().Insert(uint64(512), []interface{}{uint64(1), "alice"}).Get()
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if rows := value.([]interface{}); len(rows) != 1 {
		t.Errorf("insert result: got %d rows, want 1", len(rows))
	}

	mu.Lock()
	attempts := len(inserts)
	first, second := inserts[0], inserts[len(inserts)-1]
	mu.Unlock()
	if attempts != 2 {
		t.Fatalf("insert attempts: got %d, want 2", attempts)
	}
	if first != 10 || second != 11 {
		t.Errorf("insert schema ids: got (%d, %d), want (10, 11)", first, second)
	}

	waitCondition(t, "refreshed schema version", func() bool {
		return c.SchemaMeta().SchemaVersion() == 11
	})
}

// TestOptimisticProbeFalseAlarm tests that a request referencing an unknown
// space fails with the resolution error after the probe confirms the cached
// schema is current, without triggering a refresh
func TestOptimisticProbeFalseAlarm(t *testing.T) {
	s := newStubServer(t)

	var catalogSelects int32
	var mu sync.Mutex
	s.SetHandler(func(server *stubServer, conn *stubConn, packet *protocol.Packet) bool {
		if packet.Code == uint64(protocol.CodeSelect) && spaceOf(packet) == schema.VSpaceID {
			mu.Lock()
			catalogSelects++
			mu.Unlock()
		}
		return false
	})

	c := newTestClient(t, s.Addr(), nil)
	waitSchemaLoaded(t, c)

	_, err := c.Async().Select("Ghost", uint64(0), []interface{}{uint64(1)}, 0, 1, protocol.IterEq).Get()
	var notFound *schema.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("got %v, want a schema resolution error", err)
	}
	if notFound.Name != "Ghost" {
		t.Errorf("resolution error names %q, want Ghost", notFound.Name)
	}

	// the schema was current, so no refresh beyond the initial one may run
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	refreshes := catalogSelects
	mu.Unlock()
	if refreshes != 1 {
		t.Errorf("catalog loads: got %d, want 1", refreshes)
	}
	if c.delayed.Len() != 0 {
		t.Errorf("delayed queue length: got %d, want 0", c.delayed.Len())
	}
}

// TestCloseQuiescence tests that close fails every in-flight future and
// terminates the client
func TestCloseQuiescence(t *testing.T) {
	s := newStubServer(t)
	s.SetHandler(func(server *stubServer, conn *stubConn, packet *protocol.Packet) bool {
		// swallow data selects, keeping their futures in flight
		return packet.Code == uint64(protocol.CodeSelect) && spaceOf(packet) == 512
	})

	c := newTestClient(t, s.Addr(), nil)
	waitSchemaLoaded(t, c)

	futures := make([]*Future, 100)
	for i := range futures {
		futures[i] = c.Async().Select(uint64(512), uint64(0), []interface{}{uint64(i)}, 0, 1, protocol.IterEq)
	}
	waitCondition(t, "all requests in flight", func() bool {
		return c.pendingResponses.Load() == 100
	})

	c.Close()

	for i, f := range futures {
		if !f.IsDone() {
			t.Fatalf("future %d still pending after close", i)
		}
		_, err := f.Get()
		if !errors.Is(err, ErrClosed) {
			t.Errorf("future %d failed with %v, want a connection-is-closed error", i, err)
		}
	}
	if !c.IsClosed() {
		t.Error("client must report closed")
	}
	if c.registry.Size() != 0 {
		t.Errorf("registry size after close: got %d, want 0", c.registry.Size())
	}
	if pending := c.pendingResponses.Load(); pending != 0 {
		t.Errorf("pending responses after close: got %d, want 0", pending)
	}
}

// TestBackpressureTimedWrite tests that a caller waiting for buffer room
// fails with a timed-write error while earlier callers stay unaffected
func TestBackpressureTimedWrite(t *testing.T) {
	s := newStubServer(t)
	c := newTestClient(t, s.Addr(), func(config *ClientConfig) {
		config.SharedBufferSize = 4096
		config.WriteTimeout = 50 * time.Millisecond
		config.DirectWriteFactor = 1.0
	})
	waitSchemaLoaded(t, c)

	// hold the write lock to simulate a stalled peer socket
	c.writeLock.lock()

	// the catalog loads already went through the shared buffer
	buffered := c.stats.Buffered.Get()

	// first packet: buffered, then swapped into the writer buffer
	first := c.Async().Select(uint64(512), uint64(0), []interface{}{strings.Repeat("a", 1000)}, 0, 1, protocol.IterEq)
	waitCondition(t, "writer to swap the first packet", func() bool {
		c.bufferLock.lock()
		defer c.bufferLock.unlock()
		return len(c.shared) == 0 && c.stats.Buffered.Get() == buffered+1
	})

	// second packet: fills most of the shared buffer
	second := c.Async().Select(uint64(512), uint64(0), []interface{}{strings.Repeat("b", 3000)}, 0, 1, protocol.IterEq)

	// third packet: no room left, must fail after the write timeout
	start := time.Now()
	third := c.Async().Select(uint64(512), uint64(0), []interface{}{strings.Repeat("c", 3000)}, 0, 1, protocol.IterEq)
	_, err := third.Get()
	if !errors.Is(err, ErrTimedWrite) {
		t.Fatalf("got %v, want ErrTimedWrite", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timed write took %s, want roughly the write timeout", elapsed)
	}
	if c.stats.SharedEmptyAwaitTimeouts.Get() == 0 {
		t.Error("the empty-await timeout counter must have fired")
	}

	// release the socket: the earlier callers complete normally
	c.writeLock.unlock()
	if _, err := first.Get(); err != nil {
		t.Errorf("first caller failed: %v", err)
	}
	if _, err := second.Get(); err != nil {
		t.Errorf("second caller failed: %v", err)
	}
}

// TestReconnectAfterConnectionLoss tests the supervisor: a dropped socket
// fails in-flight requests, then the client comes back by itself
func TestReconnectAfterConnectionLoss(t *testing.T) {
	s := newStubServer(t)
	c := newTestClient(t, s.Addr(), nil)
	waitSchemaLoaded(t, c)

	s.CloseConns()

	waitCondition(t, "client to notice the drop and recover", func() bool {
		return c.stats.Reconnects.Get() >= 2 && c.IsAlive()
	})
	if err := c.Ping(); err != nil {
		t.Errorf("ping after reconnect failed: %v", err)
	}
	if c.stats.Reconnects.Get() < 2 {
		t.Errorf("reconnect counter: got %d, want at least 2", c.stats.Reconnects.Get())
	}
}

// TestWriteTimeoutZeroFailsFast tests the write-timeout-0 boundary
func TestWriteTimeoutZeroFailsFast(t *testing.T) {
	core := newClientCore(nil, ClientConfig{
		SharedBufferSize: 1024,
		WriteTimeout:     -1, // normalized to 0
	})

	// fill the buffer to capacity without a writer goroutine draining it
	if err := core.sharedWrite(make([]byte, 1024)); err != nil {
		t.Fatalf("a packet of exactly the buffer capacity must use the shared path: %v", err)
	}

	start := time.Now()
	err := core.sharedWrite(make([]byte, 16))
	if !errors.Is(err, ErrTimedWrite) {
		t.Fatalf("got %v, want ErrTimedWrite", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("zero write timeout took %s, want an immediate failure", elapsed)
	}
}

// TestDirectWriteThreshold tests the path selection boundary
func TestDirectWriteThreshold(t *testing.T) {
	core := newClientCore(nil, ClientConfig{
		SharedBufferSize:  1024,
		DirectWriteFactor: 0.5,
		WriteTimeout:      time.Second,
	})

	// below the threshold: the shared path takes it
	if direct, err := core.directWrite(make([]byte, 511)); direct || err != nil {
		t.Errorf("511-byte packet: got (direct=%v, err=%v), want the shared path", direct, err)
	}

	// at the threshold: direct, which without a socket is a communication error
	direct, err := core.directWrite(make([]byte, 512))
	if !direct {
		t.Error("512-byte packet must pick the direct path")
	}
	var comm *CommunicationError
	if !errors.As(err, &comm) {
		t.Errorf("direct write without a socket: got %v, want a communication error", err)
	}
}
