package client

import (
	"testing"
	"time"

	"github.com/ValentinKolb/boxKV/protocol"
)

func newTestClusterClient(t *testing.T, addresses ...string) *ClusterClient {
	t.Helper()
	config := DefaultClientConfig()
	config.InitTimeout = 5 * time.Second
	config.OperationTimeout = 10 * time.Second
	config.WriteTimeout = time.Second
	config.SharedBufferSize = 64 * 1024

	cc, err := NewClusterClient(ClusterConfig{ClientConfig: config}, addresses...)
	if err != nil {
		t.Fatalf("failed to connect cluster client: %v", err)
	}
	t.Cleanup(cc.Close)
	return cc
}

// TestClusterFailover tests scenario: the active member resets mid-request,
// the in-flight operation is retried against the next member and completes
// with its response
func TestClusterFailover(t *testing.T) {
	memberA := newStubServer(t)
	memberB := newStubServer(t)

	// member A drops the connection upon receiving the call
	memberA.SetHandler(func(server *stubServer, conn *stubConn, packet *protocol.Packet) bool {
		if packet.Code == uint64(protocol.CodeCall) || packet.Code == uint64(protocol.CodeOldCall) {
			_ = conn.Close()
			return true
		}
		return false
	})

	// member B answers it
	memberB.SetHandler(func(server *stubServer, conn *stubConn, packet *protocol.Packet) bool {
		if packet.Code == uint64(protocol.CodeCall) || packet.Code == uint64(protocol.CodeOldCall) {
			conn.respondData(server.t, packet.Sync, server.Version(), []interface{}{
				[]interface{}{"from-b"},
			})
			return true
		}
		return false
	})

	cc := newTestClusterClient(t, memberA.Addr(), memberB.Addr())
	waitSchemaLoaded(t, cc.Client)

	value, err := cc.Async().Call("work").Get()
	if err != nil {
		t.Fatalf("call did not survive the fail-over: %v", err)
	}
	rows := value.([]interface{})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if cell := rows[0].([]interface{})[0]; cell != "from-b" {
		t.Errorf("call answered by %v, want from-b", cell)
	}
	if cc.retries.Size() != 0 {
		t.Errorf("retry map size after fail-over: got %d, want 0", cc.retries.Size())
	}
}

// TestClusterTransientServerErrorParksRequest tests the transient-error
// classification of the overlay
func TestClusterTransientServerErrorParksRequest(t *testing.T) {
	member := newStubServer(t)
	cc := newTestClusterClient(t, member.Addr())
	waitSchemaLoaded(t, cc.Client)

	request := NewRequest(protocol.CodePing)
	request.begin(cc.syncID.Add(1), time.Minute)

	// a transient server error parks the request instead of failing it
	cc.fail(request, &ServerError{Code: protocol.ServerErrReadonly, Message: "read-only"})
	if request.result.IsDone() {
		t.Error("a transient failure must keep the future pending")
	}
	if _, parked := cc.retries.Load(request.id); !parked {
		t.Error("the request must sit in the retry map")
	}

	// a plain server error fails for good
	fatal := NewRequest(protocol.CodePing)
	fatal.begin(cc.syncID.Add(1), time.Minute)
	cc.fail(fatal, &ServerError{Code: 42, Message: "boom"})
	if !fatal.result.IsDone() {
		t.Error("a non-transient failure must resolve the future")
	}
}

// TestClusterRenewsConnectionWhenPeerRemoved tests the discovery-driven
// graceful reconnect: when the active peer leaves the member set and no
// responses are pending, the client moves to a remaining member
func TestClusterRenewsConnectionWhenPeerRemoved(t *testing.T) {
	memberA := newStubServer(t)
	memberB := newStubServer(t)

	cc := newTestClusterClient(t, memberA.Addr(), memberB.Addr())
	waitSchemaLoaded(t, cc.Client)

	initial := cc.currentConn().RemoteAddr().String()
	if initial != memberA.Addr() {
		t.Fatalf("expected the first member to be active, got %s", initial)
	}

	cc.onInstancesRefreshed([]string{memberB.Addr()})

	waitCondition(t, "connection to move to the remaining member", func() bool {
		if !cc.IsAlive() {
			return false
		}
		conn := cc.currentConn()
		return conn != nil && conn.RemoteAddr().String() == memberB.Addr()
	})
}

// TestStoredFunctionDiscoverer tests address extraction from a call result
func TestStoredFunctionDiscoverer(t *testing.T) {
	member := newStubServer(t)
	member.SetHandler(func(server *stubServer, conn *stubConn, packet *protocol.Packet) bool {
		if packet.Code == uint64(protocol.CodeCall) || packet.Code == uint64(protocol.CodeOldCall) {
			conn.respondData(server.t, packet.Sync, server.Version(), []interface{}{
				[]interface{}{"10.0.0.1:3301", "10.0.0.2:3301"},
			})
			return true
		}
		return false
	})

	cc := newTestClusterClient(t, member.Addr())
	waitSchemaLoaded(t, cc.Client)

	discoverer := NewStoredFunctionDiscoverer(cc.Client, "get_cluster_members")
	instances, err := discoverer.Instances()
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if len(instances) != 2 || instances[0] != "10.0.0.1:3301" || instances[1] != "10.0.0.2:3301" {
		t.Errorf("unexpected instances %v", instances)
	}
}
