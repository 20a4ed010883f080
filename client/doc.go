// Package client implements the asynchronous multiplexing client for an
// iproto (MessagePack-framed) key-value/SQL database. Many concurrent
// callers share a single duplex socket with pipelined, out-of-order
// responses, correlated by a monotonically increasing sync-id.
//
// The package is organized around six cooperating parts:
//
//   - Connection state machine: an atomic bitset over READING, WRITING,
//     SCHEMA_UPDATING, RECONNECT and CLOSED with gated compare-and-set
//     transitions, an alive latch and a reconnect condition.
//
//   - Request registry and delayed queue: in-flight requests live in a
//     concurrent sync-id map until their response arrives; requests whose
//     space or index names cannot be resolved yet wait in a priority queue
//     ordered by sync-id.
//
//   - I/O engine: small packets are batched through a fixed-capacity shared
//     buffer that a writer goroutine ping-pongs to the socket; large
//     packets bypass the buffer and go to the socket directly under the
//     write lock. A reader goroutine decodes responses and dispatches
//     completions.
//
//   - Schema reconciler: responses carrying a newer schema version than the
//     cache trigger a refresh; wrong-schema-version responses are retried
//     transparently after the refresh; an optimistic ping probe
//     distinguishes genuinely unknown names from a stale cache.
//
//   - Supervisor: a reconnector goroutine rebuilds the socket after fatal
//     I/O errors, performs the greeting/authentication handshake and
//     restarts the I/O goroutines.
//
//   - Cluster overlay: ClusterClient parks transiently failed operations in
//     a retry map, re-dispatches them on reconnect and discovers the
//     current member set through a stored function.
//
// Completion order is not guaranteed, even for one caller issuing
// back-to-back requests: responses are correlated by sync-id only.
//
// Usage:
//
//	c, err := client.NewClient("127.0.0.1:3301", client.DefaultClientConfig())
//	if err != nil {
//		panic(err)
//	}
//	defer c.Close()
//
//	rows, err := c.Sync().Select("accounts", "pk", []interface{}{uint64(1)}, 0, 10, protocol.IterEq)
package client
