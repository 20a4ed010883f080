package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/boxKV/protocol"
	"github.com/ValentinKolb/boxKV/provider"
	"github.com/ValentinKolb/boxKV/schema"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("client")

// schemaRefreshRetryDelay is the fixed backoff between failed schema
// refresh attempts
const schemaRefreshRetryDelay = 300 * time.Millisecond

// Client is the asynchronous multiplexing engine: many concurrent callers
// share one duplex socket with pipelined, out-of-order responses. A client
// fully owns its state machine, buffers, goroutines and schema cache; there
// is no process-wide state.
type Client struct {
	config   ClientConfig
	provider provider.ISocketProvider

	// wire
	connMu        sync.Mutex
	conn          net.Conn
	serverVersion string

	// request lifecycle
	syncID           atomic.Uint64
	registry         *xsync.MapOf[uint64, *Request]
	delayed          *delayedQueue
	pendingResponses atomic.Int64

	// schema coherence
	schemaLock sync.RWMutex
	schema     schema.ISchemaMeta

	// write path
	bufferLock     timedLock
	shared         []byte
	writerBuf      []byte
	bufferEmptyCh  chan struct{} // closed-and-replaced broadcast, guarded by bufferLock
	bufferNotEmpty chan struct{} // one-slot signal to the writer goroutine
	writeLock      timedLock

	// sticky last-cause error of the current failure episode
	thumbMu    sync.Mutex
	thumbstone error
	notInitErr *CommunicationError

	state *connState
	stats *Stats

	// per-connection stop channel for the writer goroutine
	ioMu   sync.Mutex
	ioStop chan struct{}

	// closed together with the client; stops scheduled work
	workStop chan struct{}

	// overlay hooks (set by the cluster client before the connector starts)
	onReconnectHook func()
	failFn          func(request *Request, err error)
	isDeadFn        func(request *Request) bool
	completeHook    func(packet *protocol.Packet, request *Request)
	closeHook       func(err error)
	dispatchGuard   *sync.RWMutex
}

// --------------------------------------------------------------------------
// Construction
// --------------------------------------------------------------------------

// NewClient connects to a single host:port address.
func NewClient(address string, config ClientConfig) (*Client, error) {
	return NewClientWithProvider(provider.NewSingleSocketProvider(address), config)
}

// NewClientWithProvider connects through the given socket provider. The call
// blocks until the connection is alive or the init timeout elapses.
func NewClientWithProvider(socketProvider provider.ISocketProvider, config ClientConfig) (*Client, error) {
	c := newClientCore(socketProvider, config)
	if err := c.start(); err != nil {
		return nil, err
	}
	return c, nil
}

// newClientCore initializes all client state without starting the supervisor
func newClientCore(socketProvider provider.ISocketProvider, config ClientConfig) *Client {
	config = config.withDefaults()

	if configurable, ok := socketProvider.(provider.IConfigurableProvider); ok {
		configurable.SetConnectionTimeout(config.ConnectionTimeout)
		configurable.SetRetriesLimit(config.RetryCount)
	}

	c := &Client{
		config:         config,
		provider:       socketProvider,
		registry:       xsync.NewMapOf[uint64, *Request](xsync.WithPresize(config.PredictedFutures)),
		delayed:        newDelayedQueue(),
		shared:         make([]byte, 0, config.SharedBufferSize),
		writerBuf:      make([]byte, 0, config.SharedBufferSize),
		bufferEmptyCh:  make(chan struct{}),
		bufferNotEmpty: make(chan struct{}, 1),
		bufferLock:     newTimedLock(),
		writeLock:      newTimedLock(),
		workStop:       make(chan struct{}),
		stats:          newStats(),
	}
	c.notInitErr = newCommunicationError("not connected, initializing connection", nil)
	c.thumbstone = c.notInitErr

	c.state = newConnState(stateReconnect)
	c.state.aliveBlocked = func() bool { return c.getThumbstone() != nil }
	c.state.onAlive = func() {
		c.stats.Reconnects.Inc()
		if c.onReconnectHook != nil {
			c.onReconnectHook()
		}
	}

	c.schema = schema.NewMetaCache(c)
	return c
}

// start launches the supervisor and waits for the first alive state
func (c *Client) start() error {
	go c.connectorLoop()
	if !c.state.awaitAlive(c.config.InitTimeout) {
		err := newCommunicationError(
			fmt.Sprintf("%s exceeded when waiting for client initialization", c.config.InitTimeout),
			c.getThumbstone(),
		)
		c.closeWith(err)
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Supervisor
// --------------------------------------------------------------------------

// connectorLoop is the single long-running reconnection loop
func (c *Client) connectorLoop() {
	for !c.state.isSet(stateClosed) {
		lastError := c.getThumbstone()
		if comm, ok := lastError.(*CommunicationError); ok && comm == c.notInitErr {
			lastError = nil
		}
		c.reconnect(lastError)
		if c.state.isSet(stateClosed) {
			return
		}
		c.state.awaitReconnection()
	}
}

// reconnect keeps asking the provider for a socket until one passes the
// handshake. Transient provider errors continue the loop with an
// incremented retry count; any other provider error closes the client.
func (c *Client) reconnect(lastError error) {
	retryNumber := 0
	for !c.state.isSet(stateClosed) {
		conn, err := c.provider.Get(retryNumber, lastError)
		retryNumber++
		if err != nil {
			lastError = err
			if provider.IsTransient(err) {
				continue
			}
			Logger.Errorf("socket provider gave up: %v", err)
			c.closeWith(err)
			return
		}
		if err := c.connect(conn); err != nil {
			Logger.Warningf("handshake with %s failed: %v", conn.RemoteAddr(), err)
			lastError = err
			continue
		}
		return
	}
}

// connect performs the protocol handshake on a candidate socket and, on
// success, brings the client back to life on it.
func (c *Client) connect(conn net.Conn) error {
	if c.config.ConnectionTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.config.ConnectionTimeout))
	}

	greeting, err := protocol.ReadGreeting(conn)
	if err != nil {
		_ = conn.Close()
		return newCommunicationError("couldn't read server greeting", err)
	}

	if c.config.Username != "" {
		if err := c.authenticate(conn, greeting); err != nil {
			_ = conn.Close()
			return err
		}
	}

	_ = conn.SetDeadline(time.Time{})

	c.connMu.Lock()
	c.conn = conn
	c.serverVersion = greeting.Version
	c.connMu.Unlock()

	// fresh connection: clear staged bytes and any stale writer signal
	c.bufferLock.lock()
	c.shared = c.shared[:0]
	c.bufferLock.unlock()
	select {
	case <-c.bufferNotEmpty:
	default:
	}

	c.setThumbstone(nil)
	c.startIO(conn)
	c.updateSchema()

	Logger.Infof("connected to %s (server version %q)", conn.RemoteAddr(), greeting.Version)
	return nil
}

// authenticate runs the synchronous AUTH exchange before multiplexed mode
func (c *Client) authenticate(conn net.Conn, greeting *protocol.Greeting) error {
	scramble := protocol.Scramble(c.config.Password, greeting.Salt)
	packet, err := protocol.Encode(protocol.CodeAuth, 0, 0, protocol.AuthArgs(c.config.Username, scramble))
	if err != nil {
		return newCommunicationError("couldn't encode auth request", err)
	}
	if err := writeFully(conn, packet); err != nil {
		return newCommunicationError("couldn't send auth request", err)
	}
	response, err := protocol.ReadPacket(conn)
	if err != nil {
		return newCommunicationError("couldn't read auth response", err)
	}
	if !response.IsSuccess() {
		return newCommunicationError(
			fmt.Sprintf("authentication failed for user %q: %s", c.config.Username, response.ErrorMessage()), nil)
	}
	return nil
}

// startIO launches the reader and writer goroutines. Both acquire their
// state bit independently; the last one to release after a failure signals
// the supervisor exactly once.
func (c *Client) startIO(conn net.Conn) {
	c.ioMu.Lock()
	stop := make(chan struct{})
	c.ioStop = stop
	c.ioMu.Unlock()

	var leftIOGoroutines atomic.Int32
	leftIOGoroutines.Store(2)

	c.state.release(stateReconnect)

	go func() {
		if c.state.acquire(stateReading) {
			c.readerLoop(conn)
			c.state.release(stateReading | stateSchemaUpdating)
			// only the last of the two I/O goroutines may signal reconnection
			if leftIOGoroutines.Add(-1) == 0 {
				c.state.trySignalForReconnection()
			}
		}
	}()
	go func() {
		if c.state.acquire(stateWriting) {
			c.writerLoop(conn, stop)
			c.state.release(stateWriting | stateSchemaUpdating)
			if leftIOGoroutines.Add(-1) == 0 {
				c.state.trySignalForReconnection()
			}
		}
	}()
}

// die is called on any fatal I/O error. Idempotent: the first caller
// records the sticky thumbstone, fails every in-flight and delayed request
// with it, resets the write path and tears down the socket.
func (c *Client) die(message string, cause error) {
	c.thumbMu.Lock()
	if c.thumbstone != nil {
		c.thumbMu.Unlock()
		return
	}
	err := newCommunicationError(message, cause)
	c.thumbstone = err
	c.thumbMu.Unlock()

	Logger.Warningf("connection died: %v", err)

	// fail the registry until stragglers stop appearing
	for c.registry.Size() > 0 {
		c.registry.Range(func(id uint64, request *Request) bool {
			c.registry.Delete(id)
			c.fail(request, err)
			return true
		})
	}

	for {
		request := c.delayed.Poll()
		if request == nil {
			break
		}
		c.fail(request, err)
	}

	c.pendingResponses.Store(0)

	c.bufferLock.lock()
	c.shared = c.shared[:0]
	c.broadcastBufferEmpty()
	c.bufferLock.unlock()

	c.stopIO()
}

// stopIO stops the I/O goroutines and closes the socket
func (c *Client) stopIO() {
	c.ioMu.Lock()
	if c.ioStop != nil {
		close(c.ioStop)
		c.ioStop = nil
	}
	c.ioMu.Unlock()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// Exec dispatches a request and returns its future.
func (c *Client) Exec(request *Request) *Future {
	return c.doExec(request).result
}

// doExec assigns a sync-id and picks the dispatch branch under the schema
// read-lock. Space or index names may be missing from the cache: such
// requests wait in the delayed queue for schema readiness.
func (c *Client) doExec(request *Request) *Request {
	c.schemaLock.RLock()
	defer c.schemaLock.RUnlock()

	request.begin(c.syncID.Add(1), c.config.OperationTimeout)
	if !request.isSerializable() {
		c.delayed.Add(request)
		// with a loaded schema a ping probe checks whether it is current;
		// otherwise the pending refresh picks the request up
		if c.isSchemaLoaded() {
			c.optimisticSchemaUpdate(request)
		}
		return request
	}
	// postpone the operation if the schema is not ready
	if !c.isSchemaLoaded() {
		c.delayed.Add(request)
		return request
	}
	c.registerOperation(request, c.schema.SchemaVersion())
	return request
}

// isSchemaLoaded checks whether the schema is fully cached
func (c *Client) isSchemaLoaded() bool {
	return c.schema.IsInitialized() && !c.state.isSet(stateSchemaUpdating)
}

// registerOperation inserts the request into the registry and hands its
// bytes to the write path. On write failure the entry is removed and the
// future fails.
func (c *Client) registerOperation(request *Request, schemaID uint64) {
	if guard := c.dispatchGuard; guard != nil {
		guard.RLock()
		defer guard.RUnlock()
	}

	if c.isDead(request) {
		return
	}
	c.registry.Store(request.id, request)
	if c.isDead(request) {
		c.registry.Delete(request.id)
		return
	}

	request.startedSchemaID.Store(schemaID)
	values, err := request.argumentValues()
	if err == nil {
		err = c.write(request.code, request.id, schemaID, values)
	}
	if err != nil {
		c.registry.Delete(request.id)
		c.fail(request, err)
	}
}

// optimisticSchemaUpdate issues a ping to check whether the cached schema is
// current. If it is, the dependent fails with its resolution error; if not,
// the regular upgrade path runs and re-evaluates the dependent.
func (c *Client) optimisticSchemaUpdate(source *Request) {
	probe := NewRequest(protocol.CodePing)
	probe.beginSync(c.syncID.Add(1), c.config.OperationTimeout, source)
	c.registerOperation(probe, c.schema.SchemaVersion())
}

// isDead fails the request when the connection currently has no live socket
func (c *Client) isDead(request *Request) bool {
	if c.isDeadFn != nil {
		return c.isDeadFn(request)
	}
	if thumbstone := c.getThumbstone(); thumbstone != nil {
		c.fail(request, newCommunicationError("connection is dead", thumbstone))
		return true
	}
	return false
}

// fail resolves the request's future exceptionally. The cluster overlay
// replaces this with its transient-error classification.
func (c *Client) fail(request *Request, err error) {
	if c.failFn != nil {
		c.failFn(request, err)
		return
	}
	request.result.fail(err)
}

// --------------------------------------------------------------------------
// Completion and Schema Reconciliation
// --------------------------------------------------------------------------

// complete dispatches one decoded response to its request
func (c *Client) complete(packet *protocol.Packet, request *Request) {
	if !request.result.IsDone() {
		switch {
		case packet.IsSuccess():
			request.completedSchemaID.Store(packet.SchemaID)
			if request.syncProbe {
				c.completeSyncProbe(request)
			} else if request.code == protocol.CodeExecute {
				c.completeSQL(request, packet)
			} else {
				request.result.complete(packet.Data())
			}
		case packet.Code == protocol.ErrWrongSchemaVersion:
			// re-queue behind the refresh when the server is ahead of the
			// cache, otherwise re-register right away
			if packet.SchemaID > c.schema.SchemaVersion() {
				c.delayed.Add(request)
			} else {
				c.registerOperation(request, c.schema.SchemaVersion())
			}
		default:
			c.fail(request, &ServerError{Code: packet.ServerErrorCode(), Message: packet.ErrorMessage()})
		}
	}

	if c.completeHook != nil {
		c.completeHook(packet, request)
	}

	if request.startedSchemaID.Load() == 0 {
		return
	}
	// a response can carry a newer version than the cache, e.g. after a DDL
	// operation or a wrong-schema-version response
	if packet.SchemaID > c.schema.SchemaVersion() {
		c.updateSchema()
	}
}

// completeSyncProbe resolves the request gated by a successful probe: the
// schema turned out to be current, so either the dependent's names resolve
// now (another refresh won the race) or they are genuinely unknown.
func (c *Client) completeSyncProbe(probe *Request) {
	source := probe.syncDependent
	if source == nil || !c.delayed.Remove(source) {
		// the dependent timed out or was re-registered in the meantime
		return
	}
	if _, err := source.argumentValues(); err != nil {
		c.fail(source, err)
		return
	}
	c.registerOperation(source, c.schema.SchemaVersion())
}

// completeSQL decodes an EXECUTE response: either an affected-row count or
// a list of named rows.
func (c *Client) completeSQL(request *Request, packet *protocol.Packet) {
	if count, ok := packet.SQLRowCount(); ok {
		request.result.complete(count)
		return
	}
	names := packet.SQLMetadata()
	data := packet.Data()
	rows := make([]map[string]interface{}, 0, len(data))
	for _, raw := range data {
		tuple, ok := raw.([]interface{})
		if !ok {
			c.fail(request, newClientError("malformed SQL result row of type %T", raw))
			return
		}
		row := make(map[string]interface{}, len(names))
		for i, name := range names {
			if i < len(tuple) {
				row[name] = tuple[i]
			}
		}
		rows = append(rows, row)
	}
	request.result.complete(rows)
}

// updateSchema submits a refresh task, at most one at a time
func (c *Client) updateSchema() {
	c.schemaLock.Lock()
	defer c.schemaLock.Unlock()
	if c.state.acquire(stateSchemaUpdating) {
		go c.updateSchemaTask()
	}
}

// updateSchemaTask refreshes the external schema cache. Failures reschedule
// the task after a fixed delay; success drains the delayed queue at the new
// version and releases the guard.
func (c *Client) updateSchemaTask() {
	if c.isWorkStopped() {
		return
	}
	if err := c.schema.Refresh(); err != nil {
		Logger.Warningf("schema refresh failed, retrying in %s: %v", schemaRefreshRetryDelay, err)
		time.AfterFunc(schemaRefreshRetryDelay, c.updateSchemaTask)
		return
	}
	c.schemaLock.Lock()
	defer c.schemaLock.Unlock()
	c.rescheduleDelayed()
	c.state.release(stateSchemaUpdating)
}

// rescheduleDelayed re-registers every still-pending delayed request,
// oldest sync-id first
func (c *Client) rescheduleDelayed() {
	for {
		request := c.delayed.Poll()
		if request == nil {
			return
		}
		if !request.result.IsDone() {
			c.registerOperation(request, c.schema.SchemaVersion())
		}
	}
}

// --------------------------------------------------------------------------
// Schema Meta Executor (docu see schema.IMetaExecutor)
// --------------------------------------------------------------------------

// SelectAll fetches every tuple of a system space, bypassing the schema
// version check by registering at schema-id 0.
func (c *Client) SelectAll(spaceID uint64) ([]interface{}, uint64, error) {
	request := NewRequest(protocol.CodeSelect,
		Value(protocol.KeySpace), Value(spaceID),
		Value(protocol.KeyIndex), Value(uint64(0)),
		Value(protocol.KeyIterator), Value(protocol.IterAll),
		Value(protocol.KeyKey), Value([]interface{}{}),
		Value(protocol.KeyOffset), Value(uint64(0)),
		Value(protocol.KeyLimit), Value(uint64(0xffffffff)),
	)
	request.begin(c.syncID.Add(1), c.config.OperationTimeout)
	c.registerOperation(request, 0)

	value, err := request.result.Get()
	if err != nil {
		return nil, 0, err
	}
	rows, _ := value.([]interface{})
	return rows, request.completedSchemaID.Load(), nil
}

// --------------------------------------------------------------------------
// Public Surface
// --------------------------------------------------------------------------

// Ping round-trips an empty request.
func (c *Client) Ping() error {
	_, err := c.Exec(NewRequest(protocol.CodePing)).Get()
	return err
}

// Close shuts the client down permanently: every in-flight future fails,
// the I/O goroutines and the supervisor terminate.
func (c *Client) Close() {
	c.closeWith(ErrClosed)
	c.state.awaitClosed()
}

// closeWith transitions to CLOSED once and tears everything down
func (c *Client) closeWith(err error) {
	if c.state.close() {
		close(c.workStop)
		c.die(err.Error(), err)
		if c.closeHook != nil {
			c.closeHook(err)
		}
	}
}

// IsAlive reports whether both I/O goroutines are running on a healthy
// socket.
func (c *Client) IsAlive() bool {
	return c.state.isSet(stateAlive) && c.getThumbstone() == nil
}

// IsClosed reports whether the client was closed permanently.
func (c *Client) IsClosed() bool {
	return c.state.isSet(stateClosed)
}

// WaitAlive blocks until the connection is alive, the client closes, or the
// timeout elapses. A non-positive timeout blocks indefinitely.
func (c *Client) WaitAlive(timeout time.Duration) bool {
	return c.state.awaitAlive(timeout)
}

// SchemaMeta returns the client's schema cache.
func (c *Client) SchemaMeta() schema.ISchemaMeta {
	return c.schema
}

// Stats returns the client's metrics.
func (c *Client) Stats() *Stats {
	return c.stats
}

// ServerVersion returns the version line of the last greeting.
func (c *Client) ServerVersion() string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.serverVersion
}

// Thumbstone returns the sticky error of the current failure episode, or
// nil while the connection is healthy.
func (c *Client) Thumbstone() error {
	return c.getThumbstone()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Client) getThumbstone() error {
	c.thumbMu.Lock()
	defer c.thumbMu.Unlock()
	return c.thumbstone
}

func (c *Client) setThumbstone(err error) {
	c.thumbMu.Lock()
	c.thumbstone = err
	c.thumbMu.Unlock()
}

func (c *Client) currentConn() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) isWorkStopped() bool {
	select {
	case <-c.workStop:
		return true
	default:
		return false
	}
}

// callCode selects CALL or the backward-compatible OLD_CALL
func (c *Client) callCode() protocol.Code {
	if c.config.UseNewCall {
		return protocol.CodeCall
	}
	return protocol.CodeOldCall
}
