package client

import (
	"sync"
	"time"

	"github.com/ValentinKolb/boxKV/protocol"
	"github.com/ValentinKolb/boxKV/provider"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Cluster Discoverer
// --------------------------------------------------------------------------

// IClusterDiscoverer yields the current set of cluster member addresses.
type IClusterDiscoverer interface {
	Instances() ([]string, error)
}

// StoredFunctionDiscoverer calls a server-side function that returns the
// member addresses.
type StoredFunctionDiscoverer struct {
	client *Client
	entry  string
}

// NewStoredFunctionDiscoverer creates a discoverer calling the given stored
// function through the given client.
func NewStoredFunctionDiscoverer(client *Client, entryFunction string) *StoredFunctionDiscoverer {
	return &StoredFunctionDiscoverer{client: client, entry: entryFunction}
}

func (d *StoredFunctionDiscoverer) Instances() ([]string, error) {
	rows, err := syncGet(d.client.Exec(d.client.callRequest(d.entry, nil)))
	if err != nil {
		return nil, err
	}
	return flattenAddresses(rows), nil
}

// flattenAddresses collects address strings from a (possibly nested) call
// result
func flattenAddresses(rows []interface{}) []string {
	var addresses []string
	for _, row := range rows {
		switch value := row.(type) {
		case string:
			addresses = append(addresses, value)
		case []interface{}:
			addresses = append(addresses, flattenAddresses(value)...)
		}
	}
	return addresses
}

// --------------------------------------------------------------------------
// Cluster Client
// --------------------------------------------------------------------------

// ClusterClient works with a cluster of database instances in a
// fault-tolerant way: operations failed by transient errors are retried
// once the connection is re-established, and a periodic discovery task
// keeps the address set current, reconnecting gracefully when the active
// peer leaves the cluster.
type ClusterClient struct {
	*Client

	// Collection of operations to be retried once the connection is alive
	retries *xsync.MapOf[uint64, *Request]

	// Guards dispatch against a concurrent connection renewal
	discoveryLock sync.RWMutex

	discoveryMu   sync.Mutex
	discoverer    IClusterDiscoverer
	lastInstances []string
}

// NewClusterClient connects to a cluster through a round-robin provider
// over the given addresses.
func NewClusterClient(config ClusterConfig, addresses ...string) (*ClusterClient, error) {
	socketProvider, err := provider.NewRoundRobinSocketProvider(addresses...)
	if err != nil {
		return nil, err
	}
	return NewClusterClientWithProvider(config, socketProvider)
}

// NewClusterClientWithProvider connects to a cluster through the given
// provider. Discovery requires the provider to be refreshable.
func NewClusterClientWithProvider(config ClusterConfig, socketProvider provider.ISocketProvider) (*ClusterClient, error) {
	core := newClientCore(socketProvider, config.ClientConfig)
	cc := &ClusterClient{
		Client:  core,
		retries: xsync.NewMapOf[uint64, *Request](),
	}

	// wire the overlay hooks before the supervisor starts
	core.failFn = func(request *Request, err error) { cc.checkFail(request, err) }
	core.isDeadFn = cc.isDeadCluster
	core.onReconnectHook = cc.onReconnect
	core.completeHook = cc.afterComplete
	core.closeHook = cc.failRetries
	core.dispatchGuard = &cc.discoveryLock

	if err := core.start(); err != nil {
		return nil, err
	}

	if config.DiscoveryEntryFunction != "" {
		delay := config.DiscoveryDelay
		if delay <= 0 {
			delay = DefaultDiscoveryDelay
		}
		cc.discoverer = NewStoredFunctionDiscoverer(core, config.DiscoveryEntryFunction)
		go cc.discoveryLoop(delay)
	}

	return cc, nil
}

// --------------------------------------------------------------------------
// Overlay Hooks
// --------------------------------------------------------------------------

// checkFail classifies an error: transient failures park the request in the
// retry map instead of failing its future. Returns true if the future was
// failed for good.
func (cc *ClusterClient) checkFail(request *Request, err error) bool {
	if !isTransientError(err) {
		request.result.fail(err)
		return true
	}
	cc.retries.Store(request.id, request)
	return false
}

// isDeadCluster replaces the base liveness check: with a transient
// thumbstone the request is parked for retry instead of failed
func (cc *ClusterClient) isDeadCluster(request *Request) bool {
	if cc.state.isSet(stateClosed) {
		request.result.fail(newCommunicationError("connection is dead", cc.getThumbstone()))
		return true
	}
	if thumbstone := cc.getThumbstone(); thumbstone != nil {
		return cc.checkFail(request, thumbstone)
	}
	return false
}

// onReconnect drains the retry map once the connection is alive again
func (cc *ClusterClient) onReconnect() {
	if cc.retries == nil {
		// fires before the overlay finished construction
		return
	}
	toRetry := make([]*Request, 0, cc.retries.Size())
	cc.retries.Range(func(id uint64, request *Request) bool {
		toRetry = append(toRetry, request)
		return true
	})
	cc.retries.Clear()

	go func() {
		for _, request := range toRetry {
			if !request.result.IsDone() {
				cc.registerOperation(request, cc.schema.SchemaVersion())
			}
		}
	}()
}

// afterComplete checks on every completion whether the active peer is still
// a cluster member
func (cc *ClusterClient) afterComplete(packet *protocol.Packet, request *Request) {
	if refreshable, ok := cc.provider.(provider.IRefreshableProvider); ok {
		cc.renewConnectionIfRequired(refreshable.Addresses())
	}
}

// failRetries resolves every parked request when the client closes
func (cc *ClusterClient) failRetries(err error) {
	if cc.retries == nil {
		return
	}
	cc.retries.Range(func(id uint64, request *Request) bool {
		cc.retries.Delete(id)
		request.result.fail(err)
		return true
	})
}

// --------------------------------------------------------------------------
// Discovery
// --------------------------------------------------------------------------

// discoveryLoop periodically consults the discoverer
func (cc *ClusterClient) discoveryLoop(delay time.Duration) {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	cc.RefreshInstances()
	for {
		select {
		case <-cc.workStop:
			return
		case <-ticker.C:
			cc.RefreshInstances()
		}
	}
}

// RefreshInstances runs one discovery round immediately.
func (cc *ClusterClient) RefreshInstances() {
	if cc.discoverer == nil {
		return
	}
	cc.discoveryMu.Lock()
	defer cc.discoveryMu.Unlock()

	instances, err := cc.discoverer.Instances()
	if err != nil {
		Logger.Debugf("cluster discovery failed: %v", err)
		return
	}
	if len(instances) == 0 || equalStringSets(instances, cc.lastInstances) {
		return
	}
	cc.lastInstances = instances
	cc.onInstancesRefreshed(instances)
}

// onInstancesRefreshed pushes a changed member set into the provider and
// renews the connection if the active peer was removed
func (cc *ClusterClient) onInstancesRefreshed(instances []string) {
	refreshable, ok := cc.provider.(provider.IRefreshableProvider)
	if !ok {
		return
	}
	refreshable.RefreshAddresses(instances)
	cc.renewConnectionIfRequired(refreshable.Addresses())
}

// renewConnectionIfRequired stops I/O (causing the supervisor to reconnect
// to a member) when the connected address left the cluster and no responses
// are pending. The write-try-lock keeps this from racing with dispatch; a
// contended lock abandons the renewal until the next round.
func (cc *ClusterClient) renewConnectionIfRequired(addresses []string) {
	if cc.pendingResponses.Load() > 0 || !cc.IsAlive() {
		return
	}
	conn := cc.currentConn()
	if conn == nil {
		return
	}
	current := conn.RemoteAddr().String()
	if containsString(addresses, current) {
		return
	}

	if !cc.discoveryLock.TryLock() {
		return
	}
	defer cc.discoveryLock.Unlock()

	if cc.pendingResponses.Load() == 0 {
		Logger.Infof("active peer %s left the cluster, reconnecting", current)
		cc.stopIO()
	}
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, s := range a {
		if !containsString(b, s) {
			return false
		}
	}
	return true
}
