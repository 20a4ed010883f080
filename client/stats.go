package client

import (
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// Stats tracks one client's activity. Every client owns its own metrics set
// so that two clients in one process never share counters.
type Stats struct {
	set *metrics.Set

	Buffered                 *metrics.Counter
	SharedWrites             *metrics.Counter
	DirectWrites             *metrics.Counter
	Received                 *metrics.Counter
	Reconnects               *metrics.Counter
	SharedEmptyAwait         *metrics.Counter
	SharedEmptyAwaitTimeouts *metrics.Counter
	SharedWriteLockTimeouts  *metrics.Counter
	DirectWriteLockTimeouts  *metrics.Counter

	sharedPacketSizes *sizeHistogram
	directPacketSizes *sizeHistogram
}

func newStats() *Stats {
	set := metrics.NewSet()
	return &Stats{
		set:                      set,
		Buffered:                 set.NewCounter("boxkv_buffered_total"),
		SharedWrites:             set.NewCounter("boxkv_shared_writes_total"),
		DirectWrites:             set.NewCounter("boxkv_direct_writes_total"),
		Received:                 set.NewCounter("boxkv_received_total"),
		Reconnects:               set.NewCounter("boxkv_reconnects_total"),
		SharedEmptyAwait:         set.NewCounter("boxkv_shared_empty_await_total"),
		SharedEmptyAwaitTimeouts: set.NewCounter("boxkv_shared_empty_await_timeouts_total"),
		SharedWriteLockTimeouts:  set.NewCounter("boxkv_shared_write_lock_timeouts_total"),
		DirectWriteLockTimeouts:  set.NewCounter("boxkv_direct_write_lock_timeouts_total"),
		sharedPacketSizes:        newSizeHistogram(),
		directPacketSizes:        newSizeHistogram(),
	}
}

// SharedMaxPacketSize returns the largest packet seen on the shared path.
func (s *Stats) SharedMaxPacketSize() int64 {
	return s.sharedPacketSizes.Max()
}

// DirectMaxPacketSize returns the largest packet seen on the direct path.
func (s *Stats) DirectMaxPacketSize() int64 {
	return s.directPacketSizes.Max()
}

// WritePrometheus renders the counters in Prometheus text format.
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// SizeHistogram
// --------------------------------------------------------------------------

// sizeHistogram tracks the distribution of packet sizes. It organizes sizes
// into exponential buckets for efficient memory usage while still providing
// accurate size estimations across the byte-to-frame-cap range.
type sizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int   // Bucket boundaries covering byte to GB range
	buckets    []int64 // Count of items in each bucket
	count      int64   // Total number of samples
	sum        int64   // Sum of all sampled sizes
	max        int64   // Largest sampled size
}

// newSizeHistogram creates a size histogram with boundaries calibrated to
// wire packets: from tiny pings up to the frame cap.
func newSizeHistogram() *sizeHistogram {
	return &sizeHistogram{
		boundaries: []int{
			16, 64, 256, 1024, 4096, // Bytes: 16B to 4KB
			16384, 65536, 262144, 1048576, // KB range: 16KB to 1MB
			4194304, 16777216, 67108864, // MB range: 4MB to 64MB
			268435456, 1073741824, // Above 256MB
		},
		buckets: make([]int64, 15),
	}
}

// Add records one sample
func (h *sizeHistogram) Add(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	bucket := len(h.boundaries)
	for i, boundary := range h.boundaries {
		if size <= boundary {
			bucket = i
			break
		}
	}
	h.buckets[bucket]++
	h.count++
	h.sum += int64(size)
	if int64(size) > h.max {
		h.max = int64(size)
	}
}

// Max returns the largest sample seen
func (h *sizeHistogram) Max() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.max
}

// Mean returns the average sample size
func (h *sizeHistogram) Mean() float64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.count == 0 {
		return 0
	}
	return float64(h.sum) / float64(h.count)
}

// Count returns the number of samples
func (h *sizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}
