package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/boxKV/protocol"
)

// --------------------------------------------------------------------------
// Timed Lock
// --------------------------------------------------------------------------

// timedLock is a mutex supporting acquisition with a deadline, built on a
// one-slot channel. The buffer lock and the write lock both use it: callers
// bound their wait by the configured write timeout while the I/O goroutines
// block unconditionally.
type timedLock struct {
	ch chan struct{}
}

func newTimedLock() timedLock {
	return timedLock{ch: make(chan struct{}, 1)}
}

func (l timedLock) lock() {
	l.ch <- struct{}{}
}

func (l timedLock) unlock() {
	<-l.ch
}

// tryLock attempts acquisition within the timeout. A non-positive timeout
// degrades to a single non-blocking attempt.
func (l timedLock) tryLock(timeout time.Duration) bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// writeFully pushes the whole buffer to the socket
func writeFully(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// --------------------------------------------------------------------------
// Writer Path Selection
// --------------------------------------------------------------------------

// write encodes the packet and hands it to the direct or the shared path.
func (c *Client) write(code protocol.Code, sync, schemaID uint64, args []interface{}) error {
	packet, err := protocol.Encode(code, sync, schemaID, args)
	if err != nil {
		return err
	}
	if ok, err := c.directWrite(packet); ok || err != nil {
		return err
	}
	return c.sharedWrite(packet)
}

// directWrite bypasses the shared buffer for large packets: the whole frame
// goes to the socket under the write lock. Returns (false, nil) when the
// packet is small enough for the shared path.
func (c *Client) directWrite(packet []byte) (bool, error) {
	if float64(c.config.SharedBufferSize)*c.config.DirectWriteFactor > float64(len(packet)) {
		return false, nil
	}

	if !c.writeLock.tryLock(c.config.WriteTimeout) {
		c.stats.DirectWriteLockTimeouts.Inc()
		return true, fmt.Errorf("%w: %s elapsed while waiting for channel lock", ErrTimedWrite, c.config.WriteTimeout)
	}
	defer c.writeLock.unlock()

	conn := c.currentConn()
	if conn == nil {
		return true, newCommunicationError("not connected", nil)
	}
	if err := writeFully(conn, packet); err != nil {
		return true, newCommunicationError("direct write failed", err)
	}

	c.stats.DirectWrites.Inc()
	c.stats.directPacketSizes.Add(len(packet))
	c.pendingResponses.Add(1)
	return true, nil
}

// sharedWrite stages a small packet in the shared buffer for the writer
// goroutine. Callers may wait for buffer room, bounded by the write timeout.
func (c *Client) sharedWrite(packet []byte) error {
	timeout := c.config.WriteTimeout
	deadline := time.Now().Add(timeout)

	if !c.bufferLock.tryLock(timeout) {
		c.stats.SharedWriteLockTimeouts.Inc()
		return fmt.Errorf("%w: %s elapsed while waiting for shared buffer lock", ErrTimedWrite, timeout)
	}

	for cap(c.shared)-len(c.shared) < len(packet) {
		c.stats.SharedEmptyAwait.Inc()

		// wait for the writer to drain the buffer, re-checking elapsed time
		emptyCh := c.bufferEmptyCh
		c.bufferLock.unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.stats.SharedEmptyAwaitTimeouts.Inc()
			return fmt.Errorf("%w: %s elapsed while waiting for empty buffer", ErrTimedWrite, timeout)
		}
		timer := time.NewTimer(remaining)
		select {
		case <-emptyCh:
			timer.Stop()
		case <-timer.C:
			c.stats.SharedEmptyAwaitTimeouts.Inc()
			return fmt.Errorf("%w: %s elapsed while waiting for empty buffer", ErrTimedWrite, timeout)
		}

		if !c.bufferLock.tryLock(time.Until(deadline)) {
			c.stats.SharedWriteLockTimeouts.Inc()
			return fmt.Errorf("%w: %s elapsed while waiting for shared buffer lock", ErrTimedWrite, timeout)
		}
	}

	c.shared = append(c.shared, packet...)
	c.pendingResponses.Add(1)
	c.stats.Buffered.Inc()
	c.stats.sharedPacketSizes.Add(len(packet))

	// wake the writer goroutine
	select {
	case c.bufferNotEmpty <- struct{}{}:
	default:
	}

	c.bufferLock.unlock()
	return nil
}

// --------------------------------------------------------------------------
// I/O Goroutines
// --------------------------------------------------------------------------

// writerLoop drains the shared buffer to the socket. The two-buffer
// ping-pong keeps callers off socket I/O: the swap happens under the buffer
// lock, the socket write under the write lock only.
func (c *Client) writerLoop(conn net.Conn, stop <-chan struct{}) {
	c.writerBuf = c.writerBuf[:0]
	for {
		select {
		case <-stop:
			return
		case <-c.bufferNotEmpty:
		}

		c.bufferLock.lock()
		if len(c.shared) == 0 {
			c.bufferLock.unlock()
			continue
		}
		c.writerBuf = append(c.writerBuf[:0], c.shared...)
		c.shared = c.shared[:0]
		c.broadcastBufferEmpty()
		c.bufferLock.unlock()

		c.writeLock.lock()
		err := writeFully(conn, c.writerBuf)
		c.writeLock.unlock()
		if err != nil {
			c.die("can't write bytes", err)
			return
		}
		c.stats.SharedWrites.Inc()
	}
}

// readerLoop decodes response frames and dispatches completions by sync-id.
func (c *Client) readerLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		packet, err := protocol.ReadPacket(reader)
		if err != nil {
			// an oversize frame was skipped in full; the stream is intact
			if errors.Is(err, protocol.ErrOversizeFrame) {
				Logger.Warningf("dropped oversize response frame: %v", err)
				continue
			}
			c.die("can't read answer", err)
			return
		}

		request, found := c.registry.LoadAndDelete(packet.Sync)
		c.stats.Received.Inc()
		c.pendingResponses.Add(-1)
		if !found {
			Logger.Warningf("received response for unknown sync-id %d", packet.Sync)
			continue
		}
		c.complete(packet, request)
	}
}

// broadcastBufferEmpty wakes every caller waiting for buffer room.
// Must be called with the buffer lock held.
func (c *Client) broadcastBufferEmpty() {
	close(c.bufferEmptyCh)
	c.bufferEmptyCh = make(chan struct{})
}
