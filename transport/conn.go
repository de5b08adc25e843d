// Package transport implements the connection layer of the client: a
// framed TCP connection with strict FIFO request/response correlation,
// and a bounded, health-checked connection pool per target node.
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/events"
	"github.com/frostbyte-io/frostbyte-go/protocol"
)

var log = logger.GetLogger("transport")

// connState tracks the lifecycle of a Conn.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateDestroyed
)

// result is delivered to the waiter of one outstanding request.
type result struct {
	frame []byte
	err   error
}

// pendingRequest is one slot in the outstanding-request queue. The
// queue and the arrival order of complete frames are matched FIFO: the
// ith queued request is resolved by the ith extracted frame, regardless
// of frame content.
type pendingRequest struct {
	ch chan result // buffered, capacity 1

	// abandoned marks a slot whose waiter timed out. The slot stays in
	// the queue so FIFO positions remain correct; the frame that lands
	// in it is discarded instead of being delivered. Guarded by Conn.mu.
	abandoned bool

	pipelined bool
}

// Conn owns one TCP socket to a cache node. All request/response
// correlation is positional: the server must reply to commands strictly
// in the order they were sent, one reply per command. A Conn is safe
// for concurrent use, but the pool hands each Conn to one holder at a
// time.
type Conn struct {
	addr  string
	codec protocol.Codec

	connTimeout time.Duration
	cmdTimeout  time.Duration
	socketConf  config.SocketConfig
	onEvent     events.Handler

	mu          sync.Mutex
	state       connState
	sock        net.Conn
	pending     []*pendingRequest
	connectDone chan struct{} // non-nil while a connect attempt is in flight
	connectErr  error
	readerDone  chan struct{}

	// writeMu serializes the enqueue+write pair of each send. Holding it
	// across both keeps queue order identical to wire order, which the
	// positional correlation depends on, and keeps pipelined batches
	// atomic with respect to single commands. Lock order is writeMu
	// before mu, never the reverse.
	writeMu sync.Mutex
}

// NewConn creates a connection for the given target. The socket is
// opened lazily on first use (or explicitly via Connect).
func NewConn(addr string, codec protocol.Codec, cfg config.ClientConfig, onEvent events.Handler) *Conn {
	return &Conn{
		addr:        addr,
		codec:       codec,
		connTimeout: cfg.ConnectionTimeout,
		cmdTimeout:  cfg.CommandTimeout,
		socketConf:  cfg.Socket,
		onEvent:     onEvent,
	}
}

// Addr returns the host:port this connection targets.
func (c *Conn) Addr() string {
	return c.addr
}

// Codec returns the codec instance bound to this connection. Commands
// sent over this connection must be encoded with it: stateful codecs
// keep per-connection dictionaries the peer mirrors.
func (c *Conn) Codec() protocol.Codec {
	return c.codec
}

// Connected reports whether the socket is currently established.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// Pending returns the number of outstanding requests.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// --------------------------------------------------------------------------
// Connecting
// --------------------------------------------------------------------------

// Connect establishes the socket. It is idempotent once connected, and
// concurrent callers during an in-flight attempt all await the same
// outcome rather than dialing again.
func (c *Conn) Connect() error {
	c.mu.Lock()
	switch c.state {
	case stateConnected:
		c.mu.Unlock()
		return nil
	case stateDestroyed:
		c.mu.Unlock()
		return ErrConnectionDestroyed
	case stateConnecting:
		done := c.connectDone
		c.mu.Unlock()
		<-done
		c.mu.Lock()
		err := c.connectErr
		c.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	c.state = stateConnecting
	c.connectDone = done
	c.mu.Unlock()

	sock, err := net.DialTimeout("tcp", c.addr, c.connTimeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			err = fmt.Errorf("%w: %s after %v", ErrConnectionTimeout, c.addr, c.connTimeout)
		} else {
			err = fmt.Errorf("failed to connect to %s: %w", c.addr, err)
		}

		c.mu.Lock()
		c.state = stateDisconnected
		c.connectErr = err
		c.connectDone = nil
		c.mu.Unlock()
		close(done)

		events.Emit(c.onEvent, events.Event{Type: events.ConnectionError, Addr: c.addr, Err: err})
		return err
	}

	c.tuneSocket(sock)

	readerDone := make(chan struct{})
	c.mu.Lock()
	c.sock = sock
	c.state = stateConnected
	c.connectErr = nil
	c.connectDone = nil
	c.readerDone = readerDone
	c.mu.Unlock()
	close(done)

	go c.readLoop(sock, readerDone)

	log.Debugf("connected to %s", c.addr)
	events.Emit(c.onEvent, events.Event{Type: events.Connected, Addr: c.addr})
	return nil
}

// tuneSocket applies the TCP-level settings from the socket config.
func (c *Conn) tuneSocket(sock net.Conn) {
	tcp, ok := sock.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetNoDelay(c.socketConf.NoDelay)
	if c.socketConf.KeepAlivePeriod > 0 {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(c.socketConf.KeepAlivePeriod)
	}
	if c.socketConf.ReadBufferSize > 0 {
		_ = tcp.SetReadBuffer(c.socketConf.ReadBufferSize)
	}
	if c.socketConf.WriteBufferSize > 0 {
		_ = tcp.SetWriteBuffer(c.socketConf.WriteBufferSize)
	}
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// Send writes one encoded command and returns the matching response
// frame, connecting lazily if necessary.
func (c *Conn) Send(payload []byte) ([]byte, error) {
	return c.SendTimeout(payload, c.cmdTimeout)
}

// SendTimeout is Send with an explicit reply timeout, used for health
// probes which run on a tighter budget than regular commands.
func (c *Conn) SendTimeout(payload []byte, timeout time.Duration) ([]byte, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	req := &pendingRequest{ch: make(chan result, 1)}

	c.writeMu.Lock()
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return nil, ErrConnectionClosed
	}
	sock := c.sock
	c.pending = append(c.pending, req)
	c.mu.Unlock()

	_, err := sock.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		// fail exactly the record this write belongs to, identified by
		// reference rather than queue position
		c.failRequest(req, err)
		return nil, fmt.Errorf("write to %s failed: %w", c.addr, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-req.ch:
		return res.frame, res.err
	case <-timer.C:
		if !c.abandon(req) {
			// resolved between timer expiry and abandonment
			res := <-req.ch
			return res.frame, res.err
		}
		return nil, fmt.Errorf("%w: no reply from %s within %v", ErrCommandTimeout, c.addr, timeout)
	}
}

// SendPipeline enqueues one completion record per payload, writes all
// payloads as a single atomic write, and returns the response frames in
// submission order.
func (c *Conn) SendPipeline(payloads [][]byte) ([][]byte, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}

	reqs := make([]*pendingRequest, len(payloads))
	for i := range reqs {
		reqs[i] = &pendingRequest{ch: make(chan result, 1), pipelined: true}
	}

	bufs := make(net.Buffers, len(payloads))
	copy(bufs, payloads)

	c.writeMu.Lock()
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return nil, ErrConnectionClosed
	}
	sock := c.sock
	c.pending = append(c.pending, reqs...)
	c.mu.Unlock()

	_, err := bufs.WriteTo(sock)
	c.writeMu.Unlock()
	if err != nil {
		for _, req := range reqs {
			c.failRequest(req, err)
		}
		return nil, fmt.Errorf("pipeline write to %s failed: %w", c.addr, err)
	}

	deadline := time.Now().Add(c.cmdTimeout)
	frames := make([][]byte, len(reqs))
	for i, req := range reqs {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)

		select {
		case res := <-req.ch:
			timer.Stop()
			if res.err != nil {
				c.abandonFrom(reqs[i+1:])
				return nil, res.err
			}
			frames[i] = res.frame
		case <-timer.C:
			if !c.abandon(req) {
				res := <-req.ch
				if res.err != nil {
					c.abandonFrom(reqs[i+1:])
					return nil, res.err
				}
				frames[i] = res.frame
				continue
			}
			c.abandonFrom(reqs[i+1:])
			return nil, fmt.Errorf("%w: reply %d of %d from %s", ErrPipelineCommandTimeout, i+1, len(reqs), c.addr)
		}
	}

	return frames, nil
}

// --------------------------------------------------------------------------
// Receiving
// --------------------------------------------------------------------------

// readLoop accumulates incoming bytes and drives frame extraction. It
// exits when the socket errors or closes, failing every outstanding
// request. The socket carries no read deadline: the per-request timers
// in SendTimeout and SendPipeline are the sole reply-timeout mechanism,
// so an idle peer surfaces as command timeouts until the pool's health
// probes evict the connection.
func (c *Conn) readLoop(sock net.Conn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		n, err := sock.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var ferr error
			buf, ferr = c.dispatchFrames(buf)
			if ferr != nil {
				log.Errorf("fatal protocol error on %s: %v", c.addr, ferr)
				_ = sock.Close()
				c.teardown(ferr)
				return
			}
		}
		if err != nil {
			c.teardown(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			return
		}
	}
}

// dispatchFrames repeatedly extracts one complete frame while at least
// one request is outstanding, resolving the oldest slot each time.
// Frames landing in abandoned slots are discarded to keep later slots
// aligned. Bytes for which no request is outstanding stay buffered.
func (c *Conn) dispatchFrames(buf []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pending) > 0 {
		frame, consumed, err := c.codec.ExtractFrame(buf)
		if err != nil {
			return buf, err
		}
		if consumed == 0 {
			break
		}

		out := make([]byte, len(frame))
		copy(out, frame)
		buf = buf[consumed:]

		req := c.pending[0]
		c.pending = c.pending[1:]
		if req.abandoned {
			log.Warningf("discarding late reply for timed-out request on %s", c.addr)
			continue
		}
		req.ch <- result{frame: out}
	}
	return buf, nil
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

// Disconnect half-closes the socket and waits for the peer close to be
// observed. Outstanding requests fail with ErrConnectionClosed.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return nil
	}
	sock := c.sock
	done := c.readerDone
	c.mu.Unlock()

	if tcp, ok := sock.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	} else {
		_ = sock.Close()
	}

	select {
	case <-done:
	case <-time.After(c.connTimeout):
		// peer did not close in time, force it
		_ = sock.Close()
		<-done
	}
	return nil
}

// Destroy forcibly tears the connection down and fails every
// outstanding request with ErrConnectionDestroyed.
func (c *Conn) Destroy() {
	c.mu.Lock()
	if c.state == stateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = stateDestroyed
	sock := c.sock
	c.sock = nil
	c.failAllLocked(ErrConnectionDestroyed)
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
}

// teardown is invoked by the read loop on socket error or close.
func (c *Conn) teardown(err error) {
	c.mu.Lock()
	if c.state == stateDestroyed {
		// Destroy already failed all requests
		c.mu.Unlock()
		return
	}
	c.state = stateDisconnected
	c.sock = nil
	c.failAllLocked(err)
	c.mu.Unlock()

	log.Debugf("disconnected from %s: %v", c.addr, err)
	events.Emit(c.onEvent, events.Event{Type: events.Disconnected, Addr: c.addr, Err: err})
}

// failAllLocked fails every outstanding request with a shared error.
// Caller holds c.mu.
func (c *Conn) failAllLocked(err error) {
	for _, req := range c.pending {
		if !req.abandoned {
			req.ch <- result{err: err}
		}
	}
	c.pending = nil
}

// failRequest removes one specific record from the queue and fails it.
// Used after a write error: the compensation targets the record that
// issued the failed write, never a positional guess.
func (c *Conn) failRequest(req *pendingRequest, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, queued := range c.pending {
		if queued == req {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			req.ch <- result{err: err}
			return
		}
	}
}

// abandon marks a still-queued record as timed out. It reports false if
// the record already left the queue (its result is, or is about to be,
// in its channel).
func (c *Conn) abandon(req *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, queued := range c.pending {
		if queued == req {
			req.abandoned = true
			return true
		}
	}
	return false
}

// abandonFrom abandons a batch suffix after an earlier record failed.
func (c *Conn) abandonFrom(reqs []*pendingRequest) {
	for _, req := range reqs {
		if !c.abandon(req) {
			// already resolved, drop the buffered result
			select {
			case <-req.ch:
			default:
			}
		}
	}
}
