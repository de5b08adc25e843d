// Package client provides the high-level FrostByte client: typed cache
// operations over a pooled, health-checked connection layer, plus the
// pipeline executor for batched commands.
package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/events"
	"github.com/frostbyte-io/frostbyte-go/protocol"
	"github.com/frostbyte-io/frostbyte-go/transport"
)

var log = logger.GetLogger("client")

// ErrNotConnected is returned for operations before Connect (or after
// Close).
var ErrNotConnected = errors.New("client not connected")

// ErrPipeliningDisabled is returned by Pipeline when the configuration
// has pipelining switched off.
var ErrPipeliningDisabled = errors.New("pipelining is disabled in the configuration")

// Client is a single-node FrostByte client. It owns one connection pool
// and the codec resolved for the node; all typed operations go through
// the pool. A Client is safe for concurrent use once connected.
type Client struct {
	cfg     config.ClientConfig
	onEvent events.Handler

	mu        sync.Mutex
	codecName string
	pool      *transport.Pool
}

// New creates a client from the given configuration. The configuration
// is completed with defaults and validated; no connection is made until
// Connect.
func New(cfg config.ClientConfig) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	return &Client{cfg: cfg}, nil
}

// OnEvent registers a notification handler. Must be called before
// Connect; the handler is invoked synchronously and must not block.
func (c *Client) OnEvent(h events.Handler) {
	c.onEvent = h
}

// Config returns the effective configuration.
func (c *Client) Config() config.ClientConfig {
	return c.cfg
}

// Connect resolves the wire codec (directly for binary, via the
// negotiation policy otherwise) and warms up the pool with one
// connection. It is idempotent.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return nil
	}

	newCodec, err := c.resolveCodec()
	if err != nil {
		return err
	}

	pool := transport.NewPool(c.cfg.Address(), newCodec, c.cfg, c.onEvent)
	if err := pool.WarmUp(1); err != nil {
		_ = pool.Close()
		return fmt.Errorf("connecting to %s: %w", c.cfg.Address(), err)
	}

	c.codecName = newCodec().Name()
	c.pool = pool
	log.Infof("connected to %s using %s codec", c.cfg.Address(), c.codecName)
	return nil
}

// resolveCodec picks the wire format. The binary codec is selected
// directly when configured; everything else goes through negotiation,
// which probes each candidate with a PING over a short-lived
// connection. The result is a factory: the pool instantiates one codec
// per connection, so a stateful codec's dictionaries stay aligned with
// its own peer.
func (c *Client) resolveCodec() (protocol.CodecFactory, error) {
	if c.cfg.UseBinaryProtocol {
		return protocol.NewBinaryCodec, nil
	}

	neg := protocol.DefaultNegotiator(c.cfg.EnableExperimentalCodecs)
	newCodec, err := neg.Negotiate(c.probeCodec)
	if err != nil {
		events.Emit(c.onEvent, events.Event{
			Type: events.ProtocolNegotiationFailed, Addr: c.cfg.Address(), Err: err,
		})
		return nil, err
	}

	events.Emit(c.onEvent, events.Event{Type: events.ProtocolNegotiated, Addr: c.cfg.Address()})
	return newCodec, nil
}

// probeCodec dials a throwaway connection under the candidate codec and
// checks that the probe comes back as a PONG.
func (c *Client) probeCodec(candidate protocol.Codec, probe []byte) error {
	conn := transport.NewConn(c.cfg.Address(), candidate, c.cfg, nil)
	if err := conn.Connect(); err != nil {
		return err
	}
	defer func() { _ = conn.Disconnect() }()

	frame, err := conn.SendTimeout(probe, c.cfg.HealthCheckTimeout)
	if err != nil {
		return err
	}
	resp, err := candidate.DecodeResponse(frame)
	if err != nil {
		return err
	}
	if resp.Type != protocol.RespPong {
		return fmt.Errorf("probe answered %s, want PONG", resp.Type)
	}
	return nil
}

// Close shuts the pool down. The client can be re-connected afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	pool := c.pool
	c.pool = nil
	c.codecName = ""
	c.mu.Unlock()

	if pool == nil {
		return nil
	}
	return pool.Close()
}

func (c *Client) state() (*transport.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return nil, ErrNotConnected
	}
	return c.pool, nil
}

// Do runs one command over a pooled connection and decodes the reply.
// Encoding happens after the connection is acquired, with that
// connection's own codec. A server-reported ERROR is returned as the
// error alongside the decoded response.
func (c *Client) Do(cmd *protocol.Command) (*protocol.Response, error) {
	pool, err := c.state()
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire()
	if err != nil {
		return nil, err
	}
	defer pool.Release(conn)

	codec := conn.Codec()
	payload, err := codec.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd.Type, err)
	}

	frame, err := conn.Send(payload)
	if err != nil {
		return nil, err
	}

	resp, err := codec.DecodeResponse(frame)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

// --------------------------------------------------------------------------
// Typed operations
// --------------------------------------------------------------------------

// Ping checks that the node answers.
func (c *Client) Ping() error {
	resp, err := c.Do(protocol.NewPingCommand())
	if err != nil {
		return err
	}
	if resp.Type != protocol.RespPong {
		return fmt.Errorf("ping answered %s, want PONG", resp.Type)
	}
	return nil
}

// Put stores a value without expiry.
func (c *Client) Put(key, value string) error {
	return c.expectOK(protocol.NewPutCommand(key, []byte(value)))
}

// PutTTL stores a value that expires after ttlSeconds.
func (c *Client) PutTTL(key, value string, ttlSeconds uint64) error {
	return c.expectOK(protocol.NewPutTTLCommand(key, []byte(value), ttlSeconds))
}

// Get fetches a value. The boolean reports whether the key existed.
func (c *Client) Get(key string) (string, bool, error) {
	resp, err := c.Do(protocol.NewGetCommand(key))
	if err != nil {
		return "", false, err
	}
	switch resp.Type {
	case protocol.RespValue:
		return string(resp.Value), true, nil
	case protocol.RespNull:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("get answered %s, want VALUE or NULL", resp.Type)
	}
}

// Del removes a key. It returns false without error when the key did
// not exist.
func (c *Client) Del(key string) (bool, error) {
	return c.expectOKOrNull(protocol.NewDelCommand(key))
}

// Expire sets a TTL on an existing key. It returns false without error
// when the key did not exist.
func (c *Client) Expire(key string, ttlSeconds uint64) (bool, error) {
	return c.expectOKOrNull(protocol.NewExpireCommand(key, ttlSeconds))
}

// Stats fetches and decodes the node's statistics.
func (c *Client) Stats() (*protocol.ServerStats, error) {
	resp, err := c.Do(protocol.NewStatsCommand())
	if err != nil {
		return nil, err
	}
	return protocol.DecodeStats(resp)
}

// Metrics fetches the node's raw metric gauges.
func (c *Client) Metrics() (map[string]float64, error) {
	resp, err := c.Do(protocol.NewMetricsCommand())
	if err != nil {
		return nil, err
	}
	return protocol.DecodeMetrics(resp)
}

func (c *Client) expectOK(cmd *protocol.Command) error {
	resp, err := c.Do(cmd)
	if err != nil {
		return err
	}
	if resp.Type != protocol.RespOK {
		return fmt.Errorf("%s answered %s, want OK", cmd.Type, resp.Type)
	}
	return nil
}

func (c *Client) expectOKOrNull(cmd *protocol.Command) (bool, error) {
	resp, err := c.Do(cmd)
	if err != nil {
		return false, err
	}
	switch resp.Type {
	case protocol.RespOK:
		return true, nil
	case protocol.RespNull:
		return false, nil
	default:
		return false, fmt.Errorf("%s answered %s, want OK or NULL", cmd.Type, resp.Type)
	}
}

// --------------------------------------------------------------------------
// Pipelining / introspection
// --------------------------------------------------------------------------

// Pipeline creates a pooled pipeline executor. It fails when the
// configuration has pipelining disabled.
func (c *Client) Pipeline() (*Pipeline, error) {
	pool, err := c.state()
	if err != nil {
		return nil, err
	}
	if !c.cfg.EnablePipelining {
		return nil, ErrPipeliningDisabled
	}
	return NewPipeline(PoolSource{Pool: pool}), nil
}

// PoolStats returns a snapshot of the underlying pool.
func (c *Client) PoolStats() (transport.PoolStats, error) {
	pool, err := c.state()
	if err != nil {
		return transport.PoolStats{}, err
	}
	return pool.Stats(), nil
}

// CodecName returns the name of the codec in use.
func (c *Client) CodecName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codecName
}
