package protocol

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Command Model
// --------------------------------------------------------------------------

// CommandType identifies a cache operation. The numeric values double as
// the request tag bytes of the binary protocol.
type CommandType uint8

const (
	CmdPing    CommandType = 0x01 // PING - connectivity probe
	CmdPut     CommandType = 0x02 // PUT key value [ttl]
	CmdGet     CommandType = 0x03 // GET key
	CmdDel     CommandType = 0x04 // DEL key
	CmdExpire  CommandType = 0x05 // EXPIRE key ttl
	CmdStats   CommandType = 0x06 // STATS
	CmdMetrics CommandType = 0x07 // METRICS
)

// String returns the wire name of the command as used by the text protocol.
func (t CommandType) String() string {
	switch t {
	case CmdPing:
		return "PING"
	case CmdPut:
		return "PUT"
	case CmdGet:
		return "GET"
	case CmdDel:
		return "DEL"
	case CmdExpire:
		return "EXPIRE"
	case CmdStats:
		return "STATS"
	case CmdMetrics:
		return "METRICS"
	default:
		return "UNKNOWN"
	}
}

// Command represents a single request to the cache server.
type Command struct {
	Type  CommandType
	Key   string
	Value []byte

	// TTL in seconds. HasTTL distinguishes "no ttl" from "ttl of zero"
	// and maps to the presence flag byte of the binary protocol.
	TTL    uint64
	HasTTL bool
}

// --------------------------------------------------------------------------
// Command Factory Functions
// --------------------------------------------------------------------------

// NewPingCommand creates a new PING command
func NewPingCommand() *Command {
	return &Command{Type: CmdPing}
}

// NewPutCommand creates a new PUT command without expiration
func NewPutCommand(key string, value []byte) *Command {
	return &Command{Type: CmdPut, Key: key, Value: value}
}

// NewPutTTLCommand creates a new PUT command with expiration
func NewPutTTLCommand(key string, value []byte, ttlSeconds uint64) *Command {
	return &Command{Type: CmdPut, Key: key, Value: value, TTL: ttlSeconds, HasTTL: true}
}

// NewGetCommand creates a new GET command
func NewGetCommand(key string) *Command {
	return &Command{Type: CmdGet, Key: key}
}

// NewDelCommand creates a new DEL command
func NewDelCommand(key string) *Command {
	return &Command{Type: CmdDel, Key: key}
}

// NewExpireCommand creates a new EXPIRE command
func NewExpireCommand(key string, ttlSeconds uint64) *Command {
	return &Command{Type: CmdExpire, Key: key, TTL: ttlSeconds, HasTTL: true}
}

// NewStatsCommand creates a new STATS command
func NewStatsCommand() *Command {
	return &Command{Type: CmdStats}
}

// NewMetricsCommand creates a new METRICS command
func NewMetricsCommand() *Command {
	return &Command{Type: CmdMetrics}
}

// --------------------------------------------------------------------------
// Response Model
// --------------------------------------------------------------------------

// ResponseType identifies a server reply. The numeric values double as
// the response tag bytes of the binary protocol.
type ResponseType uint8

const (
	RespOK    ResponseType = 0x10 // operation succeeded, no payload
	RespPong  ResponseType = 0x11 // reply to PING
	RespNull  ResponseType = 0x12 // key not found / no value
	RespError ResponseType = 0x13 // server-reported error, message payload
	RespValue ResponseType = 0x14 // value payload
	RespStats ResponseType = 0x15 // JSON stats payload
)

// String returns a human readable name for the response type.
func (t ResponseType) String() string {
	switch t {
	case RespOK:
		return "ok"
	case RespPong:
		return "pong"
	case RespNull:
		return "null"
	case RespError:
		return "error"
	case RespValue:
		return "value"
	case RespStats:
		return "stats"
	default:
		return "unknown"
	}
}

// Response represents a single decoded server reply.
type Response struct {
	Type ResponseType

	// Value carries the payload for RespValue and RespStats.
	Value []byte

	// Message carries the server error text for RespError.
	Message string
}

// Err converts a server-reported error response into a Go error,
// and returns nil for every other response type.
func (r *Response) Err() error {
	if r.Type == RespError {
		return fmt.Errorf("server error: %s", r.Message)
	}
	return nil
}

// --------------------------------------------------------------------------
// Protocol Errors
// --------------------------------------------------------------------------

var (
	// ErrEmptyResponse is returned when a decoded frame carries no data at all.
	ErrEmptyResponse = errors.New("empty response")

	// ErrUnknownResponseType is returned when a response tag is not part of
	// the protocol. This is fatal for the connection: the stream position
	// can no longer be trusted.
	ErrUnknownResponseType = errors.New("unknown response type")

	// ErrMalformedResponse is returned when a frame is shorter than its
	// own length prefix claims.
	ErrMalformedResponse = errors.New("malformed response")
)
