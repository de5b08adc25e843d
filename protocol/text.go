package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// NewTextCodec creates the codec for the plain text protocol. Requests
// are space-joined words terminated by CRLF, responses are single
// CRLF-delimited lines. This is the default protocol and the one the
// negotiation policy currently always lands on.
func NewTextCodec() Codec {
	return &textCodec{}
}

type textCodec struct{}

var crlf = []byte("\r\n")

const (
	textOK     = "OK"
	textPong   = "PONG"
	textNull   = "NULL"
	textError  = "ERROR: "
	textStats  = "STATS: "
	textNoData = ""
)

// --------------------------------------------------------------------------
// Interface Methods (docu see protocol.Codec)
// --------------------------------------------------------------------------

func (c *textCodec) Name() string {
	return "text"
}

func (c *textCodec) EncodeCommand(cmd *Command) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(cmd.Type.String())

	switch cmd.Type {
	case CmdPing, CmdStats, CmdMetrics:
		// no arguments
	case CmdPut:
		buf.WriteByte(' ')
		buf.WriteString(cmd.Key)
		buf.WriteByte(' ')
		buf.Write(cmd.Value)
		if cmd.HasTTL {
			buf.WriteByte(' ')
			buf.WriteString(strconv.FormatUint(cmd.TTL, 10))
		}
	case CmdGet, CmdDel:
		buf.WriteByte(' ')
		buf.WriteString(cmd.Key)
	case CmdExpire:
		buf.WriteByte(' ')
		buf.WriteString(cmd.Key)
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatUint(cmd.TTL, 10))
	default:
		return nil, fmt.Errorf("text codec: unsupported command type %d", cmd.Type)
	}

	buf.Write(crlf)
	return buf.Bytes(), nil
}

// ExtractFrame pulls one CRLF-delimited line. The terminator is consumed
// but excluded from the returned frame.
func (c *textCodec) ExtractFrame(buf []byte) ([]byte, int, error) {
	idx := bytes.Index(buf, crlf)
	if idx < 0 {
		return nil, 0, nil
	}
	return buf[:idx], idx + len(crlf), nil
}

func (c *textCodec) DecodeResponse(frame []byte) (*Response, error) {
	line := string(frame)

	switch {
	case line == textNoData:
		return nil, ErrEmptyResponse
	case line == textOK:
		return &Response{Type: RespOK}, nil
	case line == textPong:
		return &Response{Type: RespPong}, nil
	case line == textNull:
		return &Response{Type: RespNull}, nil
	case len(line) >= len(textError) && line[:len(textError)] == textError:
		return &Response{Type: RespError, Message: line[len(textError):]}, nil
	case len(line) >= len(textStats) && line[:len(textStats)] == textStats:
		return &Response{Type: RespStats, Value: []byte(line[len(textStats):])}, nil
	default:
		// anything else is a bare value
		value := make([]byte, len(frame))
		copy(value, frame)
		return &Response{Type: RespValue, Value: value}, nil
	}
}
