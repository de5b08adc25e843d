package protocol

import (
	"encoding/binary"
	"fmt"
)

// NewBinaryCodec creates the codec for the length-prefixed binary
// protocol: a single command tag byte followed by 4-byte little-endian
// length-prefixed fields, a presence flag byte before the optional
// 8-byte little-endian TTL, and tagged responses where OK/PONG/NULL are
// one byte and ERROR/VALUE/STATS carry a 4-byte little-endian length
// prefix.
func NewBinaryCodec() Codec {
	return &binaryCodec{}
}

type binaryCodec struct{}

const (
	// 1 tag byte + 4 length bytes
	binHeaderSize = 5
)

// --------------------------------------------------------------------------
// Interface Methods (docu see protocol.Codec)
// --------------------------------------------------------------------------

func (c *binaryCodec) Name() string {
	return "binary"
}

func (c *binaryCodec) EncodeCommand(cmd *Command) ([]byte, error) {
	buf := make([]byte, 0, binHeaderSize+len(cmd.Key)+len(cmd.Value)+16)
	buf = append(buf, byte(cmd.Type))

	switch cmd.Type {
	case CmdPing, CmdStats, CmdMetrics:
		// tag only
	case CmdGet, CmdDel:
		buf = appendLenPrefixed(buf, []byte(cmd.Key))
	case CmdPut:
		buf = appendLenPrefixed(buf, []byte(cmd.Key))
		buf = appendLenPrefixed(buf, cmd.Value)
		buf = appendTTL(buf, cmd)
	case CmdExpire:
		buf = appendLenPrefixed(buf, []byte(cmd.Key))
		buf = appendTTL(buf, cmd)
	default:
		return nil, fmt.Errorf("binary codec: unsupported command type %d", cmd.Type)
	}

	return buf, nil
}

// ExtractFrame reads the leading response tag. Fixed argument-less
// replies (OK, PONG, NULL) are complete as a single byte; every other
// known tag needs the 4-byte little-endian length and that many payload
// bytes. An unrecognized tag is a fatal protocol error.
func (c *binaryCodec) ExtractFrame(buf []byte) ([]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}

	switch ResponseType(buf[0]) {
	case RespOK, RespPong, RespNull:
		return buf[:1], 1, nil
	case RespError, RespValue, RespStats:
		if len(buf) < binHeaderSize {
			return nil, 0, nil
		}
		length := binary.LittleEndian.Uint32(buf[1:binHeaderSize])
		total := binHeaderSize + int(length)
		if len(buf) < total {
			return nil, 0, nil
		}
		return buf[:total], total, nil
	default:
		return nil, 0, fmt.Errorf("%w: tag 0x%02x", ErrUnknownResponseType, buf[0])
	}
}

func (c *binaryCodec) DecodeResponse(frame []byte) (*Response, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyResponse
	}

	tag := ResponseType(frame[0])
	switch tag {
	case RespOK, RespPong, RespNull:
		return &Response{Type: tag}, nil
	case RespError, RespValue, RespStats:
		if len(frame) < binHeaderSize {
			return nil, fmt.Errorf("%w: frame shorter than header", ErrMalformedResponse)
		}
		length := binary.LittleEndian.Uint32(frame[1:binHeaderSize])
		if len(frame) < binHeaderSize+int(length) {
			return nil, fmt.Errorf("%w: payload truncated", ErrMalformedResponse)
		}
		payload := make([]byte, length)
		copy(payload, frame[binHeaderSize:binHeaderSize+int(length)])

		if tag == RespError {
			return &Response{Type: tag, Message: string(payload)}, nil
		}
		return &Response{Type: tag, Value: payload}, nil
	default:
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrUnknownResponseType, frame[0])
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// appendLenPrefixed writes a 4-byte little-endian length followed by the data
func appendLenPrefixed(buf []byte, data []byte) []byte {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(data)))
	buf = append(buf, length[:]...)
	return append(buf, data...)
}

// appendTTL writes the presence flag byte and, if set, the 8-byte little-endian TTL
func appendTTL(buf []byte, cmd *Command) []byte {
	if !cmd.HasTTL {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	var ttl [8]byte
	binary.LittleEndian.PutUint64(ttl[:], cmd.TTL)
	return append(buf, ttl[:]...)
}
