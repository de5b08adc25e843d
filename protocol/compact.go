package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// compactMagic prefixes every frame of the experimental ultra-compact
// protocol.
var compactMagic = [4]byte{'F', 'B', 'C', '1'}

// NewCompactCodec creates the codec for the experimental ultra-compact
// protocol: magic-prefixed frames with varint field lengths and string
// interning for repeated keys. The codec is stateful (the interning
// dictionaries grow over the lifetime of a connection), so a fresh
// instance must be used per connection.
//
// The default negotiation policy never selects this codec; it exists as
// an optional strategy plugin behind the same Codec interface.
func NewCompactCodec() Codec {
	return &compactCodec{
		encodeIDs: make(map[string]uint64),
		decodeIDs: make(map[uint64]string),
	}
}

type compactCodec struct {
	encodeMu  sync.Mutex
	encodeIDs map[string]uint64

	decodeMu  sync.Mutex
	decodeIDs map[uint64]string
}

const (
	// string interning markers
	compactLiteral byte = 0x00 // followed by uvarint length + bytes, registers the next id
	compactRef     byte = 0x01 // followed by uvarint id of a previously sent string
)

// --------------------------------------------------------------------------
// Interface Methods (docu see protocol.Codec)
// --------------------------------------------------------------------------

func (c *compactCodec) Name() string {
	return "compact"
}

func (c *compactCodec) EncodeCommand(cmd *Command) ([]byte, error) {
	payload := make([]byte, 0, 16+len(cmd.Key)+len(cmd.Value))
	payload = append(payload, byte(cmd.Type))

	switch cmd.Type {
	case CmdPing, CmdStats, CmdMetrics:
		// tag only
	case CmdGet, CmdDel:
		payload = c.appendInterned(payload, cmd.Key)
	case CmdPut:
		payload = c.appendInterned(payload, cmd.Key)
		payload = binary.AppendUvarint(payload, uint64(len(cmd.Value)))
		payload = append(payload, cmd.Value...)
		payload = appendCompactTTL(payload, cmd)
	case CmdExpire:
		payload = c.appendInterned(payload, cmd.Key)
		payload = appendCompactTTL(payload, cmd)
	default:
		return nil, fmt.Errorf("compact codec: unsupported command type %d", cmd.Type)
	}

	return wrapCompactFrame(payload), nil
}

func (c *compactCodec) ExtractFrame(buf []byte) ([]byte, int, error) {
	return extractMagicFrame(buf, compactMagic)
}

func (c *compactCodec) DecodeResponse(frame []byte) (*Response, error) {
	payload, err := unwrapMagicFrame(frame, compactMagic)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, ErrEmptyResponse
	}

	tag := ResponseType(payload[0])
	body := payload[1:]

	switch tag {
	case RespOK, RespPong, RespNull:
		return &Response{Type: tag}, nil
	case RespError, RespValue, RespStats:
		length, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, fmt.Errorf("%w: invalid payload length", ErrMalformedResponse)
		}
		body = body[n:]
		if uint64(len(body)) < length {
			return nil, fmt.Errorf("%w: payload truncated", ErrMalformedResponse)
		}
		data := make([]byte, length)
		copy(data, body[:length])
		if tag == RespError {
			return &Response{Type: tag, Message: string(data)}, nil
		}
		return &Response{Type: tag, Value: data}, nil
	default:
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrUnknownResponseType, payload[0])
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// appendInterned writes a string either as a literal (first use,
// registering the next dictionary id) or as a reference to an earlier
// literal.
func (c *compactCodec) appendInterned(buf []byte, s string) []byte {
	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()

	if id, ok := c.encodeIDs[s]; ok {
		buf = append(buf, compactRef)
		return binary.AppendUvarint(buf, id)
	}

	c.encodeIDs[s] = uint64(len(c.encodeIDs))
	buf = append(buf, compactLiteral)
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendCompactTTL(buf []byte, cmd *Command) []byte {
	if !cmd.HasTTL {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return binary.AppendUvarint(buf, cmd.TTL)
}

// wrapCompactFrame prepends the magic and the 4-byte little-endian
// payload length.
func wrapCompactFrame(payload []byte) []byte {
	frame := make([]byte, 0, 8+len(payload))
	frame = append(frame, compactMagic[:]...)
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	frame = append(frame, length[:]...)
	return append(frame, payload...)
}

// extractMagicFrame implements framing for the two magic-prefixed
// experimental protocols: 4 magic bytes, 4-byte little-endian payload
// length, payload.
func extractMagicFrame(buf []byte, magic [4]byte) ([]byte, int, error) {
	if len(buf) < 8 {
		return nil, 0, nil
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return nil, 0, fmt.Errorf("%w: bad magic %q", ErrUnknownResponseType, buf[:4])
	}
	length := binary.LittleEndian.Uint32(buf[4:8])
	total := 8 + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}
	return buf[:total], total, nil
}

// unwrapMagicFrame strips the magic and length header off an extracted frame.
func unwrapMagicFrame(frame []byte, magic [4]byte) ([]byte, error) {
	if len(frame) < 8 {
		return nil, fmt.Errorf("%w: frame shorter than header", ErrMalformedResponse)
	}
	if frame[0] != magic[0] || frame[1] != magic[1] || frame[2] != magic[2] || frame[3] != magic[3] {
		return nil, fmt.Errorf("%w: bad magic %q", ErrUnknownResponseType, frame[:4])
	}
	length := binary.LittleEndian.Uint32(frame[4:8])
	if len(frame) < 8+int(length) {
		return nil, fmt.Errorf("%w: payload truncated", ErrMalformedResponse)
	}
	return frame[8 : 8+int(length)], nil
}
