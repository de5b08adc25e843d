package protocol

import (
	"encoding/binary"
	"fmt"
)

// envelopeMagic prefixes every frame of the experimental
// protobuf-style envelope protocol.
var envelopeMagic = [4]byte{'F', 'B', 'P', '1'}

// NewEnvelopeCodec creates the codec for the experimental envelope
// protocol: magic-prefixed frames whose payload is a sequence of
// protobuf-style fields, each introduced by a (field number << 3 |
// wire type) tag.
//
// Like the compact codec, the default negotiation policy never selects
// it; it is documented as "exists, currently unused".
func NewEnvelopeCodec() Codec {
	return &envelopeCodec{}
}

type envelopeCodec struct{}

// protobuf wire types
const (
	wireVarint byte = 0
	wireBytes  byte = 2
)

// field numbers shared by requests and responses
const (
	fieldType    = 1 // varint: CommandType / ResponseType
	fieldKey     = 2 // bytes
	fieldValue   = 3 // bytes
	fieldTTL     = 4 // varint, presence implies HasTTL
	fieldMessage = 5 // bytes: error message
)

// --------------------------------------------------------------------------
// Interface Methods (docu see protocol.Codec)
// --------------------------------------------------------------------------

func (c *envelopeCodec) Name() string {
	return "envelope"
}

func (c *envelopeCodec) EncodeCommand(cmd *Command) ([]byte, error) {
	payload := make([]byte, 0, 16+len(cmd.Key)+len(cmd.Value))
	payload = appendVarintField(payload, fieldType, uint64(cmd.Type))
	if cmd.Key != "" {
		payload = appendBytesField(payload, fieldKey, []byte(cmd.Key))
	}
	if cmd.Value != nil {
		payload = appendBytesField(payload, fieldValue, cmd.Value)
	}
	if cmd.HasTTL {
		payload = appendVarintField(payload, fieldTTL, cmd.TTL)
	}

	frame := make([]byte, 0, 8+len(payload))
	frame = append(frame, envelopeMagic[:]...)
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	frame = append(frame, length[:]...)
	return append(frame, payload...), nil
}

func (c *envelopeCodec) ExtractFrame(buf []byte) ([]byte, int, error) {
	return extractMagicFrame(buf, envelopeMagic)
}

func (c *envelopeCodec) DecodeResponse(frame []byte) (*Response, error) {
	payload, err := unwrapMagicFrame(frame, envelopeMagic)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, ErrEmptyResponse
	}

	resp := &Response{}
	seenType := false

	for len(payload) > 0 {
		tag := payload[0]
		payload = payload[1:]
		field := tag >> 3

		switch tag & 0x07 {
		case wireVarint:
			v, n := binary.Uvarint(payload)
			if n <= 0 {
				return nil, fmt.Errorf("%w: invalid varint for field %d", ErrMalformedResponse, field)
			}
			payload = payload[n:]
			if field == fieldType {
				resp.Type = ResponseType(v)
				seenType = true
			}
		case wireBytes:
			length, n := binary.Uvarint(payload)
			if n <= 0 {
				return nil, fmt.Errorf("%w: invalid length for field %d", ErrMalformedResponse, field)
			}
			payload = payload[n:]
			if uint64(len(payload)) < length {
				return nil, fmt.Errorf("%w: field %d truncated", ErrMalformedResponse, field)
			}
			data := make([]byte, length)
			copy(data, payload[:length])
			payload = payload[length:]

			switch field {
			case fieldValue:
				resp.Value = data
			case fieldMessage:
				resp.Message = string(data)
			}
		default:
			return nil, fmt.Errorf("%w: wire type %d", ErrMalformedResponse, tag&0x07)
		}
	}

	if !seenType {
		return nil, fmt.Errorf("%w: missing response type field", ErrMalformedResponse)
	}
	switch resp.Type {
	case RespOK, RespPong, RespNull, RespError, RespValue, RespStats:
		return resp, nil
	default:
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrUnknownResponseType, byte(resp.Type))
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func appendVarintField(buf []byte, field byte, v uint64) []byte {
	buf = append(buf, field<<3|wireVarint)
	return binary.AppendUvarint(buf, v)
}

func appendBytesField(buf []byte, field byte, data []byte) []byte {
	buf = append(buf, field<<3|wireBytes)
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}
