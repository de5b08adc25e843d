package protocol

import "fmt"

// Codec is the interface every protocol variant implements. Codecs are
// interchangeable: the transport layer is handed one codec per
// connection and never inspects protocol bytes itself.
type Codec interface {
	// Name returns the codec identifier used in configuration and
	// negotiation ("text", "binary", "compact", "envelope").
	Name() string

	// EncodeCommand serializes a command into request bytes.
	EncodeCommand(cmd *Command) ([]byte, error)

	// ExtractFrame attempts to pull exactly one complete response frame
	// from the front of buf. It returns the frame and the number of
	// bytes consumed. consumed == 0 with a nil error means the buffer
	// does not yet hold a complete frame and more data is needed.
	// A non-nil error is fatal for the connection.
	ExtractFrame(buf []byte) (frame []byte, consumed int, err error)

	// DecodeResponse decodes one extracted frame.
	DecodeResponse(frame []byte) (*Response, error)
}

// CodecFactory builds a fresh codec instance. Codecs can carry
// per-connection state (the compact codec's interning dictionaries), so
// the transport layer is handed a factory and instantiates one codec
// per connection; stateless codecs simply return cheap new values.
type CodecFactory func() Codec

// NewCodecFactory returns the factory for a codec configuration name.
func NewCodecFactory(name string) (CodecFactory, error) {
	switch name {
	case "text":
		return NewTextCodec, nil
	case "binary":
		return NewBinaryCodec, nil
	case "compact":
		return NewCompactCodec, nil
	case "envelope":
		return NewEnvelopeCodec, nil
	default:
		return nil, fmt.Errorf("invalid codec %s", name)
	}
}

// NewCodec creates a codec by its configuration name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "text":
		return NewTextCodec(), nil
	case "binary":
		return NewBinaryCodec(), nil
	case "compact":
		return NewCompactCodec(), nil
	case "envelope":
		return NewEnvelopeCodec(), nil
	default:
		return nil, fmt.Errorf("invalid codec %s", name)
	}
}
