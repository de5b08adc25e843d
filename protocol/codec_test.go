package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() Codec{
	"text":     NewTextCodec,
	"binary":   NewBinaryCodec,
	"compact":  NewCompactCodec,
	"envelope": NewEnvelopeCodec,
}

// TestTextEncodeCommands checks the exact wire bytes of the text protocol
func TestTextEncodeCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
		want string
	}{
		{"ping", NewPingCommand(), "PING\r\n"},
		{"put", NewPutCommand("k", []byte("v")), "PUT k v\r\n"},
		{"put with ttl", NewPutTTLCommand("k", []byte("v"), 60), "PUT k v 60\r\n"},
		{"get", NewGetCommand("k"), "GET k\r\n"},
		{"del", NewDelCommand("k"), "DEL k\r\n"},
		{"expire", NewExpireCommand("k", 30), "EXPIRE k 30\r\n"},
		{"stats", NewStatsCommand(), "STATS\r\n"},
		{"metrics", NewMetricsCommand(), "METRICS\r\n"},
	}

	codec := NewTextCodec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.EncodeCommand(tt.cmd)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("encoded %q, want %q", got, tt.want)
			}
		})
	}
}

// TestBinaryEncodeCommands checks the exact wire bytes of the binary protocol
func TestBinaryEncodeCommands(t *testing.T) {
	codec := NewBinaryCodec()

	t.Run("ping is a single tag byte", func(t *testing.T) {
		got, err := codec.EncodeCommand(NewPingCommand())
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if !bytes.Equal(got, []byte{0x01}) {
			t.Errorf("encoded % x, want 01", got)
		}
	})

	t.Run("put with ttl", func(t *testing.T) {
		got, err := codec.EncodeCommand(NewPutTTLCommand("ab", []byte("xyz"), 60))
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		want := []byte{0x02}
		want = append(want, 2, 0, 0, 0) // key length LE
		want = append(want, 'a', 'b')
		want = append(want, 3, 0, 0, 0) // value length LE
		want = append(want, 'x', 'y', 'z')
		want = append(want, 1)                   // ttl presence flag
		want = append(want, 60, 0, 0, 0, 0, 0, 0, 0) // ttl LE
		if !bytes.Equal(got, want) {
			t.Errorf("encoded % x, want % x", got, want)
		}
	})

	t.Run("put without ttl has presence flag 0", func(t *testing.T) {
		got, err := codec.EncodeCommand(NewPutCommand("k", []byte("v")))
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if got[len(got)-1] != 0 {
			t.Errorf("last byte = %d, want presence flag 0", got[len(got)-1])
		}
	})
}

// TestTextDecodeResponses covers the full text response table
func TestTextDecodeResponses(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantType ResponseType
		wantVal  string
		wantMsg  string
	}{
		{"ok", "OK", RespOK, "", ""},
		{"pong", "PONG", RespPong, "", ""},
		{"null", "NULL", RespNull, "", ""},
		{"error", "ERROR: bad key", RespError, "", "bad key"},
		{"stats", `STATS: {"keys": 1}`, RespStats, `{"keys": 1}`, ""},
		{"bare value", "hello world", RespValue, "hello world", ""},
	}

	codec := NewTextCodec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := codec.DecodeResponse([]byte(tt.frame))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if resp.Type != tt.wantType {
				t.Errorf("type = %s, want %s", resp.Type, tt.wantType)
			}
			if string(resp.Value) != tt.wantVal {
				t.Errorf("value = %q, want %q", resp.Value, tt.wantVal)
			}
			if resp.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", resp.Message, tt.wantMsg)
			}
		})
	}

	t.Run("empty frame", func(t *testing.T) {
		_, err := codec.DecodeResponse(nil)
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("err = %v, want ErrEmptyResponse", err)
		}
	})

	t.Run("server error is surfaced by Err", func(t *testing.T) {
		resp, err := codec.DecodeResponse([]byte("ERROR: key too long"))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Err() == nil {
			t.Error("Err() = nil for an ERROR response")
		}
	})
}

// TestBinaryDecodeResponses covers the binary response table
func TestBinaryDecodeResponses(t *testing.T) {
	codec := NewBinaryCodec()

	t.Run("single byte null", func(t *testing.T) {
		resp, err := codec.DecodeResponse([]byte{0x12})
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Type != RespNull {
			t.Errorf("type = %s, want NULL", resp.Type)
		}
	})

	t.Run("value frame", func(t *testing.T) {
		frame := []byte{0x14, 3, 0, 0, 0, 'a', 'b', 'c'}
		resp, err := codec.DecodeResponse(frame)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Type != RespValue || string(resp.Value) != "abc" {
			t.Errorf("got %s %q, want VALUE abc", resp.Type, resp.Value)
		}
	})

	t.Run("error frame", func(t *testing.T) {
		frame := []byte{0x13, 3, 0, 0, 0, 'b', 'a', 'd'}
		resp, err := codec.DecodeResponse(frame)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Type != RespError || resp.Message != "bad" {
			t.Errorf("got %s %q, want ERROR bad", resp.Type, resp.Message)
		}
	})

	t.Run("unknown tag is fatal", func(t *testing.T) {
		_, _, err := codec.ExtractFrame([]byte{0x99, 0, 0})
		if !errors.Is(err, ErrUnknownResponseType) {
			t.Errorf("err = %v, want ErrUnknownResponseType", err)
		}
	})
}

// TestFrameFragmentation feeds multi-frame buffers one byte at a time and
// checks that every frame comes out intact regardless of split points
func TestFrameFragmentation(t *testing.T) {
	tests := []struct {
		name   string
		codec  Codec
		stream []byte
		want   [][]byte
	}{
		{
			name:   "text",
			codec:  NewTextCodec(),
			stream: []byte("PONG\r\nOK\r\nvalue-1\r\n"),
			want:   [][]byte{[]byte("PONG"), []byte("OK"), []byte("value-1")},
		},
		{
			name:  "binary",
			codec: NewBinaryCodec(),
			stream: []byte{
				0x11,
				0x14, 2, 0, 0, 0, 'h', 'i',
				0x10,
			},
			want: [][]byte{
				{0x11},
				{0x14, 2, 0, 0, 0, 'h', 'i'},
				{0x10},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf []byte
			var got [][]byte

			for _, b := range tt.stream {
				buf = append(buf, b)
				for {
					frame, consumed, err := tt.codec.ExtractFrame(buf)
					if err != nil {
						t.Fatalf("extract failed: %v", err)
					}
					if consumed == 0 {
						break
					}
					out := make([]byte, len(frame))
					copy(out, frame)
					got = append(got, out)
					buf = buf[consumed:]
				}
			}

			if len(got) != len(tt.want) {
				t.Fatalf("extracted %d frames, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("frame %d = % x, want % x", i, got[i], tt.want[i])
				}
			}
			if len(buf) != 0 {
				t.Errorf("%d bytes left in buffer", len(buf))
			}
		})
	}
}

// TestCodecCommandFraming checks that every codec's encoded commands are
// accepted by its own frame extractor where the framing is symmetric
func TestCodecCommandFraming(t *testing.T) {
	for _, name := range []string{"compact", "envelope"} {
		t.Run(name, func(t *testing.T) {
			codec := testCodecs[name]()

			cmds := []*Command{
				NewPingCommand(),
				NewPutTTLCommand("session", []byte("data"), 120),
				NewGetCommand("session"),
				NewDelCommand("session"),
			}

			var stream []byte
			for _, cmd := range cmds {
				b, err := codec.EncodeCommand(cmd)
				if err != nil {
					t.Fatalf("encode %s failed: %v", cmd.Type, err)
				}
				stream = append(stream, b...)
			}

			count := 0
			for len(stream) > 0 {
				_, consumed, err := codec.ExtractFrame(stream)
				if err != nil {
					t.Fatalf("extract failed: %v", err)
				}
				if consumed == 0 {
					t.Fatalf("incomplete frame with %d bytes left", len(stream))
				}
				stream = stream[consumed:]
				count++
			}
			if count != len(cmds) {
				t.Errorf("extracted %d frames, want %d", count, len(cmds))
			}
		})
	}
}

// TestCompactInterning checks that a repeated key is sent as a dictionary
// reference instead of a second literal
func TestCompactInterning(t *testing.T) {
	codec := NewCompactCodec()

	first, err := codec.EncodeCommand(NewGetCommand("interned-key"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	second, err := codec.EncodeCommand(NewGetCommand("interned-key"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if len(second) >= len(first) {
		t.Errorf("second encoding (%d bytes) not shorter than first (%d bytes)", len(second), len(first))
	}
	if !bytes.Contains(first, []byte("interned-key")) {
		t.Error("first encoding does not carry the literal key")
	}
	if bytes.Contains(second, []byte("interned-key")) {
		t.Error("second encoding still carries the literal key")
	}
}

// TestExperimentalResponseDecode decodes hand-built response frames for
// the two experimental protocols
func TestExperimentalResponseDecode(t *testing.T) {
	t.Run("compact", func(t *testing.T) {
		codec := NewCompactCodec()

		payload := []byte{byte(RespValue)}
		payload = binary.AppendUvarint(payload, 5)
		payload = append(payload, "hello"...)
		frame := wrapCompactFrame(payload)

		resp, err := codec.DecodeResponse(frame)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Type != RespValue || string(resp.Value) != "hello" {
			t.Errorf("got %s %q, want VALUE hello", resp.Type, resp.Value)
		}

		ok := wrapCompactFrame([]byte{byte(RespOK)})
		resp, err = codec.DecodeResponse(ok)
		if err != nil || resp.Type != RespOK {
			t.Errorf("got %v %v, want OK", resp, err)
		}
	})

	t.Run("envelope", func(t *testing.T) {
		codec := NewEnvelopeCodec()

		payload := appendVarintField(nil, fieldType, uint64(RespError))
		payload = appendBytesField(payload, fieldMessage, []byte("bad key"))

		frame := append([]byte{}, envelopeMagic[:]...)
		var length [4]byte
		binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
		frame = append(frame, length[:]...)
		frame = append(frame, payload...)

		resp, err := codec.DecodeResponse(frame)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Type != RespError || resp.Message != "bad key" {
			t.Errorf("got %s %q, want ERROR bad key", resp.Type, resp.Message)
		}
	})

	t.Run("bad magic is fatal", func(t *testing.T) {
		codec := NewCompactCodec()
		_, _, err := codec.ExtractFrame([]byte("XXXX\x01\x00\x00\x00\x10"))
		if !errors.Is(err, ErrUnknownResponseType) {
			t.Errorf("err = %v, want ErrUnknownResponseType", err)
		}
	})

	t.Run("incomplete magic frame waits for more bytes", func(t *testing.T) {
		codec := NewCompactCodec()
		frame := wrapCompactFrame([]byte{byte(RespOK)})
		_, consumed, err := codec.ExtractFrame(frame[:len(frame)-1])
		if err != nil || consumed != 0 {
			t.Errorf("got consumed=%d err=%v, want 0 nil", consumed, err)
		}
	})
}

func TestCodecLookupByName(t *testing.T) {
	for _, name := range []string{"text", "binary", "compact", "envelope"} {
		codec, err := NewCodec(name)
		if err != nil {
			t.Fatalf("NewCodec(%s): %v", name, err)
		}
		if codec.Name() != name {
			t.Errorf("NewCodec(%s).Name() = %s", name, codec.Name())
		}

		factory, err := NewCodecFactory(name)
		if err != nil {
			t.Fatalf("NewCodecFactory(%s): %v", name, err)
		}
		if got := factory().Name(); got != name {
			t.Errorf("factory for %s built %s", name, got)
		}
	}

	if _, err := NewCodec("morse"); err == nil {
		t.Error("unknown codec name accepted")
	}
	if _, err := NewCodecFactory("morse"); err == nil {
		t.Error("unknown codec name accepted by factory lookup")
	}
}
