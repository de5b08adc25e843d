// Package protocol defines the FrostByte wire protocol: the command and
// response model, the interchangeable codec implementations (text,
// binary, and two experimental formats), and the capability negotiation
// that picks a codec for a fresh connection.
//
// A Codec owns three concerns for one protocol variant:
//   - encoding a Command into request bytes
//   - extracting exactly one complete response frame from a byte stream
//   - decoding an extracted frame into a Response
//
// Frame extraction is deliberately separated from decoding so the
// transport layer can drive it incrementally as bytes arrive, in
// arbitrary chunk sizes.
package protocol
