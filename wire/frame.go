// Package wire implements the greeting preamble and the length-prefixed
// MessagePack frame protocol: every message after the greeting is
// `size (msgpack uint) ++ header (msgpack map) ++ body (msgpack map)`,
// where size counts only the header+body bytes.
package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Header and body key codes.
const (
	KeyCode     = 0x00
	KeySync     = 0x01
	KeySchemaID = 0x05

	KeySpaceID = 0x10
	KeyIndexID = 0x11
	KeyKey     = 0x20
	KeyTuple   = 0x21
	KeyOps     = 0x28 // update/upsert operations list
	KeyData    = 0x30
	KeyError   = 0x31
	KeyUser    = 0x23 // username carried under the auth request body
)

// Request codes. call/eval are reserved for a future stored-procedure
// invocation surface and are not dispatched anywhere in this package.
const (
	CodeSelect  uint64 = 0x01
	CodeInsert  uint64 = 0x02
	CodeReplace uint64 = 0x03
	CodeUpdate  uint64 = 0x04
	CodeDelete  uint64 = 0x05
	CodeEval    uint64 = 0x08
	CodeAuth    uint64 = 0x07
	CodeUpsert  uint64 = 0x09
	CodeCall    uint64 = 0x0a
)

// ErrorFlag is the top bit a response code carries to indicate failure:
// code < 0x8000 is OK, code >= 0x8000 is an error whose low bits are
// the server's error code.
const ErrorFlag uint64 = 0x8000

// IsError reports whether a response code indicates a server error.
func IsError(code uint64) bool { return code&ErrorFlag != 0 }

// ErrorCode extracts the low-bits server error code from a response
// code already known to satisfy IsError.
func ErrorCode(code uint64) uint32 { return uint32(code &^ ErrorFlag) }

// Frame is a decoded {header, body} pair. Both maps use small-integer
// keys.
type Frame struct {
	Header map[int]any
	Body   map[int]any
}

// Encode serializes header and body, prepends the total size as a
// MessagePack uint, and writes the whole frame to w in one call — an
// all-or-nothing write.
func Encode(w io.Writer, header, body map[int]any) error {
	var payload bytes.Buffer
	enc := msgpack.NewEncoder(&payload)
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("encode frame header: %w", err)
	}
	if err := enc.Encode(body); err != nil {
		return fmt.Errorf("encode frame body: %w", err)
	}

	var out bytes.Buffer
	sizeEnc := msgpack.NewEncoder(&out)
	if err := sizeEnc.EncodeUint64(uint64(payload.Len())); err != nil {
		return fmt.Errorf("encode frame size: %w", err)
	}
	out.Write(payload.Bytes())

	_, err := w.Write(out.Bytes())
	return err
}

// Decode reads one complete frame from r: a MessagePack uint size,
// then exactly that many bytes, then splits those bytes into a header
// map (decoded first) and a body map (the remainder). Uses io.ReadFull
// throughout, so a short read surfaces as an error rather than silently
// discarding buffered bytes — resumption on the next inbound chunk is
// the caller's responsibility when r is non-blocking.
func Decode(r io.Reader) (*Frame, error) {
	size, err := readUint(r)
	if err != nil {
		return nil, fmt.Errorf("decode frame size: %w", err)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", size, err)
	}

	// Decode the header through a reader that only ever hands back one
	// byte per Read call, so that however much internal buffering
	// msgpack.Decoder does, it can never pull body bytes out from under
	// us while it's still parsing the header value.
	cursor := &singleByteReader{buf: payload}
	header := make(map[int]any)
	if err := msgpack.NewDecoder(cursor).Decode(&header); err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	bodyBytes := payload[cursor.pos:]

	body := make(map[int]any)
	if len(bodyBytes) > 0 {
		if err := msgpack.NewDecoder(bytes.NewReader(bodyBytes)).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode frame body: %w", err)
		}
	}

	return &Frame{Header: header, Body: body}, nil
}

// singleByteReader serves payload one byte per Read call, making the
// caller's consumed-byte count (pos) exact regardless of how the
// decoder reading from it chooses to buffer.
type singleByteReader struct {
	buf []byte
	pos int
}

func (s *singleByteReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.buf) {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = s.buf[s.pos]
	s.pos++
	return 1, nil
}

// readUint decodes a single MessagePack unsigned integer directly from
// r, one byte at a time, deliberately avoiding msgpack.NewDecoder here:
// that type buffers reads internally, and buffering ahead of the frame
// size would silently swallow bytes belonging to the frame payload that
// follows it on the same stream.
func readUint(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:1]); err != nil {
		return 0, err
	}
	switch {
	case b[0] <= 0x7f:
		return uint64(b[0]), nil
	case b[0] == 0xcc:
		if _, err := io.ReadFull(r, b[:1]); err != nil {
			return 0, err
		}
		return uint64(b[0]), nil
	case b[0] == 0xcd:
		if _, err := io.ReadFull(r, b[:2]); err != nil {
			return 0, err
		}
		return uint64(b[0])<<8 | uint64(b[1]), nil
	case b[0] == 0xce:
		if _, err := io.ReadFull(r, b[:4]); err != nil {
			return 0, err
		}
		return uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3]), nil
	case b[0] == 0xcf:
		if _, err := io.ReadFull(r, b[:8]); err != nil {
			return 0, err
		}
		var v uint64
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected leading byte %#x for frame size (not a msgpack uint)", b[0])
	}
}
