package wire

import (
	"bytes"
	"fmt"
	"io"
)

// GreetingSize is the fixed size, in bytes, of the preamble the server
// sends immediately after TCP connect.
const GreetingSize = 128

const (
	versionBannerSize = 64
	saltFieldSize     = 44
)

// Greeting is the parsed form of the 128-byte preamble: a version
// banner and a challenge salt (still Base64-encoded, as received — the
// authenticator decodes it and slices the first 20 decoded bytes
// explicitly rather than assuming an exact length).
type Greeting struct {
	Version string
	SaltB64 []byte
}

// ReadGreeting reads and parses the fixed 128-byte preamble from r.
func ReadGreeting(r io.Reader) (*Greeting, error) {
	buf := make([]byte, GreetingSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read greeting: %w", err)
	}

	version := bytes.TrimRight(buf[:versionBannerSize], "\x00 ")
	salt := bytes.TrimRight(buf[versionBannerSize:versionBannerSize+saltFieldSize], "\x00 ")

	return &Greeting{
		Version: string(version),
		SaltB64: salt,
	}, nil
}
