// Package auth implements the handshake authenticators: given the
// server's challenge salt and the caller's credentials, produce the
// scramble bytes an auth request carries.
package auth

import (
	"crypto/sha1"
	"encoding/base64"
)

// Credentials is the username/password pair an authenticator consumes.
// Both fields are required.
type Credentials struct {
	Username string
	Password string
}

// Authenticator is polymorphic over {mechanism name, credential
// shape}: a client selects the authenticator whose Mechanism matches
// configuration and whose CanAuthenticateWith accepts the configured
// credentials.
type Authenticator interface {
	// Mechanism is the wire name sent/expected during the handshake
	// (e.g. "chap-sha1").
	Mechanism() string
	// CanAuthenticateWith reports whether this authenticator can produce
	// a scramble for the given credentials.
	CanAuthenticateWith(creds Credentials) bool
	// Scramble computes the proof-of-password bytes from the server's
	// raw (undecoded) salt and the credentials.
	Scramble(salt []byte, creds Credentials) ([]byte, error)
}

// ChapSha1 implements the chap-sha1 mechanism:
//
//	step1 = SHA1(password)
//	step2 = SHA1(step1)
//	salt20 = first 20 bytes of Base64Decode(salt)
//	step3 = SHA1(salt20 ++ step2)
//	scramble[i] = step1[i] XOR step3[i]
type ChapSha1 struct{}

func (ChapSha1) Mechanism() string { return "chap-sha1" }

func (ChapSha1) CanAuthenticateWith(creds Credentials) bool {
	return creds.Username != "" && creds.Password != ""
}

// Scramble expects salt to be the Base64-encoded salt string exactly
// as received in the greeting; it decodes it itself and slices the
// first 20 bytes rather than assuming the decoded length.
func (ChapSha1) Scramble(saltB64 []byte, creds Credentials) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(saltB64))
	if err != nil {
		return nil, err
	}
	salt20 := firstN(decoded, 20)

	step1 := sha1Sum([]byte(creds.Password))
	step2 := sha1Sum(step1[:])

	h := sha1.New()
	h.Write(salt20)
	h.Write(step2[:])
	var step3 [sha1.Size]byte
	copy(step3[:], h.Sum(nil))

	scramble := make([]byte, sha1.Size)
	for i := range scramble {
		scramble[i] = step1[i] ^ step3[i]
	}
	return scramble, nil
}

func sha1Sum(b []byte) [sha1.Size]byte {
	return sha1.Sum(b)
}

func firstN(b []byte, n int) []byte {
	if len(b) < n {
		n = len(b)
	}
	return b[:n]
}

// Select picks the authenticator matching mechanism whose
// CanAuthenticateWith accepts creds, or reports NoSuitableAuthenticator
// via ok=false.
func Select(authenticators []Authenticator, mechanism string, creds Credentials) (Authenticator, bool) {
	for _, a := range authenticators {
		if a.Mechanism() == mechanism && a.CanAuthenticateWith(creds) {
			return a, true
		}
	}
	return nil, false
}

// Default returns the authenticator set every client ships with.
func Default() []Authenticator {
	return []Authenticator{ChapSha1{}}
}
