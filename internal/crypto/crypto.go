// Package crypto derives per-session secrets for the tunnel: the HMAC key
// both ends stamp into downstream envelopes, the CMC counter that binds an
// envelope to its session position, and session identifiers.
package crypto

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // HMAC-MD5 is the protocol's integrity primitive
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const (
	SaltLen    = 16
	KeyLen     = 16 // HMAC-MD5 key size
	ArgonTime  = 1
	ArgonMem   = 64 * 1024 // KiB
	ArgonLanes = 4
)

// GenerateSalt returns a cryptographically random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "generating salt")
	}
	return salt, nil
}

// DeriveKey derives the session HMAC key from a passphrase and salt using
// Argon2id. Both tunnel ends run this with the salt from the login query.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, ArgonTime, ArgonMem, ArgonLanes, KeyLen)
}

// CMC is a per-session counter mixed into every downstream envelope's HMAC
// input. It starts at a random value so envelopes from different sessions
// never share a (key, CMC) pair.
type CMC struct {
	next uint32
}

// NewCMC seeds a counter from the system RNG.
func NewCMC() (*CMC, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, errors.Wrap(err, "seeding CMC")
	}
	return &CMC{next: binary.BigEndian.Uint32(b[:])}, nil
}

// Next returns the current value and advances the counter.
func (c *CMC) Next() uint32 {
	v := c.next
	c.next++
	return v
}

// ProofLen is the truncated login-proof HMAC length.
const ProofLen = 12

// LoginProof authenticates a login salt under the derived key. The server
// recomputes it to verify the client's password before creating a session.
func LoginProof(key, salt []byte) []byte {
	mac := hmac.New(md5.New, key)
	mac.Write(salt)
	return mac.Sum(nil)[:ProofLen]
}

// NewSessionID returns a short random hex identifier for a tunnel session.
func NewSessionID() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "0000"
	}
	return fmt.Sprintf("%04x", b)
}
