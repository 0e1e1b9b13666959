// Package downstream builds and verifies the authenticated envelope carried
// in a DNS answer: a length/flags/CMC/HMAC-MD5 header followed by payload,
// all run through a byte-alphabet codec selected by the flags byte.
package downstream

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // HMAC-MD5 is the protocol's integrity primitive
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ejtagle/iodine/internal/encoding"
)

// Flags byte layout. The byte is 5 bits wide so it survives the base32
// single-char mapping that leaves it readable in the clear: codec tag in
// bits 0-2, HMAC width in bit 3, error marker in bit 4.
const (
	CodecMask  byte = 0x07
	FlagHMAC32 byte = 0x08 // 4-byte HMAC truncation instead of 12
	FlagError  byte = 0x10 // in-band error answer; code in the codec bits
)

// HMACKeyLen is the session HMAC key size.
const HMACKeyLen = 16

// In-band error codes carried in the low 3 bits of an error answer.
const (
	BadAuth  uint8 = 1
	BadLen   uint8 = 2
	BadLogin uint8 = 3
	BadOpts  uint8 = 4
)

var (
	// ErrTooShort marks an envelope whose decoded form cannot hold the
	// header, or one too short to parse at all.
	ErrTooShort = errors.New("downstream: envelope too short")
	// ErrBadHMAC marks an authentication failure.
	ErrBadHMAC = errors.New("downstream: bad HMAC")
	// ErrUnknownCodec marks an Encode request with an unassigned codec tag.
	ErrUnknownCodec = errors.New("downstream: unknown codec tag")
)

// AnswerError is a validated in-band error answer from the peer.
type AnswerError struct {
	Code uint8
}

func (e *AnswerError) Error() string {
	var s string
	switch e.Code {
	case BadAuth:
		s = "bad authentication (session likely expired)"
	case BadLen:
		s = "bad length (query likely truncated)"
	case BadLogin:
		s = "bad login (is the password correct?)"
	case BadOpts:
		s = "bad options (server rejected negotiation)"
	default:
		s = "unknown"
	}
	return fmt.Sprintf("downstream: server answered error %d: %s", e.Code, s)
}

// headerLen is the decoded header before payload: encoded-flags byte plus
// 4 CMC bytes (the HMAC field follows, 4 or 12 bytes wide).
const headerLen = 1 + 4

func hmacWidth(flags byte) int {
	if flags&FlagHMAC32 != 0 {
		return 4
	}
	return 12
}

func hmacMD5(key, msg []byte) []byte {
	mac := hmac.New(md5.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// Encode wraps data in the downstream envelope. The first output byte is
// the base32-expanded flags byte in the clear; the rest is
// codec(cmc | hmac | data). With a nil key (pre-login answers) the
// HMAC field is filled with random bytes instead.
//
// Error answers are forced to base32 with the full 96-bit HMAC; the codec
// bits then carry the error code.
func Encode(data []byte, flags byte, cmc uint32, key []byte) ([]byte, error) {
	enc := encoding.ByCodec(encoding.Codec(flags))
	if flags&FlagError != 0 {
		flags &^= FlagHMAC32
		enc = encoding.ByCodec(encoding.CodecBase32)
	}
	if enc == nil {
		return nil, ErrUnknownCodec
	}
	hmaclen := hmacWidth(flags)

	// hmacbuf: length(4) | encoded-flags(1) | cmc(4) | hmac | data.
	length := headerLen + hmaclen + len(data)
	hmacbuf := make([]byte, length+4)
	binary.BigEndian.PutUint32(hmacbuf[0:4], uint32(length))
	encFlags := encoding.B32FiveToEight(flags)
	hmacbuf[4] = encFlags
	binary.BigEndian.PutUint32(hmacbuf[5:9], cmc)
	copy(hmacbuf[9+hmaclen:], data)

	if key != nil {
		sum := hmacMD5(key, hmacbuf)
		copy(hmacbuf[9:9+hmaclen], sum[:hmaclen])
	} else if _, err := rand.Read(hmacbuf[9 : 9+hmaclen]); err != nil {
		return nil, errors.Wrap(err, "downstream: random HMAC fill")
	}

	out := make([]byte, 1+enc.EncodedLength(length-1))
	out[0] = encFlags
	n := enc.Encode(out[1:], hmacbuf[5:5+length-1])
	return out[:1+n], nil
}

// Decode is the exact reverse of Encode: it parses the clear flags byte,
// decodes the envelope body, recomputes the HMAC over the reconstructed
// header, and returns the payload. With a nil key the HMAC field is not
// checked (pre-login answers carry random bytes there).
//
// A validated error answer returns (raw, *AnswerError). On any failure the
// raw envelope is returned alongside the error so callers can log it.
func Decode(envelope, key []byte) ([]byte, error) {
	raw := append([]byte(nil), envelope...)
	if len(envelope) < 2 {
		return raw, ErrTooShort
	}
	flags := encoding.B32EightToFive(envelope[0])
	if flags == 0xff {
		return raw, ErrTooShort
	}

	hmaclen := hmacWidth(flags)
	codecFlags := flags
	var answer uint8
	isError := flags&FlagError != 0
	if isError {
		// Errors are always 96-bit authenticated; a 32-bit claim is
		// itself treated as an authentication failure.
		if hmaclen == 4 {
			return raw, ErrBadHMAC
		}
		answer = flags & CodecMask
		codecFlags = byte(encoding.CodecBase32)
	}

	enc := encoding.ByCodec(encoding.Codec(codecFlags))
	if enc == nil {
		return raw, ErrTooShort
	}

	// Decode into scratch at offset 5, leaving room to rebuild the
	// length/flags prefix the HMAC covers.
	scratch := make([]byte, 5+enc.RawLength(len(envelope)-1))
	dlen, err := enc.Decode(scratch[5:], envelope[1:])
	if err != nil {
		dlen = 0
	}
	if dlen < 4+hmaclen {
		return raw, ErrTooShort
	}

	if key != nil {
		binary.BigEndian.PutUint32(scratch[0:4], uint32(dlen+1))
		scratch[4] = envelope[0]
		pktHMAC := append([]byte(nil), scratch[9:9+hmaclen]...)
		for i := 9; i < 9+hmaclen; i++ {
			scratch[i] = 0
		}
		sum := hmacMD5(key, scratch[:dlen+5])
		if !hmac.Equal(sum[:hmaclen], pktHMAC) {
			return raw, ErrBadHMAC
		}
	}

	if isError {
		return raw, &AnswerError{Code: answer}
	}
	payload := make([]byte, dlen-4-hmaclen)
	copy(payload, scratch[9+hmaclen:5+dlen])
	return payload, nil
}
