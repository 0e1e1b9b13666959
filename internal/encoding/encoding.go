// Package encoding provides the byte-alphabet codecs used on the DNS
// carrier: base32, base64, base64u, base128 and raw (identity). Each codec
// turns arbitrary bytes into a DNS-safe alphabet and back, and can report
// its raw/encoded length ratio so callers can size hostname budgets.
package encoding

import (
	"strings"

	"github.com/pkg/errors"
)

// Codec tags a byte-alphabet encoder on the wire. The tag travels in the
// low 3 bits of the downstream flags byte.
type Codec uint8

const (
	CodecUnset Codec = iota
	CodecBase32
	CodecBase64
	CodecBase64U
	CodecBase128
	CodecRaw
)

// Encoder is the byte-alphabet capability. Encode and Decode write into dst
// and return the number of bytes written; dst must be sized with
// EncodedLength / RawLength.
type Encoder interface {
	Name() string
	Encode(dst, src []byte) int
	Decode(dst, src []byte) (int, error)
	// RawLength returns the maximum raw byte count decodable from encLen
	// encoded bytes.
	RawLength(encLen int) int
	// EncodedLength returns the encoded byte count produced from rawLen
	// raw bytes.
	EncodedLength(rawLen int) int
}

var (
	// ErrInvalidChar is returned by Decode when the input contains a byte
	// outside the codec's alphabet.
	ErrInvalidChar = errors.New("encoding: byte outside codec alphabet")
)

// ByCodec returns the encoder for a codec tag, masking to the low 3 bits
// the wire carries. Unknown tags return nil.
func ByCodec(c Codec) Encoder {
	switch c & 0x7 {
	case CodecBase32:
		return base32Enc
	case CodecBase64:
		return base64Enc
	case CodecBase64U:
		return base64uEnc
	case CodecBase128:
		return base128Enc
	case CodecRaw:
		return rawEnc
	default:
		return nil
	}
}

// FromName maps a user-facing codec name to its tag. Unknown names return
// CodecUnset.
func FromName(name string) Codec {
	switch strings.ToLower(name) {
	case "base32":
		return CodecBase32
	case "base64":
		return CodecBase64
	case "base64u":
		return CodecBase64U
	case "base128":
		return CodecBase128
	case "raw":
		return CodecRaw
	default:
		return CodecUnset
	}
}
