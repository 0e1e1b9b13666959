package encoding

import (
	"bytes"
	"encoding/base32"
)

// b32Alphabet is the DNS-safe base32 alphabet. Decoding is case-insensitive
// because resolvers may randomize hostname case in transit.
const b32Alphabet = "abcdefghijklmnopqrstuvwxyz012345"

var b32 = base32.NewEncoding(b32Alphabet).WithPadding(base32.NoPadding)

type base32Encoder struct{}

var base32Enc Encoder = base32Encoder{}

func (base32Encoder) Name() string { return "base32" }

func (base32Encoder) Encode(dst, src []byte) int {
	b32.Encode(dst, src)
	return b32.EncodedLen(len(src))
}

func (base32Encoder) Decode(dst, src []byte) (int, error) {
	n, err := b32.Decode(dst, bytes.ToLower(src))
	if err != nil {
		return 0, ErrInvalidChar
	}
	return n, nil
}

func (base32Encoder) RawLength(encLen int) int     { return encLen * 5 / 8 }
func (base32Encoder) EncodedLength(rawLen int) int { return (rawLen*8 + 4) / 5 }

// B32FiveToEight expands a 5-bit value into its alphabet byte. The
// downstream flags byte travels in the clear through this mapping.
func B32FiveToEight(v byte) byte {
	return b32Alphabet[v&0x1f]
}

// B32EightToFive inverts B32FiveToEight, accepting either case. Bytes
// outside the alphabet map to 0xff.
func B32EightToFive(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		c += 'a' - 'A'
	}
	switch {
	case c >= 'a' && c <= 'z':
		return c - 'a'
	case c >= '0' && c <= '5':
		return c - '0' + 26
	default:
		return 0xff
	}
}
