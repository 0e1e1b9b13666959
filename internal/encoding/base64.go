package encoding

import "encoding/base64"

// DNS-safe base64 variants: '/' is replaced by '-', and base64u swaps '+'
// for '_' for resolvers that mangle '+'.
const (
	b64Alphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+-"
	b64uAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
)

var (
	b64  = base64.NewEncoding(b64Alphabet).WithPadding(base64.NoPadding)
	b64u = base64.NewEncoding(b64uAlphabet).WithPadding(base64.NoPadding)
)

type base64Encoder struct {
	name string
	enc  *base64.Encoding
}

var (
	base64Enc  Encoder = base64Encoder{name: "base64", enc: b64}
	base64uEnc Encoder = base64Encoder{name: "base64u", enc: b64u}
)

func (e base64Encoder) Name() string { return e.name }

func (e base64Encoder) Encode(dst, src []byte) int {
	e.enc.Encode(dst, src)
	return e.enc.EncodedLen(len(src))
}

func (e base64Encoder) Decode(dst, src []byte) (int, error) {
	n, err := e.enc.Decode(dst, src)
	if err != nil {
		return 0, ErrInvalidChar
	}
	return n, nil
}

func (e base64Encoder) RawLength(encLen int) int     { return encLen * 6 / 8 }
func (e base64Encoder) EncodedLength(rawLen int) int { return (rawLen*8 + 5) / 6 }
