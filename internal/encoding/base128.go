package encoding

// b128Alphabet packs 7 bits per output byte: letters and digits first, then
// high bytes that survive DNS transport verbatim.
var b128Alphabet = []byte("abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789\274\275\276\277" +
	"\300\301\302\303\304\305\306\307\310\311\312\313\314\315\316\317" +
	"\320\321\322\323\324\325\326\327\330\331\332\333\334\335\336\337" +
	"\340\341\342\343\344\345\346\347\350\351\352\353\354\355\356\357" +
	"\360\361\362\363\364\365\366\367\370\371\372\373\374\375")

var b128Rev [256]byte

func init() {
	for i := range b128Rev {
		b128Rev[i] = 0xff
	}
	// Both letter cases are distinct alphabet entries, so decoding is
	// exact-case: this codec is only negotiated on case-preserving paths.
	for i, c := range b128Alphabet {
		b128Rev[c] = byte(i)
	}
}

type base128Encoder struct{}

var base128Enc Encoder = base128Encoder{}

func (base128Encoder) Name() string { return "base128" }

func (base128Encoder) Encode(dst, src []byte) int {
	var acc uint
	var bits uint
	n := 0
	for _, b := range src {
		acc = acc<<8 | uint(b)
		bits += 8
		for bits >= 7 {
			bits -= 7
			dst[n] = b128Alphabet[(acc>>bits)&0x7f]
			n++
		}
	}
	if bits > 0 {
		dst[n] = b128Alphabet[(acc<<(7-bits))&0x7f]
		n++
	}
	return n
}

func (base128Encoder) Decode(dst, src []byte) (int, error) {
	var acc uint
	var bits uint
	n := 0
	for _, c := range src {
		v := b128Rev[c]
		if v == 0xff {
			return 0, ErrInvalidChar
		}
		acc = acc<<7 | uint(v)
		bits += 7
		if bits >= 8 {
			bits -= 8
			dst[n] = byte(acc >> bits)
			n++
		}
	}
	return n, nil
}

func (base128Encoder) RawLength(encLen int) int     { return encLen * 7 / 8 }
func (base128Encoder) EncodedLength(rawLen int) int { return (rawLen*8 + 6) / 7 }
