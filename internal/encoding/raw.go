package encoding

// rawEncoder is the identity codec, usable when the carrier permits
// arbitrary bytes (e.g. NULL record payloads).
type rawEncoder struct{}

var rawEnc Encoder = rawEncoder{}

func (rawEncoder) Name() string { return "raw" }

func (rawEncoder) Encode(dst, src []byte) int {
	return copy(dst, src)
}

func (rawEncoder) Decode(dst, src []byte) (int, error) {
	return copy(dst, src), nil
}

func (rawEncoder) RawLength(encLen int) int     { return encLen }
func (rawEncoder) EncodedLength(rawLen int) int { return rawLen }
