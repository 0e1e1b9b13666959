package downstream

import (
	"github.com/pkg/errors"

	"github.com/ejtagle/iodine/internal/window"
)

// Inside an authenticated envelope, a downstream payload is an upstream-ACK
// byte optionally followed by one fragment:
//
//	ack(1) [ seqID(1) | flagbits(1) | fragment data... ]
//
// 0xff in the ack byte means nothing is being acknowledged.
const (
	payloadAckNone = 0xff

	fragStart      = 0x01
	fragEnd        = 0x02
	fragCompressed = 0x04
)

// ErrPayloadTruncated marks a payload too short for the header it claims.
var ErrPayloadTruncated = errors.New("downstream: payload truncated")

// BuildPayload frames an upstream ACK (-1 for none) and an optional
// fragment for transport inside an envelope.
func BuildPayload(ack int, f *window.Fragment) []byte {
	size := 1
	if f != nil {
		size += 2 + len(f.Data)
	}
	p := make([]byte, size)
	p[0] = payloadAckNone
	if ack >= 0 && ack < window.MaxSeqID {
		p[0] = byte(ack)
	}
	if f != nil {
		p[1] = byte(f.SeqID)
		if f.Start {
			p[2] |= fragStart
		}
		if f.End {
			p[2] |= fragEnd
		}
		if f.Compressed {
			p[2] |= fragCompressed
		}
		copy(p[3:], f.Data)
	}
	return p
}

// ParsePayload is the inverse of BuildPayload. The fragment is nil when
// the payload carries only an ACK.
func ParsePayload(p []byte) (ack int, f *window.Fragment, err error) {
	if len(p) < 1 {
		return -1, nil, ErrPayloadTruncated
	}
	ack = -1
	if p[0] != payloadAckNone {
		ack = int(p[0])
	}
	if len(p) == 1 {
		return ack, nil, nil
	}
	if len(p) < 3 {
		return -1, nil, ErrPayloadTruncated
	}
	f = &window.Fragment{
		Data:       p[3:],
		SeqID:      window.SeqID(p[1]),
		AckOther:   ack,
		Compressed: p[2]&fragCompressed != 0,
		Start:      p[2]&fragStart != 0,
		End:        p[2]&fragEnd != 0,
	}
	return ack, f, nil
}
