package window

import "time"

// Fragment is one protocol fragment plus its window metadata. A slot with
// empty Data is free. On the sending side Retries counts transmission
// attempts; on the receiving side it counts duplicate arrivals.
type Fragment struct {
	Data     []byte // payload; a view into the buffer's backing array for stored slots
	SeqID    SeqID
	LastSent time.Time
	Retries  int
	ACKs     int
	AckOther int // piggybacked reverse-direction ACK seqID, or -1

	Compressed bool
	Start      bool // first fragment of a message
	End        bool // last fragment of a message
}

// empty reports whether the slot is free.
func (f *Fragment) empty() bool {
	return len(f.Data) == 0
}
