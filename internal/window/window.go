package window

import (
	"time"

	"github.com/pkg/errors"
)

// Direction selects which half of the protocol a Buffer serves.
type Direction int

const (
	Recving Direction = iota
	Sending
)

// Defaults applied by NewBuffer; callers tune per session.
const (
	DefaultTimeout    = 1 * time.Second
	DefaultMaxRetries = 10
)

var (
	// ErrWindowFull is returned by AddOutgoingData when the message does
	// not fit in the free slots; the window is left untouched.
	ErrWindowFull = errors.New("window: not enough free fragment slots")
)

// Buffer is a ring of fragment slots shared by both directions. Senders
// append outgoing data, hand fragments to the carrier, and slide past
// ACKed prefixes; receivers insert arriving fragments and reassemble
// contiguous runs into messages.
//
// Buffers are single-threaded: the carrier loop owns all calls.
type Buffer struct {
	frags []Fragment
	data  []byte // slot i's payload occupies [i*maxfraglen, (i+1)*maxfraglen)

	length     int
	windowsize int
	maxfraglen int
	direction  Direction

	Timeout    time.Duration // resend deadline per fragment
	MaxRetries int           // transmission attempts beyond the first

	windowStart int
	chunkStart  int // oldest populated slot; holds startSeqID
	lastWrite   int
	curSeqID    SeqID // next seqID to assign (send) / next expected (recv)
	startSeqID  SeqID // seqID stored at chunkStart

	numitems int
	resends  int
	oos      int
}

// NewBuffer creates a window of length slots, of which at most windowsize
// are in flight, each carrying up to maxfraglen payload bytes. maxfraglen
// is clamped to the protocol limit for the direction.
func NewBuffer(length, windowsize, maxfraglen int, dir Direction) *Buffer {
	if length < windowsize {
		length = windowsize
	}
	w := &Buffer{
		windowsize: windowsize,
		direction:  dir,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
	w.alloc(length, maxfraglen)
	w.Clear()
	return w
}

func (w *Buffer) alloc(length, maxfraglen int) {
	limit := MaxFragsizeDown
	if w.direction == Sending {
		limit = MaxFragsizeUp
	}
	if maxfraglen > limit {
		maxfraglen = limit
	}
	w.length = length
	w.maxfraglen = maxfraglen
	w.frags = make([]Fragment, length)
	w.data = make([]byte, length*maxfraglen)
}

// Resize reallocates the backing storage and clears the window. Any stored
// fragments are lost.
func (w *Buffer) Resize(length, maxfraglen int) {
	if length < w.windowsize {
		length = w.windowsize
	}
	w.alloc(length, maxfraglen)
	w.Clear()
}

// Clear frees every slot and resets indices and counters. Geometry,
// direction, timeout and retry limit are preserved.
func (w *Buffer) Clear() {
	for i := range w.frags {
		w.frags[i] = Fragment{AckOther: -1}
	}
	w.windowStart = 0
	w.chunkStart = 0
	w.lastWrite = w.length - 1
	w.curSeqID = 0
	w.startSeqID = 0
	w.numitems = 0
	w.resends = 0
	w.oos = 0
}

// Available returns the number of free fragment slots (not bytes).
func (w *Buffer) Available() int { return w.length - w.numitems }

// NumItems returns the number of populated slots.
func (w *Buffer) NumItems() int { return w.numitems }

// Resends counts retransmissions sent (send side) or duplicates received
// (recv side).
func (w *Buffer) Resends() int { return w.resends }

// OOS counts out-of-sequence fragments dropped.
func (w *Buffer) OOS() int { return w.oos }

// MaxFraglen returns the per-fragment payload capacity.
func (w *Buffer) MaxFraglen() int { return w.maxfraglen }

// Windowsize returns the in-flight fragment limit.
func (w *Buffer) Windowsize() int { return w.windowsize }

// CurSeqID returns the next seqID to assign (send) or the next expected
// seqID (recv).
func (w *Buffer) CurSeqID() SeqID { return w.curSeqID }

// free empties the slot at idx.
func (w *Buffer) free(idx int) {
	if !w.frags[idx].empty() {
		w.numitems--
	}
	w.frags[idx] = Fragment{AckOther: -1}
}

// slotAt returns the slot n positions past chunkStart.
func (w *Buffer) slotAt(n int) *Fragment {
	return &w.frags[wrap(w.chunkStart+n, w.length)]
}

// Slide advances the window by n slots and the start seqID by n. With del
// set, every slot passed over is freed; otherwise contents are untouched.
func (w *Buffer) Slide(n int, del bool) {
	if del {
		for i := 0; i < n; i++ {
			w.free(wrap(w.windowStart+i, w.length))
		}
	}
	w.windowStart = wrap(w.windowStart+n, w.length)
	w.chunkStart = wrap(w.chunkStart+n, w.length)
	w.startSeqID = w.startSeqID.Add(n)
	if w.direction == Recving && SeqOffset(w.startSeqID, w.curSeqID) >= MaxSeqAhead {
		// Sliding past undelivered seqIDs (orphan discard) leaves the
		// next-expected pointer behind the window; snap it forward.
		w.curSeqID = w.startSeqID
	}
}

// Tick runs post-processing after any state-changing call. On the sending
// side it slides past the contiguous prefix of fully-ACKed slots, freeing
// them. Receiving-side sliding is driven by Reassemble.
func (w *Buffer) Tick() {
	if w.direction != Sending {
		return
	}
	n := 0
	for n < w.length {
		f := &w.frags[wrap(w.windowStart+n, w.length)]
		if f.empty() || f.ACKs == 0 {
			break
		}
		n++
	}
	if n > 0 {
		w.Slide(n, true)
	}
}

// AddOutgoingData splits data into fragments and appends them after the
// last write position, assigning consecutive seqIDs and start/end markers.
// Admission is atomic: if the message does not fit, nothing is queued and
// ErrWindowFull is returned. Returns the number of fragments queued.
func (w *Buffer) AddOutgoingData(data []byte, compressed bool) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	n := (len(data) + w.maxfraglen - 1) / w.maxfraglen
	if n > w.Available() {
		return 0, ErrWindowFull
	}
	for i := 1; i <= n; i++ {
		if !w.frags[wrap(w.lastWrite+i, w.length)].empty() {
			return 0, ErrWindowFull
		}
	}

	offset := 0
	for i := 0; i < n; i++ {
		idx := wrap(w.lastWrite+1, w.length)
		fraglen := w.maxfraglen
		if rem := len(data) - offset; rem < fraglen {
			fraglen = rem
		}
		back := w.data[idx*w.maxfraglen : idx*w.maxfraglen+fraglen]
		copy(back, data[offset:offset+fraglen])
		w.frags[idx] = Fragment{
			Data:       back,
			SeqID:      w.curSeqID,
			AckOther:   -1,
			Compressed: compressed,
			Start:      i == 0,
			End:        i == n-1,
		}
		w.curSeqID++
		w.lastWrite = idx
		w.numitems++
		offset += fraglen
	}
	return n, nil
}

// sendable reports whether a populated, unACKed slot is due for (re)send.
func (w *Buffer) sendable(f *Fragment, now time.Time) bool {
	if f.empty() || f.ACKs != 0 {
		return false
	}
	return f.Retries == 0 || now.Sub(f.LastSent) >= w.Timeout
}

// Sending counts fragments eligible to send at the given time: never sent,
// or past the resend deadline.
func (w *Buffer) Sending(now time.Time) int {
	count := 0
	for i := 0; i < w.windowsize; i++ {
		if w.sendable(&w.frags[wrap(w.windowStart+i, w.length)], now) {
			count++
		}
	}
	return count
}

// NextSendingFragment returns the first due fragment in window order,
// stamping its send time, retry count, and the piggybacked reverse ACK
// (otherAck, -1 for none). A fragment already transmitted MaxRetries+1
// times is dropped instead and the scan continues. Returns nil when
// nothing is due.
func (w *Buffer) NextSendingFragment(now time.Time, otherAck int) *Fragment {
	for i := 0; i < w.windowsize; i++ {
		idx := wrap(w.windowStart+i, w.length)
		f := &w.frags[idx]
		if !w.sendable(f, now) {
			continue
		}
		if f.Retries > w.MaxRetries {
			w.free(idx)
			continue
		}
		if f.Retries > 0 {
			w.resends++
		}
		f.LastSent = now
		f.Retries++
		f.AckOther = otherAck
		return f
	}
	return nil
}

// Behind reports whether seqID lies strictly behind the window start:
// whatever carried it has already been slid past, so a receiver can safely
// re-acknowledge it without touching the window.
func (w *Buffer) Behind(s SeqID) bool {
	return SeqOffset(w.startSeqID, s) >= MaxSeqAhead
}

// ACK records a peer acknowledgment for seqID. ACKs outside the active
// window, or for empty slots, are late or duplicate and are ignored.
func (w *Buffer) ACK(seqID SeqID) {
	offset := SeqOffset(w.startSeqID, seqID)
	if offset >= w.windowsize {
		return
	}
	f := w.slotAt(offset)
	if f.empty() || f.SeqID != seqID {
		return
	}
	f.ACKs++
}

// ProcessIncoming inserts a fragment arriving from the peer at the slot its
// seqID maps to. Duplicates bump the slot's dup count and the resend
// counter; stale or colliding fragments are dropped and counted. Returns
// the number of payload bytes accepted (0 for any drop).
func (w *Buffer) ProcessIncoming(f *Fragment) int {
	if f.empty() || len(f.Data) > w.maxfraglen {
		return 0
	}
	offset := SeqOffset(w.startSeqID, f.SeqID)
	idx := wrap(w.chunkStart+offset, w.length)
	slot := &w.frags[idx]

	if offset >= MaxSeqAhead {
		// Strictly behind the window: a late duplicate of something
		// already delivered, or garbage.
		if !slot.empty() && slot.SeqID == f.SeqID {
			slot.Retries++
			w.resends++
		} else {
			w.oos++
		}
		return 0
	}
	if offset >= w.windowsize {
		// Ahead of what the peer's window permits; reject rather than
		// overrun slots still awaiting reassembly.
		w.oos++
		return 0
	}

	if slot.empty() {
		back := w.data[idx*w.maxfraglen : idx*w.maxfraglen+len(f.Data)]
		copy(back, f.Data)
		*slot = Fragment{
			Data:       back,
			SeqID:      f.SeqID,
			AckOther:   -1,
			Compressed: f.Compressed,
			Start:      f.Start,
			End:        f.End,
		}
		w.numitems++
		w.advanceExpected()
		return len(f.Data)
	}
	if slot.SeqID == f.SeqID {
		slot.Retries++
		w.resends++
		return 0
	}
	// A different seqID mapping to an occupied slot is a protocol
	// violation by the peer.
	w.oos++
	return 0
}

// advanceExpected moves curSeqID past the contiguous populated prefix.
func (w *Buffer) advanceExpected() {
	for {
		o := SeqOffset(w.startSeqID, w.curSeqID)
		if o >= w.windowsize || w.slotAt(o).empty() {
			return
		}
		w.curSeqID++
	}
}

// Reassemble scans from the oldest slot for a contiguous start..end run and
// copies the joined payload into out, returning the byte count and the
// message's compression flag. Consumed slots are freed and the window
// slides past them. Returns 0 when no complete message is available.
//
// Leading fragments that precede a start marker can never head a message;
// once a start fragment is found behind them they are discarded.
func (w *Buffer) Reassemble(out []byte) (int, bool) {
	start := 0
	for {
		if start >= w.windowsize {
			return 0, false
		}
		f := w.slotAt(start)
		if f.empty() {
			return 0, false
		}
		if f.Start {
			break
		}
		start++
	}
	if start > 0 {
		// Orphans: free and slide past them.
		for i := 0; i < start; i++ {
			w.free(wrap(w.chunkStart+i, w.length))
		}
		w.Slide(start, false)
	}

	count := 0
	compressed := w.slotAt(0).Compressed
	for {
		if count >= w.windowsize {
			return 0, false
		}
		f := w.slotAt(count)
		if f.empty() {
			return 0, false
		}
		count++
		if f.End {
			break
		}
	}

	n := 0
	for i := 0; i < count; i++ {
		idx := wrap(w.chunkStart+i, w.length)
		n += copy(out[n:], w.frags[idx].Data)
		w.free(idx)
	}
	w.Slide(count, false)
	return n, compressed
}
