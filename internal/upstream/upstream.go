// Package upstream builds and parses the query-side carrier format: tunnel
// data travels in the hostname of a DNS query as
//
//	<t><sid>.<base32 data labels>.<topdomain>
//
// where t is the query type, sid four hex chars, and the data labels carry
// a 3-byte fragment header followed by payload. Upstream always uses
// base32; a downstream envelope names its own codec in its flags byte.
package upstream

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/ejtagle/iodine/internal/crypto"
	"github.com/ejtagle/iodine/internal/encoding"
	"github.com/ejtagle/iodine/internal/window"
)

// Query type characters, the first byte of each query name.
const (
	TypeLogin = 'l'
	TypeData  = 'd'
	TypePing  = 'p'
)

// SessionIDLen is the length of the hex session id in the first label.
const SessionIDLen = 4

// Fragment header layout: seqID, flag bits, piggybacked ACK.
const (
	hdrLen = 3

	flagStart      = 0x01
	flagEnd        = 0x02
	flagCompressed = 0x04

	ackNone = 0xff
)

// LoginQuery opens a session. The salt feeds both ends' key derivation;
// the proof is an HMAC over the salt with the derived key, letting the
// server verify the client's password before creating state.
type LoginQuery struct {
	SessionID string
	Salt      []byte
	Proof     []byte
}

// DataQuery carries one upstream fragment.
type DataQuery struct {
	SessionID  string
	SeqID      window.SeqID
	Start      bool
	End        bool
	Compressed bool
	AckOther   int // downstream seqID being ACKed, or -1
	Data       []byte
}

// Fragment converts the query into a window fragment for ProcessIncoming.
func (q *DataQuery) Fragment() *window.Fragment {
	return &window.Fragment{
		Data:       q.Data,
		SeqID:      q.SeqID,
		AckOther:   q.AckOther,
		Compressed: q.Compressed,
		Start:      q.Start,
		End:        q.End,
	}
}

// PingQuery polls for downstream data and piggybacks an ACK.
type PingQuery struct {
	SessionID string
	AckOther  int
}

var b32 = encoding.ByCodec(encoding.CodecBase32)

// FragmentBudget returns the maximum payload bytes a data query can carry
// under the given topdomain.
func FragmentBudget(topdomain string) int {
	// The type+sid label and its dot come off the hostname budget first.
	raw := encoding.RawLengthFromDNS(encoding.MaxHostLen-(1+SessionIDLen+1), b32, topdomain)
	if raw <= hdrLen {
		return 0
	}
	return raw - hdrLen
}

func encodeLabels(raw []byte) string {
	enc := make([]byte, b32.EncodedLength(len(raw)))
	n := b32.Encode(enc, raw)
	return strings.Join(encoding.SplitIntoLabels(string(enc[:n])), ".")
}

func ackByte(ack int) byte {
	if ack < 0 || ack >= window.MaxSeqID {
		return ackNone
	}
	return byte(ack)
}

// BuildLoginQuery builds the FQDN for a login.
func BuildLoginQuery(sid string, salt, proof []byte, topdomain string) string {
	raw := make([]byte, 0, len(salt)+len(proof))
	raw = append(raw, salt...)
	raw = append(raw, proof...)
	return fmt.Sprintf("%c%s.%s.%s", TypeLogin, sid, encodeLabels(raw), topdomain)
}

// BuildDataQuery builds the FQDN carrying a fragment.
func BuildDataQuery(sid string, f *window.Fragment, topdomain string) string {
	raw := make([]byte, hdrLen+len(f.Data))
	raw[0] = byte(f.SeqID)
	if f.Start {
		raw[1] |= flagStart
	}
	if f.End {
		raw[1] |= flagEnd
	}
	if f.Compressed {
		raw[1] |= flagCompressed
	}
	raw[2] = ackByte(f.AckOther)
	copy(raw[hdrLen:], f.Data)
	return fmt.Sprintf("%c%s.%s.%s", TypeData, sid, encodeLabels(raw), topdomain)
}

// BuildPingQuery builds the FQDN for a downstream poll.
func BuildPingQuery(sid string, ackOther int, topdomain string) string {
	return fmt.Sprintf("%c%s.%s.%s", TypePing, sid, encodeLabels([]byte{ackByte(ackOther)}), topdomain)
}

// ParseQuery strips the topdomain from a FQDN and parses the remaining
// labels. Returns one of *LoginQuery, *DataQuery, or *PingQuery.
func ParseQuery(fqdn, topdomain string) (interface{}, error) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	topdomain = strings.TrimSuffix(topdomain, ".")

	if len(fqdn) <= len(topdomain) || !strings.EqualFold(fqdn[len(fqdn)-len(topdomain):], topdomain) {
		return nil, errors.Errorf("query %q does not match topdomain %q", fqdn, topdomain)
	}
	prefix := strings.TrimSuffix(fqdn[:len(fqdn)-len(topdomain)], ".")
	parts := strings.Split(prefix, ".")
	if len(parts) < 2 {
		return nil, errors.Errorf("too few labels in query: %d", len(parts))
	}

	head := parts[0]
	if len(head) != 1+SessionIDLen {
		return nil, errors.Errorf("bad head label %q", head)
	}
	sid := strings.ToLower(head[1:])

	joined := encoding.JoinLabels(parts[1:])
	raw := make([]byte, b32.RawLength(len(joined)))
	n, err := b32.Decode(raw, []byte(joined))
	if err != nil {
		return nil, errors.Wrap(err, "decoding query data")
	}
	raw = raw[:n]

	switch head[0] | 0x20 { // DNS may uppercase the type char
	case TypeLogin:
		return parseLogin(sid, raw)
	case TypeData:
		return parseData(sid, raw)
	case TypePing:
		return parsePing(sid, raw)
	default:
		return nil, errors.Errorf("unknown query type %q", head[0])
	}
}

func parseLogin(sid string, raw []byte) (*LoginQuery, error) {
	if len(raw) != crypto.SaltLen+crypto.ProofLen {
		return nil, errors.Errorf("login query carries %d bytes, want %d",
			len(raw), crypto.SaltLen+crypto.ProofLen)
	}
	return &LoginQuery{
		SessionID: sid,
		Salt:      raw[:crypto.SaltLen],
		Proof:     raw[crypto.SaltLen:],
	}, nil
}

func parseData(sid string, raw []byte) (*DataQuery, error) {
	if len(raw) < hdrLen {
		return nil, errors.Errorf("data query header truncated: %d bytes", len(raw))
	}
	q := &DataQuery{
		SessionID:  sid,
		SeqID:      window.SeqID(raw[0]),
		Start:      raw[1]&flagStart != 0,
		End:        raw[1]&flagEnd != 0,
		Compressed: raw[1]&flagCompressed != 0,
		AckOther:   -1,
		Data:       raw[hdrLen:],
	}
	if raw[2] != ackNone {
		q.AckOther = int(raw[2])
	}
	return q, nil
}

func parsePing(sid string, raw []byte) (*PingQuery, error) {
	if len(raw) < 1 {
		return nil, errors.New("ping query truncated")
	}
	q := &PingQuery{SessionID: sid, AckOther: -1}
	if raw[0] != ackNone {
		q.AckOther = int(raw[0])
	}
	return q, nil
}
