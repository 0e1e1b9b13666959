package server

import (
	"crypto/hmac"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"

	"github.com/ejtagle/iodine/internal/crypto"
	"github.com/ejtagle/iodine/internal/downstream"
	"github.com/ejtagle/iodine/internal/upstream"
	"github.com/ejtagle/iodine/internal/window"
)

// Handler implements dns.Handler and routes tunnel queries: logins open
// sessions, data queries feed the upstream window, and every answer is a
// downstream envelope that can piggyback an ACK and one fragment.
type Handler struct {
	Topdomain string
	Password  string
	Store     *SessionStore

	// Deliver receives each fully reassembled upstream message.
	Deliver func(sid string, data []byte, compressed bool)

	// Now is a clock hook for tests; nil means time.Now.
	Now func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ServeDNS handles an incoming DNS query.
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	if len(r.Question) == 0 {
		w.WriteMsg(m)
		return
	}
	q := r.Question[0]
	if q.Qtype != dns.TypeTXT {
		w.WriteMsg(m)
		return
	}

	msg, err := upstream.ParseQuery(q.Name, h.Topdomain)
	if err != nil {
		log.WithError(err).WithField("query", q.Name).Debug("unparseable query")
		h.respond(m, w, q.Name, h.errorEnvelope(downstream.BadLen, nil))
		return
	}

	var envelope []byte
	switch v := msg.(type) {
	case *upstream.LoginQuery:
		envelope = h.handleLogin(v)
	case *upstream.DataQuery:
		envelope = h.handleData(v)
	case *upstream.PingQuery:
		envelope = h.handlePing(v)
	default:
		envelope = h.errorEnvelope(downstream.BadOpts, nil)
	}
	h.respond(m, w, q.Name, envelope)
}

func (h *Handler) handleLogin(q *upstream.LoginQuery) []byte {
	key := crypto.DeriveKey(h.Password, q.Salt)
	if !hmac.Equal(q.Proof, crypto.LoginProof(key, q.Salt)) {
		log.WithField("sid", q.SessionID).Warn("login with bad proof")
		return h.errorEnvelope(downstream.BadLogin, nil)
	}

	session, err := NewSession(q.SessionID, key, upstream.FragmentBudget(h.Topdomain))
	if err != nil {
		log.WithError(err).Error("creating session")
		return h.errorEnvelope(downstream.BadOpts, nil)
	}
	h.Store.Create(session)
	log.WithField("sid", q.SessionID).Info("session established")

	env, err := downstream.Encode(downstream.BuildPayload(-1, nil),
		byte(session.Codec), session.CMC.Next(), session.Key)
	if err != nil {
		log.WithError(err).Error("encoding login answer")
		return h.errorEnvelope(downstream.BadOpts, session.Key)
	}
	return env
}

func (h *Handler) handleData(q *upstream.DataQuery) []byte {
	s := h.Store.Get(q.SessionID)
	if s == nil {
		log.WithField("sid", q.SessionID).Debug("data for unknown session")
		return h.errorEnvelope(downstream.BadAuth, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dupsBefore := s.In.Resends()
	accepted := s.In.ProcessIncoming(q.Fragment())
	ack := -1
	if accepted > 0 || s.In.Resends() > dupsBefore || s.In.Behind(q.SeqID) {
		// New, duplicate, or already delivered: in every case the
		// fragment is accounted for and the client may stop resending.
		ack = int(q.SeqID)
	}

	h.drainUpstream(s)
	return h.answerEnvelope(s, q.AckOther, ack)
}

func (h *Handler) handlePing(q *upstream.PingQuery) []byte {
	s := h.Store.Get(q.SessionID)
	if s == nil {
		return h.errorEnvelope(downstream.BadAuth, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.answerEnvelope(s, q.AckOther, -1)
}

// drainUpstream hands every completed upstream message to the Deliver hook.
// It is called with s.mu held and releases the lock around each Deliver
// call, so the hook may call back into the session (e.g. Session.Queue).
func (h *Handler) drainUpstream(s *Session) {
	buf := make([]byte, window.MaxFragsizeUp*WindowSize)
	for {
		n, compressed := s.In.Reassemble(buf)
		if n == 0 {
			return
		}
		log.WithFields(log.Fields{"sid": s.ID, "bytes": n}).Debug("upstream message")
		if h.Deliver != nil {
			data := append([]byte(nil), buf[:n]...)
			s.mu.Unlock()
			h.Deliver(s.ID, data, compressed)
			s.mu.Lock()
		}
	}
}

// answerEnvelope applies a piggybacked downstream ACK, picks the next
// downstream fragment if one is due, and wraps both in an envelope.
func (h *Handler) answerEnvelope(s *Session, ackOther, upAck int) []byte {
	if ackOther >= 0 {
		s.Out.ACK(window.SeqID(ackOther))
		s.Out.Tick()
	}
	f := s.Out.NextSendingFragment(h.now(), upAck)
	env, err := downstream.Encode(downstream.BuildPayload(upAck, f),
		byte(s.Codec), s.CMC.Next(), s.Key)
	if err != nil {
		log.WithError(err).Error("encoding answer")
		return h.errorEnvelope(downstream.BadOpts, s.Key)
	}
	return env
}

// errorEnvelope builds an in-band error answer. With a nil key the HMAC
// field is random (the peer has no key to check pre-login answers with).
func (h *Handler) errorEnvelope(code uint8, key []byte) []byte {
	env, err := downstream.Encode(nil, downstream.FlagError|code, 0, key)
	if err != nil {
		log.WithError(err).Error("encoding error answer")
		return nil
	}
	return env
}

// respond writes the envelope as TXT strings (255-byte chunks).
func (h *Handler) respond(m *dns.Msg, w dns.ResponseWriter, name string, envelope []byte) {
	if envelope != nil {
		m.Answer = append(m.Answer, &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   name,
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    0,
			},
			Txt: chunkStrings(envelope, 255),
		})
	}
	if err := w.WriteMsg(m); err != nil {
		log.WithError(err).Error("writing answer")
	}
}

func chunkStrings(b []byte, size int) []string {
	var out []string
	for len(b) > 0 {
		end := size
		if end > len(b) {
			end = len(b)
		}
		out = append(out, string(b[:end]))
		b = b[end:]
	}
	if out == nil {
		out = []string{""}
	}
	return out
}
