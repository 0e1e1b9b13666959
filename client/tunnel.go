package client

import (
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ejtagle/iodine/internal/crypto"
	"github.com/ejtagle/iodine/internal/downstream"
	"github.com/ejtagle/iodine/internal/upstream"
	"github.com/ejtagle/iodine/internal/window"
)

// Config holds the tunnel client configuration.
type Config struct {
	Resolver     string // ip:port of the recursor or the server itself
	Topdomain    string
	Password     string
	Timeout      time.Duration // per-query timeout
	MaxRetries   int           // per-query retries
	WindowSize   int
	PollInterval time.Duration // downstream poll cadence when idle
}

// Tunnel is the client end of a DNS tunnel: an upstream send window, a
// downstream receive window, and a query loop that drives both through a
// resolver.
type Tunnel struct {
	cfg Config
	sid string
	key []byte

	snd *window.Buffer
	rcv *window.Buffer

	// pendingAck is the downstream seqID to piggyback on the next query.
	pendingAck int

	// Deliver receives each fully reassembled downstream message.
	Deliver func(data []byte, compressed bool)
}

// New creates a tunnel client; call Login before sending.
func New(cfg Config) *Tunnel {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = 16
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	fraglen := upstream.FragmentBudget(cfg.Topdomain)
	t := &Tunnel{
		cfg:        cfg,
		sid:        crypto.NewSessionID(),
		snd:        window.NewBuffer(cfg.WindowSize*2, cfg.WindowSize, fraglen, window.Sending),
		rcv:        window.NewBuffer(cfg.WindowSize*2, cfg.WindowSize, window.MaxFragsizeDown, window.Recving),
		pendingAck: -1,
	}
	t.snd.Timeout = cfg.Timeout
	t.snd.MaxRetries = cfg.MaxRetries
	return t
}

// SessionID returns the 4-hex-char id this tunnel logs in under.
func (t *Tunnel) SessionID() string { return t.sid }

// Login derives the session key, proves it to the server, and checks the
// server's answer authenticates under the same key.
func (t *Tunnel) Login() error {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	key := crypto.DeriveKey(t.cfg.Password, salt)
	proof := crypto.LoginProof(key, salt)

	env, err := t.exchange(upstream.BuildLoginQuery(t.sid, salt, proof, t.cfg.Topdomain))
	if err != nil {
		return errors.Wrap(err, "login exchange")
	}
	if _, err := downstream.Decode(env, key); err != nil {
		return errors.Wrap(err, "login rejected")
	}
	t.key = key
	log.WithField("sid", t.sid).Info("logged in")
	return nil
}

// Send queues data for upstream delivery.
func (t *Tunnel) Send(data []byte, compressed bool) error {
	_, err := t.snd.AddOutgoingData(data, compressed)
	return err
}

// Step performs one carrier exchange: a data query when a fragment is due,
// otherwise a ping. Downstream ACKs and fragments in the answer are
// processed before returning. Returns the number of fragments still queued.
func (t *Tunnel) Step() (int, error) {
	now := time.Now()
	var fqdn string
	if f := t.snd.NextSendingFragment(now, t.pendingAck); f != nil {
		fqdn = upstream.BuildDataQuery(t.sid, f, t.cfg.Topdomain)
	} else {
		fqdn = upstream.BuildPingQuery(t.sid, t.pendingAck, t.cfg.Topdomain)
	}
	t.pendingAck = -1

	env, err := t.exchange(fqdn)
	if err != nil {
		return t.snd.NumItems(), err
	}
	if err := t.processAnswer(env); err != nil {
		return t.snd.NumItems(), err
	}
	return t.snd.NumItems(), nil
}

// Flush drives Step until the upstream window drains.
func (t *Tunnel) Flush() error {
	for {
		left, err := t.Step()
		if err != nil {
			return err
		}
		if left == 0 {
			return nil
		}
		if t.snd.Sending(time.Now()) == 0 {
			// Everything in flight; wait out the resend deadline.
			time.Sleep(t.cfg.PollInterval)
		}
	}
}

// Run polls the tunnel until done closes, flushing queued data and picking
// up downstream messages.
func (t *Tunnel) Run(done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, err := t.Step(); err != nil {
				log.WithError(err).Warn("tunnel step failed")
			}
		}
	}
}

// processAnswer decodes a downstream envelope and feeds its ACK and
// fragment into the windows.
func (t *Tunnel) processAnswer(env []byte) error {
	body, err := downstream.Decode(env, t.key)
	if err != nil {
		if ae, ok := err.(*downstream.AnswerError); ok {
			return ae
		}
		log.WithError(err).WithField("raw", len(body)).Debug("bad answer")
		return err
	}
	ack, frag, err := downstream.ParsePayload(body)
	if err != nil {
		return err
	}
	if ack >= 0 {
		t.snd.ACK(window.SeqID(ack))
		t.snd.Tick()
	}
	if frag != nil {
		dupsBefore := t.rcv.Resends()
		accepted := t.rcv.ProcessIncoming(frag)
		if accepted > 0 || t.rcv.Resends() > dupsBefore || t.rcv.Behind(frag.SeqID) {
			t.pendingAck = int(frag.SeqID)
		}
		t.drainDownstream()
	}
	return nil
}

func (t *Tunnel) drainDownstream() {
	buf := make([]byte, window.MaxFragsizeDown*t.cfg.WindowSize)
	for {
		n, compressed := t.rcv.Reassemble(buf)
		if n == 0 {
			return
		}
		if t.Deliver != nil {
			t.Deliver(append([]byte(nil), buf[:n]...), compressed)
		}
	}
}

// exchange sends one TXT query with exponential backoff retries and
// returns the envelope bytes from the answer.
func (t *Tunnel) exchange(fqdn string) ([]byte, error) {
	c := new(dns.Client)
	c.Net = "udp"
	c.Timeout = t.cfg.Timeout

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	m.RecursionDesired = false
	m.SetEdns0(4096, false)

	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			time.Sleep(backoff)
		}

		resp, _, err := c.Exchange(m, t.cfg.Resolver)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Answer) == 0 {
			lastErr = errors.New("no answer records")
			continue
		}
		txt, ok := resp.Answer[0].(*dns.TXT)
		if !ok {
			lastErr = errors.New("unexpected answer type")
			continue
		}
		return []byte(strings.Join(txt.Txt, "")), nil
	}
	return nil, errors.Wrapf(lastErr, "after %d retries", t.cfg.MaxRetries)
}
