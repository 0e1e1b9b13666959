package server

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ejtagle/iodine/internal/crypto"
	"github.com/ejtagle/iodine/internal/encoding"
	"github.com/ejtagle/iodine/internal/window"
)

// Window geometry for a server-side session. The upstream direction is
// bounded by what a query hostname can carry; the downstream direction by
// what an answer can.
const (
	WindowSize  = 16
	DownFraglen = 1024
)

// Session holds one tunnel peer's state: the derived HMAC key, the CMC
// counter, and a window pair (upstream receive, downstream send).
//
// The windows themselves are single-threaded; the mutex serializes the DNS
// handler goroutines that drive them.
type Session struct {
	mu sync.Mutex

	ID    string
	Key   []byte
	CMC   *crypto.CMC
	Codec encoding.Codec // downstream codec; NewSession sets base32

	In  *window.Buffer // fragments arriving from the client
	Out *window.Buffer // fragments headed to the client

	CreatedAt time.Time
}

// NewSession creates a session with freshly cleared windows.
func NewSession(id string, key []byte, upFraglen int) (*Session, error) {
	cmc, err := crypto.NewCMC()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		Key:       key,
		CMC:       cmc,
		Codec:     encoding.CodecBase32,
		In:        window.NewBuffer(WindowSize*2, WindowSize, upFraglen, window.Recving),
		Out:       window.NewBuffer(WindowSize*2, WindowSize, DownFraglen, window.Sending),
		CreatedAt: time.Now(),
	}, nil
}

// Queue schedules data for downstream delivery. Returns false when the
// send window cannot admit the message right now.
func (s *Session) Queue(data []byte, compressed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.Out.AddOutgoingData(data, compressed)
	return err == nil
}

// SessionStore maps session ids to sessions with TTL eviction; any query
// for a session refreshes its lifetime.
type SessionStore struct {
	c *cache.Cache
}

// NewSessionStore creates a store evicting sessions idle longer than ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{c: cache.New(ttl, ttl)}
}

// Get returns a session by id, refreshing its TTL, or nil.
func (ss *SessionStore) Get(id string) *Session {
	v, ok := ss.c.Get(id)
	if !ok {
		return nil
	}
	s := v.(*Session)
	ss.c.SetDefault(id, s)
	return s
}

// Create adds a session, replacing any existing one with the same id
// (a client may retry its login).
func (ss *SessionStore) Create(s *Session) {
	ss.c.SetDefault(s.ID, s)
}

// Delete removes a session by id.
func (ss *SessionStore) Delete(id string) {
	ss.c.Delete(id)
}
