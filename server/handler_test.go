package server

import (
	"bytes"
	"testing"
	"time"

	"github.com/ejtagle/iodine/internal/crypto"
	"github.com/ejtagle/iodine/internal/downstream"
	"github.com/ejtagle/iodine/internal/upstream"
	"github.com/ejtagle/iodine/internal/window"
)

const (
	testDomain   = "t.example.com"
	testPassword = "correct horse"
)

func newTestHandler() *Handler {
	return &Handler{
		Topdomain: testDomain,
		Password:  testPassword,
		Store:     NewSessionStore(time.Minute),
	}
}

// login opens a session directly through the handler and returns the key.
func login(t *testing.T, h *Handler, sid string) []byte {
	t.Helper()
	salt, err := crypto.GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}
	key := crypto.DeriveKey(testPassword, salt)
	env := h.handleLogin(&upstream.LoginQuery{
		SessionID: sid,
		Salt:      salt,
		Proof:     crypto.LoginProof(key, salt),
	})
	if _, err := downstream.Decode(env, key); err != nil {
		t.Fatalf("login answer did not authenticate: %v", err)
	}
	return key
}

func TestLoginCreatesSession(t *testing.T) {
	h := newTestHandler()
	login(t, h, "aaaa")
	if h.Store.Get("aaaa") == nil {
		t.Fatal("session not stored")
	}
}

func TestLoginBadPassword(t *testing.T) {
	h := newTestHandler()
	salt, _ := crypto.GenerateSalt()
	wrongKey := crypto.DeriveKey("wrong password", salt)
	env := h.handleLogin(&upstream.LoginQuery{
		SessionID: "bbbb",
		Salt:      salt,
		Proof:     crypto.LoginProof(wrongKey, salt),
	})

	_, err := downstream.Decode(env, nil)
	ae, ok := err.(*downstream.AnswerError)
	if !ok || ae.Code != downstream.BadLogin {
		t.Fatalf("expected BadLogin answer, got %v", err)
	}
	if h.Store.Get("bbbb") != nil {
		t.Error("bad login created a session")
	}
}

func TestDataUnknownSession(t *testing.T) {
	h := newTestHandler()
	env := h.handleData(&upstream.DataQuery{SessionID: "dead", SeqID: 0, AckOther: -1, Data: []byte("x")})
	_, err := downstream.Decode(env, nil)
	ae, ok := err.(*downstream.AnswerError)
	if !ok || ae.Code != downstream.BadAuth {
		t.Fatalf("expected BadAuth answer, got %v", err)
	}
}

func TestDataAckAndDeliver(t *testing.T) {
	h := newTestHandler()
	var delivered [][]byte
	h.Deliver = func(sid string, data []byte, compressed bool) {
		delivered = append(delivered, data)
	}
	key := login(t, h, "cccc")

	send := func(q *upstream.DataQuery) int {
		env := h.handleData(q)
		body, err := downstream.Decode(env, key)
		if err != nil {
			t.Fatalf("data answer: %v", err)
		}
		ack, _, err := downstream.ParsePayload(body)
		if err != nil {
			t.Fatal(err)
		}
		return ack
	}

	if ack := send(&upstream.DataQuery{SessionID: "cccc", SeqID: 0, Start: true, AckOther: -1, Data: []byte("first ")}); ack != 0 {
		t.Errorf("ack = %d, want 0", ack)
	}
	if ack := send(&upstream.DataQuery{SessionID: "cccc", SeqID: 1, End: true, AckOther: -1, Data: []byte("second")}); ack != 1 {
		t.Errorf("ack = %d, want 1", ack)
	}

	if len(delivered) != 1 || !bytes.Equal(delivered[0], []byte("first second")) {
		t.Fatalf("delivered = %q", delivered)
	}

	// A duplicate is still ACKed but never re-delivered.
	if ack := send(&upstream.DataQuery{SessionID: "cccc", SeqID: 1, End: true, AckOther: -1, Data: []byte("second")}); ack != 1 {
		t.Errorf("duplicate ack = %d, want 1", ack)
	}
	if len(delivered) != 1 {
		t.Errorf("duplicate re-delivered: %d messages", len(delivered))
	}
}

func TestDownstreamPiggybackAndAck(t *testing.T) {
	h := newTestHandler()
	key := login(t, h, "eeee")
	s := h.Store.Get("eeee")

	msg := []byte("server says hi")
	if !s.Queue(msg, false) {
		t.Fatal("queue refused")
	}

	ping := func(ackOther int) *window.Fragment {
		env := h.handlePing(&upstream.PingQuery{SessionID: "eeee", AckOther: ackOther})
		body, err := downstream.Decode(env, key)
		if err != nil {
			t.Fatalf("ping answer: %v", err)
		}
		_, f, err := downstream.ParsePayload(body)
		if err != nil {
			t.Fatal(err)
		}
		return f
	}

	f := ping(-1)
	if f == nil || !bytes.Equal(f.Data, msg) || !f.Start || !f.End {
		t.Fatalf("expected the queued message as one fragment, got %+v", f)
	}

	// ACK it; the send window must drain and stop offering the fragment.
	if g := ping(int(f.SeqID)); g != nil {
		t.Errorf("fragment offered again after ACK: %+v", g)
	}
	if s.Out.NumItems() != 0 {
		t.Errorf("send window still holds %d items", s.Out.NumItems())
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	ss := NewSessionStore(30 * time.Millisecond)
	s, err := NewSession("ffff", bytes.Repeat([]byte{1}, crypto.KeyLen), 64)
	if err != nil {
		t.Fatal(err)
	}
	ss.Create(s)
	if ss.Get("ffff") == nil {
		t.Fatal("fresh session missing")
	}
	time.Sleep(80 * time.Millisecond)
	if ss.Get("ffff") != nil {
		t.Error("idle session survived its TTL")
	}
}
