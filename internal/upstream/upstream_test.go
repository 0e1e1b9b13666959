package upstream

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ejtagle/iodine/internal/crypto"
	"github.com/ejtagle/iodine/internal/encoding"
	"github.com/ejtagle/iodine/internal/window"
)

const topdomain = "t.example.com"

func TestBuildParseLogin(t *testing.T) {
	salt := bytes.Repeat([]byte{0x5a}, crypto.SaltLen)
	proof := bytes.Repeat([]byte{0xc3}, crypto.ProofLen)
	fqdn := BuildLoginQuery("c0de", salt, proof, topdomain)
	t.Logf("login query: %s", fqdn)

	msg, err := ParseQuery(fqdn, topdomain)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	login, ok := msg.(*LoginQuery)
	if !ok {
		t.Fatalf("expected *LoginQuery, got %T", msg)
	}
	if login.SessionID != "c0de" {
		t.Errorf("session id %q", login.SessionID)
	}
	if !bytes.Equal(login.Salt, salt) {
		t.Errorf("salt: got %x", login.Salt)
	}
	if !bytes.Equal(login.Proof, proof) {
		t.Errorf("proof: got %x", login.Proof)
	}

	// A short login blob must be rejected, not sliced blind.
	if _, err := ParseQuery(BuildLoginQuery("c0de", salt[:4], nil, topdomain), topdomain); err == nil {
		t.Error("truncated login accepted")
	}
}

func TestBuildParseData(t *testing.T) {
	f := &window.Fragment{
		Data:       []byte("some tunnel bytes"),
		SeqID:      200,
		AckOther:   17,
		Compressed: true,
		Start:      true,
	}
	fqdn := BuildDataQuery("beef", f, topdomain)

	msg, err := ParseQuery(fqdn, topdomain)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	q, ok := msg.(*DataQuery)
	if !ok {
		t.Fatalf("expected *DataQuery, got %T", msg)
	}
	if q.SeqID != 200 || !q.Start || q.End || !q.Compressed || q.AckOther != 17 {
		t.Errorf("header mismatch: %+v", q)
	}
	if !bytes.Equal(q.Data, f.Data) {
		t.Errorf("payload: got %q", q.Data)
	}

	g := q.Fragment()
	if g.SeqID != f.SeqID || !g.Start || !bytes.Equal(g.Data, f.Data) {
		t.Errorf("Fragment() lost fields: %+v", g)
	}
}

func TestBuildParsePing(t *testing.T) {
	for _, ack := range []int{-1, 0, 255} {
		fqdn := BuildPingQuery("0a0b", ack, topdomain)
		msg, err := ParseQuery(fqdn, topdomain)
		if err != nil {
			t.Fatalf("ack %d: parse error: %v", ack, err)
		}
		p, ok := msg.(*PingQuery)
		if !ok {
			t.Fatalf("expected *PingQuery, got %T", msg)
		}
		if p.AckOther != ack {
			t.Errorf("ack round trip: got %d, want %d", p.AckOther, ack)
		}
	}
}

func TestParseSurvivesCaseRandomization(t *testing.T) {
	f := &window.Fragment{Data: []byte("случайный case"), SeqID: 3, AckOther: -1, End: true}
	fqdn := BuildDataQuery("abcd", f, topdomain)

	msg, err := ParseQuery(strings.ToUpper(fqdn), strings.ToUpper(topdomain))
	if err != nil {
		t.Fatalf("uppercased parse error: %v", err)
	}
	q := msg.(*DataQuery)
	if !bytes.Equal(q.Data, f.Data) || q.SeqID != 3 || !q.End {
		t.Errorf("uppercased query lost data: %+v", q)
	}
}

func TestFragmentBudgetFitsHostname(t *testing.T) {
	budget := FragmentBudget(topdomain)
	if budget <= 0 {
		t.Fatalf("budget = %d", budget)
	}
	f := &window.Fragment{
		Data:     bytes.Repeat([]byte{0xab}, budget),
		SeqID:    0,
		AckOther: -1,
		Start:    true,
		End:      true,
	}
	fqdn := BuildDataQuery("ffff", f, topdomain)
	if len(fqdn) > encoding.MaxHostLen {
		t.Errorf("budget-sized query is %d bytes, over %d", len(fqdn), encoding.MaxHostLen)
	}
	t.Logf("budget %d raw bytes -> %d byte hostname", budget, len(fqdn))

	// The query must still parse back whole.
	msg, err := ParseQuery(fqdn, topdomain)
	if err != nil {
		t.Fatal(err)
	}
	if q := msg.(*DataQuery); !bytes.Equal(q.Data, f.Data) {
		t.Error("budget-sized payload corrupted")
	}
}

func TestParseRejectsForeignQueries(t *testing.T) {
	for _, fqdn := range []string{
		"www.google.com",
		"x." + topdomain,            // head label too short
		"zabcd.aaaa." + topdomain,   // unknown type char
		"dabcd." + topdomain + ".x", // wrong suffix
	} {
		if _, err := ParseQuery(fqdn, topdomain); err == nil {
			t.Errorf("ParseQuery(%q) accepted a foreign query", fqdn)
		}
	}
}
