package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}
	if len(salt) != SaltLen {
		t.Fatalf("salt length = %d, want %d", len(salt), SaltLen)
	}

	k1 := DeriveKey("hunter2", salt)
	k2 := DeriveKey("hunter2", salt)
	if len(k1) != KeyLen {
		t.Fatalf("key length = %d, want %d", len(k1), KeyLen)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same passphrase+salt must derive the same key")
	}

	if bytes.Equal(k1, DeriveKey("hunter3", salt)) {
		t.Error("different passphrases derived the same key")
	}
	salt2, _ := GenerateSalt()
	if bytes.Equal(k1, DeriveKey("hunter2", salt2)) {
		t.Error("different salts derived the same key")
	}
}

func TestCMCAdvances(t *testing.T) {
	c, err := NewCMC()
	if err != nil {
		t.Fatal(err)
	}
	a := c.Next()
	b := c.Next()
	if b != a+1 {
		t.Errorf("CMC did not advance by one: %d then %d", a, b)
	}
}

func TestSessionIDFormat(t *testing.T) {
	sid := NewSessionID()
	if len(sid) != 4 {
		t.Fatalf("session id %q, want 4 hex chars", sid)
	}
	for _, c := range sid {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("session id %q contains non-hex char", sid)
		}
	}
}
