package downstream

import (
	"bytes"
	"testing"

	"github.com/ejtagle/iodine/internal/window"
)

func TestPayloadAckOnly(t *testing.T) {
	for _, ack := range []int{-1, 0, 128, 255} {
		p := BuildPayload(ack, nil)
		gotAck, f, err := ParsePayload(p)
		if err != nil {
			t.Fatalf("ack %d: %v", ack, err)
		}
		if gotAck != ack || f != nil {
			t.Errorf("ack %d: got ack=%d f=%v", ack, gotAck, f)
		}
	}
}

func TestPayloadWithFragment(t *testing.T) {
	f := &window.Fragment{
		Data:       []byte("downstream bytes"),
		SeqID:      250,
		Start:      true,
		Compressed: true,
	}
	p := BuildPayload(3, f)
	ack, g, err := ParsePayload(p)
	if err != nil {
		t.Fatal(err)
	}
	if ack != 3 {
		t.Errorf("ack = %d", ack)
	}
	if g == nil || g.SeqID != 250 || !g.Start || g.End || !g.Compressed {
		t.Fatalf("fragment header mismatch: %+v", g)
	}
	if !bytes.Equal(g.Data, f.Data) {
		t.Errorf("fragment payload mismatch: %q", g.Data)
	}
	if g.AckOther != 3 {
		t.Errorf("parsed fragment must carry the ack: %d", g.AckOther)
	}
}

func TestPayloadTruncated(t *testing.T) {
	if _, _, err := ParsePayload(nil); err != ErrPayloadTruncated {
		t.Errorf("empty payload: %v", err)
	}
	if _, _, err := ParsePayload([]byte{0x01, 0x02}); err != ErrPayloadTruncated {
		t.Errorf("two-byte payload: %v", err)
	}
}

func TestPayloadThroughEnvelope(t *testing.T) {
	// The usual path: payload framed, enveloped, decoded, parsed.
	f := &window.Fragment{Data: []byte("piggyback"), SeqID: 9, End: true}
	env, err := Encode(BuildPayload(42, f), FlagHMAC32|0x02, 1234, testKey)
	if err != nil {
		t.Fatal(err)
	}
	body, err := Decode(env, testKey)
	if err != nil {
		t.Fatal(err)
	}
	ack, g, err := ParsePayload(body)
	if err != nil {
		t.Fatal(err)
	}
	if ack != 42 || g.SeqID != 9 || !g.End || !bytes.Equal(g.Data, f.Data) {
		t.Errorf("envelope round trip lost payload: ack=%d frag=%+v", ack, g)
	}
}
