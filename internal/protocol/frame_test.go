package protocol

import "testing"

func TestDecodeFrame_KnownShapes(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"req","id":"r1","method":"chat.send","params":{}}`))
	if err != nil {
		t.Fatalf("decode req failed: %v", err)
	}
	if f.Method != "chat.send" {
		t.Fatalf("expected method chat.send, got %q", f.Method)
	}

	f, err = DecodeFrame([]byte(`{"type":"res","id":"r1","ok":true,"payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("decode res failed: %v", err)
	}
	if !f.OK {
		t.Fatalf("expected ok response")
	}

	f, err = DecodeFrame([]byte(`{"type":"event","event":"connect.challenge","payload":{"nonce":"n"}}`))
	if err != nil {
		t.Fatalf("decode event failed: %v", err)
	}
	if f.Event != EventChallenge {
		t.Fatalf("expected challenge event, got %q", f.Event)
	}
}

func TestDecodeFrame_RejectsMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"req","method":"x"}`,
		`{"type":"res"}`,
		`{"type":"event"}`,
		`{"type":"mystery","id":"1"}`,
	}
	for _, raw := range cases {
		if _, err := DecodeFrame([]byte(raw)); err == nil {
			t.Fatalf("expected decode error for %s", raw)
		}
	}
}
