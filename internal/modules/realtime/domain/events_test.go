package domain

import (
	"testing"
	"time"
)

func TestEncodeDecodeNewMessage(t *testing.T) {
	at := time.Date(2025, time.May, 2, 10, 0, 0, 0, time.UTC)
	msg := ChatMessage{ID: "01J", RoomID: "job-42", SenderID: "a@x", SenderName: "A", Body: "Hi", CreatedAt: at, Status: StatusSent}

	raw, err := Encode(NewMessage{ChatMessage: msg}, at)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	ev, ts, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !ts.Equal(at) {
		t.Fatalf("timestamp mismatch: %s", ts)
	}
	got, ok := ev.(NewMessage)
	if !ok {
		t.Fatalf("expected NewMessage, got %T", ev)
	}
	if got.ID != msg.ID || got.Body != msg.Body || got.RoomID != msg.RoomID {
		t.Fatalf("unexpected message: %#v", got)
	}
}

func TestDecodePong(t *testing.T) {
	raw, err := Encode(Pong{}, time.Now())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	ev, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.Kind() != EventPong {
		t.Fatalf("expected pong, got %s", ev.Kind())
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	if _, _, err := Decode([]byte(`{"event":"bogus","timestamp":"2025-01-01T00:00:00Z"}`)); err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func TestEventKindNames(t *testing.T) {
	for kind := EventAuthenticated; kind <= EventPong; kind++ {
		if ParseEventKind(kind.String()) != kind {
			t.Fatalf("kind %d does not round trip through %q", kind, kind.String())
		}
	}
	if EventKind(99).String() != "unknown" {
		t.Fatal("out of range kinds must render as unknown")
	}
}
