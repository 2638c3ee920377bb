package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeBodyRejectsBlank(t *testing.T) {
	for _, body := range []string{"", "   ", "\n\t "} {
		if _, err := NormalizeBody(body, 0); !errors.Is(err, ErrValidation) {
			t.Fatalf("NormalizeBody(%q) expected ErrValidation got %v", body, err)
		}
	}
}

func TestNormalizeBodyTrimsAndLimits(t *testing.T) {
	got, err := NormalizeBody("  hello  ", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected trimmed body, got %q", got)
	}
	if _, err := NormalizeBody(strings.Repeat("é", 11), 10); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for long body, got %v", err)
	}
}

func TestDirectRoomIDIsOrderIndependent(t *testing.T) {
	a := DirectRoomID("bob@example.com", "alice@example.com")
	b := DirectRoomID("alice@example.com", "bob@example.com")
	if a != b {
		t.Fatalf("expected same room, got %s and %s", a, b)
	}
	first, second, ok := DirectRoomParticipants(a)
	if !ok || first != "alice@example.com" || second != "bob@example.com" {
		t.Fatalf("unexpected participants %q %q %v", first, second, ok)
	}
	if _, _, ok := DirectRoomParticipants("job-42"); ok {
		t.Fatal("job room must not parse as direct room")
	}
}

func TestDirectRoomIDWithColonIdentities(t *testing.T) {
	room := DirectRoomID("zed", "org:alice")
	a, b, ok := DirectRoomParticipants(room)
	if !ok || a != "org:alice" || b != "zed" {
		t.Fatalf("unexpected participants %q %q %v for %s", a, b, ok, room)
	}
	if CanAccessRoom("org", room) {
		t.Fatalf("identity prefix %q must not access %s", "org", room)
	}
	if !CanAccessRoom("org:alice", room) || !CanAccessRoom("zed", room) {
		t.Fatalf("participants must access %s", room)
	}
}

func TestDirectRoomParticipantsRejectsForgedIDs(t *testing.T) {
	for _, room := range []string{
		"dm:org:alice:zed",   // unescaped colon
		"dm:zed:org%3Aalice", // unsorted
		"dm:alice",
		"dm::bob",
		"dm:al%ZZice:bob",
	} {
		if _, _, ok := DirectRoomParticipants(room); ok {
			t.Errorf("%s must not parse", room)
		}
		if CanAccessRoom("alice", room) || CanAccessRoom("org", room) {
			t.Errorf("%s must not be accessible", room)
		}
	}
	if !CanAccessRoom("anyone", "job-42") {
		t.Fatal("ordinary rooms are open")
	}
}
