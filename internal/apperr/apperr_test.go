package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	blocked := New(KindForbidden, "chat.add_member.blocked_by_actor", "you have blocked this user")
	wrapped := fmt.Errorf("add member: %w", blocked)

	if !errors.Is(wrapped, Forbidden) {
		t.Fatalf("expected forbidden kind to match")
	}
	if errors.Is(wrapped, NotFound) {
		t.Fatalf("did not expect not found kind to match")
	}
	if !errors.Is(wrapped, blocked) {
		t.Fatalf("expected coded sentinel to match itself")
	}
}

func TestErrorDistinguishesCodesOfSameKind(t *testing.T) {
	first := New(KindForbidden, "chat.add_member.blocked_by_actor", "you have blocked this user")
	second := New(KindForbidden, "chat.add_member.blocked_by_target", "this user has blocked you")

	if errors.Is(first, second) {
		t.Fatalf("expected distinct codes not to match")
	}
	if KindOf(second) != KindForbidden {
		t.Fatalf("unexpected kind %q", KindOf(second))
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := Unavailablef("social.send_request.insert_failed", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if !errors.Is(err, Unavailable) {
		t.Fatalf("expected unavailable kind")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty kind for foreign errors")
	}
}
