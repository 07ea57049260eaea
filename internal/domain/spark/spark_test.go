package spark

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     ErrorKind
	}{
		{"Not found", NotFound("spark %s not found", "abc"), ErrNotFound, KindNotFound},
		{"Forbidden", Forbidden("cannot spark yourself"), ErrForbidden, KindForbidden},
		{"Conflict", Conflict("duplicate"), ErrConflict, KindConflict},
		{"Validation", Validation(errors.New("bad lat"), "invalid location"), ErrValidation, KindValidation},
		{"Wrapped", fmt.Errorf("respond: %w", Conflict("not pending")), ErrConflict, KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("Expected errors.Is to match %v, got %v", tt.sentinel, tt.err)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, got)
			}
		})
	}

	if errors.Is(NotFound("x"), ErrConflict) {
		t.Error("Expected not-found error not to match conflict sentinel")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("Expected empty kind for plain error")
	}
}

func TestPairKeyIsUnordered(t *testing.T) {
	if PairKey("a", "b") != PairKey("b", "a") {
		t.Errorf("Expected same key, got %s and %s", PairKey("a", "b"), PairKey("b", "a"))
	}
	first, second := OrderedPair("zed", "amy")
	if first != "amy" || second != "zed" {
		t.Errorf("Expected (amy, zed), got (%s, %s)", first, second)
	}
}

func TestSparkHelpers(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	s := &Spark{User1ID: "a", User2ID: "b", Status: StatusPending, ExpiresAt: &past}

	if !s.HasUser("a") || !s.HasUser("b") || s.HasUser("c") {
		t.Error("Expected HasUser to match only participants")
	}
	if s.OtherUser("a") != "b" || s.OtherUser("b") != "a" {
		t.Error("Expected OtherUser to return the counterpart")
	}
	if !s.ExpiredAt(now) {
		t.Error("Expected pending spark past expiry to be expired")
	}

	s.Status = StatusRejected
	if s.IsLive() {
		t.Error("Expected rejected spark not to be live")
	}
	if !s.IsTerminal() {
		t.Error("Expected rejected spark to be terminal")
	}
	if s.ExpiredAt(now) {
		t.Error("Expected non-pending spark not to expire")
	}
}

func TestClampStrength(t *testing.T) {
	tests := []struct{ in, want int }{{-5, 0}, {0, 0}, {80, 80}, {100, 100}, {130, 100}}
	for _, tt := range tests {
		if got := ClampStrength(tt.in); got != tt.want {
			t.Errorf("Expected %d, got %d", tt.want, got)
		}
	}
}

func TestParticipants(t *testing.T) {
	got := Participants(PartiallyAcceptedEvent{SparkID: "s", AcceptedBy: "a", WaitingFor: "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Expected [a b], got %v", got)
	}
	if Participants("unknown") != nil {
		t.Error("Expected nil for unknown payload")
	}
}
