package loom

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewIDIsUUIDv7(t *testing.T) {
	id := NewID()
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("NewID() = %q: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("version = %d, want 7", parsed.Version())
	}
}

func TestNowUnix(t *testing.T) {
	before := time.Now().Unix()
	got := NowUnix()
	after := time.Now().Unix()
	if got < before || got > after {
		t.Errorf("NowUnix() = %d, want within [%d, %d]", got, before, after)
	}
}
