package ulid

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateString(t *testing.T) {
	id := GenerateString()
	if len(id) != 26 || !IsValid(id) {
		t.Fatalf("invalid id %q", id)
	}
	if IsValid(strings.Repeat("!", 26)) || IsValid("01HZX4Y3B8") {
		t.Fatalf("malformed ids must be rejected")
	}
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	now := time.Now()
	prev := at(now)
	for i := 0; i < 100; i++ {
		next := at(now)
		if next.Compare(prev) <= 0 {
			t.Fatalf("ids must increase: %s <= %s", next, prev)
		}
		prev = next
	}
	if prev.Time() != uint64(now.UnixMilli()) {
		t.Fatalf("timestamp not preserved")
	}
}
