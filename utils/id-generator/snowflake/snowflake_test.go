package snowflake

import (
	"testing"

	"github.com/bwmarrin/snowflake"
)

func nodeOf(t *testing.T, id string) int64 {
	t.Helper()
	sid, err := snowflake.ParseString(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	return sid.Node()
}

func TestNewGeneratorRejectsOutOfRangeNode(t *testing.T) {
	for _, id := range []int64{-1, MaxNodeID + 1} {
		if _, err := NewGenerator(id); err == nil {
			t.Fatalf("expected error for node id %d", id)
		}
	}
}

func TestGenerateStringIncreases(t *testing.T) {
	gen, err := NewGenerator(7)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	a, b := gen.GenerateString(), gen.GenerateString()
	sa, _ := snowflake.ParseString(a)
	sb, _ := snowflake.ParseString(b)
	if sb <= sa {
		t.Fatalf("expected increasing ids: %s %s", a, b)
	}
	if nodeOf(t, a) != 7 {
		t.Fatalf("unexpected node in %s", a)
	}
}

func TestNewGeneratorFromEnv(t *testing.T) {
	t.Setenv(EnvNodeID, "12")
	gen, err := NewGeneratorFromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if nodeOf(t, gen.GenerateString()) != 12 {
		t.Fatalf("node id not taken from env")
	}

	t.Setenv(EnvNodeID, "abc")
	if _, err := NewGeneratorFromEnv(); err == nil {
		t.Fatalf("expected error for invalid env")
	}
}
