package core

import (
	"strings"
	"testing"
)

func TestUUIDGen_NewID(t *testing.T) {
	gen := UUIDGen{}
	id := gen.NewID("task")
	if !strings.HasPrefix(id, "task-") {
		t.Errorf("NewID(%q) = %q, want it prefixed with %q", "task", id, "task-")
	}

	bare := gen.NewID("")
	if strings.Contains(bare, "-") == false {
		t.Errorf("NewID(\"\") = %q, want a bare UUID", bare)
	}

	if gen.NewID("task") == gen.NewID("task") {
		t.Error("NewID() returned the same value twice, want unique UUIDs")
	}
}

func TestSequentialGen_NewID(t *testing.T) {
	gen := &SequentialGen{}
	first := gen.NewID("agent")
	second := gen.NewID("agent")

	if first == second {
		t.Errorf("NewID() returned %q twice, want a monotonically increasing sequence", first)
	}
	if !strings.HasPrefix(first, "agent-seq-") {
		t.Errorf("NewID(%q) = %q, want prefix %q", "agent", first, "agent-seq-")
	}
}

func TestSequentialGen_DefaultPrefix(t *testing.T) {
	gen := &SequentialGen{}
	id := gen.NewID("")
	if !strings.HasPrefix(id, "id-seq-") {
		t.Errorf("NewID(\"\") = %q, want default prefix %q", id, "id-seq-")
	}
}
