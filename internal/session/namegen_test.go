package session

import (
	"testing"
	"time"
)

func TestGenerateName(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := GenerateName(at)
	want := "claude-0102-030405"
	if got != want {
		t.Errorf("GenerateName = %q, want %q", got, want)
	}
}

func TestGenerateNameHasPrefix(t *testing.T) {
	name := GenerateName(time.Now())
	if len(name) <= len(NamePrefix) {
		t.Fatalf("name %q too short", name)
	}
	if name[:len(NamePrefix)] != NamePrefix {
		t.Errorf("name %q missing prefix %q", name, NamePrefix)
	}
}
