package buildinfo

import "testing"

func TestSetVersionOverrides(t *testing.T) {
	orig := version
	defer func() { version = orig }()

	SetVersion("")
	if Version() == "" {
		t.Fatalf("expected a fallback version")
	}
	SetVersion("v1.2.3")
	if Version() != "v1.2.3" {
		t.Fatalf("expected override, got %q", Version())
	}
}

func TestCommitOverride(t *testing.T) {
	orig := commit
	defer func() { commit = orig }()

	commit = "abc123"
	if Commit() != "abc123" {
		t.Fatalf("unexpected commit %q", Commit())
	}
}
