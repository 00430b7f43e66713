package staging

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func newTestArea(t *testing.T) *Area {
	t.Helper()
	a, err := NewArea(t.TempDir())
	if err != nil {
		t.Fatalf("NewArea() error = %v", err)
	}
	return a
}

func TestArea_WriteAndAssemble(t *testing.T) {
	a := newTestArea(t)

	chunks := []string{"alpha-", "beta-", "gamma"}
	// Stage out of order.
	for _, i := range []int{2, 0, 1} {
		n, err := a.WriteChunk("s1", i, strings.NewReader(chunks[i]))
		if err != nil {
			t.Fatalf("WriteChunk(%d) error = %v", i, err)
		}
		if n != int64(len(chunks[i])) {
			t.Errorf("WriteChunk(%d) = %d bytes, want %d", i, n, len(chunks[i]))
		}
	}

	rc, err := a.Assemble("s1", 3)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading assembly: %v", err)
	}
	if string(got) != "alpha-beta-gamma" {
		t.Errorf("assembled = %q, want %q", got, "alpha-beta-gamma")
	}
}

func TestArea_OverwriteChunk(t *testing.T) {
	a := newTestArea(t)
	if _, err := a.WriteChunk("s1", 0, strings.NewReader("old")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.WriteChunk("s1", 0, strings.NewReader("replacement")); err != nil {
		t.Fatal(err)
	}

	size, err := a.ChunkSize("s1", 0)
	if err != nil {
		t.Fatalf("ChunkSize() error = %v", err)
	}
	if size != int64(len("replacement")) {
		t.Errorf("ChunkSize() = %d, want %d", size, len("replacement"))
	}

	rc, err := a.Assemble("s1", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "replacement" {
		t.Errorf("chunk content = %q, want %q", got, "replacement")
	}
}

func TestArea_AssembleMissingChunk(t *testing.T) {
	a := newTestArea(t)
	if _, err := a.WriteChunk("s1", 0, strings.NewReader("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.WriteChunk("s1", 2, strings.NewReader("c")); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Assemble("s1", 3); err == nil {
		t.Fatal("Assemble() with missing chunk 1 succeeded, want error")
	}
}

func TestArea_EmptyChunk(t *testing.T) {
	a := newTestArea(t)
	if _, err := a.WriteChunk("s1", 0, strings.NewReader("head")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.WriteChunk("s1", 1, bytes.NewReader(nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.WriteChunk("s1", 2, strings.NewReader("tail")); err != nil {
		t.Fatal(err)
	}

	rc, err := a.Assemble("s1", 3)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading assembly: %v", err)
	}
	if string(got) != "headtail" {
		t.Errorf("assembled = %q, want %q", got, "headtail")
	}
}

func TestArea_RemoveAndSessions(t *testing.T) {
	a := newTestArea(t)
	if _, err := a.WriteChunk("s1", 0, strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.WriteChunk("s2", 0, strings.NewReader("y")); err != nil {
		t.Fatal(err)
	}

	ids, err := a.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("Sessions() = %v, want 2 entries", ids)
	}

	if err := a.Remove("s1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	ids, err = a.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "s2" {
		t.Errorf("Sessions() after remove = %v, want [s2]", ids)
	}

	// Removing an unknown session is a no-op.
	if err := a.Remove("never-existed"); err != nil {
		t.Errorf("Remove(unknown) error = %v", err)
	}
}

func TestArea_SessionsIsolated(t *testing.T) {
	a := newTestArea(t)
	if _, err := a.WriteChunk("s1", 0, strings.NewReader("one")); err != nil {
		t.Fatal(err)
	}
	if _, err := a.WriteChunk("s2", 0, strings.NewReader("two")); err != nil {
		t.Fatal(err)
	}

	rc, err := a.Assemble("s1", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "one" {
		t.Errorf("s1 content = %q, want %q", got, "one")
	}
}
