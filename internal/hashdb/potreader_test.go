package hashdb

import (
	"os"
	"path/filepath"
	"testing"

	"hashwrap/internal/fs"
)

func appendFile(t *testing.T, path, content string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPotReaderMissingFile(t *testing.T) {
	t.Parallel()

	r := NewPotReader(fs.NewReal(), filepath.Join(t.TempDir(), "none.potfile"))

	cracks, err := r.NewCracks()
	if err != nil {
		t.Fatalf("NewCracks: %v", err)
	}

	if len(cracks) != 0 {
		t.Fatalf("cracks=%v, want empty", cracks)
	}
}

func TestPotReaderIncremental(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hashwrap.potfile")
	r := NewPotReader(fs.NewReal(), path)

	appendFile(t, path, "aaaa:password\n")

	first, err := r.NewCracks()
	if err != nil {
		t.Fatalf("NewCracks: %v", err)
	}

	if got, want := len(first), 1; got != want {
		t.Fatalf("len(first)=%d, want=%d", got, want)
	}

	if got, want := first[0], (Crack{Hash: "aaaa", Plaintext: "password"}); got != want {
		t.Fatalf("first[0]=%v, want=%v", got, want)
	}

	appendFile(t, path, "bbbb:123456\ncccc:qwerty\n")

	second, err := r.NewCracks()
	if err != nil {
		t.Fatalf("NewCracks: %v", err)
	}

	if got, want := len(second), 2; got != want {
		t.Fatalf("len(second)=%d, want=%d", got, want)
	}

	// Two consecutive reads concatenated must equal one read taken at
	// the later moment, given append-only writes in between.
	fresh := NewPotReader(fs.NewReal(), path)

	all, err := fresh.NewCracks()
	if err != nil {
		t.Fatalf("NewCracks: %v", err)
	}

	combined := append(append([]Crack(nil), first...), second...)
	if got, want := len(all), len(combined); got != want {
		t.Fatalf("len(all)=%d, want=%d", got, want)
	}

	for i := range all {
		if all[i] != combined[i] {
			t.Fatalf("all[%d]=%v, want=%v", i, all[i], combined[i])
		}
	}
}

func TestPotReaderPlaintextWithColons(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "p.potfile")
	appendFile(t, path, "aaaa:pass:with:colons\n")

	r := NewPotReader(fs.NewReal(), path)

	cracks, err := r.NewCracks()
	if err != nil {
		t.Fatalf("NewCracks: %v", err)
	}

	if got, want := cracks[0].Plaintext, "pass:with:colons"; got != want {
		t.Fatalf("Plaintext=%q, want=%q", got, want)
	}
}

func TestPotReaderSkipsLinesWithoutColon(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "p.potfile")
	appendFile(t, path, "garbage-line\naaaa:ok\n")

	r := NewPotReader(fs.NewReal(), path)

	cracks, err := r.NewCracks()
	if err != nil {
		t.Fatalf("NewCracks: %v", err)
	}

	if got, want := len(cracks), 1; got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}
}

func TestPotReaderTruncationRewinds(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "p.potfile")
	appendFile(t, path, "aaaa:one\nbbbb:two\n")

	r := NewPotReader(fs.NewReal(), path)

	if _, err := r.NewCracks(); err != nil {
		t.Fatal(err)
	}

	// Replace with a shorter file.
	if err := os.WriteFile(path, []byte("cccc:three\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cracks, err := r.NewCracks()
	if err != nil {
		t.Fatalf("NewCracks after truncation: %v", err)
	}

	if got, want := len(cracks), 1; got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}

	if got, want := cracks[0].Hash, "cccc"; got != want {
		t.Fatalf("Hash=%q, want=%q", got, want)
	}
}

func TestPotReaderLeavesPartialLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "p.potfile")
	appendFile(t, path, "aaaa:done\nbbbb:half")

	r := NewPotReader(fs.NewReal(), path)

	cracks, err := r.NewCracks()
	if err != nil {
		t.Fatal(err)
	}

	if got, want := len(cracks), 1; got != want {
		t.Fatalf("len=%d, want=%d (partial line must wait)", got, want)
	}

	appendFile(t, path, "written\n")

	cracks, err = r.NewCracks()
	if err != nil {
		t.Fatal(err)
	}

	if got, want := len(cracks), 1; got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}

	if got, want := cracks[0].Plaintext, "halfwritten"; got != want {
		t.Fatalf("Plaintext=%q, want=%q", got, want)
	}
}
