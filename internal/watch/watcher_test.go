package watch

import (
	"crypto/md5" //nolint:gosec
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"hashwrap/internal/fs"
	"hashwrap/internal/hashdb"
)

func testHash(i int) string {
	return fmt.Sprintf("%032x", md5.Sum([]byte(fmt.Sprintf("pw%d", i)))) //nolint:gosec
}

func hashLines(from, to int) string {
	var b strings.Builder
	for i := from; i < to; i++ {
		b.WriteString(testHash(i))
		b.WriteByte('\n')
	}

	return b.String()
}

func testIndex(t *testing.T, dir, content string) *hashdb.Index {
	t.Helper()

	hashFile := filepath.Join(dir, "hashes.txt")
	if err := os.WriteFile(hashFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	ix, err := hashdb.NewIndex(fs.NewReal(), zap.NewNop(), hashFile, filepath.Join(dir, "pot"))
	if err != nil {
		t.Fatal(err)
	}

	return ix
}

func TestSweepIngestsAppendedRegion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ix := testIndex(t, dir, hashLines(0, 100))
	w := New(fs.NewReal(), zap.NewNop(), ix)

	target := filepath.Join(dir, "growing.txt")
	if err := os.WriteFile(target, []byte(hashLines(0, 100)), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := w.Watch(target); err != nil {
		t.Fatal(err)
	}

	// Baseline content is not re-ingested.
	if got, want := w.Sweep(), 0; got != want {
		t.Fatalf("baseline sweep added %d, want %d", got, want)
	}

	f, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}

	appended := hashLines(100, 160) +
		"# a comment\n" +
		"\n" +
		"definitely not a hash!!!\n"

	if _, err := f.WriteString(appended); err != nil {
		t.Fatal(err)
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if got, want := w.Sweep(), 60; got != want {
		t.Fatalf("sweep added %d, want %d", got, want)
	}

	if got, want := ix.Stats().Total, 160; got != want {
		t.Fatalf("index total=%d, want=%d", got, want)
	}

	// Nothing new: the fingerprint was advanced past the append.
	if got, want := w.Sweep(), 0; got != want {
		t.Fatalf("repeat sweep added %d, want %d", got, want)
	}
}

func TestSweepSkipsDuplicateAppends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ix := testIndex(t, dir, hashLines(0, 10))
	w := New(fs.NewReal(), zap.NewNop(), ix)

	target := filepath.Join(dir, "growing.txt")
	if err := os.WriteFile(target, []byte(hashLines(0, 10)), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := w.Watch(target); err != nil {
		t.Fatal(err)
	}

	// Appending hashes already in the index adds nothing.
	f, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.WriteString(hashLines(0, 10)); err != nil {
		t.Fatal(err)
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if got, want := w.Sweep(), 0; got != want {
		t.Fatalf("duplicate sweep added %d, want %d", got, want)
	}
}

func TestSweepResetsBaselineOnShrink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ix := testIndex(t, dir, hashLines(0, 10))
	w := New(fs.NewReal(), zap.NewNop(), ix)

	target := filepath.Join(dir, "shrinking.txt")
	if err := os.WriteFile(target, []byte(hashLines(0, 10)), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := w.Watch(target); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(target, []byte(hashLines(0, 2)), 0o600); err != nil {
		t.Fatal(err)
	}

	if got, want := w.Sweep(), 0; got != want {
		t.Fatalf("shrink sweep added %d, want %d", got, want)
	}

	// Growth after the reset is measured from the new baseline.
	f, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.WriteString(hashLines(10, 13)); err != nil {
		t.Fatal(err)
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if got, want := w.Sweep(), 3; got != want {
		t.Fatalf("post-shrink sweep added %d, want %d", got, want)
	}
}

func TestIngestionDirArchivesProcessedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ix := testIndex(t, dir, hashLines(0, 5))

	ingest := filepath.Join(dir, "drop")
	if err := os.MkdirAll(ingest, 0o700); err != nil {
		t.Fatal(err)
	}

	w := New(fs.NewReal(), zap.NewNop(), ix, WithIngestionDir(ingest))

	content := hashLines(5, 15) + "garbage line !!!\n"
	if err := os.WriteFile(filepath.Join(ingest, "dump.hashes"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// Unknown extensions are left alone.
	if err := os.WriteFile(filepath.Join(ingest, "notes.md"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got, want := w.Sweep(), 10; got != want {
		t.Fatalf("sweep added %d, want %d", got, want)
	}

	if _, err := os.Stat(filepath.Join(ingest, "dump.hashes")); !os.IsNotExist(err) {
		t.Fatalf("source file still in drop dir: err=%v", err)
	}

	if _, err := os.Stat(filepath.Join(ingest, "notes.md")); err != nil {
		t.Fatalf("unrelated file was touched: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(ingest, "processed"))
	if err != nil {
		t.Fatal(err)
	}

	if got, want := len(entries), 1; got != want {
		t.Fatalf("processed entries=%d, want=%d", got, want)
	}

	if name := entries[0].Name(); !strings.HasSuffix(name, "_dump.hashes") {
		t.Fatalf("archived name %q lacks timestamp prefix + original name", name)
	}

	// Second sweep finds nothing left to ingest.
	if got, want := w.Sweep(), 0; got != want {
		t.Fatalf("repeat sweep added %d, want %d", got, want)
	}
}

func TestIngestionSignalsEngine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ix := testIndex(t, dir, hashLines(0, 5))

	ingest := filepath.Join(dir, "drop")
	if err := os.MkdirAll(ingest, 0o700); err != nil {
		t.Fatal(err)
	}

	w := New(fs.NewReal(), zap.NewNop(), ix, WithIngestionDir(ingest))

	if err := os.WriteFile(filepath.Join(ingest, "more.txt"), []byte(hashLines(5, 8)), 0o600); err != nil {
		t.Fatal(err)
	}

	w.Sweep()

	select {
	case n := <-ix.Notifications():
		if got, want := n, 3; got != want {
			t.Fatalf("notification=%d, want=%d", got, want)
		}
	default:
		t.Fatal("no new-hashes notification after ingestion")
	}
}

func TestWatchMissingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ix := testIndex(t, dir, hashLines(0, 1))
	w := New(fs.NewReal(), zap.NewNop(), ix)

	if err := w.Watch(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatal("watching a missing file succeeded")
	}
}
