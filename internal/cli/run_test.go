package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"hashwrap/internal/fs"
	"hashwrap/internal/session"
)

func runCLI(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()

	var out, errOut bytes.Buffer

	argv := append([]string{"hashwrap", "-C", dir}, args...)
	code := Run(context.Background(), &out, &errOut, argv, map[string]string{"HOME": dir})

	return code, out.String(), errOut.String()
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	dir := t.TempDir()

	code, out, _ := runCLI(t, dir)

	if got, want := code, ExitOK; got != want {
		t.Fatalf("code=%d, want=%d", got, want)
	}

	for _, cmd := range []string{"auto", "analyze", "resume", "add-hashes", "status"} {
		if !strings.Contains(out, cmd) {
			t.Fatalf("usage missing command %q:\n%s", cmd, out)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	dir := t.TempDir()

	code, _, errOut := runCLI(t, dir, "frobnicate")

	if got, want := code, ExitError; got != want {
		t.Fatalf("code=%d, want=%d", got, want)
	}

	if !strings.Contains(errOut, "unknown command") {
		t.Fatalf("stderr=%q, want unknown command", errOut)
	}
}

func TestRunUnknownGlobalFlag(t *testing.T) {
	dir := t.TempDir()

	code, _, errOut := runCLI(t, dir, "--frobnicate", "status")

	if got, want := code, ExitError; got != want {
		t.Fatalf("code=%d, want=%d", got, want)
	}

	if !strings.Contains(errOut, "unknown flag") {
		t.Fatalf("stderr=%q, want unknown flag", errOut)
	}
}

func TestStatusEmptyRoot(t *testing.T) {
	dir := t.TempDir()

	code, out, _ := runCLI(t, dir, "status")

	if got, want := code, ExitOK; got != want {
		t.Fatalf("code=%d, want=%d", got, want)
	}

	if !strings.Contains(out, "no sessions") {
		t.Fatalf("out=%q, want no sessions", out)
	}
}

func TestAnalyzeIdentifiesTypes(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	hashFile := filepath.Join(dir, "dump.txt")
	content := "# header\n" +
		"5f4dcc3b5aa765d61d8327deb882cf99\n" +
		"aad3b435b51404eeaad3b435b51404ee:31d6cfe0d16ae931b73c59d7e0c089c0\n"

	if err := os.WriteFile(hashFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	code, out, _ := runCLI(t, dir, "analyze", "dump.txt")

	if got, want := code, ExitOK; got != want {
		t.Fatalf("code=%d, want=%d", got, want)
	}

	if !strings.Contains(out, "total hashes: 2") {
		t.Fatalf("out=%q, want total hashes: 2", out)
	}

	if !strings.Contains(out, "MD5") {
		t.Fatalf("out=%q, want MD5 detected", out)
	}
}

func TestAnalyzeRejectsOutsidePath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	code, _, errOut := runCLI(t, dir, "analyze", "/etc/shadow")

	if got, want := code, ExitError; got != want {
		t.Fatalf("code=%d, want=%d (stderr=%q)", got, want, errOut)
	}
}

func TestResumeUnknownSessionExitsTwo(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	code, _, errOut := runCLI(t, dir, "resume", "ghost")

	if got, want := code, ExitNotFound; got != want {
		t.Fatalf("code=%d, want=%d (stderr=%q)", got, want, errOut)
	}
}

func TestAutoRestoreRequiresSession(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	code, _, errOut := runCLI(t, dir, "auto", "--restore")

	if got, want := code, ExitError; got != want {
		t.Fatalf("code=%d, want=%d", got, want)
	}

	if !strings.Contains(errOut, "--restore requires --session") {
		t.Fatalf("stderr=%q, want restore/session coupling error", errOut)
	}
}

func TestAutoRejectsBadWorkload(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	hashFile := filepath.Join(dir, "h.txt")
	if err := os.WriteFile(hashFile, []byte("5f4dcc3b5aa765d61d8327deb882cf99\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := runCLI(t, dir, "auto", "--workload", "9", "h.txt")

	if got, want := code, ExitError; got != want {
		t.Fatalf("code=%d, want=%d (stderr=%q)", got, want, errOut)
	}
}

func TestAddHashesQueuesValidatedFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	root := filepath.Join(dir, ".hashwrap", "sessions")
	store := session.NewStore(fs.NewReal(), zap.NewNop(), root)

	state := &session.State{
		ID:        "night_job",
		Status:    session.StatusPaused,
		CreatedAt: time.Now().UTC(),
		HashFile:  filepath.Join(dir, "h.txt"),
	}
	if err := store.Create(context.Background(), state); err != nil {
		t.Fatal(err)
	}

	source := filepath.Join(dir, "extra.txt")
	content := "5f4dcc3b5aa765d61d8327deb882cf99\n" +
		"# comment\n" +
		"bad\x00line\n" +
		"e10adc3949ba59abbe56e057f20f883e\n"

	if err := os.WriteFile(source, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, dir, "add-hashes", "night_job", "extra.txt")

	// The dropped line surfaces as a warning, which flips the exit code.
	if got, want := code, ExitError; got != want {
		t.Fatalf("code=%d, want=%d (stderr=%q)", got, want, errOut)
	}

	if !strings.Contains(out, "queued 2 hashes") {
		t.Fatalf("out=%q, want queued 2 hashes", out)
	}

	entries, err := os.ReadDir(filepath.Join(store.Dir("night_job"), "ingest"))
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), "_extra.txt") {
		t.Fatalf("ingest dir entries=%v, want one timestamped extra.txt", entries)
	}
}

func TestAddHashesUnknownSessionExitsTwo(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	hashFile := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(hashFile, []byte("5f4dcc3b5aa765d61d8327deb882cf99\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, _ := runCLI(t, dir, "add-hashes", "ghost", "new.txt")

	if got, want := code, ExitNotFound; got != want {
		t.Fatalf("code=%d, want=%d", got, want)
	}
}
