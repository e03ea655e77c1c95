package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"hashwrap/internal/config"
	"hashwrap/internal/session"
)

// md5 of password / 123456 / 12345678
var targetHashes = []string{
	"5f4dcc3b5aa765d61d8327deb882cf99",
	"e10adc3949ba59abbe56e057f20f883e",
	"25d55ad283aa400af464c76d713c07ad",
}

// The child runs with a scrubbed environment, so the argv log path is
// baked into each script via %q rather than passed through env.

// crackAllScript stands in for the cracker: it finds the potfile flag
// in its argv and marks every target hash cracked.
const crackAllScript = `#!/bin/sh
hashfile="$1"
pot=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--potfile-path" ]; then pot="$a"; fi
  prev="$a"
done
echo "$@" >> %q
while read -r h; do
  [ -n "$h" ] && echo "$h:cracked" >> "$pot"
done < "$hashfile"
exit 0
`

// crackNothingScript exhausts its keyspace without cracking anything.
const crackNothingScript = `#!/bin/sh
echo "$@" >> %q
exit 1
`

const hangScript = `#!/bin/sh
echo "$@" >> %q
sleep 60
exit 0
`

func testWorkspace(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.MkdirAll(filepath.Join(dir, "wordlists"), 0o700); err != nil {
		t.Fatal(err)
	}

	wordlist := filepath.Join(dir, "wordlists", "top100k.txt")
	if err := os.WriteFile(wordlist, []byte("password\n123456\n12345678\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	hashFile := filepath.Join(dir, "hashes.txt")
	if err := os.WriteFile(hashFile, []byte(strings.Join(targetHashes, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	return dir, hashFile
}

func fakeBinary(t *testing.T, dir, script, argsLog string) string {
	t.Helper()

	path := filepath.Join(dir, "fakecracker.sh")
	if err := os.WriteFile(path, []byte(fmt.Sprintf(script, argsLog)), 0o700); err != nil {
		t.Fatal(err)
	}

	return path
}

func testConfig(t *testing.T, dir, binary string) config.Config {
	t.Helper()

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: dir,
		Overrides: config.Config{
			SessionsRoot:  filepath.Join(dir, "sessions"),
			CrackerBinary: binary,
		},
		Env: map[string]string{"HOME": dir},
	})
	if err != nil {
		t.Fatal(err)
	}

	return cfg
}

func TestRunCracksEverything(t *testing.T) {
	dir, hashFile := testWorkspace(t)

	argsLog := filepath.Join(dir, "args.log")
	binary := fakeBinary(t, dir, crackAllScript, argsLog)
	cfg := testConfig(t, dir, binary)

	eng := New(cfg, zap.NewNop(), Options{
		HashFile:    hashFile,
		SessionName: "crack_all",
	})

	summary, err := eng.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if got, want := summary.Status, session.StatusCompleted; got != want {
		t.Fatalf("status=%q, want=%q", got, want)
	}

	if got, want := summary.Stats.Cracked, 3; got != want {
		t.Fatalf("cracked=%d, want=%d", got, want)
	}

	if got, want := summary.Stats.Remaining, 0; got != want {
		t.Fatalf("remaining=%d, want=%d", got, want)
	}

	// One attack cracked everything; the queue was not drained.
	if len(summary.Attacks) != 1 {
		t.Fatalf("attacks=%d, want=1", len(summary.Attacks))
	}

	if len(summary.Cracked) != 3 {
		t.Fatalf("cracked records=%d, want=3", len(summary.Cracked))
	}

	// The child saw the session name and potfile flags.
	args, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"--session crack_all", "--potfile-path", "--quiet"} {
		if !strings.Contains(string(args), want) {
			t.Fatalf("child argv %q missing %q", args, want)
		}
	}
}

func TestRunExhaustsPlan(t *testing.T) {
	dir, hashFile := testWorkspace(t)

	binary := fakeBinary(t, dir, crackNothingScript, filepath.Join(dir, "args.log"))
	cfg := testConfig(t, dir, binary)

	eng := New(cfg, zap.NewNop(), Options{
		HashFile:    hashFile,
		SessionName: "exhausted_plan",
	})

	summary, err := eng.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Every attack ran and exhausted; nothing cracked.
	if got, want := summary.Status, session.StatusCompleted; got != want {
		t.Fatalf("status=%q, want=%q", got, want)
	}

	if got, want := summary.Stats.Cracked, 0; got != want {
		t.Fatalf("cracked=%d, want=%d", got, want)
	}

	if len(summary.Attacks) < 2 {
		t.Fatalf("attacks=%d, want the full plan to run", len(summary.Attacks))
	}
}

func TestTimeoutPausesThenResumeRestoresOnce(t *testing.T) {
	dir, hashFile := testWorkspace(t)

	argsLog := filepath.Join(dir, "args.log")
	binary := fakeBinary(t, dir, hangScript, argsLog)
	cfg := testConfig(t, dir, binary)

	eng := New(cfg, zap.NewNop(), Options{
		HashFile:      hashFile,
		SessionName:   "timeout_resume",
		AttackTimeout: 300 * time.Millisecond,
	})

	summary, err := eng.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if got, want := summary.Status, session.StatusPaused; got != want {
		t.Fatalf("status after timeout=%q, want=%q", got, want)
	}

	if got, want := string(summary.Attacks[0].Disposition), "timeout"; got != want {
		t.Fatalf("disposition=%q, want=%q", got, want)
	}

	// The cracker left a native restore file behind.
	restorePath := filepath.Join(dir, "sessions", "session_timeout_resume", "timeout_resume.restore")
	if err := os.WriteFile(restorePath, []byte{0x01}, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(argsLog); err != nil {
		t.Fatal(err)
	}

	resumed := New(testConfig(t, dir, fakeBinary(t, dir, crackNothingScript, argsLog)), zap.NewNop(), Options{
		ResumeID: "timeout_resume",
	})

	if _, err := resumed.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	args, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatal("resume launched no attacks")
	}

	// Restore flag rides on exactly the first post-resume attack.
	if !strings.Contains(lines[0], "--restore") {
		t.Fatalf("first post-resume argv %q missing --restore", lines[0])
	}

	for _, line := range lines[1:] {
		if strings.Contains(line, "--restore") {
			t.Fatalf("restore flag leaked onto a later attack: %q", line)
		}
	}
}

func TestPrepareKeepsCreatedUntilFirstAttack(t *testing.T) {
	dir, hashFile := testWorkspace(t)

	binary := fakeBinary(t, dir, crackAllScript, filepath.Join(dir, "args.log"))
	cfg := testConfig(t, dir, binary)

	eng := New(cfg, zap.NewNop(), Options{
		HashFile:    hashFile,
		SessionName: "warming_up",
	})

	if err := eng.prepare(context.Background()); err != nil {
		t.Fatal(err)
	}

	defer func() {
		_ = eng.store.ReleaseLease(eng.state.ID)
		_ = eng.index.Shutdown()
	}()

	loaded, err := eng.store.Load("warming_up")
	if err != nil {
		t.Fatal(err)
	}

	if got, want := loaded.Status, session.StatusCreated; got != want {
		t.Fatalf("status=%q, want=%q", got, want)
	}

	if loaded.CurrentAttack != nil {
		t.Fatalf("CurrentAttack=%q before the first attack, want none", loaded.CurrentAttack.Name)
	}

	if len(loaded.PendingAttacks) == 0 {
		t.Fatal("no pending attacks checkpointed")
	}
}

func TestRunFailsWithoutPlannableAttacks(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	// A file with no valid hash lines gives the planner nothing to
	// work with; the run must fail before launching anything.
	hashFile := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(hashFile, []byte("# only comments\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, dir, fakeBinary(t, dir, crackNothingScript, filepath.Join(dir, "args.log")))

	eng := New(cfg, zap.NewNop(), Options{
		HashFile:    hashFile,
		SessionName: "nothing_to_do",
	})

	_, err := eng.Run(context.Background())
	if err == nil {
		t.Fatal("run with no plannable attacks succeeded")
	}
}

func TestResumeUnknownSession(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg := testConfig(t, dir, "hashcat")

	eng := New(cfg, zap.NewNop(), Options{ResumeID: "ghost"})

	_, err := eng.Run(context.Background())
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("err=%v, want ErrSessionNotFound", err)
	}
}
