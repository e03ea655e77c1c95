package faults

import (
	"context"
	"encoding/json"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"hashwrap/internal/config"
	"hashwrap/internal/fs"
	"hashwrap/internal/sandbox"
)

func TestClassifyTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		err          error
		wantKind     Kind
		wantSeverity Severity
	}{
		{"not found", iofs.ErrNotExist, KindFileAccess, SeverityRecoverable},
		{"permission", iofs.ErrPermission, KindFileAccess, SeverityCritical},
		{"deadline", context.DeadlineExceeded, KindProcess, SeverityRecoverable},
		{"mask outside safe set", sandbox.ErrInvalidMask, KindSecurity, SeverityFatal},
		{"path escape", sandbox.ErrOutsideRoots, KindSecurity, SeverityFatal},
		{"invalid hash", sandbox.ErrInvalidHash, KindValidation, SeverityCritical},
		{"bad config", config.ErrConfigInvalid, KindConfiguration, SeverityRecoverable},
		{"unknown", errors.New("mystery"), KindUnknown, SeverityCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			kind, severity := Classify(tc.err)
			if kind != tc.wantKind || severity != tc.wantSeverity {
				t.Fatalf("Classify=%v/%v, want=%v/%v", kind, severity, tc.wantKind, tc.wantSeverity)
			}
		})
	}
}

func TestWrapKeepsExistingClassification(t *testing.T) {
	t.Parallel()

	inner := New(KindResource, SeverityDegraded, "materializing", errors.New("disk full"))

	wrapped := Wrap("running attack", inner)
	if got, want := wrapped.Kind, KindResource; got != want {
		t.Fatalf("Kind=%v, want=%v", got, want)
	}

	if got, want := wrapped.Op, "running attack"; got != want {
		t.Fatalf("Op=%q, want=%q", got, want)
	}

	if !errors.Is(wrapped, inner.Err) {
		t.Fatal("wrapped fault lost the cause chain")
	}
}

func TestFaultErrorString(t *testing.T) {
	t.Parallel()

	f := New(KindValidation, SeverityCritical, "parsing mode", errors.New("not an integer"))

	msg := f.Error()
	for _, want := range []string{"parsing mode", "not an integer", "validation", "critical"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Error()=%q missing %q", msg, want)
		}
	}
}

func testHandler(t *testing.T) (*Handler, string) {
	t.Helper()

	dir := t.TempDir()

	return NewHandler(fs.NewReal(), zap.NewNop(), dir), dir
}

func TestRecoveryRunsAtMostOnce(t *testing.T) {
	t.Parallel()

	h, _ := testHandler(t)

	f := New(KindNetwork, SeverityRecoverable, "fetching wordlist", errors.New("timeout"))

	if advice := h.Handle(f); advice == nil || !advice.Retry {
		t.Fatalf("first handle advice=%+v, want retry", advice)
	}

	if advice := h.Handle(f); advice != nil {
		t.Fatalf("second handle advice=%+v, want nil", advice)
	}
}

func TestFileAccessRecoveryPrefersAlternates(t *testing.T) {
	t.Parallel()

	h, dir := testHandler(t)

	alt := filepath.Join(dir, "rockyou.txt")
	if err := os.WriteFile(alt, []byte("password\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	f := New(KindFileAccess, SeverityRecoverable, "opening wordlist", iofs.ErrNotExist).
		With("alternatives", "/nonexistent/a"+string(os.PathListSeparator)+alt)

	advice := h.Handle(f)
	if advice == nil {
		t.Fatal("no advice for recoverable file fault with a live alternate")
	}

	if got, want := advice.AlternatePath, alt; got != want {
		t.Fatalf("AlternatePath=%q, want=%q", got, want)
	}
}

func TestProcessRecoveryDoublesTimeout(t *testing.T) {
	t.Parallel()

	h, _ := testHandler(t)

	f := New(KindProcess, SeverityRecoverable, "running attack", context.DeadlineExceeded).
		With("timeout", "30s")

	advice := h.Handle(f)
	if advice == nil || !advice.Retry {
		t.Fatalf("advice=%+v, want retry", advice)
	}

	if got, want := advice.Timeout, 60*time.Second; got != want {
		t.Fatalf("Timeout=%v, want=%v", got, want)
	}
}

func TestResourceRecoveryCleansTempFiles(t *testing.T) {
	t.Parallel()

	h, _ := testHandler(t)

	straggler := filepath.Join(os.TempDir(), "hashwrap_test_straggler")
	if err := os.WriteFile(straggler, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = os.Remove(straggler) })

	f := New(KindResource, SeverityDegraded, "materializing", errors.New("no space")).
		With("resource", "disk")

	advice := h.Handle(f)
	if advice == nil || !advice.CleanedTemp {
		t.Fatalf("advice=%+v, want cleaned temp", advice)
	}

	if _, err := os.Stat(straggler); !os.IsNotExist(err) {
		t.Fatalf("temp straggler survived cleanup: err=%v", err)
	}
}

func TestFatalFaultWritesCrashReportAndRunsCleanups(t *testing.T) {
	t.Parallel()

	h, dir := testHandler(t)

	var order []string

	h.RegisterCleanup(func() { order = append(order, "first") })
	h.RegisterCleanup(func() { order = append(order, "second") })

	// A prior fault shows up in the report's history tail.
	h.Handle(New(KindFileAccess, SeverityCritical, "earlier op", errors.New("earlier error")))

	f := New(KindSecurity, SeverityFatal, "building argv", sandbox.ErrInvalidMask).
		With("mask", "?l;rm")

	if advice := h.Handle(f); advice != nil {
		t.Fatalf("fatal fault produced advice: %+v", advice)
	}

	// Cleanups run newest-first.
	if got, want := strings.Join(order, ","), "second,first"; got != want {
		t.Fatalf("cleanup order=%q, want=%q", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var reportPath string

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "hashwrap_crash_") && strings.HasSuffix(entry.Name(), ".json") {
			reportPath = filepath.Join(dir, entry.Name())
		}
	}

	if reportPath == "" {
		t.Fatalf("no crash report in %s", dir)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}

	var report struct {
		FaultID string `json:"fault_id"`
		Kind    Kind   `json:"kind"`
		Stack   string `json:"stack"`
		History []struct {
			Operation string `json:"operation"`
		} `json:"history"`
	}

	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}

	if got, want := report.FaultID, f.ID; got != want {
		t.Fatalf("FaultID=%q, want=%q", got, want)
	}

	if report.Stack == "" {
		t.Fatal("crash report has no stack")
	}

	if len(report.History) < 2 {
		t.Fatalf("history=%d entries, want the prior fault included", len(report.History))
	}
}

func TestSummarizeCounts(t *testing.T) {
	t.Parallel()

	h, _ := testHandler(t)

	h.Handle(New(KindFileAccess, SeverityCritical, "a", errors.New("x")))
	h.Handle(New(KindFileAccess, SeverityCritical, "b", errors.New("y")))
	h.Handle(New(KindProcess, SeverityRecoverable, "c", errors.New("z")))

	s := h.Summarize()

	if got, want := s.Total, 3; got != want {
		t.Fatalf("Total=%d, want=%d", got, want)
	}

	if got, want := s.ByKind[KindFileAccess], 2; got != want {
		t.Fatalf("ByKind[file_access]=%d, want=%d", got, want)
	}

	if got, want := s.BySeverity["recoverable"], 1; got != want {
		t.Fatalf("BySeverity[recoverable]=%d, want=%d", got, want)
	}
}
