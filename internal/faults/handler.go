package faults

import (
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hashwrap/internal/fs"
)

// historyCap bounds the in-memory fault history.
const historyCap = 100

// crashHistoryTail is how many recent faults a crash report carries.
const crashHistoryTail = 10

// Advice is a handler's recovery suggestion. The caller decides what
// to do with it; the handler never mutates engine state itself.
type Advice struct {
	Retry         bool          `json:"retry,omitempty"`
	Backoff       time.Duration `json:"backoff,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	AlternatePath string        `json:"alternate_path,omitempty"`
	ReduceBatch   bool          `json:"reduce_batch,omitempty"`
	UseCPU        bool          `json:"use_cpu,omitempty"`
	CleanedTemp   bool          `json:"cleaned_temp,omitempty"`
}

// Handler owns the fault history, recovery strategies and crash
// reporting for one engine process.
type Handler struct {
	fsys     fs.FS
	log      *zap.Logger
	crashDir string

	mu        sync.Mutex
	history   []*Fault
	cleanups  []func()
	recovered map[string]bool
}

// NewHandler returns a handler writing crash reports into crashDir.
func NewHandler(fsys fs.FS, log *zap.Logger, crashDir string) *Handler {
	return &Handler{
		fsys:      fsys,
		log:       log,
		crashDir:  crashDir,
		recovered: make(map[string]bool),
	}
}

// RegisterCleanup adds a function run (once, last-registered first)
// when a fatal fault is handled.
func (h *Handler) RegisterCleanup(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cleanups = append(h.cleanups, fn)
}

// Handle logs and records the fault, then applies policy by severity:
// fatal faults get a crash report and run the registered cleanups;
// recoverable and degraded faults get at most one recovery attempt;
// critical faults are recorded only. The returned advice is nil when
// there is nothing useful to suggest.
func (h *Handler) Handle(f *Fault) *Advice {
	h.log.Error("fault",
		zap.String("fault_id", f.ID),
		zap.String("op", f.Op),
		zap.String("kind", string(f.Kind)),
		zap.Stringer("severity", f.Severity),
		zap.Error(f.Err))

	h.mu.Lock()
	h.history = append(h.history, f)
	if len(h.history) > historyCap {
		h.history = h.history[len(h.history)-historyCap:]
	}
	h.mu.Unlock()

	switch f.Severity {
	case SeverityFatal:
		h.crash(f)

		return nil
	case SeverityRecoverable, SeverityDegraded:
		return h.recover(f)
	default:
		return nil
	}
}

// recover dispatches to the per-kind strategy, at most once per fault.
func (h *Handler) recover(f *Fault) *Advice {
	h.mu.Lock()
	if h.recovered[f.ID] {
		h.mu.Unlock()
		h.log.Warn("recovery already attempted", zap.String("fault_id", f.ID))

		return nil
	}

	h.recovered[f.ID] = true
	h.mu.Unlock()

	var advice *Advice

	switch f.Kind {
	case KindFileAccess:
		advice = h.recoverFileAccess(f)
	case KindProcess:
		advice = h.recoverProcess(f)
	case KindResource:
		advice = h.recoverResource(f)
	case KindNetwork:
		advice = h.recoverNetwork(f)
	default:
	}

	if advice != nil {
		h.log.Info("recovery advice",
			zap.String("fault_id", f.ID),
			zap.Any("advice", advice))
	}

	return advice
}

// recoverFileAccess tries operator-supplied alternate paths, then a
// temp-directory fallback for permission problems.
func (h *Handler) recoverFileAccess(f *Fault) *Advice {
	if alternates, ok := f.Context["alternatives"]; ok {
		for _, alt := range strings.Split(alternates, string(os.PathListSeparator)) {
			exists, err := h.fsys.Exists(alt)
			if err == nil && exists {
				return &Advice{AlternatePath: alt}
			}
		}
	}

	if errors.Is(f.Err, iofs.ErrPermission) {
		if path, ok := f.Context["path"]; ok {
			return &Advice{AlternatePath: filepath.Join(os.TempDir(), filepath.Base(path))}
		}
	}

	return nil
}

// recoverProcess doubles the timeout for deadline faults, up to three
// retries per fault lineage.
func (h *Handler) recoverProcess(f *Fault) *Advice {
	const maxRetries = 3

	if f.retries >= maxRetries {
		return nil
	}

	if timeout, ok := f.Context["timeout"]; ok {
		if d, err := time.ParseDuration(timeout); err == nil {
			f.retries++

			return &Advice{Retry: true, Timeout: d * 2}
		}
	}

	return nil
}

// recoverResource frees what it can and advises shrinking the
// workload.
func (h *Handler) recoverResource(f *Fault) *Advice {
	switch f.Context["resource"] {
	case "memory":
		debug.FreeOSMemory()

		return &Advice{ReduceBatch: true}
	case "gpu":
		return &Advice{UseCPU: true}
	case "disk":
		h.cleanTempFiles()

		return &Advice{CleanedTemp: true}
	default:
		return nil
	}
}

// recoverNetwork advises exponential backoff.
func (h *Handler) recoverNetwork(f *Fault) *Advice {
	const maxRetries = 3

	if f.retries >= maxRetries {
		return nil
	}

	f.retries++

	return &Advice{Retry: true, Backoff: time.Duration(1<<f.retries) * time.Second}
}

// cleanTempFiles removes leftover hashwrap temp files.
func (h *Handler) cleanTempFiles() {
	entries, err := h.fsys.ReadDir(os.TempDir())
	if err != nil {
		return
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "hashwrap_") {
			_ = h.fsys.Remove(filepath.Join(os.TempDir(), entry.Name()))
		}
	}
}

// crashReport is the on-disk shape of a fatal-fault report.
type crashReport struct {
	Timestamp string            `json:"timestamp"`
	FaultID   string            `json:"fault_id"`
	Operation string            `json:"operation"`
	Error     string            `json:"error"`
	Kind      Kind              `json:"kind"`
	Severity  string            `json:"severity"`
	Context   map[string]string `json:"context,omitempty"`
	Stack     string            `json:"stack"`
	History   []historyEntry    `json:"history"`
}

type historyEntry struct {
	FaultID   string `json:"fault_id"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
	Kind      Kind   `json:"kind"`
}

// crash writes the report and runs cleanups newest-first. The caller
// owns process exit.
func (h *Handler) crash(f *Fault) {
	now := time.Now()

	report := crashReport{
		Timestamp: now.UTC().Format(time.RFC3339),
		FaultID:   f.ID,
		Operation: f.Op,
		Error:     f.Err.Error(),
		Kind:      f.Kind,
		Severity:  f.Severity.String(),
		Context:   f.Context,
		Stack:     string(debug.Stack()),
	}

	h.mu.Lock()

	tail := h.history
	if len(tail) > crashHistoryTail {
		tail = tail[len(tail)-crashHistoryTail:]
	}

	for _, entry := range tail {
		report.History = append(report.History, historyEntry{
			FaultID:   entry.ID,
			Operation: entry.Op,
			Error:     entry.Err.Error(),
			Kind:      entry.Kind,
		})
	}

	cleanups := make([]func(), len(h.cleanups))
	copy(cleanups, h.cleanups)
	h.mu.Unlock()

	data, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		path := filepath.Join(h.crashDir, fmt.Sprintf("hashwrap_crash_%s.json", now.Format("20060102_150405")))
		if writeErr := h.fsys.WriteFileAtomic(path, data, 0o600); writeErr != nil {
			h.log.Error("crash report not written", zap.Error(writeErr))
		} else {
			h.log.Info("crash report written", zap.String("path", path))
		}
	}

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// Summary aggregates the history for the session summary.
type Summary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	ByKind     map[Kind]int   `json:"by_kind"`
}

// Summarize returns counts over the retained history.
func (h *Handler) Summarize() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Summary{
		Total:      len(h.history),
		BySeverity: make(map[string]int),
		ByKind:     make(map[Kind]int),
	}

	for _, f := range h.history {
		s.BySeverity[f.Severity.String()]++
		s.ByKind[f.Kind]++
	}

	return s
}
