// Package hashdb maintains the set of target hashes versus cracked
// results for one engine session.
//
// The index has two modes. Hash files up to 50 MB are held fully in
// memory. Above that the index goes streaming: it records the total by
// a single counting pass, keeps only a bounded sample for analysis,
// and materializes the remaining set by re-streaming the source file
// against the cracked key set.
package hashdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hashwrap/internal/fs"
)

const (
	// DefaultStreamingThreshold is the hash-file size at which the
	// index stops loading the full target set into memory.
	DefaultStreamingThreshold = 50 * 1024 * 1024

	// DefaultSampleCap bounds the analysis sample in streaming mode.
	DefaultSampleCap = 100_000

	notifyBuffer = 64

	remainingFilePerm = 0o600
)

// Record is a target hash and, once known, its plaintext.
type Record struct {
	Hash      string    `json:"hash"`
	Plaintext string    `json:"plaintext"`
	CrackedAt time.Time `json:"cracked_at"`
	CrackedBy string    `json:"cracked_by"`
}

// Stats is a point-in-time summary of the index.
type Stats struct {
	Total     int `json:"total"`
	Cracked   int `json:"cracked"`
	Remaining int `json:"remaining"`
}

// ReloadResult is what one potfile reload observed.
type ReloadResult struct {
	NewlyCracked []Record
	TotalCracked int
	Remaining    int
	AllCracked   bool
}

// Option configures an [Index].
type Option func(*Index)

// WithStreamingThreshold overrides the 50 MB streaming cutover.
func WithStreamingThreshold(n int64) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.threshold = n
		}
	}
}

// WithSampleCap overrides the streaming-mode analysis sample bound.
func WithSampleCap(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.sampleCap = n
		}
	}
}

// Index tracks original, cracked, and remaining hashes.
//
// All exported methods are safe for concurrent use; a single mutex
// serializes mutation. Hot-loaded additions are announced on the
// channel returned by [Index.Notifications] as "N new hashes"; the
// channel is bounded and sends never block, so a reader must treat any
// received value as "at least one batch arrived".
type Index struct {
	mu sync.Mutex

	fsys fs.FS
	log  *zap.Logger

	hashFile  string
	pot       *PotReader
	threshold int64
	sampleCap int

	streaming bool
	total     int

	// order preserves hash-file order for materialization; nil in
	// streaming mode where the source file is re-streamed instead.
	order   []string
	members map[string]struct{}

	// added holds hot-loaded hashes in both modes.
	addedOrder []string
	added      map[string]struct{}

	cracked map[string]*Record
	sample  []string

	currentAttack string

	notify    chan int
	tempFiles []string
	shutdown  bool
}

// NewIndex builds the index for hashFile, loading or counting it
// according to size, and tails the potfile at potPath for results.
func NewIndex(fsys fs.FS, log *zap.Logger, hashFile, potPath string, opts ...Option) (*Index, error) {
	ix := &Index{
		fsys:      fsys,
		log:       log,
		hashFile:  hashFile,
		pot:       NewPotReader(fsys, potPath),
		threshold: DefaultStreamingThreshold,
		sampleCap: DefaultSampleCap,
		members:   make(map[string]struct{}),
		added:     make(map[string]struct{}),
		cracked:   make(map[string]*Record),
		notify:    make(chan int, notifyBuffer),
	}

	for _, opt := range opts {
		opt(ix)
	}

	info, err := fsys.Stat(hashFile)
	if err != nil {
		return nil, fmt.Errorf("stat hash file: %w", err)
	}

	ix.streaming = info.Size() > ix.threshold

	if err := ix.load(); err != nil {
		return nil, err
	}

	mode := "in-memory"
	if ix.streaming {
		mode = "streaming"
	}

	log.Info("hash index loaded",
		zap.String("file", hashFile),
		zap.String("mode", mode),
		zap.Int("total", ix.total))

	return ix, nil
}

func (ix *Index) load() error {
	return ix.eachSourceLine(func(line string) {
		ix.total++

		if ix.streaming {
			if len(ix.sample) < ix.sampleCap {
				ix.sample = append(ix.sample, line)
			}

			return
		}

		if _, dup := ix.members[line]; !dup {
			ix.members[line] = struct{}{}
			ix.order = append(ix.order, line)
		}
	})
}

// eachSourceLine streams the hash file, skipping blanks and comments.
func (ix *Index) eachSourceLine(fn func(line string)) error {
	f, err := ix.fsys.Open(ix.hashFile)
	if err != nil {
		return fmt.Errorf("opening hash file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fn(line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading hash file: %w", err)
	}

	return nil
}

// Streaming reports whether the index is in streaming mode.
func (ix *Index) Streaming() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.streaming
}

// Sample returns the bounded analysis sample (streaming mode) or nil.
func (ix *Index) Sample() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]string, len(ix.sample))
	copy(out, ix.sample)

	return out
}

// SetCurrentAttack names the attack that gets credited with cracks
// discovered on subsequent reloads.
func (ix *Index) SetCurrentAttack(name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.currentAttack = name
}

// Notifications returns the bounded new-hashes signal channel.
func (ix *Index) Notifications() <-chan int {
	return ix.notify
}

// ReloadPotfile reads any new potfile records and folds them into the
// cracked set. A hash cracks at most once; the first attack to report
// it keeps the credit even if a later attack reports it again.
func (ix *Index) ReloadPotfile() (ReloadResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cracks, err := ix.pot.NewCracks()
	if err != nil {
		return ReloadResult{}, err
	}

	var newly []Record

	now := time.Now().UTC()

	for _, c := range cracks {
		if _, done := ix.cracked[c.Hash]; done {
			continue
		}

		if !ix.isTarget(c.Hash) {
			continue
		}

		rec := &Record{
			Hash:      c.Hash,
			Plaintext: c.Plaintext,
			CrackedAt: now,
			CrackedBy: ix.currentAttack,
		}
		ix.cracked[c.Hash] = rec
		newly = append(newly, *rec)
	}

	res := ReloadResult{
		NewlyCracked: newly,
		TotalCracked: len(ix.cracked),
		Remaining:    ix.remainingLocked(),
	}
	res.AllCracked = res.Remaining == 0 && ix.total > 0

	if len(newly) > 0 {
		ix.log.Info("potfile reload", zap.Int("new", len(newly)), zap.Int("remaining", res.Remaining))
	}

	return res, nil
}

// isTarget reports whether hash belongs to the target set. In
// streaming mode membership of the source file cannot be checked
// without a full pass, and the potfile is per-session anyway, so any
// reported crack counts.
func (ix *Index) isTarget(hash string) bool {
	if ix.streaming {
		return true
	}

	if _, ok := ix.members[hash]; ok {
		return true
	}

	_, ok := ix.added[hash]

	return ok
}

// AddHashes inserts hot-loaded hashes, returning how many were new.
// Lines are expected to be validated already; duplicates of existing
// targets are dropped.
func (ix *Index) AddHashes(lines []string) int {
	ix.mu.Lock()

	var count int

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if _, ok := ix.added[line]; ok {
			continue
		}

		if !ix.streaming {
			if _, ok := ix.members[line]; ok {
				continue
			}
		}

		ix.added[line] = struct{}{}
		ix.addedOrder = append(ix.addedOrder, line)
		ix.total++
		count++
	}

	ix.mu.Unlock()

	if count > 0 {
		select {
		case ix.notify <- count:
		default:
			// Channel full. Readers coalesce: any pending value
			// already means "go look at the index".
		}

		ix.log.Info("hashes added", zap.Int("count", count))
	}

	return count
}

// Stats returns current totals.
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return Stats{
		Total:     ix.total,
		Cracked:   len(ix.cracked),
		Remaining: ix.remainingLocked(),
	}
}

// RemainingCount returns |original \ cracked|.
func (ix *Index) RemainingCount() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.remainingLocked()
}

func (ix *Index) remainingLocked() int {
	remaining := ix.total - len(ix.cracked)
	if remaining < 0 {
		// Streaming mode can observe potfile records for hashes that
		// were deduplicated out of the count.
		remaining = 0
	}

	return remaining
}

// ShouldContinue reports whether uncracked targets remain.
func (ix *Index) ShouldContinue() bool {
	return ix.RemainingCount() > 0
}

// CrackedRecords returns a copy of all cracked records.
func (ix *Index) CrackedRecords() []Record {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]Record, 0, len(ix.cracked))
	for _, rec := range ix.cracked {
		out = append(out, *rec)
	}

	return out
}

// MaterializeRemaining writes the current uncracked set to a new
// owner-only temp file and returns its path. The file is tracked and
// secure-deleted on [Index.Shutdown]; callers that finish with it
// earlier should remove it themselves via [fs.SecureRemove].
func (ix *Index) MaterializeRemaining() (string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	path := filepath.Join(os.TempDir(), "hashwrap_remaining_"+uuid.NewString()+".txt")

	f, err := ix.fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, remainingFilePerm)
	if err != nil {
		return "", fmt.Errorf("creating remaining file: %w", err)
	}

	w := bufio.NewWriter(f)

	writeLine := func(line string) error {
		if _, err := w.WriteString(line); err != nil {
			return err
		}

		return w.WriteByte('\n')
	}

	var writeErr error

	if ix.streaming {
		writeErr = ix.eachSourceLine(func(line string) {
			if writeErr != nil {
				return
			}

			if _, done := ix.cracked[line]; !done {
				writeErr = writeLine(line)
			}
		})
	} else {
		for _, line := range ix.order {
			if _, done := ix.cracked[line]; done {
				continue
			}

			if writeErr = writeLine(line); writeErr != nil {
				break
			}
		}
	}

	if writeErr == nil {
		for _, line := range ix.addedOrder {
			if _, done := ix.cracked[line]; done {
				continue
			}

			if writeErr = writeLine(line); writeErr != nil {
				break
			}
		}
	}

	if writeErr == nil {
		writeErr = w.Flush()
	}

	closeErr := f.Close()

	if writeErr != nil || closeErr != nil {
		_ = ix.fsys.Remove(path)

		if writeErr != nil {
			return "", fmt.Errorf("writing remaining file: %w", writeErr)
		}

		return "", fmt.Errorf("closing remaining file: %w", closeErr)
	}

	ix.tempFiles = append(ix.tempFiles, path)

	return path, nil
}

// ReleaseRemaining secure-deletes one materialized file and stops
// tracking it.
func (ix *Index) ReleaseRemaining(path string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	return ix.releaseLocked(path)
}

func (ix *Index) releaseLocked(path string) error {
	if err := fs.SecureRemove(ix.fsys, path); err != nil {
		return err
	}

	for i, p := range ix.tempFiles {
		if p == path {
			ix.tempFiles = append(ix.tempFiles[:i], ix.tempFiles[i+1:]...)

			break
		}
	}

	return nil
}

// Shutdown secure-deletes every tracked remaining file. Safe to call
// more than once.
func (ix *Index) Shutdown() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.shutdown {
		return nil
	}

	ix.shutdown = true

	var firstErr error

	for _, path := range append([]string(nil), ix.tempFiles...) {
		if err := ix.releaseLocked(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	ix.tempFiles = nil

	return firstErr
}
