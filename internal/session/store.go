package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"hashwrap/internal/fs"
	"hashwrap/internal/sandbox"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrHashFileMissing = errors.New("original hash file no longer exists")
	ErrLockContended   = errors.New("session lock contended")
)

const (
	// DefaultCheckpointInterval rate-limits periodic checkpoints.
	// Forced checkpoints (status transition, attack start/complete,
	// ingestion, pause, shutdown) bypass it.
	DefaultCheckpointInterval = 60 * time.Second

	lockAttempts    = 5
	lockBackoffBase = 100 * time.Millisecond

	dirPerm  = 0o700
	filePerm = 0o600

	indexFile   = "sessions.json"
	recordFile  = "session.json"
	tmpFile     = "session.tmp"
	lockFile    = "session.lock"
	potfileName = "hashwrap.potfile"
)

// Store lays sessions out under a root directory:
//
//	<root>/
//	  sessions.json            id -> directory index
//	  session_<id>/
//	    session.json           canonical record
//	    session.tmp            transient checkpoint staging
//	    session.lock           checkpoint + single-instance lock
//	    hashwrap.potfile       per-session potfile
type Store struct {
	fsys   fs.FS
	locker *fs.Locker
	log    *zap.Logger
	root   string

	interval time.Duration

	mu     sync.Mutex
	last   map[string]time.Time
	leases map[string]*fs.Lock

	// publishMu serializes the tmp-write/rename section. The flock
	// excludes other processes only; within one process the engine
	// loop, the signal path and the fatal-fault cleanup can force
	// checkpoints concurrently, and they share the tmp path.
	publishMu sync.Mutex
}

// NewStore returns a Store rooted at dir.
func NewStore(fsys fs.FS, log *zap.Logger, root string) *Store {
	return &Store{
		fsys:     fsys,
		locker:   fs.NewLocker(fsys),
		log:      log,
		root:     root,
		interval: DefaultCheckpointInterval,
		last:     make(map[string]time.Time),
		leases:   make(map[string]*fs.Lock),
	}
}

// SetCheckpointInterval overrides the periodic checkpoint rate limit.
func (s *Store) SetCheckpointInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = d
}

// Dir returns the session directory for an id.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.root, "session_"+id)
}

// RecordPath returns the canonical session record path.
func (s *Store) RecordPath(id string) string {
	return filepath.Join(s.Dir(id), recordFile)
}

// PotfilePath returns the per-session potfile path.
func (s *Store) PotfilePath(id string) string {
	return filepath.Join(s.Dir(id), potfileName)
}

// RestorePath returns where the cracker writes its native restore
// file for this session.
func (s *Store) RestorePath(id string) string {
	return filepath.Join(s.Dir(id), id+".restore")
}

func (s *Store) lockPath(id string) string {
	return filepath.Join(s.Dir(id), lockFile)
}

func (s *Store) tmpPath(id string) string {
	return filepath.Join(s.Dir(id), tmpFile)
}

// Create materializes the session directory and writes the first
// checkpoint.
func (s *Store) Create(ctx context.Context, state *State) error {
	if err := sandbox.ValidateSessionName(state.ID); err != nil {
		return err
	}

	if err := s.fsys.MkdirAll(s.Dir(state.ID), dirPerm); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	state.Potfile = s.PotfilePath(state.ID)

	return s.Checkpoint(ctx, state, true)
}

// AcquireLease takes the session lock for the lifetime of an engine
// run, guarding against a second engine instance on the same session
// directory. While the lease is held, checkpoints piggyback on it
// instead of re-locking. The caller releases it at shutdown.
func (s *Store) AcquireLease(id string) error {
	lock, err := s.locker.TryLock(s.lockPath(id))
	if errors.Is(err, fs.ErrWouldBlock) {
		return fmt.Errorf("%w: another engine owns session %s", ErrLockContended, id)
	}

	if err != nil {
		return err
	}

	s.mu.Lock()
	s.leases[id] = lock
	s.mu.Unlock()

	return nil
}

// ReleaseLease drops the engine's session lock. No-op when none is
// held.
func (s *Store) ReleaseLease(id string) error {
	s.mu.Lock()
	lock, ok := s.leases[id]
	delete(s.leases, id)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	return lock.Close()
}

func (s *Store) leased(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.leases[id]

	return ok
}

// Checkpoint persists state using the lock/tmp/chmod/rename protocol.
// Non-forced checkpoints are rate-limited per session; forced ones
// always run.
func (s *Store) Checkpoint(ctx context.Context, state *State, force bool) error {
	if !force && !s.due(state.ID) {
		return nil
	}

	state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}

	// An engine holding the session lease already owns the lock file;
	// re-locking it would contend with ourselves.
	if !s.leased(state.ID) {
		lock, err := s.lockWithRetry(ctx, state.ID)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Close() }()
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	tmp := s.tmpPath(state.ID)

	if err := s.fsys.WriteFileAtomic(tmp, data, filePerm); err != nil {
		return fmt.Errorf("writing checkpoint tmp: %w", err)
	}

	if err := s.fsys.Chmod(tmp, filePerm); err != nil {
		return fmt.Errorf("restricting checkpoint perms: %w", err)
	}

	if err := s.fsys.Rename(tmp, s.RecordPath(state.ID)); err != nil {
		return fmt.Errorf("publishing checkpoint: %w", err)
	}

	if err := s.updateIndex(state); err != nil {
		return err
	}

	s.mu.Lock()
	s.last[state.ID] = time.Now()
	s.mu.Unlock()

	s.log.Debug("checkpoint written",
		zap.String("session", state.ID),
		zap.String("status", string(state.Status)),
		zap.Bool("forced", force))

	return nil
}

func (s *Store) due(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[id]

	return !ok || time.Since(last) >= s.interval
}

// lockWithRetry acquires the checkpoint lock with bounded retry: up to
// five attempts, exponential back-off starting at 100 ms.
func (s *Store) lockWithRetry(ctx context.Context, id string) (*fs.Lock, error) {
	var lock *fs.Lock

	backoff := retry.WithMaxRetries(lockAttempts-1, retry.NewExponential(lockBackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var tryErr error

		lock, tryErr = s.locker.TryLock(s.lockPath(id))
		if errors.Is(tryErr, fs.ErrWouldBlock) {
			return retry.RetryableError(tryErr)
		}

		return tryErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLockContended, id)
	}

	return lock, nil
}

// Load reads a session record by id.
func (s *Store) Load(id string) (*State, error) {
	if err := sandbox.ValidateSessionName(id); err != nil {
		return nil, err
	}

	data, err := s.fsys.ReadFile(s.RecordPath(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}

	return &state, nil
}

// Resume loads a session and prepares it for a new engine run: the
// original hash file must still exist, the status flips to Running,
// and Restorable is set when the cracker left a native restore file.
func (s *Store) Resume(ctx context.Context, id string) (*State, error) {
	state, err := s.Load(id)
	if err != nil {
		return nil, err
	}

	exists, err := s.fsys.Exists(state.HashFile)
	if err != nil {
		return nil, fmt.Errorf("checking hash file: %w", err)
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHashFileMissing, state.HashFile)
	}

	restorable, err := s.fsys.Exists(s.RestorePath(id))
	if err != nil {
		return nil, fmt.Errorf("checking restore file: %w", err)
	}

	state.Status = StatusRunning
	state.Restorable = restorable

	if err := s.Checkpoint(ctx, state, true); err != nil {
		return nil, err
	}

	s.log.Info("session resumed",
		zap.String("session", id),
		zap.Int("pending_attacks", len(state.PendingAttacks)),
		zap.Bool("restorable", restorable))

	return state, nil
}

// List returns a summary for every indexed session, newest first.
func (s *Store) List() ([]Summary, error) {
	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(index))

	for id := range index {
		state, err := s.Load(id)
		if err != nil {
			// Stale index row; the session dir was removed by hand.
			s.log.Warn("skipping unloadable session", zap.String("session", id), zap.Error(err))

			continue
		}

		out = append(out, Summary{
			ID:        state.ID,
			Status:    state.Status,
			UpdatedAt: state.UpdatedAt,
			Cracked:   state.Stats.Cracked,
			Total:     state.Stats.Total,
			Dir:       index[id],
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, indexFile)
}

func (s *Store) readIndex() (map[string]string, error) {
	data, err := s.fsys.ReadFile(s.indexPath())
	if err != nil {
		exists, statErr := s.fsys.Exists(s.indexPath())
		if statErr == nil && !exists {
			return map[string]string{}, nil
		}

		return nil, fmt.Errorf("reading sessions index: %w", err)
	}

	index := make(map[string]string)
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decoding sessions index: %w", err)
	}

	return index, nil
}

func (s *Store) updateIndex(state *State) error {
	index, err := s.readIndex()
	if err != nil {
		return err
	}

	index[state.ID] = s.Dir(state.ID)

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing sessions index: %w", err)
	}

	if err := s.fsys.WriteFileAtomic(s.indexPath(), data, filePerm); err != nil {
		return fmt.Errorf("writing sessions index: %w", err)
	}

	return nil
}
