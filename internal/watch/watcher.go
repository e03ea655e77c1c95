// Package watch feeds the hash index while the engine runs: it polls
// watched hash files for appended lines and drains an ingestion
// directory the operator can drop new hash files into.
package watch

import (
	"bufio"
	"context"
	"crypto/md5" //nolint:gosec // change detection only, not integrity
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"hashwrap/internal/fs"
	"hashwrap/internal/hashdb"
	"hashwrap/internal/sandbox"
)

const (
	// DefaultInterval is the poll cadence. Filesystem notifications,
	// when available, wake the poll early; the poll remains the
	// correctness mechanism.
	DefaultInterval = 5 * time.Second

	// tailHashWindow bounds the change-detection hash to the file's
	// last megabyte so huge hash files stay cheap to fingerprint.
	tailHashWindow = 1 << 20

	processedDir = "processed"
	dirPerm      = 0o700
)

// ingestExtensions are the file extensions the ingestion directory
// accepts.
var ingestExtensions = map[string]bool{
	".txt":    true,
	".lst":    true,
	".hashes": true,
}

// fingerprint is the cheap change-detection triple for a watched file.
type fingerprint struct {
	mtime time.Time
	size  int64
	tail  [md5.Size]byte
}

// Watcher polls a set of hash files for growth and an optional
// ingestion directory for dropped files, validating every line before
// it reaches the index.
type Watcher struct {
	fsys     fs.FS
	log      *zap.Logger
	index    *hashdb.Index
	interval time.Duration

	ingestDir string

	mu      sync.Mutex
	watched map[string]fingerprint
}

// Option configures a [Watcher].
type Option func(*Watcher)

// WithInterval overrides the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.interval = d
	}
}

// WithIngestionDir enables the drop directory.
func WithIngestionDir(dir string) Option {
	return func(w *Watcher) {
		w.ingestDir = dir
	}
}

// New returns a watcher feeding the given index.
func New(fsys fs.FS, log *zap.Logger, index *hashdb.Index, opts ...Option) *Watcher {
	w := &Watcher{
		fsys:     fsys,
		log:      log,
		index:    index,
		interval: DefaultInterval,
		watched:  make(map[string]fingerprint),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Watch registers a file. The current content is the baseline; only
// growth past it is ingested.
func (w *Watcher) Watch(path string) error {
	fp, err := w.fingerprint(path)
	if err != nil {
		return fmt.Errorf("fingerprinting %s: %w", path, err)
	}

	w.mu.Lock()
	w.watched[path] = fp
	w.mu.Unlock()

	w.log.Info("watching hash file", zap.String("path", path), zap.Int64("size", fp.size))

	return nil
}

// Run polls until the context is cancelled. A filesystem notifier, if
// one can be established, wakes the poll early on writes; its failure
// is logged and ignored.
func (w *Watcher) Run(ctx context.Context) {
	nudge := w.notifications(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-nudge:
		}

		w.Sweep()
	}
}

// notifications wires fsnotify to the watched files' directories and
// the ingestion dir. Best effort: polling covers everything it misses.
func (w *Watcher) notifications(ctx context.Context) <-chan struct{} {
	nudge := make(chan struct{}, 1)

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Debug("fsnotify unavailable, polling only", zap.Error(err))

		return nudge
	}

	dirs := make(map[string]bool)

	w.mu.Lock()
	for path := range w.watched {
		dirs[filepath.Dir(path)] = true
	}
	w.mu.Unlock()

	if w.ingestDir != "" {
		dirs[w.ingestDir] = true
	}

	for dir := range dirs {
		if err := notifier.Add(dir); err != nil {
			w.log.Debug("fsnotify add failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	go func() {
		defer func() { _ = notifier.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-notifier.Events:
				if !ok {
					return
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					select {
					case nudge <- struct{}{}:
					default:
					}
				}
			case _, ok := <-notifier.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nudge
}

// Sweep runs one poll pass: every watched file, then the ingestion
// directory. Returns the number of hashes delivered to the index.
func (w *Watcher) Sweep() int {
	var added int

	w.mu.Lock()
	paths := make([]string, 0, len(w.watched))
	for path := range w.watched {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	sort.Strings(paths)

	for _, path := range paths {
		n, err := w.checkFile(path)
		if err != nil {
			w.log.Warn("watch check failed", zap.String("path", path), zap.Error(err))

			continue
		}

		added += n
	}

	if w.ingestDir != "" {
		n, err := w.drainIngestionDir()
		if err != nil {
			w.log.Warn("ingestion sweep failed", zap.String("dir", w.ingestDir), zap.Error(err))
		}

		added += n
	}

	return added
}

// checkFile compares the stored fingerprint and ingests the appended
// region on growth.
func (w *Watcher) checkFile(path string) (int, error) {
	w.mu.Lock()
	prev, ok := w.watched[path]
	w.mu.Unlock()

	if !ok {
		return 0, nil
	}

	cur, err := w.fingerprint(path)
	if err != nil {
		return 0, err
	}

	if cur.mtime.Equal(prev.mtime) && cur.size == prev.size && cur.tail == prev.tail {
		return 0, nil
	}

	var added int

	if cur.size > prev.size {
		lines, err := w.readAppended(path, prev.size)
		if err != nil {
			return 0, err
		}

		added = w.index.AddHashes(lines)

		if added > 0 {
			w.log.Info("ingested appended hashes",
				zap.String("path", path),
				zap.Int("added", added))
		}
	} else if cur.size < prev.size {
		// Shrunk file: treat the new content as the baseline rather
		// than guessing what was removed.
		w.log.Warn("watched file shrank, resetting baseline",
			zap.String("path", path),
			zap.Int64("old_size", prev.size),
			zap.Int64("new_size", cur.size))
	}

	w.mu.Lock()
	w.watched[path] = cur
	w.mu.Unlock()

	return added, nil
}

// readAppended reads [offset, EOF) and validates each non-comment
// line. Invalid lines are dropped with a warning.
func (w *Watcher) readAppended(path string, offset int64) ([]string, error) {
	f, err := w.fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to appended region: %w", err)
	}

	return w.validLines(f, path)
}

func (w *Watcher) validLines(r io.Reader, origin string) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		valid, err := sandbox.ValidateHashLine(line)
		if err != nil {
			w.log.Warn("dropping invalid hash line",
				zap.String("path", origin),
				zap.Int("line", lineNo),
				zap.Error(err))

			continue
		}

		lines = append(lines, valid)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", origin, err)
	}

	return lines, nil
}

// drainIngestionDir ingests every regular file with a known extension
// and moves it into processed/ under a timestamped name.
func (w *Watcher) drainIngestionDir() (int, error) {
	entries, err := w.fsys.ReadDir(w.ingestDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	var added int

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		if !ingestExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}

		n, err := w.ingestFile(filepath.Join(w.ingestDir, entry.Name()))
		if err != nil {
			w.log.Warn("ingestion failed", zap.String("file", entry.Name()), zap.Error(err))

			continue
		}

		added += n
	}

	return added, nil
}

func (w *Watcher) ingestFile(path string) (int, error) {
	f, err := w.fsys.Open(path)
	if err != nil {
		return 0, err
	}

	lines, err := w.validLines(f, path)

	_ = f.Close()

	if err != nil {
		return 0, err
	}

	added := w.index.AddHashes(lines)

	// Move the source out of the way whether or not it contributed
	// anything, so a bad file is not rescanned forever.
	dest := filepath.Join(w.ingestDir, processedDir,
		time.Now().Format("20060102_150405")+"_"+filepath.Base(path))

	if err := w.fsys.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
		return added, fmt.Errorf("creating processed dir: %w", err)
	}

	if err := w.fsys.Rename(path, dest); err != nil {
		return added, fmt.Errorf("archiving ingested file: %w", err)
	}

	w.log.Info("ingested dropped file",
		zap.String("file", filepath.Base(path)),
		zap.Int("added", added),
		zap.String("archived_as", dest))

	return added, nil
}

// fingerprint stats the file and hashes its last megabyte.
func (w *Watcher) fingerprint(path string) (fingerprint, error) {
	info, err := w.fsys.Stat(path)
	if err != nil {
		return fingerprint{}, err
	}

	fp := fingerprint{mtime: info.ModTime(), size: info.Size()}

	f, err := w.fsys.Open(path)
	if err != nil {
		return fingerprint{}, err
	}
	defer func() { _ = f.Close() }()

	start := fp.size - tailHashWindow
	if start < 0 {
		start = 0
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return fingerprint{}, err
	}

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return fingerprint{}, err
	}

	copy(fp.tail[:], h.Sum(nil))

	return fp, nil
}
