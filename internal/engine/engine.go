// Package engine is the orchestrator: it owns the session, the hash
// index, the attack queue and the supervisor, and drives the external
// cracker through the planned attacks until everything is cracked,
// the queue drains, or the operator stops it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"hashwrap/internal/attack"
	"hashwrap/internal/config"
	"hashwrap/internal/cracker"
	"hashwrap/internal/faults"
	"hashwrap/internal/fs"
	"hashwrap/internal/hashdb"
	"hashwrap/internal/hashid"
	"hashwrap/internal/sandbox"
	"hashwrap/internal/session"
	"hashwrap/internal/watch"
)

var (
	// ErrNothingToDo is returned when the plan is empty before the
	// first attack.
	ErrNothingToDo = errors.New("no attacks planned")

	// ErrNoHashes is returned when the hash file holds no valid
	// targets.
	ErrNoHashes = errors.New("no valid hashes in file")
)

const megabyte = 1 << 20

// Options selects what one engine run does.
type Options struct {
	// HashFile is the target file for a new session. Ignored on
	// resume.
	HashFile string

	// SessionName names the new session; empty generates a
	// timestamped id.
	SessionName string

	// ResumeID resumes an existing session instead of creating one.
	ResumeID string

	// AttackTimeout bounds each attack run; zero means unlimited.
	AttackTimeout time.Duration

	// HotReload enables the file watcher and ingestion directory.
	HotReload bool

	// Policy adds a synthesized policy-mask attack to the plan.
	Policy *attack.Policy

	// StatusTimer is forwarded to the cracker (seconds between status
	// blocks); zero omits the flag.
	StatusTimer int

	// StatusJSON asks the cracker for machine-readable status.
	StatusJSON bool
}

// Summary is what a finished run reports.
type Summary struct {
	SessionID     string             `json:"session_id"`
	Status        session.Status     `json:"status"`
	Stats         hashdb.Stats       `json:"stats"`
	Attacks       []attack.Result    `json:"attacks"`
	TopStrategies []attack.RateEntry `json:"top_strategies"`
	Cracked       []hashdb.Record    `json:"cracked"`
	Faults        faults.Summary     `json:"faults"`
	Runtime       time.Duration      `json:"runtime"`
}

// Engine wires the subsystems together for one run.
type Engine struct {
	cfg  config.Config
	log  *zap.Logger
	opts Options

	fsys    fs.FS
	sb      *sandbox.Sandbox
	store   *session.Store
	builder *cracker.Builder
	events  *cracker.Broadcaster
	tracker *attack.Tracker
	handler *faults.Handler
	limiter *rate.Limiter

	index *hashdb.Index
	queue *attack.Queue
	state *session.State
}

// New builds an engine from config. Nothing touches the filesystem
// until Run.
func New(cfg config.Config, log *zap.Logger, opts Options) *Engine {
	roots := append([]string{cfg.SessionsRootAbs, cfg.EffectiveCwd}, cfg.ExtraRoots...)
	sbOpts := []sandbox.Option{sandbox.WithExtraRoots(roots...)}
	if cfg.MaxFileSizeMB > 0 {
		sbOpts = append(sbOpts, sandbox.WithMaxFileSize(cfg.MaxFileSizeMB*megabyte))
	}

	sb := sandbox.New(sbOpts...)
	fsys := fs.NewReal()

	store := session.NewStore(fsys, log, cfg.SessionsRootAbs)
	store.SetCheckpointInterval(cfg.CheckpointEvery())

	perSecond := rate.Limit(float64(cfg.OpsPerMinute) / 60.0)

	return &Engine{
		cfg:     cfg,
		log:     log,
		opts:    opts,
		fsys:    fsys,
		sb:      sb,
		store:   store,
		builder: cracker.NewBuilder(cfg.CrackerBinary, sb),
		events:  cracker.NewBroadcaster(),
		tracker: attack.NewTracker(),
		handler: faults.NewHandler(fsys, log, cfg.SessionsRootAbs),
		limiter: rate.NewLimiter(perSecond, 2*cfg.OpsPerMinute),
		queue:   attack.NewQueue(),
	}
}

// Events exposes the status broadcaster for subscribers.
func (e *Engine) Events() *cracker.Broadcaster {
	return e.events
}

// Run executes the full engine loop and returns the run summary.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One-shot signal handler: first SIGINT/SIGTERM cancels the run;
	// the loop transitions to Paused and checkpoints on its way out.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)

	defer signal.Stop(sigCh)

	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}

		signal.Stop(sigCh)
		e.log.Warn("signal received, pausing", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := e.prepare(ctx); err != nil {
		return nil, err
	}

	defer func() { _ = e.store.ReleaseLease(e.state.ID) }()

	e.handler.RegisterCleanup(func() {
		e.state.Status = session.StatusError
		_ = e.store.Checkpoint(context.Background(), e.state, true)
		_ = e.index.Shutdown()
	})

	if e.opts.HotReload {
		watcher, err := e.startWatcher(ctx)
		if err != nil {
			e.log.Warn("hot reload unavailable", zap.Error(err))
		} else {
			defer watcher.stop()
		}
	}

	runErr := e.loop(ctx)

	summary := e.finalize(ctx, start, runErr)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return summary, runErr
	}

	return summary, nil
}

// prepare creates or resumes the session and builds index and queue.
func (e *Engine) prepare(ctx context.Context) error {
	if e.opts.ResumeID != "" {
		return e.prepareResume(ctx)
	}

	return e.prepareNew(ctx)
}

func (e *Engine) prepareNew(ctx context.Context) error {
	hashFile, err := e.sb.ValidatePath(e.opts.HashFile, true)
	if err != nil {
		return e.fatal(faults.Wrap("validating hash file", err))
	}

	id := e.opts.SessionName
	if id == "" {
		id = session.NewID(time.Now().UTC())
	}

	e.state = &session.State{
		ID:        id,
		Status:    session.StatusCreated,
		CreatedAt: time.Now().UTC(),
		HashFile:  hashFile,
		Workload:  e.cfg.Workload,
		HotReload: e.opts.HotReload,
	}

	if err := e.store.Create(ctx, e.state); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	if err := e.store.AcquireLease(id); err != nil {
		return err
	}

	if err := e.openIndex(hashFile); err != nil {
		return err
	}

	analysis, err := hashid.AnalyzeFile(e.fsys, hashFile, hashdb.DefaultSampleCap)
	if err != nil {
		return e.fatal(faults.Wrap("analyzing hash file", err))
	}

	if analysis.TotalHashes == 0 {
		return fmt.Errorf("%w: %s", ErrNoHashes, hashFile)
	}

	e.logAnalysis(analysis)

	plan := attack.Plan(analysis, attack.DefaultResources(), e.opts.Policy, e.tracker)
	for _, a := range e.pruneUnavailable(plan) {
		e.queue.Push(a)
	}

	if e.queue.Size() == 0 {
		return ErrNothingToDo
	}

	// The record stays created until the first attack launches; running
	// status travels together with current_attack.
	e.state.PendingAttacks = e.queue.Snapshot()
	e.state.Stats = e.index.Stats()

	return e.store.Checkpoint(ctx, e.state, true)
}

func (e *Engine) prepareResume(ctx context.Context) error {
	state, err := e.store.Resume(ctx, e.opts.ResumeID)
	if err != nil {
		return err
	}

	e.state = state

	if err := e.store.AcquireLease(state.ID); err != nil {
		return err
	}

	if err := e.openIndex(state.HashFile); err != nil {
		return err
	}

	// Previously-cracked entries are honored before any new attack.
	if _, err := e.index.ReloadPotfile(); err != nil {
		e.log.Warn("initial potfile reload failed", zap.Error(err))
	}

	e.tracker = attack.NewTrackerFrom(state.SuccessRates)

	for _, a := range state.PendingAttacks {
		e.queue.Push(a)
	}

	e.log.Info("queue reconstructed",
		zap.String("session", state.ID),
		zap.Int("pending", e.queue.Size()))

	return nil
}

func (e *Engine) openIndex(hashFile string) error {
	var opts []hashdb.Option
	if e.cfg.StreamingMB > 0 {
		opts = append(opts, hashdb.WithStreamingThreshold(e.cfg.StreamingMB*megabyte))
	}

	index, err := hashdb.NewIndex(e.fsys, e.log, hashFile, e.store.PotfilePath(e.state.ID), opts...)
	if err != nil {
		return e.fatal(faults.Wrap("loading hash index", err))
	}

	e.index = index

	return nil
}

// loop is the core engine loop.
func (e *Engine) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.drainNewHashes()

		current, ok := e.queue.Pop()
		if !ok {
			return nil
		}

		if err := e.runAttack(ctx, current); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			var f *faults.Fault
			if errors.As(err, &f) && f.Severity >= faults.SeverityFatal {
				return err
			}

			// Critical faults abort the attack, not the run.
			e.log.Warn("attack abandoned", zap.String("attack", current.Name), zap.Error(err))

			continue
		}

		if !e.index.ShouldContinue() {
			e.log.Info("all hashes cracked")

			return nil
		}
	}
}

// drainNewHashes observes the index's new-hashes signal without
// blocking and injects high-priority attacks for the new material.
// Missed signals mean "at least one"; the stats refresh covers the
// exact count.
func (e *Engine) drainNewHashes() {
	var total int

	for {
		select {
		case n := <-e.index.Notifications():
			total += n

			continue
		default:
		}

		break
	}

	if total == 0 {
		return
	}

	if !e.limiter.Allow() {
		e.log.Warn("hot-reload injection rate limited", zap.Int("new_hashes", total))

		return
	}

	e.state.Stats = e.index.Stats()

	mode := 0
	if _, m, ok := e.analysisMode(); ok {
		mode = m
	}

	injected := 0

	for _, a := range e.pruneUnavailable(attack.InjectionPlan(mode, attack.DefaultResources())) {
		e.queue.Push(a)
		injected++
	}

	e.log.Info("new hashes injected into plan",
		zap.Int("new_hashes", total),
		zap.Int("injected_attacks", injected),
		zap.Int("total_hashes", e.state.Stats.Total))
}

// analysisMode picks the mode of the current dominant type from the
// completed and pending attacks; falls back to the first attack that
// pins a mode.
func (e *Engine) analysisMode() (string, int, bool) {
	if e.state.CurrentAttack != nil && e.state.CurrentAttack.Mode != nil {
		return e.state.CurrentAttack.Name, *e.state.CurrentAttack.Mode, true
	}

	for _, a := range e.state.PendingAttacks {
		if a.Mode != nil {
			return a.Name, *a.Mode, true
		}
	}

	for _, r := range e.state.CompletedAttacks {
		if r.Attack.Mode != nil {
			return r.Attack.Name, *r.Attack.Mode, true
		}
	}

	return "", 0, false
}

// runAttack executes one queue entry end to end: checkpoint,
// materialize, build, supervise, reload, record, checkpoint, clean up.
func (e *Engine) runAttack(ctx context.Context, current attack.Attack) error {
	e.state.CurrentAttack = &current
	e.state.Status = session.StatusRunning
	e.state.PendingAttacks = e.queue.Snapshot()

	if err := e.store.Checkpoint(ctx, e.state, true); err != nil {
		return faults.Wrap("checkpoint before attack", err)
	}

	remaining, err := e.index.MaterializeRemaining()
	if err != nil {
		return faults.Wrap("materializing remaining hashes", err)
	}

	defer func() {
		if err := e.index.ReleaseRemaining(remaining); err != nil {
			e.log.Warn("remaining-file cleanup failed", zap.Error(err))
		}
	}()

	restore := e.state.Restorable
	// The restore flag rides along on exactly one attack after a
	// resume.
	e.state.Restorable = false

	argv, err := e.builder.Build(current, remaining, cracker.Params{
		Potfile:     e.state.Potfile,
		Session:     e.state.ID,
		Restore:     restore,
		StatusTimer: e.opts.StatusTimer,
		Workload:    e.state.Workload,
	})
	if err != nil {
		f := faults.Wrap("building cracker command", err)
		e.handler.Handle(f)

		return f
	}

	sup := cracker.NewSupervisor(e.log, e.index, e.events, e.state.ID)

	outcome, runErr := sup.Run(ctx, cracker.RunSpec{
		Attack:     current,
		Argv:       argv,
		Timeout:    e.opts.AttackTimeout,
		StatusJSON: e.opts.StatusJSON,
	})

	reload, reloadErr := e.index.ReloadPotfile()
	if reloadErr != nil {
		e.log.Warn("post-attack potfile reload failed", zap.Error(reloadErr))
	}

	e.record(current, outcome)

	e.state.CurrentAttack = nil
	e.state.Stats = e.index.Stats()
	e.state.SuccessRates = e.tracker.Snapshot()
	e.state.TotalRuntime += outcome.Duration

	switch outcome.Disposition {
	case attack.DispositionCancelled:
		e.state.Status = session.StatusPaused
	case attack.DispositionTimeout:
		// A timed-out attack leaves resumable work behind.
		e.state.Status = session.StatusPaused
	default:
	}

	if err := e.store.Checkpoint(ctx, e.state, true); err != nil {
		return faults.Wrap("checkpoint after attack", err)
	}

	if runErr != nil && outcome.Disposition == attack.DispositionFailed {
		e.handler.Handle(faults.Wrap("running attack "+current.Name, runErr))

		return runErr
	}

	if outcome.Disposition == attack.DispositionTimeout {
		return context.Canceled
	}

	e.log.Info("attack finished",
		zap.String("attack", current.Name),
		zap.String("disposition", string(outcome.Disposition)),
		zap.Int("cracked", outcome.CrackedCount),
		zap.Int("remaining", reload.Remaining))

	return nil
}

func (e *Engine) record(a attack.Attack, outcome cracker.Outcome) {
	e.tracker.Record(a, outcome.CrackedCount, e.index.Stats().Total)

	e.state.CompletedAttacks = append(e.state.CompletedAttacks, attack.Result{
		Attack:       a,
		Disposition:  outcome.Disposition,
		CrackedCount: outcome.CrackedCount,
		Duration:     outcome.Duration,
		ExitCode:     outcome.ExitCode,
	})
}

// pruneUnavailable drops attacks whose wordlist or rules file does not
// resolve inside the sandbox, so a missing optional wordlist skips the
// attack instead of failing the run.
func (e *Engine) pruneUnavailable(plan []attack.Attack) []attack.Attack {
	out := plan[:0]

	for _, a := range plan {
		if a.Wordlist != "" {
			if _, err := e.sb.ValidatePath(a.Wordlist, true); err != nil {
				e.log.Debug("skipping attack, wordlist unavailable",
					zap.String("attack", a.Name),
					zap.String("wordlist", a.Wordlist))

				continue
			}
		}

		if a.Rules != "" {
			if _, err := e.sb.ValidatePath(a.Rules, true); err != nil {
				e.log.Debug("skipping attack, rules unavailable",
					zap.String("attack", a.Name),
					zap.String("rules", a.Rules))

				continue
			}
		}

		out = append(out, a)
	}

	return out
}

// finalize settles the terminal status, writes the last checkpoint,
// shuts the index down and assembles the summary.
func (e *Engine) finalize(ctx context.Context, start time.Time, runErr error) *Summary {
	switch {
	case runErr == nil && !e.index.ShouldContinue():
		e.state.Status = session.StatusCompleted
	case runErr == nil:
		// Queue drained with hashes left: the plan is exhausted.
		e.state.Status = session.StatusCompleted
	case errors.Is(runErr, context.Canceled):
		e.state.Status = session.StatusPaused
	default:
		e.state.Status = session.StatusError
	}

	e.state.CurrentAttack = nil
	e.state.Stats = e.index.Stats()
	e.state.TotalRuntime = time.Since(start)

	// The final checkpoint must land even when the context is gone.
	if err := e.store.Checkpoint(context.WithoutCancel(ctx), e.state, true); err != nil {
		e.log.Error("final checkpoint failed", zap.Error(err))
	}

	if err := e.index.Shutdown(); err != nil {
		e.log.Warn("index shutdown incomplete", zap.Error(err))
	}

	summary := &Summary{
		SessionID:     e.state.ID,
		Status:        e.state.Status,
		Stats:         e.state.Stats,
		Attacks:       e.state.CompletedAttacks,
		TopStrategies: e.tracker.Ranked(),
		Cracked:       e.index.CrackedRecords(),
		Faults:        e.handler.Summarize(),
		Runtime:       e.state.TotalRuntime,
	}

	e.log.Info("run finished",
		zap.String("session", summary.SessionID),
		zap.String("status", string(summary.Status)),
		zap.Int("cracked", summary.Stats.Cracked),
		zap.Int("remaining", summary.Stats.Remaining),
		zap.Duration("runtime", summary.Runtime))

	return summary
}

func (e *Engine) fatal(f *faults.Fault) error {
	e.handler.Handle(f)

	return f
}

func (e *Engine) logAnalysis(analysis *hashid.Analysis) {
	name, stats, ok := analysis.DominantType()
	if !ok {
		e.log.Warn("no hash type detected", zap.Int("total", analysis.TotalHashes))

		return
	}

	e.log.Info("hash file analyzed",
		zap.Int("total", analysis.TotalHashes),
		zap.String("dominant_type", name),
		zap.Int("dominant_count", stats.Count),
		zap.Int("unknown", len(analysis.UnknownHashes)))
}

// runningWatcher bundles the watcher goroutine with its stop.
type runningWatcher struct {
	stop func()
}

// startWatcher wires hot reload: the session's hash file is watched
// for growth and an ingestion directory accepts dropped files.
func (e *Engine) startWatcher(ctx context.Context) (*runningWatcher, error) {
	ingestDir := e.cfg.IngestionDir
	if ingestDir == "" {
		ingestDir = filepath.Join(e.store.Dir(e.state.ID), "ingest")
	}

	if err := e.fsys.MkdirAll(ingestDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating ingestion dir: %w", err)
	}

	watcher := watch.New(e.fsys, e.log, e.index,
		watch.WithInterval(e.cfg.WatchEvery()),
		watch.WithIngestionDir(ingestDir))

	if err := watcher.Watch(e.state.HashFile); err != nil {
		return nil, err
	}

	watchCtx, stop := context.WithCancel(ctx)

	go watcher.Run(watchCtx)

	e.log.Info("hot reload enabled",
		zap.String("hash_file", e.state.HashFile),
		zap.String("ingestion_dir", ingestDir))

	return &runningWatcher{stop: stop}, nil
}
