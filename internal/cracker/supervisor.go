package cracker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"hashwrap/internal/attack"
	"hashwrap/internal/hashdb"
)

// Outcome is the disposition of one attack run.
type Outcome struct {
	Disposition  attack.Disposition
	ExitCode     int
	CrackedCount int
	Duration     time.Duration
	Stderr       string
}

// RunSpec is one attack launch.
type RunSpec struct {
	Attack     attack.Attack
	Argv       []string
	Timeout    time.Duration
	StatusJSON bool
}

// exhaustedExit is the cracker's exit code for "keyspace exhausted,
// nothing (more) cracked". Not a failure.
const exhaustedExit = 1

// Supervisor runs one cracker child at a time: spawns it in its own
// process group, parses its status stream, polls the potfile through
// the index, publishes status events, and routes cancellation, pause
// and timeout to the whole group.
type Supervisor struct {
	log       *zap.Logger
	index     *hashdb.Index
	events    *Broadcaster
	sessionID string

	pollInterval    time.Duration
	publishInterval time.Duration
	grace           time.Duration

	mu          sync.Mutex
	pgid        int
	paused      bool
	pausedAt    time.Time
	pausedTotal time.Duration
}

// NewSupervisor wires a supervisor to its index and event broadcaster.
func NewSupervisor(log *zap.Logger, index *hashdb.Index, events *Broadcaster, sessionID string) *Supervisor {
	return &Supervisor{
		log:             log,
		index:           index,
		events:          events,
		sessionID:       sessionID,
		pollInterval:    5 * time.Second,
		publishInterval: 10 * time.Second,
		grace:           10 * time.Second,
	}
}

// cleanEnv builds the child environment: a minimal copy of the parent
// plus explicit overrides. The brain client is force-disabled so a
// stray operator environment cannot make the child phone out.
func cleanEnv() []string {
	env := make([]string, 0, 8)

	for _, key := range []string{"PATH", "HOME", "USER", "LANG", "TMPDIR", "LD_LIBRARY_PATH"} {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}

	return append(env, "HASHCAT_BRAIN_HOST=disabled")
}

// Run launches argv and blocks until the child exits, is cancelled,
// or exceeds the timeout. Pause time is credited back to the
// deadline, so a paused attack can never time out.
func (s *Supervisor) Run(ctx context.Context, spec RunSpec) (Outcome, error) {
	if len(spec.Argv) == 0 {
		return Outcome{Disposition: attack.DispositionFailed}, errors.New("empty argv")
	}

	start := time.Now()

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...) //nolint:gosec // argv is built by the command builder, array only
	cmd.Env = cleanEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{Disposition: attack.DispositionFailed}, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Outcome{Disposition: attack.DispositionFailed}, fmt.Errorf("starting cracker: %w", err)
	}

	s.mu.Lock()
	s.pgid = cmd.Process.Pid
	s.paused = false
	s.pausedTotal = 0
	s.mu.Unlock()

	s.index.SetCurrentAttack(spec.Attack.Name)

	s.log.Info("cracker started",
		zap.String("attack", spec.Attack.Name),
		zap.Int("pid", cmd.Process.Pid))

	var (
		latestMu sync.Mutex
		latest   Status
		haveStat bool
	)

	setLatest := func(st Status) {
		latestMu.Lock()
		latest = st
		haveStat = true
		latestMu.Unlock()
	}

	// Status reader: drains stdout until the pipe closes with the
	// child's exit. Runs in its own group so a read error surfaces
	// instead of vanishing.
	readers := new(errgroup.Group)

	readers.Go(func() error {
		parser := NewParser()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()

			if spec.StatusJSON && strings.HasPrefix(strings.TrimSpace(line), "{") {
				if st, jsonErr := ParseJSON([]byte(line)); jsonErr == nil {
					setLatest(st)
				}

				continue
			}

			if st, ok := parser.Feed(line); ok {
				setLatest(st)
			}
		}

		if st, ok := parser.Flush(); ok {
			setLatest(st)
		}

		return scanner.Err()
	})

	// Potfile poller and event publisher.
	var (
		wg          sync.WaitGroup
		pollMu      sync.Mutex
		pollCracked int
	)

	stop := make(chan struct{})

	wg.Add(1)

	go func() {
		defer wg.Done()

		poll := time.NewTicker(s.pollInterval)
		publish := time.NewTicker(s.publishInterval)

		defer poll.Stop()
		defer publish.Stop()

		for {
			select {
			case <-stop:
				return
			case <-poll.C:
				res, reloadErr := s.index.ReloadPotfile()
				if reloadErr != nil {
					s.log.Warn("potfile reload failed", zap.Error(reloadErr))

					continue
				}

				pollMu.Lock()
				pollCracked += len(res.NewlyCracked)
				pollMu.Unlock()
			case <-publish.C:
				latestMu.Lock()
				st, ok := latest, haveStat
				latestMu.Unlock()

				if ok {
					s.events.Publish(s.eventFrom(spec.Attack.Name, st, time.Since(start)))
				}
			}
		}
	}()

	// Watchdog: cancellation and timeout both terminate the whole
	// process group, graceful first.
	procDone := make(chan struct{})

	var disposition struct {
		mu        sync.Mutex
		cancelled bool
		timedOut  bool
	}

	go func() {
		check := time.NewTicker(250 * time.Millisecond)
		defer check.Stop()

		for {
			select {
			case <-procDone:
				return
			case <-ctx.Done():
				disposition.mu.Lock()
				disposition.cancelled = true
				disposition.mu.Unlock()

				s.terminateGroup(cmd.Process.Pid, procDone)

				return
			case <-check.C:
				if spec.Timeout > 0 && s.deadlineExceeded(start, spec.Timeout) {
					disposition.mu.Lock()
					disposition.timedOut = true
					disposition.mu.Unlock()

					s.log.Warn("attack timeout", zap.String("attack", spec.Attack.Name), zap.Duration("timeout", spec.Timeout))
					s.terminateGroup(cmd.Process.Pid, procDone)

					return
				}
			}
		}
	}()

	if readErr := readers.Wait(); readErr != nil {
		s.log.Warn("status stream read failed", zap.Error(readErr))
	}

	waitErr := cmd.Wait()

	close(procDone)
	close(stop)
	wg.Wait()

	s.mu.Lock()
	s.pgid = 0
	s.paused = false
	s.mu.Unlock()

	// Final reload catches cracks written in the last poll window.
	res, reloadErr := s.index.ReloadPotfile()
	if reloadErr != nil {
		s.log.Warn("final potfile reload failed", zap.Error(reloadErr))
	}

	pollMu.Lock()
	cracked := pollCracked + len(res.NewlyCracked)
	pollMu.Unlock()

	// Publish a terminal event so subscribers see the final state.
	latestMu.Lock()
	if haveStat {
		s.events.Publish(s.eventFrom(spec.Attack.Name, latest, time.Since(start)))
	}
	latestMu.Unlock()

	out := Outcome{
		CrackedCount: cracked,
		Duration:     time.Since(start),
		Stderr:       tail(stderr.String(), 4096),
	}

	disposition.mu.Lock()
	cancelled, timedOut := disposition.cancelled, disposition.timedOut
	disposition.mu.Unlock()

	switch {
	case cancelled:
		out.Disposition = attack.DispositionCancelled
		out.ExitCode = exitCode(waitErr)
	case timedOut:
		out.Disposition = attack.DispositionTimeout
		out.ExitCode = exitCode(waitErr)
	case waitErr == nil:
		out.Disposition = attack.DispositionCompleted
	default:
		out.ExitCode = exitCode(waitErr)
		if out.ExitCode == exhaustedExit {
			out.Disposition = attack.DispositionExhausted
		} else {
			out.Disposition = attack.DispositionFailed
		}
	}

	s.log.Info("cracker exited",
		zap.String("attack", spec.Attack.Name),
		zap.String("disposition", string(out.Disposition)),
		zap.Int("exit_code", out.ExitCode),
		zap.Int("cracked", out.CrackedCount),
		zap.Duration("duration", out.Duration))

	if out.Disposition == attack.DispositionFailed {
		return out, fmt.Errorf("cracker failed with exit code %d: %s", out.ExitCode, firstLine(out.Stderr))
	}

	return out, nil
}

func (s *Supervisor) eventFrom(attackName string, st Status, runtime time.Duration) Event {
	return Event{
		SessionID:      s.sessionID,
		AttackName:     attackName,
		ProgressPct:    st.ProgressPct,
		TotalSpeedHs:   st.TotalSpeed(),
		Devices:        st.Devices,
		Recovered:      st.Recovered,
		RecoveredTotal: st.RecoveredTotal,
		Runtime:        runtime,
		ETA:            st.TimeEstimated,
		At:             time.Now().UTC(),
	}
}

// Pause stops the whole process group. Paused time is credited back
// to the run deadline.
func (s *Supervisor) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pgid == 0 || s.paused {
		return nil
	}

	if err := unix.Kill(-s.pgid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("pausing process group: %w", err)
	}

	s.paused = true
	s.pausedAt = time.Now()
	s.log.Info("attack paused", zap.Int("pgid", s.pgid))

	return nil
}

// Resume continues a paused process group.
func (s *Supervisor) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pgid == 0 || !s.paused {
		return nil
	}

	if err := unix.Kill(-s.pgid, unix.SIGCONT); err != nil {
		return fmt.Errorf("resuming process group: %w", err)
	}

	s.pausedTotal += time.Since(s.pausedAt)
	s.paused = false
	s.log.Info("attack resumed", zap.Int("pgid", s.pgid))

	return nil
}

// Paused reports whether the child is currently stopped.
func (s *Supervisor) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paused
}

// deadlineExceeded applies the pause credit: the effective deadline
// slides forward by the total time spent paused, and a currently
// paused attack never expires.
func (s *Supervisor) deadlineExceeded(start time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return false
	}

	return time.Since(start)-s.pausedTotal > timeout
}

// terminateGroup sends SIGTERM to the process group, waits up to the
// grace window for the child to exit, then SIGKILLs the group.
// Signalling the group collects any helpers the cracker spawned.
func (s *Supervisor) terminateGroup(pgid int, procDone <-chan struct{}) {
	// A stopped process cannot handle SIGTERM; continue it first.
	_ = unix.Kill(-pgid, unix.SIGCONT)
	_ = unix.Kill(-pgid, unix.SIGTERM)

	select {
	case <-procDone:
		return
	case <-time.After(s.grace):
	}

	s.log.Warn("graceful termination expired, killing process group", zap.Int("pgid", pgid))
	_ = unix.Kill(-pgid, unix.SIGKILL)

	<-procDone
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

func tail(s string, n int) string {
	if len(s) > n {
		return s[len(s)-n:]
	}

	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")

	return line
}
