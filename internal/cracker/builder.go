// Package cracker owns everything that touches the external cracking
// binary: safe argv construction, the status-output parser, the
// process supervisor, and status-event broadcast.
package cracker

import (
	"errors"
	"fmt"
	"strconv"

	"hashwrap/internal/attack"
	"hashwrap/internal/sandbox"
)

// Builder errors.
var (
	ErrUnsupportedKind = errors.New("unsupported attack kind")
	ErrNoHashFile      = errors.New("missing hash file")
)

// attack kinds map to fixed -a tokens. Anything missing here is
// rejected; rule-based attacks are expressed as dictionary attacks
// with a rules file by the planner.
var kindTokens = map[attack.Kind]string{
	attack.KindDictionary: "0",
	attack.KindMask:       "3",
	attack.KindHybrid:     "6",
}

// Params carries the per-run options the engine sets alongside the
// attack itself.
type Params struct {
	Potfile     string
	Session     string
	Restore     bool
	StatusTimer int
	Workload    int
}

// Builder constructs cracker argv arrays. Every path goes through the
// sandbox and every free-form string through its validator; the
// result is handed to exec as an array, never to a shell.
type Builder struct {
	binary string
	sb     *sandbox.Sandbox
}

// NewBuilder returns a Builder that launches the given binary.
func NewBuilder(binary string, sb *sandbox.Sandbox) *Builder {
	return &Builder{binary: binary, sb: sb}
}

// Build produces the argv for one attack against hashFile.
//
// Token order is fixed: binary, hash file, mode, attack type,
// wordlist, rules, mask, potfile, quiet, workload, session, restore,
// status timer.
func (b *Builder) Build(a attack.Attack, hashFile string, p Params) ([]string, error) {
	if hashFile == "" {
		return nil, ErrNoHashFile
	}

	safeHashFile, err := b.sb.ValidatePath(hashFile, true)
	if err != nil {
		return nil, fmt.Errorf("hash file: %w", err)
	}

	argv := []string{b.binary, safeHashFile}

	if a.Mode != nil {
		argv = append(argv, "-m", strconv.Itoa(*a.Mode))
	}

	token, ok := kindTokens[a.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, a.Kind)
	}

	argv = append(argv, "-a", token)

	if a.Wordlist != "" {
		safe, err := b.sb.ValidatePath(a.Wordlist, true)
		if err != nil {
			return nil, fmt.Errorf("wordlist: %w", err)
		}

		argv = append(argv, safe)
	}

	if a.Rules != "" {
		safe, err := b.sb.ValidatePath(a.Rules, true)
		if err != nil {
			return nil, fmt.Errorf("rules: %w", err)
		}

		argv = append(argv, "-r", safe)
	}

	if a.Mask != "" {
		if err := sandbox.ValidateMask(a.Mask); err != nil {
			return nil, err
		}

		argv = append(argv, a.Mask)
	}

	if p.Potfile != "" {
		safe, err := b.sb.ValidatePath(p.Potfile, false)
		if err != nil {
			return nil, fmt.Errorf("potfile: %w", err)
		}

		argv = append(argv, "--potfile-path", safe)
	}

	argv = append(argv, "--quiet")

	// Out-of-range workload profiles are dropped, not rejected.
	if p.Workload >= 1 && p.Workload <= 4 {
		argv = append(argv, "-w", strconv.Itoa(p.Workload))
	}

	if p.Session != "" {
		if err := sandbox.ValidateSessionName(p.Session); err != nil {
			return nil, err
		}

		argv = append(argv, "--session", p.Session)
	}

	if p.Restore {
		argv = append(argv, "--restore")
	}

	if p.StatusTimer > 0 {
		argv = append(argv, "--status-timer", strconv.Itoa(p.StatusTimer))
	}

	return argv, nil
}
