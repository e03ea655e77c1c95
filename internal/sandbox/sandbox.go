// Package sandbox validates every externally supplied input before it
// can reach the filesystem or the cracker's argv: file paths against
// an allow-list of roots, hash lines, mask strings, and session names.
//
// The cracker child is always spawned with an argv array and never
// through a shell, so the validators here are the only line of defense
// against hostile file content ending up somewhere it can act.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Validation errors. Callers distinguish outside-roots from over-size
// rejections, so both carry their own sentinel.
var (
	ErrEmptyPath    = errors.New("empty file path")
	ErrOutsideRoots = errors.New("path is outside allowed directories")
	ErrFileTooLarge = errors.New("file too large")
	ErrNotFound     = errors.New("file not found")

	ErrEmptyHash       = errors.New("empty hash string")
	ErrHashTooLong     = errors.New("hash string too long")
	ErrInvalidHash     = errors.New("invalid hash format")
	ErrInvalidMask     = errors.New("invalid mask characters detected")
	ErrMaskTooLong     = errors.New("mask too long")
	ErrInvalidSession  = errors.New("invalid session name")
	ErrInvalidAttack   = errors.New("invalid attack name")
	ErrEmptySessionID  = errors.New("empty session id")
	ErrBadGeneratedID  = errors.New("invalid generated session id format")
	ErrNonPrintable    = errors.New("hash contains non-printable bytes")
	ErrEmptyMask       = errors.New("empty mask")
	ErrEmptyAttackName = errors.New("empty attack name")
)

const (
	// DefaultMaxFileSize caps validated file sizes at 10 GB.
	DefaultMaxFileSize = 10 * 1024 * 1024 * 1024

	maxHashLen    = 1024
	minHashLen    = 8
	maxMaskLen    = 256
	maxSessionLen = 64
	maxAttackLen  = 255
)

var (
	sessionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	generatedIDRe = regexp.MustCompile(`^\d{8}_\d{6}$`)
	attackNameRe  = regexp.MustCompile(`^[A-Za-z0-9._ -]+$`)
	hashCharsRe   = regexp.MustCompile(`^[a-fA-F0-9:$.*\-_/=+]+$`)
)

// Sandbox validates file paths against an allow-listed set of roots.
//
// All paths are resolved through symlinks before the containment
// check, so a symlink inside an allowed root pointing at /etc/shadow
// is rejected.
type Sandbox struct {
	roots       []string
	maxFileSize int64
}

// Option configures a [Sandbox].
type Option func(*Sandbox)

// WithExtraRoots adds configured directories to the allow-list.
func WithExtraRoots(dirs ...string) Option {
	return func(s *Sandbox) {
		for _, d := range dirs {
			if resolved, err := filepath.EvalSymlinks(d); err == nil {
				s.roots = append(s.roots, resolved)
			}
		}
	}
}

// WithMaxFileSize overrides the 10 GB size cap.
func WithMaxFileSize(n int64) Option {
	return func(s *Sandbox) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// New builds a Sandbox rooted at the standard locations: the working
// directory and its wordlists/, rules/ and hashes/ children,
// ~/.hashwrap, the system wordlist and hashcat shares, and the OS temp
// directory. Roots that do not exist are dropped.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{maxFileSize: DefaultMaxFileSize}

	var candidates []string

	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates,
			cwd,
			filepath.Join(cwd, "wordlists"),
			filepath.Join(cwd, "rules"),
			filepath.Join(cwd, "hashes"),
		)
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".hashwrap"))
	}

	candidates = append(candidates,
		"/usr/share/wordlists",
		"/usr/share/hashcat",
		os.TempDir(),
	)

	for _, c := range candidates {
		resolved, err := filepath.EvalSymlinks(c)
		if err != nil {
			continue
		}

		s.roots = append(s.roots, resolved)
	}

	for _, opt := range opts {
		opt(s)
	}

	// Longest-prefix first so nested roots report the tightest match.
	sort.Slice(s.roots, func(i, j int) bool { return len(s.roots[i]) > len(s.roots[j]) })

	return s
}

// Roots returns the resolved allow-list, longest first.
func (s *Sandbox) Roots() []string {
	out := make([]string, len(s.roots))
	copy(out, s.roots)

	return out
}

// ValidatePath resolves path (symlinks included) and verifies it lies
// under an allowed root. When mustExist is false a missing file is
// accepted as long as its parent directory resolves inside the
// sandbox; the potfile does not exist before the first attack.
//
// Existing regular files are additionally checked against the size
// cap; rejection is [ErrFileTooLarge], distinct from [ErrOutsideRoots].
func (s *Sandbox) ValidatePath(path string, mustExist bool) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrEmptyPath
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)

	switch {
	case err == nil:
		// Resolved fully; containment check below.
	case os.IsNotExist(err):
		if mustExist {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		// Resolve the parent instead so "sessions/new.potfile" is
		// checked against the sandbox before it exists.
		parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
		if perr != nil {
			return "", fmt.Errorf("resolving parent of %q: %w", path, perr)
		}

		resolved = filepath.Join(parent, filepath.Base(abs))
	default:
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}

	if !s.contains(resolved) {
		return "", fmt.Errorf("%w: %q (resolved to %q)", ErrOutsideRoots, path, resolved)
	}

	if info, statErr := os.Stat(resolved); statErr == nil && info.Mode().IsRegular() {
		if info.Size() > s.maxFileSize {
			return "", fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), s.maxFileSize)
		}
	}

	return resolved, nil
}

func (s *Sandbox) contains(resolved string) bool {
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, resolved)
		if err != nil {
			continue
		}

		if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
			return true
		}
	}

	return false
}

// ValidateHashLine checks a single candidate hash record: printable,
// length within [8, 1024], and either a known hash shape or the
// restricted hash character set. Returns the trimmed line.
func ValidateHashLine(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ErrEmptyHash
	}

	if len(line) > maxHashLen {
		return "", fmt.Errorf("%w: %d characters", ErrHashTooLong, len(line))
	}

	for _, r := range line {
		if r < 0x20 || r == 0x7f {
			return "", ErrNonPrintable
		}
	}

	if hashCharsRe.MatchString(line) && len(line) >= minHashLen {
		return line, nil
	}

	// $-framed formats (Kerberos, bcrypt, office) carry characters
	// outside the plain hex set.
	if strings.HasPrefix(line, "$") && len(line) >= minHashLen {
		return line, nil
	}

	if isBase64ish(line) && len(line) >= minHashLen {
		return line, nil
	}

	return "", fmt.Errorf("%w: %s", ErrInvalidHash, truncate(line, 50))
}

func isBase64ish(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=':
		default:
			return false
		}
	}

	return true
}

// safeMaskChars is the full set a mask token may contain: the '?'
// class escapes l/u/d/s/a/h/H/x plus literal alphanumerics.
const safeMaskChars = "?ludsahHx0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ValidateMask accepts a mask iff every character is in the safe set
// and the length is at most 256. The error names the offending
// characters so a rejected mask is debuggable from the log line alone.
func ValidateMask(mask string) error {
	if mask == "" {
		return ErrEmptyMask
	}

	if len(mask) > maxMaskLen {
		return fmt.Errorf("%w: %d characters (max %d)", ErrMaskTooLong, len(mask), maxMaskLen)
	}

	var bad []rune

	for _, r := range mask {
		if !strings.ContainsRune(safeMaskChars, r) {
			bad = append(bad, r)
		}
	}

	if len(bad) > 0 {
		return fmt.Errorf("%w: %q", ErrInvalidMask, string(bad))
	}

	return nil
}

// ValidateSessionName enforces the `[A-Za-z0-9_-]{1,64}` grammar.
func ValidateSessionName(name string) error {
	if !sessionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q (alphanumeric, underscore and dash only, max %d)", ErrInvalidSession, truncate(name, 80), maxSessionLen)
	}

	return nil
}

// ValidateGeneratedID checks the auto-generated id shape YYYYMMDD_HHMMSS.
func ValidateGeneratedID(id string) error {
	if id == "" {
		return ErrEmptySessionID
	}

	if !generatedIDRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrBadGeneratedID, id)
	}

	return nil
}

// ValidateAttackName checks an attack name is safe to embed in file
// names and log lines.
func ValidateAttackName(name string) error {
	if name == "" {
		return ErrEmptyAttackName
	}

	if len(name) > maxAttackLen {
		return fmt.Errorf("%w: %d characters", ErrInvalidAttack, len(name))
	}

	if !attackNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidAttack, truncate(name, 80))
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}

	return s
}
