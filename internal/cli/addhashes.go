package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"hashwrap/internal/config"
	hwfs "hashwrap/internal/fs"
	"hashwrap/internal/sandbox"
	"hashwrap/internal/session"
)

var errNoValidHashes = errors.New("no valid hash lines in file")

// ingestible extensions mirror what the watcher's ingestion sweep
// picks up.
var ingestible = map[string]bool{".txt": true, ".lst": true, ".hashes": true}

// AddHashesCmd returns the add-hashes command: drop new targets into a
// session's ingestion directory so a running engine picks them up on
// its next sweep.
func AddHashesCmd(cfg config.Config, log *zap.Logger) *Command {
	fs := flag.NewFlagSet("add-hashes", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "add-hashes <session_id> <file>",
		Short: "Queue new hashes for a session",
		Long: "Validate the hash lines in <file> and place them in the session's\n" +
			"ingestion directory. A session running with --watch ingests them\n" +
			"within one poll interval; a stopped session ingests them on resume.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execAddHashes(o, cfg, log, args)
		},
	}
}

func execAddHashes(o *IO, cfg config.Config, log *zap.Logger, args []string) error {
	if len(args) != 2 {
		return errors.New("expected <session_id> <file>")
	}

	id, source := args[0], args[1]

	fsys := hwfs.NewReal()
	store := session.NewStore(fsys, log, cfg.SessionsRootAbs)

	if _, err := store.Load(id); err != nil {
		return err
	}

	sb := sandbox.New(sandbox.WithExtraRoots(append([]string{cfg.EffectiveCwd}, cfg.ExtraRoots...)...))

	path, err := sb.ValidatePath(resolvePath(cfg, source), true)
	if err != nil {
		return err
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading hash file: %w", err)
	}

	var (
		valid   []string
		dropped int
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		clean, err := sandbox.ValidateHashLine(line)
		if err != nil {
			dropped++

			continue
		}

		valid = append(valid, clean)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading hash file: %w", err)
	}

	if len(valid) == 0 {
		return fmt.Errorf("%w: %s", errNoValidHashes, source)
	}

	ingestDir := cfg.IngestionDir
	if ingestDir == "" {
		ingestDir = filepath.Join(store.Dir(id), "ingest")
	}

	if err := fsys.MkdirAll(ingestDir, 0o700); err != nil {
		return fmt.Errorf("creating ingestion dir: %w", err)
	}

	base := filepath.Base(path)
	if !ingestible[strings.ToLower(filepath.Ext(base))] {
		base += ".hashes"
	}

	dest := filepath.Join(ingestDir, time.Now().UTC().Format("20060102_150405")+"_"+base)

	content := strings.Join(valid, "\n") + "\n"
	if err := fsys.WriteFileAtomic(dest, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing ingestion file: %w", err)
	}

	if dropped > 0 {
		o.Warn(fmt.Sprintf("%d invalid lines dropped", dropped),
			"inspect the source file for non-printable or oversized entries")
	}

	o.Printf("queued %d hashes for session %s\n", len(valid), id)
	o.Printf("ingestion file: %s\n", dest)

	return nil
}
