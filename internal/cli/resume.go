package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"hashwrap/internal/config"
	"hashwrap/internal/engine"
)

var errMissingSessionID = errors.New("expected exactly one session id argument")

// ResumeCmd returns the resume command.
func ResumeCmd(cfg config.Config, log *zap.Logger) *Command {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.Duration("timeout", 0, "Per-attack time limit (0 = unlimited)")
	fs.Bool("watch", false, "Watch the hash file and ingestion dir for new hashes")
	fs.Int("status-timer", 0, "Seconds between cracker status reports (0 = off)")
	fs.Bool("status-json", false, "Request machine-readable cracker status")

	return &Command{
		Flags: fs,
		Usage: "resume <session_id> [flags]",
		Short: "Resume a checkpointed session",
		Long: "Reload the session's checkpoint, honor previously cracked hashes\n" +
			"and continue with the pending attacks. Exits 2 when the session\n" +
			"does not exist.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execResume(ctx, o, cfg, log, fs, args)
		},
	}
}

func execResume(ctx context.Context, o *IO, cfg config.Config, log *zap.Logger, fs *flag.FlagSet, args []string) error {
	if len(args) != 1 {
		return errMissingSessionID
	}

	timeout, _ := fs.GetDuration("timeout")
	watch, _ := fs.GetBool("watch")
	statusTimer, _ := fs.GetInt("status-timer")
	statusJSON, _ := fs.GetBool("status-json")

	summary, err := engine.New(cfg, log, engine.Options{
		ResumeID:      args[0],
		AttackTimeout: timeout,
		HotReload:     watch,
		StatusTimer:   statusTimer,
		StatusJSON:    statusJSON,
	}).Run(ctx)
	if summary != nil {
		printSummary(o, summary)
	}

	return err
}
