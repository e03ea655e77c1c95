package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"hashwrap/internal/attack"
	"hashwrap/internal/config"
	"hashwrap/internal/engine"
	hwfs "hashwrap/internal/fs"
	"hashwrap/internal/sandbox"
)

var (
	errMissingHashFile = errors.New("expected exactly one hash file argument")
	errRestoreSession  = errors.New("--restore requires --session")
)

// AutoCmd returns the auto command: analyze a hash file and drive the
// cracker through the planned attacks.
func AutoCmd(cfg config.Config, log *zap.Logger) *Command {
	fs := flag.NewFlagSet("auto", flag.ContinueOnError)
	fs.String("session", "", "Session name (default: timestamped id)")
	fs.Bool("restore", false, "Resume the named session from its last checkpoint")
	fs.Int("workload", cfg.Workload, "Workload profile (1-4)")
	fs.Duration("timeout", 0, "Per-attack time limit (0 = unlimited)")
	fs.Bool("watch", false, "Watch the hash file and ingestion dir for new hashes")
	fs.Int("status-timer", 0, "Seconds between cracker status reports (0 = off)")
	fs.Bool("status-json", false, "Request machine-readable cracker status")
	fs.String("status-file", "", "Write the final run summary as JSON to this file")
	fs.Int("policy-min-length", 0, "Known password policy: minimum length")
	fs.Bool("policy-upper", false, "Known password policy: uppercase required")
	fs.Bool("policy-lower", false, "Known password policy: lowercase required")
	fs.Bool("policy-digit", false, "Known password policy: digit required")
	fs.Bool("policy-special", false, "Known password policy: special char required")

	return &Command{
		Flags: fs,
		Usage: "auto <hash_file> [flags]",
		Short: "Analyze a hash file and run the attack plan",
		Long: "Identify the hash types in <hash_file>, build a prioritized attack\n" +
			"plan and supervise the cracker through it. Progress is checkpointed\n" +
			"so an interrupted run can be resumed.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execAuto(ctx, o, cfg, log, fs, args)
		},
	}
}

func execAuto(ctx context.Context, o *IO, cfg config.Config, log *zap.Logger, fs *flag.FlagSet, args []string) error {
	restore, _ := fs.GetBool("restore")
	sessionName, _ := fs.GetString("session")

	if restore && sessionName == "" {
		return errRestoreSession
	}

	if sessionName != "" {
		if err := sandbox.ValidateSessionName(sessionName); err != nil {
			return err
		}
	}

	var hashFile string

	if restore {
		// On restore the hash file comes from the checkpoint.
		if len(args) != 0 {
			return fmt.Errorf("%w: --restore takes no arguments", errRestoreSession)
		}
	} else {
		if len(args) != 1 {
			return errMissingHashFile
		}

		hashFile = resolvePath(cfg, args[0])
	}

	workload, _ := fs.GetInt("workload")
	if workload < 1 || workload > 4 {
		return fmt.Errorf("%w: got %d", config.ErrBadWorkload, workload)
	}

	cfg.Workload = workload

	timeout, _ := fs.GetDuration("timeout")
	watch, _ := fs.GetBool("watch")
	statusTimer, _ := fs.GetInt("status-timer")
	statusJSON, _ := fs.GetBool("status-json")
	statusFile, _ := fs.GetString("status-file")

	opts := engine.Options{
		HashFile:      hashFile,
		SessionName:   sessionName,
		AttackTimeout: timeout,
		HotReload:     watch,
		Policy:        policyFromFlags(fs),
		StatusTimer:   statusTimer,
		StatusJSON:    statusJSON,
	}

	if restore {
		opts.ResumeID = sessionName
		opts.HashFile = ""
		opts.SessionName = ""
	}

	summary, err := engine.New(cfg, log, opts).Run(ctx)
	if summary != nil {
		printSummary(o, summary)

		if statusFile != "" {
			if werr := writeSummaryFile(statusFile, summary); werr != nil {
				o.Warn("status file not written", werr.Error())
			}
		}
	}

	return err
}

// policyFromFlags returns nil unless at least one policy flag was set.
func policyFromFlags(fs *flag.FlagSet) *attack.Policy {
	minLen, _ := fs.GetInt("policy-min-length")
	upper, _ := fs.GetBool("policy-upper")
	lower, _ := fs.GetBool("policy-lower")
	digit, _ := fs.GetBool("policy-digit")
	special, _ := fs.GetBool("policy-special")

	if minLen == 0 && !upper && !lower && !digit && !special {
		return nil
	}

	return &attack.Policy{
		MinLength:      minLen,
		RequireUpper:   upper,
		RequireLower:   lower,
		RequireDigit:   digit,
		RequireSpecial: special,
	}
}

func printSummary(o *IO, s *engine.Summary) {
	o.Printf("session:   %s\n", s.SessionID)
	o.Printf("status:    %s\n", s.Status)
	o.Printf("cracked:   %d/%d\n", s.Stats.Cracked, s.Stats.Total)
	o.Printf("runtime:   %s\n", s.Runtime.Round(time.Second))
	o.Printf("attacks:   %d\n", len(s.Attacks))

	if len(s.TopStrategies) > 0 {
		o.Println()
		o.Println("top strategies:")

		for i, e := range s.TopStrategies {
			if i == 3 {
				break
			}

			o.Printf("  %5.1f%%  %s\n", e.Rate*100, e.Key)
		}
	}

	if len(s.Cracked) > 0 {
		o.Println()

		for _, r := range s.Cracked {
			o.Printf("%s:%s\n", r.Hash, r.Plaintext)
		}
	}
}

func writeSummaryFile(path string, s *engine.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return hwfs.NewReal().WriteFileAtomic(path, append(data, '\n'), 0o600)
}
