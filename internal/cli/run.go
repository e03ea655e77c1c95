// Package cli is the hashwrap command-line front end: global flag
// parsing, config resolution, logger construction and command
// dispatch.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"hashwrap/internal/config"
	"hashwrap/internal/logging"
)

var (
	errFlagRequiresArg = errors.New("flag requires an argument")
	errUnknownFlag     = errors.New("unknown flag")
)

const helpFlag = "--help"

// Run is the main entry point. Returns exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string, env map[string]string) int {
	flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)

		return ExitError
	}

	if len(flags.remaining) == 0 || flags.remaining[0] == "-h" || flags.remaining[0] == helpFlag {
		printUsage(out)

		return ExitOK
	}

	overrides := config.Config{LogLevel: flags.logLevel}
	if flags.logJSON {
		overrides.LogJSON = true
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: flags.workDir,
		ConfigPath:      flags.configPath,
		Overrides:       overrides,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return ExitError
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fprintln(errOut, "error:", err)

		return ExitError
	}
	defer func() { _ = log.Sync() }()

	name := flags.remaining[0]
	rest := flags.remaining[1:]

	o := NewIO(out, errOut)

	for _, c := range commands(cfg, log) {
		if c.Name() != name {
			continue
		}

		if code := c.Run(ctx, o, rest); code != ExitOK {
			return code
		}

		return o.Finish()
	}

	fprintln(errOut, "error: unknown command:", name)
	printUsage(errOut)

	return ExitError
}

// commands builds the command set against a resolved config.
func commands(cfg config.Config, log *zap.Logger) []*Command {
	return []*Command{
		AutoCmd(cfg, log),
		AnalyzeCmd(cfg, log),
		ResumeCmd(cfg, log),
		AddHashesCmd(cfg, log),
		StatusCmd(cfg, log),
	}
}

type globalFlags struct {
	workDir    string
	configPath string
	logLevel   string
	logJSON    bool
	remaining  []string
}

// parseGlobalFlags walks the leading flags by hand so that command
// names and their own flags pass through untouched.
func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// parseFlag tries to parse a flag at args[idx]. Returns the number of
// args consumed (0 if args[idx] is not a global flag).
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	set := func(dst *string, name string) (int, error) {
		if after, ok := strings.CutPrefix(arg, name+"="); ok {
			*dst = after

			return 1, nil
		}

		if idx+1 >= len(args) {
			return 0, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
		}

		*dst = args[idx+1]

		return 2, nil
	}

	switch {
	case arg == "-C" || arg == "--cwd" || strings.HasPrefix(arg, "--cwd="):
		return set(&flags.workDir, "--cwd")
	case arg == "-c" || arg == "--config" || strings.HasPrefix(arg, "--config="):
		return set(&flags.configPath, "--config")
	case arg == "--log-level" || strings.HasPrefix(arg, "--log-level="):
		return set(&flags.logLevel, "--log-level")
	case arg == "--log-json":
		flags.logJSON = true

		return 1, nil
	case arg == "-h" || arg == helpFlag:
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	if strings.HasPrefix(arg, "-") && arg != "-" {
		return 0, fmt.Errorf("%w: %s", errUnknownFlag, arg)
	}

	return 0, nil
}

// resolvePath anchors a relative user path at the effective working
// directory, so -C behaves the same for every command.
func resolvePath(cfg config.Config, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(cfg.EffectiveCwd, path)
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer) {
	fprintln(w, `hashwrap - password cracking orchestrator

Usage: hashwrap [options] <command> [args]

Options:
  -C, --cwd <dir>       Run as if started in <dir>
  -c, --config <file>   Use specified config file
      --log-level <lvl> debug|info|warn|error (default info)
      --log-json        Machine-readable log output

Commands:`)

	for _, c := range commands(config.DefaultConfig(), zap.NewNop()) {
		fprintln(w, c.HelpLine())
	}
}
