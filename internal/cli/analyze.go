package cli

import (
	"context"
	"encoding/json"
	"sort"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"hashwrap/internal/config"
	hwfs "hashwrap/internal/fs"
	"hashwrap/internal/hashdb"
	"hashwrap/internal/hashid"
	"hashwrap/internal/sandbox"
)

// AnalyzeCmd returns the analyze command: identify hash types without
// launching anything.
func AnalyzeCmd(cfg config.Config, _ *zap.Logger) *Command {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.Bool("json", false, "Emit the full analysis as JSON")

	return &Command{
		Flags: fs,
		Usage: "analyze <hash_file> [flags]",
		Short: "Identify hash types and print recommendations",
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execAnalyze(o, cfg, fs, args)
		},
	}
}

func execAnalyze(o *IO, cfg config.Config, fs *flag.FlagSet, args []string) error {
	if len(args) != 1 {
		return errMissingHashFile
	}

	sb := sandbox.New(sandbox.WithExtraRoots(append([]string{cfg.EffectiveCwd}, cfg.ExtraRoots...)...))

	path, err := sb.ValidatePath(resolvePath(cfg, args[0]), true)
	if err != nil {
		return err
	}

	analysis, err := hashid.AnalyzeFile(hwfs.NewReal(), path, hashdb.DefaultSampleCap)
	if err != nil {
		return err
	}

	if asJSON, _ := fs.GetBool("json"); asJSON {
		data, err := json.MarshalIndent(analysis, "", "  ")
		if err != nil {
			return err
		}

		o.Println(string(data))

		return nil
	}

	o.Printf("total hashes: %d\n", analysis.TotalHashes)

	names := make([]string, 0, len(analysis.DetectedTypes))
	for name := range analysis.DetectedTypes {
		names = append(names, name)
	}

	// Largest bucket first; name breaks ties.
	sort.Slice(names, func(i, j int) bool {
		a, b := analysis.DetectedTypes[names[i]], analysis.DetectedTypes[names[j]]
		if a.Count != b.Count {
			return a.Count > b.Count
		}

		return names[i] < names[j]
	})

	for _, name := range names {
		stats := analysis.DetectedTypes[name]
		o.Printf("  %-18s mode %-6d count %-6d confidence %.2f\n",
			name, stats.Mode, stats.Count, stats.Confidence)
	}

	if n := len(analysis.UnknownHashes); n > 0 {
		o.Printf("unknown lines: %d\n", n)

		for _, u := range analysis.UnknownHashes {
			o.Printf("  line %d: %s\n", u.Line, u.Hash)
		}
	}

	if len(analysis.Recommendations) > 0 {
		o.Println()
		o.Println("recommendations:")

		for _, rec := range analysis.Recommendations {
			o.Printf("  [%s] %s\n", rec.Priority, rec.Description)
		}
	}

	return nil
}
