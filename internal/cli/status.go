package cli

import (
	"context"
	"encoding/json"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"hashwrap/internal/config"
	hwfs "hashwrap/internal/fs"
	"hashwrap/internal/session"
)

// StatusCmd returns the status command: list known sessions, newest
// first.
func StatusCmd(cfg config.Config, log *zap.Logger) *Command {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.Bool("json", false, "Emit the session list as JSON")

	return &Command{
		Flags: fs,
		Usage: "status [flags]",
		Short: "List sessions and their progress",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execStatus(o, cfg, log, fs)
		},
	}
}

func execStatus(o *IO, cfg config.Config, log *zap.Logger, fs *flag.FlagSet) error {
	store := session.NewStore(hwfs.NewReal(), log, cfg.SessionsRootAbs)

	sessions, err := store.List()
	if err != nil {
		return err
	}

	if asJSON, _ := fs.GetBool("json"); asJSON {
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return err
		}

		o.Println(string(data))

		return nil
	}

	if len(sessions) == 0 {
		o.Println("no sessions")

		return nil
	}

	o.Printf("%-32s %-10s %-12s %s\n", "SESSION", "STATUS", "CRACKED", "UPDATED")

	for _, s := range sessions {
		o.Printf("%-32s %-10s %5d/%-6d %s\n",
			s.ID, s.Status, s.Cracked, s.Total, s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	return nil
}
