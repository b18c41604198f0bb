package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/offlinefirst/visionfix/pkg/history"
)

func newHistoryCommand() command {
	return command{
		name:        "history",
		description: "Show recorded calibration results",
		configure: func(fs *flag.FlagSet) {
			fs.String("profile", "", "Only show results for this profile")
			fs.Int("limit", 20, "Maximum number of results")
		},
		run: runHistory,
	}
}

func runHistory(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	path := ctx.Config.Calibration.HistoryPath
	if path == "" {
		return errNoHistory
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(context.Background(), history.ListOptions{
		Profile: stringFlag(fs, "profile"),
		Limit:   intFlag(fs, "limit"),
	})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(stdout, "No calibration results recorded")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintf(stdout, "%s  %-16s accuracy %3.0f%%  mean error %.3f  samples %d  session %s\n",
			rec.CompletedAt.Local().Format(time.DateTime), rec.Profile, rec.AccuracyEstimate*100, rec.MeanError, rec.Samples, rec.SessionID)
	}
	return nil
}
