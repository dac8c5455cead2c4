package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent forecast runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tStart\tMin\tMax\tEnding\tToMin\tPattern\tDose\tStatus\tError")

	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		pattern := "-"
		if run.PatternApplied {
			pattern = "applied"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%dm\t%s\t%s\t%s\t%s\n",
			run.Bucket.UTC().Format(time.RFC3339),
			formatDecimal(run.StartBG, 0),
			formatDecimal(run.MinBG, 0),
			formatDecimal(run.MaxBG, 0),
			formatDecimal(run.EndingBG, 0),
			run.TimeToMin,
			pattern,
			formatDecimal(run.SuggestedDose, 2),
			run.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
