package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lukemcguire/throttleprobe/analysis"
	"github.com/lukemcguire/throttleprobe/store/sqlite"
	"github.com/lukemcguire/throttleprobe/tui"
)

var errNoArchive = errors.New("--list-runs and --show-run need sqlite_path or THROTTLEPROBE_SQLITE")

// inspect serves --list-runs and --show-run from the archive.
func (a *app) inspect(ctx context.Context, w io.Writer) error {
	if a.archive == nil {
		return errNoArchive
	}
	if a.opts.showRun > 0 {
		return showRun(ctx, a.archive, a.opts.showRun, w)
	}
	return listRuns(ctx, a.archive, w)
}

func listRuns(ctx context.Context, db *sqlite.DB, w io.Writer) error {
	runs, err := db.ListRuns(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, tui.RenderRunList(runs))
	return err
}

func showRun(ctx context.Context, db *sqlite.DB, id int64, w io.Writer) error {
	run, err := db.LoadRun(ctx, id)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("run %d (%s)", run.ID, run.Phase)
	_, err = fmt.Fprint(w, tui.RenderSummary(title, run.Account, analysis.Analyze(run.Trace), run.Trace))
	return err
}
