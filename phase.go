package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/lukemcguire/throttleprobe/account"
	"github.com/lukemcguire/throttleprobe/analysis"
	"github.com/lukemcguire/throttleprobe/config"
	"github.com/lukemcguire/throttleprobe/probe"
	"github.com/lukemcguire/throttleprobe/result"
	"github.com/lukemcguire/throttleprobe/store/sqlite"
	"github.com/lukemcguire/throttleprobe/tui"
)

const (
	phaseJob    = "job"
	phaseDirect = "direct"
	phaseAll    = "all"
)

// phase describes one probe variant.
type phase struct {
	name     string
	title    string
	fileBase string // Result file name without extension
}

var (
	jobPhase    = phase{name: phaseJob, title: "Job API rate limit probe", fileBase: "apify_rate_limit_results"}
	directPhase = phase{name: phaseDirect, title: "Direct fetch rate limit probe", fileBase: "instagram_rate_limit_results"}
)

func phasesFor(name string) []phase {
	switch name {
	case phaseJob:
		return []phase{jobPhase}
	case phaseDirect:
		return []phase{directPhase}
	default:
		return []phase{jobPhase, directPhase}
	}
}

// app carries what every phase shares.
type app struct {
	cfg     *config.Config
	opts    *options
	logger  *zap.Logger
	store   *result.Store
	archive *sqlite.DB // Nil when no database is configured
}

// runPhase probes every configured account for ph and reports each outcome.
// stopped is set when the user quit the UI, so no later phase should start.
func (a *app) runPhase(ctx context.Context, ph phase) (recs [][]analysis.Recommendation, stopped bool, err error) {
	var progressCh chan probe.ProbeEvent
	if !a.opts.noTUI {
		progressCh = make(chan probe.ProbeEvent, 100)
	}

	runners, err := a.buildRunners(ctx, ph, progressCh)
	if err != nil {
		return nil, false, err
	}
	if len(runners) == 0 {
		a.logger.Warn("phase_skipped", zap.String("phase", ph.name), zap.String("reason", "no allowed targets"))
		return nil, false, nil
	}

	outcomes, stopped, err := a.execute(ctx, ph, runners, progressCh)
	if err != nil {
		return nil, false, err
	}

	recs = make([][]analysis.Recommendation, 0, len(outcomes))
	for _, out := range outcomes {
		res := analysis.Analyze(out.Trace)
		if err := a.report(ph, out, res); err != nil {
			return nil, stopped, err
		}
		if err := a.save(ctx, ph, out, len(outcomes) > 1); err != nil {
			return nil, stopped, err
		}
		recs = append(recs, res.Recommendations)
	}
	return recs, stopped, nil
}

// fleetFunc runs all runners and then closes progressCh, if set, so the UI
// listener returns.
func fleetFunc(runners []*probe.Runner, progressCh chan probe.ProbeEvent) tui.RunFunc {
	return func(ctx context.Context) []probe.Outcome {
		outcomes := probe.RunFleet(ctx, runners, 0)
		if progressCh != nil {
			close(progressCh)
		}
		return outcomes
	}
}

func (a *app) execute(ctx context.Context, ph phase, runners []*probe.Runner, progressCh chan probe.ProbeEvent) ([]probe.Outcome, bool, error) {
	runAll := fleetFunc(runners, progressCh)
	if a.opts.noTUI {
		return runAll(ctx), ctx.Err() != nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	model := tui.NewModel(ctx, cancel, ph.title, runAll, progressCh)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, false, fmt.Errorf("run %s phase ui: %w", ph.name, err)
	}
	m := final.(tui.Model)
	return m.Outcomes(), m.Quitting(), nil
}

func (a *app) buildRunners(ctx context.Context, ph phase, progressCh chan probe.ProbeEvent) ([]*probe.Runner, error) {
	runners := make([]*probe.Runner, 0, len(a.cfg.Accounts))
	for _, acct := range a.cfg.Accounts {
		session := account.NewSession(a.cfg.MaxRequestsPerSecond)
		if err := session.Configure(acct); err != nil {
			return nil, err
		}
		logger := a.logger.With(zap.String("phase", ph.name), zap.String("account", acct.Name))

		runCfg := probe.Config{Phase: ph.name, Account: acct.Name, Targets: a.cfg.Targets}
		var attempter probe.Attempter
		switch ph.name {
		case phaseJob:
			client := probe.NewJobClient(session, a.cfg.JobClientConfig())
			poller := probe.NewJobPoller(client, a.cfg.PollConfig(), probe.SleepContext, time.Now, logger)
			attempter = probe.NewJobProbe(client, poller, logger)
			runCfg.MaxRequests = a.cfg.JobAPI.MaxRequests
			runCfg.Pacing = a.cfg.JobPacing()
		default:
			attempter = probe.NewDirectProbe(session, a.cfg.Direct.RequestTimeout, logger)
			runCfg.MaxRequests = a.cfg.Direct.MaxRequests
			runCfg.Pacing = a.cfg.DirectPacing()
			if a.cfg.Direct.RespectRobots {
				checker := probe.NewRobotsChecker(session.Client())
				runCfg.Targets = probe.FilterAllowed(ctx, checker, runCfg.Targets, session.Header().Get("User-Agent"), logger)
				if len(runCfg.Targets) == 0 {
					logger.Warn("robots_disallowed_all", zap.Int("targets", len(a.cfg.Targets)))
					continue
				}
			}
		}

		opts := []probe.Option{probe.WithLogger(a.logger)}
		if progressCh != nil {
			opts = append(opts, probe.WithProgress(progressCh))
		}
		r, err := probe.NewRunner(runCfg, attempter, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s phase for account %s: %w", ph.name, acct.Name, err)
		}
		runners = append(runners, r)
	}
	return runners, nil
}

func (a *app) report(ph phase, out probe.Outcome, res analysis.Analysis) error {
	if a.opts.noTUI {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Phase   string `json:"phase"`
			Account string `json:"account"`
			Stop    string `json:"stop_reason"`
			analysis.Analysis
		}{ph.name, out.Account, string(out.Stop), res}); err != nil {
			return fmt.Errorf("print %s analysis: %w", ph.name, err)
		}
		return nil
	}
	fmt.Print(tui.RenderSummary(ph.title, out.Account, res, out.Trace))
	fmt.Println()
	return nil
}

func (a *app) save(ctx context.Context, ph phase, out probe.Outcome, perAccount bool) error {
	name := ph.fileBase
	if perAccount {
		name += "_" + sanitize(out.Account)
	}
	name += "." + string(a.store.Format)

	path, err := a.store.Save(out.Trace, name)
	if err != nil {
		return err
	}
	a.logger.Info("results_saved", zap.String("phase", ph.name), zap.String("account", out.Account), zap.String("path", path))

	if a.archive == nil {
		return nil
	}
	id, err := a.archive.SaveRun(context.WithoutCancel(ctx), sqlite.Run{
		Phase:      ph.name,
		Account:    out.Account,
		Name:       name,
		StopReason: string(out.Stop),
		Trace:      out.Trace,
	})
	if err != nil {
		return fmt.Errorf("archive %s run: %w", ph.name, err)
	}
	a.logger.Info("run_archived", zap.Int64("run_id", id))
	return nil
}

// sanitize makes an account name safe to embed in a file name.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
