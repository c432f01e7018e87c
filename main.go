// Package main provides the throttleprobe CLI entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lukemcguire/throttleprobe/analysis"
	"github.com/lukemcguire/throttleprobe/config"
	"github.com/lukemcguire/throttleprobe/logging"
	"github.com/lukemcguire/throttleprobe/result"
	"github.com/lukemcguire/throttleprobe/store/sqlite"
	"github.com/lukemcguire/throttleprobe/tui"
	"github.com/lukemcguire/throttleprobe/urlutil"
)

var version = "dev"

// options holds the parsed command line.
type options struct {
	configPath        string
	phase             string
	maxRequests       int
	directMaxRequests int
	noTUI             bool
	allAccounts       bool
	outputDir         string
	format            string
	showVersion       bool
	listRuns          bool
	showRun           int64
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("throttleprobe", flag.ContinueOnError)
	opts := &options{}
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")
	fs.StringVar(&opts.phase, "phase", phaseAll, "probe phase to run: job, direct or all")
	fs.IntVar(&opts.maxRequests, "max-requests", 0, "maximum attempts for the job phase (0 keeps the config value)")
	fs.IntVar(&opts.directMaxRequests, "direct-max-requests", 0, "maximum attempts for the direct phase (0 keeps the config value)")
	fs.BoolVar(&opts.noTUI, "no-tui", false, "disable the terminal UI and print JSON analysis")
	fs.BoolVar(&opts.allAccounts, "all-accounts", false, "probe every configured account concurrently")
	fs.StringVarP(&opts.outputDir, "output", "o", "", "directory for result files")
	fs.StringVar(&opts.format, "format", string(result.FormatJSON), "result file format: json, csv or xlsx")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.listRuns, "list-runs", false, "list runs archived in the sqlite database and exit")
	fs.Int64Var(&opts.showRun, "show-run", 0, "print the summary of an archived run and exit")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: throttleprobe [flags]")
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch opts.phase {
	case phaseJob, phaseDirect, phaseAll:
	default:
		return nil, fmt.Errorf("invalid --phase %q: must be job, direct or all", opts.phase)
	}
	if opts.maxRequests < 0 || opts.directMaxRequests < 0 {
		return nil, errors.New("max requests flags must not be negative")
	}
	if opts.showRun < 0 {
		return nil, fmt.Errorf("invalid --show-run %d", opts.showRun)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println("throttleprobe", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) (err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	targets, err := urlutil.NormalizeAll(cfg.Targets)
	if err != nil {
		return err
	}
	cfg.Targets = targets

	format, err := result.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	logOpts := logging.Options{Dir: cfg.LogDir}
	if opts.noTUI {
		logOpts.Console = os.Stderr
	}
	logger, err := logging.NewLogger(logOpts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a := &app{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		store:  &result.Store{Dir: cfg.OutputDir, Format: format},
	}
	if cfg.SQLitePath != "" {
		db, openErr := sqlite.Open(cfg.SQLitePath)
		if openErr != nil {
			return openErr
		}
		defer func() { err = errors.Join(err, db.Close()) }()
		a.archive = db
	}

	if opts.listRuns || opts.showRun > 0 {
		return a.inspect(ctx, os.Stdout)
	}

	recs, err := runPhases(ctx, phasesFor(opts.phase), a.runPhase)

	merged := analysis.Merge(recs...)
	if len(merged) > 0 {
		fmt.Println()
		fmt.Print(tui.RenderRecommendations(merged))
	}
	logger.Info("probe_complete", zap.Int("recommendations", len(merged)))
	return err
}

// phaseFunc runs one phase. stopped reports that the user asked to quit.
type phaseFunc func(ctx context.Context, ph phase) (recs [][]analysis.Recommendation, stopped bool, err error)

// runPhases runs phases in order until one fails, the user quits or ctx is
// cancelled. Recommendations gathered so far are returned in every case.
func runPhases(ctx context.Context, phases []phase, fn phaseFunc) ([][]analysis.Recommendation, error) {
	var recs [][]analysis.Recommendation
	for _, ph := range phases {
		if ctx.Err() != nil {
			break
		}
		phaseRecs, stopped, err := fn(ctx, ph)
		recs = append(recs, phaseRecs...)
		if err != nil {
			return recs, err
		}
		if stopped {
			break
		}
	}
	return recs, nil
}

func applyFlags(cfg *config.Config, opts *options) {
	if opts.maxRequests > 0 {
		cfg.JobAPI.MaxRequests = opts.maxRequests
	}
	if opts.directMaxRequests > 0 {
		cfg.Direct.MaxRequests = opts.directMaxRequests
	}
	if opts.outputDir != "" {
		cfg.OutputDir = opts.outputDir
	}
	if !opts.allAccounts && len(cfg.Accounts) > 1 {
		cfg.Accounts = cfg.Accounts[:1]
	}
}
