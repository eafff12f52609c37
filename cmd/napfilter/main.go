// Package main provides the CLI entrypoint for napfilter.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/verte-zerg/napfilter/internal/config"
	"github.com/verte-zerg/napfilter/internal/engine"
	"github.com/verte-zerg/napfilter/internal/model"
	"github.com/verte-zerg/napfilter/internal/report"
	"github.com/verte-zerg/napfilter/internal/schema"
	"github.com/verte-zerg/napfilter/internal/sink"
	"github.com/verte-zerg/napfilter/internal/store"
)

const defaultSchema = schema.HubName

var (
	cleanSource          string
	cleanDest            string
	cleanStats           string
	cleanSchema          string
	cleanNapMin          string
	cleanShortInactivity string
	cleanNoHistory       bool
	cleanQuiet           bool

	dbPath  string
	verbose bool

	logger = zap.NewNop()
)

var (
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	droppedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
)

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "napfilter -s SOURCE [-d CLEANED] [-t SUMMARY]",
		Short:             "Remove naps from LENA recording exports",
		SilenceUsage:      true,
		SilenceErrors:     false,
		Args:              cobra.NoArgs,
		PersistentPreRunE: setupLogger,
		RunE:              runCleanCmd,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "run history database (default: $XDG_DATA_HOME/napfilter/history.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every nap decision")

	rootCmd.Flags().StringVarP(&cleanSource, "source", "s", "", "source CSV file")
	rootCmd.Flags().StringVarP(&cleanDest, "dest", "d", "", "cleaned output file (must not exist)")
	rootCmd.Flags().StringVarP(&cleanStats, "stats", "t", "", "per-visit summary file (must not exist)")
	rootCmd.Flags().StringVar(&cleanSchema, "schema", defaultSchema, "input schema (see 'napfilter schemas')")
	rootCmd.Flags().StringVar(&cleanNapMin, "nap-min", "", "override the nap threshold, in the schema's duration format")
	rootCmd.Flags().StringVar(&cleanShortInactivity, "short-inactivity", "", "override the noise+silence threshold, in the schema's duration format")
	rootCmd.Flags().BoolVar(&cleanNoHistory, "no-history", false, "do not record the run in the history database")
	rootCmd.Flags().BoolVarP(&cleanQuiet, "quiet", "q", false, "skip the end-of-run report")
	if err := rootCmd.MarkFlagRequired("source"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSchemasCmd())
	rootCmd.AddCommand(newHistoryCmd())

	return rootCmd
}

func setupLogger(_ *cobra.Command, _ []string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Sampling = nil
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.DisableStacktrace = true
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = l
	return nil
}

func runCleanCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "schema", &cleanSchema, fileCfg.Clean.Schema)
	applyStringConfig(cmd, "nap-min", &cleanNapMin, fileCfg.Clean.NapMin)
	applyStringConfig(cmd, "short-inactivity", &cleanShortInactivity, fileCfg.Clean.ShortInactivity)
	applyStringConfig(cmd, "db", &dbPath, fileCfg.Clean.DB)
	if fileCfg.Clean.History != nil {
		noHistory := !*fileCfg.Clean.History
		applyBoolConfig(cmd, "no-history", &cleanNoHistory, &noHistory)
	}

	reg, err := fileCfg.Registry()
	if err != nil {
		return err
	}
	s, err := reg.Lookup(cleanSchema)
	if err != nil {
		return err
	}
	s, err = s.WithThresholds(cleanNapMin, cleanShortInactivity)
	if err != nil {
		return err
	}

	cfg := model.CleanConfig{
		SourcePath:      cleanSource,
		CleanedPath:     cleanDest,
		SummaryPath:     cleanStats,
		Schema:          s.Name,
		NapMin:          s.FormatDuration(s.NapMin),
		ShortInactivity: s.FormatDuration(s.ShortInactivity),
		History:         !cleanNoHistory,
		Quiet:           cleanQuiet,
	}
	if err := validateConfig(cfg, s); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	started := time.Now()
	res, err := clean(cfg, s, out)
	if err != nil {
		return err
	}
	ended := time.Now()

	if !cfg.Quiet {
		if _, err := fmt.Fprintln(out, ""); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		if err := report.RenderRun(out, res, s.FormatDuration); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if cfg.History {
		recordRun(cfg, s, res, started, ended)
	}
	return nil
}

func validateConfig(cfg model.CleanConfig, s *schema.Schema) error {
	if cfg.SourcePath == "" {
		return fmt.Errorf("--source is required")
	}
	if s.RequireOutputs && (cfg.CleanedPath == "" || cfg.SummaryPath == "") {
		return fmt.Errorf("schema %s requires both -d and -t", s.Name)
	}
	if err := sink.CheckSource(cfg.SourcePath); err != nil {
		return err
	}
	for _, p := range []string{cfg.CleanedPath, cfg.SummaryPath} {
		if p == "" {
			continue
		}
		if err := sink.CheckDestination(p); err != nil {
			return err
		}
	}
	return nil
}

// clean runs the engine over the source and publishes the outputs once the
// whole input has been processed.
func clean(cfg model.CleanConfig, s *schema.Schema, out io.Writer) (model.RunResult, error) {
	src, err := os.Open(cfg.SourcePath)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("failed to open source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("failed to close source", zap.Error(cerr))
		}
	}()

	outs, err := sink.CreateOutputs(cfg.CleanedPath, cfg.SummaryPath)
	if err != nil {
		return model.RunResult{}, err
	}
	cleanedW, summaryW := outs.Writers()
	csvSink := sink.NewCSV(s, cleanedW, summaryW)

	styled := report.UseColor(out)
	var progressErr error
	eng := engine.New(s, csvSink,
		engine.WithLogger(logger.With(zap.String("schema", s.Name))),
		engine.WithVisitFunc(func(v model.VisitResult) {
			if progressErr == nil {
				progressErr = printVisit(out, v, styled)
			}
		}),
	)

	res, err := eng.Run(src)
	if err == nil {
		err = progressErr
	}
	if err == nil {
		err = csvSink.Flush()
	}
	if err != nil {
		outs.Abort()
		var rowErr *engine.RowError
		if errors.As(err, &rowErr) {
			return model.RunResult{}, fmt.Errorf("malformed row in %s: %w", cfg.SourcePath, err)
		}
		if errors.Is(err, engine.ErrNoHeader) {
			return model.RunResult{}, fmt.Errorf("%s: %w", cfg.SourcePath, err)
		}
		return model.RunResult{}, err
	}
	if err := outs.Commit(); err != nil {
		return model.RunResult{}, err
	}

	line := fmt.Sprintf("Processed %d visits", res.VisitCount())
	if styled {
		line = doneStyle.Render(line)
	}
	if _, err := fmt.Fprintln(out, line); err != nil {
		return model.RunResult{}, fmt.Errorf("failed to write output: %w", err)
	}
	logger.Info("run finished",
		zap.Int("visits", res.VisitCount()),
		zap.Int("rows", res.DataRows),
		zap.Int("dropped", res.DroppedRows),
		zap.Int("naps", res.NapRuns),
		zap.Int("blank_lines", res.BlankLines),
	)
	return res, nil
}

func printVisit(w io.Writer, v model.VisitResult, styled bool) error {
	visitLine := fmt.Sprintf("Processed visit: PARTICIPANT_ID=%s, AGE=%s", v.Key.ParticipantID, v.Key.Age)
	droppedLine := fmt.Sprintf("Filtered out %d lines", v.DroppedRows)
	if styled {
		visitLine = progressStyle.Render(visitLine)
		if v.DroppedRows > 0 {
			droppedLine = droppedStyle.Render(droppedLine)
		}
	}
	if _, err := fmt.Fprintln(w, visitLine); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if _, err := fmt.Fprintln(w, droppedLine); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// recordRun stores the run in the history database. Failures are logged; the
// outputs are already published at this point.
func recordRun(cfg model.CleanConfig, s *schema.Schema, res model.RunResult, started, ended time.Time) {
	st, err := store.Open(resolveDBPath())
	if err != nil {
		logger.Warn("failed to open history db", zap.Error(err))
		return
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("failed to close history db", zap.Error(cerr))
		}
	}()

	rec := model.RunRecord{
		StartedAt:   started,
		EndedAt:     ended,
		SourcePath:  absPath(cfg.SourcePath),
		CleanedPath: absPath(cfg.CleanedPath),
		SummaryPath: absPath(cfg.SummaryPath),
		Schema:      s.Name,
		NapMinS:     int64(s.NapMin),
		Visits:      res.VisitCount(),
		DataRows:    res.DataRows,
		KeptRows:    res.KeptRows,
		DroppedRows: res.DroppedRows,
		NapRuns:     res.NapRuns,
	}
	id, err := st.InsertRun(context.Background(), rec, res.Visits)
	if err != nil {
		logger.Warn("failed to record run", zap.Error(err))
		return
	}
	logger.Debug("run recorded", zap.String("run_id", id))
}

func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return config.DefaultDBPath()
}
