package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/napfilter/internal/config"
	"github.com/verte-zerg/napfilter/internal/duration"
	"github.com/verte-zerg/napfilter/internal/historyui"
	"github.com/verte-zerg/napfilter/internal/model"
	"github.com/verte-zerg/napfilter/internal/report"
	"github.com/verte-zerg/napfilter/internal/schema"
	"github.com/verte-zerg/napfilter/internal/store"
)

var (
	historySchema string
	historySince  string
	historyLast   int
	historyRun    string
	historyPlain  bool
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past cleaning runs",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historySchema, "schema", "", "schema filter")
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N runs")
	cmd.Flags().StringVar(&historyRun, "run", "", "show the visits of one run")
	cmd.Flags().BoolVar(&historyPlain, "plain", false, "print tables instead of the interactive browser")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	var sinceTime *time.Time
	if historySince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		sinceTime = &parsed
	}
	if historyLast < 0 {
		return fmt.Errorf("--last must be >= 0")
	}
	cfg := model.HistoryConfig{
		Schema: historySchema,
		Since:  sinceTime,
		Last:   historyLast,
	}

	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "db", &dbPath, fileCfg.Clean.DB)
	reg, err := fileCfg.Registry()
	if err != nil {
		return err
	}
	enc := encodingFor(reg)

	st, err := store.Open(resolveDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ctx := context.Background()
	out := cmd.OutOrStdout()
	if historyRun != "" {
		run, err := st.GetRun(ctx, historyRun)
		if err != nil {
			return err
		}
		visits, err := st.ListVisits(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to load visits: %w", err)
		}
		return report.RenderVisits(out, run, visits, enc(run.Schema))
	}

	if historyPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		h, err := report.BuildHistory(ctx, st, cfg)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		return report.RenderHistory(out, h, 0, report.UseColor(out))
	}

	program := tea.NewProgram(historyui.NewModel(st, cfg, enc), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run history TUI: %w", err)
	}
	return nil
}

// encodingFor resolves the duration encoding of a recorded schema name,
// falling back to seconds for schemas no longer configured.
func encodingFor(reg *schema.Registry) historyui.EncodingFunc {
	return func(name string) duration.Encoding {
		s, err := reg.Lookup(name)
		if err != nil {
			return duration.Seconds{}
		}
		return s.Encoding
	}
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		return
	}
}
