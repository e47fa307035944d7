package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/api"
	"github.com/JakeFAU/statement-crawler/internal/app"
	"github.com/JakeFAU/statement-crawler/internal/config"
	"github.com/JakeFAU/statement-crawler/internal/dispatcher"
	"github.com/JakeFAU/statement-crawler/internal/logging"
)

// newFetchCmd creates the 'fetch-data' subcommand, which runs one resumable
// crawl into the output directory.
func newFetchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-data",
		Short: "Crawls problem statements into an output directory",
		Long: `Lists problems from every enabled judge and renders each statement with a
pool of browser workers. Records are appended to <output>/meta.jsonl and
screenshots are written under <output>/images. Interrupting the command is
safe: the next run skips everything already in the ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("output", "", "directory holding meta.jsonl and images/ (required)")
	flags.Int("workers", config.DefaultWorkers(), "number of browser workers")
	flags.String("state-file", "", "browser storage state (cookies) to load into every session")
	flags.StringSlice("judges", nil, "judges to crawl (default all)")

	for key, name := range map[string]string{
		"output":     "output",
		"workers":    "workers",
		"state_file": "state-file",
		"judges":     "judges",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
	return cmd
}

func runFetch(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.L

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	d := a.Dispatcher(os.Stderr)

	if cfg.Server.Addr != "" {
		srvCtx, cancelSrv := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := api.NewServer(d, logger).ListenAndServe(srvCtx, cfg.Server.Addr); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			cancelSrv()
			<-done
		}()
	}

	logger.Info("starting crawl",
		zap.String("output", cfg.Output),
		zap.Int("workers", cfg.Workers),
		zap.Any("judges", a.Registry().Judges()),
	)
	summary, err := d.Run(ctx)
	renderSummary(cmd.OutOrStdout(), summary)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("crawl interrupted; rerun to resume", zap.Int64("completed", summary.Completed))
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl finished")
	return nil
}

func renderSummary(w io.Writer, s dispatcher.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Enqueued", s.Enqueued},
		{"Total", s.Total},
		{"Completed", s.Completed},
		{"Not completed", max(s.Total-s.Completed, 0)},
		{"Ledger errors", s.LedgerErrors},
		{"Publish errors", s.PublishErrors},
		{"Workers finished", fmt.Sprintf("%d/%d", s.FinishedWorkers, s.Workers)},
		{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
	})
	t.Render()
}
