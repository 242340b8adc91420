package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/devcost/internal/backfill"
	"github.com/theirongolddev/devcost/internal/cli"
	"github.com/theirongolddev/devcost/internal/daemon"
	"github.com/theirongolddev/devcost/internal/energyconfig"
	"github.com/theirongolddev/devcost/internal/model"
	"github.com/theirongolddev/devcost/internal/store"
)

var (
	flagBackfillStatistic string
	flagBackfillDays      int
	flagBackfillDryRun    bool
	flagBackfillRemote    bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild device cost history from hourly energy and price statistics",
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&flagBackfillStatistic, "statistic-id", "", "Only backfill this cost statistic (e.g. sensor.washer_energy_cost)")
	backfillCmd.Flags().IntVarP(&flagBackfillDays, "days", "n", 0, "Days of history to rebuild (default from config)")
	backfillCmd.Flags().BoolVar(&flagBackfillDryRun, "dry-run", false, "Compute and print the cost series without importing it")
	backfillCmd.Flags().BoolVar(&flagBackfillRemote, "remote", false, "Ask the running daemon to perform the backfill")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(_ *cobra.Command, _ []string) error {
	days := flagBackfillDays
	if days <= 0 {
		days = appCfg.General.BackfillDays
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	req := backfill.Request{StatisticID: flagBackfillStatistic, Days: days}

	if flagBackfillRemote {
		results, err := daemon.NewClient(appCfg.Daemon.Addr).Backfill(ctx, req)
		if err != nil {
			return fmt.Errorf("daemon backfill: %w", err)
		}
		printBackfillResults(results)
		return nil
	}

	resolved, ok := energyconfig.LoadResolved(appCfg.General.EnergyConfig, appLog)
	if !ok {
		return errors.New("no usable devices in the energy configuration")
	}

	stats, err := store.Open(appCfg.StatisticsPath(), appCfg.Storage.Namespace)
	if err != nil {
		return fmt.Errorf("opening statistics store: %w", err)
	}
	defer func() { _ = stats.Close() }()

	if flagBackfillDryRun {
		return previewBackfill(ctx, stats, resolved, req)
	}

	req.Currency = currency(ctx)
	runner := backfill.NewRunner(stats, stats, appLog, backfill.Options{
		Tolerance: appCfg.Backfill.Tolerance.Duration,
		Source:    appCfg.Backfill.Source,
	})

	if !flagQuiet {
		appLog.Info("starting backfill",
			zap.Int("days", days),
			zap.String("statistic_id", req.StatisticID),
		)
	}

	results, err := runner.Run(ctx, resolved, req)
	if err != nil {
		return err
	}
	printBackfillResults(results)
	return nil
}

// previewBackfill computes the series a backfill would import and prints
// it without writing anything.
func previewBackfill(ctx context.Context, stats *store.Store, resolved energyconfig.Resolved, req backfill.Request) error {
	devices, err := backfill.SelectDevices(resolved.Devices, req.StatisticID)
	if err != nil {
		return err
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -req.Days)
	cur := currency(ctx)

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		energy, err := stats.StatisticsDuringPeriod(ctx, d.EnergyEntity, start, end, model.PeriodHour)
		if err != nil {
			return err
		}
		price, err := stats.StatisticsDuringPeriod(ctx, d.PriceEntity, start, end, model.PeriodHour)
		if err != nil {
			return err
		}
		if len(energy) == 0 || len(price) == 0 {
			rows = append(rows, []string{d.CostEntityID(), "-", "-", "-", "missing statistics"})
			continue
		}

		series := backfill.Compute(energy, price, appCfg.Backfill.Tolerance.Duration)
		sums := make([]float64, 0, len(series.Points))
		final := 0.0
		for _, p := range series.Points {
			if p.Sum != nil {
				sums = append(sums, *p.Sum)
				final = *p.Sum
			}
		}
		rows = append(rows, []string{
			d.CostEntityID(),
			fmt.Sprintf("%d", len(series.Points)),
			cli.FormatCost(final, cur),
			cli.RenderSparkline(sums),
			fmt.Sprintf("%d unmatched", series.Unmatched),
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("BACKFILL PREVIEW  |  %d DAYS", req.Days)))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Computed Cost (not imported)",
		Headers: []string{"Statistic", "Points", "Total", "Trend", "Notes"},
		Rows:    rows,
	}))
	return nil
}

func printBackfillResults(results []backfill.Result) {
	rows := make([][]string, 0, len(results))
	inserted := 0
	for _, r := range results {
		outcome := "inserted"
		if !r.Inserted {
			outcome = "skipped: " + r.Skipped
		} else {
			inserted++
		}
		rows = append(rows, []string{
			r.StatisticID,
			fmt.Sprintf("%d", r.Points),
			fmt.Sprintf("%d", r.Unmatched),
			outcome,
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("BACKFILL"))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Results",
		Headers: []string{"Statistic", "Points", "Unmatched", "Outcome"},
		Rows:    rows,
	}))
	if inserted < len(results) {
		fmt.Println(cli.RenderWarning(fmt.Sprintf("%d of %d devices skipped; see the log for details", len(results)-inserted, len(results))))
	}
	fmt.Println()
}
