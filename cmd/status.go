package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theirongolddev/devcost/internal/cli"
	"github.com/theirongolddev/devcost/internal/energyconfig"
	"github.com/theirongolddev/devcost/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted running cost of every device",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	recs, err := st.ListStates(ctx)
	if err != nil {
		return fmt.Errorf("listing accumulator state: %w", err)
	}

	// Keys of devices still in the energy configuration; others are kept
	// around from earlier configurations.
	configured := map[string]bool{}
	if res, ok := energyconfig.LoadResolved(appCfg.General.EnergyConfig, zap.NewNop()); ok {
		for _, d := range res.Devices {
			configured[d.StorageKey()] = true
		}
	}

	cur := currency(ctx)
	now := time.Now()

	fmt.Println()
	fmt.Println(cli.RenderTitle("DEVICE ENERGY COST"))
	fmt.Println()

	if len(recs) == 0 {
		fmt.Println("  No accumulated cost yet. Start the daemon with `devcost daemon`.")
		fmt.Println()
		return nil
	}

	var (
		total   float64
		maxCost float64
	)
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		total += r.State.TotalCost
		if r.State.TotalCost > maxCost {
			maxCost = r.State.TotalCost
		}

		baseline := "-"
		if r.State.LastEnergy != nil {
			baseline = cli.FormatEnergy(*r.State.LastEnergy)
		}
		state := "active"
		if !configured[r.Key] {
			state = "removed"
		}
		rows = append(rows, []string{
			model.ObjectID(r.Key),
			cli.FormatCost(r.State.TotalCost, cur),
			baseline,
			cli.FormatAge(r.UpdatedAt, now),
			state,
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Running Totals",
		Headers: []string{"Sensor", "Cost", "Baseline", "Updated", "State"},
		Rows:    rows,
		Footer:  []string{"Total", cli.FormatCost(total, cur)},
	}))

	for _, r := range recs {
		label := fmt.Sprintf("%s  %s", cli.FormatCost(r.State.TotalCost, cur), model.ObjectID(r.Key))
		fmt.Println(cli.RenderHorizontalBar(label, r.State.TotalCost, maxCost, 30))
	}
	fmt.Println()

	return nil
}
