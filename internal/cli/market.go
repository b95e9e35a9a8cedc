package cli

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"stofina-realtime/internal/trading"
)

// addMarketCommands adds REST market snapshot and session calendar commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Market snapshot and session times",
	}

	cmd.AddCommand(newMarketSymbolsCmd(app))
	cmd.AddCommand(newMarketNextOpenCmd(app))

	rootCmd.AddCommand(cmd)
}

func newMarketSymbolsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "symbols",
		Short: "List tradable symbols with their last REST price",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*app.Config.API.RequestTimeout)
			defer cancel()

			infos, err := app.symbolSource().Symbols(ctx)
			if err != nil {
				output.Error("Failed to fetch symbols: %s", trading.ClassifyError(err).Message)
				return err
			}
			sort.Slice(infos, func(i, j int) bool { return infos[i].Symbol < infos[j].Symbol })

			if output.IsJSON() {
				return output.JSON(infos)
			}
			if len(infos) == 0 {
				output.Info("No symbols")
				return nil
			}

			loc := app.location()
			table := NewTable(output, "Symbol", "Company", "Price", "Change", "Updated")
			for _, info := range infos {
				q := info.ToQuote()
				table.AddRow(
					q.Symbol,
					TruncateString(q.CompanyName, 28),
					FormatPrice(q.Price),
					output.Change(q.Change, q.ChangePercent),
					FormatDateTime(q.LastUpdated, loc),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newMarketNextOpenCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "next-open",
		Short: "Show the earliest time a scheduled order can be set for",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rules, err := trading.NewScheduleRules(app.Config.Orders)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			now := app.clock().Now()
			next := rules.NextValidMarketTime(now)

			if output.IsJSON() {
				return output.JSON(map[string]string{
					"next":     rules.FormatForAPI(next),
					"timezone": rules.Location.String(),
					"in":       FormatDuration(next.Sub(now)),
				})
			}
			output.Printf("%s %s\n", rules.FormatForAPI(next), output.DimText(rules.Location.String()))
			output.Dim("in %s", FormatDuration(next.Sub(now)))
			return nil
		},
	}
}
