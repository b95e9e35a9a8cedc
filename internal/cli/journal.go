package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"stofina-realtime/internal/security"
)

// addJournalCommands adds commands reading the local order and trade journal.
func addJournalCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Local order and trade journal",
		Long:  "Review orders submitted from this machine and trades recorded while streaming.",
	}

	cmd.AddCommand(newJournalOrdersCmd(app))
	cmd.AddCommand(newJournalTradesCmd(app))
	cmd.PersistentFlags().IntP("limit", "n", 20, "maximum rows shown")

	rootCmd.AddCommand(cmd)
}

func newJournalOrdersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Show recent order submissions, including rejected ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			limit, _ := cmd.Flags().GetInt("limit")
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			journal, err := app.Journal()
			if err != nil {
				output.Error("Journal unavailable: %v", err)
				return err
			}
			records, err := journal.RecentOrders(ctx, limit)
			if err != nil {
				output.Error("Failed to read journal: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Info("No orders recorded yet.")
				output.Dim("Orders are recorded when you submit them with 'stofina order'.")
				return nil
			}

			loc := app.location()
			table := NewTable(output, "Time", "Client ID", "Symbol", "Type", "Qty", "Price", "Status", "Note")
			for _, r := range records {
				price := "-"
				switch {
				case r.StopPrice > 0:
					price = "stop " + FormatPrice(r.StopPrice)
				case r.Price > 0:
					price = FormatPrice(r.Price)
				}
				note := r.OrderID
				if r.ErrorCode != "" {
					note = r.ErrorCode
				}
				table.AddRow(
					FormatDateTime(r.CreatedAt, loc),
					r.ClientOrderID,
					r.Symbol,
					output.OrderTypeSide(r.OrderType),
					FormatQuantity(r.Quantity),
					price,
					output.OrderStatus(r.Status),
					TruncateString(note, 24),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newJournalTradesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trades <symbol>",
		Short: "Show trades recorded for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			limit, _ := cmd.Flags().GetInt("limit")
			symbol := security.SanitizeSymbol(args[0])
			if err := app.inputValidator().ValidateSymbol(symbol); err != nil {
				output.Error("%v", err)
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			journal, err := app.Journal()
			if err != nil {
				output.Error("Journal unavailable: %v", err)
				return err
			}
			trades, err := journal.RecentTrades(ctx, symbol, limit)
			if err != nil {
				output.Error("Failed to read journal: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Info("No trades recorded for %s.", symbol)
				output.Dim("Trades are recorded while 'stofina stream trades %s' runs.", symbol)
				return nil
			}

			loc := app.location()
			var volume int64
			var notional float64
			table := NewTable(output, "Time", "ID", "Side", "Qty", "Price")
			for _, t := range trades {
				volume += t.Quantity
				notional += t.Price * float64(t.Quantity)
				table.AddRow(
					FormatDateTime(t.Timestamp, loc),
					t.ID,
					output.Side(t.Side),
					FormatQuantity(float64(t.Quantity)),
					FormatPrice(t.Price),
				)
			}
			table.Render()
			output.Println()
			output.Printf("  %d trades  volume %s  value %s\n", len(trades), FormatVolume(volume), FormatTRY(notional))
			return nil
		},
	}
}
