package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stofina-realtime/internal/broker"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/security"
	"stofina-realtime/internal/store"
	"stofina-realtime/internal/stream"
)

// addStreamCommands adds the realtime stream commands.
func addStreamCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Watch realtime market streams",
		Long:  "Open a STOMP stream and print updates until interrupted.",
	}

	cmd.AddCommand(newStreamPricesCmd(app))
	cmd.AddCommand(newStreamOrderBookCmd(app))
	cmd.AddCommand(newStreamTradesCmd(app))

	cmd.PersistentFlags().Duration("duration", 0, "stop after this long (default: until interrupted)")

	rootCmd.AddCommand(cmd)
}

func newStreamPricesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "prices [symbol...]",
		Short: "Stream price quotes",
		Example: `  stofina stream prices
  stofina stream prices THYAO GARAN --duration 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbols := args
			if len(symbols) > 0 {
				if err := app.inputValidator().ValidateSymbols(symbols); err != nil {
					output.Error("%v", err)
					return err
				}
			}

			loc := app.location()
			return app.watch(cmd, output, stream.SessionOptions{
				Streams: []models.StreamKind{models.StreamMarketData},
				Symbols: symbols,
			}, func(sess *stream.Session, u store.Update) {
				if u.Kind != store.UpdateQuotes {
					return
				}
				for _, sym := range u.Symbols {
					q, ok := sess.Snapshot().Quote(sym)
					if !ok {
						continue
					}
					if output.IsJSON() {
						_ = output.JSON(q)
						continue
					}
					output.Printf("%s  %-8s %10s  %s  vol %s\n",
						output.DimText(FormatTime(q.LastUpdated, loc)), q.Symbol, FormatPrice(q.Price),
						output.Change(q.Change, q.ChangePercent), FormatVolume(q.Volume))
				}
			})
		},
	}
}

func newStreamOrderBookCmd(app *App) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:     "orderbook <symbol>",
		Short:   "Stream the order book of a symbol",
		Example: `  stofina stream orderbook THYAO --depth 10`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := security.SanitizeSymbol(args[0])
			if err := app.inputValidator().ValidateSymbol(symbol); err != nil {
				output.Error("%v", err)
				return err
			}

			return app.watch(cmd, output, stream.SessionOptions{
				Streams: []models.StreamKind{models.StreamOrderBook},
				Symbol:  symbol,
			}, func(sess *stream.Session, u store.Update) {
				if u.Kind != store.UpdateBook {
					return
				}
				renderBook(output, sess.Snapshot(), depth)
			})
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 5, "price levels shown per side")
	return cmd
}

func newStreamTradesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "trades <symbol>",
		Short:   "Stream trade executions of a symbol",
		Long:    "Stream trade executions of a symbol. Every execution is also written to the local journal.",
		Example: `  stofina stream trades GARAN`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := security.SanitizeSymbol(args[0])
			if err := app.inputValidator().ValidateSymbol(symbol); err != nil {
				output.Error("%v", err)
				return err
			}

			journal, err := app.Journal()
			if err != nil {
				app.Logger.Warn().Err(err).Msg("Journal unavailable, trades will not be recorded")
			}

			loc := app.location()
			return app.watch(cmd, output, stream.SessionOptions{
				Streams: []models.StreamKind{models.StreamTrades},
				Symbol:  symbol,
				Journal: journal,
			}, func(sess *stream.Session, u store.Update) {
				if u.Kind != store.UpdateTrades {
					return
				}
				for _, t := range u.Trades {
					if output.IsJSON() {
						_ = output.JSON(t)
						continue
					}
					output.Printf("%s  %-8s %-4s %8s @ %s\n",
						output.DimText(FormatTime(t.Timestamp, loc)), t.Symbol, output.Side(t.Side),
						FormatQuantity(float64(t.Quantity)), FormatPrice(t.Price))
				}
				if !output.IsJSON() && len(u.Trades) > 0 {
					snap := sess.Snapshot()
					if vwap, ok := snap.VWAP(); ok {
						output.Dim("  VWAP %s  volume %s  last 5m %s",
							FormatPrice(vwap), FormatVolume(snap.TotalVolume()), FormatVolume(snap.VolumeSince(5*time.Minute)))
					}
				}
			})
		},
	}
}

func renderBook(output *Output, snap *store.Snapshot, depth int) {
	book := snap.Book()
	if output.IsJSON() {
		_ = output.JSON(book)
		return
	}

	bid, hasBid := snap.BestBid()
	ask, hasAsk := snap.BestAsk()
	header := book.Symbol
	if hasBid {
		header += "  bid " + output.Green(FormatPrice(bid))
	}
	if hasAsk {
		header += "  ask " + output.Red(FormatPrice(ask))
	}
	if spread, ok := snap.Spread(); ok {
		header += "  spread " + FormatPrice(spread)
	}
	output.Bold("%s", header)

	table := NewTable(output, "Bid qty", "Bid", "Ask", "Ask qty")
	for i := 0; i < depth && (i < len(book.Bids) || i < len(book.Asks)); i++ {
		row := []string{"", "", "", ""}
		if i < len(book.Bids) {
			row[0] = FormatQuantity(float64(book.Bids[i].Quantity))
			row[1] = output.Green(FormatPrice(book.Bids[i].Price))
		}
		if i < len(book.Asks) {
			row[2] = output.Red(FormatPrice(book.Asks[i].Price))
			row[3] = FormatQuantity(float64(book.Asks[i].Quantity))
		}
		table.AddRow(row...)
	}
	table.Render()
	output.Println()
}

// watch runs a session until the command context ends, the --duration elapses or an
// interrupt arrives, handing every hub update to render on this goroutine.
func (a *App) watch(cmd *cobra.Command, output *Output, opts stream.SessionOptions, render func(*stream.Session, store.Update)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	sess, statuses, err := a.openSession(ctx, opts)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	updates := sess.Hub().SubscribeAll()
	defer sess.Stop()

	if err := sess.Start(ctx); err != nil && ctx.Err() == nil {
		output.Warning("Stream not connected yet, retrying in the background: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-statuses:
			if !output.IsJSON() {
				output.Printf("%s %s\n", output.DimText(string(ev.Stream)), output.ConnectionStatus(ev.Current))
			}
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			render(sess, u)
		}
	}
}

// openSession builds a session and routes its status transitions to the audit trail and
// to the returned channel.
func (a *App) openSession(ctx context.Context, opts stream.SessionOptions) (*stream.Session, <-chan broker.StatusEvent, error) {
	opts.Transport = a.Transport
	opts.Clock = a.clock()
	opts.Logger = a.Logger

	sess, err := stream.NewSession(a.Config, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening stream session: %w", err)
	}

	audit := a.Audit()
	statuses := make(chan broker.StatusEvent, 32)
	sess.OnStatus(func(ev broker.StatusEvent) {
		if err := audit.LogStreamStatus(ctx, ev.Stream, ev.Previous, ev.Current, ev.Err); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to write audit event")
		}
		select {
		case statuses <- ev:
		default:
		}
	})
	return sess, statuses, nil
}

func (a *App) inputValidator() *security.InputValidator {
	return security.NewInputValidator(a.Config.Security.StrictValidation)
}
