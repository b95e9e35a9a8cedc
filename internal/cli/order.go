package cli

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/store"
	"stofina-realtime/internal/stream"
	"stofina-realtime/internal/trading"
)

// addOrderCommands adds order placement and order management commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place orders",
		Long: `Validate and place an order.

Market orders are priced from the live market data stream and are refused when
the stream is down or the quote is more than 30 seconds old.`,
	}

	cmd.AddCommand(newPlaceOrderCmd(app, models.SideBuy))
	cmd.AddCommand(newPlaceOrderCmd(app, models.SideSell))

	rootCmd.AddCommand(cmd)
	rootCmd.AddCommand(newOrdersCmd(app))
}

type orderFlags struct {
	priceType string
	price     string
	at        string
	account   string
	dryRun    bool
	wait      time.Duration
}

func newPlaceOrderCmd(app *App, side models.Side) *cobra.Command {
	var flags orderFlags
	verb := strings.ToLower(string(side))

	cmd := &cobra.Command{
		Use:   verb + " <symbol> <quantity>",
		Short: "Place a " + verb + " order",
		Example: `  stofina order ` + verb + ` THYAO 10
  stofina order ` + verb + ` GARAN 100 --type limit --price 120.50
  stofina order ` + verb + ` AKBNK 50 --type limit --price 58 --at "2025-03-04 10:30"
  stofina order ` + verb + ` THYAO 10 --dry-run`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			form, rules, err := app.buildForm(side, args[0], args[1], flags)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.wait+2*app.Config.API.RequestTimeout)
			defer cancel()

			cfg := trading.ValidatorConfig{
				Clock:      app.clock(),
				Schedule:   rules,
				StaleAfter: app.Config.Orders.StalePriceAfter,
			}
			if form.PriceType() == models.PriceMarket {
				sess, err := app.marketSession(ctx, form.Symbol, flags.wait)
				if err != nil {
					output.Error("%v", err)
					return err
				}
				defer sess.Stop()
				cfg.Prices = sess.Resolver()
				cfg.MarketData = sess.Connector(models.StreamMarketData)
			}

			journal, err := app.Journal()
			if err != nil {
				app.Logger.Warn().Err(err).Msg("Journal unavailable, order will not be recorded")
			}
			submitter := trading.NewSubmitter(trading.SubmitterConfig{
				Gateway:   app.orderGateway(),
				Validator: trading.NewValidator(cfg),
				Builder:   trading.RequestBuilder{TenantID: app.Config.API.TenantID},
				Journal:   journal,
				Audit:     app.Audit(),
				Logger:    app.Logger,
			})

			var res trading.SubmitResult
			if flags.dryRun {
				res = submitter.Preview(form)
			} else {
				res = submitter.Submit(ctx, form)
			}

			renderSubmitResult(output, res, flags.dryRun, app)
			if res.Error != nil {
				return res.Error
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.priceType, "type", "t", string(models.PriceMarket), "price type (market, limit, stop)")
	cmd.Flags().StringVarP(&flags.price, "price", "p", "", "limit or stop price")
	cmd.Flags().StringVar(&flags.at, "at", "", `schedule the order, e.g. "2025-03-04 10:30"`)
	cmd.Flags().StringVarP(&flags.account, "account", "a", "", "account id (default from config)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "validate and show the request without submitting")
	cmd.Flags().DurationVar(&flags.wait, "wait", 5*time.Second, "how long to wait for a live quote")

	return cmd
}

// buildForm turns command arguments into an order form, rejecting malformed input before
// anything is dialed.
func (a *App) buildForm(side models.Side, rawSymbol, rawQty string, flags orderFlags) (*trading.OrderForm, *trading.ScheduleRules, error) {
	iv := a.inputValidator()

	symbol := strings.ToUpper(strings.TrimSpace(rawSymbol))
	if err := iv.ValidateSymbol(symbol); err != nil {
		return nil, nil, err
	}
	if err := iv.ValidateQuantity(rawQty); err != nil {
		return nil, nil, err
	}
	if flags.price != "" {
		price, err := strconv.ParseFloat(flags.price, 64)
		if err != nil {
			return nil, nil, apperrors.Wrapf(apperrors.ErrInputValidation, "price %q is not a number", flags.price)
		}
		if err := iv.ValidatePrice(price); err != nil {
			return nil, nil, err
		}
	}
	account := flags.account
	if account == "" {
		account = a.Config.Orders.DefaultAccount
	}
	if err := iv.ValidateAccountID(account); err != nil {
		return nil, nil, err
	}

	rules, err := trading.NewScheduleRules(a.Config.Orders)
	if err != nil {
		return nil, nil, err
	}

	form := trading.NewOrderForm(account, symbol)
	if err := form.SetSide(side); err != nil {
		return nil, nil, err
	}
	if err := form.SetPriceType(models.PriceType(strings.ToLower(flags.priceType))); err != nil {
		return nil, nil, err
	}
	form.Quantity = rawQty
	form.LimitPrice = flags.price

	if flags.at != "" {
		at, err := rules.Parse(flags.at)
		if err != nil {
			return nil, nil, err
		}
		form.Schedule(at)
	}
	return form, rules, nil
}

// marketSession opens a market-data session for symbol, loads the REST snapshot as a
// fallback and waits up to wait for a live quote.
func (a *App) marketSession(ctx context.Context, symbol string, wait time.Duration) (*stream.Session, error) {
	sess, _, err := a.openSession(ctx, stream.SessionOptions{
		Streams: []models.StreamKind{models.StreamMarketData},
		Symbols: []string{symbol},
	})
	if err != nil {
		return nil, err
	}

	if err := sess.LoadFallback(ctx, a.symbolSource()); err != nil {
		a.Logger.Warn().Err(err).Msg("REST market snapshot unavailable")
	}

	updates := sess.Hub().Subscribe(symbol)
	if err := sess.Start(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Market data stream not connected")
		return sess, nil
	}
	if _, ok := sess.Snapshot().Quote(symbol); ok {
		return sess, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return sess, nil
		case <-timer.C:
			return sess, nil
		case u, ok := <-updates:
			if !ok {
				return sess, nil
			}
			if u.Kind == store.UpdateQuotes {
				if _, ok := sess.Snapshot().Quote(symbol); ok {
					return sess, nil
				}
			}
		}
	}
}

type submitOutput struct {
	Success      bool                  `json:"success"`
	DryRun       bool                  `json:"dry_run"`
	Request      *models.OrderRequest  `json:"request,omitempty"`
	Order        *models.OrderResponse `json:"order,omitempty"`
	ChecksPassed []string              `json:"checks_passed"`
	ChecksFailed []string              `json:"checks_failed"`
	ErrorCode    string                `json:"error_code,omitempty"`
	Error        string                `json:"error,omitempty"`
}

func renderSubmitResult(output *Output, res trading.SubmitResult, dryRun bool, app *App) {
	if output.IsJSON() {
		out := submitOutput{
			Success:      res.Success,
			DryRun:       dryRun,
			Order:        res.Order,
			ChecksPassed: res.Validation.ChecksPassed,
			ChecksFailed: res.Validation.ChecksFailed,
		}
		if res.Request.ClientOrderID != "" {
			req := res.Request
			out.Request = &req
		}
		if res.Error != nil {
			out.ErrorCode = res.Error.Code
			out.Error = res.Error.Message
		}
		_ = output.JSON(out)
		return
	}

	if res.Request.ClientOrderID != "" {
		renderRequest(output, res.Request, app)
	}
	if len(res.Validation.ChecksPassed) > 0 {
		output.Dim("Checks passed: %s", strings.Join(res.Validation.ChecksPassed, ", "))
	}

	switch {
	case res.Error != nil:
		output.Error("✗ %s (%s)", res.Error.Message, res.Error.Code)
	case dryRun:
		output.Info("Dry run: order not submitted")
	default:
		output.Success("✓ Order placed")
		if res.Order != nil {
			output.Printf("  Order ID: %s\n", res.Order.OrderID)
			output.Printf("  Status:   %s\n", output.OrderStatus(res.Order.Status))
		}
		output.Println()
		output.Dim("Use 'stofina orders list' to follow the order")
	}
}

func renderRequest(output *Output, req models.OrderRequest, app *App) {
	output.Bold("Order Preview")
	output.Printf("  Symbol:    %s\n", req.Symbol)
	output.Printf("  Type:      %s\n", output.OrderTypeSide(req.OrderType))
	output.Printf("  Quantity:  %s\n", FormatQuantity(req.Quantity))
	if req.Price != nil {
		output.Printf("  Price:     %s\n", FormatTRY(*req.Price))
		output.Printf("  Value:     %s\n", FormatTRY(*req.Price*req.Quantity))
	}
	if req.StopPrice != nil {
		output.Printf("  Stop:      %s\n", FormatTRY(*req.StopPrice))
	}
	if req.IsScheduled {
		output.Printf("  Scheduled: %s (%s)\n", req.ScheduledTime, app.Config.Orders.Timezone)
	}
	output.Printf("  Account:   %s\n", req.AccountID)
	output.Dim("  Client ID: %s", req.ClientOrderID)
	output.Println()
}

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "View and cancel orders",
	}

	var account string
	list := &cobra.Command{
		Use:   "list",
		Short: "List orders of an account",
		Example: `  stofina orders list
  stofina orders list --account 1001 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if account == "" {
				account = app.Config.Orders.DefaultAccount
			}
			if err := app.inputValidator().ValidateAccountID(account); err != nil {
				output.Error("%v", err)
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*app.Config.API.RequestTimeout)
			defer cancel()

			orders, err := app.orderGateway().List(ctx, account)
			if err != nil {
				subErr := trading.ClassifyError(err)
				output.Error("Failed to list orders: %s", subErr.Message)
				return subErr
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Info("No orders")
				return nil
			}
			displayOrders(output, orders, app)
			return nil
		},
	}
	list.Flags().StringVarP(&account, "account", "a", "", "account id (default from config)")

	cancelCmd := &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			orderID := strings.TrimSpace(args[0])
			if err := app.inputValidator().ValidateOrderID(orderID); err != nil {
				output.Error("%v", err)
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*app.Config.API.RequestTimeout)
			defer cancel()

			submitter := trading.NewSubmitter(trading.SubmitterConfig{
				Gateway:   app.orderGateway(),
				Validator: trading.NewValidator(trading.ValidatorConfig{Clock: app.clock()}),
				Audit:     app.Audit(),
				Logger:    app.Logger,
			})
			if subErr := submitter.Cancel(ctx, orderID); subErr != nil {
				if output.IsJSON() {
					_ = output.JSON(map[string]interface{}{"order_id": orderID, "cancelled": false, "error_code": subErr.Code, "error": subErr.Message})
				} else {
					output.Error("✗ %s (%s)", subErr.Message, subErr.Code)
				}
				return subErr
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"order_id": orderID, "cancelled": true})
			}
			output.Success("✓ Order %s cancelled", orderID)
			return nil
		},
	}

	cmd.AddCommand(list, cancelCmd)
	return cmd
}

func displayOrders(output *Output, orders []models.Order, app *App) {
	loc := app.location()
	output.Bold("Orders")
	output.Printf("  %d orders\n\n", len(orders))

	table := NewTable(output, "Created", "ID", "Symbol", "Type", "Qty", "Filled", "Price", "Status")
	for _, o := range orders {
		price := "MARKET"
		switch {
		case o.StopPrice > 0:
			price = "stop " + FormatPrice(o.StopPrice)
		case o.Price > 0:
			price = FormatPrice(o.Price)
		}
		created := FormatDateTime(o.CreatedAt.Time, loc)
		if o.ScheduledTime != "" {
			created += output.DimText(" (at " + o.ScheduledTime + ")")
		}
		table.AddRow(
			created,
			o.OrderID,
			o.Symbol,
			output.OrderTypeSide(o.OrderType),
			FormatQuantity(o.Quantity),
			FormatQuantity(o.FilledQuantity),
			price,
			output.OrderStatus(o.Status),
		)
	}
	table.Render()
}
