package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stofina-realtime/internal/broker"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/resilience"
	"stofina-realtime/internal/stream"
)

func newStatusCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the streams, the order service and the local journal",
		Long: `Connect to each stream, probe the order service and ping the journal, then
report the health of every component.`,
		Example: `  stofina status
  stofina status --streams market-data --wait 5s --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			wait, _ := cmd.Flags().GetDuration("wait")
			names, _ := cmd.Flags().GetStringSlice("streams")

			kinds := make([]models.StreamKind, 0, len(names))
			for _, n := range names {
				kinds = append(kinds, models.StreamKind(n))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait+5*time.Second)
			defer cancel()

			sess, _, err := app.openSession(ctx, stream.SessionOptions{Streams: kinds})
			if err != nil {
				output.Error("%v", err)
				return err
			}
			defer sess.Stop()

			startCtx, startCancel := context.WithTimeout(ctx, wait)
			_ = sess.Start(startCtx)
			waitConnected(startCtx, sess)
			startCancel()

			monitor := resilience.NewHealthMonitor(app.clock(), 5*time.Second)
			for _, kind := range sess.Streams() {
				monitor.RegisterComponent(string(kind), resilience.StreamHealthCheck(sess.Connector(kind)))
			}
			app.registerOrderAPI(monitor)
			if journal, err := app.Journal(); err == nil {
				monitor.RegisterComponent("journal", resilience.DatabaseHealthCheck(app.clock(), journal.Ping))
			} else {
				monitor.RegisterComponent("journal", func(context.Context) resilience.ComponentHealth {
					return resilience.ComponentHealth{Status: resilience.HealthStatusUnhealthy, Message: err.Error()}
				})
			}

			report := monitor.Check(ctx)
			if output.IsJSON() {
				return output.JSON(report)
			}

			table := NewTable(output, "Component", "Status", "Message")
			for _, c := range report.Components {
				table.AddRow(c.Name, output.HealthStatus(c.Status), TruncateString(c.Message, 60))
			}
			table.Render()
			output.Println()
			output.Printf("Overall: %s\n", output.HealthStatus(report.Status))
			return nil
		},
	}

	cmd.Flags().Duration("wait", 3*time.Second, "how long to wait for streams to connect")
	cmd.Flags().StringSlice("streams", []string{
		string(models.StreamMarketData), string(models.StreamOrderBook), string(models.StreamTrades),
	}, "streams to check")
	return cmd
}

// waitConnected returns once every stream of sess is connected or ctx ends.
func waitConnected(ctx context.Context, sess *stream.Session) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		connected := true
		for _, kind := range sess.Streams() {
			if !sess.IsConnected(kind) {
				connected = false
				break
			}
		}
		if connected {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// registerOrderAPI probes the order service with a list call. The breaker is reported
// as well when the gateway is the REST client.
func (a *App) registerOrderAPI(monitor *resilience.HealthMonitor) {
	gw := a.orderGateway()
	account := a.Config.Orders.DefaultAccount
	clk := a.clock()

	monitor.RegisterComponent("order-api", func(ctx context.Context) resilience.ComponentHealth {
		start := clk.Now()
		orders, err := gw.List(ctx, account)
		health := resilience.ComponentHealth{Latency: clk.Now().Sub(start)}
		if err != nil {
			health.Status = resilience.HealthStatusUnhealthy
			health.Message = fmt.Sprintf("list orders failed: %v", err)
			return health
		}
		health.Status = resilience.HealthStatusHealthy
		health.Message = fmt.Sprintf("reachable, %d orders listed", len(orders))
		return health
	})

	if client, ok := gw.(*broker.OrderClient); ok {
		monitor.RegisterComponent("order-api-breaker", resilience.BreakerHealthCheck(client.Breaker()))
	}
}
