package cli

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stofina-realtime/internal/broker"
	"stofina-realtime/internal/clock"
	"stofina-realtime/internal/config"
	"stofina-realtime/internal/logging"
	"stofina-realtime/internal/security"
	"stofina-realtime/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2025-03-03"
)

// App holds the application dependencies. Transport, Clock, Gateway and Symbols are
// built from Config when left nil.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Transport broker.Transport
	Clock     clock.Clock
	Gateway   broker.OrderGateway
	Symbols   broker.SymbolSource

	configDir string
	journal   *store.Journal
	audit     *security.AuditLogger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return newRootCmd(&App{Config: cfg, Logger: logger})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stofina",
		Short: "Stofina realtime trading client",
		Long: `Stofina is a terminal client for the Stofina brokerage back office.

It streams market data, order books and trade prints over STOMP, and validates
and submits orders against the order service.

Use 'stofina <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}

			dir, _ := cmd.Flags().GetString("config")
			if app.Config != nil && dir == "" {
				return nil
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.configDir = dir
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/stofina)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addStreamCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)
	addJournalCommands(rootCmd, app)

	return rootCmd
}

// Close releases the journal and the audit trail if they were opened.
func (a *App) Close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
		a.journal = nil
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
		a.audit = nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Journal opens the order and trade journal on first use.
func (a *App) Journal() (*store.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	j, err := store.NewJournal(a.Config.Security.JournalPath)
	if err != nil {
		return nil, err
	}
	a.journal = j
	return j, nil
}

// Audit opens the audit trail on first use. It returns nil when auditing is off, which
// the audit logger treats as a no-op.
func (a *App) Audit() *security.AuditLogger {
	if a.audit != nil || !a.Config.Security.AuditEnabled {
		return a.audit
	}
	cfg := security.DefaultAuditConfig()
	if a.Config.Security.AuditDir != "" {
		cfg.LogDir = a.Config.Security.AuditDir
	}
	al, err := security.NewAuditLogger(cfg)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Audit trail unavailable")
		return nil
	}
	a.audit = al
	return al
}

func (a *App) clock() clock.Clock {
	if a.Clock == nil {
		a.Clock = clock.New()
	}
	return a.Clock
}

func (a *App) location() *time.Location {
	loc, err := time.LoadLocation(a.Config.Orders.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a *App) restConfig(baseURL string) broker.RESTConfig {
	return broker.RESTConfig{
		BaseURL:           baseURL,
		Timeout:           a.Config.API.RequestTimeout,
		RequestsPerSecond: a.Config.API.RequestsPerSecond,
		Token:             broker.StaticToken(a.Config.Credentials.Token),
	}
}

func (a *App) orderGateway() broker.OrderGateway {
	if a.Gateway == nil {
		a.Gateway = broker.NewOrderClient(a.restConfig(a.Config.API.OrderBaseURL), a.Logger)
	}
	return a.Gateway
}

func (a *App) symbolSource() broker.SymbolSource {
	if a.Symbols == nil {
		a.Symbols = broker.NewMarketClient(a.restConfig(a.Config.API.MarketBaseURL), a.Logger)
	}
	return a.Symbols
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("stofina v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and check the client configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			redacted := *app.Config
			redacted.Credentials.Token = security.MaskCredential(redacted.Credentials.Token)
			if output.IsJSON() {
				return output.JSON(redacted)
			}
			showConfig(output, &redacted)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir := app.configDir
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": dir})
			}
			output.Println(dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Streams")
	output.Printf("  Market data:     %s\n", cfg.Streams.MarketDataURL)
	output.Printf("  Order book:      %s\n", cfg.Streams.OrderBookURL)
	output.Printf("  Trades:          %s\n", cfg.Streams.TradesURL)
	output.Printf("  Reconnect:       %v (every %s, %d attempts)\n",
		cfg.Streams.ReconnectEnabled, cfg.Streams.ReconnectDelay, cfg.Streams.MaxReconnectAttempts)
	output.Printf("  Heart-beats:     %s / %s\n", cfg.Streams.HeartbeatOutgoing, cfg.Streams.HeartbeatIncoming)
	output.Printf("  Default symbols: %v\n", cfg.Streams.DefaultSymbols)
	output.Println()

	output.Bold("API")
	output.Printf("  Order service:   %s\n", cfg.API.OrderBaseURL)
	output.Printf("  Market service:  %s\n", cfg.API.MarketBaseURL)
	output.Printf("  Timeout:         %s\n", cfg.API.RequestTimeout)
	output.Printf("  Tenant:          %d\n", cfg.API.TenantID)
	output.Printf("  Token:           %s\n", cfg.Credentials.Token)
	output.Println()

	output.Bold("Orders")
	output.Printf("  Stale after:     %s\n", cfg.Orders.StalePriceAfter)
	output.Printf("  Session:         %s-%s %s\n", cfg.Orders.MarketOpen, cfg.Orders.MarketClose, cfg.Orders.Timezone)
	output.Printf("  Schedule ahead:  %s\n", cfg.Orders.MaxScheduleAhead)
	output.Printf("  Holidays:        %v (%s)\n", cfg.Orders.HolidayCalendar, cfg.Orders.CalendarMIC)
	output.Printf("  Account:         %s\n", cfg.Orders.DefaultAccount)
	output.Println()

	output.Bold("Security")
	output.Printf("  Audit:           %v (%s)\n", cfg.Security.AuditEnabled, cfg.Security.AuditDir)
	output.Printf("  Strict input:    %v\n", cfg.Security.StrictValidation)
	output.Printf("  Journal:         %s\n", cfg.Security.JournalPath)
}
