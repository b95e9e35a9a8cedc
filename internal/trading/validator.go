package trading

import (
	"strings"
	"time"

	"stofina-realtime/internal/clock"
	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
	"stofina-realtime/internal/store"
)

// Validation failure codes.
const (
	CodeAccountRequired        = "ACCOUNT_REQUIRED"
	CodeSymbolRequired         = "SYMBOL_REQUIRED"
	CodeInvalidQuantity        = "INVALID_QUANTITY"
	CodeInvalidPrice           = "INVALID_PRICE"
	CodePriceUnavailable       = "PRICE_UNAVAILABLE"
	CodeMarketDataDisconnected = "MARKET_DATA_DISCONNECTED"
	CodeStalePrice             = "STALE_PRICE"
	CodeInvalidSchedule        = "INVALID_SCHEDULE"
)

// DefaultStaleAfter is the maximum age of a quote backing a market order.
const DefaultStaleAfter = 30 * time.Second

// PriceSource resolves the current quote of a symbol.
type PriceSource interface {
	Resolve(symbol string) (models.PriceQuote, store.Source, bool)
}

// ConnectionState reports whether the market-data stream is live.
type ConnectionState interface {
	IsConnected() bool
}

// ValidationResult is the outcome of Validator.Validate. Code and Message describe the
// first failed check.
type ValidationResult struct {
	Valid        bool
	Code         string
	Message      string
	ChecksPassed []string
	ChecksFailed []string
}

// Err returns the failure as a *errors.ValidationError, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	field := ""
	if len(r.ChecksFailed) > 0 {
		field = r.ChecksFailed[0]
	}
	return apperrors.NewValidationError(field, r.Code, r.Message)
}

// ValidatorConfig wires a Validator to live market state.
type ValidatorConfig struct {
	Prices     PriceSource
	MarketData ConnectionState
	Clock      clock.Clock
	Schedule   *ScheduleRules
	StaleAfter time.Duration
}

// Validator runs the pre-submission checks of an order form.
type Validator struct {
	prices     PriceSource
	marketData ConnectionState
	clock      clock.Clock
	schedule   *ScheduleRules
	staleAfter time.Duration
}

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Schedule == nil {
		cfg.Schedule = DefaultScheduleRules()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Validator{
		prices:     cfg.Prices,
		marketData: cfg.MarketData,
		clock:      cfg.Clock,
		schedule:   cfg.Schedule,
		staleAfter: cfg.StaleAfter,
	}
}

// Schedule returns the schedule rules in use.
func (v *Validator) Schedule() *ScheduleRules {
	return v.schedule
}

// Validate runs the checks in order and stops at the first failure.
func (v *Validator) Validate(form *OrderForm) ValidationResult {
	result, _ := v.validate(form)
	return result
}

// validate also returns the quote a market order was checked against.
func (v *Validator) validate(form *OrderForm) (ValidationResult, models.PriceQuote) {
	result := ValidationResult{
		Valid:        true,
		ChecksPassed: []string{},
		ChecksFailed: []string{},
	}
	fail := func(check, code, msg string) (ValidationResult, models.PriceQuote) {
		result.Valid = false
		result.Code = code
		result.Message = msg
		result.ChecksFailed = append(result.ChecksFailed, check)
		return result, models.PriceQuote{}
	}
	pass := func(check string) {
		result.ChecksPassed = append(result.ChecksPassed, check)
	}

	// Check 1: Account
	if strings.TrimSpace(form.AccountID) == "" {
		return fail("account", CodeAccountRequired, "an account must be selected")
	}
	pass("account")

	// Check 2: Symbol
	symbol := store.NormalizeSymbol(form.Symbol)
	if symbol == "" {
		return fail("symbol", CodeSymbolRequired, "a symbol must be selected")
	}
	pass("symbol")

	// Check 3: Quantity
	if _, ok := form.ParsedQuantity(); !ok {
		return fail("quantity", CodeInvalidQuantity, "quantity must be a positive number")
	}
	pass("quantity")

	market := form.PriceType() == models.PriceMarket

	// Check 4: Limit or stop price
	if !market {
		if _, ok := form.ParsedPrice(); !ok {
			return fail("price", CodeInvalidPrice, "price must be a positive number")
		}
		pass("price")
	}

	var quote models.PriceQuote
	if market {
		// Check 5: A price to execute against
		q, ok := v.resolve(symbol)
		if !ok {
			return fail("price_available", CodePriceUnavailable, "no market price available for "+symbol)
		}
		quote = q
		pass("price_available")

		// Check 6: Live market data
		if v.marketData == nil || !v.marketData.IsConnected() {
			return fail("market_data", CodeMarketDataDisconnected, "market orders need a live market data connection")
		}
		pass("market_data")

		// Check 7: Quote freshness
		if quote.Age(v.clock.Now()) > v.staleAfter {
			return fail("price_freshness", CodeStalePrice, "price data is out of date, wait a few seconds")
		}
		pass("price_freshness")
	}

	// Check 8: Schedule
	if form.IsScheduled {
		if err := v.schedule.Validate(form.ScheduledTime, v.clock.Now()); err != nil {
			msg := err.Error()
			var ve *apperrors.ValidationError
			if apperrors.As(err, &ve) {
				msg = ve.Message
			}
			return fail("schedule", CodeInvalidSchedule, msg)
		}
		pass("schedule")
	}

	return result, quote
}

func (v *Validator) resolve(symbol string) (models.PriceQuote, bool) {
	if v.prices == nil {
		return models.PriceQuote{}, false
	}
	q, _, ok := v.prices.Resolve(symbol)
	if !ok || q.Price <= 0 {
		return models.PriceQuote{}, false
	}
	return q, true
}
