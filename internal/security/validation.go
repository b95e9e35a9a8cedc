package security

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	apperrors "stofina-realtime/internal/errors"
)

// Validation patterns
var (
	// Borsa Istanbul tickers: letters and digits only
	symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

	orderIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
)

// Upper bounds for a single order.
const (
	MaxOrderQuantity = 10_000_000
	MaxOrderPrice    = 1_000_000
)

// ValidationError represents a rejected user input.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInputValidation
}

// InputValidator checks command-line and form input before it reaches the pipeline.
// Strict mode additionally requires whole-share quantities.
type InputValidator struct {
	strictMode bool
}

// NewInputValidator creates a new input validator.
func NewInputValidator(strictMode bool) *InputValidator {
	return &InputValidator{strictMode: strictMode}
}

// ValidateSymbol validates a ticker after uppercasing it.
func (v *InputValidator) ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	if symbol == "" {
		return &ValidationError{Field: "symbol", Value: symbol, Message: "symbol cannot be empty"}
	}
	if !symbolPattern.MatchString(symbol) {
		return &ValidationError{Field: "symbol", Value: symbol, Message: "symbol must be 1-12 letters or digits"}
	}
	return nil
}

// ValidateSymbols validates every symbol and stops at the first bad one.
func (v *InputValidator) ValidateSymbols(symbols []string) error {
	for _, s := range symbols {
		if err := v.ValidateSymbol(s); err != nil {
			return err
		}
	}
	return nil
}

// ValidateOrderID validates an order ID.
func (v *InputValidator) ValidateOrderID(orderID string) error {
	orderID = strings.TrimSpace(orderID)

	if orderID == "" {
		return &ValidationError{Field: "order_id", Value: orderID, Message: "order ID cannot be empty"}
	}
	if !orderIDPattern.MatchString(orderID) {
		return &ValidationError{Field: "order_id", Value: orderID, Message: "invalid order ID format"}
	}
	return nil
}

// ValidateAccountID validates an account ID. An empty value is left to the order
// validator, which reports it as a missing account.
func (v *InputValidator) ValidateAccountID(accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil
	}
	if !accountIDPattern.MatchString(accountID) {
		return &ValidationError{Field: "account_id", Value: accountID, Message: "invalid account ID format"}
	}
	return nil
}

// ValidateQuantity validates a quantity as typed by the user.
func (v *InputValidator) ValidateQuantity(raw string) error {
	qty, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return &ValidationError{Field: "quantity", Value: raw, Message: "quantity must be a number"}
	}
	if qty <= 0 {
		return &ValidationError{Field: "quantity", Value: raw, Message: "quantity must be positive"}
	}
	if qty > MaxOrderQuantity {
		return &ValidationError{Field: "quantity", Value: raw, Message: "quantity exceeds maximum allowed"}
	}
	if v.strictMode && qty != math.Trunc(qty) {
		return &ValidationError{Field: "quantity", Value: raw, Message: "quantity must be a whole number of shares"}
	}
	return nil
}

// ValidatePrice validates a price value.
func (v *InputValidator) ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return &ValidationError{Field: "price", Value: fmt.Sprintf("%.2f", price), Message: "price must be a non-negative number"}
	}
	if price > MaxOrderPrice {
		return &ValidationError{Field: "price", Value: fmt.Sprintf("%.2f", price), Message: "price exceeds maximum allowed"}
	}
	return nil
}

// SanitizeSymbol uppercases a symbol and drops everything but letters and digits.
func SanitizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	var result strings.Builder
	for _, r := range symbol {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
