package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var liraPattern = regexp.MustCompile(`^-?₺\d{1,3}(\.\d{3})*,\d{2}$`)

// Property 9: Lira formatting
// For any amount, FormatTRY groups thousands with dots, uses a decimal comma with two
// digits, and parses back to the amount rounded to kuruş.
func TestProperty9_LiraFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("FormatTRY produces the Turkish layout", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatTRY(amount)
			if !liraPattern.MatchString(formatted) {
				t.Logf("unexpected layout for %f: %s", amount, formatted)
				return false
			}
			if amount >= 0 {
				return !strings.HasPrefix(formatted, "-")
			}
			if amount <= -0.01 {
				return strings.HasPrefix(formatted, "-")
			}
			return true
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatTRY preserves value", prop.ForAll(
		func(amount float64) bool {
			parsed, err := parseLira(FormatTRY(amount))
			if err != nil {
				return false
			}
			return math.Abs(parsed-math.Round(amount*100)/100) <= 0.0100001
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatPercent carries its sign", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			if value > 0 {
				return strings.HasPrefix(formatted, "+")
			}
			return !strings.HasPrefix(formatted, "+")
		},
		gen.Float64Range(-100, 100),
	))

	properties.Property("FormatVolume uses the right unit", prop.ForAll(
		func(volume int64) bool {
			formatted := FormatVolume(volume)
			switch {
			case volume >= 1_000_000_000:
				return strings.HasSuffix(formatted, " B")
			case volume >= 1_000_000:
				return strings.HasSuffix(formatted, " M")
			case volume >= 1_000:
				return strings.HasSuffix(formatted, " K")
			default:
				return formatted == strconv.FormatInt(volume, 10)
			}
		},
		gen.Int64Range(0, 1e12),
	))

	properties.TestingRun(t)
}

func parseLira(s string) (float64, error) {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "₺")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if negative {
		v = -v
	}
	return v, err
}

func TestFormatTRYExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "₺0,00"},
		{1, "₺1,00"},
		{999.99, "₺999,99"},
		{1000, "₺1.000,00"},
		{180.3, "₺180,30"},
		{1803, "₺1.803,00"},
		{1234567.891, "₺1.234.567,89"},
		{-1234.56, "-₺1.234,56"},
		{-0.001, "₺0,00"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatTRY(tc.amount); got != tc.expected {
				t.Errorf("FormatTRY(%f) = %s, want %s", tc.amount, got, tc.expected)
			}
		})
	}
}

func TestFormatHelpers(t *testing.T) {
	ist, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name     string
		got      string
		expected string
	}{
		{"quantity whole", FormatQuantity(1250000), "1.250.000"},
		{"quantity fraction", FormatQuantity(2.5), "2.50"},
		{"change up", FormatChange(1.5, 0.84), "+1.50 (+0.84%)"},
		{"change down", FormatChange(-2, -1.1), "-2.00 (-1.10%)"},
		{"price", FormatPrice(180.3), "180.30"},
		{"penny price", FormatPrice(0.1234), "0.1234"},
		{"time", FormatTime(time.Date(2025, 3, 3, 7, 5, 9, 0, time.UTC), ist), "10:05:09"},
		{"zero time", FormatTime(time.Time{}, ist), "-"},
		{"datetime", FormatDateTime(time.Date(2025, 3, 3, 7, 5, 0, 0, time.UTC), ist), "03 Mar 2025 10:05"},
		{"seconds", FormatDuration(42 * time.Second), "42s"},
		{"minutes", FormatDuration(5*time.Minute + 3*time.Second), "5m 3s"},
		{"days", FormatDuration(50 * time.Hour), "2d 2h"},
		{"truncate", TruncateString("Türk Hava Yolları A.O.", 10), "Türk Ha..."},
		{"no truncate", TruncateString("GARAN", 10), "GARAN"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.expected {
				t.Errorf("got %q, want %q", tc.got, tc.expected)
			}
		})
	}
}
