package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tax-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// CurrencySymbol prefixes formatted currency values.
const CurrencySymbol = "Rp"

var printer = message.NewPrinter(language.Indonesian)

var monthNames = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

// isoLayouts are tried in order for ISO-like dates.
var isoLayouts = []string{
	models.DayLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Format renders value for display as the given column type. Empty input is
// always the empty marker. Unparseable numbers become the empty marker while
// unparseable dates are returned verbatim. Unknown types format as string.
func Format(value interface{}, t models.ColumnType) (out string) {
	if isEmpty(value) {
		return models.EmptyMarker
	}

	defer func() {
		if r := recover(); r != nil {
			out = models.EmptyMarker
			if t == models.ColumnTypeDate {
				out = Stringify(value)
			}
		}
	}()

	switch t {
	case models.ColumnTypeCurrency:
		d, ok := ToNumber(value)
		if !ok {
			return models.EmptyMarker
		}
		return formatCurrency(d)
	case models.ColumnTypeNumber:
		d, ok := ToNumber(value)
		if !ok {
			return models.EmptyMarker
		}
		return formatNumber(d)
	case models.ColumnTypeDate:
		raw := Stringify(value)
		if day, ok := ParseDate(raw); ok {
			return FormatLongDate(day)
		}
		return raw
	default:
		return Stringify(value)
	}
}

// ToNumber parses value as a decimal. Strings are trimmed and may carry a
// leading currency symbol.
func ToNumber(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case json.Number:
		return parseDecimal(string(v))
	case string:
		return parseDecimal(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case float32:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint32:
		return decimal.NewFromInt(int64(v)), true
	default:
		return decimal.Zero, false
	}
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, CurrencySymbol)
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func formatCurrency(d decimal.Decimal) string {
	rounded := d.Round(0)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	return sign + CurrencySymbol + groupDigits(rounded.String())
}

func formatNumber(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	intPart, frac, _ := strings.Cut(d.String(), ".")
	out := sign + groupDigits(intPart)
	if frac != "" {
		out += string(separators.decimal) + frac
	}
	return out
}

// separators holds the grouping and decimal marks of the display locale.
var separators = localeSeparators()

func localeSeparators() (seps struct{ group, decimal rune }) {
	seps.group, seps.decimal = '.', ','
	var marks []rune
	for _, r := range printer.Sprint(number.Decimal(1234.5)) {
		if r < '0' || r > '9' {
			marks = append(marks, r)
		}
	}
	if len(marks) == 2 {
		seps.group, seps.decimal = marks[0], marks[1]
	}
	return seps
}

// groupDigits inserts the locale grouping mark every three digits of an
// unsigned digit string of any length.
func groupDigits(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteRune(separators.group)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// ParseDate accepts YYYY-MM-DD (optionally with a time part) and the legacy
// DD/MM/YY form, whose two-digit year is taken as 20YY.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return parseLegacyDate(s)
}

func parseLegacyDate(s string) (time.Time, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || len(parts[2]) != 2 {
		return time.Time{}, false
	}

	var nums [3]int
	for i, part := range parts {
		if len(part) == 0 || len(part) > 2 {
			return time.Time{}, false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return time.Time{}, false
		}
		nums[i] = n
	}

	day, month, year := nums[0], nums[1], 2000+nums[2]
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31/02 into March; reject anything it had to move.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// FormatLongDate renders a date as "17 Desember 2025".
func FormatLongDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), monthNames[t.Month()-1], t.Year())
}

// Stringify renders a raw value without locale rules.
func Stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return string(v)
	case decimal.Decimal:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case map[string]interface{}, models.RawRecord, []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}

func isEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case json.Number:
		return v == ""
	default:
		return false
	}
}
