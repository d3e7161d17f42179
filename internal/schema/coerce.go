package schema

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayouts are tried in order; the first layout that parses wins.
var DateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"02.01.2006",
	"January 2, 2006",
	"2 January 2006",
	"2006-01",
	"2006",
}

type coerceFunc func(raw string) (interface{}, bool)

func coercerFor(t ColumnType) coerceFunc {
	switch t {
	case TypeInt:
		return coerceInt
	case TypeFloat:
		return coerceFloat
	case TypeDate:
		return coerceDate
	default:
		return coerceString
	}
}

func coerceString(raw string) (interface{}, bool) {
	return raw, true
}

// maxExactFloat is the largest magnitude below which every integral float64
// converts to int64 without rounding.
var maxExactFloat = math.Exp2(53)

func coerceInt(raw string) (interface{}, bool) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, true
	}
	if whole, ok := integralPart(raw); ok {
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	}
	f, ok := parseFloat(raw)
	if !ok || f != math.Trunc(f) || math.Abs(f) >= maxExactFloat {
		return nil, false
	}
	return int64(f), true
}

// integralPart returns the integer digits of text such as "42.0" or "42,00",
// where everything after the decimal separator is zero.
func integralPart(raw string) (string, bool) {
	sep := strings.IndexAny(raw, ".,")
	if sep <= 0 {
		return "", false
	}
	whole, frac := raw[:sep], raw[sep+1:]
	if strings.Trim(frac, "0") != "" {
		return "", false
	}
	return whole, true
}

func coerceFloat(raw string) (interface{}, bool) {
	f, ok := parseFloat(raw)
	if !ok {
		return nil, false
	}
	return f, true
}

func parseFloat(raw string) (float64, bool) {
	if strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func coerceDate(raw string) (interface{}, bool) {
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return nil, false
}

// Canonical renders a coerced value as the string compared for uniqueness.
func Canonical(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		u := val.UTC()
		if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
			return u.Format("2006-01-02")
		}
		return u.Format(time.RFC3339Nano)
	default:
		return ""
	}
}
