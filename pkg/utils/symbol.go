// Package utils provides common helpers shared across marketpulse packages.
package utils

import (
	"regexp"
	"sort"
	"strings"
)

// Common NSE symbol aliases seen in headlines. Keys are upper-case.
var symbolAliases = map[string]string{
	"RIL":           "RELIANCE",
	"RELIANCE":      "RELIANCE",
	"INFOSYS":       "INFY",
	"HDFC BANK":     "HDFCBANK",
	"ICICI BANK":    "ICICIBANK",
	"SBI":           "SBIN",
	"STATE BANK":    "SBIN",
	"AIRTEL":        "BHARTIARTL",
	"BHARTI AIRTEL": "BHARTIARTL",
	"BAJAJ FINANCE": "BAJFINANCE",
	"L&T":           "LT",
	"LARSEN":        "LT",
	"TATA MOTORS":   "TATAMOTORS",
	"TATA STEEL":    "TATASTEEL",
	"HCL TECH":      "HCLTECH",
	"KOTAK":         "KOTAKBANK",
	"KOTAK BANK":    "KOTAKBANK",
	"AXIS BANK":     "AXISBANK",
	"SUN PHARMA":    "SUNPHARMA",
	"ASIAN PAINTS":  "ASIANPAINT",
	"NESTLE":        "NESTLEIND",
	"ULTRATECH":     "ULTRACEMCO",
	"POWER GRID":    "POWERGRID",
	"TECH MAHINDRA": "TECHM",
	"MAHINDRA":      "M&M",
	"HUL":           "HINDUNILVR",
	"COAL INDIA":    "COALINDIA",
	"DR REDDY'S":    "DRREDDY",
	"INDIAN OIL":    "IOC",
}

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9&-]{1,19}$`)

// NormalizeSymbol normalizes user or headline input to the canonical NSE symbol.
// It handles aliases, uppercasing, a leading $ and an exchange suffix.
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, ".NS")
	s = strings.TrimSuffix(s, ".BO")
	s = strings.Join(strings.Fields(s), " ")

	if canonical, ok := symbolAliases[s]; ok {
		return canonical
	}
	return s
}

// IsSymbol reports whether s looks like an exchange symbol (upper-case, no spaces).
func IsSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}

// AliasesFor returns the known aliases of a canonical symbol, lower-cased and sorted.
// The symbol itself is not included.
func AliasesFor(symbol string) []string {
	symbol = NormalizeSymbol(symbol)
	var out []string
	for alias, canonical := range symbolAliases {
		if canonical == symbol && alias != symbol {
			out = append(out, strings.ToLower(alias))
		}
	}
	sort.Strings(out)
	return out
}
