package x402

import (
	"fmt"
	"strings"
)

// ToAtomicUnits converts a human decimal amount ("1.5") into an atomic-unit
// integer string ("1500000" at six decimals) by string manipulation alone:
// the fractional part is right-padded with zeros to the token's decimal
// count, or truncated past it. No rounding, no floating point.
func ToAtomicUnits(amount string, decimals int) (string, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return "", fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(amount, "-") {
		return "", fmt.Errorf("negative amount: %s", amount)
	}
	if decimals < 0 {
		return "", fmt.Errorf("negative decimals: %d", decimals)
	}

	whole, frac := amount, ""
	if dot := strings.Index(amount, "."); dot >= 0 {
		whole, frac = amount[:dot], amount[dot+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return "", fmt.Errorf("invalid decimal amount: %s", amount)
	}

	if len(frac) < decimals {
		frac += strings.Repeat("0", decimals-len(frac))
	} else {
		frac = frac[:decimals]
	}

	atomic := strings.TrimLeft(whole+frac, "0")
	if atomic == "" {
		atomic = "0"
	}
	return atomic, nil
}

// FromAtomicUnits converts an atomic-unit integer string back into a human
// decimal, trimming a trailing all-zero fraction.
func FromAtomicUnits(atomic string, decimals int) (string, error) {
	atomic = strings.TrimSpace(atomic)
	if atomic == "" || !isDigits(atomic) {
		return "", fmt.Errorf("invalid atomic amount: %s", atomic)
	}
	if decimals == 0 {
		if trimmed := strings.TrimLeft(atomic, "0"); trimmed != "" {
			return trimmed, nil
		}
		return "0", nil
	}
	if len(atomic) <= decimals {
		atomic = strings.Repeat("0", decimals-len(atomic)+1) + atomic
	}
	whole := strings.TrimLeft(atomic[:len(atomic)-decimals], "0")
	if whole == "" {
		whole = "0"
	}
	frac := strings.TrimRight(atomic[len(atomic)-decimals:], "0")
	if frac == "" {
		return whole, nil
	}
	return whole + "." + frac, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
