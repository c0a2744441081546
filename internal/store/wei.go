package store

import (
	"fmt"
	"strings"
)

// Wei amounts travel through the system as decimal strings backed by
// NUMERIC(78,0) columns. Converting them through float64 is exactly the drift
// bug reconciliation exists to repair, so nothing here touches floats.

// weiSortWidth is wide enough for any uint256 amount (78 decimal digits).
const weiSortWidth = 78

// ValidWei reports whether s is a non-negative base-unit integer amount.
func ValidWei(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeWei strips leading zeros so the same amount always has one
// canonical representation ("0" stays "0").
func NormalizeWei(s string) (string, error) {
	if !ValidWei(s) {
		return "", fmt.Errorf("invalid wei amount %q", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0", nil
	}
	return trimmed, nil
}

// WeiSortKey left-pads the amount to a fixed width so lexicographic order
// equals numeric order. The index stores this next to the exact value to
// support range queries and sorting without a float conversion.
func WeiSortKey(s string) (string, error) {
	n, err := NormalizeWei(s)
	if err != nil {
		return "", err
	}
	if len(n) > weiSortWidth {
		return "", fmt.Errorf("wei amount %q exceeds %d digits", s, weiSortWidth)
	}
	return strings.Repeat("0", weiSortWidth-len(n)) + n, nil
}

// CompareWei compares two amounts numerically, returning -1, 0 or 1.
func CompareWei(a, b string) (int, error) {
	ka, err := WeiSortKey(a)
	if err != nil {
		return 0, err
	}
	kb, err := WeiSortKey(b)
	if err != nil {
		return 0, err
	}
	return strings.Compare(ka, kb), nil
}
