package store

import (
	"strings"
	"testing"
)

func TestValidWei(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"1500000000000000000", true},
		{"007", true},
		{"", false},
		{"-1", false},
		{"1.5", false},
		{"1e18", false},
		{"0x10", false},
	}
	for _, c := range cases {
		if got := ValidWei(c.in); got != c.want {
			t.Errorf("ValidWei(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalizeWei(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"000", "0"},
		{"007", "7"},
		{"1500000000000000000", "1500000000000000000"},
	}
	for _, c := range cases {
		got, err := NormalizeWei(c.in)
		if err != nil {
			t.Errorf("NormalizeWei(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeWei(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	if _, err := NormalizeWei("1.5"); err == nil {
		t.Error("expected error for fractional amount")
	}
}

func TestWeiSortKey_OrdersNumerically(t *testing.T) {
	// lexicographic order of sort keys must equal numeric order even when
	// digit counts differ
	amounts := []string{"9", "10", "999999999999999999", "1000000000000000000"}
	var prev string
	for i, a := range amounts {
		key, err := WeiSortKey(a)
		if err != nil {
			t.Fatalf("WeiSortKey(%q) failed: %v", a, err)
		}
		if len(key) != 78 {
			t.Fatalf("WeiSortKey(%q) has width %d, want 78", a, len(key))
		}
		if i > 0 && !(prev < key) {
			t.Errorf("sort keys out of order: %q !< %q", prev, key)
		}
		prev = key
	}
}

func TestWeiSortKey_Overflow(t *testing.T) {
	if _, err := WeiSortKey(strings.Repeat("9", 79)); err == nil {
		t.Error("expected error for amount wider than 78 digits")
	}
}

func TestCompareWei(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"9", "10", -1},
		{"10", "9", 1},
		{"007", "7", 0},
		{"1500000000000000000", "1500000000000000000", 0},
	}
	for _, c := range cases {
		got, err := CompareWei(c.a, c.b)
		if err != nil {
			t.Errorf("CompareWei(%q, %q) failed: %v", c.a, c.b, err)
			continue
		}
		if got != c.want {
			t.Errorf("CompareWei(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
