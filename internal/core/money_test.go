package core

import (
	"errors"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a, b := Cents(150), Cents(40)

	if got := a.Add(b); got != Cents(190) {
		t.Fatalf("Add = %v", got)
	}
	if got := b.Sub(a); got != Cents(-110) || !got.IsNegative() {
		t.Fatalf("Sub = %v", got)
	}
	if got := Min(a, b); got != b {
		t.Fatalf("Min = %v", got)
	}
	if got := Max(a, b); got != a {
		t.Fatalf("Max = %v", got)
	}
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(Cents(150)) != 0 {
		t.Fatalf("Cmp mismatch")
	}
	if !(Money{}).IsZero() || a.IsZero() {
		t.Fatalf("IsZero mismatch")
	}
	if got := Sum(a, b, Cents(10)); got != Cents(200) {
		t.Fatalf("Sum = %v", got)
	}
}

func TestMoneySubNonNegative(t *testing.T) {
	got, err := Cents(100).SubNonNegative(Cents(100))
	if err != nil || !got.IsZero() {
		t.Fatalf("expected zero, got %v (err=%v)", got, err)
	}

	_, err = Cents(10).SubNonNegative(Cents(11))
	var negErr *NegativeResultError
	if !errors.As(err, &negErr) {
		t.Fatalf("expected NegativeResultError, got %v", err)
	}
	if negErr.Left != Cents(10) || negErr.Right != Cents(11) {
		t.Fatalf("unexpected operands: %+v", negErr)
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00",
		5:      "0.05",
		1234:   "12.34",
		-1234:  "-12.34",
		100000: "1000.00",
	}
	for cents, want := range cases {
		if got := Cents(cents).String(); got != want {
			t.Errorf("Cents(%d).String() = %q, want %q", cents, got, want)
		}
	}
}
