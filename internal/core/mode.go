package core

import (
	"fmt"
	"strings"
)

// OverflowMode selects what happens to money sitting in the overflow
// moneybox when a cycle runs.
type OverflowMode string

const (
	// ModeCollect lets the leftover pile up in the overflow moneybox.
	ModeCollect OverflowMode = "collect"
	// ModeAddToSavingsAmount folds the overflow balance into the cycle's
	// savings amount before distribution.
	ModeAddToSavingsAmount OverflowMode = "add_to_savings_amount"
	// ModeFillLimitedMoneyboxes pays the overflow balance into moneyboxes
	// that still have room below their savings target.
	ModeFillLimitedMoneyboxes OverflowMode = "fill_limited_moneyboxes"
	// ModeRatio pays the overflow balance out proportionally to each
	// moneybox's savings amount.
	ModeRatio OverflowMode = "ratio"
	// ModeEqual pays the overflow balance out in equal shares.
	ModeEqual OverflowMode = "equal"
)

var modeDescriptions = map[OverflowMode]string{
	ModeCollect:               "Automated Savings.",
	ModeAddToSavingsAmount:    "Automated Savings with Add-Mode.",
	ModeFillLimitedMoneyboxes: "Fill-Mode: Automated Savings.",
	ModeRatio:                 "Ratio-Mode: Automated Savings.",
	ModeEqual:                 "Equal-Mode: Automated Savings.",
}

// ParseOverflowMode parses a mode name, case-insensitive.
func ParseOverflowMode(s string) (OverflowMode, error) {
	m := OverflowMode(strings.ToLower(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

func (m OverflowMode) Validate() error {
	if _, ok := modeDescriptions[m]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidOverflowMode, string(m))
	}
	return nil
}

// Description is the human readable text used in transaction and cycle logs.
func (m OverflowMode) Description() string {
	if d, ok := modeDescriptions[m]; ok {
		return d
	}
	return "Automated Savings."
}

// RedistributesOverflow reports whether the mode pays the overflow balance
// back out after the primary pass.
func (m OverflowMode) RedistributesOverflow() bool {
	switch m {
	case ModeFillLimitedMoneyboxes, ModeRatio, ModeEqual:
		return true
	default:
		return false
	}
}
