package core

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrNegativeSavingsAmount = errors.New("savings amount cannot be negative")
	ErrMissingEmailAddress   = errors.New("email reports enabled without a receiver address")
)

// Settings are the per-account automated savings settings. They are handed
// to the engine explicitly on every call and never read from globals.
type Settings struct {
	IsAutomatedSavingActive bool
	SavingsAmount           Money
	OverflowMode            OverflowMode
	SendReportsViaEmail     bool
	UserEmailAddress        string
}

func (s Settings) Validate() error {
	if s.SavingsAmount.IsNegative() {
		return ErrNegativeSavingsAmount
	}
	if err := s.OverflowMode.Validate(); err != nil {
		return err
	}
	if s.SendReportsViaEmail {
		addr := strings.TrimSpace(s.UserEmailAddress)
		if addr == "" {
			return ErrMissingEmailAddress
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			return errors.New("invalid email address: " + err.Error())
		}
	}
	return nil
}
