package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidNumber = errors.New("invalid phone number")

// NormalizeNumber parses a stored contact number and returns it in E.164
// form. Numbers without a leading + or an international prefix are read as
// national numbers of region (ISO 3166, e.g. "US").
func NormalizeNumber(raw, region string) (string, error) {
	s := strings.TrimSpace(raw)
	// The parser strips any run of leading pluses and ignores inner ones.
	if strings.LastIndexAny(s, "+＋") > 0 {
		return "", fmt.Errorf("%w: misplaced +", ErrInvalidNumber)
	}

	num, err := phonenumbers.Parse(s, region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Normalizer binds NormalizeNumber to a default region.
func Normalizer(region string) func(string) (string, error) {
	return func(raw string) (string, error) {
		return NormalizeNumber(raw, region)
	}
}
