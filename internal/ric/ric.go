// Package ric handles instrument identifier (RIC-style) parsing, validation,
// and classification into instrument kinds.
package ric

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/atmx/market-feed/internal/model"
)

// Identifier shapes, checked in order.
//
//	EUR=        currency (ISO code + "=")
//	46590XAR7=  bond (9-char CUSIP + "=")
//	BNP.PA.W    warrant (equity code + ".W")
//	TOTF.PA     equity (code + "." + exchange suffix)
//	AAPL        equity (bare ticker)
var (
	currencyRegex = regexp.MustCompile(`^([A-Z]{3})=$`)
	bondRegex     = regexp.MustCompile(`^([0-9A-Z]{9})=$`)
	warrantRegex  = regexp.MustCompile(`^([A-Z0-9]+(?:\.[A-Z]{1,3})?)\.W$`)
	equityRegex   = regexp.MustCompile(`^([A-Z0-9]+)(?:\.([A-Z]{1,3}))?$`)
)

var (
	ErrInvalidIdentifier = errors.New("ric: invalid identifier format")
	ErrKindMismatch      = errors.New("ric: identifier does not match kind")
)

// RIC is a parsed instrument identifier.
type RIC struct {
	Code     string     `json:"code"`
	Exchange string     `json:"exchange,omitempty"`
	Kind     model.Kind `json:"kind"`
	Raw      string     `json:"raw"`
}

// Parse validates an identifier and infers its kind from its shape.
func Parse(id string) (*RIC, error) {
	raw := strings.TrimSpace(id)
	if raw == "" || raw != id {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}

	if m := currencyRegex.FindStringSubmatch(raw); m != nil {
		return &RIC{Code: m[1], Kind: model.KindCurrency, Raw: raw}, nil
	}
	if m := bondRegex.FindStringSubmatch(raw); m != nil {
		return &RIC{Code: m[1], Kind: model.KindBond, Raw: raw}, nil
	}
	if m := warrantRegex.FindStringSubmatch(raw); m != nil {
		return &RIC{Code: m[1], Kind: model.KindWarrant, Raw: raw}, nil
	}
	if m := equityRegex.FindStringSubmatch(raw); m != nil {
		return &RIC{Code: m[1], Exchange: m[2], Kind: model.KindEquity, Raw: raw}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
}

// Validate checks that id is well formed and, when kind is set, that its
// shape agrees with kind. Dictionaries may classify an identifier explicitly;
// only currency and bond shapes are strict since "=" suffixes are unambiguous.
func Validate(id string, kind model.Kind) error {
	r, err := Parse(id)
	if err != nil {
		return err
	}
	if kind == "" {
		return nil
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrKindMismatch, kind)
	}
	strict := r.Kind == model.KindCurrency || r.Kind == model.KindBond ||
		kind == model.KindCurrency || kind == model.KindBond
	if strict && r.Kind != kind {
		return fmt.Errorf("%w: %s looks like %s, not %s", ErrKindMismatch, id, r.Kind, kind)
	}
	return nil
}
