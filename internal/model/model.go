// Package model defines the core domain types shared across the market feed.
// Live instrument state is float64 (simulation noise); reference prices coming
// from dictionaries and external APIs use shopspring/decimal.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies an instrument. It never changes the meaning of the identifier.
type Kind string

const (
	KindEquity   Kind = "equity"
	KindBond     Kind = "bond"
	KindWarrant  Kind = "warrant"
	KindCurrency Kind = "currency"
)

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Valid reports whether k is one of the known categories.
func (k Kind) Valid() bool {
	switch k {
	case KindEquity, KindBond, KindWarrant, KindCurrency:
		return true
	default:
		return false
	}
}

// ParseKind accepts the category name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("model: unknown instrument kind %q", s)
	}
	return k, nil
}

// Snapshot is a consistent copy of an instrument's market state, taken under
// a single read lock.
type Snapshot struct {
	Last  float64 `json:"last"`
	Bid   float64 `json:"bid"`
	Ask   float64 `json:"ask"`
	Open  float64 `json:"open"`
	Close float64 `json:"close"`
	Tick  uint64  `json:"tick"`
}

// NotificationType distinguishes initial images from post-tick updates.
type NotificationType string

const (
	// NotificationImage is a full snapshot pushed on subscribe and on flush.
	NotificationImage NotificationType = "image"
	// NotificationUpdate is pushed after a tick when the instrument has subscribers.
	NotificationUpdate NotificationType = "update"
)

// Notification is one push to subscribers of an instrument.
type Notification struct {
	ID           string           `json:"id"`
	Type         NotificationType `json:"type"`
	Feed         string           `json:"feed"`
	InstrumentID string           `json:"instrument_id"`
	Kind         Kind             `json:"kind"`
	Snapshot     Snapshot         `json:"snapshot"`
	Timestamp    time.Time        `json:"timestamp"`
}

// InstrumentDef is a dictionary entry used to build the registry.
type InstrumentDef struct {
	ID         string          `json:"id" yaml:"id" db:"id"`
	Name       string          `json:"name" yaml:"name" db:"name"`
	Kind       Kind            `json:"kind" yaml:"kind" db:"kind"`
	Close      decimal.Decimal `json:"close" yaml:"close" db:"close"`
	Volatility decimal.Decimal `json:"volatility" yaml:"volatility" db:"volatility"`
}

// DefaultVolatility applies when a dictionary entry omits volatility.
var DefaultVolatility = decimal.RequireFromString("0.04")

// JournalEntry is a recorded notification, as kept by the snapshot journal.
type JournalEntry struct {
	InstrumentID string           `json:"instrument_id" db:"instrument_id"`
	Type         NotificationType `json:"type" db:"type"`
	Snapshot     Snapshot         `json:"snapshot"`
	Timestamp    time.Time        `json:"timestamp" db:"timestamp"`
}

// PriceRecord is an end-of-day quote returned by an external price API.
// It is informational and never merged into live instrument state.
type PriceRecord struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name,omitempty"`
	Source string          `json:"source"`
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
}
