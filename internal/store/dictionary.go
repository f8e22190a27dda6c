package store

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/market-feed/internal/model"
	"github.com/atmx/market-feed/internal/ric"
)

// dictionaryFile mirrors the on-disk layout: a "symbols" map keyed by
// identifier. JSON files parse too since the YAML decoder accepts JSON.
type dictionaryFile struct {
	Symbols map[string]dictionaryEntry `yaml:"symbols"`
}

type dictionaryEntry struct {
	Name       string           `yaml:"name"`
	Kind       string           `yaml:"kind"`
	Close      decimal.Decimal  `yaml:"close"`
	Volatility *decimal.Decimal `yaml:"volatility"`
}

// LoadDictionary reads a dictionary file.
func LoadDictionary(path string) ([]model.InstrumentDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return ParseDictionary(data)
}

// ParseDictionary decodes dictionary bytes. Entries are validated against
// their identifier shape and returned sorted by identifier. A missing kind is
// inferred from the identifier; a missing volatility defaults to
// model.DefaultVolatility.
func ParseDictionary(data []byte) ([]model.InstrumentDef, error) {
	var f dictionaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}

	defs := make([]model.InstrumentDef, 0, len(f.Symbols))
	for id, e := range f.Symbols {
		def, err := e.toDef(id)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func (e dictionaryEntry) toDef(id string) (model.InstrumentDef, error) {
	def := model.InstrumentDef{ID: id, Name: e.Name, Close: e.Close, Volatility: model.DefaultVolatility}
	if e.Volatility != nil {
		def.Volatility = *e.Volatility
	}
	if def.Close.IsNegative() || def.Volatility.IsNegative() {
		return def, fmt.Errorf("dictionary entry %s: close and volatility must be non-negative", id)
	}

	if e.Kind == "" {
		r, err := ric.Parse(id)
		if err != nil {
			return def, fmt.Errorf("dictionary entry %s: %w", id, err)
		}
		def.Kind = r.Kind
		return def, nil
	}

	kind, err := model.ParseKind(e.Kind)
	if err != nil {
		return def, fmt.Errorf("dictionary entry %s: %w", id, err)
	}
	if err := ric.Validate(id, kind); err != nil {
		return def, fmt.Errorf("dictionary entry %s: %w", id, err)
	}
	def.Kind = kind
	return def, nil
}

// DefaultDictionary returns the built-in instrument set.
func DefaultDictionary() []model.InstrumentDef {
	entry := func(id, name string, kind model.Kind, close string) model.InstrumentDef {
		return model.InstrumentDef{
			ID:         id,
			Name:       name,
			Kind:       kind,
			Close:      decimal.RequireFromString(close),
			Volatility: model.DefaultVolatility,
		}
	}
	return []model.InstrumentDef{
		entry("46590XAR7=", "JPMorgan Chase 4.25% 2027", model.KindBond, "98.75"),
		entry("CHF=", "Swiss Franc", model.KindCurrency, "0.8812"),
		entry("EUR=", "Euro", model.KindCurrency, "1.0845"),
		entry("IDR=", "Indonesian Rupiah", model.KindCurrency, "15620"),
		entry("MSFT.O", "Microsoft Corp", model.KindEquity, "415.26"),
		entry("TOTF.PA", "TotalEnergies SE", model.KindEquity, "61.48"),
	}
}
