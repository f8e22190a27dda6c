package feed

import (
	"math"
	"math/rand"

	"github.com/atmx/market-feed/internal/model"
)

// PriceSource produces the next last price for an instrument. Next is called
// while the instrument's write lock is held, so it must be cheap and must not
// block. Implementations must be safe for concurrent use.
type PriceSource interface {
	Next(id string, prev float64) float64
}

// PriceSourceFunc adapts a function to PriceSource.
type PriceSourceFunc func(id string, prev float64) float64

func (f PriceSourceFunc) Next(id string, prev float64) float64 { return f(id, prev) }

// UniformSource draws each price uniformly from [0, Max), ignoring history.
type UniformSource struct {
	Max float64
}

func (u UniformSource) Next(string, float64) float64 {
	return rand.Float64() * u.Max
}

// RandomWalk moves each price by a gaussian step scaled by the instrument's
// volatility, starting from its dictionary close. Unknown instruments fall
// back to Fallback.
type RandomWalk struct {
	base     map[string]walkParams
	Fallback PriceSource
}

type walkParams struct {
	close      float64
	volatility float64
}

// minPrice keeps walked prices strictly positive.
const minPrice = 0.0001

// NewRandomWalk builds a walk from dictionary entries.
func NewRandomWalk(defs []model.InstrumentDef) *RandomWalk {
	w := &RandomWalk{
		base:     make(map[string]walkParams, len(defs)),
		Fallback: UniformSource{Max: 1000},
	}
	for _, d := range defs {
		vol := d.Volatility
		if vol.IsZero() {
			vol = model.DefaultVolatility
		}
		w.base[d.ID] = walkParams{
			close:      d.Close.InexactFloat64(),
			volatility: vol.InexactFloat64(),
		}
	}
	return w
}

func (w *RandomWalk) Next(id string, prev float64) float64 {
	p, ok := w.base[id]
	if !ok {
		return w.Fallback.Next(id, prev)
	}
	if prev <= 0 {
		prev = p.close
	}
	if prev <= 0 {
		return w.Fallback.Next(id, prev)
	}
	next := prev * (1 + p.volatility*rand.NormFloat64())
	return math.Max(next, minPrice)
}
