// Package indicator computes technical-analysis series from OHLCV bars.
// Every function is a pure transform: the input slice is never mutated and
// each call returns a fresh result, so concurrent use needs no locking.
package indicator

import (
	"errors"
	"math"
	"time"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/models"
)

var (
	ErrInvalidPeriod = errors.New("indicator: period must be positive")
	ErrEmptySeries   = errors.New("indicator: empty price series")
)

// Default periods used by the API layer when the request does not name one.
const (
	DefaultSMAPeriod       = 20
	DefaultEMAPeriod       = 20
	DefaultRSIPeriod       = 14
	DefaultBollingerPeriod = 20
	DefaultBollingerMult   = 2.0
)

// Point is one entry of a derived series, aligned to the input bar at the
// same index. Value is nil where the trailing window has not accumulated
// enough history; it marshals to JSON null so charts can skip it.
type Point struct {
	Time  time.Time `json:"time"`
	Value *float64  `json:"value"`
}

// Bands holds the three Bollinger series. All three share the input length
// and the same defined/undefined boundary.
type Bands struct {
	Upper  []Point `json:"upper"`
	Middle []Point `json:"middle"`
	Lower  []Point `json:"lower"`
}

func validate(bars []models.PriceBar, period int) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}
	if len(bars) == 0 {
		return ErrEmptySeries
	}
	return nil
}

func emptySeries(bars []models.PriceBar) []Point {
	out := make([]Point, len(bars))
	for i, b := range bars {
		out[i] = Point{Time: b.Time}
	}
	return out
}

// SMA returns the simple moving average of closes over a trailing window.
// Entries before index period-1 are undefined. A period longer than the
// series yields an all-undefined result, not an error.
func SMA(bars []models.PriceBar, period int) ([]Point, error) {
	if err := validate(bars, period); err != nil {
		return nil, err
	}

	out := emptySeries(bars)
	var sum float64
	for i, b := range bars {
		sum += b.Close
		if i >= period {
			sum -= bars[i-period].Close
		}
		if i >= period-1 {
			v := sum / float64(period)
			out[i].Value = &v
		}
	}
	return out, nil
}

// EMA returns the exponential moving average of closes. The value at index
// period-1 is seeded with the SMA of the first period closes; later entries
// follow the standard recurrence with multiplier 2/(period+1).
func EMA(bars []models.PriceBar, period int) ([]Point, error) {
	if err := validate(bars, period); err != nil {
		return nil, err
	}

	out := emptySeries(bars)
	if period > len(bars) {
		return out, nil
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += bars[i].Close
	}
	seed /= float64(period)
	out[period-1].Value = &seed

	multiplier := 2.0 / float64(period+1)
	prev := seed
	for i := period; i < len(bars); i++ {
		v := (bars[i].Close-prev)*multiplier + prev
		out[i].Value = &v
		prev = v
	}
	return out, nil
}

// RSI returns the relative strength index computed from simple rolling
// averages of the trailing period day-over-day gains and losses. Index 0 has
// no defined change and contributes zero to both. Entries before index
// period are undefined; defined values are clamped to 100 when the window
// holds no losses.
func RSI(bars []models.PriceBar, period int) ([]Point, error) {
	if err := validate(bars, period); err != nil {
		return nil, err
	}

	out := emptySeries(bars)
	if period >= len(bars) {
		return out, nil
	}

	gains := make([]float64, len(bars))
	losses := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	var gainSum, lossSum float64
	for i := 1; i < len(bars); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i < period {
			continue
		}

		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		v := 100.0
		if avgLoss > 0 {
			v = 100.0 - 100.0/(1.0+avgGain/avgLoss)
		}
		out[i].Value = &v
	}
	return out, nil
}

// BollingerBands returns the volatility envelope around SMA(period): the
// middle band plus/minus mult standard deviations. Sigma is the population
// standard deviation of the trailing window, not the sample one.
func BollingerBands(bars []models.PriceBar, period int, mult float64) (Bands, error) {
	middle, err := SMA(bars, period)
	if err != nil {
		return Bands{}, err
	}

	bands := Bands{
		Upper:  emptySeries(bars),
		Middle: middle,
		Lower:  emptySeries(bars),
	}
	for i := range bars {
		if middle[i].Value == nil {
			continue
		}
		mean := *middle[i].Value
		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := bars[j].Close - mean
			sq += d * d
		}
		sigma := math.Sqrt(sq / float64(period))

		upper := mean + mult*sigma
		lower := mean - mult*sigma
		bands.Upper[i].Value = &upper
		bands.Lower[i].Value = &lower
	}
	return bands, nil
}
