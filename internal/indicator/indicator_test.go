package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/moonkaicuzui/stock-portfolio-genius/internal/models"
)

func barsFromCloses(closes ...float64) []models.PriceBar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = models.PriceBar{
			Time:  start.AddDate(0, 0, i),
			Open:  c,
			High:  c,
			Low:   c,
			Close: c,
		}
	}
	return bars
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMAWindowBoundaries(t *testing.T) {
	bars := barsFromCloses(10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20)
	out, err := SMA(bars, 5)
	if err != nil {
		t.Fatalf("sma: %v", err)
	}
	if len(out) != len(bars) {
		t.Fatalf("expected %d points, got %d", len(bars), len(out))
	}
	for i := 0; i < 4; i++ {
		if out[i].Value != nil {
			t.Fatalf("expected undefined value at index %d, got %v", i, *out[i].Value)
		}
	}
	if out[4].Value == nil || !approx(*out[4].Value, 12) {
		t.Fatalf("expected first defined SMA 12, got %+v", out[4])
	}
	last := out[len(out)-1]
	if last.Value == nil || !approx(*last.Value, 18) {
		t.Fatalf("expected SMA 18 at last index, got %+v", last)
	}
	if !last.Time.Equal(bars[len(bars)-1].Time) {
		t.Fatalf("expected points aligned to bar times")
	}
}

func TestSMAPeriodLongerThanSeries(t *testing.T) {
	bars := barsFromCloses(10, 11, 12)
	out, err := SMA(bars, 5)
	if err != nil {
		t.Fatalf("sma: %v", err)
	}
	for i, p := range out {
		if p.Value != nil {
			t.Fatalf("expected all-undefined series, index %d defined", i)
		}
	}
}

func TestSMAInvalidInput(t *testing.T) {
	bars := barsFromCloses(10, 11, 12)
	if _, err := SMA(bars, 0); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
	if _, err := SMA(bars, -3); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod for negative period, got %v", err)
	}
	if _, err := SMA(nil, 5); !errors.Is(err, ErrEmptySeries) {
		t.Fatalf("expected ErrEmptySeries, got %v", err)
	}
}

func TestEMASeedEqualsSMA(t *testing.T) {
	bars := barsFromCloses(10, 12, 11, 13, 15, 14, 16, 18, 17, 19)
	period := 4

	sma, err := SMA(bars, period)
	if err != nil {
		t.Fatalf("sma: %v", err)
	}
	ema, err := EMA(bars, period)
	if err != nil {
		t.Fatalf("ema: %v", err)
	}

	for i := 0; i < period-1; i++ {
		if ema[i].Value != nil {
			t.Fatalf("expected undefined EMA before seed, index %d defined", i)
		}
	}
	if ema[period-1].Value == nil || sma[period-1].Value == nil {
		t.Fatal("expected seed values to be defined")
	}
	if !approx(*ema[period-1].Value, *sma[period-1].Value) {
		t.Fatalf("EMA seed %v != SMA %v", *ema[period-1].Value, *sma[period-1].Value)
	}

	// Spot-check the recurrence at the index after the seed.
	multiplier := 2.0 / float64(period+1)
	want := (bars[period].Close-*ema[period-1].Value)*multiplier + *ema[period-1].Value
	if ema[period].Value == nil || !approx(*ema[period].Value, want) {
		t.Fatalf("expected EMA %v after seed, got %+v", want, ema[period])
	}
}

func TestRSIBounds(t *testing.T) {
	bars := barsFromCloses(44, 44.5, 43.8, 44.2, 45, 44.7, 45.3, 46, 45.5, 46.2,
		46.8, 46.4, 47, 47.5, 47.2, 48, 47.6, 48.3, 48.9, 48.5)
	out, err := RSI(bars, 14)
	if err != nil {
		t.Fatalf("rsi: %v", err)
	}
	for i := 0; i < 14; i++ {
		if out[i].Value != nil {
			t.Fatalf("expected undefined RSI before period, index %d defined", i)
		}
	}
	for i := 14; i < len(out); i++ {
		if out[i].Value == nil {
			t.Fatalf("expected defined RSI at index %d", i)
		}
		if v := *out[i].Value; v < 0 || v > 100 {
			t.Fatalf("RSI out of bounds at index %d: %v", i, v)
		}
	}
}

func TestRSIAllGainsClampsTo100(t *testing.T) {
	bars := barsFromCloses(10, 11, 12, 13, 14, 15, 16, 17)
	out, err := RSI(bars, 5)
	if err != nil {
		t.Fatalf("rsi: %v", err)
	}
	for i := 5; i < len(out); i++ {
		if out[i].Value == nil || *out[i].Value != 100 {
			t.Fatalf("expected RSI 100 with no losses at index %d, got %+v", i, out[i])
		}
	}
}

func TestRSISimpleRollingAverage(t *testing.T) {
	// Changes: +2, -1, +1, -2, +3. With period 4 at the last index the
	// trailing window is {-1, +1, -2, +3}: avgGain = 1, avgLoss = 0.75.
	bars := barsFromCloses(10, 12, 11, 12, 10, 13)
	out, err := RSI(bars, 4)
	if err != nil {
		t.Fatalf("rsi: %v", err)
	}
	want := 100.0 - 100.0/(1.0+(1.0/0.75))
	last := out[len(out)-1]
	if last.Value == nil || !approx(*last.Value, want) {
		t.Fatalf("expected RSI %v, got %+v", want, last)
	}
}

func TestBollingerBandOrdering(t *testing.T) {
	bars := barsFromCloses(20, 21, 19, 22, 20.5, 23, 21.5, 24, 22.5, 25)
	bands, err := BollingerBands(bars, 5, 2)
	if err != nil {
		t.Fatalf("bollinger: %v", err)
	}
	for i := range bars {
		u, m, l := bands.Upper[i].Value, bands.Middle[i].Value, bands.Lower[i].Value
		if i < 4 {
			if u != nil || m != nil || l != nil {
				t.Fatalf("expected undefined bands at index %d", i)
			}
			continue
		}
		if u == nil || m == nil || l == nil {
			t.Fatalf("expected defined bands at index %d", i)
		}
		if *l > *m || *m > *u {
			t.Fatalf("band ordering violated at index %d: %v %v %v", i, *l, *m, *u)
		}
	}
}

func TestBollingerConstantWindowCollapses(t *testing.T) {
	bars := barsFromCloses(15, 15, 15, 15, 15, 15)
	bands, err := BollingerBands(bars, 4, 2)
	if err != nil {
		t.Fatalf("bollinger: %v", err)
	}
	for i := 3; i < len(bars); i++ {
		u, m, l := *bands.Upper[i].Value, *bands.Middle[i].Value, *bands.Lower[i].Value
		if !approx(u, 15) || !approx(m, 15) || !approx(l, 15) {
			t.Fatalf("expected collapsed bands at 15, got %v %v %v", l, m, u)
		}
	}
}

func TestBollingerSigmaIsPopulation(t *testing.T) {
	// Window {2, 4, 4, 4, 6}: mean 4, population variance 8/5.
	bars := barsFromCloses(2, 4, 4, 4, 6)
	bands, err := BollingerBands(bars, 5, 2)
	if err != nil {
		t.Fatalf("bollinger: %v", err)
	}
	sigma := math.Sqrt(8.0 / 5.0)
	last := len(bars) - 1
	if !approx(*bands.Upper[last].Value, 4+2*sigma) {
		t.Fatalf("expected population sigma %v, got upper %v", sigma, *bands.Upper[last].Value)
	}
	if !approx(*bands.Lower[last].Value, 4-2*sigma) {
		t.Fatalf("expected population sigma %v, got lower %v", sigma, *bands.Lower[last].Value)
	}
}

func TestInputNotMutated(t *testing.T) {
	bars := barsFromCloses(10, 11, 12, 13, 14)
	original := make([]models.PriceBar, len(bars))
	copy(original, bars)

	if _, err := SMA(bars, 3); err != nil {
		t.Fatalf("sma: %v", err)
	}
	if _, err := EMA(bars, 3); err != nil {
		t.Fatalf("ema: %v", err)
	}
	if _, err := RSI(bars, 3); err != nil {
		t.Fatalf("rsi: %v", err)
	}
	if _, err := BollingerBands(bars, 3, 2); err != nil {
		t.Fatalf("bollinger: %v", err)
	}

	for i := range bars {
		if bars[i] != original[i] {
			t.Fatalf("input bar %d mutated: %+v != %+v", i, bars[i], original[i])
		}
	}
}
