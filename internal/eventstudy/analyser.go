// Package eventstudy computes abnormal return, cumulative AR, and volume
// spike around an event window, per spec.md §4.9.
package eventstudy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/priceapi"
)

// Result is the {ar, car, volume_ratio, significant} tuple of spec.md §4.9,
// plus the baseline sigma ConfMarket needs (kept out of the public tuple
// since it is an internal fitting parameter, not an observable).
type Result struct {
	AR          float64
	CAR         float64
	VolumeRatio float64
	Significant bool
	Sigma       float64
}

// Analyser fetches OHLCV history through priceapi.Client and fits a simple
// mean-return baseline — no exogenous regressor required, per spec.md §4.9.
type Analyser struct {
	prices priceapi.Client
	cfg    config.EventStudyConfig
}

func New(prices priceapi.Client, cfg config.EventStudyConfig) *Analyser {
	return &Analyser{prices: prices, cfg: cfg}
}

// Analyse computes Result for one ticker/event timestamp pair. Fewer than
// MinObservations baseline points is not treated as a pipeline failure: it
// surfaces as conf_market = 0 via the zero Result (spec.md §4.9 step 5).
func (a *Analyser) Analyse(ctx context.Context, ticker string, eventTs time.Time) (Result, error) {
	if ticker == "" {
		return Result{}, nil
	}

	estFrom := eventTs.AddDate(0, 0, -a.cfg.EstimationDays)
	estTo := eventTs.AddDate(0, 0, -1)
	baseline, err := a.prices.Candles(ctx, ticker, estFrom, estTo, 24*time.Hour)
	if err != nil {
		return Result{}, fmt.Errorf("eventstudy: baseline candles: %w", err)
	}
	if len(baseline) < a.cfg.MinObservations {
		return Result{}, nil
	}

	meanReturn, sigma, avgVol := fitBaseline(baseline)

	windowFrom := eventTs
	windowTo := eventTs.AddDate(0, 0, a.cfg.EventWindowDays)
	window, err := a.prices.Candles(ctx, ticker, windowFrom, windowTo, 24*time.Hour)
	if err != nil {
		return Result{}, fmt.Errorf("eventstudy: window candles: %w", err)
	}
	if len(window) == 0 {
		return Result{}, nil
	}

	var car float64
	var arPeak float64
	var eventVol float64
	for i, c := range window {
		ret := dailyReturn(window, i)
		ar := ret - meanReturn
		car += ar
		if math.Abs(ar) > math.Abs(arPeak) {
			arPeak = ar
		}
		eventVol += c.Volume
	}
	eventVol /= float64(len(window))

	var volumeRatio float64
	if avgVol > 0 {
		volumeRatio = eventVol / avgVol
	}

	significant := (sigma > 0 && math.Abs(arPeak) > a.cfg.SignificanceSigma*sigma) || volumeRatio > 2

	return Result{
		AR:          arPeak,
		CAR:         car,
		VolumeRatio: volumeRatio,
		Significant: significant,
		Sigma:       sigma,
	}, nil
}

// ConfMarket implements spec.md §4.8's conf_market definition:
// min(1, |AR| / (2*sigma)) * 1{significant}.
func ConfMarket(r Result) float64 {
	if !r.Significant || r.Sigma <= 0 {
		return 0
	}
	v := math.Abs(r.AR) / (2 * r.Sigma)
	if v > 1 {
		v = 1
	}
	return v
}

func dailyReturn(candles []priceapi.Candle, i int) float64 {
	if i == 0 || candles[i-1].Close == 0 {
		return 0
	}
	return (candles[i].Close - candles[i-1].Close) / candles[i-1].Close
}

func fitBaseline(candles []priceapi.Candle) (meanReturn, sigma, avgVolume float64) {
	var returns []float64
	var volSum float64
	for i, c := range candles {
		if i > 0 {
			returns = append(returns, dailyReturn(candles, i))
		}
		volSum += c.Volume
	}
	avgVolume = volSum / float64(len(candles))

	if len(returns) == 0 {
		return 0, 0, avgVolume
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	meanReturn = sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - meanReturn
		variance += d * d
	}
	variance /= float64(len(returns))
	sigma = math.Sqrt(variance)
	return meanReturn, sigma, avgVolume
}
