package regime

import (
	"fmt"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/models"
)

// SMA returns the simple moving average of closes. Entries before the first
// full window are zero.
func SMA(candles []models.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sma: invalid period %d", period)
	}
	if len(candles) < period {
		return nil, fmt.Errorf("%w: sma(%d) needs %d bars, have %d", ferrors.ErrInsufficientData, period, period, len(candles))
	}

	result := make([]float64, len(candles))
	var window float64
	for i, c := range candles {
		window += c.Close
		if i >= period {
			window -= candles[i-period].Close
		}
		if i >= period-1 {
			result[i] = window / float64(period)
		}
	}
	return result, nil
}

// ADX returns Wilder's Average Directional Index. The first valid value is at
// index 2*period-1.
func ADX(candles []models.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("adx: invalid period %d", period)
	}
	if len(candles) < 2*period {
		return nil, fmt.Errorf("%w: adx(%d) needs %d bars, have %d", ferrors.ErrInsufficientData, period, 2*period, len(candles))
	}

	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	// Index 0 has no previous bar, so smoothing starts at 1.
	smoothPlus := wilderSmooth(plusDM[1:], period)
	smoothMinus := wilderSmooth(minusDM[1:], period)
	smoothTR := wilderSmooth(tr[1:], period)

	dx := make([]float64, len(smoothTR))
	for i := period - 1; i < len(smoothTR); i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothPlus[i] / smoothTR[i]
		minusDI := 100 * smoothMinus[i] / smoothTR[i]
		if sum := plusDI + minusDI; sum != 0 {
			dx[i] = 100 * abs(plusDI-minusDI) / sum
		}
	}

	smoothed := wilderSmooth(dx[period-1:], period)
	result := make([]float64, n)
	// smoothed[j] corresponds to candles[j+period].
	for j := period - 1; j < len(smoothed); j++ {
		result[j+period] = smoothed[j]
	}
	return result, nil
}

func trueRange(current, previous models.Candle) float64 {
	highLow := current.High - current.Low
	highClose := abs(current.High - previous.Close)
	lowClose := abs(current.Low - previous.Close)
	return maxf(highLow, maxf(highClose, lowClose))
}

// wilderSmooth seeds with the mean of the first period values and then
// applies Wilder's recursive average.
func wilderSmooth(values []float64, period int) []float64 {
	result := make([]float64, len(values))
	if len(values) < period {
		return result
	}
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	result[period-1] = seed / float64(period)

	k := 1.0 / float64(period)
	for i := period; i < len(values); i++ {
		result[i] = result[i-1] + k*(values[i]-result[i-1])
	}
	return result
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
