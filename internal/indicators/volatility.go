package indicators

import "math"

// LogReturns returns the log return series r[i] = ln(prices[i]/prices[i-1])
// for i in [1, len(prices)). It is the input series for Stddev-based
// volatility proxies.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	return returns
}

// Stddev returns the population standard deviation of values, or 0 for
// fewer than two samples.
func Stddev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n))
}

// ATRProxy estimates a fractional volatility measure from the stddev of
// the last 20 log-returns of prices. It returns fallback when fewer than
// 20 returns are available.
func ATRProxy(prices []float64, fallback float64) float64 {
	const window = 20
	returns := LogReturns(prices)
	if len(returns) < window {
		return fallback
	}
	recent := returns[len(returns)-window:]
	proxy := Stddev(recent)
	if proxy <= 0 {
		return fallback
	}
	return proxy
}
