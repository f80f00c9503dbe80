package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// CandleGenerator produces synthetic OHLCV candles for tests and benchmarks.
type CandleGenerator struct {
	rng *rand.Rand
}

// NewCandleGenerator creates a generator seeded for reproducible series.
func NewCandleGenerator(seed int64) *CandleGenerator {
	return &CandleGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// SeriesConfig describes a synthetic candle series.
type SeriesConfig struct {
	// Symbol is stamped on every generated candle.
	Symbol string
	// StartTime is the open time of the first candle.
	StartTime time.Time
	// Interval is the duration of each candle.
	Interval time.Duration
	// Count is the number of candles to generate.
	Count int
	// InitialPrice is the open of the first candle.
	InitialPrice float64
	// Volatility is the per-candle standard deviation of returns.
	Volatility float64
	// Trend is the total relative drift spread across the whole series.
	Trend float64
	// VolumeBase is the average volume per candle.
	VolumeBase float64
	// VolumeVariance scales the uniform volume noise (0.0 to 1.0).
	VolumeVariance float64
}

// DefaultSeriesConfig returns a neutral one-minute BTCUSDT series.
func DefaultSeriesConfig() SeriesConfig {
	return SeriesConfig{
		Symbol:         "BTCUSDT",
		StartTime:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Interval:       time.Minute,
		Count:          5000,
		InitialPrice:   42000.0,
		Volatility:     0.002,
		Trend:          0.0,
		VolumeBase:     500,
		VolumeVariance: 0.35,
	}
}

// Generate builds a candle series following geometric Brownian motion.
func (g *CandleGenerator) Generate(config SeriesConfig) []types.MarketData {
	candles := make([]types.MarketData, config.Count)
	price := config.InitialPrice
	openTime := config.StartTime

	drift := 0.0
	if config.Count > 0 {
		drift = config.Trend / float64(config.Count)
	}

	for i := 0; i < config.Count; i++ {
		open := price

		// Box-Muller transform for a standard normal draw.
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		close := open * (1 + config.Volatility*z + drift)
		if close <= 0 {
			// Prices must stay positive even on extreme draws.
			close = open * 0.99
		}

		// Wicks extend past the body by up to half a volatility unit.
		highWick := math.Abs(g.rng.Float64() * config.Volatility * open * 0.5)
		lowWick := math.Abs(g.rng.Float64() * config.Volatility * open * 0.5)

		high := math.Max(open, close) + highWick
		low := math.Min(open, close) - lowWick
		if low <= 0 {
			low = math.Min(open, close) * 0.99
		}

		volume := config.VolumeBase * (1 + (g.rng.Float64()*2-1)*config.VolumeVariance)
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		candles[i] = types.MarketData{
			Id:     "",
			Symbol: config.Symbol,
			Time:   openTime,
			Open:   roundTo(open, 4),
			High:   roundTo(high, 4),
			Low:    roundTo(low, 4),
			Close:  roundTo(close, 4),
			Volume: roundTo(volume, 2),
		}

		price = close
		openTime = openTime.Add(config.Interval)
	}

	return candles
}

// GenerateMultiSymbol builds one series per symbol, jittering initial price
// and volatility so the symbols do not move in lockstep.
func (g *CandleGenerator) GenerateMultiSymbol(symbols []string, base SeriesConfig) []types.MarketData {
	var all []types.MarketData

	for _, symbol := range symbols {
		config := base
		config.Symbol = symbol
		config.InitialPrice = base.InitialPrice * (0.8 + g.rng.Float64()*0.4)
		config.Volatility = base.Volatility * (0.8 + g.rng.Float64()*0.4)

		all = append(all, g.Generate(config)...)
	}

	return all
}

// GenerateSeries is a shorthand for a fixed-seed series of count candles.
func GenerateSeries(symbol string, count int) []types.MarketData {
	gen := NewCandleGenerator(42)
	config := DefaultSeriesConfig()
	config.Symbol = symbol
	config.Count = count

	return gen.Generate(config)
}

// roundTo rounds a float64 to the given number of decimal places.
func roundTo(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(val*pow) / pow
}
