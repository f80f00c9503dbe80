package types

import "time"

// MarketData is a single OHLCV candle for one symbol.
type MarketData struct {
	Id     string    `csv:"id" json:"id"`
	Symbol string    `csv:"symbol" json:"symbol"`
	Time   time.Time `csv:"time" json:"time"`
	Open   float64   `csv:"open" json:"open"`
	High   float64   `csv:"high" json:"high"`
	Low    float64   `csv:"low" json:"low"`
	Close  float64   `csv:"close" json:"close"`
	Volume float64   `csv:"volume" json:"volume"`
}

// Interval is a supported candle resolution for historical market data.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
)
