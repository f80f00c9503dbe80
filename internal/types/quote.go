package types

import "time"

// Quote is the price and available liquidity an execution venue reports for
// one asset at one instant.
type Quote struct {
	Asset string  `yaml:"asset" json:"asset" csv:"asset"`
	Price float64 `yaml:"price" json:"price" csv:"price"`
	// Liquidity is the quantity the venue will fill near Price. Zero means none.
	Liquidity float64   `yaml:"liquidity" json:"liquidity" csv:"liquidity"`
	Time      time.Time `yaml:"time" json:"time" csv:"time"`
}

// Balance is one asset quantity reported by an external balance source
// during reconciliation. Cash is reported under its own asset code.
type Balance struct {
	Asset    string  `yaml:"asset" json:"asset" csv:"asset"`
	Quantity float64 `yaml:"quantity" json:"quantity" csv:"quantity"`
}
