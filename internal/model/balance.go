package model

import "time"

// Balance is an immutable snapshot of the agent's holdings, normalized into
// a single USD valuation. A snapshot is never mutated, only superseded by
// the next oracle read.
type Balance struct {
	PrimaryAssetAmount float64   `json:"primary_asset_amount"`
	StableAssetAmount  float64   `json:"stable_asset_amount"`
	TotalValueUSD      float64   `json:"total_value_usd"`
	ObservedAt         time.Time `json:"observed_at"`
}
