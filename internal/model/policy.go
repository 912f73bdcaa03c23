package model

// AllocationPolicy splits total treasury value into purpose-bound reserves.
// The four fractions must sum to exactly 1.0; this is validated at startup
// and the process refuses to run with an inconsistent policy.
type AllocationPolicy struct {
	OperatingFraction   float64 `yaml:"operating_fraction" json:"operating_fraction"`
	TradingFraction     float64 `yaml:"trading_fraction" json:"trading_fraction"`
	EmergencyFraction   float64 `yaml:"emergency_fraction" json:"emergency_fraction"`
	ProfitShareFraction float64 `yaml:"profit_share_fraction" json:"profit_share_fraction"`
}

// Sum returns the total of the four fractions.
func (p AllocationPolicy) Sum() float64 {
	return p.OperatingFraction + p.TradingFraction + p.EmergencyFraction + p.ProfitShareFraction
}

// ReserveSnapshot is the reserve breakdown derived from a Balance on demand.
// It is recomputed from the latest snapshot and never persisted
// independently of its source Balance.
type ReserveSnapshot struct {
	Operating          float64 `json:"operating"`
	Trading            float64 `json:"trading"`
	Emergency          float64 `json:"emergency"`
	ProfitShareAccrued float64 `json:"profit_share_accrued"`
}

// Distribution is a computed profit split, not yet moved.
type Distribution struct {
	ToCreatorUSD  float64 `json:"to_creator_usd"`
	ToCompoundUSD float64 `json:"to_compound_usd"`
}

// Total returns the full net profit the split was computed from.
func (d Distribution) Total() float64 {
	return d.ToCreatorUSD + d.ToCompoundUSD
}
