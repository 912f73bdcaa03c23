package model

// TradingMetrics tracks cumulative outcomes of revenue-generating work.
// Monotonically updated from recorded results; never reset except by
// explicit operator action.
type TradingMetrics struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	NetProfitUSD float64 `json:"net_profit_usd"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
}

// WinRate returns wins/(wins+losses), or 0 when nothing has been recorded.
func (m TradingMetrics) WinRate() float64 {
	total := m.Wins + m.Losses
	if total == 0 {
		return 0
	}
	return float64(m.Wins) / float64(total)
}

// WorkStats is a derived read-only aggregate over all recorded work results.
type WorkStats struct {
	TotalJobs             int     `json:"total_jobs"`
	TotalEarnedUSD        float64 `json:"total_earned_usd"`
	SuccessRate           float64 `json:"success_rate"`
	AverageEarningsUSD    float64 `json:"average_earnings_usd"`
	TotalTimeSpentMinutes float64 `json:"total_time_spent_minutes"`
}
