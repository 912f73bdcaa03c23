package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"survivald/internal/model"
)

func usd(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 2)
}

// FormatDistress builds the distress broadcast for sustained low-tier
// operation.
func FormatDistress(tier model.SurvivalTier, consecutiveTicks int, balance model.Balance, credit float64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("DISTRESS | %s\n\n", time.Now().Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("tier: %s for %d consecutive ticks\n", tier, consecutiveTicks))
	b.WriteString(fmt.Sprintf("treasury: %s | credit: %.4f\n", usd(balance.TotalValueUSD), credit))
	if tier == model.TierDead {
		b.WriteString("\nall paid capability halted; external funding required to recover\n")
	} else {
		b.WriteString("\nseeking paid work at maximum urgency\n")
	}
	return b.String()
}

// FormatStatus builds the periodic status report.
func FormatStatus(tier model.SurvivalTier, balance model.Balance, credit float64,
	reserves model.ReserveSnapshot, metrics model.TradingMetrics, stats model.WorkStats) string {

	var b strings.Builder
	b.WriteString(fmt.Sprintf("survivald status | %s\n\n", time.Now().Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("tier: %s\n", tier))
	b.WriteString(fmt.Sprintf("treasury: %s | credit: %.4f\n\n", usd(balance.TotalValueUSD), credit))

	b.WriteString("reserves:\n")
	b.WriteString(fmt.Sprintf("  operating:    %s\n", usd(reserves.Operating)))
	b.WriteString(fmt.Sprintf("  trading:      %s\n", usd(reserves.Trading)))
	b.WriteString(fmt.Sprintf("  emergency:    %s\n", usd(reserves.Emergency)))
	b.WriteString(fmt.Sprintf("  profit share: %s\n\n", usd(reserves.ProfitShareAccrued)))

	b.WriteString(fmt.Sprintf("trades: %d (%.0f%% wins) | net profit: %s | sharpe: %.2f\n",
		metrics.TotalTrades, metrics.WinRate()*100, usd(metrics.NetProfitUSD), metrics.SharpeRatio))
	b.WriteString(fmt.Sprintf("work: %d jobs, %s earned, %.0f%% success, %.0f min spent\n",
		stats.TotalJobs, usd(stats.TotalEarnedUSD), stats.SuccessRate*100, stats.TotalTimeSpentMinutes))
	return b.String()
}

// FormatDistribution builds the profit distribution notice.
func FormatDistribution(d model.Distribution, receiptID string) string {
	var b strings.Builder
	b.WriteString("profit distribution complete\n\n")
	b.WriteString(fmt.Sprintf("to creator:   %s\n", usd(d.ToCreatorUSD)))
	b.WriteString(fmt.Sprintf("compounded:   %s\n", usd(d.ToCompoundUSD)))
	b.WriteString(fmt.Sprintf("receipt: %s\n", receiptID))
	return b.String()
}
