// Package report summarises the session's closed trades.
package report

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/your-org/orb-options-bot/internal/dbwriter"
)

// ErrNoTrades is returned when no trade has been closed yet.
var ErrNoTrades = errors.New("no closed trades to analyze")

// Trade は ENTRY と EXIT のイベントを組み合わせた完了済みの取引を表します。
type Trade struct {
	ID         string          `json:"id"`
	Side       string          `json:"side"`
	OriginLine string          `json:"origin_line"`
	Symbol     string          `json:"symbol"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	NetPnL     decimal.Decimal `json:"net_pnl"`
	Commission decimal.Decimal `json:"commission"`
	Reason     string          `json:"reason"`
}

// Report は損益分析の結果を保持します。
type Report struct {
	StartDate                          time.Time       `json:"start_date"`
	EndDate                            time.Time       `json:"end_date"`
	TotalTrades                        int             `json:"total_trades"`
	OpenTrades                         int             `json:"open_trades"`
	WinningTrades                      int             `json:"winning_trades"`
	LosingTrades                       int             `json:"losing_trades"`
	WinRate                            float64         `json:"win_rate"`
	CEWinningTrades                    int             `json:"ce_winning_trades"`
	CELosingTrades                     int             `json:"ce_losing_trades"`
	CEWinRate                          float64         `json:"ce_win_rate"`
	PEWinningTrades                    int             `json:"pe_winning_trades"`
	PELosingTrades                     int             `json:"pe_losing_trades"`
	PEWinRate                          float64         `json:"pe_win_rate"`
	ExitReasons                        map[string]int  `json:"exit_reasons"`
	TotalPnL                           decimal.Decimal `json:"total_pnl"`
	TotalCommission                    decimal.Decimal `json:"total_commission"`
	AverageProfit                      decimal.Decimal `json:"average_profit"`
	AverageLoss                        decimal.Decimal `json:"average_loss"`
	RiskRewardRatio                    float64         `json:"risk_reward_ratio"`
	ProfitFactor                       float64         `json:"profit_factor"`
	MaxDrawdown                        decimal.Decimal `json:"max_drawdown"`
	RecoveryFactor                     float64         `json:"recovery_factor"`
	SharpeRatio                        float64         `json:"sharpe_ratio"`
	SortinoRatio                       float64         `json:"sortino_ratio"`
	MaxConsecutiveWins                 int             `json:"max_consecutive_wins"`
	MaxConsecutiveLosses               int             `json:"max_consecutive_losses"`
	AverageHoldingPeriodSeconds        float64         `json:"average_holding_period_seconds"`
	AverageWinningHoldingPeriodSeconds float64         `json:"average_winning_holding_period_seconds"`
	AverageLosingHoldingPeriodSeconds  float64         `json:"average_losing_holding_period_seconds"`
	Trades                             []Trade         `json:"trades"`
}

// PairTrades matches EXIT events to their ENTRY by trade ID, in exit order.
// It also returns the number of entries that have no exit yet.
func PairTrades(events []dbwriter.TradeEvent) ([]Trade, int) {
	entries := make(map[string]dbwriter.TradeEvent)
	var trades []Trade
	for _, ev := range events {
		switch ev.Event {
		case dbwriter.EventEntry:
			entries[ev.TradeID] = ev
		case dbwriter.EventExit:
			entry, ok := entries[ev.TradeID]
			if !ok {
				continue
			}
			delete(entries, ev.TradeID)
			trades = append(trades, Trade{
				ID:         ev.TradeID,
				Side:       entry.Side,
				OriginLine: entry.OriginLine,
				Symbol:     entry.OptionSymbol,
				EntryTime:  entry.Time,
				ExitTime:   ev.Time,
				EntryPrice: decimal.NewFromFloat(entry.OptionPrice),
				ExitPrice:  decimal.NewFromFloat(ev.OptionPrice),
				NetPnL:     decimal.NewFromFloat(ev.NetPnL),
				Commission: decimal.NewFromFloat(ev.Commission),
				Reason:     ev.Reason,
			})
		}
	}
	return trades, len(entries)
}

// Analyze はジャーナルイベントを分析してレポートを作成します。
func Analyze(events []dbwriter.TradeEvent) (Report, error) {
	trades, open := PairTrades(events)
	if len(trades) == 0 {
		return Report{OpenTrades: open}, ErrNoTrades
	}

	var totalPnL, totalProfit, totalLoss, totalCommission decimal.Decimal
	var ceWins, ceLosses, peWins, peLosses int
	var holding, winningHolding, losingHolding []float64
	var consecutiveWins, consecutiveLosses, maxConsecutiveWins, maxConsecutiveLosses int
	reasons := make(map[string]int)
	pnls := make([]float64, 0, len(trades))

	for _, t := range trades {
		totalPnL = totalPnL.Add(t.NetPnL)
		totalCommission = totalCommission.Add(t.Commission)
		reasons[t.Reason]++
		pnls = append(pnls, t.NetPnL.InexactFloat64())
		period := t.ExitTime.Sub(t.EntryTime).Seconds()
		holding = append(holding, period)

		switch {
		case t.NetPnL.IsPositive():
			totalProfit = totalProfit.Add(t.NetPnL)
			winningHolding = append(winningHolding, period)
			if t.Side == "CE" {
				ceWins++
			} else {
				peWins++
			}
			consecutiveWins++
			consecutiveLosses = 0
			maxConsecutiveWins = max(maxConsecutiveWins, consecutiveWins)
		case t.NetPnL.IsNegative():
			totalLoss = totalLoss.Add(t.NetPnL)
			losingHolding = append(losingHolding, period)
			if t.Side == "CE" {
				ceLosses++
			} else {
				peLosses++
			}
			consecutiveLosses++
			consecutiveWins = 0
			maxConsecutiveLosses = max(maxConsecutiveLosses, consecutiveLosses)
		}
	}

	winning := ceWins + peWins
	losing := ceLosses + peLosses

	avgProfit := decimal.Zero
	if winning > 0 {
		avgProfit = totalProfit.Div(decimal.NewFromInt(int64(winning)))
	}
	avgLoss := decimal.Zero
	if losing > 0 {
		avgLoss = totalLoss.Div(decimal.NewFromInt(int64(losing)))
	}

	riskReward := 0.0
	if !avgLoss.IsZero() {
		riskReward = avgProfit.Div(avgLoss.Abs()).InexactFloat64()
	}
	profitFactor := 0.0
	if totalLoss.IsNegative() {
		profitFactor = totalProfit.Div(totalLoss.Abs()).InexactFloat64()
	}

	// エクイティカーブからドローダウンを計算
	maxDrawdown, peak, equity := decimal.Zero, decimal.Zero, decimal.Zero
	for _, t := range trades {
		equity = equity.Add(t.NetPnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(maxDrawdown) {
			maxDrawdown = dd
		}
	}
	recovery := 0.0
	if maxDrawdown.IsPositive() {
		recovery = totalPnL.Div(maxDrawdown).InexactFloat64()
	}

	return Report{
		StartDate:                          trades[0].EntryTime,
		EndDate:                            trades[len(trades)-1].ExitTime,
		TotalTrades:                        len(trades),
		OpenTrades:                         open,
		WinningTrades:                      winning,
		LosingTrades:                       losing,
		WinRate:                            rate(winning, losing),
		CEWinningTrades:                    ceWins,
		CELosingTrades:                     ceLosses,
		CEWinRate:                          rate(ceWins, ceLosses),
		PEWinningTrades:                    peWins,
		PELosingTrades:                     peLosses,
		PEWinRate:                          rate(peWins, peLosses),
		ExitReasons:                        reasons,
		TotalPnL:                           totalPnL,
		TotalCommission:                    totalCommission,
		AverageProfit:                      avgProfit,
		AverageLoss:                        avgLoss,
		RiskRewardRatio:                    riskReward,
		ProfitFactor:                       profitFactor,
		MaxDrawdown:                        maxDrawdown,
		RecoveryFactor:                     recovery,
		SharpeRatio:                        calculateSharpeRatio(pnls, 0),
		SortinoRatio:                       calculateSortinoRatio(pnls, 0),
		MaxConsecutiveWins:                 maxConsecutiveWins,
		MaxConsecutiveLosses:               maxConsecutiveLosses,
		AverageHoldingPeriodSeconds:        mean(holding),
		AverageWinningHoldingPeriodSeconds: mean(winningHolding),
		AverageLosingHoldingPeriodSeconds:  mean(losingHolding),
		Trades:                             trades,
	}, nil
}

func rate(wins, losses int) float64 {
	if wins+losses == 0 {
		return 0
	}
	return float64(wins) / float64(wins+losses) * 100
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStandardDeviation はリターンの標準偏差を計算します。
func calculateStandardDeviation(returns []float64, m float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	variance := 0.0
	for _, r := range returns {
		variance += math.Pow(r-m, 2)
	}
	return math.Sqrt(variance / float64(len(returns)))
}

// calculateDownsideDeviation は下方偏差を計算します。
func calculateDownsideDeviation(returns []float64, target float64) float64 {
	downsideVariance := 0.0
	downsideCount := 0
	for _, r := range returns {
		if r < target {
			downsideVariance += math.Pow(r-target, 2)
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0
	}
	return math.Sqrt(downsideVariance / float64(downsideCount))
}

// calculateSharpeRatio はシャープレシオを計算します。
func calculateSharpeRatio(returns []float64, riskFreeRate float64) float64 {
	m := mean(returns)
	stdDev := calculateStandardDeviation(returns, m)
	if stdDev == 0 {
		return 0
	}
	return (m - riskFreeRate) / stdDev
}

// calculateSortinoRatio はソルティノレシオを計算します。
func calculateSortinoRatio(returns []float64, riskFreeRate float64) float64 {
	m := mean(returns)
	downsideDev := calculateDownsideDeviation(returns, 0)
	if downsideDev == 0 {
		return 0
	}
	return (m - riskFreeRate) / downsideDev
}
