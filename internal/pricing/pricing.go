// Package pricing selects option contracts and reads their entry and exit prices.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/orb-options-bot/internal/quote"
	"github.com/your-org/orb-options-bot/internal/signal"
	"go.uber.org/zap"
)

var (
	// ErrNoChain is returned when no options chain has ever been fetched.
	ErrNoChain = errors.New("options chain not available")
	// ErrNoContract is returned when the chain has no contract of the requested side.
	ErrNoContract = errors.New("no matching contract in options chain")
	// ErrInvalidQuote is returned for a quote without a usable price.
	ErrInvalidQuote = errors.New("invalid quote")
)

// OptionContract is one row of an options chain.
type OptionContract struct {
	OptionType signal.Side
	Strike     decimal.Decimal
	Symbol     string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	LastPrice  decimal.Decimal
}

// Quote is the top of book for one contract.
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Provider is the remote options data source.
type Provider interface {
	OptionChain(ctx context.Context, symbol string, strikeCount int) ([]OptionContract, error)
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// Selection is the contract chosen for an entry and its fill price.
type Selection struct {
	Symbol string
	Strike decimal.Decimal
	Price  decimal.Decimal
}

// Config holds contract selection parameters.
type Config struct {
	SymbolPrefix    string          // e.g. "NSE:NIFTY25515"
	StrikeStep      decimal.Decimal // ATM rounding step
	StrikeCount     int
	TargetPremium   decimal.Decimal
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
}

// Pricer reads entry prices from a cached options chain and exit prices from quotes.
type Pricer struct {
	cfg      Config
	provider Provider
	chain    *quote.Cache[[]OptionContract]
	logger   *zap.Logger
}

// NewPricer creates a Pricer. clock may be nil.
func NewPricer(cfg Config, provider Provider, clock func() time.Time, logger *zap.Logger) *Pricer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pricer{
		cfg:      cfg,
		provider: provider,
		chain:    quote.NewCache[[]OptionContract](cfg.RefreshInterval, clock, logger.Named("chain")),
		logger:   logger,
	}
}

// ATMStrike rounds the underlying price to the nearest strike step, halves to even.
func ATMStrike(underlying, step decimal.Decimal) decimal.Decimal {
	return underlying.Div(step).RoundBank(0).Mul(step)
}

// ChainSymbol returns the symbol used to request the chain around underlying.
func (p *Pricer) ChainSymbol(underlying decimal.Decimal) string {
	return p.cfg.SymbolPrefix + ATMStrike(underlying, p.cfg.StrikeStep).String() + string(signal.SideCE)
}

// EntryPrice picks the side's contract whose last price is nearest to the
// target premium and returns its ask.
func (p *Pricer) EntryPrice(ctx context.Context, side signal.Side, underlying decimal.Decimal) (Selection, error) {
	symbol := p.ChainSymbol(underlying)
	contracts, ok := p.chain.Get(ctx, func(ctx context.Context) ([]OptionContract, error) {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
		chain, err := p.provider.OptionChain(ctx, symbol, p.cfg.StrikeCount)
		if err != nil {
			return nil, err
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("empty options chain for %s", symbol)
		}
		p.logger.Info("options chain updated", zap.String("symbol", symbol), zap.Int("contracts", len(chain)))
		return chain, nil
	})
	if !ok {
		return Selection{}, ErrNoChain
	}

	var best *OptionContract
	var bestDiff decimal.Decimal
	for i := range contracts {
		c := &contracts[i]
		if c.OptionType != side {
			continue
		}
		diff := c.LastPrice.Sub(p.cfg.TargetPremium).Abs()
		if best == nil || diff.LessThan(bestDiff) {
			best, bestDiff = c, diff
		}
	}
	if best == nil {
		return Selection{}, fmt.Errorf("%w: side %s", ErrNoContract, side)
	}
	if !best.Ask.IsPositive() {
		return Selection{}, fmt.Errorf("%w: %s ask %s", ErrInvalidQuote, best.Symbol, best.Ask)
	}
	return Selection{Symbol: best.Symbol, Strike: best.Strike, Price: best.Ask}, nil
}

// ExitPrice returns the current bid of the held contract.
func (p *Pricer) ExitPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	q, err := p.provider.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if !q.Bid.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s bid %s", ErrInvalidQuote, symbol, q.Bid)
	}
	return q.Bid, nil
}
