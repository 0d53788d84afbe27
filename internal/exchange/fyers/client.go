package fyers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/orb-options-bot/internal/indicator"
	"github.com/your-org/orb-options-bot/internal/pricing"
	"github.com/your-org/orb-options-bot/internal/signal"
)

// ErrAPI is returned when the API answers with a non-ok status.
var ErrAPI = errors.New("fyers API error")

// Client provides methods to interact with the market-data API.
type Client struct {
	baseURL     string
	clientID    string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates a new API client. Per-call deadlines come from the caller's context.
func NewClient(baseURL, clientID, accessToken string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     baseURL,
		clientID:    clientID,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}
	req.Header.Set("Authorization", c.clientID+":"+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request for %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response body (status: %d): %w", endpoint, resp.StatusCode, err)
	}
	c.logger.Debug("api response", zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d: %s", ErrAPI, endpoint, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response (body: %s): %w", endpoint, body, err)
	}
	return nil
}

// Candles fetches the day's candle history for symbol and returns the
// candles whose open time falls within [from, to]. Candle times are reported
// in from's location.
func (c *Client) Candles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]indicator.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", resolution)
	q.Set("date_format", "1")
	q.Set("range_from", from.Format("2006-01-02"))
	q.Set("range_to", to.Format("2006-01-02"))
	q.Set("cont_flag", "1")

	var resp HistoryResponse
	if err := c.get(ctx, "/data/history", q, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("%w: history %s: %s", ErrAPI, symbol, resp.Message)
	}

	candles := make([]indicator.Candle, 0, len(resp.Candles))
	for i, row := range resp.Candles {
		candle, err := parseCandle(row, from.Location())
		if err != nil {
			return nil, fmt.Errorf("candle %d: %w", i, err)
		}
		if candle.Time.Before(from) || candle.Time.After(to) {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(row []json.Number, loc *time.Location) (indicator.Candle, error) {
	if len(row) < 5 {
		return indicator.Candle{}, fmt.Errorf("expected at least 5 fields, got %d", len(row))
	}
	ts, err := strconv.ParseInt(row[0].String(), 10, 64)
	if err != nil {
		return indicator.Candle{}, fmt.Errorf("timestamp %q: %w", row[0], err)
	}
	values := make([]decimal.Decimal, 0, 5)
	for _, n := range row[1:] {
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return indicator.Candle{}, fmt.Errorf("value %q: %w", n, err)
		}
		values = append(values, v)
	}
	candle := indicator.Candle{
		Time:  time.Unix(ts, 0).In(loc),
		Open:  values[0],
		High:  values[1],
		Low:   values[2],
		Close: values[3],
	}
	if len(values) > 4 {
		candle.Volume = values[4]
	}
	return candle, nil
}

// OptionChain fetches strikeCount strikes on each side of symbol's strike.
// Rows without a CE/PE option type are skipped.
func (c *Client) OptionChain(ctx context.Context, symbol string, strikeCount int) ([]pricing.OptionContract, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("strikecount", strconv.Itoa(strikeCount))

	var resp OptionChainResponse
	if err := c.get(ctx, "/data/options-chain-v3", q, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("%w: options chain %s: %s", ErrAPI, symbol, resp.Message)
	}

	contracts := make([]pricing.OptionContract, 0, len(resp.Data.OptionsChain))
	for _, row := range resp.Data.OptionsChain {
		side := signal.Side(row.OptionType)
		if side != signal.SideCE && side != signal.SidePE {
			continue
		}
		contracts = append(contracts, pricing.OptionContract{
			OptionType: side,
			Strike:     row.StrikePrice,
			Symbol:     row.Symbol,
			Bid:        row.Bid,
			Ask:        row.Ask,
			LastPrice:  row.LTP,
		})
	}
	return contracts, nil
}

// Quote fetches the top of book for one symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (pricing.Quote, error) {
	q := url.Values{}
	q.Set("symbols", symbol)

	var resp QuotesResponse
	if err := c.get(ctx, "/data/quotes", q, &resp); err != nil {
		return pricing.Quote{}, err
	}
	if !resp.ok() {
		return pricing.Quote{}, fmt.Errorf("%w: quotes %s: %s", ErrAPI, symbol, resp.Message)
	}
	if len(resp.D) == 0 {
		return pricing.Quote{}, fmt.Errorf("%w: no quote returned for %s", ErrAPI, symbol)
	}
	return pricing.Quote{Bid: resp.D[0].V.Bid, Ask: resp.D[0].V.Ask}, nil
}
