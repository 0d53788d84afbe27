// Package fyers handles the REST market-data endpoints: history, options chain and quotes.
package fyers

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// envelope carries the status fields every response shares.
type envelope struct {
	Status  string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ok reports whether the API accepted the request.
func (e envelope) ok() bool {
	return e.Status == "ok"
}

// HistoryResponse is the /data/history payload. Each candle is
// [epoch seconds, open, high, low, close, volume].
type HistoryResponse struct {
	envelope
	Candles [][]json.Number `json:"candles"`
}

// OptionChainRow is one contract of the options chain. The index row has an empty option type.
type OptionChainRow struct {
	OptionType  string          `json:"option_type"`
	StrikePrice decimal.Decimal `json:"strike_price"`
	Symbol      string          `json:"symbol"`
	Bid         decimal.Decimal `json:"bid"`
	Ask         decimal.Decimal `json:"ask"`
	LTP         decimal.Decimal `json:"ltp"`
}

// OptionChainResponse is the /data/options-chain-v3 payload.
type OptionChainResponse struct {
	envelope
	Data struct {
		OptionsChain []OptionChainRow `json:"optionsChain"`
	} `json:"data"`
}

// QuoteValues holds the price fields of one quote.
type QuoteValues struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
	LTP decimal.Decimal `json:"lp"`
}

// QuotesResponse is the /data/quotes payload.
type QuotesResponse struct {
	envelope
	D []struct {
		N string      `json:"n"`
		S string      `json:"s"`
		V QuoteValues `json:"v"`
	} `json:"d"`
}
