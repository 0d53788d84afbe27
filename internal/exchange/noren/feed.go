// Package noren handles the market-data websocket of Noren-based brokers.
package noren

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/your-org/orb-options-bot/internal/engine"
	"github.com/your-org/orb-options-bot/pkg/logger"
)

// ErrLoginRejected is returned when the server does not acknowledge the connect message.
var ErrLoginRejected = errors.New("websocket login rejected")

// Config holds the feed connection settings.
type Config struct {
	URL             string
	UserID          string
	AccountID       string
	SessionToken    string
	SubscriptionKey string // e.g. "NSE|26000"
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

type connectMessage struct {
	Type         string `json:"t"`
	UserID       string `json:"uid"`
	AccountID    string `json:"actid"`
	SessionToken string `json:"susertoken"`
	Source       string `json:"source"`
}

type subscribeMessage struct {
	Type string `json:"t"`
	Key  string `json:"k"`
}

// message is the subset of feed fields the engine reads.
type message struct {
	Type      string      `json:"t"`
	Status    string      `json:"s"`
	Token     string      `json:"tk"`
	LastPrice json.Number `json:"lp"`
	FeedTime  json.Number `json:"ft"`
}

// Feed streams depth updates for one instrument.
type Feed struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewFeed creates a Feed, filling in default timings.
func NewFeed(cfg Config) *Feed {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Feed{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Run connects, logs in, subscribes and passes every price message to handle
// until ctx is cancelled. Lost connections are redialled with exponential backoff.
// handle is called from a single goroutine.
func (f *Feed) Run(ctx context.Context, handle func(engine.Tick)) error {
	backoff := f.cfg.InitialBackoff
	for {
		streamed, err := f.session(ctx, handle)
		if ctx.Err() != nil {
			logger.Info("Feed stopped.")
			return nil
		}
		if streamed {
			backoff = f.cfg.InitialBackoff
		}
		logger.Errorf("Feed connection lost: %v. Reconnecting in %v...", err, backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.cfg.MaxBackoff {
			backoff = f.cfg.MaxBackoff
		}
	}
}

// session runs one connection until it fails. streamed reports whether the
// subscription was established.
func (f *Feed) session(ctx context.Context, handle func(engine.Tick)) (streamed bool, err error) {
	logger.Infof("Attempting to connect to %s", f.cfg.URL)
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	if err := f.login(conn); err != nil {
		return false, err
	}
	logger.Infof("Subscribing to %s", f.cfg.SubscriptionKey)
	if err := conn.WriteJSON(subscribeMessage{Type: "d", Key: f.cfg.SubscriptionKey}); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", f.cfg.SubscriptionKey, err)
	}

	conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})
	go f.ping(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("Error unmarshalling feed message: %v. Original message: %s", err, raw)
			continue
		}
		if msg.Type == "ck" {
			continue
		}
		handle(toTick(msg))
	}
}

func (f *Feed) login(conn *websocket.Conn) error {
	if err := conn.WriteJSON(connectMessage{
		Type:         "c",
		UserID:       f.cfg.UserID,
		AccountID:    f.cfg.AccountID,
		SessionToken: f.cfg.SessionToken,
		Source:       "API",
	}); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	var ack message
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("read connect ack: %w", err)
	}
	if ack.Type != "ck" || ack.Status != "OK" {
		return fmt.Errorf("%w: t=%q s=%q", ErrLoginRejected, ack.Type, ack.Status)
	}
	logger.Infof("Successfully connected to %s", f.cfg.URL)
	return nil
}

func (f *Feed) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				logger.Errorf("Ping error: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// toTick converts a feed message. Missing or unparsable price and time fields
// stay zero, which the engine treats as malformed.
func toTick(msg message) engine.Tick {
	tick := engine.Tick{MessageType: msg.Type, InstrumentKey: msg.Token}
	if msg.LastPrice != "" {
		if p, err := decimal.NewFromString(msg.LastPrice.String()); err == nil {
			tick.Price = p
		}
	}
	if msg.FeedTime != "" {
		if sec, err := strconv.ParseInt(msg.FeedTime.String(), 10, 64); err == nil && sec > 0 {
			tick.Timestamp = time.Unix(sec, 0)
		}
	}
	return tick
}
