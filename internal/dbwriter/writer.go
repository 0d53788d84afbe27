package dbwriter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/your-org/orb-options-bot/internal/config"
)

var tradeEventColumns = []string{
	"time", "trade_id", "event", "side", "origin_line", "option_symbol", "strike",
	"underlying_price", "option_price", "stop_loss", "commission", "net_pnl", "daily_pnl", "reason",
}

// Pool is an interface that abstracts the pgxpool.Pool for testability.
type Pool interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Close()
}

// TimescaleWriter はTimescaleDBへのジャーナル書き込みを担当します。
type TimescaleWriter struct {
	pool         Pool
	logger       *zap.Logger
	config       config.DBWriterConfig
	eventBuffer  []TradeEvent
	bufferMutex  sync.Mutex
	writeTimeout time.Duration
	flushTicker  *time.Ticker
	flushChan    chan struct{}
	shutdownChan chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
}

// NewTimescaleWriter は新しいTimescaleWriterインスタンスを作成します。
// このコンストラクタは、外部から提供されたDB接続プールを使用します。
func NewTimescaleWriter(pool Pool, writerConfig config.DBWriterConfig, logger *zap.Logger) (*TimescaleWriter, error) {
	if pool == nil {
		return nil, fmt.Errorf("timescale writer: pool is nil")
	}

	// Fallback for zero or invalid values
	if writerConfig.WriteIntervalSeconds <= 0 {
		logger.Warn("WriteIntervalSeconds is zero or negative, defaulting to 1s.", zap.Int("originalValue", writerConfig.WriteIntervalSeconds))
		writerConfig.WriteIntervalSeconds = 1
	}
	if writerConfig.BatchSize <= 0 {
		logger.Warn("BatchSize is zero or negative, defaulting to 100.", zap.Int("originalValue", writerConfig.BatchSize))
		writerConfig.BatchSize = 100
	}
	if writerConfig.WriteTimeoutSeconds <= 0 {
		writerConfig.WriteTimeoutSeconds = 5
	}

	writer := &TimescaleWriter{
		pool:         pool,
		logger:       logger,
		config:       writerConfig,
		eventBuffer:  make([]TradeEvent, 0, writerConfig.BatchSize),
		writeTimeout: time.Duration(writerConfig.WriteTimeoutSeconds) * time.Second,
		flushTicker:  time.NewTicker(time.Duration(writerConfig.WriteIntervalSeconds) * time.Second),
		flushChan:    make(chan struct{}, 1),
		shutdownChan: make(chan struct{}),
		done:         make(chan struct{}),
	}
	go writer.run()
	logger.Info("Started TimescaleDB journal writer",
		zap.Int("batchSize", writerConfig.BatchSize),
		zap.Int("writeIntervalSeconds", writerConfig.WriteIntervalSeconds))
	return writer, nil
}

// Close はバッファをフラッシュし、データベース接続プールをクローズします。
func (w *TimescaleWriter) Close() {
	w.closeOnce.Do(func() {
		w.logger.Info("Closing TimescaleDB writer...")
		close(w.shutdownChan)
		<-w.done
		w.flushTicker.Stop()

		// Final flush
		w.flush(context.Background())

		w.pool.Close()
		w.logger.Info("TimescaleDB connection pool closed")
	})
}

func (w *TimescaleWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.flushTicker.C:
			w.flush(context.Background())
		case <-w.flushChan:
			w.flush(context.Background())
		case <-w.shutdownChan:
			return
		}
	}
}

// SaveTradeEvent はトレードイベントをバッファに追加します。
// バッチが満杯になった場合の書き込みはバックグラウンドのgoroutineが行います。
func (w *TimescaleWriter) SaveTradeEvent(event TradeEvent) {
	w.bufferMutex.Lock()
	w.eventBuffer = append(w.eventBuffer, event)
	shouldFlush := len(w.eventBuffer) >= w.config.BatchSize
	w.bufferMutex.Unlock()

	if shouldFlush {
		select {
		case w.flushChan <- struct{}{}:
		default:
		}
	}
}

func (w *TimescaleWriter) flush(ctx context.Context) {
	w.bufferMutex.Lock()
	if len(w.eventBuffer) == 0 {
		w.bufferMutex.Unlock()
		return
	}
	events := w.eventBuffer
	w.eventBuffer = make([]TradeEvent, 0, w.config.BatchSize)
	w.bufferMutex.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	w.logger.Debug("Flushing trade events", zap.Int("count", len(events)))
	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"orb_trade_events"},
		tradeEventColumns,
		pgx.CopyFromRows(toTradeEventRows(events)),
	)
	if err != nil {
		w.logger.Error("Failed to batch insert trade events", zap.Error(err), zap.Int("dropped", len(events)))
	}
}

func toTradeEventRows(events []TradeEvent) [][]interface{} {
	rows := make([][]interface{}, len(events))
	for i, e := range events {
		rows[i] = []interface{}{
			e.Time, e.TradeID, e.Event, e.Side, e.OriginLine, e.OptionSymbol, e.Strike,
			e.UnderlyingPrice, e.OptionPrice, e.StopLoss, e.Commission, e.NetPnL, e.DailyPnL, e.Reason,
		}
	}
	return rows
}

// SaveLevels はセッションのORBレベルをデータベースに保存します。
func (w *TimescaleWriter) SaveLevels(ctx context.Context, levels LevelsRecord) error {
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	query := `INSERT INTO orb_levels (time, symbol, high_main, low_main, high_upper_buffer, high_lower_buffer,
	          low_upper_buffer, low_lower_buffer, buffer_points, candle_count)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := w.pool.Exec(ctx, query,
		levels.Time, levels.Symbol, levels.HighMain, levels.LowMain,
		levels.HighUpperBuffer, levels.HighLowerBuffer, levels.LowUpperBuffer, levels.LowLowerBuffer,
		levels.BufferPoints, levels.CandleCount,
	)
	if err != nil {
		w.logger.Error("Failed to insert ORB levels", zap.Error(err), zap.Any("levels", levels))
		return fmt.Errorf("failed to insert ORB levels: %w", err)
	}
	w.logger.Debug("Saved ORB levels to DB.")
	return nil
}
