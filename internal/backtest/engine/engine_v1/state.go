package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/internal/version"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
)

// Result file names written by BacktestState.Write.
const (
	TradesFileName  = "trades.parquet"
	EquityFileName  = "equity.parquet"
	EventsFileName  = "events.parquet"
	MetricsFileName = "metrics.yaml"
)

var _ engine.PersistenceSink = (*BacktestState)(nil)

// BacktestState persists the output of one run in an in-memory DuckDB database and exports it
// to a results folder. It implements engine.PersistenceSink.
type BacktestState struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType

	metrics optional.Option[types.Metrics]
	summary types.RunSummary
}

// RunInfo labels the exported metrics report.
type RunInfo struct {
	ID          string
	Strategy    string
	CostProfile string
	Range       types.DateRange
}

func NewBacktestState(logger *logger.Logger) (*BacktestState, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		logger.Error("Failed to open database", zap.Error(err))

		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open state database", err)
	}

	return &BacktestState{
		logger:  logger,
		db:      db,
		sq:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		metrics: optional.None[types.Metrics](),
		summary: types.RunSummary{},
	}, nil
}

// Initialize creates the tables of a run.
func (b *BacktestState) Initialize() error {
	_, err := b.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS trade_seq;
		CREATE TABLE IF NOT EXISTS trades (
			seq BIGINT DEFAULT nextval('trade_seq'),
			id TEXT PRIMARY KEY,
			ticker TEXT,
			region TEXT,
			side TEXT,
			date TIMESTAMP,
			time_of_day TEXT,
			price DOUBLE,
			shares BIGINT,
			commission DOUBLE,
			slippage DOUBLE,
			market_impact DOUBLE,
			total_cost DOUBLE,
			realized_pnl DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to create trades table", err)
	}

	_, err = b.db.Exec(`
		CREATE TABLE IF NOT EXISTS equity_curve (
			date TIMESTAMP PRIMARY KEY,
			cash DOUBLE,
			positions_value DOUBLE,
			total_equity DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to create equity_curve table", err)
	}

	_, err = b.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS run_event_seq;
		CREATE TABLE IF NOT EXISTS run_events (
			seq BIGINT DEFAULT nextval('run_event_seq'),
			date TIMESTAMP,
			level TEXT,
			code TEXT,
			ticker TEXT,
			message TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to create run_events table", err)
	}

	return nil
}

// AppendTrade implements engine.PersistenceSink.
func (b *BacktestState) AppendTrade(trade types.Trade) error {
	_, err := b.sq.
		Insert("trades").
		Columns(
			"id", "ticker", "region", "side", "date", "time_of_day", "price", "shares",
			"commission", "slippage", "market_impact", "total_cost", "realized_pnl",
		).
		Values(
			trade.ID, trade.Ticker, trade.Region, string(trade.Side), trade.Date, string(trade.TimeOfDay),
			trade.Price, trade.Shares, trade.Commission, trade.Slippage, trade.MarketImpact,
			trade.TotalCost, trade.RealizedPnL,
		).
		RunWith(b.db).
		Exec()
	if err != nil {
		return errors.Wrapf(errors.ErrCodePersistenceFailed, err, "failed to insert trade %s", trade.ID)
	}

	return nil
}

// AppendEquityPoint implements engine.PersistenceSink.
func (b *BacktestState) AppendEquityPoint(point types.EquityPoint) error {
	_, err := b.sq.
		Insert("equity_curve").
		Columns("date", "cash", "positions_value", "total_equity").
		Values(point.Date, point.Cash, point.PositionsValue, point.TotalEquity).
		RunWith(b.db).
		Exec()
	if err != nil {
		return errors.Wrapf(errors.ErrCodePersistenceFailed, err, "failed to insert equity point for %s",
			point.Date.Format(types.DateLayout))
	}

	return nil
}

// AppendEvent implements engine.PersistenceSink.
func (b *BacktestState) AppendEvent(event types.RunEvent) error {
	_, err := b.sq.
		Insert("run_events").
		Columns("date", "level", "code", "ticker", "message").
		Values(event.Date, string(event.Level), event.Code, event.Ticker, event.Message).
		RunWith(b.db).
		Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to insert run event", err)
	}

	return nil
}

// SaveMetrics implements engine.PersistenceSink.
func (b *BacktestState) SaveMetrics(metrics types.Metrics, summary types.RunSummary) error {
	b.metrics = optional.Some(metrics)
	b.summary = summary

	return nil
}

// Metrics returns the saved metrics, if the run has been finalized.
func (b *BacktestState) Metrics() optional.Option[types.Metrics] {
	return b.metrics
}

// GetAllTrades returns the persisted trades in insertion order.
func (b *BacktestState) GetAllTrades() ([]types.Trade, error) {
	rows, err := b.sq.
		Select(
			"id", "ticker", "region", "side", "date", "time_of_day", "price", "shares",
			"commission", "slippage", "market_impact", "total_cost", "realized_pnl",
		).
		From("trades").
		OrderBy("seq ASC").
		RunWith(b.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var trade types.Trade

		err := rows.Scan(
			&trade.ID,
			&trade.Ticker,
			&trade.Region,
			&trade.Side,
			&trade.Date,
			&trade.TimeOfDay,
			&trade.Price,
			&trade.Shares,
			&trade.Commission,
			&trade.Slippage,
			&trade.MarketImpact,
			&trade.TotalCost,
			&trade.RealizedPnL,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade", err)
		}

		trade.Date = trade.Date.UTC()
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating trades", err)
	}

	return trades, nil
}

// GetEquityCurve returns the persisted equity curve ordered by date.
func (b *BacktestState) GetEquityCurve() ([]types.EquityPoint, error) {
	rows, err := b.sq.
		Select("date", "cash", "positions_value", "total_equity").
		From("equity_curve").
		OrderBy("date ASC").
		RunWith(b.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query equity curve", err)
	}
	defer rows.Close()

	var curve []types.EquityPoint

	for rows.Next() {
		var point types.EquityPoint
		if err := rows.Scan(&point.Date, &point.Cash, &point.PositionsValue, &point.TotalEquity); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan equity point", err)
		}

		point.Date = point.Date.UTC()
		curve = append(curve, point)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating equity curve", err)
	}

	return curve, nil
}

// GetEvents returns the persisted run events, optionally filtered by level.
func (b *BacktestState) GetEvents(level optional.Option[types.LogLevel]) ([]types.RunEvent, error) {
	query := b.sq.
		Select("date", "level", "code", "ticker", "message").
		From("run_events").
		OrderBy("seq ASC")

	if level.IsSome() {
		query = query.Where(squirrel.Eq{"level": string(level.Unwrap())})
	}

	rows, err := query.RunWith(b.db).Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query run events", err)
	}
	defer rows.Close()

	var events []types.RunEvent

	for rows.Next() {
		var event types.RunEvent
		if err := rows.Scan(&event.Date, &event.Level, &event.Code, &event.Ticker, &event.Message); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan run event", err)
		}

		event.Date = event.Date.UTC()
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating run events", err)
	}

	return events, nil
}

// Cleanup drops every table and recreates them empty.
func (b *BacktestState) Cleanup() error {
	// Use raw SQL for dropping tables - Squirrel doesn't have DROP syntax
	_, err := b.db.Exec(`
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS equity_curve;
		DROP TABLE IF EXISTS run_events;
		DROP SEQUENCE IF EXISTS run_event_seq;
		DROP SEQUENCE IF EXISTS trade_seq;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to cleanup tables", err)
	}

	b.metrics = optional.None[types.Metrics]()
	b.summary = types.RunSummary{}

	return b.Initialize()
}

// Close releases the database.
func (b *BacktestState) Close() error {
	return b.db.Close()
}

// Write exports the run into path: trades, equity curve and events as Parquet, metrics as YAML.
func (b *BacktestState) Write(path string, info RunInfo) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	exports := []struct {
		table string
		file  string
		order string
	}{
		{"trades", TradesFileName, "seq"},
		{"equity_curve", EquityFileName, "date"},
		{"run_events", EventsFileName, "seq"},
	}

	for _, export := range exports {
		target := filepath.Join(path, export.file)

		// Squirrel doesn't support COPY
		_, err := b.db.Exec(fmt.Sprintf(`COPY (SELECT * FROM %s ORDER BY %s) TO %s (FORMAT PARQUET)`,
			export.table, export.order, utils.QuoteLiteral(target)))
		if err != nil {
			return errors.Wrapf(errors.ErrCodePersistenceFailed, err, "failed to export %s to Parquet", export.table)
		}
	}

	if b.metrics.IsSome() {
		report := b.metrics.Unwrap().Report()
		report.ID = info.ID
		report.EngineVersion = version.GetVersion()
		report.Strategy = info.Strategy
		report.CostProfile = info.CostProfile
		report.Start = info.Range.Start.Format(types.DateLayout)
		report.End = info.Range.End.Format(types.DateLayout)
		report.Summary = b.summary

		if err := types.WriteMetricsReport(filepath.Join(path, MetricsFileName), report); err != nil {
			return errors.Wrap(errors.ErrCodePersistenceFailed, "failed to write metrics report", err)
		}
	}

	b.logger.Info("Successfully exported backtest results",
		zap.String("path", path),
		zap.Bool("metrics", b.metrics.IsSome()),
	)

	return nil
}
