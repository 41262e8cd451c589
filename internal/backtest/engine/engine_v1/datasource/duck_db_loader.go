package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
)

// Column aliases accepted for the date and ticker columns. The second entries match files produced
// by the argo market data downloader.
var (
	dateColumns   = []string{"date", "time"}
	tickerColumns = []string{"ticker", "symbol"}
)

// LoadOptions controls which bars a DuckDBLoader reads.
type LoadOptions struct {
	// Path is a parquet or CSV file. Glob patterns are passed through to DuckDB.
	Path string
	// Range restricts the loaded bars. Bars before the range are still needed for volume lookback,
	// so callers usually widen it.
	Range optional.Option[types.DateRange]
	// DefaultRegion is used when the file has no region column.
	DefaultRegion string
	// DefaultCurrency is used when the file has no currency column.
	DefaultCurrency string
}

// DuckDBLoader reads daily bars from parquet or CSV files with an in-memory DuckDB and turns them into an
// InMemoryPriceProvider. The database is only used while loading; runs never query it.
type DuckDBLoader struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewDuckDBLoader opens an in-memory DuckDB database.
func NewDuckDBLoader(log *logger.Logger) (*DuckDBLoader, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open DuckDB", err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &DuckDBLoader{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Load reads the file described by opts into a price provider.
func (l *DuckDBLoader) Load(ctx context.Context, opts LoadOptions) (*InMemoryPriceProvider, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "data path is required")
	}

	l.logger.Debug("Loading market data", zap.String("path", opts.Path))

	if err := l.createViews(ctx, opts); err != nil {
		return nil, err
	}

	query := l.sq.Select("date", "ticker", "region", "currency", "open", "high", "low", "close", "volume").
		From("market_data").
		OrderBy("date ASC", "region ASC", "ticker ASC")

	if opts.Range.IsSome() {
		dateRange := opts.Range.Unwrap()
		query = query.Where(squirrel.And{
			squirrel.GtOrEq{"date": dateRange.Start},
			squirrel.Lt{"date": dateRange.End},
		})
	}

	sqlQuery, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build market data query", err)
	}

	rows, err := l.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query market data", err)
	}
	defer rows.Close()

	bars := make([]types.OHLCV, 0, 1024)
	dropped := 0

	for rows.Next() {
		var (
			date                           time.Time
			ticker, region, currency       string
			open, high, low, close, volume float64
		)

		if err := rows.Scan(&date, &ticker, &region, &currency, &open, &high, &low, &close, &volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan market data row", err)
		}

		bar := types.OHLCV{
			Ticker:   ticker,
			Region:   region,
			Currency: currency,
			Date:     types.TruncateToDay(date),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   volume,
		}

		if err := bar.Validate(); err != nil {
			dropped++

			l.logger.Warn("Dropping invalid market data row",
				zap.String("path", opts.Path),
				zap.String("ticker", ticker),
				zap.String("region", region),
				zap.String("date", bar.Date.Format(types.DateLayout)),
				zap.Error(err),
			)

			continue
		}

		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating market data rows", err)
	}

	if len(bars) == 0 {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "no market data found in %s", opts.Path)
	}

	l.logger.Info("Market data loaded",
		zap.String("path", opts.Path),
		zap.Int("bars", len(bars)),
		zap.Int("dropped", dropped),
	)

	return NewInMemoryPriceProvider(bars), nil
}

// Close releases the database.
func (l *DuckDBLoader) Close() error {
	return l.db.Close()
}

func (l *DuckDBLoader) createViews(ctx context.Context, opts LoadOptions) error {
	reader, err := readerFunction(opts.Path)
	if err != nil {
		return err
	}

	if _, err := l.db.ExecContext(ctx, `DROP VIEW IF EXISTS market_data; DROP VIEW IF EXISTS raw_market_data;`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to drop existing views", err)
	}

	// squirrel doesn't support CREATE VIEW
	rawQuery := fmt.Sprintf(`CREATE VIEW raw_market_data AS SELECT * FROM %s(%s);`,
		reader, utils.QuoteLiteral(opts.Path))
	if _, err := l.db.ExecContext(ctx, rawQuery); err != nil {
		return errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to read %s", opts.Path)
	}

	columns, err := l.columns(ctx)
	if err != nil {
		return err
	}

	dateColumn, ok := firstPresent(columns, dateColumns)
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidParameter, "%s has no date column (expected one of %v)", opts.Path, dateColumns)
	}

	tickerColumn, ok := firstPresent(columns, tickerColumns)
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidParameter, "%s has no ticker column (expected one of %v)", opts.Path, tickerColumns)
	}

	for _, required := range []string{"open", "high", "low", "close", "volume"} {
		if _, ok := columns[required]; !ok {
			return errors.Newf(errors.ErrCodeInvalidParameter, "%s has no %s column", opts.Path, required)
		}
	}

	regionExpr := utils.QuoteLiteral(opts.DefaultRegion)
	if _, ok := columns["region"]; ok {
		regionExpr = "CAST(region AS VARCHAR)"
	}

	currencyExpr := utils.QuoteLiteral(opts.DefaultCurrency)
	if _, ok := columns["currency"]; ok {
		currencyExpr = "CAST(currency AS VARCHAR)"
	}

	viewQuery := fmt.Sprintf(`
		CREATE VIEW market_data AS
		SELECT
			CAST(%s AS TIMESTAMP) AS date,
			CAST(%s AS VARCHAR) AS ticker,
			%s AS region,
			%s AS currency,
			CAST(open AS DOUBLE) AS open,
			CAST(high AS DOUBLE) AS high,
			CAST(low AS DOUBLE) AS low,
			CAST(close AS DOUBLE) AS close,
			CAST(volume AS DOUBLE) AS volume
		FROM raw_market_data;
	`, dateColumn, tickerColumn, regionExpr, currencyExpr)

	if _, err := l.db.ExecContext(ctx, viewQuery); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create market data view", err)
	}

	return nil
}

func (l *DuckDBLoader) columns(ctx context.Context) (map[string]struct{}, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT column_name FROM (DESCRIBE raw_market_data)`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to describe market data", err)
	}
	defer rows.Close()

	columns := make(map[string]struct{})

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan column name", err)
		}

		columns[strings.ToLower(name)] = struct{}{}
	}

	return columns, rows.Err()
}

func readerFunction(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "read_parquet", nil
	case ".csv":
		return "read_csv_auto", nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported market data file %s (expected .parquet or .csv)", path)
	}
}

func firstPresent(columns map[string]struct{}, candidates []string) (string, bool) {
	for _, candidate := range candidates {
		if _, ok := columns[candidate]; ok {
			return candidate, true
		}
	}

	return "", false
}
