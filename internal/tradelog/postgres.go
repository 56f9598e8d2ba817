package tradelog

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id            BIGSERIAL PRIMARY KEY,
    timestamp     TIMESTAMPTZ NOT NULL,
    symbol        TEXT NOT NULL,
    direction     TEXT NOT NULL,
    entry_price   DOUBLE PRECISION NOT NULL,
    sl            DOUBLE PRECISION NOT NULL,
    tp            DOUBLE PRECISION NOT NULL,
    lot           DOUBLE PRECISION NOT NULL,
    prediction    DOUBLE PRECISION NOT NULL,
    confidence    DOUBLE PRECISION NOT NULL,
    atr           DOUBLE PRECISION NOT NULL,
    balance       DOUBLE PRECISION NOT NULL,
    exit_price    DOUBLE PRECISION,
    exit_time     TIMESTAMPTZ,
    exit_reason   TEXT,
    pnl           DOUBLE PRECISION,
    ticket        BIGINT NOT NULL,
    model_version TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS trades_ticket_open_idx ON trades (ticket) WHERE exit_price IS NULL;
`

const selectColumns = `id, timestamp, symbol, direction, entry_price, sl, tp, lot, prediction, confidence,
	atr, balance, exit_price, exit_time, exit_reason, pnl, ticket, model_version`

type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgres connects through the pgx driver and makes sure the trades table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to trade log database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create trades table: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogEntry(ctx context.Context, e Entry) (int64, error) {
	query := `INSERT INTO trades (timestamp, symbol, direction, entry_price, sl, tp, lot, prediction,
		confidence, atr, balance, ticket, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	var id int64
	err := s.db.QueryRowxContext(ctx, query,
		e.Timestamp.UTC(),
		e.Symbol,
		string(e.Direction),
		e.EntryPrice,
		e.SL,
		e.TP,
		e.Lot,
		e.Prediction,
		e.Confidence,
		e.ATR,
		e.Balance,
		e.Ticket,
		e.ModelVersion,
	).Scan(&id)
	if err != nil {
		log.Error("Failed to insert trade entry", "symbol", e.Symbol, "ticket", e.Ticket, "error", err)
		return 0, fmt.Errorf("failed to log trade entry: %w", err)
	}

	log.Info("Logged trade entry", "id", id, "symbol", e.Symbol, "direction", e.Direction, "price", e.EntryPrice, "lot", e.Lot)
	return id, nil
}

func (s *PostgresStore) UpdateStop(ctx context.Context, ticket int64, sl float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trades SET sl = $1 WHERE ticket = $2 AND exit_price IS NULL`, sl, ticket)
	if err != nil {
		return fmt.Errorf("failed to update stop loss: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update stop loss: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	log.Info("Updated stop loss", "ticket", ticket, "sl", sl)
	return nil
}

func (s *PostgresStore) LogExit(ctx context.Context, x Exit) error {
	query := `UPDATE trades SET exit_price = $1, exit_time = $2, exit_reason = $3, pnl = $4
		WHERE ticket = $5 AND exit_price IS NULL`

	res, err := s.db.ExecContext(ctx, query, x.Price, x.Time.UTC(), x.Reason, x.PnL, x.Ticket)
	if err != nil {
		return fmt.Errorf("failed to log trade exit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to log trade exit: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	log.Info("Logged trade exit", "ticket", x.Ticket, "reason", x.Reason, "pnl", x.PnL)
	return nil
}

func (s *PostgresStore) OpenTrades(ctx context.Context) ([]Entry, error) {
	out := []Entry{}
	query := `SELECT ` + selectColumns + ` FROM trades WHERE exit_price IS NULL ORDER BY id`
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to load open trades: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RecentTrades(ctx context.Context, limit int, symbols []string) ([]Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM trades
		WHERE ($1::text[] IS NULL OR symbol = ANY($1))
		ORDER BY id DESC LIMIT $2`

	var filter any
	if len(symbols) > 0 {
		filter = pq.Array(symbols)
	}

	out := []Entry{}
	if err := s.db.SelectContext(ctx, &out, query, filter, limit); err != nil {
		return nil, fmt.Errorf("failed to load recent trades: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) All(ctx context.Context) ([]Entry, error) {
	out := []Entry{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+selectColumns+` FROM trades ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RollingMetrics(ctx context.Context, window int) (RollingMetrics, error) {
	var pnls []float64
	query := `SELECT pnl FROM trades WHERE pnl IS NOT NULL ORDER BY id DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &pnls, query, window); err != nil {
		return RollingMetrics{}, fmt.Errorf("failed to load closed trades: %w", err)
	}
	return Rolling(pnls), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
