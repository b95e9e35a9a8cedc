package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stofina-realtime/internal/errors"
	"stofina-realtime/internal/models"
)

// OrderRecord is one journaled submission attempt.
type OrderRecord struct {
	ClientOrderID string
	OrderID       string
	AccountID     string
	Symbol        string
	OrderType     models.OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	ScheduledTime string
	Status        string
	ErrorCode     string
	Message       string
	CreatedAt     time.Time
}

// Journal is a local SQLite record of submitted orders and observed trades.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database at dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(errors.ErrDatabaseError, err.Error())
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_order_id TEXT NOT NULL,
		order_id TEXT,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL,
		stop_price REAL,
		scheduled_time TEXT,
		status TEXT NOT NULL,
		error_code TEXT,
		message TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		side TEXT,
		executed_at DATETIME NOT NULL,
		UNIQUE(id, symbol, executed_at)
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, executed_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Ping checks that the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// RecordOrder appends a submission attempt.
func (j *Journal) RecordOrder(ctx context.Context, rec OrderRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO orders (client_order_id, order_id, account_id, symbol, order_type, quantity, price, stop_price, scheduled_time, status, error_code, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ClientOrderID, rec.OrderID, rec.AccountID, rec.Symbol, string(rec.OrderType), rec.Quantity, rec.Price, rec.StopPrice, rec.ScheduledTime, rec.Status, rec.ErrorCode, rec.Message, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record order: %w", err)
	}
	return nil
}

// RecentOrders returns up to limit orders, newest first.
func (j *Journal) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT client_order_id, COALESCE(order_id, ''), account_id, symbol, order_type, quantity,
			COALESCE(price, 0), COALESCE(stop_price, 0), COALESCE(scheduled_time, ''), status,
			COALESCE(error_code, ''), COALESCE(message, ''), created_at
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		var orderType string
		if err := rows.Scan(&rec.ClientOrderID, &rec.OrderID, &rec.AccountID, &rec.Symbol, &orderType, &rec.Quantity,
			&rec.Price, &rec.StopPrice, &rec.ScheduledTime, &rec.Status, &rec.ErrorCode, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		rec.OrderType = models.OrderType(orderType)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordTrade stores an executed trade. Replays of the same trade are ignored.
func (j *Journal) RecordTrade(ctx context.Context, trade models.TradeEvent) error {
	executed := trade.Timestamp
	if executed.IsZero() {
		executed = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (id, symbol, price, quantity, side, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, trade.ID, NormalizeSymbol(trade.Symbol), trade.Price, trade.Quantity, string(trade.Side), executed.UTC())
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to limit trades for symbol, newest first.
func (j *Journal) RecentTrades(ctx context.Context, symbol string, limit int) ([]models.TradeEvent, error) {
	if limit <= 0 {
		limit = DefaultMaxTrades
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, symbol, price, quantity, COALESCE(side, ''), executed_at
		FROM trades
		WHERE symbol = ?
		ORDER BY executed_at DESC
		LIMIT ?
	`, NormalizeSymbol(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeEvent
	for rows.Next() {
		var t models.TradeEvent
		var side string
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Price, &t.Quantity, &side, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = models.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}
