package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fleet-trader/internal/models"
)

// SQLiteJournal keeps a local copy of every fill a worker submits.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens or creates the journal at path.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Workers and the exporter may share the file.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	_, err := j.db.Exec(`
	CREATE TABLE IF NOT EXISTS trade_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		bot TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trade_log_time ON trade_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trade_log_bot ON trade_log(bot, timestamp);
	`)
	return err
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Record inserts a fill.
func (j *SQLiteJournal) Record(ctx context.Context, e models.TradeLogEntry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trade_log (timestamp, bot, symbol, action, kind, price, quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.UTC(), e.Bot, e.Symbol, string(e.Action), e.Kind, e.Price, e.Quantity)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// Trades returns fills at or after since, oldest first.
func (j *SQLiteJournal) Trades(ctx context.Context, since time.Time) ([]models.TradeLogEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT timestamp, bot, symbol, action, kind, price, quantity
		FROM trade_log
		WHERE timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeLogEntry
	for rows.Next() {
		var e models.TradeLogEntry
		var action string
		if err := rows.Scan(&e.Timestamp, &e.Bot, &e.Symbol, &action, &e.Kind, &e.Price, &e.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		e.Action = models.TradeAction(action)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return out, nil
}
