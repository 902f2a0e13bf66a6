package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/metarpc/terminal-sdk/logging"
	"github.com/metarpc/terminal-sdk/model"
)

// SQLiteStorage is the optional disk-backed Storage variant (spec §6:
// "Persisted state: none by default. A disk-backed history storage
// variant (optional collaborator) must implement the §4.D contract.").
type SQLiteStorage struct {
	db     *sql.DB
	logger logging.Logger
}

// SQLiteConfig configures a disk-backed history store.
type SQLiteConfig struct {
	DBPath string
	Logger logging.Logger
}

// NewSQLiteStorage opens (creating if necessary) a WAL-mode SQLite database
// at cfg.DBPath and ensures its schema exists.
func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOp()
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/terminal_history.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history data directory %q: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database %q: %w", dbPath, err)
	}

	// SQLite serializes writers internally; a single connection avoids
	// SQLITE_BUSY churn under the Go driver's own pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStorage{db: db, logger: logger}
	if err := s.initializeSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	logger.Info(context.Background(), "sqlite history storage ready", map[string]any{"path": dbPath})
	return s, nil
}

func (s *SQLiteStorage) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS history_orders (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		done_time_unix_nano INTEGER NOT NULL,
		fields_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_orders_done_time ON history_orders(done_time_unix_nano);

	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		done_time_unix_nano INTEGER NOT NULL,
		fields_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deals_done_time ON deals(done_time_unix_nano);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStorage) OnHistoryOrderAdded(ctx context.Context, order model.HistoryOrder) error {
	fieldsJSON, err := json.Marshal(order.Fields)
	if err != nil {
		return fmt.Errorf("marshal history order fields: %w", err)
	}

	// Merge-by-id: last write wins on mutable fields, earliest doneTime
	// wins (spec §3). ON CONFLICT preserves the stored done_time when it
	// predates the incoming one.
	const query = `
	INSERT INTO history_orders (id, symbol, done_time_unix_nano, fields_json)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		symbol = excluded.symbol,
		fields_json = excluded.fields_json,
		done_time_unix_nano = MIN(history_orders.done_time_unix_nano, excluded.done_time_unix_nano)`

	_, err = s.db.ExecContext(ctx, query, order.ID, order.Symbol, order.DoneTime.UnixNano(), string(fieldsJSON))
	if err != nil {
		return fmt.Errorf("upsert history order %s: %w", order.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) OnDealAdded(ctx context.Context, deal model.Deal) error {
	fieldsJSON, err := json.Marshal(deal.Fields)
	if err != nil {
		return fmt.Errorf("marshal deal fields: %w", err)
	}

	const query = `
	INSERT INTO deals (id, symbol, done_time_unix_nano, fields_json)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		symbol = excluded.symbol,
		fields_json = excluded.fields_json,
		done_time_unix_nano = MIN(deals.done_time_unix_nano, excluded.done_time_unix_nano)`

	_, err = s.db.ExecContext(ctx, query, deal.ID, deal.Symbol, deal.DoneTime.UnixNano(), string(fieldsJSON))
	if err != nil {
		return fmt.Errorf("upsert deal %s: %w", deal.ID, err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanHistoryOrder(sc scanner) (model.HistoryOrder, error) {
	var o model.HistoryOrder
	var doneTimeNano int64
	var fieldsJSON string
	if err := sc.Scan(&o.ID, &o.Symbol, &doneTimeNano, &fieldsJSON); err != nil {
		return model.HistoryOrder{}, err
	}
	o.DoneTime = time.Unix(0, doneTimeNano).UTC()
	_ = json.Unmarshal([]byte(fieldsJSON), &o.Fields)
	return o, nil
}

func scanDeal(sc scanner) (model.Deal, error) {
	var d model.Deal
	var doneTimeNano int64
	var fieldsJSON string
	if err := sc.Scan(&d.ID, &d.Symbol, &doneTimeNano, &fieldsJSON); err != nil {
		return model.Deal{}, err
	}
	d.DoneTime = time.Unix(0, doneTimeNano).UTC()
	_ = json.Unmarshal([]byte(fieldsJSON), &d.Fields)
	return d, nil
}

func (s *SQLiteStorage) HistoryOrders(ctx context.Context) ([]model.HistoryOrder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, done_time_unix_nano, fields_json FROM history_orders ORDER BY done_time_unix_nano, id`)
	if err != nil {
		return nil, fmt.Errorf("query history orders: %w", err)
	}
	defer rows.Close()

	out := make([]model.HistoryOrder, 0)
	for rows.Next() {
		o, err := scanHistoryOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Deals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, done_time_unix_nano, fields_json FROM deals ORDER BY done_time_unix_nano, id`)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	out := make([]model.Deal, 0)
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) LastHistoryOrderTime(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(done_time_unix_nano) FROM history_orders`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("query last history order time: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Int64, nil
}

func (s *SQLiteStorage) LastDealTime(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(done_time_unix_nano) FROM deals`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("query last deal time: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Int64, nil
}

func (s *SQLiteStorage) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history_orders`); err != nil {
		return fmt.Errorf("reset history orders: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deals`); err != nil {
		return fmt.Errorf("reset deals: %w", err)
	}
	return nil
}

// UpdateStorage is a no-op: every write above already commits immediately.
// It exists to satisfy Storage for callers that buffer writes elsewhere.
func (s *SQLiteStorage) UpdateStorage(_ context.Context) error { return nil }

func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info(context.Background(), "closing sqlite history storage", nil)
	return s.db.Close()
}
