// Package store persists the greeting ledger in a SQL database. SQLite
// (modernc.org/sqlite) and PostgreSQL (lib/pq) are supported through the same
// queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/luca-patrignani/greetme/ledger"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

// SQLStore implements ledger.Store on top of database/sql.
type SQLStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_state (
	id INTEGER PRIMARY KEY,
	prize_amount TEXT NOT NULL,
	initial_balance TEXT NOT NULL,
	cooldown_ns BIGINT NOT NULL,
	win_percent INTEGER NOT NULL,
	config_seed TEXT NOT NULL,
	balance TEXT NOT NULL,
	seed TEXT NOT NULL,
	last_reward_at BIGINT
);
CREATE TABLE IF NOT EXISTS greetings (
	id BIGINT PRIMARY KEY,
	author TEXT NOT NULL,
	nonce TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS greetings_author_idx ON greetings (author);
CREATE UNIQUE INDEX IF NOT EXISTS greetings_author_nonce_idx ON greetings (author, nonce) WHERE nonce <> '';
CREATE TABLE IF NOT EXISTS payouts (
	greeting_id BIGINT PRIMARY KEY REFERENCES greetings (id),
	winner TEXT NOT NULL,
	amount TEXT NOT NULL,
	paid_at BIGINT NOT NULL
);
`

// Open connects to dsn with the given driver and migrates the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer at a time.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", driver, err)
	}
	s := NewSQLStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already opened database. Call Migrate before use.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Init writes the header of a new ledger. It fails if a ledger already exists.
func (s *SQLStore) Init(ctx context.Context, cfg ledger.RewardConfig, st *ledger.State) error {
	query := `
		INSERT INTO ledger_state (id, prize_amount, initial_balance, cooldown_ns, win_percent, config_seed, balance, seed, last_reward_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		cfg.PrizeAmount.String(),
		cfg.InitialBalance.String(),
		int64(cfg.CooldownPeriod),
		int64(cfg.WinProbabilityPercent),
		strconv.FormatUint(cfg.Seed, 10),
		st.Balance.String(),
		strconv.FormatUint(st.Seed, 10),
		nullTime(st.LastRewardTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger state: %w", err)
	}
	return nil
}

// Commit persists a single submission in one transaction.
func (s *SQLStore) Commit(ctx context.Context, c ledger.Commit) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	g := c.Greeting
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO greetings (id, author, nonce, text, created_at, prev_hash, hash) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		int64(g.ID), g.Author, g.Nonce, g.Text, g.Timestamp.Unix(), g.PrevHash, g.Hash,
	); err != nil {
		return fmt.Errorf("failed to insert greeting %d: %w", g.ID, err)
	}

	if p := c.Payout; p != nil {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO payouts (greeting_id, winner, amount, paid_at) VALUES ($1, $2, $3, $4)`,
			int64(p.GreetingID), p.Winner, p.Amount.String(), p.Time.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert payout for greeting %d: %w", p.GreetingID, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE ledger_state SET balance = $1, seed = $2, last_reward_at = $3 WHERE id = 1`,
		c.Balance.String(), strconv.FormatUint(c.Seed, 10), nullTime(c.LastRewardTime),
	)
	if err != nil {
		return fmt.Errorf("failed to update ledger state: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		err = errors.New("ledger state missing, store not initialized")
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reads the whole ledger back. It returns nil when no ledger was ever
// initialized.
func (s *SQLStore) Load(ctx context.Context) (*ledger.Persisted, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT prize_amount, initial_balance, cooldown_ns, win_percent, config_seed, balance, seed, last_reward_at
		FROM ledger_state WHERE id = 1
	`)
	var (
		prize, initial, cfgSeed, balance, seed string
		cooldown, percent                      int64
		lastReward                             sql.NullInt64
	)
	if err := row.Scan(&prize, &initial, &cooldown, &percent, &cfgSeed, &balance, &seed, &lastReward); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger state: %w", err)
	}

	var cfg ledger.RewardConfig
	var st ledger.State
	var err error
	if cfg.PrizeAmount, err = decimal.NewFromString(prize); err != nil {
		return nil, fmt.Errorf("malformed prize amount %q: %w", prize, err)
	}
	if cfg.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return nil, fmt.Errorf("malformed initial balance %q: %w", initial, err)
	}
	if cfg.Seed, err = strconv.ParseUint(cfgSeed, 10, 64); err != nil {
		return nil, fmt.Errorf("malformed config seed %q: %w", cfgSeed, err)
	}
	if st.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("malformed balance %q: %w", balance, err)
	}
	if st.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("malformed seed %q: %w", seed, err)
	}
	cfg.CooldownPeriod = time.Duration(cooldown)
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("malformed win percent %d", percent)
	}
	cfg.WinProbabilityPercent = uint8(percent)
	if lastReward.Valid {
		st.LastRewardTime = time.Unix(lastReward.Int64, 0).UTC()
	}

	if st.Records, err = s.loadGreetings(ctx); err != nil {
		return nil, err
	}
	if st.Payouts, err = s.loadPayouts(ctx); err != nil {
		return nil, err
	}
	return &ledger.Persisted{Config: cfg, State: &st}, nil
}

func (s *SQLStore) loadGreetings(ctx context.Context) ([]ledger.Greeting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, author, nonce, text, created_at, prev_hash, hash FROM greetings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query greetings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]ledger.Greeting, 0)
	for rows.Next() {
		var (
			g      ledger.Greeting
			id, ts int64
		)
		if err := rows.Scan(&id, &g.Author, &g.Nonce, &g.Text, &ts, &g.PrevHash, &g.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan greeting: %w", err)
		}
		g.ID = uint64(id)
		g.Timestamp = time.Unix(ts, 0).UTC()
		records = append(records, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLStore) loadPayouts(ctx context.Context) ([]ledger.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT greeting_id, winner, amount, paid_at FROM payouts ORDER BY greeting_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	payouts := make([]ledger.Payout, 0)
	for rows.Next() {
		var (
			p          ledger.Payout
			id, paidAt int64
			amount     string
		)
		if err := rows.Scan(&id, &p.Winner, &amount, &paidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("malformed payout amount %q: %w", amount, err)
		}
		p.GreetingID = uint64(id)
		p.Time = time.Unix(paidAt, 0).UTC()
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payouts, nil
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
