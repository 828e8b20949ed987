package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"loyaltykit/core"
)

// Driver names a supported SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds database connection settings.
type Config struct {
	Driver          Driver        `json:"driver" yaml:"driver" env:"LOYALTYKIT_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" yaml:"dsn" env:"LOYALTYKIT_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"LOYALTYKIT_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store persists vectors in the loyalty_vectors table. AtomicUpdate takes a row
// lock with SELECT ... FOR UPDATE so concurrent actions on one user serialize.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens and pings the database.
func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, core.E(core.KindConfiguration, "sql open", "unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, core.E(core.KindConfiguration, "sql open", "dsn is required")
	}
	dsn, err := NormalizeDSN(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, core.Wrap(core.KindConfiguration, "sql open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, core.Wrap(core.KindTransient, "sql ping", fmt.Errorf("failed to connect to database: %w", err))
	}
	return &Store{db: db, driver: cfg.Driver}, nil
}

// NormalizeDSN forces parseTime on MySQL DSNs so DATETIME columns scan into
// time.Time. Postgres DSNs pass through unchanged.
func NormalizeDSN(driver Driver, dsn string) (string, error) {
	if driver != DriverMySQL {
		return dsn, nil
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", core.Wrap(core.KindConfiguration, "sql open", err)
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// DB exposes the handle so the perk catalog can share the pool.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify("ensure schema", err)
		}
	}
	return nil
}

func schema(d Driver) []string {
	tsType := "TIMESTAMPTZ"
	boolType := "BOOLEAN"
	if d == DriverMySQL {
		tsType = "DATETIME(6)"
		boolType = "TINYINT(1)"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS loyalty_vectors (
			user_id VARCHAR(128) PRIMARY KEY,
			points BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
			activity_count BIGINT NOT NULL DEFAULT 0 CHECK (activity_count >= 0),
			cumulative_spend NUMERIC(38,6) NOT NULL DEFAULT 0 CHECK (cumulative_spend >= 0),
			categorical_tier VARCHAR(32) NOT NULL DEFAULT 'standard',
			derived_level INT NOT NULL DEFAULT 0,
			last_updated ` + tsType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS perks (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			is_active ` + boolType + ` NOT NULL DEFAULT TRUE,
			brand_id VARCHAR(64),
			unlock_condition TEXT
		)`,
	}
}

const vectorColumns = `user_id, points, activity_count, cumulative_spend, categorical_tier, derived_level, last_updated`

type vectorRow struct {
	UserID          string          `db:"user_id"`
	Points          int64           `db:"points"`
	ActivityCount   int64           `db:"activity_count"`
	CumulativeSpend decimal.Decimal `db:"cumulative_spend"`
	CategoricalTier string          `db:"categorical_tier"`
	DerivedLevel    int             `db:"derived_level"`
	LastUpdated     time.Time       `db:"last_updated"`
}

func (r vectorRow) vector() core.AttributeVector {
	return core.AttributeVector{
		UserID:          core.UserID(r.UserID),
		Points:          r.Points,
		ActivityCount:   r.ActivityCount,
		CumulativeSpend: r.CumulativeSpend,
		CategoricalTier: core.CategoricalTier(r.CategoricalTier),
		DerivedLevel:    r.DerivedLevel,
		LastUpdated:     r.LastUpdated.UTC(),
	}
}

func (s *Store) Create(ctx context.Context, v core.AttributeVector) error {
	if err := v.Validate(); err != nil {
		return err
	}
	q := s.db.Rebind(`INSERT INTO loyalty_vectors (` + vectorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, string(v.UserID), v.Points, v.ActivityCount, v.CumulativeSpend,
		string(v.CategoricalTier), v.DerivedLevel, v.LastUpdated)
	if err != nil {
		if isUniqueViolation(err) {
			return core.E(core.KindConflict, "create vector", "user %q already registered", v.UserID)
		}
		return classify("create vector", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID core.UserID) (core.AttributeVector, error) {
	var row vectorRow
	q := s.db.Rebind(`SELECT ` + vectorColumns + ` FROM loyalty_vectors WHERE user_id = ?`)
	if err := s.db.GetContext(ctx, &row, q, string(userID)); err != nil {
		return core.AttributeVector{}, notFoundOr("get vector", userID, err)
	}
	return row.vector(), nil
}

// AtomicUpdate locks the user's row, applies fn and writes the result in the
// same transaction. Any failure rolls back and leaves the row untouched.
func (s *Store) AtomicUpdate(ctx context.Context, userID core.UserID, fn core.UpdateFunc) (core.AttributeVector, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.AttributeVector{}, classify("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row vectorRow
	q := tx.Rebind(`SELECT ` + vectorColumns + ` FROM loyalty_vectors WHERE user_id = ? FOR UPDATE`)
	if err := tx.GetContext(ctx, &row, q, string(userID)); err != nil {
		return core.AttributeVector{}, notFoundOr("atomic update", userID, err)
	}
	next, err := fn(row.vector())
	if err != nil {
		return core.AttributeVector{}, err
	}
	next.UserID = userID
	if err := next.Validate(); err != nil {
		return core.AttributeVector{}, err
	}

	upd := tx.Rebind(`UPDATE loyalty_vectors SET points = ?, activity_count = ?, cumulative_spend = ?,
		categorical_tier = ?, derived_level = ?, last_updated = ? WHERE user_id = ?`)
	if _, err := tx.ExecContext(ctx, upd, next.Points, next.ActivityCount, next.CumulativeSpend,
		string(next.CategoricalTier), next.DerivedLevel, next.LastUpdated, string(userID)); err != nil {
		return core.AttributeVector{}, classify("atomic update", err)
	}
	if err := tx.Commit(); err != nil {
		return core.AttributeVector{}, classify("commit", err)
	}
	return next, nil
}

func notFoundOr(op string, userID core.UserID, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.E(core.KindNotFound, op, "user %q not found", userID)
	}
	return classify(op, err)
}

// classify maps driver errors to error kinds. Serialization failures, deadlocks
// and lock timeouts are Transient; check violations are InvalidInput.
func classify(op string, err error) error {
	var tagged *core.Error
	if errors.As(err, &tagged) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return core.Wrap(core.KindTransient, op, err)
		case "23505":
			return core.Wrap(core.KindConflict, op, err)
		case "23514":
			return core.Wrap(core.KindInvalidInput, op, err)
		}
		if pqErr.Code.Class() == "08" {
			return core.Wrap(core.KindTransient, op, err)
		}
		return core.Wrap(core.KindConfiguration, op, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1213, 1205:
			return core.Wrap(core.KindTransient, op, err)
		case 1062:
			return core.Wrap(core.KindConflict, op, err)
		case 3819:
			return core.Wrap(core.KindInvalidInput, op, err)
		}
		return core.Wrap(core.KindConfiguration, op, err)
	}
	// driver.ErrBadConn, sql.ErrConnDone, timeouts and anything else untyped
	return core.Wrap(core.KindTransient, op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
