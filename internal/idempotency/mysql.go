package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS idempotency_records (
	idem_key    VARCHAR(255) NOT NULL PRIMARY KEY,
	tracking_id VARCHAR(64)  NOT NULL,
	accepted_at DATETIME(3)  NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// MySQLStore keeps records in a table keyed by the idempotency key. The
// primary key makes INSERT IGNORE the insert-if-absent primitive.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens the DSN, verifies the connection and creates the table.
// The DSN must include parseTime=true.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create idempotency table: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO idempotency_records (idem_key, tracking_id, accepted_at) VALUES (?, ?, ?)`,
		rec.Key, rec.TrackingID, rec.AcceptedAt.UTC())
	if err != nil {
		return Record{}, false, fmt.Errorf("insert %s: %w", rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, fmt.Errorf("rows affected %s: %w", rec.Key, err)
	}
	if n == 1 {
		return rec, true, nil
	}

	existing, err := s.Get(ctx, rec.Key)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

func (s *MySQLStore) Get(ctx context.Context, key string) (Record, error) {
	rec := Record{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT tracking_id, accepted_at FROM idempotency_records WHERE idem_key = ?`, key,
	).Scan(&rec.TrackingID, &rec.AcceptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("select %s: %w", key, err)
	}
	return rec, nil
}

func (s *MySQLStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
