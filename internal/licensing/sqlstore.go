package licensing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS licenses (
	key            TEXT PRIMARY KEY,
	extension_slug TEXT NOT NULL,
	status         TEXT NOT NULL,
	expiry         INTEGER NOT NULL,
	seat_limit     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS license_sites (
	key  TEXT NOT NULL REFERENCES licenses(key) ON DELETE CASCADE,
	site TEXT NOT NULL,
	PRIMARY KEY (key, site)
);
`

// SQLStore is a license store backed by SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (and if necessary initializes) the database at path.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open license database: %w", err)
	}
	// SQLite allows a single writer; serializing connections avoids
	// SQLITE_BUSY under concurrent activations.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize license schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, extension_slug, status, expiry, seat_limit FROM licenses WHERE key = ?`, key)

	var rec Record
	var expiry int64
	if err := row.Scan(&rec.Key, &rec.ExtensionSlug, &rec.Status, &expiry, &rec.SeatLimit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	rec.Expiry = time.Unix(expiry, 0).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT site FROM license_sites WHERE key = ? ORDER BY site`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load license sites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, fmt.Errorf("failed to scan license site: %w", err)
		}
		rec.BoundSites = append(rec.BoundSites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load license sites: %w", err)
	}
	return &rec, nil
}

// ReplaceSites implements Store. The swap runs in one transaction so a
// concurrent reader sees either the old set or the new set, never a mix.
func (s *SQLStore) ReplaceSites(ctx context.Context, key string, sites []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM licenses WHERE key = ?`, key).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check license: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM license_sites WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear license sites: %w", err)
	}
	for _, site := range sites {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO license_sites (key, site) VALUES (?, ?)`, key, site); err != nil {
			return fmt.Errorf("failed to insert license site: %w", err)
		}
	}
	return tx.Commit()
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, record *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO licenses (key, extension_slug, status, expiry, seat_limit)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   extension_slug = excluded.extension_slug,
		   status = excluded.status,
		   expiry = excluded.expiry,
		   seat_limit = excluded.seat_limit`,
		record.Key, record.ExtensionSlug, string(record.Status),
		record.Expiry.Unix(), record.SeatLimit); err != nil {
		return fmt.Errorf("failed to upsert license: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM license_sites WHERE key = ?`, record.Key); err != nil {
		return fmt.Errorf("failed to clear license sites: %w", err)
	}
	for _, site := range record.BoundSites {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO license_sites (key, site) VALUES (?, ?)`, record.Key, site); err != nil {
			return fmt.Errorf("failed to insert license site: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
