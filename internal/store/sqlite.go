package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gustycube/skywatch/internal/emit"
	"github.com/gustycube/skywatch/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS targets (
  id          TEXT PRIMARY KEY,
  category    TEXT NOT NULL,
  status      TEXT NOT NULL,
  place       TEXT,
  lat         REAL,
  lng         REAL,
  label       TEXT NOT NULL,
  created_at  DATETIME NOT NULL,
  updated_at  DATETIME NOT NULL,
  expire_at   DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
  id          INTEGER PRIMARY KEY,
  target_id   TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
  seq         INTEGER NOT NULL,
  at          DATETIME NOT NULL,
  text        TEXT NOT NULL,
  confidence  REAL NOT NULL,
  bearing     REAL,
  UNIQUE(target_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_history_target ON history(target_id, seq);
`

// SQLite mirrors the snapshot into relational tables for ad-hoc queries.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persist replaces both tables with the snapshot in one transaction.
func (s *SQLite) Persist(ctx context.Context, records []emit.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM targets"); err != nil {
		return err
	}
	for _, r := range records {
		var place sql.NullString
		var lat, lng sql.NullFloat64
		if r.Location != nil {
			place = sql.NullString{String: r.Location.Name, Valid: r.Location.Name != ""}
			lat = sql.NullFloat64{Float64: r.Location.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: r.Location.Lng, Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO targets(id, category, status, place, lat, lng, label, created_at, updated_at, expire_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
			r.ID, string(r.Category), string(r.Status), place, lat, lng, r.Label,
			r.CreatedAt.UTC(), r.UpdatedAt.UTC(), r.ExpireAt.UTC())
		if err != nil {
			return fmt.Errorf("insert target %s: %w", r.ID, err)
		}
		for i, h := range r.History {
			var bearing sql.NullFloat64
			if h.Bearing != nil {
				bearing = sql.NullFloat64{Float64: *h.Bearing, Valid: true}
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO history(target_id, seq, at, text, confidence, bearing) VALUES(?,?,?,?,?,?)`,
				r.ID, i, h.At.UTC(), h.Text, h.Confidence, bearing)
			if err != nil {
				return fmt.Errorf("insert history %s/%d: %w", r.ID, i, err)
			}
		}
	}
	return tx.Commit()
}

// Load reads the stored snapshot back, history included, ordered by id.
func (s *SQLite) Load(ctx context.Context) ([]emit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, category, status, place, lat, lng, label, created_at, updated_at, expire_at FROM targets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var out []emit.Record
	index := make(map[string]int)
	for rows.Next() {
		var (
			r        emit.Record
			cat, st  string
			place    sql.NullString
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &cat, &st, &place, &lat, &lng, &r.Label, &r.CreatedAt, &r.UpdatedAt, &r.ExpireAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.Category, r.Status, r.Type = types.Category(cat), types.Status(st), cat
		if lat.Valid && lng.Valid {
			r.Location = &emit.LocationRecord{Name: place.String, Lat: lat.Float64, Lng: lng.Float64}
			r.Lat, r.Lng = lat.Float64, lng.Float64
		}
		r.History = []types.HistoryEntry{}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	hrows, err := s.db.QueryContext(ctx, `SELECT target_id, at, text, confidence, bearing FROM history ORDER BY target_id, seq`)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var (
			id      string
			h       types.HistoryEntry
			at      time.Time
			bearing sql.NullFloat64
		)
		if err := hrows.Scan(&id, &at, &h.Text, &h.Confidence, &bearing); err != nil {
			return nil, err
		}
		h.At = at
		if bearing.Valid {
			b := bearing.Float64
			h.Bearing = &b
		}
		if i, ok := index[id]; ok {
			out[i].History = append(out[i].History, h)
		}
	}
	return out, hrows.Err()
}
