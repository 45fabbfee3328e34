// Package store is the persistence gateway: a single USERS table,
// loaded wholesale at startup and replaced wholesale on each periodic
// save.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS USERS (
	ID INTEGER PRIMARY KEY,
	IP TEXT,
	NAME TEXT NOT NULL,
	PW TEXT NOT NULL,
	GAMES INTEGER NOT NULL,
	ZERO INTEGER NOT NULL,
	HALF INTEGER NOT NULL,
	ONE INTEGER NOT NULL,
	RATING INTEGER NOT NULL,
	WEIGHT INTEGER NOT NULL,
	LASTLOGIN TEXT
)`

// Row is the on-disk representation of one account.
type Row struct {
	ID          int64
	IP          string
	Name        string
	Password    string
	Games       int
	Zero        int
	Half        int
	One         int
	Rating      int
	Weight      int
	LastLogin   string
}

// Gateway wraps database/sql behind the sqlite3/postgres driver
// switch.
type Gateway struct {
	db     *sql.DB
	driver string
}

// Config selects the backing driver and connection target.
type Config struct {
	Driver string // "sqlite3" (default) or "postgres"
	DSN    string // file path for sqlite3, connection string for postgres
}

// Open opens (creating if necessary) the USERS table gateway.
func Open(cfg Config) (*Gateway, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}

	if driver == "sqlite3" {
		if dir := filepath.Dir(cfg.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create data dir: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}

	if _, err := db.Exec(schema); err != nil {
		// A table that already exists on a re-opened database is not
		// fatal.
		log.Printf("[store] schema: %v", err)
	}

	log.Printf("[store] opened %s database %q", driver, cfg.DSN)
	return &Gateway{db: db, driver: driver}, nil
}

// Close closes the underlying connection.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// LoadAll returns every row plus the maximum ID seen, so the caller can
// resume account-id allocation above it.
func (g *Gateway) LoadAll() ([]Row, int64, error) {
	rows, err := g.db.Query(
		`SELECT ID, IP, NAME, PW, GAMES, ZERO, HALF, ONE, RATING, WEIGHT, LASTLOGIN FROM USERS`)
	if err != nil {
		return nil, 0, fmt.Errorf("store: load users: %w", err)
	}
	defer rows.Close()

	var out []Row
	var maxID int64
	for rows.Next() {
		var r Row
		var ip, lastLogin sql.NullString
		if err := rows.Scan(&r.ID, &ip, &r.Name, &r.Password, &r.Games,
			&r.Zero, &r.Half, &r.One, &r.Rating, &r.Weight, &lastLogin); err != nil {
			return nil, 0, fmt.Errorf("store: scan user row: %w", err)
		}
		r.IP = ip.String
		r.LastLogin = lastLogin.String
		if r.ID > maxID {
			maxID = r.ID
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterate users: %w", err)
	}
	return out, maxID, nil
}

// ReplaceAll clears the USERS table and reinserts rows in a single
// transaction. If any step fails (for example because the database is
// locked or busy) the transaction is rolled back, the table keeps its
// previous contents, and the error is logged and returned; the in-memory
// state stays authoritative until the next interval.
func (g *Gateway) ReplaceAll(rows []Row) error {
	tx, err := g.db.Begin()
	if err != nil {
		log.Printf("[store] replace-all begin: %v", err)
		return fmt.Errorf("store: replace-all begin: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM USERS`); err != nil {
		log.Printf("[store] replace-all clear: %v", err)
		tx.Rollback()
		return fmt.Errorf("store: replace-all clear: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO USERS
		(ID, IP, NAME, PW, GAMES, ZERO, HALF, ONE, RATING, WEIGHT, LASTLOGIN)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("[store] replace-all prepare: %v", err)
		tx.Rollback()
		return fmt.Errorf("store: replace-all prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.ID, r.IP, r.Name, r.Password, r.Games,
			r.Zero, r.Half, r.One, r.Rating, r.Weight, r.LastLogin); err != nil {
			log.Printf("[store] replace-all insert %d: %v", r.ID, err)
			tx.Rollback()
			return fmt.Errorf("store: replace-all insert %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[store] replace-all commit: %v", err)
		return fmt.Errorf("store: replace-all commit: %w", err)
	}
	return nil
}
