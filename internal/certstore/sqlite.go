package certstore

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// memDSN is the DSN for a private in-memory database.
const memDSN = "file::memory:?_pragma=temp_store(2)&_pragma=journal_mode(off)&_pragma=synchronous(off)"

// certRow maps a row in the certificates table.
type certRow struct {
	Fingerprint          string `db:"fingerprint"`
	SubjectKeyIdentifier string `db:"subject_key_identifier"`
	Label                string `db:"label"`
	CertType             string `db:"cert_type"`
	DER                  []byte `db:"der"`
}

// keyRow maps a row in the keys table.
type keyRow struct {
	SubjectKeyIdentifier string `db:"subject_key_identifier"`
	KeyType              string `db:"key_type"`
	BitLength            int    `db:"bit_length"`
	KeyData              []byte `db:"key_data"`
}

// Store is the SQLite-backed credential store. It is safe for concurrent use;
// all access goes through a single connection.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens the store at path, creating the schema if needed. An empty path
// opens a private in-memory store.
func Open(path string) (*Store, error) {
	dsn := memDSN
	if path != "" {
		dsn = fileDSN(path)
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if path != "" {
		slog.Debug("opened credential store", "path", path)
	}
	return &Store{db: db, path: path}, nil
}

// fileDSN builds a SQLite URI for a database file. The path is
// percent-encoded so '?', '#', and '%' in file names stay part of the path
// instead of starting the query or fragment.
func fileDSN(path string) string {
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the certificates and keys tables. The autoincrement id
// records insertion order, which is the enumeration order.
func initSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS certificates (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			fingerprint            TEXT NOT NULL UNIQUE,
			subject_key_identifier TEXT NOT NULL,
			label                  TEXT NOT NULL,
			cert_type              TEXT NOT NULL,
			der                    BLOB NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating certificates table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_certificates_ski ON certificates (subject_key_identifier);
	`)
	if err != nil {
		return fmt.Errorf("creating SKI index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS keys (
			id                     INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_key_identifier TEXT NOT NULL UNIQUE,
			key_type               TEXT NOT NULL,
			bit_length             INTEGER NOT NULL,
			key_data               BLOB NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating keys table: %w", err)
	}
	return nil
}
