package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Store is the key-value gateway over ledger records. Records are opaque
// JSON blobs keyed by asset identifier and tagged with an objectType for
// selector queries.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// KeyRecord pairs a ledger key with its raw record.
type KeyRecord struct {
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record"`
}

// GetRecord returns the raw payload stored under key, or ErrNotFound.
func (s Store) GetRecord(ctx context.Context, key string) ([]byte, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT payload_json FROM records WHERE key=?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// GetRecordTx reads a record inside an open transaction.
func (s Store) GetRecordTx(ctx context.Context, tx *sql.Tx, key string) ([]byte, error) {
	var payload string
	err := tx.QueryRowContext(ctx, `SELECT payload_json FROM records WHERE key=?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// RecordExists reports whether a key is present.
func (s Store) RecordExists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM records WHERE key=? LIMIT 1`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutRecordTx writes a record inside an open transaction, creating or
// overwriting in place.
func (s Store) PutRecordTx(ctx context.Context, tx *sql.Tx, key, objectType string, payload []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO records(key,object_type,payload_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(key) DO UPDATE SET object_type=excluded.object_type, payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		key, objectType, string(payload), now, now)
	return err
}

// QueryByType returns every record whose objectType matches. Ordering is an
// artifact of the underlying store; callers must not depend on it.
func (s Store) QueryByType(ctx context.Context, objectType string) ([]KeyRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, payload_json FROM records WHERE object_type=?`, objectType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []KeyRecord
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		res = append(res, KeyRecord{Key: key, Record: json.RawMessage(payload)})
	}
	return res, rows.Err()
}

// ObjectType returns the stored discriminator for a key.
func (s Store) ObjectType(ctx context.Context, key string) (string, error) {
	var t string
	err := s.DB.QueryRowContext(ctx, `SELECT object_type FROM records WHERE key=?`, key).Scan(&t)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return t, err
}

// CountRecords returns the total number of ledger records.
func (s Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM records`).Scan(&n)
	return n, err
}

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
