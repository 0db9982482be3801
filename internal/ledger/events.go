package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Writer appends one event per accepted mutation, inside the same
// transaction as the record writes it announces.
type Writer struct {
	Now func() time.Time
}

// Event is one row of the append-only event log.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Name      string `json:"name"`
	RecordKey string `json:"record_key"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

// Emit writes an event naming the mutation, the primary record it touched
// and the acting identity. payload is marshalled as the event body.
func (w Writer) Emit(ctx context.Context, tx *sql.Tx, name, recordKey, actorID string, payload any) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,name,record_key,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, name, recordKey, actorID, string(data))
	return err
}

// LatestEvents returns the most recent events, newest first, optionally
// filtered by name and record key.
func (s Store) LatestEvents(ctx context.Context, limit int, name, recordKey string) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if name != "" {
		clauses = append(clauses, "name=?")
		args = append(args, name)
	}
	if recordKey != "" {
		clauses = append(clauses, "record_key=?")
		args = append(args, recordKey)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,name,record_key,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return s.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order, for webhook delivery.
func (s Store) EventsAfter(ctx context.Context, limit int, cursor int64) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,name,record_key,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return s.scanEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (s Store) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (s Store) scanEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Name, &e.RecordKey, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
