// Package store keeps the model server's event and request log in sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aigoflow/crash-insight/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS events(
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	ts    REAL,
	level TEXT,
	code  TEXT,
	msg   TEXT,
	meta  TEXT
);
CREATE TABLE IF NOT EXISTS requests(
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            REAL,
	req_id        TEXT,
	source        TEXT,
	prompt        TEXT,
	prompt_len    INTEGER,
	params_json   TEXT,
	response_text TEXT,
	tokens_in     INTEGER,
	tokens_out    INTEGER,
	dur_ms        REAL,
	status        TEXT,
	error         TEXT
);
CREATE INDEX IF NOT EXISTS requests_status ON requests(status);
`

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// ":memory:" databases live per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db}, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Event records a lifecycle event.
func (db *DB) Event(level, code, msg string, meta map[string]interface{}) error {
	return db.EventContext(context.Background(), level, code, msg, meta)
}

func (db *DB) EventContext(ctx context.Context, level, code, msg string, meta map[string]interface{}) error {
	m := ""
	if meta != nil {
		b, _ := json.Marshal(meta)
		m = string(b)
	}
	_, err := db.ExecContext(ctx, `INSERT INTO events(ts,level,code,msg,meta) VALUES(?,?,?,?,?)`,
		unixSeconds(time.Now()), level, code, msg, m)
	return err
}

// InsertRequest appends one inference request. PromptLen is derived from
// the prompt.
func (db *DB) InsertRequest(ctx context.Context, r *models.RequestLog) error {
	_, err := db.ExecContext(ctx, `INSERT INTO requests(
		ts, req_id, source, prompt, prompt_len, params_json, response_text,
		tokens_in, tokens_out, dur_ms, status, error)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		unixSeconds(r.Timestamp), r.ReqID, r.Source, r.Prompt, len(r.Prompt), r.ParamsJSON,
		r.ResponseText, r.TokensIn, r.TokensOut, float64(r.DurationMs), r.Status, r.Error)
	return err
}

// RecentRequests returns up to limit requests, newest first.
func (db *DB) RecentRequests(ctx context.Context, limit int) ([]*models.RequestLog, error) {
	rows, err := db.QueryContext(ctx, `SELECT ts, req_id, source, prompt, prompt_len, params_json,
		response_text, tokens_in, tokens_out, dur_ms, status, error
		FROM requests ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RequestLog
	for rows.Next() {
		var r models.RequestLog
		var ts, durMs float64
		if err := rows.Scan(&ts, &r.ReqID, &r.Source, &r.Prompt, &r.PromptLen, &r.ParamsJSON,
			&r.ResponseText, &r.TokensIn, &r.TokensOut, &durMs, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, int64(ts*1e9))
		r.DurationMs = int64(durMs)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// StatusCounts returns the number of logged requests per status.
func (db *DB) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
