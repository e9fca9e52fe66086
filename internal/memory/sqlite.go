package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ent0n29/jarvis/internal/embed"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// SQLiteBackend is a single-node durable turn log using modernc.org/sqlite
// (pure Go, no CGO) in WAL mode. Embeddings live in a BLOB column and
// similarity is scored in-process; session logs are small enough that a
// linear scan beats maintaining an index.
type SQLiteBackend struct {
	db *sql.DB
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		session_id TEXT    NOT NULL,
		turn_id    INTEGER NOT NULL,
		role       TEXT    NOT NULL,
		content    TEXT    NOT NULL DEFAULT '',
		embedding  BLOB,
		action     TEXT,
		created_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (session_id, turn_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_turns_session ON conversation_turns(session_id, turn_id)`,
}

func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) AppendTurn(ctx context.Context, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	var actionJSON any
	if turn.Action != nil {
		raw, err := json.Marshal(turn.Action)
		if err != nil {
			return fmt.Errorf("encode action record: %w", err)
		}
		actionJSON = string(raw)
	}
	var blob any
	if len(turn.Embedding) > 0 {
		blob = encodeVector(turn.Embedding)
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversation_turns (session_id, turn_id, role, content, embedding, action, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.SessionID,
		int64(turn.TurnID),
		string(turn.Role),
		turn.Text,
		blob,
		actionJSON,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Search(ctx context.Context, sessionID string, embedding []float32, topK int) ([]ScoredTurn, error) {
	if topK <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT session_id, turn_id, role, content, embedding, action, created_at
		 FROM conversation_turns WHERE session_id = ? AND embedding IS NOT NULL`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("search turns: %w", err)
	}
	defer rows.Close()

	var out []ScoredTurn
	for rows.Next() {
		t, blob, err := scanSQLiteTurn(rows)
		if err != nil {
			return nil, err
		}
		vec := decodeVector(blob)
		if len(vec) == 0 {
			continue
		}
		t.Embedding = vec
		out = append(out, ScoredTurn{Turn: t, Score: embed.Cosine(embedding, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Turn.TurnID > out[j].Turn.TurnID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (b *SQLiteBackend) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT session_id, turn_id, role, content, embedding, action, created_at
		 FROM conversation_turns WHERE session_id = ? ORDER BY turn_id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var items []Turn
	for rows.Next() {
		t, blob, err := scanSQLiteTurn(rows)
		if err != nil {
			return nil, err
		}
		t.Embedding = decodeVector(blob)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func scanSQLiteTurn(rows *sql.Rows) (Turn, []byte, error) {
	var (
		t          Turn
		turnID     int64
		role       string
		blob       []byte
		actionJSON sql.NullString
		createdAt  string
	)
	if err := rows.Scan(&t.SessionID, &turnID, &role, &t.Text, &blob, &actionJSON, &createdAt); err != nil {
		return Turn{}, nil, fmt.Errorf("scan turn row: %w", err)
	}
	t.TurnID = uint64(turnID)
	t.Role = Role(role)
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if actionJSON.Valid && actionJSON.String != "" {
		var rec ActionRecord
		if err := json.Unmarshal([]byte(actionJSON.String), &rec); err == nil {
			t.Action = &rec
		}
	}
	return t, blob, nil
}

func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
