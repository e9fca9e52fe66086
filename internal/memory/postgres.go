package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists the turn log in PostgreSQL with pgvector
// nearest-neighbor search over turn embeddings.
type PostgresBackend struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresBackend(ctx context.Context, databaseURL string, embeddingDim int) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if embeddingDim <= 0 {
		embeddingDim = 1536
	}
	b := &PostgresBackend{pool: pool, dim: embeddingDim}
	if err := b.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversation_turns (
			session_id TEXT NOT NULL,
			turn_id BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			action JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, turn_id)
		);`, b.dim),
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_session ON conversation_turns (session_id, turn_id);`,
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (b *PostgresBackend) AppendTurn(ctx context.Context, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	var actionJSON []byte
	if turn.Action != nil {
		var err error
		actionJSON, err = json.Marshal(turn.Action)
		if err != nil {
			return fmt.Errorf("encode action record: %w", err)
		}
	}
	var vec any
	if len(turn.Embedding) > 0 {
		vec = vectorLiteral(turn.Embedding)
	}
	// ON CONFLICT DO NOTHING keeps appends idempotent on (session, turn).
	_, err := b.pool.Exec(ctx,
		`INSERT INTO conversation_turns (session_id, turn_id, role, content, embedding, action, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, turn_id) DO NOTHING`,
		turn.SessionID,
		int64(turn.TurnID),
		string(turn.Role),
		turn.Text,
		vec,
		actionJSON,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Search(ctx context.Context, sessionID string, embedding []float32, topK int) ([]ScoredTurn, error) {
	if topK <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	rows, err := b.pool.Query(ctx,
		`SELECT session_id, turn_id, role, content, action, created_at,
		        1 - (embedding <=> $2::vector) AS score
		 FROM conversation_turns
		 WHERE session_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2::vector ASC, turn_id DESC
		 LIMIT $3`,
		sessionID, vectorLiteral(embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("search turns: %w", err)
	}
	defer rows.Close()

	out := make([]ScoredTurn, 0, topK)
	for rows.Next() {
		var (
			st         ScoredTurn
			turnID     int64
			role       string
			actionJSON []byte
		)
		if err := rows.Scan(&st.Turn.SessionID, &turnID, &role, &st.Turn.Text, &actionJSON, &st.Turn.CreatedAt, &st.Score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		st.Turn.TurnID = uint64(turnID)
		st.Turn.Role = Role(role)
		if len(actionJSON) > 0 {
			var rec ActionRecord
			if err := json.Unmarshal(actionJSON, &rec); err == nil {
				st.Turn.Action = &rec
			}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return out, nil
}

func (b *PostgresBackend) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := b.pool.Query(ctx,
		`SELECT session_id, turn_id, role, content, embedding::text, action, created_at
		 FROM conversation_turns WHERE session_id=$1 ORDER BY turn_id DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			t          Turn
			turnID     int64
			role       string
			vecText    *string
			actionJSON []byte
		)
		if err := rows.Scan(&t.SessionID, &turnID, &role, &t.Text, &vecText, &actionJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.TurnID = uint64(turnID)
		t.Role = Role(role)
		if vecText != nil {
			t.Embedding = parseVectorLiteral(*vecText)
		}
		if len(actionJSON) > 0 {
			var rec ActionRecord
			if err := json.Unmarshal(actionJSON, &rec); err == nil {
				t.Action = &rec
			}
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// vectorLiteral renders a pgvector input literal like "[0.1,0.2]".
func vectorLiteral(vec []float32) string {
	var sb strings.Builder
	sb.Grow(len(vec)*10 + 2)
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// parseVectorLiteral is the inverse of vectorLiteral. Malformed input
// yields nil rather than an error; embeddings are advisory context.
func parseVectorLiteral(s string) []float32 {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(v))
	}
	return out
}
