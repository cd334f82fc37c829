// Package repository persists turn audit trails, conversation messages, the
// tool-call outbox and the access links that bound target resolution.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/turngate/internal/domain"
)

// SQLiteStore is the sqlite-backed store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			conversation_id TEXT,
			requester_id TEXT,
			utterance TEXT NOT NULL,
			action TEXT,
			outcome TEXT NOT NULL,
			error_code TEXT,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (turn_id) REFERENCES turns(turn_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_turn ON events(turn_id, ts)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			turn_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			tool_call_id TEXT PRIMARY KEY,
			turn_id TEXT,
			conversation_id TEXT,
			requester_id TEXT,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			args TEXT,
			idempotency_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_turn ON tool_calls(turn_id)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			attributes TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS access_links (
			specialist_user_id TEXT NOT NULL,
			client_user_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			revoked_at DATETIME,
			PRIMARY KEY (specialist_user_id, client_user_id),
			FOREIGN KEY (client_user_id) REFERENCES users(user_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first release (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("tool_calls", "note", "ALTER TABLE tool_calls ADD COLUMN note TEXT"); err != nil {
		return err
	}
	if err := s.ensureColumn("turns", "summary", "ALTER TABLE turns ADD COLUMN summary TEXT"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// SaveTurn writes a finished turn, its trace and its conversation messages in
// one transaction.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn *domain.Turn, events []domain.Event, messages []domain.StoredMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var summary sql.NullString
	if len(turn.Summary) > 0 {
		summary = sql.NullString{String: string(turn.Summary), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (turn_id, conversation_id, requester_id, utterance, action, outcome, error_code, started_at, ended_at, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.TurnID, nullString(turn.ConversationID), nullString(turn.RequesterID), turn.Utterance,
		nullString(string(turn.Action)), turn.Outcome, nullString(turn.ErrorCode), turn.StartedAt, turn.EndedAt, summary); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	for _, ev := range events {
		payload := ""
		if ev.Payload != nil {
			payload = string(ev.Payload)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (event_id, turn_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
			ev.EventID, turn.TurnID, ev.Ts, ev.Type, payload); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	for _, m := range messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (message_id, conversation_id, turn_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			m.MessageID, m.ConversationID, nullString(m.TurnID), m.Role, m.Content, m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// GetTurn retrieves a turn by ID. It returns nil when the turn is unknown.
func (s *SQLiteStore) GetTurn(ctx context.Context, turnID string) (*domain.Turn, error) {
	var turn domain.Turn
	var conversationID, requesterID, action, errorCode, summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT turn_id, conversation_id, requester_id, utterance, action, outcome, error_code, started_at, ended_at, summary
		 FROM turns WHERE turn_id = ?`, turnID).Scan(
		&turn.TurnID, &conversationID, &requesterID, &turn.Utterance, &action, &turn.Outcome,
		&errorCode, &turn.StartedAt, &turn.EndedAt, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	turn.ConversationID = conversationID.String
	turn.RequesterID = requesterID.String
	turn.Action = domain.TurnAction(action.String)
	turn.ErrorCode = errorCode.String
	if summary.Valid {
		turn.Summary = json.RawMessage(summary.String)
	}
	return &turn, nil
}

// GetEvents retrieves events for a turn.
func (s *SQLiteStore) GetEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, turn_id, ts, type, payload FROM events WHERE turn_id = ?`
	args := []interface{}{turnID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += ` AND type IN (` + strings.Join(placeholders, ",") + `)`
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var payload sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.TurnID, &ev.Ts, &ev.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetMessages returns the most recent limit messages of a conversation in
// chronological order. limit <= 0 returns all of them.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.StoredMessage, error) {
	query := `SELECT message_id, conversation_id, turn_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.StoredMessage
	for rows.Next() {
		var msg domain.StoredMessage
		var turnID sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &turnID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.TurnID = turnID.String
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CreateToolCall inserts an outbox record unless its idempotency key is
// already stored, in which case the existing record is returned.
func (s *SQLiteStore) CreateToolCall(ctx context.Context, call *domain.ToolCall) (*domain.ToolCall, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (tool_call_id, turn_id, conversation_id, requester_id, tool_name, status, args, note, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		call.ToolCallID, nullString(call.TurnID), nullString(call.ConversationID), nullString(call.RequesterID),
		call.ToolName, call.Status, string(call.Args), nullString(call.Note), call.IdempotencyKey, call.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return call, true, nil
	}
	existing, err := s.getToolCall(ctx, `idempotency_key = ?`, call.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("tool call with key %s vanished", call.IdempotencyKey)
	}
	return existing, false, nil
}

// GetToolCall retrieves a tool call by ID. It returns nil when unknown.
func (s *SQLiteStore) GetToolCall(ctx context.Context, toolCallID string) (*domain.ToolCall, error) {
	return s.getToolCall(ctx, `tool_call_id = ?`, toolCallID)
}

// ListToolCallsByTurn lists the tool calls queued by a turn.
func (s *SQLiteStore) ListToolCallsByTurn(ctx context.Context, turnID string) ([]domain.ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, toolCallSelect+` WHERE turn_id = ? ORDER BY created_at ASC, rowid ASC`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.ToolCall
	for rows.Next() {
		call, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// ListStaleToolCalls returns queued tool calls created before the cutoff,
// oldest first.
func (s *SQLiteStore) ListStaleToolCalls(ctx context.Context, before time.Time, limit int) ([]domain.ToolCall, error) {
	query := toolCallSelect + ` WHERE status = ? AND created_at < ? ORDER BY created_at ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, domain.ToolCallStatusQueued, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.ToolCall
	for rows.Next() {
		call, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// UpdateToolCallStatus moves a tool call from one status to another. It
// reports false when the call was no longer in the expected status.
func (s *SQLiteStore) UpdateToolCallStatus(ctx context.Context, toolCallID string, from, to domain.ToolCallStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_calls SET status = ? WHERE tool_call_id = ? AND status = ?`, to, toolCallID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const toolCallSelect = `SELECT tool_call_id, turn_id, conversation_id, requester_id, tool_name, status, args, note, idempotency_key, created_at FROM tool_calls`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToolCall(row rowScanner) (*domain.ToolCall, error) {
	var call domain.ToolCall
	var turnID, conversationID, requesterID, args, note sql.NullString
	if err := row.Scan(&call.ToolCallID, &turnID, &conversationID, &requesterID, &call.ToolName,
		&call.Status, &args, &note, &call.IdempotencyKey, &call.CreatedAt); err != nil {
		return nil, err
	}
	call.TurnID = turnID.String
	call.ConversationID = conversationID.String
	call.RequesterID = requesterID.String
	call.Note = note.String
	if args.Valid {
		call.Args = json.RawMessage(args.String)
	}
	return &call, nil
}

func (s *SQLiteStore) getToolCall(ctx context.Context, where string, arg any) (*domain.ToolCall, error) {
	call, err := scanToolCall(s.db.QueryRowContext(ctx, toolCallSelect+` WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return call, err
}

// UpsertUser creates or renames a user. Extra attributes are stored as JSON.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user domain.AvailableUser) error {
	var attrs sql.NullString
	if len(user.Extra) > 0 {
		b, err := json.Marshal(user.Extra)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		attrs = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, name, attributes) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET name = excluded.name, attributes = excluded.attributes`,
		user.ID, user.Name, attrs)
	return err
}

// GrantAccess links a specialist to a client. Re-granting a revoked link
// reactivates it. The specialist is an external identity and needs no
// users row; the client must exist.
func (s *SQLiteStore) GrantAccess(ctx context.Context, specialistID, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_links (specialist_user_id, client_user_id, status, created_at) VALUES (?, ?, 'active', ?)
		 ON CONFLICT(specialist_user_id, client_user_id) DO UPDATE SET status = 'active', revoked_at = NULL`,
		specialistID, clientID, time.Now().UTC())
	return err
}

// RevokeAccess deactivates a link.
func (s *SQLiteStore) RevokeAccess(ctx context.Context, specialistID, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE access_links SET status = 'revoked', revoked_at = ? WHERE specialist_user_id = ? AND client_user_id = ?`,
		time.Now().UTC(), specialistID, clientID)
	return err
}

// ListAvailableUsers returns the users the requester holds an active link to.
func (s *SQLiteStore) ListAvailableUsers(ctx context.Context, requesterID string) (domain.AvailableUsers, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.user_id, u.name, u.attributes FROM users u
		 JOIN access_links l ON l.client_user_id = u.user_id
		 WHERE l.specialist_user_id = ? AND l.status = 'active' AND l.revoked_at IS NULL`,
		requesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := domain.AvailableUsers{}
	for rows.Next() {
		var u domain.AvailableUser
		var attrs sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &attrs); err != nil {
			return nil, err
		}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &u.Extra); err != nil {
				return nil, fmt.Errorf("decode attributes of %s: %w", u.ID, err)
			}
		}
		users[u.ID] = u
	}
	return users, rows.Err()
}
