package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nebulate/nebula-translate/internal/session"
	"github.com/nebulate/nebula-translate/internal/turn"
)

// SessionRecord is a session row as persisted, independent of the live
// in-memory registry.
type SessionRecord struct {
	ID             string     `json:"id"`
	HomeLanguage   string     `json:"home_language"`
	TargetLanguage string     `json:"target_language"`
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	Status         string     `json:"status"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "nebula-translate.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			home_language TEXT NOT NULL,
			target_language TEXT NOT NULL,
			created_at TEXT NOT NULL,
			closed_at TEXT,
			status TEXT NOT NULL DEFAULT 'active'
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			original_text TEXT NOT NULL,
			translated_text TEXT NOT NULL DEFAULT '',
			source_language TEXT NOT NULL,
			target_language TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, timestamp)"); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ArchiveSession records a newly created session.
func (s *SQLiteStore) ArchiveSession(id, homeLang, targetLang string, createdAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, home_language, target_language, created_at, status) VALUES(?, ?, ?, ?, 'active')`,
		id,
		homeLang,
		targetLang,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", id, err)
	}
	return nil
}

// ArchiveMessage appends one translated utterance. Unlike the in-memory
// history, archived messages are never evicted.
func (s *SQLiteStore) ArchiveMessage(msg session.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages(id, session_id, speaker, original_text, translated_text, source_language, target_language, timestamp)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.SessionID,
		string(msg.Speaker),
		strings.TrimSpace(msg.OriginalText),
		strings.TrimSpace(msg.TranslatedText),
		msg.SourceLanguage,
		msg.TargetLanguage,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive message for session %s: %w", msg.SessionID, err)
	}
	return nil
}

// ArchiveClose marks a session closed.
func (s *SQLiteStore) ArchiveClose(id string, closedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET closed_at = ?, status = 'closed' WHERE id = ?`,
		closedAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, home_language, target_language, created_at, closed_at, status FROM sessions WHERE id = ?`,
		id,
	)

	var rec SessionRecord
	var createdAt string
	var closedAt sql.NullString
	if err := row.Scan(&rec.ID, &rec.HomeLanguage, &rec.TargetLanguage, &createdAt, &closedAt, &rec.Status); err != nil {
		return SessionRecord{}, fmt.Errorf("query session %s: %w", id, err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse session %s created_at: %w", id, err)
	}
	rec.CreatedAt = parsed

	if closedAt.Valid {
		parsedClose, err := time.Parse(time.RFC3339Nano, closedAt.String)
		if err != nil {
			return SessionRecord{}, fmt.Errorf("parse session %s closed_at: %w", id, err)
		}
		rec.ClosedAt = &parsedClose
	}

	return rec, nil
}

func (s *SQLiteStore) GetSessionsByDate(date string) ([]SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, home_language, target_language, created_at, closed_at, status
		 FROM sessions
		 WHERE substr(created_at, 1, 10) = ?
		 ORDER BY created_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]SessionRecord, 0, 16)
	for rows.Next() {
		var rec SessionRecord
		var createdAt string
		var closedAt sql.NullString
		if err := rows.Scan(&rec.ID, &rec.HomeLanguage, &rec.TargetLanguage, &createdAt, &closedAt, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		rec.CreatedAt = parsed

		if closedAt.Valid {
			parsedClose, err := time.Parse(time.RFC3339Nano, closedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse closed_at: %w", err)
			}
			rec.ClosedAt = &parsedClose
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(created_at, 1, 10) AS date FROM sessions ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

// GetMessages returns the full archived conversation for a session in
// chronological order.
func (s *SQLiteStore) GetMessages(sessionID string) ([]session.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, speaker, original_text, translated_text, source_language, target_language, timestamp
		 FROM messages
		 WHERE session_id = ?
		 ORDER BY timestamp ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]session.Message, 0, 32)
	for rows.Next() {
		var msg session.Message
		var speaker, ts string
		if err := rows.Scan(&msg.ID, &speaker, &msg.OriginalText, &msg.TranslatedText, &msg.SourceLanguage, &msg.TargetLanguage, &ts); err != nil {
			return nil, fmt.Errorf("scan message for session %s: %w", sessionID, err)
		}
		msg.SessionID = sessionID
		msg.Speaker = turn.Speaker(speaker)

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp: %w", err)
		}
		msg.Timestamp = parsed

		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}
