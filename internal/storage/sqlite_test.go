package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nebulate/nebula-translate/internal/session"
	"github.com/nebulate/nebula-translate/internal/turn"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSQLiteArchiveLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)

	createdAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if err := store.ArchiveSession("sess-1", "en", "es", createdAt); err != nil {
		t.Fatalf("ArchiveSession failed: %v", err)
	}

	msgs := []session.Message{
		{
			ID:             "msg-1",
			SessionID:      "sess-1",
			Speaker:        turn.SpeakerUser,
			OriginalText:   "hello there",
			TranslatedText: "hola",
			SourceLanguage: "en",
			TargetLanguage: "es",
			Timestamp:      createdAt.Add(time.Second),
		},
		{
			ID:             "msg-2",
			SessionID:      "sess-1",
			Speaker:        turn.SpeakerPartner,
			OriginalText:   "que tal",
			TranslatedText: "how is it going",
			SourceLanguage: "es",
			TargetLanguage: "en",
			Timestamp:      createdAt.Add(2 * time.Second),
		},
	}
	for _, msg := range msgs {
		if err := store.ArchiveMessage(msg); err != nil {
			t.Fatalf("ArchiveMessage failed: %v", err)
		}
	}

	if err := store.ArchiveClose("sess-1", createdAt.Add(time.Minute)); err != nil {
		t.Fatalf("ArchiveClose failed: %v", err)
	}

	rec, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != "closed" {
		t.Fatalf("status = %q, want closed", rec.Status)
	}
	if rec.ClosedAt == nil || !rec.ClosedAt.Equal(createdAt.Add(time.Minute)) {
		t.Fatalf("closed_at = %v", rec.ClosedAt)
	}
	if rec.HomeLanguage != "en" || rec.TargetLanguage != "es" {
		t.Fatalf("languages = %s/%s", rec.HomeLanguage, rec.TargetLanguage)
	}

	got, err := store.GetMessages("sess-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2", len(got))
	}
	if got[0].ID != "msg-1" || got[1].ID != "msg-2" {
		t.Fatalf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].Speaker != turn.SpeakerPartner {
		t.Fatalf("speaker = %q, want partner", got[1].Speaker)
	}
	if !got[0].Timestamp.Equal(createdAt.Add(time.Second)) {
		t.Fatalf("timestamp = %v", got[0].Timestamp)
	}
}

func TestSQLiteCloseUnknownSession(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.ArchiveClose("nope", time.Now())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestSQLiteDates(t *testing.T) {
	store := newTestSQLiteStore(t)

	day1 := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	if err := store.ArchiveSession("a", "en", "fr", day1); err != nil {
		t.Fatalf("ArchiveSession failed: %v", err)
	}
	if err := store.ArchiveSession("b", "en", "de", day2); err != nil {
		t.Fatalf("ArchiveSession failed: %v", err)
	}

	dates, err := store.GetDates()
	if err != nil {
		t.Fatalf("GetDates failed: %v", err)
	}
	if len(dates) != 2 || dates[0] != "2026-08-30" || dates[1] != "2026-08-29" {
		t.Fatalf("dates = %v", dates)
	}

	byDate, err := store.GetSessionsByDate("2026-08-29")
	if err != nil {
		t.Fatalf("GetSessionsByDate failed: %v", err)
	}
	if len(byDate) != 1 || byDate[0].ID != "a" {
		t.Fatalf("sessions for 2026-08-29 = %+v", byDate)
	}
}

func TestSQLiteDuplicateSessionRejected(t *testing.T) {
	store := newTestSQLiteStore(t)

	now := time.Now().UTC()
	if err := store.ArchiveSession("dup", "en", "es", now); err != nil {
		t.Fatalf("ArchiveSession failed: %v", err)
	}
	if err := store.ArchiveSession("dup", "en", "es", now); err == nil {
		t.Fatal("expected duplicate session insert to fail")
	}
}
