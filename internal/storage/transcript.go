package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nebulate/nebula-translate/internal/session"
)

// TranscriptWriter appends translated conversation lines to per-day markdown
// files. The files are what the Drive exporter uploads.
type TranscriptWriter struct {
	dir string
	mu  sync.Mutex
}

func NewTranscriptWriter(dir string) *TranscriptWriter {
	return &TranscriptWriter{dir: dir}
}

func (w *TranscriptWriter) Append(msg session.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	date := msg.Timestamp.Format("2006-01-02")
	path := filepath.Join(w.dir, date+".md")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, formatMarkdown(msg)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *TranscriptWriter) CurrentPath() string {
	date := time.Now().Format("2006-01-02")
	return filepath.Join(w.dir, date+".md")
}

func formatMarkdown(msg session.Message) string {
	original := strings.TrimSpace(msg.OriginalText)
	translated := strings.TrimSpace(msg.TranslatedText)

	line := fmt.Sprintf("- **%s** %s (%s -> %s): %s",
		msg.Timestamp.Format("15:04:05"),
		msg.Speaker,
		msg.SourceLanguage,
		msg.TargetLanguage,
		original,
	)
	if translated != "" && translated != original {
		line += "\n  - " + translated
	}
	return line
}
