package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nebulate/nebula-translate/internal/audio"
	"github.com/nebulate/nebula-translate/internal/config"
	"github.com/nebulate/nebula-translate/internal/export"
	"github.com/nebulate/nebula-translate/internal/pipeline"
	"github.com/nebulate/nebula-translate/internal/server"
	"github.com/nebulate/nebula-translate/internal/session"
	"github.com/nebulate/nebula-translate/internal/stage"
	"github.com/nebulate/nebula-translate/internal/storage"
)

// archiveFanout feeds the sqlite archive and the daily markdown transcripts
// from the same registry callbacks.
type archiveFanout struct {
	store       *storage.SQLiteStore
	transcripts *storage.TranscriptWriter
}

func (a archiveFanout) ArchiveSession(id, homeLang, targetLang string, createdAt time.Time) error {
	return a.store.ArchiveSession(id, homeLang, targetLang, createdAt)
}

func (a archiveFanout) ArchiveMessage(msg session.Message) error {
	if err := a.transcripts.Append(msg); err != nil {
		log.Printf("transcript write failed: %v", err)
	}
	return a.store.ArchiveMessage(msg)
}

func (a archiveFanout) ArchiveClose(id string, closedAt time.Time) error {
	return a.store.ArchiveClose(id, closedAt)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	log.Println("nebula-translate: starting")

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	transcripts := storage.NewTranscriptWriter(cfg.TranscriptDir)

	registry := session.NewRegistry(session.Config{
		MaxSessions:   cfg.MaxSessions,
		HistoryLimit:  cfg.HistoryLimit,
		IdleTimeout:   cfg.ParsedSessionTimeout(),
		SweepInterval: cfg.ParsedSweepInterval(),
	}, archiveFanout{store: store, transcripts: transcripts})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stages := func(sess session.Session) pipeline.Stages {
		var st pipeline.Stages
		if cfg.DeepgramAPIKey != "" {
			st.Recognizer = stage.NewDeepgramRecognizer(stage.RecognizerConfig{
				APIKey:     cfg.DeepgramAPIKey,
				Model:      cfg.DeepgramModel,
				Language:   "multi",
				SampleRate: cfg.SampleRate,
			})
		}
		if cfg.OpenAIAPIKey != "" {
			st.Translator = stage.NewTranslator(cfg.OpenAIAPIKey, cfg.TranslationModel)
			st.Synthesizer = stage.NewSpeech(cfg.OpenAIAPIKey, cfg.TTSModel, cfg.TTSVoice)
		}
		return st
	}

	srv := server.New(ctx, server.Config{
		Registry: registry,
		Stages:   stages,
		Recorder: func() *audio.Recorder {
			return audio.NewRecorder(cfg.AudioDir, cfg.SampleRate)
		},
		Warnings:              warnings,
		DefaultHomeLanguage:   cfg.HomeLanguage,
		DefaultTargetLanguage: cfg.TargetLanguage,
	})

	registry.StartSweep(ctx)
	srv.StartReaper(ctx, cfg.ParsedSweepInterval())

	if cfg.GDriveFolderID != "" {
		exporter, expErr := export.NewDriveExporter(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if expErr != nil {
			log.Printf("warning: drive export disabled: %v", expErr)
		} else {
			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						date := time.Now().UTC().Format("2006-01-02")
						if err := exporter.Export(transcripts.CurrentPath(), date); err != nil {
							log.Printf("drive export error: %v", err)
						}
					}
				}
			}()
		}
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}
	go func() {
		log.Printf("nebula-translate: listening on http://%s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("nebula-translate: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	srv.CloseAll()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}
