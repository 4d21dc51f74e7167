package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Nebula Translate environment
// variables.
const EnvPrefix = "NEBULA_TRANSLATE_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr            string `yaml:"listen_addr"`
	DBPath                string `yaml:"db_path"`
	AudioDir              string `yaml:"audio_dir"`
	TranscriptDir         string `yaml:"transcript_dir"`
	SessionTimeout        string `yaml:"session_timeout"`
	SweepInterval         string `yaml:"sweep_interval"`
	MaxSessions           int    `yaml:"max_sessions"`
	HistoryLimit          int    `yaml:"history_limit"`
	SampleRate            int    `yaml:"sample_rate"`
	HomeLanguage          string `yaml:"home_language"`
	TargetLanguage        string `yaml:"target_language"`
	TranslationModel      string `yaml:"translation_model"`
	TTSModel              string `yaml:"tts_model"`
	TTSVoice              string `yaml:"tts_voice"`
	DeepgramModel         string `yaml:"deepgram_model"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets come from env vars only, never serialized to YAML.
	OpenAIAPIKey   string `yaml:"-"`
	DeepgramAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            "127.0.0.1:8080",
		DBPath:                "data/nebula-translate.db",
		AudioDir:              "data/audio",
		TranscriptDir:         "data/transcripts",
		SessionTimeout:        "5m",
		SweepInterval:         "60s",
		MaxSessions:           100,
		HistoryLimit:          50,
		SampleRate:            16000,
		HomeLanguage:          "en",
		TargetLanguage:        "es",
		TranslationModel:      "gpt-4o-mini",
		TTSModel:              "tts-1",
		TTSVoice:              "alloy",
		DeepgramModel:         "nova-2",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedSessionTimeout returns SessionTimeout as a time.Duration, falling
// back to 5m if the value is invalid.
func (c *Config) ParsedSessionTimeout() time.Duration {
	d, err := time.ParseDuration(c.SessionTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ParsedSweepInterval returns SweepInterval as a time.Duration, falling
// back to 60s if the value is invalid.
func (c *Config) ParsedSweepInterval() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_DIR"); v != "" {
		cfg.TranscriptDir = v
	}
	if v := os.Getenv(EnvPrefix + "SESSION_TIMEOUT"); v != "" {
		cfg.SessionTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv(EnvPrefix + "HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.HistoryLimit = n
		}
	}
	if v := os.Getenv(EnvPrefix + "SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.SampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "HOME_LANGUAGE"); v != "" {
		cfg.HomeLanguage = v
	}
	if v := os.Getenv(EnvPrefix + "TARGET_LANGUAGE"); v != "" {
		cfg.TargetLanguage = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSLATION_MODEL"); v != "" {
		cfg.TranslationModel = v
	}
	if v := os.Getenv(EnvPrefix + "TTS_MODEL"); v != "" {
		cfg.TTSModel = v
	}
	if v := os.Getenv(EnvPrefix + "TTS_VOICE"); v != "" {
		cfg.TTSVoice = v
	}
	if v := os.Getenv(EnvPrefix + "DEEPGRAM_MODEL"); v != "" {
		cfg.DeepgramModel = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured: translation and speech synthesis are disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured: live speech recognition is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if _, err := time.ParseDuration(cfg.SessionTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid session_timeout %q, using default 5m.", cfg.SessionTimeout))
	}
	if _, err := time.ParseDuration(cfg.SweepInterval); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid sweep_interval %q, using default 60s.", cfg.SweepInterval))
	}

	return warnings
}
