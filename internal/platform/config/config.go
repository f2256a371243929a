package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Settings holds every option the gateway recognizes.
// Durations are expressed in milliseconds in files and env vars.
type Settings struct {
	Port      string `toml:"port"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	FFmpegPath   string `toml:"ffmpeg_path"`
	WorkDir      string `toml:"work_dir"`
	CapturesDir  string `toml:"captures_dir"`
	MetadataFile string `toml:"metadata_file"`

	StartupPollMS     int `toml:"startup_poll_ms"`
	StartupTimeoutMS  int `toml:"startup_timeout_ms"`
	CaptureTimeoutMS  int `toml:"capture_timeout_ms"`
	StopGraceMS       int `toml:"stop_grace_ms"`
	ShutdownTimeoutMS int `toml:"shutdown_timeout_ms"`

	SegmentSeconds int `toml:"segment_seconds"`
	WindowSize     int `toml:"window_size"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Port:              "8080",
		LogLevel:          "info",
		LogFormat:         "json",
		FFmpegPath:        "ffmpeg",
		WorkDir:           filepath.Join(os.TempDir(), "hls-gateway", "streams"),
		CapturesDir:       "captures",
		MetadataFile:      filepath.Join("data", "sources.json"),
		StartupPollMS:     500,
		StartupTimeoutMS:  15000,
		CaptureTimeoutMS:  10000,
		StopGraceMS:       5000,
		ShutdownTimeoutMS: 10000,
		SegmentSeconds:    2,
		WindowSize:        3,
	}
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// Resolve builds the effective settings: defaults, then the TOML file at
// path (if non-empty), then environment variables.
func Resolve(path string) (Settings, error) {
	s := Defaults()
	if path != "" {
		if err := LoadFile(path, &s); err != nil {
			return s, err
		}
	}
	ApplyEnv(&s)
	s.normalize()
	return s, nil
}

// LoadFile overlays the TOML file at path onto s. Keys absent from the file
// keep their current values. A missing file is not an error.
func LoadFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides s with any set environment variables.
func ApplyEnv(s *Settings) {
	s.Port = GetEnv("PORT", s.Port)
	s.LogLevel = GetEnv("LOG_LEVEL", s.LogLevel)
	s.LogFormat = GetEnv("LOG_FORMAT", s.LogFormat)
	s.FFmpegPath = GetEnv("FFMPEG_PATH", s.FFmpegPath)
	s.WorkDir = GetEnv("WORK_DIR", s.WorkDir)
	s.CapturesDir = GetEnv("CAPTURES_DIR", s.CapturesDir)
	s.MetadataFile = GetEnv("METADATA_FILE", s.MetadataFile)
	s.StartupPollMS = GetEnvInt("STARTUP_POLL_MS", s.StartupPollMS)
	s.StartupTimeoutMS = GetEnvInt("STARTUP_TIMEOUT_MS", s.StartupTimeoutMS)
	s.CaptureTimeoutMS = GetEnvInt("CAPTURE_TIMEOUT_MS", s.CaptureTimeoutMS)
	s.StopGraceMS = GetEnvInt("STOP_GRACE_MS", s.StopGraceMS)
	s.ShutdownTimeoutMS = GetEnvInt("SHUTDOWN_TIMEOUT_MS", s.ShutdownTimeoutMS)
}

// normalize replaces non-positive numeric settings with their defaults.
func (s *Settings) normalize() {
	d := Defaults()
	fix := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fix(&s.StartupPollMS, d.StartupPollMS)
	fix(&s.StartupTimeoutMS, d.StartupTimeoutMS)
	fix(&s.CaptureTimeoutMS, d.CaptureTimeoutMS)
	fix(&s.StopGraceMS, d.StopGraceMS)
	fix(&s.ShutdownTimeoutMS, d.ShutdownTimeoutMS)
	fix(&s.SegmentSeconds, d.SegmentSeconds)
	fix(&s.WindowSize, d.WindowSize)
}

// Millis converts a millisecond setting to a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
