package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the desktop app and the dev bridge.
type Config struct {
	Engine    EngineConfig
	Audio     AudioConfig
	Playback  PlaybackConfig
	Safety    SafetyConfig
	Session   SessionConfig
	Journal   JournalConfig
	Resources ResourcesConfig
	Log       LogConfig
	Bridge    BridgeConfig
}

type EngineConfig struct {
	Python       string
	Script       string
	Args         []string
	Dir          string
	ReadyTimeout time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	ScratchDir      string
	StopTimeout     time.Duration
}

type PlaybackConfig struct {
	Command string
	Args    []string
}

type SafetyConfig struct {
	TermsPath string
}

type SessionConfig struct {
	TurnTimeout   time.Duration
	SpeechEnabled bool
}

type JournalConfig struct {
	Path string
}

type ResourcesConfig struct {
	GoogleMapsAPIKey string
	BaseURL          string
}

type LogConfig struct {
	Level string
	File  string
}

type BridgeConfig struct {
	Addr string
}

// fileConfig is the optional YAML overlay. Empty values leave defaults alone.
type fileConfig struct {
	Engine struct {
		Python         string   `yaml:"python"`
		Script         string   `yaml:"script"`
		Args           []string `yaml:"args"`
		Dir            string   `yaml:"dir"`
		ReadyTimeoutMS int      `yaml:"ready_timeout_ms"`
	} `yaml:"engine"`
	Audio struct {
		Recorder      string `yaml:"recorder"`
		InputFormat   string `yaml:"input_format"`
		InputDevice   string `yaml:"input_device"`
		SampleRate    int    `yaml:"sample_rate"`
		Channels      int    `yaml:"channels"`
		ScratchDir    string `yaml:"scratch_dir"`
		StopTimeoutMS int    `yaml:"stop_timeout_ms"`
	} `yaml:"audio"`
	Playback struct {
		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
	} `yaml:"playback"`
	Safety struct {
		TermsFile string `yaml:"terms_file"`
	} `yaml:"safety"`
	Session struct {
		TurnTimeoutMS *int  `yaml:"turn_timeout_ms"`
		Speech        *bool `yaml:"speech"`
	} `yaml:"session"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
	Resources struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"resources"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	Bridge struct {
		Addr string `yaml:"addr"`
	} `yaml:"bridge"`
}

const (
	defaultReadyTimeout = 60 * time.Second
	defaultTurnTimeout  = 90 * time.Second
	defaultStopTimeout  = 1200 * time.Millisecond
	defaultBridgeAddr   = "127.0.0.1:5174"
)

// Load resolves configuration. Precedence: environment (including .env files,
// which never override variables already set), then the YAML file, then
// defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "lyra")
	stateDir := filepath.Join(home, ".local", "state", "lyra")

	loadDotEnv(
		strings.TrimSpace(os.Getenv("LYRA_ENV_FILE")),
		".env",
		filepath.Join(configDir, ".env"),
	)

	file, err := loadFile(envOrDefault("LYRA_CONFIG_FILE", filepath.Join(configDir, "config.yaml")))
	if err != nil {
		return Config{}, err
	}

	appDir := envOrDefault("LYRA_APP_DIR", ".")
	script := envOrDefault("LYRA_ENGINE_SCRIPT", firstNonEmpty(file.Engine.Script, filepath.Join(appDir, "python", "engine.py")))

	cfg := Config{
		Engine: EngineConfig{
			Python:       envOrDefault("LYRA_ENGINE_PYTHON", firstNonEmpty(file.Engine.Python, defaultPython(appDir))),
			Script:       script,
			Args:         envOrDefaultList("LYRA_ENGINE_ARGS", file.Engine.Args),
			Dir:          envOrDefault("LYRA_ENGINE_DIR", firstNonEmpty(file.Engine.Dir, filepath.Dir(script))),
			ReadyTimeout: envOrDefaultMillis("LYRA_ENGINE_READY_TIMEOUT_MS", millisOr(file.Engine.ReadyTimeoutMS, defaultReadyTimeout)),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("LYRA_RECORDER_COMMAND", file.Audio.Recorder),
			InputFormat:     envOrDefault("LYRA_AUDIO_INPUT_FORMAT", file.Audio.InputFormat),
			InputDevice:     envOrDefault("LYRA_AUDIO_INPUT_DEVICE", file.Audio.InputDevice),
			SampleRate:      envOrDefaultInt("LYRA_SAMPLE_RATE", orInt(file.Audio.SampleRate, 16000)),
			Channels:        envOrDefaultInt("LYRA_CHANNELS", orInt(file.Audio.Channels, 1)),
			ScratchDir:      envOrDefault("LYRA_SCRATCH_DIR", firstNonEmpty(file.Audio.ScratchDir, filepath.Join(os.TempDir(), "lyra"))),
			StopTimeout:     envOrDefaultMillis("LYRA_RECORDER_STOP_TIMEOUT_MS", millisOr(file.Audio.StopTimeoutMS, defaultStopTimeout)),
		},
		Playback: PlaybackConfig{
			Command: envOrDefault("LYRA_PLAYER_COMMAND", firstNonEmpty(file.Playback.Command, "ffplay")),
			Args:    envOrDefaultList("LYRA_PLAYER_ARGS", file.Playback.Args),
		},
		Safety: SafetyConfig{
			TermsPath: envOrDefault("LYRA_TERMS_FILE", firstNonEmpty(file.Safety.TermsFile, filepath.Join(configDir, "banned.terms"))),
		},
		Session: SessionConfig{
			TurnTimeout:   envOrDefaultMillis("LYRA_TURN_TIMEOUT_MS", turnTimeout(file.Session.TurnTimeoutMS)),
			SpeechEnabled: envOrDefaultBool("LYRA_SPEECH", derefBool(file.Session.Speech, true)),
		},
		Journal: JournalConfig{
			Path: envOrDefault("LYRA_JOURNAL_DB", firstNonEmpty(file.Journal.Path, filepath.Join(stateDir, "journal.db"))),
		},
		Resources: ResourcesConfig{
			GoogleMapsAPIKey: strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY")),
			BaseURL:          envOrDefault("LYRA_MAPS_BASE_URL", file.Resources.BaseURL),
		},
		Log: LogConfig{
			Level: strings.ToLower(envOrDefault("LYRA_LOG_LEVEL", firstNonEmpty(file.Log.Level, "info"))),
			File:  envOrDefault("LYRA_LOG_FILE", firstNonEmpty(file.Log.File, filepath.Join(stateDir, "lyra.log"))),
		},
		Bridge: BridgeConfig{
			Addr: envOrDefault("LYRA_BRIDGE_ADDR", firstNonEmpty(file.Bridge.Addr, defaultBridgeAddr)),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Engine.ReadyTimeout <= 0 {
		cfg.Engine.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.Audio.StopTimeout <= 0 {
		cfg.Audio.StopTimeout = defaultStopTimeout
	}

	return cfg, nil
}

func defaultPython(appDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(appDir, "python", "venv", "Scripts", "python.exe")
	}
	return filepath.Join(appDir, "python", "venv", "bin", "python")
}

func loadDotEnv(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		// godotenv.Load never overrides variables already present.
		_ = godotenv.Load(path)
	}
}

func loadFile(path string) (fileConfig, error) {
	var file fileConfig
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return file, nil
		}
		return file, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return file, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return file, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func orInt(value int, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func millisOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// turnTimeout keeps an explicit zero so the timer can be disabled from the file.
func turnTimeout(ms *int) time.Duration {
	if ms == nil || *ms < 0 {
		return defaultTurnTimeout
	}
	return time.Duration(*ms) * time.Millisecond
}

func derefBool(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

// envOrDefaultList splits a whitespace-separated list.
func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return strings.Fields(value)
}
