package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all kouyi environment variables.
const EnvPrefix = "KOUYI_"

const (
	DefaultBaseURL       = "https://api.siliconflow.cn/v1"
	DefaultModel         = "deepseek-ai/DeepSeek-R1-Distill-Qwen-32B"
	DefaultVoiceModel    = "fish-speech-1.5"
	DefaultVoiceID       = "alex"
	DefaultLevelInterval = 16 * time.Millisecond
)

var (
	providers = []string{"openai", "anthropic", "gemini"}
	backends  = []string{"openai", "deepgram"}
)

type Transcription struct {
	Backend  string `yaml:"backend"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// Config holds all application configuration. The language model key may be
// stored in the file because users save it through the settings API; the
// environment still wins when set.
type Config struct {
	ListenAddr            string        `yaml:"listen_addr"`
	DBPath                string        `yaml:"db_path"`
	AudioDir              string        `yaml:"audio_dir"`
	Provider              string        `yaml:"provider"`
	BaseURL               string        `yaml:"base_url"`
	APIKey                string        `yaml:"api_key"`
	Model                 string        `yaml:"model"`
	VoiceModel            string        `yaml:"voice_model"`
	VoiceID               string        `yaml:"voice_id"`
	Transcription         Transcription `yaml:"transcription"`
	MicSampleRate         int           `yaml:"mic_sample_rate"`
	MicSampleRates        []int         `yaml:"mic_sample_rates"`
	LevelInterval         string        `yaml:"level_interval"`
	AutoTranscribe        bool          `yaml:"auto_transcribe"`
	GDriveFolderID        string        `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string        `yaml:"google_credentials_file"`

	// Secrets, env vars only.
	DeepgramAPIKey string `yaml:"-"`
}

// Settings is the user-editable subset of Config.
type Settings struct {
	APIKey     string `json:"apiKey"`
	Model      string `json:"model"`
	VoiceModel string `json:"voiceModel"`
	VoiceID    string `json:"voiceId"`
}

func DefaultSettings() Settings {
	return Settings{Model: DefaultModel, VoiceModel: DefaultVoiceModel, VoiceID: DefaultVoiceID}
}

// withDefaults fills empty fields other than the API key.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Model = strings.TrimSpace(s.Model)
	s.VoiceModel = strings.TrimSpace(s.VoiceModel)
	s.VoiceID = strings.TrimSpace(s.VoiceID)
	if s.Model == "" {
		s.Model = d.Model
	}
	if s.VoiceModel == "" {
		s.VoiceModel = d.VoiceModel
	}
	if s.VoiceID == "" {
		s.VoiceID = d.VoiceID
	}
	return s
}

// Masked returns a copy safe to return over the API.
func (s Settings) Masked() Settings {
	if n := len(s.APIKey); n > 8 {
		s.APIKey = s.APIKey[:4] + strings.Repeat("*", n-8) + s.APIKey[n-4:]
	} else if n > 0 {
		s.APIKey = strings.Repeat("*", n)
	}
	return s
}

func defaults() Config {
	return Config{
		ListenAddr: "127.0.0.1:8080",
		DBPath:     "data/kouyi.db",
		AudioDir:   "data/audio",
		Provider:   "openai",
		BaseURL:    DefaultBaseURL,
		Model:      DefaultModel,
		VoiceModel: DefaultVoiceModel,
		VoiceID:    DefaultVoiceID,
		Transcription: Transcription{
			Backend: "openai",
			Model:   "FunAudioLLM/SenseVoiceSmall",
		},
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100},
		LevelInterval:         "16ms",
		AutoTranscribe:        true,
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

func (c *Config) Settings() Settings {
	return Settings{APIKey: c.APIKey, Model: c.Model, VoiceModel: c.VoiceModel, VoiceID: c.VoiceID}.withDefaults()
}

// ParsedLevelInterval returns LevelInterval as a time.Duration, falling back
// to 16ms if the value is invalid.
func (c *Config) ParsedLevelInterval() time.Duration {
	d, err := time.ParseDuration(c.LevelInterval)
	if err != nil || d <= 0 {
		return DefaultLevelInterval
	}
	return d
}

// PreferredSampleRates returns the configured rate followed by the configured
// alternatives, deduplicated. The capture device appends its own defaults.
func (c *Config) PreferredSampleRates() []int {
	combined := append([]int{c.MicSampleRate}, c.MicSampleRates...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
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
	if v := os.Getenv(EnvPrefix + "PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv(EnvPrefix + "BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_BACKEND"); v != "" {
		cfg.Transcription.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_MODEL"); v != "" {
		cfg.Transcription.Model = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_LANGUAGE"); v != "" {
		cfg.Transcription.Language = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "LEVEL_INTERVAL"); v != "" {
		cfg.LevelInterval = v
	}
	if v := os.Getenv(EnvPrefix + "AUTO_TRANSCRIBE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.AutoTranscribe = b
		}
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "API_KEY"); v != "" {
		cfg.APIKey = v
	}
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if strings.TrimSpace(cfg.APIKey) == "" {
		warnings = append(warnings, "API key not configured. Speech generation, evaluation and synthesis fail until one is saved through /api/config or set in "+EnvPrefix+"API_KEY.")
	}
	if !slices.Contains(providers, cfg.Provider) {
		warnings = append(warnings, fmt.Sprintf("Unknown provider %q, using openai.", cfg.Provider))
		cfg.Provider = "openai"
	}
	if !slices.Contains(backends, cfg.Transcription.Backend) {
		warnings = append(warnings, fmt.Sprintf("Unknown transcription backend %q, using openai.", cfg.Transcription.Backend))
		cfg.Transcription.Backend = "openai"
	}
	if cfg.Transcription.Backend == "deepgram" && cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured. Transcription requests will fail. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if d, err := time.ParseDuration(cfg.LevelInterval); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid level_interval %q, using default 16ms.", cfg.LevelInterval))
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
