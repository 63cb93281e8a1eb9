package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Rehearsal environment variables.
const EnvPrefix = "REHEARSAL_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	ReportDir  string `yaml:"report_dir"`
	WebDir     string `yaml:"web_dir"`
	Language   string `yaml:"language"`

	QuestionsFile       string `yaml:"questions_file"`
	QuestionsPerSession int    `yaml:"questions_per_session"`
	AnswerDuration      string `yaml:"answer_duration"`

	MicDevice       string `yaml:"mic_device"`
	MicSampleRate   int    `yaml:"mic_sample_rate"`
	MicSampleRates  []int  `yaml:"mic_sample_rates"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`

	DeepgramModel   string `yaml:"deepgram_model"`
	EvaluationURL   string `yaml:"evaluation_url"`
	EvaluationModel string `yaml:"evaluation_model"`

	SpeechRate   float64 `yaml:"speech_rate"`
	SpeechVolume float64 `yaml:"speech_volume"`
	SpeechVoice  string  `yaml:"speech_voice"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            "127.0.0.1:8080",
		DBPath:                "data/rehearsal.db",
		ReportDir:             "data/reports",
		Language:              "zh-CN",
		QuestionsPerSession:   3,
		AnswerDuration:        "5m",
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100, 32000, 24000},
		FramesPerBuffer:       1024,
		DeepgramModel:         "nova-2",
		EvaluationModel:       "openai/gpt-4o-mini",
		SpeechRate:            1,
		SpeechVolume:          0.8,
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

// ParsedAnswerDuration returns AnswerDuration as a time.Duration,
// falling back to five minutes if the value is invalid.
func (c *Config) ParsedAnswerDuration() time.Duration {
	d, err := time.ParseDuration(c.AnswerDuration)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	return dedupeRates(combined)
}

// LLMAPIKey returns the key for an evaluation model provider, or "" when the
// provider is unknown or not configured.
func (c *Config) LLMAPIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *Config) {
	text := map[string]*string{
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"DB_PATH":                 &cfg.DBPath,
		"REPORT_DIR":              &cfg.ReportDir,
		"WEB_DIR":                 &cfg.WebDir,
		"LANGUAGE":                &cfg.Language,
		"QUESTIONS_FILE":          &cfg.QuestionsFile,
		"ANSWER_DURATION":         &cfg.AnswerDuration,
		"MIC_DEVICE":              &cfg.MicDevice,
		"DEEPGRAM_MODEL":          &cfg.DeepgramModel,
		"EVALUATION_URL":          &cfg.EvaluationURL,
		"EVALUATION_MODEL":        &cfg.EvaluationModel,
		"SPEECH_VOICE":            &cfg.SpeechVoice,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
	}
	for key, dst := range text {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"QUESTIONS_PER_SESSION": &cfg.QuestionsPerSession,
		"MIC_SAMPLE_RATE":       &cfg.MicSampleRate,
		"FRAMES_PER_BUFFER":     &cfg.FramesPerBuffer,
	}
	for key, dst := range ints {
		if n, ok := envInt(key); ok && n > 0 {
			*dst = n
		}
	}

	floats := map[string]*float64{
		"SPEECH_RATE":   &cfg.SpeechRate,
		"SPEECH_VOLUME": &cfg.SpeechVolume,
	}
	for key, dst := range floats {
		if f, ok := envFloat(key); ok {
			*dst = f
		}
	}

	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return n, err == nil
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f, err == nil
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured; speech recognition is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.EvaluationURL == "" {
		if provider, _, ok := strings.Cut(cfg.EvaluationModel, "/"); !ok {
			warnings = append(warnings, fmt.Sprintf("Invalid evaluation_model %q; expected provider/model. Evaluations will use the fallback report.", cfg.EvaluationModel))
		} else if cfg.LLMAPIKey(provider) == "" {
			warnings = append(warnings, fmt.Sprintf("No API key for evaluation provider %q; evaluations will use the fallback report.", provider))
		}
	}
	if d, err := time.ParseDuration(cfg.AnswerDuration); err != nil || d <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid answer_duration %q; using default 5m.", cfg.AnswerDuration))
	}
	if cfg.QuestionsPerSession <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid questions_per_session %d; using default 3.", cfg.QuestionsPerSession))
		cfg.QuestionsPerSession = 3
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	rates := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil {
			continue
		}
		rates = append(rates, rate)
	}

	return dedupeRates(rates)
}

func dedupeRates(rates []int) []int {
	seen := make(map[int]struct{}, len(rates))
	result := make([]int, 0, len(rates))
	for _, rate := range rates {
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
