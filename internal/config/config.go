// Package config reads the process's environment-variable configuration
// at startup into a flat Config struct,
// following the same flat-scalar os.Getenv pattern used elsewhere in this
// codebase rather than introducing a layered config library such as
// spf13/viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is every environment-driven setting this core reads at startup.
type Config struct {
	PostgresDSN string

	CacheDir      string
	CacheMaxBytes int64
	CacheTTL      time.Duration

	PregenBaseDir     string
	ComparisonDir     string
	ProfileSamplesDir string
	KBAudioBaseDir    string

	TTSLiveCapacity       int
	TTSBackgroundCapacity int
	TTSUpstreamTimeout    time.Duration
	TTSUpstreamOverrides  map[string]string // provider name -> URL override

	AnthropicAPIKey string
	AnthropicModel  string
}

// Load reads Config from the environment, applying per-component
// defaults (cache 2GiB/30d, live/background capacity 7/3, etc).
func Load() (Config, error) {
	cfg := Config{
		PostgresDSN:           os.Getenv("VOICETUTOR_POSTGRES_DSN"),
		CacheDir:              getEnvDefault("VOICETUTOR_CACHE_DIR", "./data/cache"),
		CacheMaxBytes:         getEnvInt64Default("VOICETUTOR_CACHE_MAX_BYTES", 2*1024*1024*1024),
		CacheTTL:              getEnvDurationDefault("VOICETUTOR_CACHE_TTL", 30*24*time.Hour),
		PregenBaseDir:         getEnvDefault("VOICETUTOR_PREGEN_DIR", "./data/pregen"),
		ComparisonDir:         getEnvDefault("VOICETUTOR_COMPARISON_DIR", "./data/comparison"),
		ProfileSamplesDir:     getEnvDefault("VOICETUTOR_PROFILE_SAMPLES_DIR", "./data/profile-samples"),
		KBAudioBaseDir:        getEnvDefault("VOICETUTOR_KB_AUDIO_DIR", "./data/kb-audio"),
		TTSLiveCapacity:       getEnvIntDefault("VOICETUTOR_TTS_LIVE_CAPACITY", 7),
		TTSBackgroundCapacity: getEnvIntDefault("VOICETUTOR_TTS_BACKGROUND_CAPACITY", 3),
		TTSUpstreamTimeout:    getEnvDurationDefault("VOICETUTOR_TTS_TIMEOUT", 30*time.Second),
		AnthropicAPIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:        getEnvDefault("VOICETUTOR_LLM_MODEL", "haiku"),
	}

	overrides := map[string]string{
		"vibevoice":  os.Getenv("VOICETUTOR_TTS_URL_VIBEVOICE"),
		"piper":      os.Getenv("VOICETUTOR_TTS_URL_PIPER"),
		"chatterbox": os.Getenv("VOICETUTOR_TTS_URL_CHATTERBOX"),
	}
	for provider, url := range overrides {
		if url == "" {
			delete(overrides, provider)
		}
	}
	if len(overrides) > 0 {
		cfg.TTSUpstreamOverrides = overrides
	}

	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("config: VOICETUTOR_POSTGRES_DSN is required")
	}
	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64Default(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
