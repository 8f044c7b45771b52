// Package lmconfig loads the lemonade-server process configuration from
// flags and environment variables, following the LEMONADE_* naming
// convention carried over from the Python implementation this module
// replaces.
package lmconfig

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every process-wide setting read at startup. Handlers and
// background workers receive the pieces they need rather than this struct
// directly, so it is only consumed in cmd/lemonade-server and pkg/supervisor.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`

	APIKey string `mapstructure:"api-key"`

	LlamaCppBackend string `mapstructure:"llamacpp"`
	CtxSize         int    `mapstructure:"ctx-size"`

	CacheDir   string `mapstructure:"cache-dir"`
	HFHome     string `mapstructure:"hf-home"`
	HFHubCache string `mapstructure:"hf-hub-cache"`

	CorsOrigins   string  `mapstructure:"cors-origins"`
	RateLimitRPS  float64 `mapstructure:"rate-limit-rps"`
	ShutdownGrace int     `mapstructure:"shutdown-grace"`

	MaxLLM        int `mapstructure:"max-llm"`
	MaxEmbedding  int `mapstructure:"max-embedding"`
	MaxReranking  int `mapstructure:"max-reranking"`
	EphemeralLow  int `mapstructure:"ephemeral-low"`
	EphemeralHigh int `mapstructure:"ephemeral-high"`

	EnableRealtime bool `mapstructure:"enable-realtime-transcription"`
}

const (
	envPrefix = "LEMONADE"

	defaultPort          = 8000
	defaultHost          = "localhost"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultCtxSize       = 4096
	defaultShutdownGrace = 15

	defaultMaxLLM        = 2
	defaultMaxEmbedding  = 1
	defaultMaxReranking  = 1
	defaultEphemeralLow  = 49152
	defaultEphemeralHigh = 65535
)

// Load builds a Config from CLI flags (via the supplied FlagSet, typically
// a cobra command's Flags()) layered over environment variables and
// platform-aware defaults.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("unable to bind flags: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// The hub cache location is also read from the standard Hugging Face
	// variable, after the LEMONADE_-prefixed one.
	if err := v.BindEnv("hf-hub-cache", envPrefix+"_HF_HUB_CACHE", "HF_HUB_CACHE"); err != nil {
		return nil, fmt.Errorf("unable to bind environment: %w", err)
	}

	v.SetDefault("host", defaultHost)
	v.SetDefault("port", defaultPort)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	v.SetDefault("llamacpp", defaultLlamaCppBackend())
	v.SetDefault("ctx-size", defaultCtxSize)
	v.SetDefault("shutdown-grace", defaultShutdownGrace)
	v.SetDefault("max-llm", defaultMaxLLM)
	v.SetDefault("max-embedding", defaultMaxEmbedding)
	v.SetDefault("max-reranking", defaultMaxReranking)
	v.SetDefault("ephemeral-low", defaultEphemeralLow)
	v.SetDefault("ephemeral-high", defaultEphemeralHigh)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal configuration: %w", err)
	}
	return &cfg, nil
}

// defaultLlamaCppBackend mirrors the platform-aware default from the
// original implementation: Metal on Apple Silicon, Vulkan everywhere else.
// LEMONADE_LLAMACPP overrides this via viper's automatic environment lookup,
// so this is only consulted when that variable is unset.
func defaultLlamaCppBackend() string {
	if runtime.GOOS == "darwin" && (runtime.GOARCH == "arm64") {
		return "metal"
	}
	return "vulkan"
}

// RegisterFlags adds the flags Load understands to flags, with the same
// names used by mapstructure tags above so BindPFlags lines them up.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("host", defaultHost, "Host interface to bind")
	flags.Int("port", defaultPort, "Port to listen on")
	flags.String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")
	flags.String("log-format", defaultLogFormat, "Log format (text, json, console)")
	flags.String("log-file", "", "Optional rotating log file path")
	flags.String("api-key", "", "Require this API key on all endpoints except /live and /metrics")
	flags.String("llamacpp", "", "llama.cpp backend to use (vulkan, metal, rocm, cpu)")
	flags.Int("ctx-size", defaultCtxSize, "Default context size for loaded models")
	flags.String("cache-dir", "", "Root directory for cached models and server state")
	flags.String("hf-home", "", "Hugging Face home directory override")
	flags.String("hf-hub-cache", "", "Hugging Face hub cache directory override")
	flags.String("cors-origins", "", "Comma-separated list of allowed CORS origins, or * for all")
	flags.Float64("rate-limit-rps", 0, "Per-client request rate limit in requests/second (0 disables limiting)")
	flags.Int("shutdown-grace", defaultShutdownGrace, "Seconds to wait for wrapped servers to exit before forcing termination")
	flags.Int("max-llm", defaultMaxLLM, "Maximum number of concurrently loaded LLM recipes")
	flags.Int("max-embedding", defaultMaxEmbedding, "Maximum number of concurrently loaded embedding recipes")
	flags.Int("max-reranking", defaultMaxReranking, "Maximum number of concurrently loaded reranking recipes")
	flags.Int("ephemeral-low", defaultEphemeralLow, "Low end of the port range used for wrapped server binding")
	flags.Int("ephemeral-high", defaultEphemeralHigh, "High end of the port range used for wrapped server binding")
	flags.Bool("enable-realtime-transcription", false, "Mount the streaming audio transcription websocket route")
}
