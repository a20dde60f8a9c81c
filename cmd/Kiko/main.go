// Command Kiko runs the RS Sehat Selalu hospital chatbot: the HTTP API, the
// WhatsApp and Twilio channels, and the outbox that delivers their replies.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/Kiko/internal/api"
	"github.com/BTreeMap/Kiko/internal/genai"
	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/ratelimit"
	"github.com/BTreeMap/Kiko/internal/store"
	"github.com/BTreeMap/Kiko/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Kiko state data
	DefaultStateDir = "/var/lib/kiko"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "kiko.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Config holds the resolved configuration.
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	RedisURL         string
	StateTTL         time.Duration
	APIAddr          string
	LogLevel         string

	LLMEnabled    bool
	LLMBaseURL    string
	LLMModel      string
	LLMAPIKey     string
	LLMTimeout    time.Duration
	GenAIDebug    bool
	DirectoryFile string

	RateLimitPerMinute int
	RateLimitPerDay    int
	MaxInputLength     int
	EdgeQPS            float64
	EdgeBurst          int
	AdminToken         string
	TrustProxy         bool

	AlertWebhookURL    string
	AlertWebhookSecret string

	WhatsAppEnabled  bool
	WhatsAppQRPath   string
	WhatsAppNumeric  bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string
	TwilioInsecure   bool
}

// loadEnvironmentConfig loads configuration from the .env file and the environment.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("loadEnvironmentConfig: no .env file loaded", "error", err)
	}

	cfg := Config{
		StateDir:         os.Getenv("KIKO_STATE_DIR"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		RedisURL:         os.Getenv("REDIS_URL"),
		StateTTL:         util.ParseDurationEnv("STATE_TTL", store.DefaultStateTTL),
		APIAddr:          os.Getenv("API_ADDR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),

		LLMEnabled:    util.ParseBoolEnv("LLM_ENABLED", true),
		LLMBaseURL:    os.Getenv("OLLAMA_BASE_URL"),
		LLMModel:      os.Getenv("OLLAMA_MODEL"),
		LLMAPIKey:     os.Getenv("LLM_API_KEY"),
		LLMTimeout:    util.ParseDurationEnv("LLM_TIMEOUT", genai.DefaultTimeout),
		GenAIDebug:    util.ParseBoolEnv("GENAI_DEBUG", false),
		DirectoryFile: os.Getenv("KIKO_DIRECTORY_FILE"),

		RateLimitPerMinute: util.ParseIntEnv("RATE_LIMIT_PER_MINUTE", ratelimit.DefaultPerMinute),
		RateLimitPerDay:    util.ParseIntEnv("RATE_LIMIT_PER_DAY", ratelimit.DefaultPerDay),
		MaxInputLength:     util.ParseIntEnv("MAX_INPUT_LENGTH", models.DefaultMaxInputLength),
		EdgeQPS:            util.ParseFloatEnv("EDGE_RATE_QPS", api.DefaultEdgeQPS),
		EdgeBurst:          util.ParseIntEnv("EDGE_RATE_BURST", api.DefaultEdgeBurst),
		AdminToken:         os.Getenv("KIKO_ADMIN_TOKEN"),
		TrustProxy:         util.ParseBoolEnv("TRUST_PROXY", false),

		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),

		WhatsAppEnabled:  util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		TwilioInsecure:   util.ParseBoolEnv("TWILIO_WEBHOOK_INSECURE", false),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	// DATABASE_URL is the conventional name; DATABASE_DSN wins when both are set.
	if cfg.ApplicationDBDSN == "" {
		cfg.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = api.DefaultAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = genai.DefaultBaseURL
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = genai.DefaultModel
	}
	applyStateDirDefaults(&cfg)

	slog.Debug("loadEnvironmentConfig: environment loaded",
		"KIKO_STATE_DIR", cfg.StateDir,
		"DATABASE_DSN_SET", cfg.ApplicationDBDSN != "",
		"REDIS_URL_SET", cfg.RedisURL != "",
		"API_ADDR", cfg.APIAddr,
		"ADMIN_API_ENABLED", cfg.AdminToken != "",
		"TRUST_PROXY", cfg.TrustProxy,
		"LLM_ENABLED", cfg.LLMEnabled,
		"OLLAMA_MODEL", cfg.LLMModel,
		"WHATSAPP_ENABLED", cfg.WhatsAppEnabled,
		"TWILIO_SET", cfg.TwilioAccountSID != "")
	return cfg
}

// applyStateDirDefaults points unset database DSNs at files in the state directory.
func applyStateDirDefaults(cfg *Config) {
	if cfg.ApplicationDBDSN == "" {
		cfg.ApplicationDBDSN = filepath.Join(cfg.StateDir, DefaultAppDBFileName)
	}
	if cfg.WhatsAppDBDSN == "" {
		cfg.WhatsAppDBDSN = "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// parseCommandLineFlags applies flag overrides on top of cfg.
func parseCommandLineFlags(cfg Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("kiko", flag.ContinueOnError)
	envStateDir := cfg.StateDir
	defaultAppDSN := filepath.Join(envStateDir, DefaultAppDBFileName)
	defaultWADSN := "file:" + filepath.Join(envStateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"

	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for Kiko data (overrides $KIKO_STATE_DIR)")
	fs.StringVar(&cfg.ApplicationDBDSN, "db-dsn", cfg.ApplicationDBDSN, "application database DSN, SQLite path or Postgres URL (overrides $DATABASE_DSN)")
	fs.StringVar(&cfg.WhatsAppDBDSN, "whatsapp-db-dsn", cfg.WhatsAppDBDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for conversation state (overrides $REDIS_URL)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.StringVar(&cfg.LLMBaseURL, "ollama-url", cfg.LLMBaseURL, "OpenAI-compatible model server URL (overrides $OLLAMA_BASE_URL)")
	fs.StringVar(&cfg.LLMModel, "model", cfg.LLMModel, "model name (overrides $OLLAMA_MODEL)")
	fs.BoolVar(&cfg.LLMEnabled, "llm", cfg.LLMEnabled, "answer unmatched messages with the language model (overrides $LLM_ENABLED)")
	fs.StringVar(&cfg.DirectoryFile, "directory-file", cfg.DirectoryFile, "YAML doctor roster, hot-reloaded (overrides $KIKO_DIRECTORY_FILE)")
	fs.BoolVar(&cfg.WhatsAppEnabled, "whatsapp", cfg.WhatsAppEnabled, "enable the WhatsApp channel (overrides $WHATSAPP_ENABLED)")
	fs.StringVar(&cfg.WhatsAppQRPath, "qr-output", cfg.WhatsAppQRPath, "path to write the WhatsApp login QR code")
	fs.BoolVar(&cfg.WhatsAppNumeric, "numeric-code", cfg.WhatsAppNumeric, "print the WhatsApp pairing code instead of a QR code")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	// A new state dir moves the default database files with it.
	if cfg.StateDir != envStateDir {
		if cfg.ApplicationDBDSN == defaultAppDSN {
			cfg.ApplicationDBDSN = ""
		}
		if cfg.WhatsAppDBDSN == defaultWADSN {
			cfg.WhatsAppDBDSN = ""
		}
		applyStateDirDefaults(&cfg)
	}
	return cfg, nil
}

// parseLogLevel maps a level name to slog.Level, defaulting to debug.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// initializeLogger sets up structured logging at level.
func initializeLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// buildGenAIOptions constructs model client options.
func buildGenAIOptions(cfg Config) []genai.Option {
	opts := []genai.Option{
		genai.WithBaseURL(cfg.LLMBaseURL),
		genai.WithModel(cfg.LLMModel),
		genai.WithTimeout(cfg.LLMTimeout),
	}
	if cfg.LLMAPIKey != "" {
		opts = append(opts, genai.WithAPIKey(cfg.LLMAPIKey))
	}
	if cfg.GenAIDebug {
		opts = append(opts, genai.WithDebugMode(true, cfg.StateDir))
	}
	return opts
}

func main() {
	cfg, err := parseCommandLineFlags(loadEnvironmentConfig(), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := initializeLogger(parseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Bootstrapping Kiko", "version", version, "state_dir", cfg.StateDir, "api_addr", cfg.APIAddr)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Kiko failed to run", "error", err)
		os.Exit(1)
	}
	logger.Info("Kiko exited successfully")
}
