// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Engine modes.
const (
	EngineRemote = "remote"
	EngineLocal  = "local"
)

// Endpoints are the backend operations, each a full URL.
type Endpoints struct {
	CreateJob         string
	GetJob            string
	LoadConversations string
	RateMessage       string
	AddComment        string
	AddURL            string
	DeleteURL         string
	AddDocument       string
	DeleteDocument    string
	ListBlocks        string
	CitationAnalytics string
}

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	SessionIdle        time.Duration

	// Backend settings
	BackendURL    string
	BackendAPIKey string
	Endpoints     Endpoints
	TableName     string
	IndexName     string

	// Retry and polling
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	PollInterval      time.Duration
	MaxPolls          int
	RevealInterval    time.Duration
	MaxQuestionLength int
	HistoryLimit      int

	// Local engine
	EngineMode        string
	EngineMaxInFlight int

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory when there is one.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return FromEnv(), nil
}

// FromEnv reads configuration from environment variables only.
func FromEnv() *Config {
	backend := strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8080/engine"), "/")

	cfg := &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 6*time.Minute),
		SessionIdle:        getDurationEnv("SESSION_IDLE", 30*time.Minute),

		// Backend
		BackendURL:    backend,
		BackendAPIKey: getEnv("BACKEND_API_KEY", ""),
		TableName:     getEnv("BACKEND_TABLE", "spaceship_bot_messages"),
		IndexName:     getEnv("BACKEND_INDEX", "spaceship-docs"),

		// Retry and polling
		RetryMaxAttempts:  getIntEnv("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:    getDurationEnv("RETRY_BASE_DELAY", 2*time.Second),
		PollInterval:      getDurationEnv("POLL_INTERVAL", 2*time.Second),
		MaxPolls:          getIntEnv("MAX_POLLS", 150),
		RevealInterval:    getDurationEnv("REVEAL_INTERVAL", 15*time.Millisecond),
		MaxQuestionLength: getIntEnv("MAX_QUESTION_LENGTH", 1000),
		HistoryLimit:      getIntEnv("HISTORY_LIMIT", 10),

		// Local engine
		EngineMode:        strings.ToLower(getEnv("ENGINE_MODE", EngineRemote)),
		EngineMaxInFlight: getIntEnv("ENGINE_MAX_IN_FLIGHT", 8),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", true),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 30*24*time.Hour),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "echo"),
		LLMModel:        getEnv("LLM_MODEL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}

	cfg.Endpoints = Endpoints{
		CreateJob:         getEnv("CREATE_JOB_URL", backend+"/jobs"),
		GetJob:            getEnv("GET_JOB_URL", backend+"/jobs"),
		LoadConversations: getEnv("LOAD_CONVERSATIONS_URL", backend+"/load-conversations"),
		RateMessage:       getEnv("RATE_MESSAGE_URL", backend+"/rate-message"),
		AddComment:        getEnv("ADD_COMMENT_URL", backend+"/add-comment"),
		AddURL:            getEnv("ADD_URL_URL", backend+"/add-url"),
		DeleteURL:         getEnv("DELETE_URL_URL", backend+"/delete-url"),
		AddDocument:       getEnv("ADD_DOCUMENT_URL", backend+"/add-document"),
		DeleteDocument:    getEnv("DELETE_DOCUMENT_URL", backend+"/delete-document"),
		ListBlocks:        getEnv("LIST_BLOCKS_URL", backend+"/list-blocks"),
		CitationAnalytics: getEnv("CITATION_ANALYTICS_URL", backend+"/analytics-citation"),
	}
	return cfg
}

// LLMKey returns the API key of the configured provider.
func (c *Config) LLMKey() string {
	switch c.DefaultLLM {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
