package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Ai        AIConfig
	Index     IndexConfig
	Retrieval RetrievalConfig
	Cache     CacheConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	FailureLogPath     string
	PipelineLogPath    string
	CorsAllowedOrigins string
}

type AIConfig struct {
	LLMServerURL        string
	MultimodalServerURL string
	MaxInflightCalls    int
	ContextWindow       int
	EmbeddingProvider   string // "ollama"
	OllamaBaseURL       string
	OllamaModel         string
}

type IndexConfig struct {
	Backend    string // "memory" or "pgvector"
	Connection string // Postgres DSN when Backend is "pgvector"
}

type RetrievalConfig struct {
	VectorWeight  float64
	KeywordWeight float64
	SectionWeight float64
}

type CacheConfig struct {
	Path     string
	TTLHours int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "8000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			FailureLogPath:     getEnv("FAILURE_LOG_PATH", "logs/reasoning_failures.log"),
			PipelineLogPath:    getEnv("PIPELINE_LOG_PATH", "logs/pipeline.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		},
		Ai: AIConfig{
			LLMServerURL:        getEnv("LLM_SERVER_URL", "http://127.0.0.1:8080"),
			MultimodalServerURL: getEnv("MULTIMODAL_SERVER_URL", "http://127.0.0.1:8082"),
			MaxInflightCalls:    getEnvAsInt("LLM_MAX_INFLIGHT", 2),
			ContextWindow:       getEnvAsInt("LLM_CONTEXT_WINDOW", 2048),
			EmbeddingProvider:   getEnv("EMBEDDING_PROVIDER", "ollama"),
			OllamaBaseURL:       getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:         getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Index: IndexConfig{
			Backend:    getEnv("INDEX_BACKEND", "memory"),
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Retrieval: RetrievalConfig{
			VectorWeight:  getEnvAsFloat("RETRIEVAL_VECTOR_WEIGHT", 0.6),
			KeywordWeight: getEnvAsFloat("RETRIEVAL_KEYWORD_WEIGHT", 0.3),
			SectionWeight: getEnvAsFloat("RETRIEVAL_SECTION_WEIGHT", 0.1),
		},
		Cache: CacheConfig{
			Path:     getEnv("RESPONSE_CACHE_PATH", "cache/responses.db"),
			TTLHours: getEnvAsInt("RESPONSE_CACHE_TTL_HOURS", 24),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}
