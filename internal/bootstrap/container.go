package bootstrap

import (
	"log"
	"os"
	"path/filepath"

	"doc-qa-engine/internal/config"
	"doc-qa-engine/internal/controller"
	"doc-qa-engine/internal/pkg/logger"
	"doc-qa-engine/pkg/cache"
	"doc-qa-engine/pkg/embedding"
	"doc-qa-engine/pkg/index"
	"doc-qa-engine/pkg/llm/llamacpp"
	"doc-qa-engine/pkg/rag/orchestrator"
	"doc-qa-engine/pkg/rag/reasoning"
	"doc-qa-engine/pkg/rag/retrieval"
	"doc-qa-engine/pkg/rag/understanding"
	"doc-qa-engine/pkg/rag/verification"
	"doc-qa-engine/pkg/translate"

	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Container struct {
	QueryController controller.IQueryController

	Logger        logger.ILogger
	ResponseCache *cache.SQLiteCache
}

func NewContainer(cfg *config.Config) *Container {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	pipelineLogger := initPipelineLogger(cfg.App.PipelineLogPath)

	// 2. LLM client - the only code path that talks to the model server
	llmClient := llamacpp.New(
		cfg.Ai.LLMServerURL,
		cfg.Ai.MultimodalServerURL,
		int64(cfg.Ai.MaxInflightCalls),
	)
	sysLogger.Info("bootstrap", "LLM client initialized", map[string]interface{}{
		"server":       cfg.Ai.LLMServerURL,
		"max_inflight": cfg.Ai.MaxInflightCalls,
	})

	// 3. Embedding provider with LRU memoization
	var embedder embedding.Provider = embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaModel)
	if memoized, err := embedding.NewMemoized(embedder, 256); err == nil {
		embedder = memoized
	}

	// 4. Vector index backend
	var idx index.VectorIndex
	if cfg.Index.Backend == "pgvector" && cfg.Index.Connection != "" {
		db, err := gorm.Open(postgres.Open(cfg.Index.Connection), &gorm.Config{})
		if err != nil {
			log.Fatalf("[FATAL] Unable to connect to pgvector backend: %v", err)
		}
		idx = index.NewPgVectorIndex(db)
		sysLogger.Info("bootstrap", "Using pgvector index backend", nil)
	} else {
		idx = index.NewMemoryIndex()
		sysLogger.Info("bootstrap", "Using in-memory index backend", nil)
	}

	// 5. Response cache
	respCache, err := cache.NewSQLiteCache(cfg.Cache.Path)
	if err != nil {
		log.Fatalf("[FATAL] Unable to open response cache: %v", err)
	}

	// 6. Reasoning failure log (append-only JSON lines, rotated)
	failureLog := reasoning.NewFailureLog(&lumberjack.Logger{
		Filename:   cfg.App.FailureLogPath,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	// 7. Agents
	retrievalCfg := retrieval.DefaultConfig()
	retrievalCfg.VectorWeight = cfg.Retrieval.VectorWeight
	retrievalCfg.KeywordWeight = cfg.Retrieval.KeywordWeight
	retrievalCfg.SectionWeight = cfg.Retrieval.SectionWeight

	reasoningCfg := reasoning.DefaultConfig()
	reasoningCfg.ContextWindow = cfg.Ai.ContextWindow

	understandingAgent := understanding.NewAgent(llmClient, pipelineLogger)
	retrievalAgent := retrieval.NewAgent(embedder, idx, retrievalCfg, pipelineLogger)
	reasoningAgent := reasoning.NewAgent(llmClient, reasoningCfg, failureLog, pipelineLogger)
	verificationAgent := verification.NewAgent(llmClient, pipelineLogger)

	// 8. Translation chain: glossary first, verbatim passthrough is implicit
	translator := translate.NewChain(
		translate.NewGlossary("fa", glossaryTerms()),
	)

	// 9. Orchestrator
	engine := orchestrator.New(
		understandingAgent,
		retrievalAgent,
		reasoningAgent,
		verificationAgent,
		idx,
		respCache,
		translator,
		orchestrator.DefaultConfig(),
		pipelineLogger,
	)

	return &Container{
		QueryController: controller.NewQueryController(engine, llmClient, idx),
		Logger:          sysLogger,
		ResponseCache:   respCache,
	}
}

// initPipelineLogger opens the isolated pipeline trace log, falling back to
// stdout when the file cannot be created.
func initPipelineLogger(path string) *log.Logger {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("Failed to create logs directory: %v", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return log.New(os.Stdout, "[PIPELINE] ", log.LstdFlags)
	}
	return log.New(file, "", log.LstdFlags)
}

// glossaryTerms maps domain terms the offline glossary can translate
// without a network provider.
func glossaryTerms() map[string]string {
	return map[string]string{
		"فاز آرامش":        "Tranquilization Phase",
		"آرامش":            "Tranquilization",
		"چیست":             "what is",
		"تحلیل حساسیت":     "sensitivity analysis",
		"تحلیل بدترین حالت": "worst case analysis",
		"کنترل موقعیت":     "attitude control",
		"سیستم کنترل":      "control system",
		"ماهواره":          "satellite",
		"مدار":             "orbit",
	}
}
