package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Milvus     MilvusConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	RAG        RAGConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionBase string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL int
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	JudgeModel  string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type EmbeddingsConfig struct {
	Model         string
	Dimension     int
	FallbackModel string
	FallbackDim   int
	BatchSize     int
}

type RAGConfig struct {
	ChunkSize        int
	ChunkOverlap     int
	TopK             int
	VectorWeight     float64
	BM25Weight       float64
	FusionMultiplier int
	IndexWorkers     int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/scribeworks")

	viper.SetEnvPrefix("SCRIBEWORKS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionBase", "transcript_chunks")

	viper.SetDefault("sqlite.path", "./data/scribeworks.db")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.cacheTTL", 3600)

	viper.SetDefault("llm.baseURL", "")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.judgeModel", "")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 120)

	viper.SetDefault("embeddings.model", "text-embedding-ada-002")
	viper.SetDefault("embeddings.dimension", 1536)
	viper.SetDefault("embeddings.fallbackModel", "local-hash-v1")
	viper.SetDefault("embeddings.fallbackDim", 384)
	viper.SetDefault("embeddings.batchSize", 100)

	viper.SetDefault("rag.chunkSize", 1000)
	viper.SetDefault("rag.chunkOverlap", 200)
	viper.SetDefault("rag.topK", 5)
	viper.SetDefault("rag.vectorWeight", 0.7)
	viper.SetDefault("rag.bm25Weight", 0.3)
	viper.SetDefault("rag.fusionMultiplier", 2)
	viper.SetDefault("rag.indexWorkers", 4)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

// Validate enforces startup invariants. A missing LLM API key is fatal because
// both generation and primary embeddings depend on it.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.apiKey is required")
	}
	if c.Embeddings.Dimension <= 0 || c.Embeddings.FallbackDim <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunkOverlap must be smaller than rag.chunkSize")
	}
	return nil
}
