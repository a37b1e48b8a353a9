package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Milvus    MilvusConfig
	Storage   StorageConfig
	LLM       LLMConfig
	RAG       RAGConfig
	Ingestion IngestionConfig
	Listener  ListenerConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type StorageConfig struct {
	FetchTimeoutSec int
	MaxDocumentSize int64
}

type LLMConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type RAGConfig struct {
	TopK     int
	MinScore float64
}

type IngestionConfig struct {
	ChunkSize       int
	MinChunkLength  int
	EmbedRatePerSec float64
}

type ListenerConfig struct {
	AIUserID  string
	AutoStart bool
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
	viper.AddConfigPath("/etc/teamchat-ai")

	viper.SetEnvPrefix("TEAMCHAT")
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
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/teamchat.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "chat_embeddings")
	viper.SetDefault("milvus.vectorDim", 3072)

	viper.SetDefault("storage.fetchTimeoutSec", 30)
	viper.SetDefault("storage.maxDocumentSize", 52428800)

	viper.SetDefault("llm.model", "gpt-4-turbo-preview")
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-large")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.maxTokens", 500)
	viper.SetDefault("llm.timeoutSec", 30)

	// 0.3 is deliberately permissive; tune with product input.
	viper.SetDefault("rag.topK", 15)
	viper.SetDefault("rag.minScore", 0.3)

	viper.SetDefault("ingestion.chunkSize", 4000)
	viper.SetDefault("ingestion.minChunkLength", 10)
	viper.SetDefault("ingestion.embedRatePerSec", 10)

	viper.SetDefault("listener.aiUserID", "rag-ai")
	viper.SetDefault("listener.autoStart", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
