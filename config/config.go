package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServerAddr   string
	PublicURL    string
	ExtraOrigins []string
	StaticDir    string

	Datastore   string // postgres | sqlite
	PostgresDSN string
	SQLitePath  string
	Namespace   string

	EmbeddingURL   string
	EmbeddingModel string
	EmbeddingDim   int
	LLMURL         string
	LLMModel       string
	ChunkTokens    int

	Ingest IngestConfig
	Loader LoaderConfig

	GitHubToken string

	LogLevel  string
	LogFormat string
}

type IngestConfig struct {
	BatchSize       int
	ScreenForPII    bool
	ExtractMetadata bool
	Exclude         []string
	ScratchDir      string
}

type LoaderConfig struct {
	MonitoringTime time.Duration
	SourceDir      string
	ArchiveDir     string
	BadDir         string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", ":3333")
	v.SetDefault("public_url", "http://localhost:3333")
	v.SetDefault("static_dir", "./static")
	v.SetDefault("datastore", "postgres")
	v.SetDefault("pg_host", "localhost")
	v.SetDefault("pg_port", 5432)
	v.SetDefault("pg_user", "postgres")
	v.SetDefault("pg_db_name", "rag")
	v.SetDefault("sqlite_path", "repoindex.db")
	v.SetDefault("datastore_namespace", "default")
	v.SetDefault("ollama_embedding_url", "http://localhost:11434/api/embeddings")
	v.SetDefault("ollama_embedding_model", "nomic-embed-text")
	v.SetDefault("embedding_dim", 768)
	v.SetDefault("llm_url", "http://localhost:11434/api/generate")
	v.SetDefault("llm_model", "llama3.2")
	v.SetDefault("chunk_tokens", 200)
	v.SetDefault("batch_size", 50)
	v.SetDefault("screen_for_pii", false)
	v.SetDefault("extract_metadata", false)
	v.SetDefault("monitoring_time", "5s")
	v.SetDefault("loader_source_dir", "./data/source")
	v.SetDefault("loader_archive_dir", "./data/archive")
	v.SetDefault("loader_bad_dir", "./data/bad")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load reads an optional .env file and resolves the configuration from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServerAddr:     v.GetString("server_addr"),
		PublicURL:      strings.TrimRight(v.GetString("public_url"), "/"),
		ExtraOrigins:   splitList(v.GetString("cors_origins")),
		StaticDir:      v.GetString("static_dir"),
		Datastore:      strings.ToLower(v.GetString("datastore")),
		SQLitePath:     v.GetString("sqlite_path"),
		Namespace:      v.GetString("datastore_namespace"),
		EmbeddingURL:   v.GetString("ollama_embedding_url"),
		EmbeddingModel: v.GetString("ollama_embedding_model"),
		EmbeddingDim:   v.GetInt("embedding_dim"),
		LLMURL:         v.GetString("llm_url"),
		LLMModel:       v.GetString("llm_model"),
		ChunkTokens:    v.GetInt("chunk_tokens"),
		Ingest: IngestConfig{
			BatchSize:       v.GetInt("batch_size"),
			ScreenForPII:    v.GetBool("screen_for_pii"),
			ExtractMetadata: v.GetBool("extract_metadata"),
			Exclude:         splitList(v.GetString("ingest_exclude")),
			ScratchDir:      v.GetString("ingest_scratch_dir"),
		},
		Loader: LoaderConfig{
			MonitoringTime: v.GetDuration("monitoring_time"),
			SourceDir:      v.GetString("loader_source_dir"),
			ArchiveDir:     v.GetString("loader_archive_dir"),
			BadDir:         v.GetString("loader_bad_dir"),
		},
		GitHubToken: v.GetString("github_token"),
		LogLevel:    v.GetString("log_level"),
		LogFormat:   v.GetString("log_format"),
	}

	cfg.PostgresDSN = v.GetString("postgres_dsn")
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			v.GetString("pg_host"), v.GetInt("pg_port"), v.GetString("pg_user"), v.GetString("pg_pass"), v.GetString("pg_db_name"))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Datastore {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported DATASTORE %q", c.Datastore)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("config: BATCH_SIZE must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.ChunkTokens < 1 {
		return fmt.Errorf("config: CHUNK_TOKENS must be positive, got %d", c.ChunkTokens)
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("config: EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
