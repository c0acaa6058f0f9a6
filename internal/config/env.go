package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/phuslu/log"
)

type Config struct {
	DatabaseURL     string
	AwsAccessKey    string
	AwsSecretKey    string
	AwsRegion       string
	BucketName      string
	AIAPIKey        string
	GenModel        string
	EmbedModel      string
	EmbedDim        int
	LocalEmbedURL   string
	LocalEmbedModel string
	LocalEmbedDim   int
	OCRLanguages    []string
	FallbackLang    string
	ChunkSize       int
	ChunkOverlap    int
	UploadDir       string
	Port            string
}

// LoadConfig loads the environment variables and returns config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		AwsAccessKey:    getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:    getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:       getEnv("AWS_REGION", "us-east-2"),
		BucketName:      getEnv("BUCKET_NAME", "textora-docs"),
		AIAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GenModel:        getEnv("GEN_MODEL", "gemini-1.5-flash"),
		EmbedModel:      getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:        getEnvInt("EMBED_DIM", 768),
		LocalEmbedURL:   getEnv("LOCAL_EMBED_URL", "http://localhost:11434"),
		LocalEmbedModel: getEnv("LOCAL_EMBED_MODEL", "nomic-embed-text"),
		LocalEmbedDim:   getEnvInt("LOCAL_EMBED_DIM", 768),
		OCRLanguages:    getEnvList("OCR_LANGUAGES", "jpn,eng"),
		FallbackLang:    getEnv("FALLBACK_LANG", "ja"),
		ChunkSize:       getEnvInt("CHUNK_SIZE", 800),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 160),
		UploadDir:       getEnv("UPLOAD_DIR", "./uploads"),
		Port:            getEnv("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL not set")
	}

	return cfg
}

// EmbedModels returns the embedding model configurations known to this
// deployment, keyed the way ingest requests reference them.
func (c *Config) EmbedModels() map[string]ModelEntry {
	return map[string]ModelEntry{
		"gemini": {Backend: "gemini", Model: c.EmbedModel, Dimension: c.EmbedDim},
		"local":  {Backend: "local", Model: c.LocalEmbedModel, Endpoint: c.LocalEmbedURL, Dimension: c.LocalEmbedDim},
	}
}

// ModelEntry mirrors models.ModelConfig without importing it; config stays
// a leaf package.
type ModelEntry struct {
	Backend   string
	Model     string
	Endpoint  string
	Dimension int
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("not an int, using default")
		return def
	}
	return n
}

func getEnvList(key, def string) []string {
	raw := getEnv(key, def)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
