// Package config loads pagerag settings from defaults, an optional YAML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Qdrant    Qdrant    `mapstructure:"qdrant"`
	Embedding Embedding `mapstructure:"embedding"`
	Retrieval Retrieval `mapstructure:"retrieval"`
	Search    Search    `mapstructure:"search"`
	NATS      NATS      `mapstructure:"nats"`
	Log       Log       `mapstructure:"log"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

// Server configures the HTTP API. An empty SpoolDir means the OS temp dir.
type Server struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	SpoolDir       string   `mapstructure:"spool_dir"`
}

// Qdrant addresses the vector database over gRPC. URL is host:port; a
// scheme-qualified URL is rewritten by Load.
type Qdrant struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	TLS        bool   `mapstructure:"tls"`
	Collection string `mapstructure:"collection"`
	VectorSize int    `mapstructure:"vector_size"`
}

// Embedding points at the multi-vector embedding service.
type Embedding struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Retrieval tunes indexing and search. MinScore applies to normalised
// scores in [-1, 1]; a negative value keeps every hit.
type Retrieval struct {
	ImageDir      string        `mapstructure:"image_dir"`
	BatchSize     int           `mapstructure:"batch_size"`
	TopK          int           `mapstructure:"top_k"`
	SearchLimit   int           `mapstructure:"search_limit"`
	MinScore      float32       `mapstructure:"min_score"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	Workers       int           `mapstructure:"workers"`
}

// Search selects the web fallback provider: "tavily", "google" or "none".
type Search struct {
	Provider     string  `mapstructure:"provider"`
	TavilyAPIKey string  `mapstructure:"tavily_api_key"`
	TavilyURL    string  `mapstructure:"tavily_url"`
	GoogleAPIKey string  `mapstructure:"google_api_key"`
	GoogleCSEID  string  `mapstructure:"google_cse_id"`
	MaxResults   int     `mapstructure:"max_results"`
	Rate         float64 `mapstructure:"rate"`
	Burst        int     `mapstructure:"burst"`
}

// NATS is the job broker used by "pagerag worker" and async uploads.
type NATS struct {
	URL string `mapstructure:"url"`
}

// Telemetry selects the trace exporter: "none", "stdout" or "otlp".
type Telemetry struct {
	Exporter string `mapstructure:"exporter"`
	Endpoint string `mapstructure:"endpoint"`
}

// Log selects the slog level and handler ("json" or "text").
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"server.addr":              ":8080",
	"server.allowed_origins":   []string{"*"},
	"server.spool_dir":         "",
	"qdrant.url":               "localhost:6334",
	"qdrant.api_key":           "",
	"qdrant.tls":               false,
	"qdrant.collection":        "test",
	"qdrant.vector_size":       128,
	"embedding.url":            "http://localhost:8000",
	"embedding.model":          "vidore/colqwen2-v1.0",
	"embedding.timeout":        60 * time.Second,
	"retrieval.image_dir":      "data/pdf_images",
	"retrieval.batch_size":     5,
	"retrieval.top_k":          3,
	"retrieval.search_limit":   10,
	"retrieval.min_score":      0.6,
	"retrieval.search_timeout": 5 * time.Second,
	"retrieval.workers":        2,
	"search.provider":          "tavily",
	"search.tavily_api_key":    "",
	"search.tavily_url":        "https://api.tavily.com/search",
	"search.google_api_key":    "",
	"search.google_cse_id":     "",
	"search.max_results":       3,
	"search.rate":              1.0,
	"search.burst":             2,
	"nats.url":                 "nats://127.0.0.1:4222",
	"log.level":                "info",
	"log.format":               "json",
	"telemetry.exporter":       "none",
	"telemetry.endpoint":       "localhost:4317",
}

// Unprefixed variables kept for compatibility with existing .env files.
var envAliases = map[string]string{
	"qdrant.url":            "QDRANT_URL",
	"qdrant.api_key":        "QDRANT_API_KEY",
	"search.tavily_api_key": "TAVILY_API_KEY",
	"search.google_api_key": "GOOGLE_API_KEY",
	"search.google_cse_id":  "GOOGLE_CSE_ID",
	"nats.url":              "NATS_URL",
}

// Load reads configuration. configPath may be empty. envFiles default to
// ".env"; missing env files are ignored. Every key can also be set as
// PAGERAG_<SECTION>_<KEY>, e.g. PAGERAG_RETRIEVAL_TOP_K.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("pagerag")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "PAGERAG_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.Qdrant.normalize(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

const (
	qdrantRESTPort = "6333"
	qdrantGRPCPort = "6334"
)

// normalize turns a scheme-qualified URL such as https://x.cloud.qdrant.io:6333
// into the host:port form the gRPC client dials. https enables TLS, and the
// REST port or a missing port becomes the gRPC port.
func (q *Qdrant) normalize() error {
	if !strings.Contains(q.URL, "://") {
		return nil
	}
	u, err := url.Parse(q.URL)
	if err != nil {
		return fmt.Errorf("config: qdrant.url %q: %w", q.URL, err)
	}
	switch u.Scheme {
	case "https":
		q.TLS = true
	case "http", "grpc":
	default:
		return fmt.Errorf("config: qdrant.url %q: unsupported scheme %q", q.URL, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("config: qdrant.url %q has no host", q.URL)
	}
	port := u.Port()
	if port == "" || port == qdrantRESTPort {
		port = qdrantGRPCPort
	}
	q.URL = net.JoinHostPort(u.Hostname(), port)
	return nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Qdrant.Collection == "" {
		errs = append(errs, errors.New("qdrant.collection is empty"))
	}
	if c.Qdrant.VectorSize <= 0 {
		errs = append(errs, fmt.Errorf("qdrant.vector_size %d must be positive", c.Qdrant.VectorSize))
	}
	if c.Retrieval.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.batch_size %d must be positive", c.Retrieval.BatchSize))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k %d must be positive", c.Retrieval.TopK))
	}
	switch c.Search.Provider {
	case "tavily", "google", "none", "":
	default:
		errs = append(errs, fmt.Errorf("search.provider %q is not one of tavily, google, none", c.Search.Provider))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger builds the process logger described by l.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
