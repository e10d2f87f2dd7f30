// Copyright 2026 The Lore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strings"

	"github.com/lorehq/lore/pkg/logger"
)

// SearchMode selects the retrieval scoring mode.
type SearchMode string

const (
	SearchModeSemantic SearchMode = "semantic"
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeHybrid   SearchMode = "hybrid"
)

// AppSection holds application-level settings.
type AppSection struct {
	// Name identifies the service in logs and responses.
	Name string `yaml:"name,omitempty"`

	// Environment is dev, test, or prod.
	Environment string `yaml:"environment,omitempty"`

	// UploadDir stores uploaded originals.
	UploadDir string `yaml:"upload_dir,omitempty"`

	// Logging configures the process logger.
	Logging logger.Config `yaml:"logging,omitempty"`
}

func (s *AppSection) SetDefaults() {
	if s.Name == "" {
		s.Name = "lore"
	}
	if s.Environment == "" {
		s.Environment = "dev"
	}
	if s.UploadDir == "" {
		s.UploadDir = "data/uploads"
	}
}

func (s *AppSection) Validate() []error {
	var errs []error
	switch s.Environment {
	case "dev", "test", "prod":
	default:
		errs = append(errs, fmt.Errorf("app.environment must be dev, test, or prod, got %q", s.Environment))
	}
	return errs
}

// DatabaseSection configures the session/history store.
type DatabaseSection struct {
	// URL is a database URL. SQLite path form: sqlite:///data/lore.db
	// Also supported: postgres:// and mysql:// URLs.
	URL string `yaml:"url,omitempty"`

	// MaxConns caps open connections.
	MaxConns int `yaml:"max_conns,omitempty"`

	// MaxIdle caps idle connections.
	MaxIdle int `yaml:"max_idle,omitempty"`
}

func (s *DatabaseSection) SetDefaults() {
	if s.URL == "" {
		s.URL = "sqlite:///data/lore.db"
	}
	if s.MaxConns <= 0 {
		s.MaxConns = 10
	}
	if s.MaxIdle <= 0 {
		s.MaxIdle = 2
	}
}

func (s *DatabaseSection) Validate() []error {
	var errs []error
	switch {
	case strings.HasPrefix(s.URL, "sqlite://"),
		strings.HasPrefix(s.URL, "postgres://"),
		strings.HasPrefix(s.URL, "postgresql://"),
		strings.HasPrefix(s.URL, "mysql://"):
	default:
		errs = append(errs, fmt.Errorf("database.url must use sqlite://, postgres://, or mysql:// scheme, got %q", s.URL))
	}
	if s.MaxIdle > s.MaxConns {
		errs = append(errs, fmt.Errorf("database.max_idle (%d) must not exceed max_conns (%d)", s.MaxIdle, s.MaxConns))
	}
	return errs
}

// VectorStoreSection configures the vector index backend.
type VectorStoreSection struct {
	// Provider is chromem, qdrant, or pinecone.
	Provider string `yaml:"provider,omitempty"`

	// Collection is the default collection name.
	Collection string `yaml:"collection,omitempty"`

	// PersistDirectory holds embedded index files (chromem).
	PersistDirectory string `yaml:"persist_directory,omitempty"`

	// Host/Port for remote providers (qdrant).
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// APIKey for authenticated providers (qdrant, pinecone).
	APIKey string `yaml:"api_key,omitempty"`

	// IndexName for pinecone.
	IndexName string `yaml:"index_name,omitempty"`

	// UseTLS enables TLS for remote providers.
	UseTLS bool `yaml:"use_tls,omitempty"`
}

func (s *VectorStoreSection) SetDefaults() {
	if s.Provider == "" {
		s.Provider = "chromem"
	}
	if s.Collection == "" {
		s.Collection = "lore_chunks"
	}
	if s.PersistDirectory == "" {
		s.PersistDirectory = "data/vectors"
	}
}

func (s *VectorStoreSection) Validate() []error {
	var errs []error
	switch s.Provider {
	case "chromem":
	case "qdrant":
		if s.Host == "" {
			errs = append(errs, fmt.Errorf("vector_store.host is required for qdrant"))
		}
	case "pinecone":
		if s.APIKey == "" {
			errs = append(errs, fmt.Errorf("vector_store.api_key is required for pinecone"))
		}
	default:
		errs = append(errs, fmt.Errorf("vector_store.provider must be chromem, qdrant, or pinecone, got %q", s.Provider))
	}
	return errs
}

// ProviderSection is the shared shape of a model-provider configuration
// block (embeddings, reranking, llm). Provider may be omitted when APIKey
// and BaseURL are both set; the factory then infers it from the URL.
type ProviderSection struct {
	// Provider is mock, openai, siliconflow, or ollama.
	Provider string `yaml:"provider,omitempty"`

	// Model is the model name as understood by the provider.
	Model string `yaml:"model,omitempty"`

	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`

	// Dimension of produced embeddings (embeddings only; 0 = provider default).
	Dimension int `yaml:"dimension,omitempty"`

	// BatchSize for batch operations.
	BatchSize int `yaml:"batch_size,omitempty"`

	// MaxLength truncates inputs before submission (characters).
	MaxLength int `yaml:"max_length,omitempty"`

	// MaxConcurrentRequests caps in-flight requests per instance.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests,omitempty"`

	// RequestIntervalMs spaces consecutive requests (milliseconds).
	RequestIntervalMs int `yaml:"request_interval_ms,omitempty"`

	// TimeoutSeconds bounds a single operation.
	TimeoutSeconds int `yaml:"timeout,omitempty"`

	// MaxRetries bounds transport retries.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Temperature and MaxTokens apply to generation only.
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	// EnableFallback constructs a fallback instance from FallbackProvider.
	EnableFallback   bool             `yaml:"enable_fallback,omitempty"`
	FallbackProvider *ProviderSection `yaml:"fallback_provider,omitempty"`
}

func (s *ProviderSection) SetDefaults() {
	if s.Provider == "" && s.APIKey == "" && s.BaseURL == "" {
		s.Provider = "mock"
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 32
	}
	if s.MaxLength <= 0 {
		s.MaxLength = 8192
	}
	if s.MaxConcurrentRequests <= 0 {
		s.MaxConcurrentRequests = 4
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = 60
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.FallbackProvider != nil {
		s.FallbackProvider.SetDefaults()
	}
}

func (s *ProviderSection) validate(section string) []error {
	var errs []error
	switch s.Provider {
	case "", "mock", "openai", "siliconflow", "ollama":
	default:
		errs = append(errs, fmt.Errorf("%s.provider %q is not supported (mock, openai, siliconflow, ollama)", section, s.Provider))
	}
	if s.Dimension < 0 {
		errs = append(errs, fmt.Errorf("%s.dimension must be non-negative, got %d", section, s.Dimension))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s.temperature must be in [0,2], got %v", section, s.Temperature))
	}
	if s.RequestIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("%s.request_interval_ms must be non-negative, got %d", section, s.RequestIntervalMs))
	}
	if s.EnableFallback && s.FallbackProvider == nil {
		errs = append(errs, fmt.Errorf("%s.fallback_provider is required when enable_fallback is set", section))
	}
	if s.FallbackProvider != nil {
		errs = append(errs, s.FallbackProvider.validate(section+".fallback_provider")...)
	}
	return errs
}

// PreprocessSection selects the optional text-cleanup stages applied
// before splitting. All stages default to off; the mandatory normalization
// passes always run.
type PreprocessSection struct {
	RemoveURLs   bool `yaml:"remove_urls,omitempty"`
	RemoveEmails bool `yaml:"remove_emails,omitempty"`
	RemovePhones bool `yaml:"remove_phones,omitempty"`

	// FilterSpecial strips special characters, preserving CJK text and
	// basic punctuation.
	FilterSpecial bool `yaml:"filter_special,omitempty"`

	// CustomPatterns are additional regexes whose matches are removed.
	// An invalid pattern is logged and skipped at ingestion time.
	CustomPatterns []string `yaml:"custom_patterns,omitempty"`

	// RemoveStopwords removes the bundled English and CJK stopword lists.
	RemoveStopwords bool `yaml:"remove_stopwords,omitempty"`

	// Stopwords extends the bundled lists.
	Stopwords []string `yaml:"stopwords,omitempty"`

	Lowercase bool `yaml:"lowercase,omitempty"`
}

// EmbeddingsSection configures the embedding provider plus splitter knobs
// consumed by the ingestion pipeline.
type EmbeddingsSection struct {
	ProviderSection `yaml:",inline"`

	// Preprocess selects optional cleanup stages.
	Preprocess PreprocessSection `yaml:"preprocess,omitempty"`

	// ChunkSize is the target chunk size in characters.
	ChunkSize int `yaml:"chunk_size,omitempty"`

	// ChunkOverlap carries characters across adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty"`

	// MinChunkSize merges or drops smaller chunks.
	MinChunkSize int `yaml:"min_chunk_size,omitempty"`

	// MaxChunkSize re-splits larger chunks.
	MaxChunkSize int `yaml:"max_chunk_size,omitempty"`

	// SemanticSplit enables the semantic splitting strategy.
	SemanticSplit bool `yaml:"semantic_split,omitempty"`
}

func (s *EmbeddingsSection) SetDefaults() {
	s.ProviderSection.SetDefaults()
	if s.ChunkSize <= 0 {
		s.ChunkSize = 1000
	}
	if s.ChunkOverlap <= 0 {
		s.ChunkOverlap = 200
	}
	if s.MinChunkSize <= 0 {
		s.MinChunkSize = 100
	}
	if s.MaxChunkSize <= 0 {
		s.MaxChunkSize = 2000
	}
}

func (s *EmbeddingsSection) Validate() []error {
	errs := s.ProviderSection.validate("embeddings")
	if s.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("embeddings.chunk_size must be positive, got %d", s.ChunkSize))
	}
	if s.ChunkOverlap >= s.ChunkSize {
		errs = append(errs, fmt.Errorf("embeddings.chunk_overlap (%d) must be less than chunk_size (%d)", s.ChunkOverlap, s.ChunkSize))
	}
	if s.MinChunkSize > s.ChunkSize {
		errs = append(errs, fmt.Errorf("embeddings.min_chunk_size (%d) must not exceed chunk_size (%d)", s.MinChunkSize, s.ChunkSize))
	}
	if s.MaxChunkSize < s.ChunkSize {
		errs = append(errs, fmt.Errorf("embeddings.max_chunk_size (%d) must be at least chunk_size (%d)", s.MaxChunkSize, s.ChunkSize))
	}
	return errs
}

// LLMSection configures the generation provider.
type LLMSection struct {
	ProviderSection `yaml:",inline"`
}

func (s *LLMSection) SetDefaults() {
	s.ProviderSection.SetDefaults()
	if s.MaxTokens <= 0 {
		s.MaxTokens = 1024
	}
}

func (s *LLMSection) Validate() []error {
	return s.ProviderSection.validate("llm")
}

// RerankingSection configures the reranking provider.
type RerankingSection struct {
	ProviderSection `yaml:",inline"`
}

func (s *RerankingSection) SetDefaults() {
	s.ProviderSection.SetDefaults()
}

func (s *RerankingSection) Validate() []error {
	return s.ProviderSection.validate("reranking")
}

// RetrievalSection configures the retrieval engine.
type RetrievalSection struct {
	TopK                int        `yaml:"top_k,omitempty"`
	SimilarityThreshold float64    `yaml:"similarity_threshold,omitempty"`
	SearchMode          SearchMode `yaml:"search_mode,omitempty"`
	EnableRerank        bool       `yaml:"enable_rerank,omitempty"`
	EnableCache         bool       `yaml:"enable_cache,omitempty"`

	// HybridAlpha blends semantic and keyword scores in hybrid mode.
	HybridAlpha float64 `yaml:"hybrid_alpha,omitempty"`

	// MaxContextLength bounds the assembled QA context (characters).
	MaxContextLength int `yaml:"max_context_length,omitempty"`
}

func (s *RetrievalSection) SetDefaults() {
	if s.TopK <= 0 {
		s.TopK = 5
	}
	if s.SearchMode == "" {
		s.SearchMode = SearchModeSemantic
	}
	if s.HybridAlpha == 0 {
		s.HybridAlpha = 0.7
	}
	if s.MaxContextLength <= 0 {
		s.MaxContextLength = 8000
	}
}

func (s *RetrievalSection) Validate() []error {
	var errs []error
	if s.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", s.TopK))
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.similarity_threshold must be in [0,1], got %v", s.SimilarityThreshold))
	}
	switch s.SearchMode {
	case SearchModeSemantic, SearchModeKeyword, SearchModeHybrid:
	default:
		errs = append(errs, fmt.Errorf("retrieval.search_mode must be semantic, keyword, or hybrid, got %q", s.SearchMode))
	}
	if s.HybridAlpha < 0 || s.HybridAlpha > 1 {
		errs = append(errs, fmt.Errorf("retrieval.hybrid_alpha must be in [0,1], got %v", s.HybridAlpha))
	}
	return errs
}

// APISection configures the HTTP server shell.
type APISection struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// ShutdownGraceSeconds bounds graceful shutdown.
	ShutdownGraceSeconds int `yaml:"shutdown_grace,omitempty"`
}

func (s *APISection) SetDefaults() {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port <= 0 {
		s.Port = 8080
	}
	if s.ShutdownGraceSeconds <= 0 {
		s.ShutdownGraceSeconds = 15
	}
}

func (s *APISection) Validate() []error {
	var errs []error
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port must be in [1,65535], got %d", s.Port))
	}
	return errs
}
