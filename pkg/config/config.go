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

// Package config loads, validates, and hot-swaps the service configuration.
//
// A configuration file is YAML with one block per section. Values may
// reference environment variables as ${VAR} or ${VAR:default}. The active
// configuration is an immutable snapshot; updates build a new snapshot,
// validate it as a whole, persist it, and then publish it to subscribers.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Zero values are filled by
// SetDefaults; cross-field rules are enforced by Validate.
type Config struct {
	App         AppSection         `yaml:"app,omitempty"`
	Database    DatabaseSection    `yaml:"database,omitempty"`
	VectorStore VectorStoreSection `yaml:"vector_store,omitempty"`
	Embeddings  EmbeddingsSection  `yaml:"embeddings,omitempty"`
	LLM         LLMSection         `yaml:"llm,omitempty"`
	Reranking   RerankingSection   `yaml:"reranking,omitempty"`
	Retrieval   RetrievalSection   `yaml:"retrieval,omitempty"`
	API         APISection         `yaml:"api,omitempty"`
}

// SectionNames lists the addressable configuration sections in a stable
// order. "embedding" is accepted as an alias for "embeddings" on input.
var SectionNames = []string{
	"app", "database", "vector_store", "embeddings", "llm", "reranking", "retrieval", "api",
}

// CanonicalSection resolves section-name aliases. Returns the canonical
// name and whether the section exists.
func CanonicalSection(name string) (string, bool) {
	if name == "embedding" {
		name = "embeddings"
	}
	for _, s := range SectionNames {
		if s == name {
			return name, true
		}
	}
	return name, false
}

func (c *Config) SetDefaults() {
	c.App.SetDefaults()
	c.Database.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Embeddings.SetDefaults()
	c.LLM.SetDefaults()
	c.Reranking.SetDefaults()
	c.Retrieval.SetDefaults()
	c.API.SetDefaults()
}

// Validate checks every section and aggregates all failures so a bad file
// reports everything wrong at once.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.App.Validate()...)
	errs = append(errs, c.Database.Validate()...)
	errs = append(errs, c.VectorStore.Validate()...)
	errs = append(errs, c.Embeddings.Validate()...)
	errs = append(errs, c.LLM.Validate()...)
	errs = append(errs, c.Reranking.Validate()...)
	errs = append(errs, c.Retrieval.Validate()...)
	errs = append(errs, c.API.Validate()...)

	if len(errs) == 0 {
		return nil
	}

	msg := fmt.Sprintf("configuration validation failed with %d error(s):", len(errs))
	for _, err := range errs {
		msg += "\n  - " + err.Error()
	}
	return fmt.Errorf("%s", msg)
}

// Section returns a copy of the named section, suitable for JSON responses.
// Secrets (api_key fields) are redacted.
func (c *Config) Section(name string) (any, error) {
	canonical, ok := CanonicalSection(name)
	if !ok {
		return nil, fmt.Errorf("unknown configuration section: %q", name)
	}
	switch canonical {
	case "app":
		return c.App, nil
	case "database":
		return c.Database, nil
	case "vector_store":
		s := c.VectorStore
		s.APIKey = redact(s.APIKey)
		return s, nil
	case "embeddings":
		s := c.Embeddings
		s.APIKey = redact(s.APIKey)
		return s, nil
	case "llm":
		s := c.LLM
		s.APIKey = redact(s.APIKey)
		return s, nil
	case "reranking":
		s := c.Reranking
		s.APIKey = redact(s.APIKey)
		return s, nil
	case "retrieval":
		return c.Retrieval, nil
	case "api":
		return c.API, nil
	}
	return nil, fmt.Errorf("unknown configuration section: %q", name)
}

func redact(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// Clone deep-copies the configuration. Sections are value types except for
// the fallback provider pointers, which are copied explicitly.
func (c *Config) Clone() *Config {
	out := *c
	out.Embeddings.Preprocess.CustomPatterns = append([]string(nil), c.Embeddings.Preprocess.CustomPatterns...)
	out.Embeddings.Preprocess.Stopwords = append([]string(nil), c.Embeddings.Preprocess.Stopwords...)
	out.Embeddings.FallbackProvider = cloneProvider(c.Embeddings.FallbackProvider)
	out.LLM.FallbackProvider = cloneProvider(c.LLM.FallbackProvider)
	out.Reranking.FallbackProvider = cloneProvider(c.Reranking.FallbackProvider)
	return &out
}

func cloneProvider(p *ProviderSection) *ProviderSection {
	if p == nil {
		return nil
	}
	cp := *p
	cp.FallbackProvider = cloneProvider(p.FallbackProvider)
	return &cp
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed. The write goes through a temp file and rename so a
// crash never leaves a truncated config behind.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close config file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
