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
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:default}, and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-?)([^}]*))?\}`)

// LoadEnvFiles loads .env files in precedence order. Later files do not
// override variables already set; real environment variables always win.
func LoadEnvFiles(dir string) {
	env := os.Getenv("ENVIRONMENT")
	candidates := []string{}
	if env != "" {
		candidates = append(candidates, filepath.Join(dir, ".env."+env))
	}
	candidates = append(candidates, filepath.Join(dir, ".env"))

	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// ResolvePath picks the configuration file for the current environment.
// With ENVIRONMENT=prod and dir "config", it resolves config/prod.yaml.
// An explicit path wins over the environment-derived one.
func ResolvePath(explicit, dir string) string {
	if explicit != "" {
		return explicit
	}
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	return filepath.Join(dir, env+".yaml")
}

// Load reads, expands, decodes, defaults, and validates the configuration
// at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	normalizeSectionAliases(raw)
	expanded := expandEnvVars(raw)

	cfg := &Config{}
	if err := decode(expanded, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeSectionAliases folds accepted aliases onto canonical section
// names. "embedding" has shipped in older configs; keep reading it.
func normalizeSectionAliases(raw map[string]any) {
	if v, ok := raw["embedding"]; ok {
		if _, exists := raw["embeddings"]; !exists {
			raw["embeddings"] = v
		}
		delete(raw, "embedding")
	}
}

// decode maps a generic YAML structure onto Config using yaml tags.
// Unknown keys are rejected so typos fail loudly instead of silently
// falling back to defaults.
func decode(raw any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

// DecodeSection maps a partial update onto an existing section value.
// Unknown keys are rejected.
func DecodeSection(raw map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Squash:           true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to create section decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid section payload: %w", err)
	}
	return nil
}

// expandEnvVars walks the YAML structure replacing ${VAR} references in
// strings. Unset variables without a default expand to the empty string.
func expandEnvVars(v any) any {
	switch val := v.(type) {
	case string:
		return expandString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandEnvVars(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandEnvVars(item)
		}
		return out
	default:
		return v
	}
}

func expandString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[3]
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		return def
	})
}

// applyEnvOverrides lets the standard deployment environment variables win
// over file values. File-level ${VAR} expansion covers the general case;
// these are the well-known names operators expect to work without editing
// YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.keyTargets("openai") {
		setProviderKey(cfg, "openai", v)
	}
	if v := os.Getenv("SILICONFLOW_API_KEY"); v != "" && cfg.keyTargets("siliconflow") {
		setProviderKey(cfg, "siliconflow", v)
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		setProviderBaseURL(cfg, "ollama", v)
	}
	if v := os.Getenv("PINECONE_API_KEY"); v != "" && cfg.VectorStore.Provider == "pinecone" {
		cfg.VectorStore.APIKey = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" && cfg.VectorStore.Provider == "qdrant" {
		cfg.VectorStore.APIKey = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.App.Logging.Level = strings.ToLower(v)
	}
}

func (c *Config) keyTargets(provider string) bool {
	return c.Embeddings.Provider == provider ||
		c.LLM.Provider == provider ||
		c.Reranking.Provider == provider
}

func setProviderKey(cfg *Config, provider, key string) {
	if cfg.Embeddings.Provider == provider && cfg.Embeddings.APIKey == "" {
		cfg.Embeddings.APIKey = key
	}
	if cfg.LLM.Provider == provider && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if cfg.Reranking.Provider == provider && cfg.Reranking.APIKey == "" {
		cfg.Reranking.APIKey = key
	}
}

func setProviderBaseURL(cfg *Config, provider, baseURL string) {
	if cfg.Embeddings.Provider == provider && cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = baseURL
	}
	if cfg.LLM.Provider == provider && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = baseURL
	}
	if cfg.Reranking.Provider == provider && cfg.Reranking.BaseURL == "" {
		cfg.Reranking.BaseURL = baseURL
	}
}
