// Package config defines the engine configuration tree and its loader.
// Every section carries its own SetDefaults and Validate; Load applies
// both after environment variable expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the AI engine process.
type Config struct {
	Logging   LoggingConfig          `yaml:"logging" koanf:"logging"`
	Server    ServerConfig           `yaml:"server" koanf:"server"`
	LLM       LLMProviderConfig      `yaml:"llm" koanf:"llm"`
	Embedder  EmbedderProviderConfig `yaml:"embedder" koanf:"embedder"`
	Vector    VectorStoreConfig      `yaml:"vector" koanf:"vector"`
	Chunking  ChunkingConfig         `yaml:"chunking" koanf:"chunking"`
	Retrieval RetrievalConfig        `yaml:"retrieval" koanf:"retrieval"`
	Agent     AgentConfig            `yaml:"agent" koanf:"agent"`
	Session   SessionConfig          `yaml:"session" koanf:"session"`
	Sync      SyncConfig             `yaml:"sync" koanf:"sync"`
	Services  ServicesConfig         `yaml:"services" koanf:"services"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

type ServerConfig struct {
	Host            string `yaml:"host" koanf:"host"`
	Port            int    `yaml:"port" koanf:"port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" koanf:"shutdown_timeout"` // seconds
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Port)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMProviderConfig configures the chat model provider.
type LLMProviderConfig struct {
	Type        string  `yaml:"type" koanf:"type"` // "openai" or "anthropic"
	Model       string  `yaml:"model" koanf:"model"`
	APIKey      string  `yaml:"api_key" koanf:"api_key"`
	Host        string  `yaml:"host" koanf:"host"`
	Temperature float64 `yaml:"temperature" koanf:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" koanf:"max_tokens"`
	Timeout     int     `yaml:"timeout" koanf:"timeout"` // seconds
	MaxRetries  int     `yaml:"max_retries" koanf:"max_retries"`
	RetryDelay  int     `yaml:"retry_delay" koanf:"retry_delay"` // seconds
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "anthropic":
			c.Model = "claude-sonnet-4-20250514"
		default:
			c.Model = "gpt-4o"
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.Timeout <= 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider type: %q", c.Type)
	}
	if c.APIKey == "" {
		return fmt.Errorf("llm api_key is required")
	}
	return nil
}

// EmbedderProviderConfig configures the embedding provider.
type EmbedderProviderConfig struct {
	Type      string `yaml:"type" koanf:"type"` // "openai" or "ollama"
	Model     string `yaml:"model" koanf:"model"`
	APIKey    string `yaml:"api_key" koanf:"api_key"`
	Host      string `yaml:"host" koanf:"host"`
	Dimension int    `yaml:"dimension" koanf:"dimension"`
	BatchSize int    `yaml:"batch_size" koanf:"batch_size"`
	Timeout   int    `yaml:"timeout" koanf:"timeout"` // seconds
}

func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "ollama":
			c.Model = "nomic-embed-text"
		default:
			c.Model = "text-embedding-3-small"
		}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 30
	}
}

func (c *EmbedderProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported embedder type: %q", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("embedder api_key is required for openai")
	}
	return nil
}

// VectorStoreConfig configures the vector index backend.
type VectorStoreConfig struct {
	Type string `yaml:"type" koanf:"type"` // "qdrant" or "chromem"

	// Qdrant connection settings.
	Host   string `yaml:"host" koanf:"host"`
	Port   int    `yaml:"port" koanf:"port"`
	APIKey string `yaml:"api_key" koanf:"api_key"`
	UseTLS bool   `yaml:"use_tls" koanf:"use_tls"`

	// Chromem persistence settings.
	PersistPath string `yaml:"persist_path" koanf:"persist_path"`
	Compress    bool   `yaml:"compress" koanf:"compress"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unsupported vector store type: %q", c.Type)
	}
	return nil
}

// ChunkingConfig bounds document chunking.
type ChunkingConfig struct {
	MaxTokens     int    `yaml:"max_tokens" koanf:"max_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens" koanf:"overlap_tokens"`
	Encoding      string `yaml:"encoding" koanf:"encoding"`
}

func (c *ChunkingConfig) SetDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 400
	}
	if c.OverlapTokens == 0 {
		c.OverlapTokens = 50
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

func (c *ChunkingConfig) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("chunking max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.OverlapTokens < 0 {
		return fmt.Errorf("chunking overlap_tokens must be non-negative, got %d", c.OverlapTokens)
	}
	if c.OverlapTokens >= c.MaxTokens {
		return fmt.Errorf("chunking overlap_tokens (%d) must be less than max_tokens (%d)", c.OverlapTokens, c.MaxTokens)
	}
	return nil
}

// RetrievalConfig bounds the retrieval pipeline.
type RetrievalConfig struct {
	TopK            int     `yaml:"top_k" koanf:"top_k"`
	MaxTopK         int     `yaml:"max_top_k" koanf:"max_top_k"`
	Threshold       float32 `yaml:"threshold" koanf:"threshold"`
	MaxContextChars int     `yaml:"max_context_chars" koanf:"max_context_chars"`
	Timeout         int     `yaml:"timeout" koanf:"timeout"` // seconds
}

func (c *RetrievalConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.MaxTopK == 0 {
		c.MaxTopK = 100
	}
	if c.MaxContextChars == 0 {
		c.MaxContextChars = 8000
	}
	if c.Timeout <= 0 {
		c.Timeout = 30
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be at least 1, got %d", c.TopK)
	}
	if c.MaxTopK < c.TopK {
		return fmt.Errorf("retrieval max_top_k (%d) must be >= top_k (%d)", c.MaxTopK, c.TopK)
	}
	return nil
}

// AgentConfig bounds the agent executor loop.
type AgentConfig struct {
	MaxIterations       int  `yaml:"max_iterations" koanf:"max_iterations"`
	MaxToolCallsPerTurn int  `yaml:"max_tool_calls_per_turn" koanf:"max_tool_calls_per_turn"`
	GroundWithContext   bool `yaml:"ground_with_context" koanf:"ground_with_context"`
}

func (c *AgentConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 8
	}
	if c.MaxToolCallsPerTurn == 0 {
		c.MaxToolCallsPerTurn = 10
	}
}

func (c *AgentConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("agent max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	return nil
}

// SessionConfig configures the conversation store.
type SessionConfig struct {
	TTL           int `yaml:"ttl" koanf:"ttl"` // seconds
	WindowSize    int `yaml:"window_size" koanf:"window_size"`
	SweepInterval int `yaml:"sweep_interval" koanf:"sweep_interval"` // seconds
}

func (c *SessionConfig) SetDefaults() {
	if c.TTL <= 0 {
		c.TTL = 3600
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60
	}
}

func (c *SessionConfig) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// SyncConfig configures the data sync service.
type SyncConfig struct {
	Interval int  `yaml:"interval" koanf:"interval"` // seconds; 0 disables the scheduler
	Enabled  bool `yaml:"enabled" koanf:"enabled"`

	// Organizations lists the tenants the scheduler refreshes. On-demand
	// syncs through the API are not limited to this list.
	Organizations []string `yaml:"organizations" koanf:"organizations"`

	// MessageLimit caps how many recent chat messages are indexed per
	// organization.
	MessageLimit int `yaml:"message_limit" koanf:"message_limit"`
}

func (c *SyncConfig) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = 900
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = 500
	}
}

// ServiceEndpoint describes one downstream microservice.
type ServiceEndpoint struct {
	BaseURL string `yaml:"base_url" koanf:"base_url"`
	APIKey  string `yaml:"api_key" koanf:"api_key"`
	Timeout int    `yaml:"timeout" koanf:"timeout"` // seconds
}

func (e *ServiceEndpoint) SetDefaults() {
	if e.Timeout <= 0 {
		e.Timeout = 15
	}
}

// ServicesConfig holds the endpoints of the platform microservices the
// tool adapters and the sync service call.
type ServicesConfig struct {
	Projects  ServiceEndpoint `yaml:"projects" koanf:"projects"`
	Tasks     ServiceEndpoint `yaml:"tasks" koanf:"tasks"`
	Messages  ServiceEndpoint `yaml:"messages" koanf:"messages"`
	Members   ServiceEndpoint `yaml:"members" koanf:"members"`
}

func (c *ServicesConfig) SetDefaults() {
	c.Projects.SetDefaults()
	c.Tasks.SetDefaults()
	c.Messages.SetDefaults()
	c.Members.SetDefaults()
}

// SetDefaults applies defaults across the whole tree.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Chunking.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Agent.SetDefaults()
	c.Session.SetDefaults()
	c.Sync.SetDefaults()
	c.Services.SetDefaults()
}

// Validate checks the whole tree and returns the first error found.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Embedder.Validate(); err != nil {
		return err
	}
	if err := c.Vector.Validate(); err != nil {
		return err
	}
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	return nil
}
