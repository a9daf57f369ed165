package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/viper"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Session  SessionConfig
	DocStore DocStoreConfig
	Log      LogConfig
}

// Load 从环境变量（以及可选的 CONFIG_PATH YAML 文件）加载配置。
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(v)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(v)
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig(v)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Session:  session,
		DocStore: loadDocStoreConfig(v),
		Log:      loadLogConfig(v),
	}, nil
}

// newViper reads the environment and, when CONFIG_PATH is set, a YAML file
// whose keys use the same names as the environment variables.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_PATH")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(v *viper.Viper) (ServerConfig, error) {
	port := getString(v, "PORT")
	if port == "" {
		port = "3000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3000" 或 "127.0.0.1:3000"。
		return ServerConfig{Addr: port}, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Provider names accepted in LLM_PROVIDER.
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// DefaultSystemInstruction is sent when SYSTEM_INSTRUCTION is empty.
const DefaultSystemInstruction = "You are a friendly, helpful assistant in a web chat. " +
	"Answer concisely and format your replies with Markdown when it helps readability."

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider          string
	SystemInstruction string

	GeminiAPIKey   string
	GeminiModel    string
	EmbeddingModel string

	// Generation settings shared by every provider.
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

// Enabled 表示是否提供了所选 provider 的必需密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.GeminiAPIKey != ""
	}
}

// NewChatModel 使用 Ark 配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.ArkModel == "" || (c.ArkAPIKey == "" && (c.ArkAccessKey == "" || c.ArkSecretKey == "")) {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	temperature := c.Temperature
	topP := c.TopP
	maxTokens := int(c.MaxOutputTokens)

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig(v *viper.Viper) (AIConfig, error) {
	provider := strings.ToLower(getStringOrDefault(v, "LLM_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature, err := parseFloatOrDefault(v, "LLM_TEMPERATURE", 1)
	if err != nil {
		return AIConfig{}, err
	}
	topP, err := parseFloatOrDefault(v, "LLM_TOP_P", 0.95)
	if err != nil {
		return AIConfig{}, err
	}
	topK, err := parseFloatOrDefault(v, "LLM_TOP_K", 64)
	if err != nil {
		return AIConfig{}, err
	}
	maxTokens, err := parseIntOrDefault(v, "LLM_MAX_OUTPUT_TOKENS", 8192)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:          provider,
		SystemInstruction: getStringOrDefault(v, "SYSTEM_INSTRUCTION", DefaultSystemInstruction),
		GeminiAPIKey:      getString(v, "GEMINI_API_KEY"),
		GeminiModel:       getStringOrDefault(v, "GEMINI_MODEL", "gemini-1.5-flash"),
		EmbeddingModel:    getStringOrDefault(v, "GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		Temperature:       float32(temperature),
		TopP:              float32(topP),
		TopK:              float32(topK),
		MaxOutputTokens:   int32(maxTokens),
		ArkAPIKey:         getString(v, "ARK_API_KEY"),
		ArkAccessKey:      getString(v, "ARK_ACCESS_KEY"),
		ArkSecretKey:      getString(v, "ARK_SECRET_KEY"),
		ArkModel:          getString(v, "ARK_MODEL"),
		ArkBaseURL:        getStringOrDefault(v, "ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:         getStringOrDefault(v, "ARK_REGION", "cn-beijing"),
	}, nil
}

// Session backends accepted in SESSION_BACKEND.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// SessionConfig 描述会话 cookie 与存储配置。
type SessionConfig struct {
	Secret        string
	TTL           time.Duration
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Validate only checks that the signing secret was provisioned.
func (c SessionConfig) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is empty: run `tavern secret` to generate one")
	}
	return nil
}

func loadSessionConfig(v *viper.Viper) (SessionConfig, error) {
	ttl, err := parseDurationOrDefault(v, "SESSION_TTL", 24*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	if ttl <= 0 {
		return SessionConfig{}, fmt.Errorf("SESSION_TTL must be positive, got %s", ttl)
	}

	backend := strings.ToLower(getStringOrDefault(v, "SESSION_BACKEND", SessionBackendMemory))
	if backend != SessionBackendMemory && backend != SessionBackendRedis {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_BACKEND value %q", backend)
	}

	redisDB, err := parseIntOrDefault(v, "REDIS_DB", 0)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		Secret:        getString(v, "SESSION_SECRET"),
		TTL:           ttl,
		Backend:       backend,
		RedisAddr:     getStringOrDefault(v, "REDIS_ADDR", "localhost:6379"),
		RedisPassword: getString(v, "REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisPrefix:   getStringOrDefault(v, "REDIS_PREFIX", "tavern:"),
	}, nil
}

// DocStoreConfig 描述文档存储配置，当前消息流程不会使用它。
type DocStoreConfig struct {
	Endpoint   string
	Token      string
	Namespace  string
	Collection string
}

// Enabled reports whether an endpoint and collection were supplied.
func (c DocStoreConfig) Enabled() bool {
	return c.Endpoint != "" && c.Collection != ""
}

func loadDocStoreConfig(v *viper.Viper) DocStoreConfig {
	return DocStoreConfig{
		Endpoint:   getString(v, "DOCSTORE_ENDPOINT"),
		Token:      getString(v, "DOCSTORE_TOKEN"),
		Namespace:  getStringOrDefault(v, "DOCSTORE_NAMESPACE", "default_keyspace"),
		Collection: getString(v, "DOCSTORE_COLLECTION"),
	}
}

// LogConfig 描述日志级别与输出格式。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig(v *viper.Viper) LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getStringOrDefault(v, "LOG_LEVEL", "info")),
		Format: strings.ToLower(getStringOrDefault(v, "LOG_FORMAT", "auto")),
	}
}

func getString(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func getStringOrDefault(v *viper.Viper, key, defaultValue string) string {
	if value := getString(v, key); value != "" {
		return value
	}
	return defaultValue
}

func parseFloatOrDefault(v *viper.Viper, key string, defaultValue float64) (float64, error) {
	raw := getString(v, key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntOrDefault(v *viper.Viper, key string, defaultValue int) (int, error) {
	raw := getString(v, key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationOrDefault(v *viper.Viper, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getString(v, key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
