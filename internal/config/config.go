package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Client      ClientConfig
	Server      ServerConfig
	Preferences PreferencesConfig
	AI          AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	prefs, err := loadPreferencesConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Client: client, Server: server, Preferences: prefs, AI: ai}, nil
}

// ClientConfig 描述聊天客户端的连接与会话参数。
type ClientConfig struct {
	WebSocketURL   string
	APIBaseURL     string
	IDToken        string
	ReconnectDelay time.Duration
	TurnTimeout    time.Duration // 0 表示不限时
	RequestTimeout time.Duration
	WelcomeMessage string
	ConsoleAddr    string
}

func loadClientConfig() (ClientConfig, error) {
	reconnect, err := parseDurationEnv("CHAT_RECONNECT_DELAY", time.Second)
	if err != nil {
		return ClientConfig{}, err
	}
	if reconnect <= 0 {
		return ClientConfig{}, fmt.Errorf("CHAT_RECONNECT_DELAY must be positive, got %s", reconnect)
	}

	turnTimeout, err := parseDurationEnv("CHAT_TURN_TIMEOUT", 5*time.Minute)
	if err != nil {
		return ClientConfig{}, err
	}
	if turnTimeout < 0 {
		return ClientConfig{}, fmt.Errorf("CHAT_TURN_TIMEOUT must not be negative, got %s", turnTimeout)
	}

	requestTimeout, err := parseDurationEnv("CHAT_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{
		WebSocketURL:   getEnvOrDefault("CHAT_WEBSOCKET_URL", "ws://localhost:8080/ws"),
		APIBaseURL:     getEnvOrDefault("CHAT_API_BASE_URL", "http://localhost:8080/api"),
		IDToken:        strings.TrimSpace(os.Getenv("CHAT_ID_TOKEN")),
		ReconnectDelay: reconnect,
		TurnTimeout:    turnTimeout,
		RequestTimeout: requestTimeout,
		WelcomeMessage: strings.TrimSpace(os.Getenv("CHAT_WELCOME_MESSAGE")),
		ConsoleAddr:    getEnvOrDefault("CHAT_CONSOLE_ADDR", "127.0.0.1:8090"),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Preference backends.
const (
	PreferencesMemory = "memory"
	PreferencesFile   = "file"
	PreferencesRedis  = "redis"
)

// PreferencesConfig 描述用户偏好的持久化方式。
type PreferencesConfig struct {
	Backend        string
	Path           string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string
}

func loadPreferencesConfig() (PreferencesConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("PREFERENCES_BACKEND", PreferencesFile))
	switch backend {
	case PreferencesMemory, PreferencesFile, PreferencesRedis:
	default:
		return PreferencesConfig{}, fmt.Errorf("invalid PREFERENCES_BACKEND value: %q", backend)
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return PreferencesConfig{}, err
	} else if override != nil {
		db = *override
	}

	return PreferencesConfig{
		Backend:        backend,
		Path:           getEnvOrDefault("PREFERENCES_PATH", defaultPreferencesPath()),
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        db,
		RedisNamespace: strings.TrimSpace(os.Getenv("REDIS_NAMESPACE")),
	}, nil
}

func defaultPreferencesPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".llmbot-chat", "preferences.yaml")
	}
	return filepath.Join(dir, "llmbot-chat", "preferences.yaml")
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseDurationEnv accepts Go durations ("90s") or bare seconds ("90").
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
