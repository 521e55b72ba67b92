package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/bytebrain/docchat/internal/observability/logging"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Client ClientConfig
	AI     AIConfig
	Log    logging.Config
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Client: client, AI: ai, Log: loadLogConfig()}, nil
}

// ServerConfig 描述聊天服务端配置。
type ServerConfig struct {
	Addr        string
	ProjectName string
	// PromptTemplate 覆盖默认的系统提示词，{project} 会被替换为项目名。
	PromptTemplate string
	// TokenDelay 是 dummy 流式接口两个 token 之间的间隔。
	TokenDelay time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8081"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8081" 或 "127.0.0.1:8081"。
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	delay, err := parseOptionalIntEnv("CHAT_TOKEN_DELAY_MS")
	if err != nil {
		return ServerConfig{}, err
	}
	tokenDelay := 2 * time.Millisecond
	if delay != nil {
		if *delay < 0 {
			return ServerConfig{}, fmt.Errorf("invalid CHAT_TOKEN_DELAY_MS value %d", *delay)
		}
		tokenDelay = time.Duration(*delay) * time.Millisecond
	}

	return ServerConfig{
		Addr:           addr,
		ProjectName:    getEnvOrDefault("CHAT_PROJECT_NAME", "ZIO"),
		PromptTemplate: strings.TrimSpace(os.Getenv("CHAT_PROMPT_TEMPLATE")),
		TokenDelay:     tokenDelay,
	}, nil
}

// ClientConfig 描述流式聊天客户端配置。
type ClientConfig struct {
	WebsocketHost     string
	WebsocketPort     string
	WebsocketEndpoint string
	WelcomeMessages   []string
	StreamTimeout     time.Duration
	HandshakeTimeout  time.Duration
}

func loadClientConfig() (ClientConfig, error) {
	streamTimeout, err := parseSecondsEnv("CHAT_STREAM_TIMEOUT", 60*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	handshakeTimeout, err := parseSecondsEnv("CHAT_HANDSHAKE_TIMEOUT", 10*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	port := getEnvOrDefault("CHAT_WEBSOCKET_PORT", "8081")
	if _, err := strconv.Atoi(port); err != nil {
		return ClientConfig{}, fmt.Errorf("invalid CHAT_WEBSOCKET_PORT value %q: %w", port, err)
	}

	endpoint := getEnvOrDefault("CHAT_WEBSOCKET_ENDPOINT", "/chat")
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	return ClientConfig{
		WebsocketHost:     strings.TrimSpace(os.Getenv("CHAT_WEBSOCKET_HOST")),
		WebsocketPort:     port,
		WebsocketEndpoint: endpoint,
		WelcomeMessages:   splitList(os.Getenv("CHAT_WELCOME_MESSAGES")),
		StreamTimeout:     streamTimeout,
		HandshakeTimeout:  handshakeTimeout,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	HistoryLimit   int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
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

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		historyLimit = max(*override, 0)
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		HistoryLimit:   historyLimit,
	}, nil
}

func loadLogConfig() logging.Config {
	defaults := logging.DefaultConfig()
	return logging.Config{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", defaults.Level)),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", defaults.Format)),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// splitList 拆分以 "|" 分隔的列表，忽略空项。
func splitList(raw string) []string {
	var items []string
	for _, part := range strings.Split(raw, "|") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	seconds, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if seconds == nil {
		return defaultValue, nil
	}
	if *seconds < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", key, *seconds)
	}
	return time.Duration(*seconds) * time.Second, nil
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
