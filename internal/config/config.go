package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	AI     AIConfig
	Ledger LedgerConfig
	Events EventsConfig
	Log    LogConfig
}

// File 是可选 YAML 配置文件的结构，环境变量优先于文件中的值。
type File struct {
	Port  string `yaml:"port"`
	Store struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlitePath"`
	} `yaml:"store"`
	OpenRouter struct {
		APIKey       string `yaml:"apiKey"`
		BaseURL      string `yaml:"baseURL"`
		Model        string `yaml:"model"`
		SystemPrompt string `yaml:"systemPrompt"`
		Referer      string `yaml:"referer"`
		Title        string `yaml:"title"`
	} `yaml:"openrouter"`
	Ledger struct {
		UserWho      string `yaml:"userWho"`
		HistoryLimit *int   `yaml:"historyLimit"`
	} `yaml:"ledger"`
	Redis struct {
		Addr   string `yaml:"addr"`
		Stream string `yaml:"stream"`
	} `yaml:"redis"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 从环境变量加载配置；LEDGER_CONFIG_FILE 指向的 YAML 文件提供默认值。
func Load() (*Config, error) {
	var file File
	if path := strings.TrimSpace(os.Getenv("LEDGER_CONFIG_FILE")); path != "" {
		loaded, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		file = *loaded
	}
	return FromFile(file)
}

// ReadFile 解析 YAML 配置文件。
func ReadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}
	return &file, nil
}

// FromFile 以 file 为默认值，叠加环境变量。
func FromFile(file File) (*Config, error) {
	server, err := loadServerConfig(file)
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig(file)
	if err != nil {
		return nil, err
	}

	ledger, err := loadLedgerConfig(file)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Store:  store,
		AI:     loadAIConfig(file),
		Ledger: ledger,
		Events: EventsConfig{
			RedisAddr:    getEnvOrDefault("LEDGER_REDIS_ADDR", file.Redis.Addr),
			StreamPrefix: getEnvOrDefault("LEDGER_REDIS_STREAM", file.Redis.Stream),
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", firstNonEmpty(file.Log.Level, "info")),
			Format: getEnvOrDefault("LOG_FORMAT", file.Log.Format),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(file File) (ServerConfig, error) {
	port := getEnvOrDefault("PORT", firstNonEmpty(file.Port, "8080"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, errors.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StoreDriver 选择账本的持久化后端。
type StoreDriver string

const (
	StoreMemory StoreDriver = "memory"
	StoreSQLite StoreDriver = "sqlite"
)

// StoreConfig 描述存储配置。
type StoreConfig struct {
	Driver     StoreDriver
	SQLitePath string
}

func loadStoreConfig(file File) (StoreConfig, error) {
	driver := StoreDriver(strings.ToLower(getEnvOrDefault("LEDGER_STORE", firstNonEmpty(file.Store.Driver, string(StoreSQLite)))))
	switch driver {
	case StoreMemory, StoreSQLite:
	default:
		return StoreConfig{}, errors.Errorf("invalid LEDGER_STORE value %q (memory|sqlite)", driver)
	}
	return StoreConfig{
		Driver:     driver,
		SQLitePath: getEnvOrDefault("LEDGER_SQLITE_PATH", firstNonEmpty(file.Store.SQLitePath, DefaultSQLitePath())),
	}, nil
}

// DefaultSQLitePath 位于用户配置目录下。
func DefaultSQLitePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "chronoledger" + string(os.PathSeparator) + "ledger.db"
	}
	return "ledger.db"
}

// AIConfig 描述上游模型服务配置，留空的字段由 ai 包补默认值。
type AIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Referer      string
	Title        string
}

// Enabled 表示是否提供了 API Key。
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadAIConfig(file File) AIConfig {
	return AIConfig{
		APIKey:       getEnvOrDefault("OPENROUTER_API_KEY", file.OpenRouter.APIKey),
		BaseURL:      getEnvOrDefault("OPENROUTER_BASE_URL", file.OpenRouter.BaseURL),
		Model:        getEnvOrDefault("OPENROUTER_MODEL", file.OpenRouter.Model),
		SystemPrompt: getEnvOrDefault("OPENROUTER_SYSTEM_PROMPT", file.OpenRouter.SystemPrompt),
		Referer:      getEnvOrDefault("OPENROUTER_REFERER", file.OpenRouter.Referer),
		Title:        getEnvOrDefault("OPENROUTER_TITLE", file.OpenRouter.Title),
	}
}

// LedgerConfig 描述对话账本的行为。
type LedgerConfig struct {
	UserWho      string
	HistoryLimit int
}

func loadLedgerConfig(file File) (LedgerConfig, error) {
	limit := 0
	if file.Ledger.HistoryLimit != nil {
		limit = *file.Ledger.HistoryLimit
	}
	override, err := parseOptionalIntEnv("LEDGER_HISTORY_LIMIT")
	if err != nil {
		return LedgerConfig{}, err
	}
	if override != nil {
		limit = *override
	}
	if limit < 0 {
		limit = 0
	}

	return LedgerConfig{
		UserWho:      getEnvOrDefault("LEDGER_USER_WHO", firstNonEmpty(file.Ledger.UserWho, "@User")),
		HistoryLimit: limit,
	}, nil
}

// EventsConfig 描述事件发布配置，RedisAddr 为空时不发布。
type EventsConfig struct {
	RedisAddr    string
	StreamPrefix string
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level  string
	Format string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
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
		return nil, errors.Wrapf(err, "invalid %s value %q", key, value)
	}
	return &val, nil
}
