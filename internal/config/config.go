package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// 存储后端名称。
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// 初始化策略：explicit 要求先执行 initialize，implicit 在首次访问时自动创建。
const (
	PolicyExplicit = "explicit"
	PolicyImplicit = "implicit"
)

// defaultMentionBatch 平台单条消息超过 50 个提及时不会发送通知，取 20 留出余量。
const defaultMentionBatch = 20

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Store  StoreConfig
	Roster RosterConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	rosterCfg, err := loadRosterConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log:    loadLogConfig(),
		Store:  store,
		Roster: rosterCfg,
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

// LogConfig 描述日志级别与运行环境。
type LogConfig struct {
	Level string
	Env   string
}

// IsDevelopment 开发环境使用控制台格式输出日志。
func (c LogConfig) IsDevelopment() bool {
	return c.Env == "development"
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level: strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Env:   getEnvOrDefault("ENV", "development"),
	}
}

// StoreConfig 描述名单持久化后端。
type StoreConfig struct {
	Backend     string
	DataDir     string
	SQLitePath  string
	DatabaseURL string
	RedisURL    string
}

func loadStoreConfig() (StoreConfig, error) {
	cfg := StoreConfig{
		Backend:     strings.ToLower(getEnvOrDefault("ROSTER_STORE", BackendFile)),
		DataDir:     getEnvOrDefault("ROSTER_DATA_DIR", "bot_data"),
		SQLitePath:  getEnvOrDefault("ROSTER_SQLITE_PATH", ""),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
	}

	switch cfg.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return StoreConfig{}, fmt.Errorf("DATABASE_URL is required for ROSTER_STORE=%s", cfg.Backend)
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return StoreConfig{}, fmt.Errorf("REDIS_URL is required for ROSTER_STORE=%s", cfg.Backend)
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid ROSTER_STORE value %q", cfg.Backend)
	}

	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "rosters.db")
	}
	return cfg, nil
}

// RosterConfig 描述名单服务的行为参数。
type RosterConfig struct {
	InitPolicy       string
	MentionBatchSize int
	AdminUsernames   []string
	EventsEnabled    bool
}

// IsAdmin 判断用户名是否在管理员列表中；列表为空时不做限制。
func (c RosterConfig) IsAdmin(username string) bool {
	if len(c.AdminUsernames) == 0 {
		return true
	}
	for _, admin := range c.AdminUsernames {
		if admin == username {
			return true
		}
	}
	return false
}

func loadRosterConfig() (RosterConfig, error) {
	policy := strings.ToLower(getEnvOrDefault("ROSTER_INIT_POLICY", PolicyExplicit))
	if policy != PolicyExplicit && policy != PolicyImplicit {
		return RosterConfig{}, fmt.Errorf("invalid ROSTER_INIT_POLICY value %q", policy)
	}

	batch := defaultMentionBatch
	if override, err := parseOptionalIntEnv("ROSTER_MENTION_BATCH"); err != nil {
		return RosterConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return RosterConfig{}, fmt.Errorf("invalid ROSTER_MENTION_BATCH value %d: must be positive", *override)
		}
		batch = *override
	}

	events, err := parseBoolEnv("ROSTER_EVENTS_ENABLED", true)
	if err != nil {
		return RosterConfig{}, err
	}

	return RosterConfig{
		InitPolicy:       policy,
		MentionBatchSize: batch,
		AdminUsernames:   parseUsernameList(os.Getenv("ROSTER_ADMIN_USERNAMES")),
		EventsEnabled:    events,
	}, nil
}

// parseUsernameList 解析逗号分隔的用户名，去掉前导 @。
func parseUsernameList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimPrefix(strings.TrimSpace(entry), "@")
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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
