// Package config 统一配置管理
//
// API Server、Match Worker 与 rematch 客户端共用同一 YAML schema，
// 各组件只读取自己关心的章节。
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 密码/密钥只从环境变量读取，YAML 中不存储任何凭据。
//
// 配置路径确定策略：
//  1. --config 命令行参数（SetConfigDir）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：prod → /etc/rematch/，dev/test → ./configs/
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	APIServer  APIServerConfig  `yaml:"api_server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Worker     WorkerConfig     `yaml:"worker"`
	Matcher    MatcherConfig    `yaml:"matcher"`
	Pagination PaginationConfig `yaml:"pagination"`
	Client     ClientConfig     `yaml:"client"`
	Log        LogConfig        `yaml:"log"`
}

// APIServerConfig API Server 配置
type APIServerConfig struct {
	Port    string `yaml:"port"`
	URL     string `yaml:"url"`      // API Server 完整 URL（客户端连接用）
	MaxBulk int    `yaml:"max_bulk"` // POST /instances 单次最多实例数
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" or "sqlite"
	Path     string `yaml:"path"`   // SQLite 文件路径，":memory:" 为内存库
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig Host 与 URL 均为空时使用进程内队列
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"` // 只从 REDIS_PASSWORD 读取
	URL      string `yaml:"url"`
}

// MinIOConfig MinIO 对象存储配置，Endpoint 为空时不归档任务报告
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"` // 只从 MINIO_ROOT_USER 读取
	SecretKey string `yaml:"-"` // 只从 MINIO_ROOT_PASSWORD 读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// WorkerConfig 匹配任务 worker 配置
type WorkerConfig struct {
	ID               string        `yaml:"id"`
	Concurrency      int           `yaml:"concurrency"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	ReadCount        int           `yaml:"read_count"`
	FallbackInterval time.Duration `yaml:"fallback_interval"`
	StaleThreshold   time.Duration `yaml:"stale_threshold"`
	MatchBatchSize   int           `yaml:"match_batch_size"`
	Embedded         bool          `yaml:"embedded"` // API Server 进程内运行 worker
}

// MatcherConfig 匹配策略配置，Strategies 的顺序即注册顺序
type MatcherConfig struct {
	Strategies      []string `yaml:"strategies"`
	CosineThreshold float64  `yaml:"cosine_threshold"`
	CosineTopK      int      `yaml:"cosine_top_k"`
}

type PaginationConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// ClientConfig rematch 客户端配置
type ClientConfig struct {
	ServerURL         string        `yaml:"server_url"`
	UploadBatchSize   int           `yaml:"upload_batch_size"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	UploadErrorPolicy string        `yaml:"upload_error_policy"` // abort | skip
	PageSize          int           `yaml:"page_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string
	RedisURL       string // 为空表示使用进程内队列
	APIPort        string
	APIServer      APIServerConfig
	MinIO          MinIOConfig
	Worker         WorkerConfig
	Matcher        MatcherConfig
	Pagination     PaginationConfig
	Client         ClientConfig
	Log            LogConfig
	ConfigFilePath string // 实际加载的配置文件路径
}
