package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 上传失败处理策略
const (
	UploadPolicyAbort = "abort"
	UploadPolicySkip  = "skip"
)

// Load 加载配置
//  1. 加载 .env（凭据 + APP_ENV）
//  2. 根据 APP_ENV 加载 {env}.yaml
//  3. 环境变量覆盖
//  4. 校验并填充默认值
func Load() (*Config, error) {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)
	// .env 中可能声明了 APP_ENV
	env = parseEnv(getEnv("APP_ENV", string(env)))

	yamlCfg, path, err := loadYAMLConfig(env)
	if err != nil {
		return nil, err
	}

	yamlCfg.Database.Password = getEnv("DB_PASSWORD", "")
	yamlCfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	yamlCfg.MinIO.AccessKey = getEnv("MINIO_ROOT_USER", "")
	yamlCfg.MinIO.SecretKey = getEnv("MINIO_ROOT_PASSWORD", "")

	databaseURL := getEnv("DATABASE_URL", buildDatabaseURL(yamlCfg.Database, yamlCfg.Database.Password))

	cfg := &Config{
		Env:            env,
		DatabaseDriver: detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL),
		DatabaseURL:    databaseURL,
		RedisURL:       getEnv("REDIS_URL", buildRedisURL(yamlCfg.Redis)),
		APIPort:        getEnv("API_PORT", yamlCfg.APIServer.Port),
		APIServer:      yamlCfg.APIServer,
		MinIO:          yamlCfg.MinIO,
		Worker:         yamlCfg.Worker,
		Matcher:        yamlCfg.Matcher,
		Pagination:     yamlCfg.Pagination,
		Client:         yamlCfg.Client,
		Log:            yamlCfg.Log,
		ConfigFilePath: path,
	}
	cfg.Client.ServerURL = getEnv("REMATCH_SERVER", cfg.Client.ServerURL)
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_CONCURRENCY %q: %w", v, err)
		}
		cfg.Worker.Concurrency = n
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults 返回代码内置默认配置
func Defaults() *YAMLConfig {
	return &YAMLConfig{
		APIServer: APIServerConfig{Port: "8080", URL: "http://localhost:8080", MaxBulk: 1000},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "rematch.db", Host: "localhost", Port: 5432, User: "rematch", Name: "rematch", SSLMode: "disable"},
		Redis:     RedisConfig{Port: 6379},
		MinIO:     MinIOConfig{Bucket: "rematch-reports"},
		Worker: WorkerConfig{
			Concurrency:      2,
			ReadTimeout:      5 * time.Second,
			ReadCount:        10,
			FallbackInterval: time.Minute,
			StaleThreshold:   5 * time.Minute,
			MatchBatchSize:   10000,
			Embedded:         true,
		},
		Matcher: MatcherConfig{
			Strategies:      []string{"hash", "opcode_cosine"},
			CosineThreshold: 90,
			CosineTopK:      5,
		},
		Pagination: PaginationConfig{DefaultPageSize: 100, MaxPageSize: 1000},
		Client: ClientConfig{
			ServerURL:         "http://localhost:8080",
			UploadBatchSize:   100,
			PollInterval:      time.Second,
			UploadErrorPolicy: UploadPolicyAbort,
			PageSize:          100,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// loadYAMLConfig 默认值 → {env}.yaml
func loadYAMLConfig(env Environment) (*YAMLConfig, string, error) {
	cfg := Defaults()
	path := findConfigFile(env)
	if path == "" {
		return cfg, "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, path, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, path, nil
}

// validate 校验配置并填充缺省值
func (c *Config) validate() error {
	def := Defaults()
	if c.APIPort == "" {
		c.APIPort = def.APIServer.Port
	}
	if c.APIServer.MaxBulk <= 0 {
		c.APIServer.MaxBulk = def.APIServer.MaxBulk
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = def.MinIO.Bucket
	}

	w := &c.Worker
	if w.Concurrency <= 0 {
		w.Concurrency = def.Worker.Concurrency
	}
	if w.ReadTimeout == 0 {
		w.ReadTimeout = def.Worker.ReadTimeout
	}
	if w.ReadCount == 0 {
		w.ReadCount = def.Worker.ReadCount
	}
	if w.FallbackInterval == 0 {
		w.FallbackInterval = def.Worker.FallbackInterval
	}
	if w.StaleThreshold == 0 {
		w.StaleThreshold = def.Worker.StaleThreshold
	}
	if w.MatchBatchSize <= 0 {
		w.MatchBatchSize = def.Worker.MatchBatchSize
	}

	if len(c.Matcher.Strategies) == 0 {
		return fmt.Errorf("matcher.strategies must not be empty")
	}
	if c.Matcher.CosineThreshold < 0 || c.Matcher.CosineThreshold > 100 {
		return fmt.Errorf("matcher.cosine_threshold must be within [0, 100], got %v", c.Matcher.CosineThreshold)
	}
	if c.Matcher.CosineTopK <= 0 {
		c.Matcher.CosineTopK = def.Matcher.CosineTopK
	}

	p := &c.Pagination
	if p.DefaultPageSize <= 0 {
		p.DefaultPageSize = def.Pagination.DefaultPageSize
	}
	if p.MaxPageSize <= 0 {
		p.MaxPageSize = def.Pagination.MaxPageSize
	}
	if p.DefaultPageSize > p.MaxPageSize {
		p.DefaultPageSize = p.MaxPageSize
	}

	cl := &c.Client
	if cl.UploadBatchSize <= 0 {
		cl.UploadBatchSize = def.Client.UploadBatchSize
	}
	if cl.PollInterval <= 0 {
		cl.PollInterval = def.Client.PollInterval
	}
	if cl.PageSize <= 0 {
		cl.PageSize = def.Client.PageSize
	}
	cl.UploadErrorPolicy = strings.ToLower(cl.UploadErrorPolicy)
	switch cl.UploadErrorPolicy {
	case "":
		cl.UploadErrorPolicy = UploadPolicyAbort
	case UploadPolicyAbort, UploadPolicySkip:
	default:
		return fmt.Errorf("client.upload_error_policy must be %q or %q, got %q",
			UploadPolicyAbort, UploadPolicySkip, cl.UploadErrorPolicy)
	}
	return nil
}
