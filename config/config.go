package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	JWT       JWTConfig       `json:"jwt"`
	Email     EmailConfig     `json:"email"`
	Migration MigrationConfig `json:"migration"`
}

type ServerConfig struct {
	Port string `json:"port"`
	Mode string `json:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `json:"type"` // mysql, postgres
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
}

type JWTConfig struct {
	Secret     string `json:"secret"`
	ExpireTime int    `json:"expire_time"` // 小时
}

type EmailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// MigrationConfig 迁移引擎参数
type MigrationConfig struct {
	Workers       int    `json:"workers"`
	WriteShards   int    `json:"write_shards"`
	BatchSize     int    `json:"batch_size"`
	ManualDir     string `json:"manual_dir"`
	BackupDir     string `json:"backup_dir"`
	OuterRefFile  string `json:"outer_ref_file"`
	PgDump        string `json:"pg_dump"`
	PgRestore     string `json:"pg_restore"`
	SequenceOwner string `json:"sequence_owner"`
	Backup        *bool  `json:"backup"`
}

// BackupEnabled 未配置时默认备份
func (m MigrationConfig) BackupEnabled() bool {
	return m.Backup == nil || *m.Backup
}

var GlobalConfig *Config

// 可通过.env或环境变量覆盖的敏感配置
const (
	EnvDBPassword   = "ORA2PG_DB_PASSWORD"
	EnvJWTSecret    = "ORA2PG_JWT_SECRET"
	EnvSMTPPassword = "ORA2PG_SMTP_PASSWORD"
	EnvWorkers      = "ORA2PG_WORKERS"
)

// Default 默认配置
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig 读取JSON配置，文件不存在时使用默认配置；随后用.env覆盖敏感项
func LoadConfig(path string) error {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logrus.WithField("path", path).Warn("配置文件不存在，使用默认配置")
	case err != nil:
		return err
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return err
		}
	}

	// .env不存在时忽略
	_ = godotenv.Load()
	applyEnv(cfg)
	applyDefaults(cfg)

	GlobalConfig = cfg
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDBPassword); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv(EnvSMTPPassword); v != "" {
		cfg.Email.Password = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Migration.Workers = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "mysql"
	}
	if cfg.JWT.ExpireTime <= 0 {
		cfg.JWT.ExpireTime = 24
	}

	m := &cfg.Migration
	if m.Workers <= 0 {
		m.Workers = 5
	}
	if m.WriteShards <= 0 {
		m.WriteShards = 5
	}
	if m.BatchSize <= 0 {
		m.BatchSize = 100000
	}
	if m.ManualDir == "" {
		m.ManualDir = "manual_migrations"
	}
	if m.BackupDir == "" {
		m.BackupDir = "backups"
	}
	if m.OuterRefFile == "" {
		m.OuterRefFile = "outer_references.txt"
	}
	if m.PgDump == "" {
		m.PgDump = "pg_dump"
	}
	if m.PgRestore == "" {
		m.PgRestore = "pg_restore"
	}
}
