// Package config loads edfctl settings from YAML or TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"example.com/edfgate/internal/common"
)

type LogConfig struct {
	Directory  string `yaml:"directory" toml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"max_size_mb"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"max_age_days"`
	MaxBackups int    `yaml:"maxBackups" toml:"max_backups"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

type ReportConfig struct {
	Title  string `yaml:"title" toml:"title"`
	QRSize int    `yaml:"qrSize" toml:"qr_size"`
}

// ServerConfig holds the edfd daemon settings.
type ServerConfig struct {
	Port       int    `yaml:"port" toml:"port"`
	StorageDir string `yaml:"storageDir" toml:"storage_dir"`
}

type Config struct {
	Lang      string       `yaml:"lang"`
	OutputDir string       `yaml:"outputDir"`
	Rules     string       `yaml:"rules"`
	RuleRepo  string       `yaml:"ruleRepo"`
	AuditLog  string       `yaml:"auditLog"`
	Separator string       `yaml:"separator"`
	Logs      LogConfig    `yaml:"logs"`
	Report    ReportConfig `yaml:"report"`
	Server    ServerConfig `yaml:"server"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Rotation converts the log settings for common.SetupLogging. fileName is
// the log file written in the log directory.
func (c Config) Rotation(fileName string) common.LogRotation {
	return common.LogRotation{
		Directory:  c.Logs.Directory,
		FileName:   fileName,
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxAgeDays: c.Logs.MaxAgeDays,
		MaxBackups: c.Logs.MaxBackups,
		Compress:   c.Logs.Compress,
	}
}

// Load reads path as YAML (.yaml, .yml) or TOML (.toml). Relative paths in
// the file are resolved against its directory.
func Load(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = loadYAML(path)
	case ".toml":
		cfg, err = loadTOML(path)
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension", path)
	}
	if err != nil {
		return Config{}, err
	}
	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	cfg.OutputDir = resolvePath(cfg.OutputDir)
	// Rules is either a pack file or an installed id@version reference.
	if strings.EqualFold(filepath.Ext(cfg.Rules), ".json") {
		cfg.Rules = resolvePath(cfg.Rules)
	}
	cfg.RuleRepo = resolvePath(cfg.RuleRepo)
	cfg.AuditLog = resolvePath(cfg.AuditLog)
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	cfg.Server.StorageDir = resolvePath(cfg.Server.StorageDir)
	applyDefaults(&cfg)
	return cfg, nil
}

func loadYAML(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

type fileConfig struct {
	Lang      string       `toml:"lang"`
	OutputDir string       `toml:"output_dir"`
	Rules     string       `toml:"rules"`
	RuleRepo  string       `toml:"rule_repo"`
	AuditLog  string       `toml:"audit_log"`
	Separator string       `toml:"separator"`
	Logs      LogConfig    `toml:"logs"`
	Report    ReportConfig `toml:"report"`
	Server    ServerConfig `toml:"server"`
}

func loadTOML(path string) (Config, error) {
	var cfg Config
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("load config: unknown key %s", undecoded[0])
	}
	if meta.IsDefined("lang") {
		cfg.Lang = strings.TrimSpace(raw.Lang)
	}
	if meta.IsDefined("output_dir") {
		cfg.OutputDir = raw.OutputDir
	}
	if meta.IsDefined("rules") {
		cfg.Rules = raw.Rules
	}
	if meta.IsDefined("rule_repo") {
		cfg.RuleRepo = raw.RuleRepo
	}
	if meta.IsDefined("audit_log") {
		cfg.AuditLog = raw.AuditLog
	}
	if meta.IsDefined("separator") {
		cfg.Separator = raw.Separator
	}
	if meta.IsDefined("logs") {
		cfg.Logs = raw.Logs
	}
	if meta.IsDefined("report") {
		cfg.Report = raw.Report
	}
	if meta.IsDefined("server") {
		cfg.Server = raw.Server
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.AuditLog == "" {
		cfg.AuditLog = filepath.Join(cfg.OutputDir, "edits.jsonl")
	}
	if cfg.Separator == "" {
		cfg.Separator = ","
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	if cfg.Report.QRSize <= 0 {
		cfg.Report.QRSize = 256
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = filepath.Join(cfg.OutputDir, "data")
	}
}
