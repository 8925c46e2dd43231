package db

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config/config.yaml"

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" | "sqlite3"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Path     string `yaml:"path"` // sqlite3 のみ
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	AllowOrigin []string `yaml:"allow_origins"`
	Certificate Certs    `yaml:"certificate"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LoanPolicyConfig: 貸出期間・同時貸出冊数（会員種別ごと）と延滞料。冊数 0 は無制限
type LoanPolicyConfig struct {
	DefaultDays     int            `yaml:"default_days"`
	DaysByType      map[string]int `yaml:"days_by_type"`
	DefaultMaxLoans int            `yaml:"default_max_loans"`
	MaxLoansByType  map[string]int `yaml:"max_loans_by_type"`
	FinePerDay      float64        `yaml:"fine_per_day"`
}

type Config struct {
	Version string           `yaml:"version"`
	Mode    string           `yaml:"mode"`
	DB      DatabaseConfig   `yaml:"database"`
	Server  ServerConfig     `yaml:"server"`
	Auth    AuthConfig       `yaml:"auth"`
	Loans   LoanPolicyConfig `yaml:"loans"`
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults: 設定ファイルで省略された項目の既定値
func Defaults() *Config {
	return &Config{
		Mode: "dev",
		DB: DatabaseConfig{
			Driver: DriverMySQL,
			Host:   "127.0.0.1",
			Port:   3306,
		},
		Server: ServerConfig{
			Addr:        ":8443",
			AllowOrigin: []string{"http://localhost:3000"},
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Loans: LoanPolicyConfig{
			DefaultDays: 14,
			DaysByType: map[string]int{
				"student":  14,
				"faculty":  30,
				"staff":    14,
				"external": 7,
			},
			DefaultMaxLoans: 5,
			MaxLoansByType: map[string]int{
				"student":  5,
				"faculty":  10,
				"staff":    5,
				"external": 2,
			},
			FinePerDay: 5,
		},
	}
}

func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "release" {
		return fmt.Errorf("mode must be dev or release, got %q", c.Mode)
	}
	switch c.DB.Driver {
	case DriverMySQL:
		if c.DB.DBName == "" {
			return fmt.Errorf("database.dbname is required for mysql")
		}
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DB.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Loans.DefaultDays <= 0 {
		return fmt.Errorf("loans.default_days must be > 0")
	}
	if c.Loans.DefaultMaxLoans < 0 {
		return fmt.Errorf("loans.default_max_loans must be >= 0")
	}
	for k, v := range c.Loans.MaxLoansByType {
		if v < 0 {
			return fmt.Errorf("loans.max_loans_by_type.%s must be >= 0", k)
		}
	}
	if c.Loans.FinePerDay < 0 {
		return fmt.Errorf("loans.fine_per_day must be >= 0")
	}
	return nil
}
