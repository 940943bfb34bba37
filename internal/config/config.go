package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"bookflow/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Backup      BackupConfig      `yaml:"backup"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
	Booking     BookingConfig     `yaml:"booking"`
	Commissions CommissionsConfig `yaml:"commissions"`
	Deposits    DepositConfig     `yaml:"deposits"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Files       FilesConfig       `yaml:"files"`
	Broker      BrokerConfig      `yaml:"broker"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Exports     ExportConfig      `yaml:"exports"`
}

type BookingConfig struct {
	AbandonedTimeout       time.Duration `yaml:"abandoned_timeout"`
	CancellationWindowDays int           `yaml:"cancellation_window_days"`
	TermsVersion           string        `yaml:"terms_version"`
	SkipPayment            bool          `yaml:"skip_payment"`
	ServicesPath           string        `yaml:"services_path"`
}

type CommissionsConfig struct {
	TeamPercentage      decimal.Decimal     `yaml:"team_percentage"`
	AffiliatePercentage decimal.Decimal     `yaml:"affiliate_percentage"`
	SalesPercentage     decimal.Decimal     `yaml:"sales_percentage"`
	Team                []models.TeamMember `yaml:"team"`
}

// TeamPercentageFor returns the member override or the default percentage.
func (c CommissionsConfig) TeamPercentageFor(teamID int64) decimal.Decimal {
	for _, m := range c.Team {
		if m.ID == teamID && !m.Percentage.IsZero() {
			return m.Percentage
		}
	}
	return c.TeamPercentage
}

type DepositConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Percentage decimal.Decimal `yaml:"percentage"`
	Flat       decimal.Decimal `yaml:"flat"`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type ProcessorConfig struct {
	BaseURL   string        `yaml:"base_url"`
	SecretKey string        `yaml:"secret_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

type FilesConfig struct {
	TempDir      string `yaml:"temp_dir"`
	PermanentDir string `yaml:"permanent_dir"`
}

type BrokerConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type TelegramConfig struct {
	BotToken     string          `yaml:"bot_token"`
	ManagerChats []int64         `yaml:"manager_chats"`
	PayeeChats   map[int64]int64 `yaml:"payee_chats"`
	Debug        bool            `yaml:"debug"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	BaseURL     string `yaml:"base_url"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; missing file is not an error
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Booking.CancellationWindowDays < 0 {
		return errors.New("booking.cancellation_window_days must not be negative")
	}

	hundred := decimal.NewFromInt(100)
	for name, p := range map[string]decimal.Decimal{
		"commissions.team_percentage":      c.Commissions.TeamPercentage,
		"commissions.affiliate_percentage": c.Commissions.AffiliatePercentage,
		"commissions.sales_percentage":     c.Commissions.SalesPercentage,
		"deposits.percentage":              c.Deposits.Percentage,
	} {
		if p.IsNegative() || p.GreaterThan(hundred) {
			return fmt.Errorf("%s must be within 0..100", name)
		}
	}
	if c.Deposits.Flat.IsNegative() {
		return errors.New("deposits.flat must not be negative")
	}

	return ValidateTeam(c.Commissions.Team)
}

func ValidateTeam(team []models.TeamMember) error {
	ids := make(map[int64]bool)
	for _, m := range team {
		if m.ID == 0 {
			return fmt.Errorf("team member '%s' has invalid ID 0", m.Name)
		}
		if ids[m.ID] {
			return fmt.Errorf("duplicate team member ID found: %d", m.ID)
		}
		ids[m.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bookflow"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Booking.AbandonedTimeout == 0 {
		c.Booking.AbandonedTimeout = models.DefaultAbandonedTimeout
	}
	if c.Booking.ServicesPath == "" {
		c.Booking.ServicesPath = "configs/services.yaml"
	}

	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 2 * time.Second
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = 20
	}
	if c.Processor.Timeout == 0 {
		c.Processor.Timeout = 15 * time.Second
	}
	if c.Files.TempDir == "" {
		c.Files.TempDir = "data/uploads/tmp"
	}
	if c.Files.PermanentDir == "" {
		c.Files.PermanentDir = "data/uploads/files"
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "bookflow.events"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "data/exports"
	}
}

// LoadServices reads the service catalog.
func LoadServices(path string) ([]models.ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var catalog struct {
		Services []models.ServiceDefinition `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse services: %w", err)
	}

	seen := make(map[int64]bool)
	for _, s := range catalog.Services {
		if s.ID == 0 {
			return nil, fmt.Errorf("service '%s' has invalid ID 0", s.Name)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate service ID found: %d", s.ID)
		}
		seen[s.ID] = true
	}

	return catalog.Services, nil
}
