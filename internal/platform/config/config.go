package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults aplicados cuando el archivo no define el campo.
const (
	DefaultHTTPAddr       = ":8080"
	DefaultCRMTimeout     = 30 * time.Second
	DefaultCRMRate        = 5.0
	DefaultCRMBurst       = 5
	DefaultQueueBackend   = "memory"
	DefaultQueueName      = "task"
	DefaultConcurrency    = 4
	DefaultMaxAttempts    = 5
	DefaultTaskTimeout    = 2 * time.Minute
	DefaultRetryBackoff   = 2 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultDailyAt        = "02:07:10"
	DefaultSettingsSource = "file"
	DefaultSettingsTTL    = 5 * time.Minute
)

var clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d:[0-5]\d$`)

// Config es la configuración del servicio (no de la regla de negocio:
// códigos consecutivos, ventanas de gracia, etc viven en settings).
type Config struct {
	App      string         `yaml:"app"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	CRM      CRMConfig      `yaml:"crm"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Tenure   TenureConfig   `yaml:"tenure"`
	Lapsed   LapsedConfig   `yaml:"lapsed"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// APIKeyEnv: nombre de la env var con la API key para rutas que encolan.
	// Vacío => sin auth (modo dev).
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resuelve la key desde el entorno.
func (h HTTPConfig) APIKey() string {
	if h.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(h.APIKeyEnv)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CRMConfig struct {
	// Backend: imis | memory (memory solo para dev/tests).
	Backend     string        `yaml:"backend"`
	BaseURL     string        `yaml:"base_url"`
	Username    string        `yaml:"username"`
	PasswordEnv string        `yaml:"password_env"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
	Burst       int           `yaml:"burst"`

	// MemberTypeAttribute: atributo de Party con el type code.
	MemberTypeAttribute string `yaml:"member_type_attribute"`
}

func (c CRMConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

type QueueConfig struct {
	// Backend: memory | redis | postgres.
	Backend  string              `yaml:"backend"`
	Name     string              `yaml:"name"`
	Redis    RedisQueueConfig    `yaml:"redis"`
	Postgres PostgresQueueConfig `yaml:"postgres"`
}

type RedisQueueConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

func (r RedisQueueConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

type PostgresQueueConfig struct {
	DSNEnv       string        `yaml:"dsn_env"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (p PostgresQueueConfig) DSN() string {
	if p.DSNEnv == "" {
		return ""
	}
	return os.Getenv(p.DSNEnv)
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	MaxAttempts  int           `yaml:"max_attempts"`
	TaskTimeout  time.Duration `yaml:"task_timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type ScheduleConfig struct {
	Enabled bool `yaml:"enabled"`
	// DailyAt en UTC, HH:MM:SS.
	DailyAt string `yaml:"daily_at"`
}

type TenureConfig struct {
	// SettingsSource: file | crm | env.
	SettingsSource     string `yaml:"settings_source"`
	SettingsFile       string `yaml:"settings_file"`
	SettingsRecordType string `yaml:"settings_record_type"`
	// SettingsTTL: cada cuánto se releen settings de crm/env.
	SettingsTTL time.Duration `yaml:"settings_ttl"`
	// MemberTypeProperty: propiedad del change log que indica el tipo de miembro.
	MemberTypeProperty string `yaml:"member_type_property"`
}

type LapsedConfig struct {
	// Query: nombre de la consulta guardada en el CRM. Vacío => job deshabilitado.
	Query string `yaml:"query"`
}

// Load lee y parsea el YAML en path. Si path es vacío usa solo defaults + env.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		App:  "member-tenure",
		HTTP: HTTPConfig{Addr: DefaultHTTPAddr},
		Log:  LogConfig{Level: "info", Format: "text"},
		CRM: CRMConfig{
			Backend:   "imis",
			Timeout:   DefaultCRMTimeout,
			RateLimit: DefaultCRMRate,
			Burst:     DefaultCRMBurst,
		},
		Queue: QueueConfig{
			Backend:  DefaultQueueBackend,
			Name:     DefaultQueueName,
			Postgres: PostgresQueueConfig{PollInterval: DefaultPollInterval},
		},
		Worker: WorkerConfig{
			Concurrency:  DefaultConcurrency,
			MaxAttempts:  DefaultMaxAttempts,
			TaskTimeout:  DefaultTaskTimeout,
			RetryBackoff: DefaultRetryBackoff,
		},
		Schedule: ScheduleConfig{DailyAt: DefaultDailyAt},
		Tenure: TenureConfig{
			SettingsSource:     DefaultSettingsSource,
			SettingsTTL:        DefaultSettingsTTL,
			MemberTypeProperty: "Name.MEMBER_TYPE",
		},
	}
}

// applyEnv: overrides de env para lo que suele cambiar por entorno
// (PORT, LOG_LEVEL, APP_NAME, IMIS_URL, etc.).
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.HTTP.Addr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.Log.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_NAME")); v != "" {
		cfg.App = v
	}
	if v := strings.TrimSpace(os.Getenv("IMIS_URL")); v != "" {
		cfg.CRM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("IMIS_USERNAME")); v != "" {
		cfg.CRM.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("QUEUE_BACKEND")); v != "" {
		cfg.Queue.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Queue.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKER_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("IQAQUERY")); v != "" {
		cfg.Lapsed.Query = v
	}
}

func validate(cfg *Config) error {
	switch cfg.CRM.Backend {
	case "imis":
		if strings.TrimSpace(cfg.CRM.BaseURL) == "" {
			return fmt.Errorf("crm.base_url is required")
		}
	case "memory":
	default:
		return fmt.Errorf("crm.backend: unknown backend %q", cfg.CRM.Backend)
	}
	if cfg.CRM.Timeout <= 0 {
		return fmt.Errorf("crm.timeout must be positive")
	}

	switch cfg.Queue.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Queue.Redis.Addr) == "" {
			return fmt.Errorf("queue.redis.addr is required")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Queue.Postgres.DSNEnv) == "" {
			return fmt.Errorf("queue.postgres.dsn_env is required")
		}
		if cfg.Queue.Postgres.PollInterval <= 0 {
			return fmt.Errorf("queue.postgres.poll_interval must be positive")
		}
	default:
		return fmt.Errorf("queue.backend: unknown backend %q", cfg.Queue.Backend)
	}
	if strings.TrimSpace(cfg.Queue.Name) == "" {
		return fmt.Errorf("queue.name is required")
	}

	if cfg.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if cfg.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive")
	}
	if cfg.Worker.TaskTimeout <= 0 {
		return fmt.Errorf("worker.task_timeout must be positive")
	}
	if cfg.Worker.RetryBackoff < 0 {
		return fmt.Errorf("worker.retry_backoff must not be negative")
	}

	if !clockRe.MatchString(cfg.Schedule.DailyAt) {
		return fmt.Errorf("schedule.daily_at must be HH:MM:SS, got %q", cfg.Schedule.DailyAt)
	}

	switch cfg.Tenure.SettingsSource {
	case "file":
		if strings.TrimSpace(cfg.Tenure.SettingsFile) == "" {
			return fmt.Errorf("tenure.settings_file is required when settings_source is file")
		}
	case "crm":
		if strings.TrimSpace(cfg.Tenure.SettingsRecordType) == "" {
			return fmt.Errorf("tenure.settings_record_type is required when settings_source is crm")
		}
	case "env":
	default:
		return fmt.Errorf("tenure.settings_source: unknown source %q", cfg.Tenure.SettingsSource)
	}
	if cfg.Tenure.SettingsTTL < 0 {
		return fmt.Errorf("tenure.settings_ttl must not be negative")
	}
	if strings.TrimSpace(cfg.Tenure.MemberTypeProperty) == "" {
		return fmt.Errorf("tenure.member_type_property is required")
	}

	return nil
}
