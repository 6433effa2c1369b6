package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env-default:"local"`
	Tokens     `yaml:"tokens"`
	Auth       `yaml:"auth"`
	Cookie     `yaml:"cookie"`
	RabbitMQ   `yaml:"rabbitmq"`
	Postgres   `yaml:"postgres"`
	HTTPServer `yaml:"http_server"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	PublicURL   string        `yaml:"public_url" env-default:"http://localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-required:"true"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

// Tokens holds the two signing secrets and every expiry window.
// Both secrets are env-required: a missing secret is a deployment error
// and must stop the process before any token work begins.
type Tokens struct {
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl" env-default:"15m"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl" env-default:"168h"`
	SessionTTL         time.Duration `yaml:"session_ttl" env-default:"168h"`
	ResetTokenTTL      time.Duration `yaml:"reset_token_ttl" env-default:"1h"`
	AccessTokenSecret  string        `yaml:"access_token_secret" env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	RefreshTokenSecret string        `yaml:"refresh_token_secret" env:"REFRESH_TOKEN_SECRET" env-required:"true"`
}

type Auth struct {
	BcryptCost       int           `yaml:"bcrypt_cost" env-default:"12"`
	MaxLoginAttempts int           `yaml:"max_login_attempts" env-default:"5"`
	LockDuration     time.Duration `yaml:"lock_duration" env-default:"30m"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env-default:"1h"`
}

type Cookie struct {
	MaxAge    time.Duration `yaml:"max_age" env-default:"720h"`
	CrossSite bool          `yaml:"cross_site" env:"ALLOW_CROSS_SITE_COOKIES" env-default:"false"`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL" env-required:"true"`
	QueueName string `yaml:"queue_name" env-default:"auth_emails"`
}

type SMTP struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
}

// MailerConfig is the subset the mailer binary needs.
type MailerConfig struct {
	Env      string `yaml:"env" env-default:"local"`
	SMTP     `yaml:"smtp"`
	RabbitMQ `yaml:"rabbitmq"`
}

func MustLoad(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist" + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	return &cfg
}

func MustLoadMailer(configPath string) *MailerConfig {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist" + configPath)
	}

	var cfg MailerConfig

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	return &cfg
}
