package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Env      string `envconfig:"ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	BotToken string  `envconfig:"TELEGRAM_BOT_TOKEN" validate:"required"`
	AdminIDs []int64 `envconfig:"ADMIN_IDS"`

	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName     string `envconfig:"DB_NAME" default:"slotbox_bot"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     string `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	S3URL       string `envconfig:"S3_URL" validate:"required,url"`
	S3Bucket    string `envconfig:"S3_BUCKET" validate:"required"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" validate:"required"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" validate:"required"`
	S3PublicURL string `envconfig:"S3_PUBLIC_URL"`

	// Fan-out tuning. The interval is the minimum delay between two sends of
	// the same broadcast.
	BroadcastInterval time.Duration `envconfig:"BROADCAST_INTERVAL" default:"50ms" validate:"gt=0"`
	BroadcastWorkers  int           `envconfig:"BROADCAST_WORKERS" default:"4" validate:"min=1,max=32"`
	BroadcastRetries  int           `envconfig:"BROADCAST_RETRIES" default:"2" validate:"min=0,max=10"`
	SendTimeout       time.Duration `envconfig:"SEND_TIMEOUT" default:"10s" validate:"gt=0"`
	StorageTimeout    time.Duration `envconfig:"STORAGE_TIMEOUT" default:"30s" validate:"gt=0"`

	MaxUploadBytes  int64         `envconfig:"MAX_UPLOAD_BYTES" default:"20971520" validate:"gt=0"`
	UsageRetention  time.Duration `envconfig:"USAGE_RETENTION" default:"2160h"`
	PremiumInterval time.Duration `envconfig:"PREMIUM_CHECK_INTERVAL" default:"1h" validate:"gt=0"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, dotenv, fmt.Errorf("failed to process env: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, dotenv, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, dotenv, nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
