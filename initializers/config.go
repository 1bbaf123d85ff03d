package initializers

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port string

	DatabaseDriver string // postgres or sqlite
	DatabaseURL    string
	SQLitePath     string
	MigrationsPath string

	GroqAPIKey string
	GroqModel  string

	ElasticsearchURL string

	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3PublicURL string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SchedulerTick time.Duration
}

// LoadConfig reads the environment, applying defaults for anything unset.
func LoadConfig() Config {
	cfg := Config{
		Port:             getenv("PORT", "8080"),
		DatabaseDriver:   getenv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:      os.Getenv("DIRECT_URL"),
		SQLitePath:       getenv("SQLITE_PATH", "virtualbackroom.db"),
		MigrationsPath:   getenv("MIGRATIONS_PATH", "file://db/migrations"),
		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		GroqModel:        getenv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		ElasticsearchURL: os.Getenv("ELASTICSEARCH_URL"),
		S3Region:         os.Getenv("S3_REGION"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3PublicURL:      os.Getenv("S3_PUBLIC_URL"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getenv("SMTP_PORT", "587"),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:         os.Getenv("SMTP_FROM"),
		SchedulerTick:    time.Minute,
	}

	if tick := os.Getenv("SCHEDULER_TICK"); tick != "" {
		d, err := time.ParseDuration(tick)
		if err != nil || d <= 0 {
			log.Printf("Invalid SCHEDULER_TICK %q, using %s", tick, cfg.SchedulerTick)
		} else {
			cfg.SchedulerTick = d
		}
	}
	if _, err := strconv.Atoi(cfg.SMTPPort); err != nil {
		log.Printf("Invalid SMTP_PORT %q, using 587", cfg.SMTPPort)
		cfg.SMTPPort = "587"
	}
	return cfg
}

// S3Enabled reports whether attachment storage is configured.
func (c Config) S3Enabled() bool {
	return c.S3Region != "" && c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3Bucket != ""
}

// SMTPEnabled reports whether real email delivery is configured.
func (c Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
