package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	APIPort   string        `env:"API_PORT" envDefault:"8080"`
	JWTSecret string        `env:"JWT_SECRET" envDefault:"defaultsecret"`
	JWTExp    time.Duration `env:"JWT_EXPIRATION" envDefault:"72h"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"user"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"password"`
	DBName     string `env:"DB_NAME" envDefault:"ctf_scoring"`
	DBSslMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMigrate  bool   `env:"DB_MIGRATE" envDefault:"true"`
	DBConnStr  string

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RepriceQueueName      string `env:"REPRICE_QUEUE_NAME" envDefault:"reprice_jobs_queue"`
	RepriceLockKey        string `env:"REPRICE_LOCK_KEY" envDefault:"reprice_lock"`
	RepriceLockTTLSeconds int    `env:"REPRICE_LOCK_TTL_SECONDS" envDefault:"60"`
	RunEmbeddedWorker     bool   `env:"RUN_EMBEDDED_WORKER" envDefault:"true"`

	ChallengeCacheTTLSeconds int    `env:"CHALLENGE_CACHE_TTL_SECONDS" envDefault:"300"`
	EventsChannel            string `env:"EVENTS_CHANNEL" envDefault:"ctf:events"`
	SettingsHashKey          string `env:"SETTINGS_HASH_KEY" envDefault:"ctf:config"`
	SettingsCacheTTLSeconds  int    `env:"SETTINGS_CACHE_TTL_SECONDS" envDefault:"5"`

	// Competition defaults, used when the settings hash has no value for a key.
	Competition Competition `envPrefix:"CTF_"`
}

type Competition struct {
	EnableFlagSubmission                 bool   `env:"ENABLE_FLAG_SUBMISSION" envDefault:"true"`
	EnableFlagSubmissionAfterCompetition bool   `env:"ENABLE_FLAG_SUBMISSION_AFTER_COMPETITION" envDefault:"false"`
	EnableScoring                        bool   `env:"ENABLE_SCORING" envDefault:"true"`
	EnableTrackIncorrectSubmissions      bool   `env:"ENABLE_TRACK_INCORRECT_SUBMISSIONS" envDefault:"true"`
	EnableTeams                          bool   `env:"ENABLE_TEAMS" envDefault:"true"`
	FlagPrefix                           string `env:"FLAG_PREFIX" envDefault:"ractf"`
	StartTime                            int64  `env:"START_TIME" envDefault:"0"`
	EndTime                              int64  `env:"END_TIME" envDefault:"0"`
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Parse()
	if err != nil {
		log.Fatalf("Error parsing configuration: %v", err)
	}
	AppConfig = cfg
}

// Parse reads the process environment into a Config without touching AppConfig.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: %w", err)
	}
	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode
	return cfg, nil
}
