package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Dsn is the Postgres connection string of the chat tree. Empty keeps
	// chats in memory.
	Dsn string `env:"DSN"`
	// MongoURI is the document store. Empty keeps documents in memory.
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"meetup"`
	// RedisURL stores read watermarks across restarts when set.
	RedisURL string `env:"REDIS_URL"`

	JwtSecret     string `env:"JWT_SECRET"`
	JwtExpires    string `env:"JWT_EXPIRES" envDefault:"15m"`
	RefreshSecret string `env:"REFRESH_SECRET"`
	RefreshExpiry string `env:"REFRESH_EXPIRY" envDefault:"720h"`

	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	StadiaAPIKey string `env:"STADIA_API_KEY"`

	ChatRetention      time.Duration `env:"CHAT_RETENTION" envDefault:"120h"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	WatchPollInterval  time.Duration `env:"WATCH_POLL_INTERVAL" envDefault:"2s"`
}

func New() *Config {
	if loadErr := godotenv.Load(".env"); loadErr != nil {
		log.Printf("[Env]: unable to load .env file %v", loadErr)
	}

	var cfg Config

	if parseErr := env.Parse(&cfg); parseErr != nil {
		log.Printf("[Env]: failed to parse environment variables: %v", parseErr)
	}

	return &cfg
}
