package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
	StoreMongo     = "mongo"

	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

type Config struct {
	HTTPPort  string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"LOG_FILE"`

	// Generation service (fal.ai queue API)
	FalKey          string        `env:"FAL_KEY"`
	FalModel        string        `env:"FAL_MODEL" envDefault:"fal-ai/hunyuan3d/v2/turbo"`
	FalQueueURL     string        `env:"FAL_QUEUE_URL" envDefault:"https://queue.fal.run"`
	FalStorageURL   string        `env:"FAL_STORAGE_URL" envDefault:"https://rest.alpha.fal.ai"`
	FalPollInterval time.Duration `env:"FAL_POLL_INTERVAL" envDefault:"1s"`

	// Conversion microservice
	ConversionServiceURL string `env:"CONVERSION_SERVICE_URL" envDefault:"http://localhost:8001/convert"`

	// 0 leaves outbound calls bounded only by the inbound request context.
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"0s"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"sqlite"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"meshstudio.db"`
	MongoURI      string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"meshstudio"`

	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsPath string `env:"FIREBASE_CREDENTIALS_PATH"`

	AuthProvider string `env:"AUTH_PROVIDER" envDefault:"jwt"`
	JWTSecret    string `env:"JWT_SECRET"`

	// Optional; enables tag suggestions for shared models.
	GeminiAPIKey string `env:"GEMINI_API_KEY"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

var AppConfig Config

// LoadConfig reads envFile (or .env when empty) if it exists and parses the
// process environment into AppConfig.
func LoadConfig(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.AuthProvider = strings.ToLower(strings.TrimSpace(cfg.AuthProvider))

	AppConfig = cfg
	return nil
}

// Validate checks the settings the HTTP server cannot start without.
func (c Config) Validate() error {
	var errs []error

	if c.FalKey == "" {
		errs = append(errs, errors.New("FAL_KEY environment variable is required"))
	}
	if c.ConversionServiceURL == "" {
		errs = append(errs, errors.New("CONVERSION_SERVICE_URL must not be empty"))
	}

	switch c.StoreBackend {
	case StoreSQLite:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the sqlite store"))
		}
	case StoreMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			errs = append(errs, errors.New("MONGODB_URI and MONGODB_DATABASE are required for the mongo store"))
		}
	case StoreFirestore:
		if c.FirebaseProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required for the firestore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.AuthProvider {
	case AuthJWT:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
		}
	case AuthFirebase:
		if c.FirebaseProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required for firebase auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider))
	}

	return errors.Join(errs...)
}

// UsesFirebase reports whether a Firebase app has to be initialised.
func (c Config) UsesFirebase() bool {
	return c.StoreBackend == StoreFirestore || c.AuthProvider == AuthFirebase
}
