package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"eventdelivery/internal/entity"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App          App          `env-prefix:"APP_"`
		HTTP         HTTP         `env-prefix:"HTTP_"`
		Metrics      Metrics      `env-prefix:"METRICS_"`
		Database     Database     `env-prefix:"DB_"`
		Cache        Cache        `env-prefix:"REDIS_"`
		Broker       Broker       `env-prefix:"BROKER_"`
		SMTP         SMTP         `env-prefix:"SMTP_"`
		Telegram     Telegram     `env-prefix:"TG_"`
		SMS          SMS          `env-prefix:"SMS_"`
		Dispatcher   Dispatcher   `env-prefix:"DISPATCHER_"`
		Orchestrator Orchestrator `env-prefix:"ORCHESTRATOR_"`
		Logger       Logger       `env-prefix:"LOGGER_"`
		Env          string       `env:"ENV" env-default:"local" validate:"oneof=local dev staging prod"`
	}

	App struct {
		Name    string `env:"NAME"    env-default:"event-delivery" validate:"required"`
		Version string `env:"VERSION" env-default:"dev"            validate:"required"`
	}

	HTTP struct {
		Host              string        `env:"HOST"                env-default:"0.0.0.0"`
		Port              string        `env:"PORT"                env-default:"8080"`
		ReadTimeout       time.Duration `env:"READ_TIMEOUT"        env-default:"5s"  validate:"gte=10ms,lte=30s"`
		WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"       env-default:"15s" validate:"gte=10ms,lte=30s"`
		IdleTimeout       time.Duration `env:"IDLE_TIMEOUT"        env-default:"60s" validate:"gte=10ms,lte=2m"`
		ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"    env-default:"10s" validate:"gte=10ms,lte=30s"`
		ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" env-default:"5s"  validate:"gte=10ms,lte=30s"`
	}

	Metrics struct {
		Host              string        `env:"HOST"                env-default:"0.0.0.0"`
		Port              string        `env:"PORT"                env-default:"8081"`
		ReadTimeout       time.Duration `env:"READ_TIMEOUT"        env-default:"5s" validate:"gte=10ms,lte=30s"`
		WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"       env-default:"5s" validate:"gte=10ms,lte=30s"`
		ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" env-default:"5s" validate:"gte=10ms,lte=30s"`
	}

	Database struct {
		DSN            string        `env:"DSN" validate:"required"`
		PoolMax        int           `env:"POOL_MAX"         env-default:"10" validate:"min=1,max=100"`
		ConnAttempts   int           `env:"CONN_ATTEMPTS"    env-default:"5"  validate:"min=1,max=20"`
		BaseRetryDelay time.Duration `env:"BASE_RETRY_DELAY" env-default:"1s"`
		MaxRetryDelay  time.Duration `env:"MAX_RETRY_DELAY"  env-default:"10s"`
		MigrationsPath string        `env:"MIGRATIONS_PATH"  env-default:"file://migrations"`
	}

	Cache struct {
		Addr     string `env:"ADDR" validate:"required"`
		Password string `env:"PASSWORD"`
		DB       int    `env:"DB" env-default:"0"`
	}

	Broker struct {
		URL            string        `env:"URL" validate:"required"`
		Exchange       string        `env:"EXCHANGE"        env-default:"domain.events"`
		Queue          string        `env:"QUEUE"           env-default:"event-delivery"`
		ConnectionName string        `env:"CONNECTION_NAME" env-default:"event-delivery"`
		ContentType    string        `env:"CONTENT_TYPE"    env-default:"application/json"`
		ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" env-default:"10s"`
		Heartbeat      time.Duration `env:"HEARTBEAT"       env-default:"10s"`
	}

	SMTP struct {
		Host     string `env:"HOST" validate:"required"`
		Port     int    `env:"PORT" env-default:"587" validate:"gte=1,lte=65535"`
		Username string `env:"USERNAME"`
		Password string `env:"PASSWORD"`
		From     string `env:"FROM" validate:"required"`
	}

	Telegram struct {
		Token string `env:"TOKEN" validate:"required"`
	}

	SMS struct {
		ProviderURL string  `env:"PROVIDER_URL" validate:"required"`
		APIKey      string  `env:"API_KEY"      validate:"required"`
		From        string  `env:"FROM"         env-default:"compliance"`
		CostPerMsg  float64 `env:"COST_PER_MSG" env-default:"0.045"`
	}

	Dispatcher struct {
		BatchSize    uint64        `env:"BATCH_SIZE"     env-default:"100" validate:"min=1,max=500"`
		MaxRetries   int           `env:"MAX_RETRIES"    env-default:"3"   validate:"min=1,max=10"`
		BaseBackoff  time.Duration `env:"BASE_BACKOFF"   env-default:"1s"`
		MaxBackoff   time.Duration `env:"MAX_BACKOFF"    env-default:"8s"`
		Workers      int           `env:"WORKERS"        env-default:"4" validate:"min=1,max=32"`
		HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT"   env-default:"10s"`
		MaxBodyBytes int64         `env:"MAX_BODY_BYTES" env-default:"512"`
	}

	Orchestrator struct {
		DedupWindow    time.Duration `env:"DEDUP_WINDOW"    env-default:"1h"`
		ChannelTimeout time.Duration `env:"CHANNEL_TIMEOUT" env-default:"10s"`
		SharedDedup    bool          `env:"SHARED_DEDUP"    env-default:"false"`
	}

	Logger struct {
		Level string `env:"LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	}
)

// Load reads configuration from the file named by -config/CONFIG_PATH when
// present, otherwise from the environment, then validates it.
func Load() (*Config, error) {
	const op = "config.Load"

	var cfg Config
	path, err := fetchConfigPath()
	switch {
	case err == nil:
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("%s: config file %s: %w", op, path, statErr)
		}
		if readErr := cleanenv.ReadConfig(path, &cfg); readErr != nil {
			return nil, fmt.Errorf("%s: read config: %w", op, readErr)
		}
	case errors.Is(err, entity.ErrConfigPathNotSet):
		if readErr := cleanenv.ReadEnv(&cfg); readErr != nil {
			return nil, fmt.Errorf("%s: read env: %w", op, readErr)
		}
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New()
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		msgs := make([]string, 0, len(validationErrs))
		for _, ve := range validationErrs {
			msgs = append(msgs, fmt.Sprintf("%s=%v must satisfy '%s'", ve.Field(), ve.Value(), ve.Tag()))
		}
		return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("config validation: %w", err)
}

var (
	configFlag     string
	configFlagOnce sync.Once
)

func fetchConfigPath() (string, error) {
	configFlagOnce.Do(func() {
		flag.StringVar(&configFlag, "config", "", "Path to config file")
		flag.Parse()
	})

	path := configFlag
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return "", entity.ErrConfigPathNotSet
	}
	return path, nil
}
