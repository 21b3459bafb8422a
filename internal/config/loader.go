package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env                    string `mapstructure:"env"`
	Port                   int    `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

func (a AppConfig) PortString() string { return fmt.Sprintf("%d", a.Port) }

func (a AppConfig) IsDev() bool { return a.Env == "" || a.Env == "development" || a.Env == "dev" }

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // mongo | memory
}

type MongoConfig struct {
	URI                   string `mapstructure:"uri"`
	DB                    string `mapstructure:"db"`
	Conversations         string `mapstructure:"conversations"`
	Messages              string `mapstructure:"messages"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

type RedisConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Addr               string `mapstructure:"addr"`
	Pass               string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
}

type KafkaConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	Brokers             []string `mapstructure:"brokers"`
	TopicMessageSent    string   `mapstructure:"topic_message_sent"`
	TopicProfileUpdated string   `mapstructure:"topic_profile_updated"`
	GroupID             string   `mapstructure:"group_id"`
}

type JWTConfig struct {
	Algorithm     string `mapstructure:"algorithm"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	IdentityClaim string `mapstructure:"identity_claim"`
	RequireToken  bool   `mapstructure:"require_token"`
}

type WSConfig struct {
	PingIntervalSeconds   int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds  int   `mapstructure:"write_deadline_seconds"`
	PongWaitSeconds       int   `mapstructure:"pong_wait_seconds"`
	MaxMessageSizeBytes   int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer            int   `mapstructure:"send_buffer"`
	RatePerSecond         int   `mapstructure:"rate_per_second"`
	Burst                 int   `mapstructure:"burst"`
	PersistTimeoutSeconds int   `mapstructure:"persist_timeout_seconds"`
}

type HTTPConfig struct {
	RateLimitPerMin int `mapstructure:"rate_limit_per_min"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	JWT     JWTConfig     `mapstructure:"jwt"`
	WS      WSConfig      `mapstructure:"ws"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`

	// derived/timeouts
	PingInterval    time.Duration `mapstructure:"-"`
	WriteDeadline   time.Duration `mapstructure:"-"`
	PongWait        time.Duration `mapstructure:"-"`
	PersistTimeout  time.Duration `mapstructure:"-"`
	ShutdownTimeout time.Duration `mapstructure:"-"`
	ConnectTimeout  time.Duration `mapstructure:"-"`
	PresenceTTL     time.Duration `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 3000)
	v.SetDefault("app.shutdown_timeout_seconds", 10)

	v.SetDefault("storage.driver", "memory")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db", "messaging")
	v.SetDefault("mongo.conversations", "conversations")
	v.SetDefault("mongo.messages", "messages")
	v.SetDefault("mongo.connect_timeout_seconds", 30)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "messaging")
	v.SetDefault("redis.presence_ttl_seconds", 120)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_message_sent", "message.sent")
	v.SetDefault("kafka.topic_profile_updated", "user.profile-updated")
	v.SetDefault("kafka.group_id", "messaging-service")

	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("jwt.identity_claim", "email")
	v.SetDefault("jwt.require_token", false)

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.pong_wait_seconds", 60)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.rate_per_second", 20)
	v.SetDefault("ws.burst", 40)
	v.SetDefault("ws.persist_timeout_seconds", 5)

	v.SetDefault("http.rate_limit_per_min", 120)

	v.SetDefault("log.level", "info")
}

// Load reads an optional yaml file, then .env, then the environment.
// Env keys are MESSAGING_<SECTION>_<KEY>; PORT, JWT_SECRET and MONGODB_URI
// are honoured as well.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MESSAGING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("app.port", "MESSAGING_APP_PORT", "PORT")
	_ = v.BindEnv("jwt.hs_secret", "MESSAGING_JWT_HS_SECRET", "JWT_SECRET")
	_ = v.BindEnv("mongo.uri", "MESSAGING_MONGO_URI", "MONGODB_URI")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.derive()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) derive() {
	c.JWT.Algorithm = strings.ToUpper(c.JWT.Algorithm)
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.PongWait = time.Duration(c.WS.PongWaitSeconds) * time.Second
	c.PersistTimeout = time.Duration(c.WS.PersistTimeoutSeconds) * time.Second
	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
	c.ConnectTimeout = time.Duration(c.Mongo.ConnectTimeoutSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
}

func (c *Config) validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return errors.New("app.port missing or invalid")
	}

	switch c.Storage.Driver {
	case "memory":
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri missing")
		}
		if c.Mongo.DB == "" {
			return errors.New("mongo.db missing")
		}
	default:
		return fmt.Errorf("invalid storage.driver %q (use mongo or memory)", c.Storage.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}
	if c.Redis.Enabled && c.PresenceTTL <= c.PingInterval {
		return errors.New("redis.presence_ttl_seconds must exceed ws.ping_interval_seconds")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers missing")
		}
		if c.Kafka.TopicMessageSent == "" || c.Kafka.TopicProfileUpdated == "" {
			return errors.New("kafka topics missing")
		}
	}

	switch c.JWT.Algorithm {
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if c.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256 (or set JWT_SECRET)")
		}
	default:
		return errors.New("invalid jwt.algorithm (use RS256 or HS256)")
	}

	if c.PingInterval <= 0 || c.WriteDeadline <= 0 || c.PongWait <= c.PingInterval {
		return errors.New("ws timings invalid: pong wait must exceed ping interval")
	}
	if c.PersistTimeout <= 0 {
		return errors.New("ws.persist_timeout_seconds must be positive")
	}
	if c.WS.SendBuffer <= 0 || c.WS.MaxMessageSizeBytes <= 0 {
		return errors.New("ws.send_buffer and ws.max_message_size_bytes must be positive")
	}
	if c.WS.RatePerSecond <= 0 || c.WS.Burst <= 0 {
		return errors.New("ws.rate_per_second and ws.burst must be positive")
	}
	return nil
}
