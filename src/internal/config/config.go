package config

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const defaultConfigFile = "src/internal/config/cfg.yml"

type Configuration struct {
	Logs      LogsSettings     `mapstructure:"logs"`
	App       Application      `mapstructure:"app"`
	Database  Database         `mapstructure:"database"`
	Queue     QueueConfig      `mapstructure:"queue"`
	Redis     Redis            `mapstructure:"redis"`
	Security  SecuritySettings `mapstructure:"security"`
	Server    ServerSettings   `mapstructure:"server"`
	Presence  PresenceConfig   `mapstructure:"presence"`
	WebSocket WebSocketConfig  `mapstructure:"websocket"`
	Telephony TelephonyConfig  `mapstructure:"telephony"`
}

type LogsSettings struct {
	Level            string `mapstructure:"level"`
	Path             string `mapstructure:"log-path"`
	EnableJSONOutput bool   `mapstructure:"enable-json-output"`
}

type Application struct {
	Name    string `mapstructure:"name"`
	Timeout int    `mapstructure:"timeout"`
	Version string `mapstructure:"version"`
}

// Database selects the durable user store. Driver is "mongo" or "postgres".
type Database struct {
	Driver      string      `mapstructure:"driver"`
	Url         string      `mapstructure:"url"`
	DbName      string      `mapstructure:"dbname"`
	Dsn         string      `mapstructure:"dsn"`
	Timeout     int         `mapstructure:"timeout"`
	Collections Collections `mapstructure:"collections"`
}

type Collections struct {
	Users       string `mapstructure:"users"`
	Memberships string `mapstructure:"memberships"`
}

type QueueConfig struct {
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RabbitMQConfig struct {
	Url            string `mapstructure:"url"`
	Exchange       string `mapstructure:"exchange"`
	ExchangeType   string `mapstructure:"exchange-type"`
	ActivityKey    string `mapstructure:"activity-routing-key"`
	PrefetchCount  int    `mapstructure:"prefetch-count"`
	ReconnectDelay int    `mapstructure:"reconnect-delay"`
	Timeout        int    `mapstructure:"timeout"`
	Durable        bool   `mapstructure:"durable"`
	AutoDelete     bool   `mapstructure:"auto-delete"`
	Internal       bool   `mapstructure:"internal"`
	NoWait         bool   `mapstructure:"no-wait"`
}

type Redis struct {
	Url            string `mapstructure:"url"`
	Password       string `mapstructure:"password"`
	Db             int    `mapstructure:"db"`
	ConnectRetries int    `mapstructure:"connect-retries"`
	MaxBackoff     int    `mapstructure:"max-backoff-seconds"`
}

type SecuritySettings struct {
	JwtKey  string  `mapstructure:"jwt-key"`
	Cognito Cognito `mapstructure:"cognito"`
}

// Cognito enables JWKS verification when UserPoolID is set.
type Cognito struct {
	Region     string `mapstructure:"region"`
	UserPoolID string `mapstructure:"user-pool-id"`
	ClientID   string `mapstructure:"client-id"`
}

type ServerSettings struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read-timeout"`
	WriteTimeout int    `mapstructure:"write-timeout"`
	IdleTimeout  int    `mapstructure:"idle-timeout"`
}

type PresenceConfig struct {
	KeyPrefix        string `mapstructure:"key-prefix"`
	TTLSeconds       int    `mapstructure:"ttl-seconds"`
	ThresholdSeconds int    `mapstructure:"online-threshold-seconds"`
	CheckConcurrency int    `mapstructure:"check-concurrency"`
}

type WebSocketConfig struct {
	Path             string   `mapstructure:"path"`
	ReadBufferSize   int      `mapstructure:"read-buffer-size"`
	WriteBufferSize  int      `mapstructure:"write-buffer-size"`
	SendQueueSize    int      `mapstructure:"send-queue-size"`
	MaxMessageSize   int64    `mapstructure:"max-message-size"`
	PongWaitSeconds  int      `mapstructure:"pong-wait-seconds"`
	WriteWaitSeconds int      `mapstructure:"write-wait-seconds"`
	AllowedOrigins   []string `mapstructure:"allowed-origins"`
	BusEnabled       bool     `mapstructure:"bus-enabled"`
	BusChannel       string   `mapstructure:"bus-channel"`
}

type TelephonyConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Queue       string   `mapstructure:"queue"`
	RoutingKeys []string `mapstructure:"routing-keys"`
	Consumer    string   `mapstructure:"consumer"`
	Prefetch    int      `mapstructure:"prefetch"`
}

func Load() *Configuration {
	cfg := read()
	logrus.Info("Configuration loaded")

	// Override with environment variables
	driver := os.Getenv("DATABASE_DRIVER")
	if driver != "" {
		cfg.Database.Driver = driver
	}

	mongoUri := os.Getenv("MONGODB_URL")
	if mongoUri != "" {
		cfg.Database.Url = mongoUri
	}

	dbName := os.Getenv("DB_NAME")
	if dbName != "" {
		cfg.Database.DbName = dbName
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn != "" {
		cfg.Database.Dsn = dsn
	}

	redisUrl := os.Getenv("REDIS_URL")
	if redisUrl != "" {
		cfg.Redis.Url = redisUrl
	}

	redisPassword := os.Getenv("REDIS_PASSWORD")
	if redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	redisDB := os.Getenv("REDIS_DB")
	if redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			cfg.Redis.Db = db
		}
	}

	rabbitmqUrl := os.Getenv("RABBITMQ_URL")
	if rabbitmqUrl != "" {
		cfg.Queue.RabbitMQ.Url = rabbitmqUrl
	}

	jwtKey := os.Getenv("JWT_KEY")
	if jwtKey != "" {
		cfg.Security.JwtKey = jwtKey
	}

	region := os.Getenv("COGNITO_REGION")
	if region != "" {
		cfg.Security.Cognito.Region = region
	}

	poolID := os.Getenv("COGNITO_USER_POOL_ID")
	if poolID != "" {
		cfg.Security.Cognito.UserPoolID = poolID
	}

	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills values the presence core cannot run without.
func (c *Configuration) applyDefaults() {
	if c.App.Timeout <= 0 {
		c.App.Timeout = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mongo"
	}
	if c.Database.Collections.Users == "" {
		c.Database.Collections.Users = "users"
	}
	if c.Database.Collections.Memberships == "" {
		c.Database.Collections.Memberships = "tenant_memberships"
	}
	if c.Redis.ConnectRetries <= 0 {
		c.Redis.ConnectRetries = 10
	}
	if c.Redis.MaxBackoff <= 0 {
		c.Redis.MaxBackoff = 30
	}
	if c.Presence.KeyPrefix == "" {
		c.Presence.KeyPrefix = "presence"
	}
	if c.Presence.TTLSeconds <= 0 {
		c.Presence.TTLSeconds = 300
	}
	if c.Presence.ThresholdSeconds <= 0 {
		c.Presence.ThresholdSeconds = 120
	}
	if c.Presence.CheckConcurrency <= 0 {
		c.Presence.CheckConcurrency = 16
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/ws"
	}
	if c.WebSocket.SendQueueSize <= 0 {
		c.WebSocket.SendQueueSize = 64
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		c.WebSocket.MaxMessageSize = 8192
	}
	if c.WebSocket.PongWaitSeconds <= 0 {
		c.WebSocket.PongWaitSeconds = 60
	}
	if c.WebSocket.WriteWaitSeconds <= 0 {
		c.WebSocket.WriteWaitSeconds = 10
	}
	if c.WebSocket.BusChannel == "" {
		c.WebSocket.BusChannel = "realtime:rooms"
	}
	if c.Queue.RabbitMQ.ReconnectDelay <= 0 {
		c.Queue.RabbitMQ.ReconnectDelay = 5
	}
	// the broker-wide prefetch applies when the telephony queue sets none
	if c.Telephony.Prefetch <= 0 {
		c.Telephony.Prefetch = c.Queue.RabbitMQ.PrefetchCount
	}
}

func read() *Configuration {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = defaultConfigFile
	}
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetConfigType("yml")

	var config Configuration

	err := viper.ReadInConfig()
	if err != nil {
		logrus.Panicf("Error reading config file, %s", err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		logrus.Panicf("Error unmarshalling config file, %s", err)
	}

	return &config
}

// Default returns a configuration populated only with defaults. Used by tests
// and tools that do not read cfg.yml.
func Default() *Configuration {
	cfg := &Configuration{}
	cfg.applyDefaults()
	return cfg
}
