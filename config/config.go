package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type GRPC struct {
	Addr    string `yaml:"addr"`
	Timeout string `yaml:"timeout"` // deadline вызова без своего deadline, "10s"
}

type HTTP struct {
	Addr           string   `yaml:"addr"`
	ReadTimeout    string   `yaml:"readTimeout"`
	WriteTimeout   string   `yaml:"writeTimeout"`
	IdleTimeout    string   `yaml:"idleTimeout"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	JoinLinkBase   string   `yaml:"joinLinkBase"` // https://app.example/join
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // room-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

// Store — бэкенд общего хранилища: memory|sqlite|redis|postgres.
type Store struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlitePath"`
	RedisAddr   string `yaml:"redisAddr"`
	RedisPass   string `yaml:"redisPassword"`
	RedisDB     int    `yaml:"redisDB"`
	RedisPrefix string `yaml:"redisPrefix"`
}

type Postgres struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"maxConns"`
	MinConns        int32  `yaml:"minConns"`
	MaxConnLifetime string `yaml:"maxConnLifetime"`
	Migrate         bool   `yaml:"migrate"`
}

// Auth: пустой PublicKeyPath — режим доверенного заголовка X-User-ID.
type Auth struct {
	PublicKeyPath string `yaml:"publicKeyPath"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	ClockSkew     string `yaml:"clockSkew"`
}

type Rooms struct {
	HeartbeatWindow string `yaml:"heartbeatWindow"` // 60s
	SweepInterval   string `yaml:"sweepInterval"`   // 30s
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Store    Store    `yaml:"store"`
	Postgres Postgres `yaml:"postgres"`
	Auth     Auth     `yaml:"auth"`
	Rooms    Rooms    `yaml:"rooms"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	return Load(path)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	// установка дефолтов, если значения не указаны
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlitePath is required for sqlite driver")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return errors.New("store.redisAddr is required for redis driver")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Auth.PublicKeyPath != "" && c.Auth.Issuer == "" {
		return errors.New("auth.issuer is required with auth.publicKeyPath")
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "room-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}

func (h HTTP) Timeouts() (read, write, idle time.Duration) {
	return parseDurationOr(15*time.Second, h.ReadTimeout),
		parseDurationOr(30*time.Second, h.WriteTimeout),
		parseDurationOr(60*time.Second, h.IdleTimeout)
}

func (g GRPC) CallTimeout() time.Duration { return parseDurationOr(10*time.Second, g.Timeout) }

func (p Postgres) ConnLifetime() time.Duration {
	return parseDurationOr(30*time.Minute, p.MaxConnLifetime)
}

func (a Auth) Skew() time.Duration { return parseDurationOr(30*time.Second, a.ClockSkew) }

func (r Rooms) Heartbeat() time.Duration { return parseDurationOr(60*time.Second, r.HeartbeatWindow) }

func (r Rooms) Sweep() time.Duration { return parseDurationOr(30*time.Second, r.SweepInterval) }

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
