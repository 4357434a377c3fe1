package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cwrk-planet/aidchat/internal/postgres"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	GeocoderZippopotam = "zippopotam"
	GeocoderNone       = "none"
)

type HTTP struct {
	Addr            string        `yaml:"addr"`            // ":8080"
	ReadTimeout     time.Duration `yaml:"readTimeout"`     // "15s"
	WriteTimeout    time.Duration `yaml:"writeTimeout"`    // "30s"
	IdleTimeout     time.Duration `yaml:"idleTimeout"`     // "60s"
	RequestTimeout  time.Duration `yaml:"requestTimeout"`  // таймаут /api/*
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"` // "10s"
}

type GRPC struct {
	Addr string `yaml:"addr"` // пусто: gRPC не поднимается
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // aidchat
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
	Tracing   bool   `yaml:"tracing"`   // trace_id/span_id в логах
}

type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
}

func (p Postgres) ToPGConfig() postgres.Config {
	return postgres.Config{
		DSN:               p.DSN,
		MaxConns:          p.MaxConns,
		MinConns:          p.MinConns,
		MaxConnLifetime:   p.MaxConnLifetime,
		MaxConnIdleTime:   p.MaxConnIdleTime,
		HealthCheckPeriod: p.HealthCheckPeriod,
		ApplicationName:   p.ApplicationName,
	}
}

type Storage struct {
	Driver   string   `yaml:"driver"` // memory|postgres
	Postgres Postgres `yaml:"postgres"`
}

func (s Storage) Validate() error {
	switch s.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if s.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn is required for postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("storage.driver must be memory|postgres, got %q", s.Driver)
	}
}

type Password struct {
	MinLength  int `yaml:"minLength"`
	BcryptCost int `yaml:"bcryptCost"`
}

func (p Password) Validate() error {
	if p.MinLength < 6 {
		return errors.New("security.password.minLength must be >= 6")
	}
	if p.BcryptCost != 0 && (p.BcryptCost < 4 || p.BcryptCost > 18) {
		return errors.New("security.password.bcryptCost must be in [4..18]")
	}
	return nil
}

type JWT struct {
	PrivateKeyPath string        `yaml:"privateKeyPath"` // пусто: ключ генерируется при старте (только dev)
	PublicKeyPath  string        `yaml:"publicKeyPath"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	AccessTTL      time.Duration `yaml:"accessTTL"` // напр. 24h
	ClockSkew      time.Duration `yaml:"clockSkew"` // напр. 30s
}

// Ephemeral: ключи не заданы, подпись живёт до рестарта.
func (j JWT) Ephemeral() bool {
	return j.PrivateKeyPath == "" && j.PublicKeyPath == ""
}

func (j JWT) Validate() error {
	if (j.PrivateKeyPath == "") != (j.PublicKeyPath == "") {
		return errors.New("security.jwt.privateKeyPath and publicKeyPath must be set together")
	}
	if j.Issuer == "" {
		return errors.New("security.jwt.issuer is required")
	}
	if j.AccessTTL <= 0 {
		return errors.New("security.jwt.accessTTL must be > 0")
	}
	if j.ClockSkew < 0 || j.ClockSkew > time.Minute {
		return errors.New("security.jwt.clockSkew must be in [0..1m]")
	}
	return nil
}

type Security struct {
	Password Password `yaml:"password"`
	JWT      JWT      `yaml:"jwt"`
}

type Chat struct {
	HistoryLimit     int           `yaml:"historyLimit"`     // <= 50
	LookupTimeout    time.Duration `yaml:"lookupTimeout"`    // 5s
	MaxMessageLength int           `yaml:"maxMessageLength"` // 4000
	SendRate         float64       `yaml:"sendRate"`         // кадров/с на соединение
	SendBurst        int           `yaml:"sendBurst"`
	OutboundBuffer   int           `yaml:"outboundBuffer"`
	PingInterval     time.Duration `yaml:"pingInterval"`
	ReadLimit        int64         `yaml:"readLimit"` // байт на кадр
}

type Geocoding struct {
	Provider string        `yaml:"provider"` // zippopotam|none
	BaseURL  string        `yaml:"baseURL"`  // https://api.zippopotam.us
	Country  string        `yaml:"country"`  // us
	Timeout  time.Duration `yaml:"timeout"`  // 5s
}

// Enabled: none отключает геокодер, активности тогда принимаются только с координатами.
func (g Geocoding) Enabled() bool {
	return g.Provider != GeocoderNone
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Admin struct {
	Username string `yaml:"username"` // пусто: не создавать
	Email    string `yaml:"email"`
	Password string `yaml:"password"` // пусто: сгенерировать и вывести в лог
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Logging   Logging   `yaml:"logging"`
	Storage   Storage   `yaml:"storage"`
	Security  Security  `yaml:"security"`
	Chat      Chat      `yaml:"chat"`
	Geocoding Geocoding `yaml:"geocoding"`
	CORS      CORS      `yaml:"cors"`
	Admin     Admin     `yaml:"admin"`
}

// LoadConfig читает .env (если есть), затем YAML из CONFIG_PATH.
// Секреты можно переопределить переменными окружения.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Logging.Env, "APP_ENV")
	set(&c.HTTP.Addr, "AIDCHAT_HTTP_ADDR")
	set(&c.GRPC.Addr, "AIDCHAT_GRPC_ADDR")
	set(&c.Storage.Driver, "AIDCHAT_STORAGE_DRIVER")
	set(&c.Storage.Postgres.DSN, "AIDCHAT_POSTGRES_DSN")
	set(&c.Security.JWT.PrivateKeyPath, "AIDCHAT_JWT_PRIVATE_KEY_PATH")
	set(&c.Security.JWT.PublicKeyPath, "AIDCHAT_JWT_PUBLIC_KEY_PATH")
	set(&c.Admin.Password, "AIDCHAT_ADMIN_PASSWORD")
	set(&c.Geocoding.Provider, "AIDCHAT_GEOCODER")
	set(&c.Geocoding.BaseURL, "AIDCHAT_GEOCODER_URL")
}

func (c *Config) validate() error {
	// установка дефолтов, если значения не указаны
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	c.HTTP.ReadTimeout = durationOr(c.HTTP.ReadTimeout, 15*time.Second)
	c.HTTP.WriteTimeout = durationOr(c.HTTP.WriteTimeout, 30*time.Second)
	c.HTTP.IdleTimeout = durationOr(c.HTTP.IdleTimeout, 60*time.Second)
	c.HTTP.RequestTimeout = durationOr(c.HTTP.RequestTimeout, 30*time.Second)
	c.HTTP.ShutdownTimeout = durationOr(c.HTTP.ShutdownTimeout, 10*time.Second)

	if c.Logging.Service == "" {
		c.Logging.Service = "aidchat"
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

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Security.Password.MinLength == 0 {
		c.Security.Password.MinLength = 6
	}
	if c.Security.JWT.Issuer == "" {
		c.Security.JWT.Issuer = "aidchat"
	}
	c.Security.JWT.AccessTTL = durationOr(c.Security.JWT.AccessTTL, 24*time.Hour)
	if err := c.Security.Password.Validate(); err != nil {
		return err
	}
	if err := c.Security.JWT.Validate(); err != nil {
		return err
	}
	if c.Security.JWT.Ephemeral() && c.Logging.Env != "dev" {
		return errors.New("security.jwt key paths are required outside dev")
	}

	if c.Chat.HistoryLimit <= 0 || c.Chat.HistoryLimit > 50 {
		c.Chat.HistoryLimit = 50
	}
	c.Chat.LookupTimeout = durationOr(c.Chat.LookupTimeout, 5*time.Second)
	if c.Chat.MaxMessageLength <= 0 {
		c.Chat.MaxMessageLength = 4000
	}
	if c.Chat.SendRate <= 0 {
		c.Chat.SendRate = 5
	}
	if c.Chat.SendBurst <= 0 {
		c.Chat.SendBurst = 10
	}
	if c.Chat.OutboundBuffer <= 0 {
		c.Chat.OutboundBuffer = 256
	}
	c.Chat.PingInterval = durationOr(c.Chat.PingInterval, 15*time.Second)
	if c.Chat.ReadLimit <= 0 {
		c.Chat.ReadLimit = 64 << 10
	}

	switch c.Geocoding.Provider {
	case "":
		c.Geocoding.Provider = GeocoderZippopotam
	case GeocoderZippopotam, GeocoderNone:
	default:
		return fmt.Errorf("geocoding.provider must be zippopotam|none, got %q", c.Geocoding.Provider)
	}
	c.Geocoding.Timeout = durationOr(c.Geocoding.Timeout, 5*time.Second)

	if c.Admin.Username != "" && c.Admin.Email == "" {
		return errors.New("admin.email is required when admin.username is set")
	}
	return nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
