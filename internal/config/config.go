package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultPath = "config.json"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig    `json:"basic_config" yaml:"basic_config"`
	Store       StoreConfig    `json:"store" yaml:"store"`
	Redis       RedisConfig    `json:"redis" yaml:"redis"`
	CORS        CORSConfig     `json:"cors" yaml:"cors"`
	Log         LogConfig      `json:"log" yaml:"log"`
	Realtime    RealtimeConfig `json:"realtime" yaml:"realtime"`
	Auth        AuthConfig     `json:"auth" yaml:"auth"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	Port          int    `json:"port" yaml:"port"`
	// MessageTimeZone is the IANA zone message timestamps are rendered in.
	MessageTimeZone string `json:"message_time_zone" yaml:"message_time_zone"`
}

// StoreConfig selects the record store. Driver may be left empty and is then
// inferred from the URI scheme.
type StoreConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	URI      string `json:"uri" yaml:"uri"`
	Database string `json:"database" yaml:"database"`
}

// RedisConfig enables the record cache when Host is set.
type RedisConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

type CORSConfig struct {
	AllowOrigins     []string `json:"allow_origins" yaml:"allow_origins"`
	AllowMethods     []string `json:"allow_methods" yaml:"allow_methods"`
	AllowCredentials *bool    `json:"allow_credentials" yaml:"allow_credentials"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type RealtimeConfig struct {
	Path string `json:"path" yaml:"path"`
	// SerializeWrites routes every operation on a record through a single
	// writer. Disabling it restores unserialized load-then-save sends.
	SerializeWrites   *bool `json:"serialize_writes" yaml:"serialize_writes"`
	QueueSize         int   `json:"queue_size" yaml:"queue_size"`
	WorkerIdleSeconds int   `json:"worker_idle_seconds" yaml:"worker_idle_seconds"`
}

type AuthConfig struct {
	// CredentialScheme is "plain" (verbatim comparison) or "bcrypt".
	CredentialScheme string `json:"credential_scheme" yaml:"credential_scheme"`
	BcryptCost       int    `json:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error: defaults and environment apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, &cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("STORE_URI"); ok && v != "" {
		c.Store.URI = v
	} else if v, ok := lookup("MONGO_URI"); ok && v != "" {
		c.Store.URI = v
	}
	if v, ok := lookup("STORE_DRIVER"); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.BasicConfig.Port = port
		}
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		host, port, found := strings.Cut(v, ":")
		c.Redis.Host = host
		if found {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.Port == 0 {
		c.BasicConfig.Port = 8080
	}
	if c.BasicConfig.MessageTimeZone == "" {
		c.BasicConfig.MessageTimeZone = "Asia/Kolkata"
	}
	if c.Store.URI == "" {
		c.Store.URI = "patientchat.db"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = InferDriver(c.Store.URI)
	}
	c.Store.Driver = normalizeDriver(c.Store.Driver)
	if c.Store.Database == "" {
		c.Store.Database = "patientchat"
	}
	if c.Redis.Host != "" && c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.TTLSeconds <= 0 {
		c.Redis.TTLSeconds = 600
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"https://vite-app-str4.onrender.com", "http://localhost:5173"}
	}
	if len(c.CORS.AllowMethods) == 0 {
		c.CORS.AllowMethods = []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"}
	}
	if c.CORS.AllowCredentials == nil {
		c.CORS.AllowCredentials = boolPtr(true)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Realtime.Path == "" {
		c.Realtime.Path = "/ws"
	}
	if c.Realtime.SerializeWrites == nil {
		c.Realtime.SerializeWrites = boolPtr(true)
	}
	if c.Realtime.QueueSize <= 0 {
		c.Realtime.QueueSize = 64
	}
	if c.Realtime.WorkerIdleSeconds <= 0 {
		c.Realtime.WorkerIdleSeconds = 60
	}
	if c.Auth.CredentialScheme == "" {
		c.Auth.CredentialScheme = "plain"
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.BasicConfig.Port <= 0 || c.BasicConfig.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.BasicConfig.Port)
	}
	switch c.Store.Driver {
	case "sqlite3", "mysql", "postgres", "mongodb":
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	switch c.Auth.CredentialScheme {
	case "plain", "bcrypt":
	default:
		return fmt.Errorf("unsupported credential scheme: %s", c.Auth.CredentialScheme)
	}
	if !strings.HasPrefix(c.Realtime.Path, "/") {
		return fmt.Errorf("realtime path must start with /: %q", c.Realtime.Path)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	if c.BasicConfig.ServerAddress != "" {
		return c.BasicConfig.ServerAddress
	}
	return fmt.Sprintf(":%d", c.BasicConfig.Port)
}

// InferDriver maps a store URI onto a driver name.
func InferDriver(uri string) string {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return "mongodb"
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"):
		return "mysql"
	default:
		return "sqlite3"
	}
}

// normalizeDriver folds driver aliases onto the names Validate accepts.
func normalizeDriver(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "sqlite":
		return "sqlite3"
	case "postgresql", "pg":
		return "postgres"
	case "mongo":
		return "mongodb"
	default:
		return d
	}
}

// SerializeWrites reports whether per-record serialization is on.
func (c *Config) SerializeWrites() bool {
	return c.Realtime.SerializeWrites == nil || *c.Realtime.SerializeWrites
}

func boolPtr(b bool) *bool { return &b }
