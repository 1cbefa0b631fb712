package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeServe Mode = "serve"
	ModeMint  Mode = "mint"
)

// Path is the location of the yaml config file.
type Path string

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// FallbackKidSessionSecret signs kid sessions when KID_SESSION_SECRET is
	// unset. It is public, so it is only fit for development.
	FallbackKidSessionSecret = "envelope-kid-session-development-secret"

	defaultPath = "./config/config.yaml"
)

var (
	errInvalidTTL         = errors.New("kid session ttl must be positive")
	errInvalidCookieName  = errors.New("kid session cookie name is empty")
	errInvalidMaxAttempts = errors.New("limiter max attempts must be positive")
	errInvalidLifetime    = errors.New("parent session lifetime must be positive")
	errInvalidEnvironment = errors.New("unrecognized environment")
)

type Config struct {
	Environment string     `yaml:"environment"`
	AuditMode   bool       `yaml:"-"`
	Server      Server     `yaml:"server"`
	KidSession  KidSession `yaml:"kidSession"`
	Parent      Parent     `yaml:"parent"`
	JSONRepo    JSONRepo   `yaml:"jsonRepo"`
	Limiter     Limiter    `yaml:"limiter"`

	secret         []byte
	fallbackSecret bool
}

type Server struct {
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"baseURL"`
}

type KidSession struct {
	CookieName       string        `yaml:"cookieName"`
	TTL              time.Duration `yaml:"ttl"`
	LogVerifications bool          `yaml:"logVerifications"`
}

type Parent struct {
	EntityID        string        `yaml:"entityID"`
	IDPMetadataURL  string        `yaml:"idpMetadataURL"`
	IDPMetadataFile string        `yaml:"idpMetadataFile"`
	SessionLifetime time.Duration `yaml:"sessionLifetime"`
	SP              KeyPairRaw    `yaml:"sp"`
}

// Enabled reports whether enough is configured to talk to the identity provider.
func (p Parent) Enabled() bool {
	hasMetadata := p.IDPMetadataURL != "" || p.IDPMetadataFile != ""
	return hasMetadata && p.SP.Key != "" && p.SP.Cert != ""
}

type JSONRepo struct {
	Path string `yaml:"path"`
}

type Limiter struct {
	RedisAddr   string        `yaml:"redisAddr"`
	MaxAttempts int           `yaml:"maxAttempts"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// Default returns the built-in configuration, signed with the fallback secret.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: Server{
			Port:    8123,
			BaseURL: "http://localhost:8123",
		},
		KidSession: KidSession{
			CookieName: "kid_session",
			TTL:        12 * time.Hour,
		},
		Parent: Parent{
			EntityID:        "envelope",
			SessionLifetime: 24 * time.Hour,
		},
		JSONRepo: JSONRepo{
			Path: "./data/children.json",
		},
		Limiter: Limiter{
			MaxAttempts: 5,
			Cooldown:    15 * time.Minute,
		},
		secret:         []byte(FallbackKidSessionSecret),
		fallbackSecret: true,
	}
}

// New loads the config file, then a local .env, then the environment.
// Missing files are not an error.
func New(path Path) (*Config, error) {
	p := string(path)
	if p == "" {
		p = getEnv("ENVELOPE_CONFIG", defaultPath)
	}

	c := Default()
	if err := c.readfile(p); err != nil {
		return nil, err
	}

	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) readfile(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if secret := os.Getenv("KID_SESSION_SECRET"); secret != "" {
		c.secret = []byte(secret)
		c.fallbackSecret = false
	}

	// only the exact string enables the bypass
	c.AuditMode = os.Getenv("AUDIT_MODE") == "true"

	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.Limiter.RedisAddr = getEnv("REDIS_ADDR", c.Limiter.RedisAddr)

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}

	return nil
}

func (c *Config) validate() error {
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("%w: %q", errInvalidEnvironment, c.Environment)
	}
	if c.KidSession.TTL <= 0 {
		return errInvalidTTL
	}
	if c.KidSession.CookieName == "" {
		return errInvalidCookieName
	}
	if c.Limiter.MaxAttempts <= 0 {
		return errInvalidMaxAttempts
	}
	if c.Parent.SessionLifetime <= 0 {
		return errInvalidLifetime
	}
	return nil
}

// KidSessionSecret returns a copy of the key shared by kid session issuer and verifier.
func (c *Config) KidSessionSecret() []byte {
	return append([]byte(nil), c.secret...)
}

// UsesFallbackSecret reports whether KID_SESSION_SECRET was absent.
func (c *Config) UsesFallbackSecret() bool {
	return c.fallbackSecret
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
