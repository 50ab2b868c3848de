// Package config loads the mint gateway's runtime configuration.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"clanktonmint/gateway/middleware"
	"clanktonmint/mintauth"
	"clanktonmint/pricing"
	"clanktonmint/social"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for mintgated.
type Config struct {
	ListenAddress     string               `yaml:"listen"`
	DatabasePath      string               `yaml:"database"`
	SelfReportCeiling uint64               `yaml:"self_report_ceiling"`
	Signer            SignerConfig         `yaml:"signer"`
	Domain            DomainConfig         `yaml:"domain"`
	Mint              MintConfig           `yaml:"mint"`
	Neynar            NeynarConfig         `yaml:"neynar"`
	Targets           social.Targets       `yaml:"targets"`
	Pricing           pricing.Table        `yaml:"pricing"`
	Limits            map[string]RateLimit `yaml:"limits"`
	Admin             AdminConfig          `yaml:"admin"`
	CORS              CORSConfig           `yaml:"cors"`
	Log               LogConfig            `yaml:"log"`
}

// SignerConfig resolves the attestation signing key. The raw key never
// appears in logs; only the derived address does.
type SignerConfig struct {
	Key     string `yaml:"key"`
	KeyEnv  string `yaml:"key_env"`
	KeyFile string `yaml:"key_file"`
}

// DomainConfig pins the EIP-712 domain the on-chain contract verifies against.
type DomainConfig struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	ChainID  int64  `yaml:"chain_id"`
	Contract string `yaml:"contract"`
}

// MintConfig tunes attestation issuance.
type MintConfig struct {
	Validity Duration `yaml:"validity"`
}

// NeynarConfig configures the Farcaster oracle client.
type NeynarConfig struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Timeout   Duration `yaml:"timeout"`
}

// RateLimit caps a route group per client.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AdminConfig secures the administrative endpoints.
type AdminConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

// CORSConfig restricts browser origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	Env       string `yaml:"env"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Neynar.normalise(); err != nil {
		return cfg, fmt.Errorf("neynar: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8089"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "mintgate.db"
	}
	if cfg.Domain.Name == "" {
		cfg.Domain.Name = "ClanktonNFT"
	}
	if cfg.Domain.Version == "" {
		cfg.Domain.Version = "1"
	}
	if cfg.Domain.ChainID == 0 {
		cfg.Domain.ChainID = 8453
	}
	if cfg.Mint.Validity.Duration == 0 {
		cfg.Mint.Validity.Duration = 300 * time.Second
	}
	if cfg.Neynar.Timeout.Duration == 0 {
		cfg.Neynar.Timeout.Duration = 5 * time.Second
	}
	if cfg.Pricing == (pricing.Table{}) {
		cfg.Pricing = pricing.DefaultTable()
	}
	if cfg.Targets.ChannelID == "" {
		cfg.Targets.ChannelID = "clankton"
	}
	if cfg.Limits == nil {
		cfg.Limits = map[string]RateLimit{
			"actions":   {RequestsPerMinute: 60, Burst: 10},
			"reconcile": {RequestsPerMinute: 20, Burst: 5},
			"authorize": {RequestsPerMinute: 30, Burst: 5},
		}
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Domain.Contract) == "" {
		return fmt.Errorf("domain contract must be configured")
	}
	if !common.IsHexAddress(cfg.Domain.Contract) {
		return fmt.Errorf("domain contract %q is not a hex address", cfg.Domain.Contract)
	}
	if cfg.Targets.CreatorFID <= 0 {
		return fmt.Errorf("targets creator_fid must be configured")
	}
	if cfg.Targets.ArtistFID <= 0 {
		return fmt.Errorf("targets artist_fid must be configured")
	}
	if cfg.Pricing.Base == 0 {
		return fmt.Errorf("pricing base must be positive")
	}
	return nil
}

func (s *SignerConfig) normalise() error {
	if s == nil {
		return fmt.Errorf("signer configuration missing")
	}
	s.Key = strings.TrimSpace(s.Key)
	s.KeyEnv = strings.TrimSpace(s.KeyEnv)
	s.KeyFile = strings.TrimSpace(s.KeyFile)
	if s.Key != "" {
		return nil
	}
	switch {
	case s.KeyEnv != "":
		value := strings.TrimSpace(os.Getenv(s.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", s.KeyEnv)
		}
		s.Key = value
	case s.KeyFile != "":
		contents, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return fmt.Errorf("read key_file: %w", err)
		}
		s.Key = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("key is required")
	}
	return nil
}

func (n *NeynarConfig) normalise() error {
	if n == nil {
		return fmt.Errorf("neynar configuration missing")
	}
	n.APIKey = strings.TrimSpace(n.APIKey)
	if n.APIKey == "" && n.APIKeyEnv != "" {
		n.APIKey = strings.TrimSpace(os.Getenv(n.APIKeyEnv))
	}
	if n.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	a.JWTSecret = strings.TrimSpace(a.JWTSecret)
	if a.JWTSecret == "" && a.JWTSecretEnv != "" {
		a.JWTSecret = strings.TrimSpace(os.Getenv(a.JWTSecretEnv))
	}
	return nil
}

// MintDomain converts the pinned domain into signing form.
func (c Config) MintDomain() mintauth.Domain {
	return mintauth.Domain{
		Name:              c.Domain.Name,
		Version:           c.Domain.Version,
		ChainID:           big.NewInt(c.Domain.ChainID),
		VerifyingContract: common.HexToAddress(c.Domain.Contract),
	}
}

// MiddlewareLimits converts the configured limits for the rate limiter.
func (c Config) MiddlewareLimits() map[string]middleware.RateLimit {
	limits := make(map[string]middleware.RateLimit, len(c.Limits))
	for key, limit := range c.Limits {
		limits[key] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}
	return limits
}
