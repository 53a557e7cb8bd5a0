// Package config loads a partition's configuration from a YAML file
// layered with env overrides, redacting secrets before anything touches
// a log line.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xchainarb/detector/internal/xtypes"
)

const (
	defaultMinProfitThreshold = 0.3
	defaultMaxTriangularDepth = 3
	defaultOpportunityExpiry  = 1000 * time.Millisecond
)

// PartitionYAML is a YAML partition file read at startup, before env
// overrides are applied.
type PartitionYAML struct {
	PartitionID       string   `yaml:"partitionId"`
	Chains            []string `yaml:"chains"`
	Region            string   `yaml:"region"`
	DefaultPort       int      `yaml:"defaultPort"`
	ConsumerGroupName string   `yaml:"consumerGroup"`
}

// LoadPartitionYAML reads and parses a partition YAML file.
func LoadPartitionYAML(path string) (*PartitionYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read partition file: %w", err)
	}
	var y PartitionYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("config: failed to parse partition YAML: %w", err)
	}
	return &y, nil
}

// Config is the fully resolved, env-overridden partition configuration.
type Config struct {
	PartitionID     string
	Chains          []string
	Region          string
	InstanceID      string
	RegionID        string
	ConsumerGroup   string
	ConsumerName    string
	BusURL          string
	HealthCheckPort int

	EnableCrossRegionHealth bool
	MinProfitThreshold      float64
	CrossChainEnabled       bool
	TriangularEnabled       bool
	MaxTriangularDepth      int
	OpportunityExpiry       time.Duration

	ChainRPCURLs map[string]string
	ChainWSURLs  map[string]string

	SolanaRPCURL       string
	SolanaDevnetRPCURL string
	HeliusAPIKey       string
	TritonAPIKey       string

	// AuditDSN is a GORM-style MySQL DSN for internal/audit. Empty means
	// audit recording is disabled for this partition; it is a best-effort
	// add-on, never required for detection to run.
	AuditDSN string

	isTestEnv  bool
	production bool
}

// Env is the minimal environment-lookup surface Load needs; satisfied by
// os.Getenv/os.LookupEnv directly or by a fake map in tests.
type Env func(key string) (string, bool)

// OSEnv reads from the real process environment.
func OSEnv(key string) (string, bool) { return os.LookupEnv(key) }

// Load resolves a Config from a partition YAML plus env overrides. env is
// injectable so tests never touch the real process environment; pass
// config.OSEnv in production. isTestEnv relaxes the REDIS_URL-required
// rule so tests need not set a real bus URL.
func Load(y *PartitionYAML, env Env, isTestEnv bool) (*Config, error) {
	c := &Config{
		PartitionID:        y.PartitionID,
		Region:             y.Region,
		ConsumerGroup:      "cross-chain-detector",
		HealthCheckPort:    y.DefaultPort,
		MinProfitThreshold: defaultMinProfitThreshold,
		CrossChainEnabled:  true,
		TriangularEnabled:  true,
		MaxTriangularDepth: defaultMaxTriangularDepth,
		OpportunityExpiry:  defaultOpportunityExpiry,
		ChainRPCURLs:       map[string]string{},
		ChainWSURLs:        map[string]string{},
		isTestEnv:          isTestEnv,
	}
	if y.ConsumerGroupName != "" {
		c.ConsumerGroup = y.ConsumerGroupName
	}

	c.Chains = y.Chains
	if v, ok := env("PARTITION_CHAINS"); ok && strings.TrimSpace(v) != "" {
		c.Chains = splitChains(v)
	}
	if len(c.Chains) == 0 {
		return nil, fmt.Errorf("%w: no chains configured (PARTITION_CHAINS or partition YAML)", xtypes.ErrConfigError)
	}

	c.InstanceID = c.PartitionID
	if v, ok := env("INSTANCE_ID"); ok && v != "" {
		c.InstanceID = v
	}
	c.RegionID = c.Region
	if v, ok := env("REGION_ID"); ok && v != "" {
		c.RegionID = v
	}
	c.ConsumerName = fmt.Sprintf("%s-%s", c.ConsumerGroup, c.InstanceID)

	if v, ok := env("REDIS_URL"); ok && v != "" {
		if !strings.HasPrefix(v, "redis://") && !strings.HasPrefix(v, "rediss://") {
			return nil, fmt.Errorf("%w: REDIS_URL must use redis:// or rediss://", xtypes.ErrConfigError)
		}
		c.BusURL = v
	} else if !isTestEnv {
		return nil, fmt.Errorf("%w: REDIS_URL is required outside test env", xtypes.ErrConfigError)
	}

	if v, ok := env("HEALTH_CHECK_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("%w: HEALTH_CHECK_PORT must be 1..65535", xtypes.ErrConfigError)
		}
		c.HealthCheckPort = port
	}

	c.EnableCrossRegionHealth = true
	if v, ok := env("ENABLE_CROSS_REGION_HEALTH"); ok && v == "false" {
		c.EnableCrossRegionHealth = false
	}

	if v, ok := env("MIN_PROFIT_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: MIN_PROFIT_THRESHOLD must be a float", xtypes.ErrConfigError)
		}
		c.MinProfitThreshold = f
	}

	if v, ok := env("CROSS_CHAIN_ENABLED"); ok && v == "false" {
		c.CrossChainEnabled = false
	}
	if v, ok := env("TRIANGULAR_ENABLED"); ok && v == "false" {
		c.TriangularEnabled = false
	}

	if v, ok := env("MAX_TRIANGULAR_DEPTH"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: MAX_TRIANGULAR_DEPTH must be an integer", xtypes.ErrConfigError)
		}
		c.MaxTriangularDepth = n
	}

	if v, ok := env("OPPORTUNITY_EXPIRY_MS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: OPPORTUNITY_EXPIRY_MS must be an integer", xtypes.ErrConfigError)
		}
		c.OpportunityExpiry = time.Duration(n) * time.Millisecond
	}

	for _, chain := range c.Chains {
		upper := strings.ToUpper(chain)
		if v, ok := env(upper + "_RPC_URL"); ok && v != "" {
			c.ChainRPCURLs[chain] = v
		}
		if v, ok := env(upper + "_WS_URL"); ok && v != "" {
			c.ChainWSURLs[chain] = v
		}
	}

	c.SolanaRPCURL, _ = env("SOLANA_RPC_URL")
	c.SolanaDevnetRPCURL, _ = env("SOLANA_DEVNET_RPC_URL")
	c.HeliusAPIKey, _ = env("HELIUS_API_KEY")
	c.TritonAPIKey, _ = env("TRITON_API_KEY")
	c.AuditDSN, _ = env("AUDIT_DSN")

	if v, ok := env("ENVIRONMENT"); ok && v == "production" {
		c.production = true
	}

	return c, nil
}

func splitChains(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasDevnetChain reports whether "solana-devnet" is among the configured
// chains, switching Solana RPC resolution into devnet mode.
func (c *Config) HasDevnetChain() bool {
	for _, chain := range c.Chains {
		if chain == "solana-devnet" {
			return true
		}
	}
	return false
}

// ResolveSolanaRPC picks an RPC endpoint by priority: explicit URL, then
// Helius, then Triton, then a public fallback. It rejects a production
// deployment that would fall back to the public endpoint.
func (c *Config) ResolveSolanaRPC(publicFallback string) (url string, isPublic bool, err error) {
	if c.HasDevnetChain() && c.SolanaDevnetRPCURL != "" {
		return c.SolanaDevnetRPCURL, false, nil
	}
	if c.SolanaRPCURL != "" {
		return c.SolanaRPCURL, false, nil
	}
	if c.HeliusAPIKey != "" {
		return fmt.Sprintf("https://mainnet.helius-rpc.com/?api-key=%s", c.HeliusAPIKey), false, nil
	}
	if c.TritonAPIKey != "" {
		return fmt.Sprintf("https://rpc.triton.one/%s", c.TritonAPIKey), false, nil
	}
	if c.production {
		return "", true, fmt.Errorf("%w: production partitions may not fall back to the public Solana RPC endpoint", xtypes.ErrConfigError)
	}
	return publicFallback, true, nil
}

// RedactSecret replaces api-key query params and long hex path segments in
// an RPC URL with a fixed marker, so provider URLs never leak API keys or
// wallet-derived paths into logs.
func RedactSecret(rawURL string) string {
	redacted := rawURL
	redacted = redactQueryParam(redacted, "api-key")
	redacted = redactQueryParam(redacted, "apikey")
	redacted = redactQueryParam(redacted, "key")
	redacted = redactLongHexSegments(redacted)
	return redacted
}

func redactQueryParam(url, param string) string {
	lower := strings.ToLower(url)
	needle := param + "="
	idx := strings.Index(lower, needle)
	if idx == -1 {
		return url
	}
	start := idx + len(needle)
	end := start
	for end < len(url) && url[end] != '&' && url[end] != '/' {
		end++
	}
	return url[:start] + "***REDACTED***" + url[end:]
}

func redactLongHexSegments(url string) string {
	segments := strings.Split(url, "/")
	for i, seg := range segments {
		if len(seg) >= 24 && isHex(seg) {
			segments[i] = "***REDACTED***"
		}
	}
	return strings.Join(segments, "/")
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
