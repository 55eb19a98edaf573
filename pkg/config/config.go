package config

import (
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for server configuration
const (
	EnvRedisAddress    = "SIGNSYNC_REDIS_ADDRESS"
	EnvRedisPassword   = "SIGNSYNC_REDIS_PASSWORD"
	EnvRedisDB         = "SIGNSYNC_REDIS_DB"
	EnvRedisKeyPrefix  = "SIGNSYNC_REDIS_KEY_PREFIX"
	EnvDataDir         = "SIGNSYNC_DATA_DIR"
	EnvPort            = "SIGNSYNC_PORT"
	EnvCacheTTL        = "SIGNSYNC_CACHE_TTL"
	EnvRefreshInterval = "SIGNSYNC_REFRESH_INTERVAL"
	EnvAuthToken       = "SIGNSYNC_AUTH_TOKEN"
	EnvVerbose         = "SIGNSYNC_VERBOSE"
)

// ServerConfig represents the complete configuration for a signsync server.
type ServerConfig struct {
	// Remote store (managed Redis)
	RedisAddress   string `json:"redis_address"`
	RedisPassword  string `json:"redis_password,omitempty"`
	RedisDB        int    `json:"redis_db"`
	RedisKeyPrefix string `json:"redis_key_prefix,omitempty"` // Multi-tenant key namespace

	// Local persistent cache
	DataDir string `json:"data_dir"`

	// HTTP surface
	Port int `json:"port"`

	// Cache freshness window; zero selects the package default.
	CacheTTL time.Duration `json:"cache_ttl"`

	// Auto-refresh poll interval for watched contracts; zero disables.
	RefreshInterval time.Duration `json:"refresh_interval"`

	// AuthToken is an optional bearer token for the remote store.
	AuthToken string `json:"auth_token,omitempty"`

	// Operational settings
	Debug bool `json:"debug"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.RedisAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redis address is required"))
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("redisDB"), c.RedisDB, "redis database number must be 0-15"))
	}
	if c.DataDir == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("dataDir"), "local cache data directory is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}
	if c.CacheTTL < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("cacheTTL"), c.CacheTTL.String(), "cache TTL cannot be negative"))
	}
	if c.RefreshInterval < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("refreshInterval"), c.RefreshInterval.String(), "refresh interval cannot be negative"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
