package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// forgeYAMLConfig is the optional on-disk layer. Every field here can also be
// set (and is more commonly set, in production) via the environment variables
// listed below; env vars always win over YAML.
type forgeYAMLConfig struct {
	Redis     *RedisConfig     `yaml:"redis"`
	Postgres  *PostgresConfig  `yaml:"postgres"`
	Container *ContainerConfig `yaml:"container"`
	Storage   *StorageConfig   `yaml:"storage"`
	Preview   *PreviewConfig   `yaml:"preview"`
	Limits    *LimitsConfig    `yaml:"limits"`
	Secret    *SecretConfig    `yaml:"secret"`
	Server    *ServerConfig    `yaml:"server"`
	Queue     *QueueConfig     `yaml:"queue"`
}

// Initialize loads, overlays, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load forge.yaml from configDir, if present (missing file is not an error)
//  2. Expand ${VAR} references in the YAML body
//  3. Overlay recognized environment variables (these win over YAML)
//  4. Apply system defaults for anything still unset
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"redis_url", redactURL(cfg.Redis.URL),
		"postgres_host", cfg.Postgres.Host,
		"preview_deployment_type", cfg.Preview.DeploymentType,
		"worker_count", cfg.Queue.WorkerCount)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	yamlCfg, err := loadYAMLFile(configDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{configDir: configDir}
	if yamlCfg.Redis != nil {
		cfg.Redis = *yamlCfg.Redis
	}
	if yamlCfg.Postgres != nil {
		cfg.Postgres = *yamlCfg.Postgres
	}
	if yamlCfg.Container != nil {
		cfg.Container = *yamlCfg.Container
	}
	if yamlCfg.Storage != nil {
		cfg.Storage = *yamlCfg.Storage
	}
	if yamlCfg.Preview != nil {
		cfg.Preview = *yamlCfg.Preview
	}
	if yamlCfg.Limits != nil {
		cfg.Limits = *yamlCfg.Limits
	}
	if yamlCfg.Secret != nil {
		cfg.Secret = *yamlCfg.Secret
	}
	if yamlCfg.Server != nil {
		cfg.Server = *yamlCfg.Server
	}
	if yamlCfg.Queue != nil {
		cfg.Queue = *yamlCfg.Queue
	}

	overlayEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func loadYAMLFile(configDir string) (*forgeYAMLConfig, error) {
	cfg := &forgeYAMLConfig{}
	if configDir == "" {
		return cfg, nil
	}

	path := filepath.Join(configDir, "forge.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return cfg, nil
}

// overlayEnv applies the environment variables named in the external
// interface contract. These always take precedence over forge.yaml.
func overlayEnv(c *Config) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	} else if host := os.Getenv("REDIS_HOST"); host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		c.Redis.URL = fmt.Sprintf("redis://%s:%s", host, port)
	}

	if v := os.Getenv("PREVIEW_ROOT_DOMAIN"); v != "" {
		c.Preview.RootDomain = v
	}
	if v := os.Getenv("EDWARD_DEPLOYMENT_TYPE"); v != "" {
		c.Preview.DeploymentType = v
	}
	if v := os.Getenv("CLOUDFLARE_ZONE_ID"); v != "" {
		c.Preview.CloudflareZoneID = v
	}
	if v := os.Getenv("CLOUDFLARE_KV_NAMESPACE"); v != "" {
		c.Preview.CloudflareKVNamespace = v
	}
	if v := os.Getenv("CLOUDFLARE_API_TOKEN_ENV"); v != "" {
		c.Preview.CloudflareAPITokenEnv = v
	} else if c.Preview.CloudflareAPITokenEnv == "" {
		c.Preview.CloudflareAPITokenEnv = "CLOUDFLARE_API_TOKEN"
	}
	if v := os.Getenv("CLOUDFRONT_DISTRIBUTION_URL"); v != "" {
		c.Preview.CDNDistributionURL = v
	}
	if v := os.Getenv("CLOUDFRONT_DISTRIBUTION_ID"); v != "" {
		c.Preview.CDNDistributionID = v
	}

	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		c.Storage.Region = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.Storage.Endpoint = v
	}

	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		// ENCRYPTION_KEY carries the raw key material itself (32-byte hex);
		// pkg/secret reads key material from $EncryptionKeyEnv uniformly
		// whether it came from forge.yaml or here.
		c.Secret.EncryptionKeyEnv = "ENCRYPTION_KEY"
	}

	if v := os.Getenv("TRUST_PROXY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.TrustProxy = b
		}
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		c.Server.CORSOrigins = splitAndTrim(v)
	}

	if v := os.Getenv("MAX_ACTIVE_RUNS_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MaxActiveRunsPerUser = n
		}
	}
	if v := os.Getenv("MAX_AGENT_TOOL_CALLS_PER_RUN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.MaxToolCallsPerRun = n
		}
	}
	if v := os.Getenv("TOOL_GATEWAY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Limits.ToolGatewayTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.WorkerCount = n
		}
	}

	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Postgres.Port = n
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Postgres.Database = v
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// redactURL strips userinfo (e.g. redis://:password@host) before logging.
func redactURL(u string) string {
	if i := strings.Index(u, "@"); i != -1 {
		if s := strings.Index(u, "://"); s != -1 && s+3 < i {
			return u[:s+3] + "***" + u[i:]
		}
	}
	return u
}

// validate checks cfg against the struct tags declared in types.go
// (go-playground/validator); it has no cross-field rule beyond those tags.
func validate(cfg *Config) error {
	if err := validateStruct(cfg); err != nil {
		return err
	}
	return nil
}
