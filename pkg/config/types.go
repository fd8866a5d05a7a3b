package config

import "time"

// RedisConfig configures the shared Redis client used by the KV adapter,
// distributed lock, per-user slot limiter, and run-event fan-out.
type RedisConfig struct {
	URL          string        `yaml:"url" validate:"required,url"`
	PoolSize     int           `yaml:"pool_size,omitempty" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// PostgresConfig configures the durable run/build/plan store.
type PostgresConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"omitempty,gt=0,lte=65535"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password,omitempty"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode,omitempty"`
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time,omitempty"`
}

// ContainerConfig configures the Docker Engine client used by the container driver.
type ContainerConfig struct {
	Host            string        `yaml:"host,omitempty"` // empty uses DOCKER_HOST / default socket
	Image           string        `yaml:"image" validate:"required"`
	WorkspaceDir    string        `yaml:"workspace_dir" validate:"required"`
	MemoryLimitMB   int64         `yaml:"memory_limit_mb,omitempty" validate:"gte=0"`
	CPUQuota        int64         `yaml:"cpu_quota,omitempty" validate:"gte=0"`
	StartupTimeout  time.Duration `yaml:"startup_timeout,omitempty"`
	ExecTimeout     time.Duration `yaml:"exec_timeout,omitempty"`
	MaxOutputBytes  int64         `yaml:"max_output_bytes,omitempty" validate:"gte=0"`
}

// StorageConfig configures the S3-compatible object store used for backups and build artifacts.
type StorageConfig struct {
	Bucket          string `yaml:"bucket" validate:"required"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"` // non-empty for S3-compatible providers
	AccessKeyEnv    string `yaml:"access_key_env,omitempty"`
	SecretKeyEnv    string `yaml:"secret_key_env,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty"`
}

// PreviewConfig configures preview URL derivation and the edge KV registration.
// DeploymentType mirrors EDWARD_DEPLOYMENT_TYPE ∈ {path, subdomain}.
type PreviewConfig struct {
	RootDomain            string        `yaml:"root_domain" validate:"required_if=DeploymentType subdomain"`
	DeploymentType        string        `yaml:"deployment_type" validate:"required,oneof=path subdomain"`
	CloudflareZoneID      string        `yaml:"cloudflare_zone_id,omitempty"`
	CloudflareAPITokenEnv string        `yaml:"cloudflare_api_token_env,omitempty"`
	CloudflareKVNamespace string        `yaml:"cloudflare_kv_namespace,omitempty"`
	CDNDistributionURL    string        `yaml:"cdn_distribution_url,omitempty"`
	CDNDistributionID     string        `yaml:"cdn_distribution_id,omitempty"`
	RegistrationTimeout   time.Duration `yaml:"registration_timeout,omitempty"`
}

// LimitsConfig configures per-user and per-run resource ceilings (C3, C10, C12).
type LimitsConfig struct {
	MaxActiveRunsPerUser    int           `yaml:"max_active_runs_per_user,omitempty" validate:"gte=0"`
	MaxToolCallsPerRun      int           `yaml:"max_tool_calls_per_run,omitempty" validate:"gte=0"`
	MaxToolCallsPerTurn     int           `yaml:"max_tool_calls_per_turn,omitempty" validate:"gte=0"`
	RunWallClockTimeout     time.Duration `yaml:"run_wall_clock_timeout,omitempty"`
	ToolGatewayTimeout      time.Duration `yaml:"tool_gateway_timeout,omitempty"`
	SandboxIdleTTL          time.Duration `yaml:"sandbox_idle_ttl,omitempty"`
	SandboxMaxLifetime      time.Duration `yaml:"sandbox_max_lifetime,omitempty"`
}

// SecretConfig configures the AES-GCM envelope used to encrypt user secrets at rest.
type SecretConfig struct {
	EncryptionKeyEnv string `yaml:"encryption_key_env" validate:"required"`
}

// ServerConfig configures the gin HTTP/SSE transport.
type ServerConfig struct {
	Addr        string   `yaml:"addr,omitempty"`
	GRPCAddr    string   `yaml:"grpc_addr,omitempty"` // grpc_health_v1 health service
	TrustProxy  bool     `yaml:"trust_proxy,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}
