package config

import "time"

// applyDefaults fills in zero-value fields with system defaults.
// YAML/env values always take precedence over defaults.
func applyDefaults(c *Config) {
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 20
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 5
	}
	if c.Postgres.ConnMaxLifetime == 0 {
		c.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Postgres.ConnMaxIdleTime == 0 {
		c.Postgres.ConnMaxIdleTime = 5 * time.Minute
	}

	if c.Container.Image == "" {
		c.Container.Image = "forge/sandbox-runtime:latest"
	}
	if c.Container.WorkspaceDir == "" {
		c.Container.WorkspaceDir = "/workspace"
	}
	if c.Container.MemoryLimitMB == 0 {
		c.Container.MemoryLimitMB = 2048
	}
	if c.Container.StartupTimeout == 0 {
		c.Container.StartupTimeout = 30 * time.Second
	}
	if c.Container.ExecTimeout == 0 {
		c.Container.ExecTimeout = 2 * time.Minute
	}
	if c.Container.MaxOutputBytes == 0 {
		c.Container.MaxOutputBytes = 1 << 20 // 1 MiB
	}

	if c.Storage.AccessKeyEnv == "" {
		c.Storage.AccessKeyEnv = "AWS_ACCESS_KEY_ID"
	}
	if c.Storage.SecretKeyEnv == "" {
		c.Storage.SecretKeyEnv = "AWS_SECRET_ACCESS_KEY"
	}

	if c.Preview.DeploymentType == "" {
		c.Preview.DeploymentType = "path"
	}
	if c.Preview.RegistrationTimeout == 0 {
		c.Preview.RegistrationTimeout = 10 * time.Second
	}

	if c.Limits.MaxActiveRunsPerUser == 0 {
		c.Limits.MaxActiveRunsPerUser = 3
	}
	if c.Limits.MaxToolCallsPerRun == 0 {
		c.Limits.MaxToolCallsPerRun = 200
	}
	if c.Limits.MaxToolCallsPerTurn == 0 {
		c.Limits.MaxToolCallsPerTurn = 1
	}
	if c.Limits.RunWallClockTimeout == 0 {
		c.Limits.RunWallClockTimeout = 20 * time.Minute
	}
	if c.Limits.ToolGatewayTimeout == 0 {
		c.Limits.ToolGatewayTimeout = 2 * time.Minute
	}
	if c.Limits.SandboxIdleTTL == 0 {
		c.Limits.SandboxIdleTTL = 15 * time.Minute
	}
	if c.Limits.SandboxMaxLifetime == 0 {
		c.Limits.SandboxMaxLifetime = 4 * time.Hour
	}

	if c.Secret.EncryptionKeyEnv == "" {
		c.Secret.EncryptionKeyEnv = "FORGE_ENCRYPTION_KEY"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":9090"
	}

	if c.Queue.WorkerCount == 0 {
		c.Queue.WorkerCount = 3
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 2 * time.Second
	}
	if c.Queue.PollJitter == 0 {
		c.Queue.PollJitter = 500 * time.Millisecond
	}
	if c.Queue.OrphanScanInterval == 0 {
		c.Queue.OrphanScanInterval = time.Minute
	}
	if c.Queue.OrphanThreshold == 0 {
		c.Queue.OrphanThreshold = 2 * time.Minute
	}
	if c.Queue.HeartbeatInterval == 0 {
		c.Queue.HeartbeatInterval = 15 * time.Second
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 3
	}
}

// QueueConfig configures the job queue worker pool (C12).
type QueueConfig struct {
	WorkerCount        int           `yaml:"worker_count,omitempty"`
	MaxConcurrentJobs  int           `yaml:"max_concurrent_jobs,omitempty"`
	PollInterval       time.Duration `yaml:"poll_interval,omitempty"`
	PollJitter         time.Duration `yaml:"poll_jitter,omitempty"`
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval,omitempty"`
	OrphanThreshold    time.Duration `yaml:"orphan_threshold,omitempty"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval,omitempty"`
	MaxRetries         int           `yaml:"max_retries,omitempty"`
}
