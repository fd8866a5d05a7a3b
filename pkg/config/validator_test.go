package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Redis:     RedisConfig{URL: "redis://localhost:6379"},
		Postgres:  PostgresConfig{Host: "localhost", Port: 5432},
		Container: ContainerConfig{Image: "forge/sandbox-runtime:latest", WorkspaceDir: "/workspace"},
		Storage:   StorageConfig{Bucket: "forge-backups"},
		Preview:   PreviewConfig{DeploymentType: "path"},
		Secret:    SecretConfig{EncryptionKeyEnv: "FORGE_ENCRYPTION_KEY"},
	}
	return cfg
}

func TestValidateStructAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, validateStruct(validConfig()))
}

func TestValidateStructRejectsMissingRedisURL(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.URL = ""

	err := validateStruct(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "redis.url", verr.Field)
}

func TestValidateStructRejectsInvalidDeploymentType(t *testing.T) {
	cfg := validConfig()
	cfg.Preview.DeploymentType = "orbital"

	err := validateStruct(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "preview.deployment_type", verr.Field)
}

func TestValidateStructRequiresRootDomainWhenSubdomainDeployment(t *testing.T) {
	cfg := validConfig()
	cfg.Preview.DeploymentType = "subdomain"
	cfg.Preview.RootDomain = ""

	err := validateStruct(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "preview.root_domain", verr.Field)
}

func TestValidateStructAcceptsSubdomainDeploymentWithRootDomain(t *testing.T) {
	cfg := validConfig()
	cfg.Preview.DeploymentType = "subdomain"
	cfg.Preview.RootDomain = "preview.forge.dev"

	assert.NoError(t, validateStruct(cfg))
}

func TestValidateStructRejectsMissingPostgresHost(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Host = ""

	err := validateStruct(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "postgres.host", verr.Field)
}
