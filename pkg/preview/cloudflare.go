package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/forgeplatform/forge/pkg/apierr"
	"github.com/forgeplatform/forge/pkg/config"
)

// CloudflareKV registers subdomain->path mappings into a Cloudflare
// Workers KV namespace via the REST API's key-value PUT endpoint. No
// Cloudflare SDK appears anywhere in the retrieval pack, so this is a
// direct net/http REST call rather than a wrapped client library.
type CloudflareKV struct {
	httpClient *http.Client
	zoneID     string
	namespace  string
	apiToken   string
	timeout    time.Duration
}

// NewCloudflareKV builds a CloudflareKV registrar from cfg, resolving the
// API token from the configured environment variable.
func NewCloudflareKV(cfg config.PreviewConfig) *CloudflareKV {
	timeout := cfg.RegistrationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CloudflareKV{
		httpClient: &http.Client{Timeout: timeout},
		zoneID:     cfg.CloudflareZoneID,
		namespace:  cfg.CloudflareKVNamespace,
		apiToken:   os.Getenv(cfg.CloudflareAPITokenEnv),
		timeout:    timeout,
	}
}

// Put upserts key -> value into the KV namespace via HTTPS PUT.
func (c *CloudflareKV) Put(ctx context.Context, key, value string) error {
	endpoint := fmt.Sprintf(
		"https://api.cloudflare.com/client/v4/accounts/%s/storage/kv/namespaces/%s/values/%s",
		c.zoneID, c.namespace, url.PathEscape(key),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(value))
	if err != nil {
		return fmt.Errorf("build kv put request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindStorageUnavailable, "cloudflare kv put failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return apierr.New(apierr.KindStorageUnavailable, fmt.Sprintf("cloudflare kv put: status %d: %s", resp.StatusCode, string(body)))
	}
	return nil
}
