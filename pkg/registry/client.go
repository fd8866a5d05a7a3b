package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgeplatform/forge/pkg/apierr"
)

// Cache is the subset of *kv.Client the resolver needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RegistryFetcher looks up package metadata and performs a fuzzy search,
// satisfied by *NPMClient (a direct net/http client, grounded on the
// same REST-call shape as pkg/preview.CloudflareKV — no npm registry
// SDK appears anywhere in the retrieval pack).
type RegistryFetcher interface {
	Fetch(ctx context.Context, name string) (*PackageMeta, error)
	Search(ctx context.Context, query string) (string, error) // top hit's name, "" if none
}

// NPMClient talks to the public npm registry's HTTP API.
type NPMClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewNPMClient builds an NPMClient. baseURL defaults to the public npm
// registry if empty (tests point it at a local fixture server instead).
func NewNPMClient(baseURL string) *NPMClient {
	if baseURL == "" {
		baseURL = "https://registry.npmjs.org"
	}
	return &NPMClient{httpClient: &http.Client{Timeout: LookupTimeout}, baseURL: baseURL}
}

type npmPackageDocument struct {
	Name     string `json:"name"`
	DistTags struct {
		Latest string `json:"latest"`
	} `json:"dist-tags"`
	Versions map[string]struct {
		Dependencies     map[string]string `json:"dependencies"`
		PeerDependencies map[string]string `json:"peerDependencies"`
	} `json:"versions"`
}

// ErrPackageNotFound is returned by Fetch so callers can distinguish "this
// package doesn't exist" from a transport/timeout failure.
var ErrPackageNotFound = errors.New("package not found in registry")

// Fetch retrieves name's registry metadata for its "latest" dist-tag.
func (c *NPMClient) Fetch(ctx context.Context, name string) (*PackageMeta, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindRegistryUnavailable, "registry lookup failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPackageNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apierr.New(apierr.KindRegistryUnavailable, fmt.Sprintf("registry lookup: status %d: %s", resp.StatusCode, string(body)))
	}

	var doc npmPackageDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, apierr.Wrap(apierr.KindRegistryUnavailable, "decode registry response", err)
	}

	latest := doc.DistTags.Latest
	versionInfo := doc.Versions[latest]
	return &PackageMeta{
		Name:         doc.Name,
		Version:      latest,
		Dependencies: versionInfo.Dependencies,
		PeerDeps:     versionInfo.PeerDependencies,
	}, nil
}

type npmSearchResponse struct {
	Objects []struct {
		Package struct {
			Name string `json:"name"`
		} `json:"package"`
	} `json:"objects"`
}

// Search runs a single registry text search and returns the top hit's
// package name, or "" if the search returned nothing.
func (c *NPMClient) Search(ctx context.Context, query string) (string, error) {
	endpoint := fmt.Sprintf("%s/-/v1/search?text=%s&size=1", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apierr.Wrap(apierr.KindRegistryUnavailable, "registry search failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", apierr.New(apierr.KindRegistryUnavailable, fmt.Sprintf("registry search: status %d", resp.StatusCode))
	}

	var doc npmSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", apierr.Wrap(apierr.KindRegistryUnavailable, "decode search response", err)
	}
	if len(doc.Objects) == 0 {
		return "", nil
	}
	return doc.Objects[0].Package.Name, nil
}

// isCacheMiss reports whether err from Cache.Get means "key absent"
// (as opposed to a real transport error).
func isCacheMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
