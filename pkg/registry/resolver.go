package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// Resolver resolves a batch of requested package names against the
// registry, consulting the KV cache first and expanding peer
// dependencies via bounded BFS (spec §4.15).
type Resolver struct {
	cache   Cache
	fetcher RegistryFetcher
}

// New wires a Resolver.
func New(cache Cache, fetcher RegistryFetcher) *Resolver {
	return &Resolver{cache: cache, fetcher: fetcher}
}

// Resolve validates names, substituting a fuzzy-search hit for any 404,
// expands valid packages' peer dependencies up to MaxPeerDepth, and
// reports any package name resolved to two different versions.
func (r *Resolver) Resolve(ctx context.Context, names []string) Resolution {
	valid := make(map[string]PackageMeta)
	var invalid []string
	var conflicts []Conflict

	type queued struct {
		name  string
		depth int
	}
	queue := make([]queued, 0, len(names))
	for _, n := range names {
		queue = append(queue, queued{name: n, depth: 0})
	}

	seen := make(map[string]bool)
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if seen[item.name] {
			continue
		}
		seen[item.name] = true

		meta, err := r.resolveOne(ctx, item.name)
		if err != nil {
			if item.depth == 0 {
				invalid = append(invalid, item.name)
			}
			// Peer deps that fail to resolve are silently dropped —
			// only directly requested packages surface as invalid.
			continue
		}

		if prior, ok := valid[meta.Name]; ok && prior.Version != meta.Version {
			conflicts = append(conflicts, Conflict{Name: meta.Name, Versions: []string{prior.Version, meta.Version}})
			continue
		}
		valid[meta.Name] = *meta

		if item.depth >= MaxPeerDepth {
			continue
		}
		for dep := range meta.PeerDeps {
			if !seen[dep] {
				queue = append(queue, queued{name: dep, depth: item.depth + 1})
			}
		}
	}

	result := Resolution{Invalid: filterAlreadyValid(invalid, valid), Conflicts: conflicts}
	for _, m := range valid {
		result.Valid = append(result.Valid, m)
	}
	return result
}

// resolveOne fetches a single package's metadata, trying the cache
// first, falling back to the registry, substituting a fuzzy-search hit
// on 404, and populating the cache on a fresh successful fetch.
func (r *Resolver) resolveOne(ctx context.Context, name string) (*PackageMeta, error) {
	if meta, ok := r.readCache(ctx, name); ok {
		return meta, nil
	}

	meta, err := r.fetcher.Fetch(ctx, name)
	if errors.Is(err, ErrPackageNotFound) {
		hit, searchErr := r.fetcher.Search(ctx, name)
		if searchErr != nil || hit == "" {
			return nil, ErrPackageNotFound
		}
		meta, err = r.fetcher.Fetch(ctx, hit)
	}
	if err != nil {
		return nil, err
	}

	r.writeCache(ctx, meta)
	return meta, nil
}

func (r *Resolver) readCache(ctx context.Context, name string) (*PackageMeta, bool) {
	raw, err := r.cache.Get(ctx, cacheKeyPrefix+name)
	if err != nil {
		if !isCacheMiss(err) {
			slog.Warn("registry cache read failed", "package", name, "error", err)
		}
		return nil, false
	}
	var meta PackageMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		slog.Warn("registry cache entry corrupt", "package", name, "error", err)
		return nil, false
	}
	return &meta, true
}

func (r *Resolver) writeCache(ctx context.Context, meta *PackageMeta) {
	body, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKeyPrefix+meta.Name, string(body), CacheTTL); err != nil {
		slog.Warn("registry cache write failed", "package", meta.Name, "error", err)
	}
}

// filterAlreadyValid drops any name from invalid that a fuzzy-search
// substitution ultimately resolved under a different name but which
// also happens to equal a valid package's own name (spec §4.15:
// "invalid is filtered to ones that weren't already resolved as valid").
func filterAlreadyValid(invalid []string, valid map[string]PackageMeta) []string {
	if len(invalid) == 0 {
		return nil
	}
	out := make([]string, 0, len(invalid))
	for _, name := range invalid {
		if _, ok := valid[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out
}
