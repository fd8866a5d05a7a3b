// Package preview resolves the public URL a sandbox's build artifacts are
// served under (C14): a deterministic subdomain registered into an edge KV
// namespace, or a CloudFront path-prefix URL, selected by deployment mode.
package preview

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/forgeplatform/forge/pkg/config"
)

// DeploymentMode selects how a sandbox's preview is exposed.
type DeploymentMode string

const (
	ModeSubdomain DeploymentMode = "subdomain"
	ModePath      DeploymentMode = "path"
)

var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9\-_.]`)

// sanitize replaces any character outside [A-Za-z0-9-_.] with "_", used for
// the path-mode URL segments (spec §4.13).
func sanitize(s string) string {
	return sanitizePattern.ReplaceAllString(s, "_")
}

// Resolver produces preview URLs and, for subdomain mode, registers the
// subdomain->path mapping in the edge KV namespace.
type Resolver struct {
	cfg        config.PreviewConfig
	registrar  KVRegistrar
}

// KVRegistrar upserts a subdomain -> storage-path mapping into the edge KV
// namespace. Satisfied by *CloudflareKV.
type KVRegistrar interface {
	Put(ctx context.Context, key, value string) error
}

// New wires a Resolver. registrar may be nil in path mode, which never
// registers anything.
func New(cfg config.PreviewConfig, registrar KVRegistrar) *Resolver {
	return &Resolver{cfg: cfg, registrar: registrar}
}

// URL resolves (and, in subdomain mode, registers) the preview URL for
// (userID, chatID).
func (r *Resolver) URL(ctx context.Context, userID, chatID string) (string, error) {
	switch DeploymentMode(r.cfg.DeploymentType) {
	case ModeSubdomain:
		sub := Subdomain(userID, chatID)
		if r.registrar != nil {
			if err := r.registrar.Put(ctx, sub, storagePath(userID, chatID)); err != nil {
				return "", fmt.Errorf("register subdomain %s: %w", sub, err)
			}
		}
		return fmt.Sprintf("https://%s.%s", sub, r.cfg.RootDomain), nil
	default:
		return fmt.Sprintf("%s/%s/%s/", strings.TrimRight(r.cfg.CDNDistributionURL, "/"), sanitize(userID), sanitize(chatID)), nil
	}
}

// BasePath computes the EDWARD_BASE_PATH injected into a build (spec
// §4.12): only path-mode deployments carry a non-root base path, since
// subdomain mode serves each preview at its own domain root.
func BasePath(cfg config.PreviewConfig, userID, chatID string) string {
	if DeploymentMode(cfg.DeploymentType) == ModePath {
		return fmt.Sprintf("/%s/%s/preview", sanitize(userID), sanitize(chatID))
	}
	return ""
}

func storagePath(userID, chatID string) string {
	return fmt.Sprintf("%s/%s", userID, chatID)
}

var adjectives = []string{
	"swift", "calm", "bold", "quiet", "bright", "amber", "crimson", "violet",
	"eager", "gentle", "brisk", "lively", "misty", "sunny", "windy", "rapid",
	"quirky", "jolly", "mellow", "plucky", "cosmic", "lunar", "solar", "arctic",
}

var nouns = []string{
	"otter", "falcon", "badger", "heron", "lynx", "marten", "sparrow", "finch",
	"condor", "weasel", "ferret", "raven", "osprey", "martin", "gannet", "tern",
	"plover", "stoat", "vole", "shrew", "curlew", "linnet", "wren", "kite",
}

// Subdomain derives the deterministic "<adjective>-<noun>-<5-char-base36>"
// subdomain for (userID, chatID), stable across builds (spec §4.13).
func Subdomain(userID, chatID string) string {
	h := sha256.Sum256([]byte(userID + ":" + chatID))

	adjIdx := int(h[0]) % len(adjectives)
	nounIdx := int(h[1]) % len(nouns)

	suffixSeed := binary.BigEndian.Uint32(h[2:6])
	suffix := toBase36(suffixSeed, 5)

	return fmt.Sprintf("%s-%s-%s", adjectives[adjIdx], nouns[nounIdx], suffix)
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// toBase36 renders n in base36, left-padded with '0' to width.
func toBase36(n uint32, width int) string {
	big36 := big.NewInt(36)
	v := big.NewInt(int64(n))
	var out []byte
	for v.Sign() > 0 {
		mod := new(big.Int)
		v.DivMod(v, big36, mod)
		out = append([]byte{base36Alphabet[mod.Int64()]}, out...)
	}
	for len(out) < width {
		out = append([]byte{'0'}, out...)
	}
	if len(out) > width {
		out = out[len(out)-width:]
	}
	return string(out)
}
