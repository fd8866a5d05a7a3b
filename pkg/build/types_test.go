package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectPackageManager(t *testing.T) {
	cases := []struct {
		name    string
		entries map[string]bool
		want    PackageManager
	}{
		{"pnpm lockfile wins", map[string]bool{"pnpm-lock.yaml": true, "package-lock.json": true, "package.json": true}, PackageManagerPNPM},
		{"yarn lockfile", map[string]bool{"yarn.lock": true, "package.json": true}, PackageManagerYarn},
		{"npm lockfile", map[string]bool{"package-lock.json": true, "package.json": true}, PackageManagerNPM},
		{"package.json without lockfile falls back to npm", map[string]bool{"package.json": true}, PackageManagerNPM},
		{"no package.json at all", map[string]bool{"README.md": true}, PackageManagerNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectPackageManager(tc.entries))
		})
	}
}

func TestTail(t *testing.T) {
	assert.Equal(t, "hello", tail("hello", 10))
	assert.Equal(t, "llo", tail("hello", 3))
	assert.Equal(t, "", tail("", 5))
}
