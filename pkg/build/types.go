// Package build implements the preview build pipeline (C13): detect the
// package manager, inject the preview base path, run the project's build
// script inside the sandbox, locate its output directory, and ship it to
// object storage behind a CDN.
package build

import (
	"time"

	"github.com/forgeplatform/forge/pkg/diagnostics"
)

// PackageManager is the detected Node package manager for a workspace.
type PackageManager string

const (
	PackageManagerPNPM PackageManager = "pnpm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerNone PackageManager = ""
)

// DetectPackageManager resolves the package manager from the set of
// filenames present at the workspace root (spec §4.12 step 1): a lockfile
// wins over the npm fallback, which only applies when package.json exists
// with no lockfile at all.
func DetectPackageManager(entries map[string]bool) PackageManager {
	switch {
	case entries["pnpm-lock.yaml"]:
		return PackageManagerPNPM
	case entries["yarn.lock"]:
		return PackageManagerYarn
	case entries["package-lock.json"]:
		return PackageManagerNPM
	case entries["package.json"]:
		return PackageManagerNPM
	default:
		return PackageManagerNone
	}
}

// Status is the terminal state of a build.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Result is the outcome of running the pipeline against one sandbox.
type Result struct {
	BuildID        string
	Status         Status
	PackageManager PackageManager
	OutputDir      string
	ArtifactURL    string
	PreviewURL     string
	ErrorLog       string
	Diagnostics    []diagnostics.Diagnostic
}

// buildTimeout is TIMEOUT_BUILD_MS (spec §4.12 step 4).
const buildTimeout = 10 * time.Minute

// errorTailLen is the stderr/stdout tail length kept on build failure
// (spec §4.12 step 4).
const errorTailLen = 500

// outputDirCandidates are probed in order to locate build output (spec
// §4.12 step 5).
var outputDirCandidates = []string{"dist", "build", ".next/standalone", "out", ".output"}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
