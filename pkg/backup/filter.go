package backup

import (
	"path"
	"regexp"
	"strings"
)

// sensitivePatterns match path segments that must never leave (or enter) a
// sandbox workspace via backup/restore, per spec §4.7.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)\.git/`),
	regexp.MustCompile(`(^|/)\.ssh/`),
	regexp.MustCompile(`(^|/)\.aws/credentials$`),
	regexp.MustCompile(`(^|/)\.npmrc$`),
	regexp.MustCompile(`(^|/)\.yarnrc(\.yml)?$`),
	regexp.MustCompile(`(^|/)\.pypirc$`),
	regexp.MustCompile(`(^|/)\.netrc$`),
	regexp.MustCompile(`(^|/)\.dockercfg$`),
	regexp.MustCompile(`(^|/)\.dockerconfigjson$`),
	regexp.MustCompile(`(^|/)id_rsa(\.pub)?$`),
	regexp.MustCompile(`(^|/)id_ed25519(\.pub)?$`),
	regexp.MustCompile(`(^|/)id_ecdsa(\.pub)?$`),
	regexp.MustCompile(`(^|/)id_dsa(\.pub)?$`),
	regexp.MustCompile(`\.pem$`),
	regexp.MustCompile(`\.key$`),
	regexp.MustCompile(`\.p12$`),
	regexp.MustCompile(`\.pfx$`),
}

var envAllowlist = map[string]bool{
	".env.example": true, ".env.sample": true, ".env.template": true, ".env.dist": true,
}

// isSensitive reports whether relPath must be excluded from both backup and
// restore, matching on path segments rather than the full string so a match
// anywhere in the path (not just at the root) is caught.
func isSensitive(relPath string) bool {
	clean := path.Clean(relPath)
	base := path.Base(clean)

	if strings.HasPrefix(base, ".env") && !envAllowlist[base] {
		return true
	}
	for _, re := range sensitivePatterns {
		if re.MatchString(clean) {
			return true
		}
	}
	return false
}

// isPathSafe rejects entries that could escape the restore target:
// ".." segments, absolute paths, backslashes, NUL bytes, and double slashes.
func isPathSafe(relPath string) bool {
	if relPath == "" {
		return false
	}
	if strings.HasPrefix(relPath, "/") {
		return false
	}
	if strings.Contains(relPath, "\\") {
		return false
	}
	if strings.Contains(relPath, "\x00") {
		return false
	}
	if strings.Contains(relPath, "//") {
		return false
	}
	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
