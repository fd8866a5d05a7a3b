package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// structValidator runs the `validate` struct tags declared on Config's
// sub-structs (required fields, oneof enums, numeric ranges, conditional
// requirements like preview.root_domain when deployment_type=subdomain).
// A single *validator.Validate is safe for concurrent use and expensive to
// build, so it is constructed once at package init, the way the ecosystem's
// gin/echo services typically wire it in as a package-level singleton.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validateStruct reports the first struct-tag violation found in cfg,
// translated into the *ValidationError shape the rest of this package
// returns, so callers see one error type for every validation failure.
func validateStruct(cfg *Config) error {
	err := structValidator.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return NewValidationError(fieldPath(fe), fmt.Errorf("%w: failed '%s' check", ErrInvalidValue, fe.Tag()))
	}
	return fmt.Errorf("%w: %v", ErrValidationFailed, err)
}

// fieldPath renders a validator.FieldError's namespace (e.g.
// "Config.Preview.RootDomain") as the lowercase dotted path the rest of this
// package's ValidationErrors use (e.g. "preview.root_domain"), stripping the
// leading "Config." root segment.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := indexByte(ns, '.'); i != -1 {
		ns = ns[i+1:]
	}
	return toSnakeDotted(ns)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// toSnakeDotted lowercases a dotted PascalCase namespace segment by segment,
// treating runs of uppercase letters as a single acronym so "URL" becomes
// "url" rather than "u_r_l": e.g. "Preview.RootDomain" -> "preview.root_domain",
// "Redis.URL" -> "redis.url".
func toSnakeDotted(ns string) string {
	isUpper := func(c byte) bool { return c >= 'A' && c <= 'Z' }
	isLower := func(c byte) bool { return c >= 'a' && c <= 'z' }

	out := make([]byte, 0, len(ns)+4)
	segStart := true
	for i := 0; i < len(ns); i++ {
		c := ns[i]
		switch {
		case c == '.':
			out = append(out, '.')
			segStart = true
		case isUpper(c):
			prevLower := i > 0 && isLower(ns[i-1])
			prevUpperNextLower := i > 0 && isUpper(ns[i-1]) && i+1 < len(ns) && isLower(ns[i+1])
			if !segStart && (prevLower || prevUpperNextLower) {
				out = append(out, '_')
			}
			out = append(out, c-'A'+'a')
			segStart = false
		default:
			out = append(out, c)
			segStart = false
		}
	}
	return string(out)
}
