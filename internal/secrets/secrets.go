// Package secrets resolves credential settings that refer to the environment
// or to mounted secret files instead of holding the value inline.
//
// A setting is resolved as follows:
//   - "file:/run/secrets/mqtt" reads the file, trailing newlines trimmed
//   - "${MQTT_PASSWORD}" or "${MQTT_PASSWORD:-fallback}" expands the environment
//   - anything else is returned as is
//
// Secret values are never logged or included in errors.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tphakala/safetynet-go/internal/errors"
)

// FilePrefix marks a setting that names a secret file.
const FilePrefix = "file:"

// maxFileSize caps secret files; credentials are small.
const maxFileSize = 64 * 1024

// Resolve returns the secret referenced by value.
func Resolve(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		return ReadFile(path)
	}
	return Expand(value)
}

// refPattern matches ${VAR} and ${VAR:-fallback}. Bare $VAR is left alone so
// values such as bcrypt hashes pass through untouched.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// Expand substitutes ${VAR} and ${VAR:-fallback} references. A referenced
// variable that is unset and has no fallback is an error.
func Expand(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var missing []string
	expanded := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := refPattern.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		if m[2] == "" {
			missing = append(missing, m[1])
			return ""
		}
		return strings.TrimPrefix(m[2], ":-")
	})
	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file such as a Docker or Kubernetes mounted secret.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", errors.Newf("secret file path is empty").
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", errors.New(fmt.Errorf("secret file %s: %w", clean, err)).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", errors.Newf("secret path is not a regular file: %s", clean).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if info.Size() > maxFileSize {
		return "", errors.Newf("secret file too large (max %d bytes): %s", maxFileSize, clean).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", errors.New(fmt.Errorf("read secret file %s: %w", clean, err)).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", errors.Newf("secret file is empty: %s", clean).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return secret, nil
}
