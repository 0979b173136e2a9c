package settings

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches "${VAR:-default}" / "${VAR}" / "$VAR", following
// the teacher's pkg/config/env.go expansion grammar.
var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(:-(.*?))?\}|\$([A-Z_][A-Z0-9_]*)`)

func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		name, def := parts[1], parts[3]
		if name == "" {
			name = parts[4]
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}

func expandInData(v any) any {
	switch t := v.(type) {
	case string:
		return parseScalar(expandEnvVars(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = expandInData(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = expandInData(vv)
		}
		return out
	default:
		return v
	}
}

func parseScalar(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// LoadEnvFiles loads ".env.local" then ".env" into the process
// environment, mirroring the teacher's LoadEnvFiles — missing files are
// not an error.
func LoadEnvFiles() error {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("settings: load %s: %w", f, err)
		}
	}
	return nil
}

// LoadFile reads a YAML settings document from path, expands
// "${VAR:-default}"-style environment references in every string value,
// and returns it as a raw UserSettings document ready for
// NormalizeUserSettings. Used by the local/dev harness (cmd/orchestrator)
// in place of the browser extension's real SettingsStore.
func LoadFile(path string) (UserSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}

	expanded := expandInData(doc).(map[string]any)
	return UserSettings(expanded), nil
}
