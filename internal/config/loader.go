package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment variable values; "$$" escapes a literal dollar sign.
func substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}
		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

// LoadConfig loads the ambient process Config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// RoutesDocument is the YAML shape of the routes file Watcher loads into
// a RouteSnapshot (§6 "Configuration watch").
type RoutesDocument struct {
	Routes    []*Route    `yaml:"routes" json:"routes"`
	Upstreams []*Upstream `yaml:"upstreams,omitempty" json:"upstreams,omitempty"`
}

// LoadRoutesDocument loads and parses the routes file at path, returning
// the raw document. The caller (Watcher) assembles it into a
// RouteSnapshot together with the current ConfVersion and plugin routes.
func LoadRoutesDocument(path string) (*RoutesDocument, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var doc RoutesDocument
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &doc); err != nil {
		return nil, fmt.Errorf("parse routes document %s: %w", path, err)
	}
	return &doc, nil
}

func readFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}
	data, err := os.ReadFile(absPath) //nolint:gosec // path is validated via filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return data, nil
}

// ResolveConfigPath resolves a configuration file path, checking the
// current directory and a handful of conventional install locations.
func ResolveConfigPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("config file not found: %s", path)
	}

	if _, err := os.Stat(path); err == nil {
		return filepath.Abs(path)
	}

	etcPath := filepath.Join(string(filepath.Separator), "etc", "avapigw")
	commonPaths := []string{
		filepath.Join("configs", path),
		filepath.Join(etcPath, path),
		filepath.Join(os.Getenv("HOME"), ".avapigw", path),
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}
	return "", fmt.Errorf("config file not found: %s", path)
}
