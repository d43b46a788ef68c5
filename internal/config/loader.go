package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/billm/relayhub/pkg/types"
	"gopkg.in/yaml.v3"
)

// envRef matches ${NAME} and ${NAME:-fallback}
var envRef = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(?::-([^}]*))?\}`)

// interpolateEnvVars substitutes environment references in s. An unset or
// empty variable yields its fallback, or nothing.
func interpolateEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[2]
	})
}

// LoadFromFile reads a YAML configuration file over the defaults. Environment
// references in the file are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return nil, types.NewError(types.ErrCodeInvalidArgument, "configuration file must be .yaml or .yml: "+path)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrCodeNotFound, "configuration file not found: "+path, err)
	} else if err != nil {
		return nil, types.WrapError(types.ErrCodeInvalidArgument, "failed to read configuration file: "+path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(interpolateEnvVars(string(data))), &doc); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalid, "invalid YAML in "+path, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, types.NewError(types.ErrCodeInvalid, "configuration file has no content: "+path)
	}

	cfg := Default()
	if err := doc.Decode(cfg); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalid, "cannot decode "+path, err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrCodeInvalid, "configuration validation failed for "+path, err)
	}
	return cfg, nil
}
