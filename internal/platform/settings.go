package platform

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/silo/pkg/core"
)

// RegistryKey holds registry settings in a settings file.
const RegistryKey = "registry"

// LoadSettings reads a YAML settings file. ${VAR} references are expanded with
// lookup before parsing.
func LoadSettings(path string, lookup func(string) string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	return ParseSettings(data, lookup)
}

var reference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ParseSettings parses YAML settings, expanding ${VAR} references. Any other
// dollar sign is kept as written.
func ParseSettings(data []byte, lookup func(string) string) (map[string]any, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	expanded := reference.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(lookup(string(ref[2 : len(ref)-1])))
	})

	settings := make(map[string]any)
	if err := yaml.Unmarshal(expanded, &settings); err != nil {
		return nil, fmt.Errorf("%w: parsing settings: %v", core.ErrInvalidOption, err)
	}
	return settings, nil
}
