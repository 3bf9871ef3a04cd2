package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSettingsFiles are the settings file names FindSettings looks for.
var DefaultSettingsFiles = []string{"silo.yaml", "silo.yml"}

// FindSettings looks upwards from startDir for a settings file and returns
// its absolute path.
func FindSettings(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		for _, name := range DefaultSettingsFiles {
			if hasFile(dir, name) {
				return filepath.Join(dir, name), nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no settings file found from %s", abs)
}

func hasFile(dir, name string) bool {
	info, err := os.Stat(filepath.Join(dir, name))
	return err == nil && !info.IsDir()
}
