package structure

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileCache persists a stream's Calibration as one YAML file per
// identifier under a base directory, at `<identifier>.cache`.
type FileCache struct {
	BaseDir string
}

func NewFileCache(baseDir string) *FileCache {
	return &FileCache{BaseDir: baseDir}
}

func (c *FileCache) path(identifier string) string {
	return filepath.Join(c.BaseDir, identifier+".cache")
}

func (c *FileCache) Load(identifier string) (Calibration, bool, error) {
	data, err := os.ReadFile(c.path(identifier))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("structure: reading calibration cache: %w", err)
	}
	var cal Calibration
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return nil, false, fmt.Errorf("structure: decoding calibration cache: %w", err)
	}
	return cal, true, nil
}

func (c *FileCache) Save(identifier string, cal Calibration) error {
	if err := os.MkdirAll(c.BaseDir, 0o755); err != nil {
		return fmt.Errorf("structure: creating calibration cache dir: %w", err)
	}
	data, err := yaml.Marshal(cal)
	if err != nil {
		return fmt.Errorf("structure: encoding calibration cache: %w", err)
	}
	tmp := c.path(identifier) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("structure: writing calibration cache: %w", err)
	}
	return os.Rename(tmp, c.path(identifier))
}
