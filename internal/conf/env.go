package conf

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps one viper config key to an environment variable.
type envBinding struct {
	ConfigKey string
	EnvVar    string
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.name", "SOUNDMESH_NAME"},
		{"main.log.enabled", "SOUNDMESH_LOG_ENABLED"},
		{"main.log.path", "SOUNDMESH_LOG_PATH"},
		{"main.log.rotation", "SOUNDMESH_LOG_ROTATION"},
		{"main.metrics.enabled", "SOUNDMESH_METRICS_ENABLED"},
		{"main.metrics.address", "SOUNDMESH_METRICS_ADDRESS"},
		{"board.outputbuffersize", "SOUNDMESH_BOARD_OUTPUT_BUFFER_SIZE"},
		{"composite.strictidentifier", "SOUNDMESH_COMPOSITE_STRICT_IDENTIFIER"},
		{"calibration.cachepath", "SOUNDMESH_CALIBRATION_CACHE_PATH"},
	}
}

// bindEnvVars registers environment variable overrides for the settings
// keys above. A binding failure is collected into the returned error rather
// than aborting the others.
func bindEnvVars() error {
	var warnings []string
	for _, b := range getEnvBindings() {
		if err := viper.BindEnv(b.ConfigKey, b.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", b.EnvVar, err))
		}
	}
	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}
