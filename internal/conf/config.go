// Package conf loads board wiring and processor configuration from a YAML
// file, environment variables, and command-line flags via viper.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root configuration tree for a soundmesh board.
type Settings struct {
	Debug bool // true to enable debug logging

	Main struct {
		Name    string // board instance name, used to tag logs and metrics
		Log     LogConfig
		Metrics MetricsConfig
	}

	Board struct {
		// Processors lists the processor instances to start, in startup order.
		Processors []ProcessorConfig

		// OutputBufferSize is loaded and defaulted (64) but not read by the
		// Board: its local channels have a fixed capacity, and a full
		// channel blocks the publisher rather than dropping chunks.
		OutputBufferSize int
	}

	Composite struct {
		// StrictIdentifier requires a WithPrevious chunk's identifier to match
		// the composite it is being merged into; false relaxes this to a
		// logged warning instead of a ProtocolError (see the Open Question
		// decision this setting exists to make configurable).
		StrictIdentifier bool
	}

	Calibration struct {
		CachePath string // directory holding calibration caches, one file per stream identifier
	}

	NetChannel struct {
		// Endpoints are the TCP fan-out links this board connects to or serves.
		Endpoints []NetChannelEndpoint
	}
}

// ProcessorConfig names one processor instance, its upstream subscriptions,
// and an opaque parameter block specific to that processor kind.
type ProcessorConfig struct {
	Name    string         // unique processor name within the board
	Kind    string         // registered processor kind (e.g. "wav_source", "aggregate")
	Inputs  []string       // subscriptions, each "producer.senderKey@receiverKey"
	Params  map[string]any // kind-specific parameters, forwarded to the processor's constructor
}

// NetChannelEndpoint configures one TCP fan-out link.
type NetChannelEndpoint struct {
	Name    string // endpoint name, referenced by a netchannel processor's "endpoint" param
	Mode    string // "server" or "client"
	Address string // host:port to listen on or dial
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool
	Address string // host:port the /metrics handler listens on
}

// LogConfig defines the configuration for a log file.
type LogConfig struct {
	Enabled  bool
	Path     string
	Rotation RotationType
	MaxSize  int64 // bytes; the per-file size cap under every rotation policy
}

// RotationType names the cadence a log file rotates on.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, environment variables, and any
// previously bound cobra flags into a Settings value.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := bindEnvVars(); err != nil {
		// Environment binding problems are warnings, not fatal: fall through
		// with whatever bindings succeeded.
		fmt.Fprintln(os.Stderr, err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	applyDefaults(settings)

	settingsInstance = settings
	return settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig(configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

func createDefaultConfig(configPaths []string) error {
	if len(configPaths) == 0 {
		return fmt.Errorf("no default config paths available")
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil { //nolint:gosec
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// The embedded default is part of the binary; a read failure here
		// means the build itself is broken.
		panic(fmt.Sprintf("embedded default config missing: %v", err))
	}
	return string(data)
}

// GetSettings returns the most recently loaded settings, or nil if Load has
// not been called yet.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func applyDefaults(s *Settings) {
	if s.Board.OutputBufferSize <= 0 {
		s.Board.OutputBufferSize = 64
	}
	if s.Main.Log.Rotation == "" {
		s.Main.Log.Rotation = RotationSize
	}
	if s.Main.Log.MaxSize <= 0 {
		s.Main.Log.MaxSize = 100 * 1024 * 1024
	}
	if s.Main.Metrics.Address == "" {
		s.Main.Metrics.Address = ":9090"
	}
}
