// Package config provides the configuration structure for voice-synth.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/pelletier/go-toml/v2"
)

// Model runtime modes.
const (
	ModeExec = "exec"
	ModeHTTP = "http"
	ModeMock = "mock"
)

// Capability probe selections.
const (
	ProbeRuntime = "runtime"
	ProbeCommand = "command"
	ProbeNone    = "none"
)

// Generation parameter limits.
const (
	maxExaggeration = 2.0
	maxCFGWeight    = 1.0
	maxTemperature  = 5.0
)

var (
	// ErrUnknownMode indicates an unsupported model runtime mode.
	ErrUnknownMode = errors.New("unknown model mode")
	// ErrCommandEmpty indicates that exec mode has no worker command.
	ErrCommandEmpty = errors.New("model command cannot be empty in exec mode")
	// ErrServiceURLEmpty indicates that http mode has no service URL.
	ErrServiceURLEmpty = errors.New("model service_url cannot be empty in http mode")
	// ErrUnknownProbe indicates an unsupported capability probe.
	ErrUnknownProbe = errors.New("unknown capability probe")
	// ErrMaxTextChars indicates a non-positive text cap.
	ErrMaxTextChars = errors.New("max_text_chars must be positive")
	// ErrExaggerationRange indicates that exaggeration is outside [0, 2].
	ErrExaggerationRange = errors.New("exaggeration must be between 0.0 and 2.0")
	// ErrCFGWeightRange indicates that cfg_weight is outside [0, 1].
	ErrCFGWeightRange = errors.New("cfg_weight must be between 0.0 and 1.0")
	// ErrTemperatureRange indicates that temperature is outside (0, 5].
	ErrTemperatureRange = errors.New("temperature must be greater than 0.0 and at most 5.0")
	// ErrTimeoutNegative indicates a negative request timeout.
	ErrTimeoutNegative = errors.New("timeout_seconds must be non-negative")
)

// ModelConfig selects and configures the model runtime.
type ModelConfig struct {
	Mode            string   `toml:"mode"`
	Command         string   `toml:"command"`
	WorkerEnv       []string `toml:"worker_env"`
	ServiceURL      string   `toml:"service_url"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
	Device          string   `toml:"device"`
	Probe           string   `toml:"probe"`
	ProbeCommand    string   `toml:"probe_command"`
	MockSampleRate  float64  `toml:"mock_sample_rate"`
	MockAccelerator bool     `toml:"mock_accelerator"`
}

// GenerationConfig holds the text preparation and sampling settings.
type GenerationConfig struct {
	MaxTextChars  int     `toml:"max_text_chars"`
	NormalizeText bool    `toml:"normalize_text"`
	Exaggeration  float64 `toml:"exaggeration"`
	CFGWeight     float64 `toml:"cfg_weight"`
	Temperature   float64 `toml:"temperature"`
}

// OutputConfig holds the artifact encoding settings.
type OutputConfig struct {
	BitDepth int `toml:"bit_depth"`
}

// NATSConfig holds the optional NATS notification and mirroring settings. An empty
// URL disables both.
type NATSConfig struct {
	URL                    string `toml:"url"`
	EventsSubject          string `toml:"events_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// TelemetryConfig holds the OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	TraceFile   string `toml:"trace_file"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Model      ModelConfig      `toml:"model"`
	Generation GenerationConfig `toml:"generation"`
	Output     OutputConfig     `toml:"output"`
	NATS       NATSConfig       `toml:"nats"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Paths      PathsConfig      `toml:"paths"`
	Jobs       []Job            `toml:"jobs"`
}

// Default returns the configuration used for every key a file leaves unset.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Mode:            ModeExec,
			Command:         "python3 -m voice_synth_worker",
			WorkerEnv:       nil,
			ServiceURL:      "http://127.0.0.1:8000",
			TimeoutSeconds:  0,
			Device:          "accelerator",
			Probe:           ProbeRuntime,
			ProbeCommand:    "nvidia-smi -L",
			MockSampleRate:  24000,
			MockAccelerator: false,
		},
		Generation: GenerationConfig{
			MaxTextChars:  300,
			NormalizeText: false,
			Exaggeration:  0.5,
			CFGWeight:     0.5,
			Temperature:   0.8,
		},
		Output: OutputConfig{
			BitDepth: 16,
		},
		NATS: NATSConfig{
			URL:                    "",
			EventsSubject:          "voice.lifecycle",
			AudioObjectStoreBucket: "",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "voice-synth",
			TraceFile:   "",
		},
		Paths: PathsConfig{
			BaseLogsDir: "logs",
		},
		Jobs: nil,
	}
}

// Load loads the configuration through the central configurator, starting from the
// defaults.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFile loads an explicit TOML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DevicePreference returns the configured device preference.
func (c *Config) DevicePreference() (core.Device, error) {
	preference, err := core.ParseDevice(c.Model.Device)
	if err != nil {
		return core.DeviceUnknown, fmt.Errorf("model.device: %w", err)
	}

	return preference, nil
}

// Params returns the sampling parameters passed with every generation.
func (c *Config) Params() core.GenerationParams {
	return core.GenerationParams{
		Exaggeration: c.Generation.Exaggeration,
		CFGWeight:    c.Generation.CFGWeight,
		Temperature:  c.Generation.Temperature,
	}
}

// Validate ensures that the configuration contains usable values.
func (c *Config) Validate() error {
	err := c.validateModel()
	if err != nil {
		return err
	}

	err = c.validateGeneration()
	if err != nil {
		return err
	}

	if c.Output.BitDepth != 16 && c.Output.BitDepth != 24 && c.Output.BitDepth != 32 {
		return fmt.Errorf("output.bit_depth must be 16, 24, or 32: got %d", c.Output.BitDepth)
	}

	for i, job := range c.Jobs {
		jobErr := job.Validate()
		if jobErr != nil {
			return fmt.Errorf("jobs[%d]: %w", i, jobErr)
		}
	}

	return nil
}

func (c *Config) validateModel() error {
	switch c.Model.Mode {
	case ModeExec:
		if c.Model.Command == "" {
			return ErrCommandEmpty
		}
	case ModeHTTP:
		if c.Model.ServiceURL == "" {
			return ErrServiceURLEmpty
		}
	case ModeMock:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Model.Mode)
	}

	switch c.Model.Probe {
	case ProbeRuntime, ProbeNone:
	case ProbeCommand:
		if c.Model.ProbeCommand == "" {
			return fmt.Errorf("%w: probe_command is empty", ErrUnknownProbe)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProbe, c.Model.Probe)
	}

	if c.Model.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: got %d", ErrTimeoutNegative, c.Model.TimeoutSeconds)
	}

	_, err := c.DevicePreference()

	return err
}

func (c *Config) validateGeneration() error {
	gen := c.Generation

	if gen.MaxTextChars <= 0 {
		return fmt.Errorf("%w: got %d", ErrMaxTextChars, gen.MaxTextChars)
	}

	if gen.Exaggeration < 0.0 || gen.Exaggeration > maxExaggeration {
		return fmt.Errorf("%w: got %f", ErrExaggerationRange, gen.Exaggeration)
	}

	if gen.CFGWeight < 0.0 || gen.CFGWeight > maxCFGWeight {
		return fmt.Errorf("%w: got %f", ErrCFGWeightRange, gen.CFGWeight)
	}

	if gen.Temperature <= 0.0 || gen.Temperature > maxTemperature {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, gen.Temperature)
	}

	return nil
}
