// Package config_test tests the configuration loading for voice-synth.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-synth/internal/config"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.ModeExec, cfg.Model.Mode)
	assert.Equal(t, 300, cfg.Generation.MaxTextChars)
	assert.Equal(t, 16, cfg.Output.BitDepth)
	assert.Empty(t, cfg.NATS.URL)

	preference, err := cfg.DevicePreference()
	require.NoError(t, err)
	assert.Equal(t, core.DeviceAccelerator, preference)
}

func TestParse(t *testing.T) {
	t.Parallel()

	tomlData := `
[model]
mode = "http"
service_url = "http://127.0.0.1:9000"
timeout_seconds = 120
device = "cpu"
probe = "command"
probe_command = "nvidia-smi -L"

[generation]
max_text_chars = 120
normalize_text = true
exaggeration = 0.7
cfg_weight = 0.3
temperature = 0.9

[output]
bit_depth = 24

[nats]
url = "nats://127.0.0.1:4222"
events_subject = "voice.events"
audio_object_store_bucket = "AUDIO_FILES"

[paths]
base_logs_dir = "/tmp/voice-logs"

[[jobs]]
text = "Hello there."
output = "out/hello.wav"

[[jobs]]
text = "Cloned greeting."
voice_prompt = "voices/ref.wav"
output = "out/cloned.wav"
`

	cfg, err := config.Parse([]byte(tomlData))
	require.NoError(t, err)

	assert.Equal(t, config.ModeHTTP, cfg.Model.Mode)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.Model.ServiceURL)
	assert.Equal(t, 120, cfg.Model.TimeoutSeconds)
	assert.Equal(t, config.ProbeCommand, cfg.Model.Probe)
	assert.Equal(t, 120, cfg.Generation.MaxTextChars)
	assert.True(t, cfg.Generation.NormalizeText)
	assert.InEpsilon(t, 0.7, cfg.Generation.Exaggeration, 0.001)
	assert.InEpsilon(t, 0.3, cfg.Params().CFGWeight, 0.001)
	assert.InEpsilon(t, 0.9, cfg.Params().Temperature, 0.001)
	assert.Equal(t, 24, cfg.Output.BitDepth)
	assert.Equal(t, "voice.events", cfg.NATS.EventsSubject)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "/tmp/voice-logs", cfg.Paths.BaseLogsDir)

	preference, err := cfg.DevicePreference()
	require.NoError(t, err)
	assert.Equal(t, core.DeviceHost, preference)

	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, core.GenerationRequest{
		Text:        "Cloned greeting.",
		VoicePrompt: "voices/ref.wav",
		OutputPath:  "out/cloned.wav",
	}, cfg.Jobs[1].Request())
}

func TestParse_KeepsDefaultsForMissingKeys(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte("[model]\nmode = \"mock\"\n"))
	require.NoError(t, err)

	assert.Equal(t, config.ModeMock, cfg.Model.Mode)
	assert.InEpsilon(t, 24000.0, cfg.Model.MockSampleRate, 0.001)
	assert.Equal(t, 300, cfg.Generation.MaxTextChars)
	assert.Equal(t, "voice.lifecycle", cfg.NATS.EventsSubject)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr error
	}{
		{
			name:    "unknown mode",
			mutate:  func(cfg *config.Config) { cfg.Model.Mode = "grpc" },
			wantErr: config.ErrUnknownMode,
		},
		{
			name:    "exec without command",
			mutate:  func(cfg *config.Config) { cfg.Model.Command = "" },
			wantErr: config.ErrCommandEmpty,
		},
		{
			name: "http without url",
			mutate: func(cfg *config.Config) {
				cfg.Model.Mode = config.ModeHTTP
				cfg.Model.ServiceURL = ""
			},
			wantErr: config.ErrServiceURLEmpty,
		},
		{
			name:    "unknown probe",
			mutate:  func(cfg *config.Config) { cfg.Model.Probe = "sysfs" },
			wantErr: config.ErrUnknownProbe,
		},
		{
			name:    "bad device",
			mutate:  func(cfg *config.Config) { cfg.Model.Device = "tpu" },
			wantErr: core.ErrInvalidDevice,
		},
		{
			name:    "negative timeout",
			mutate:  func(cfg *config.Config) { cfg.Model.TimeoutSeconds = -1 },
			wantErr: config.ErrTimeoutNegative,
		},
		{
			name:    "zero text cap",
			mutate:  func(cfg *config.Config) { cfg.Generation.MaxTextChars = 0 },
			wantErr: config.ErrMaxTextChars,
		},
		{
			name:    "exaggeration too high",
			mutate:  func(cfg *config.Config) { cfg.Generation.Exaggeration = 2.5 },
			wantErr: config.ErrExaggerationRange,
		},
		{
			name:    "cfg weight negative",
			mutate:  func(cfg *config.Config) { cfg.Generation.CFGWeight = -0.1 },
			wantErr: config.ErrCFGWeightRange,
		},
		{
			name:    "zero temperature",
			mutate:  func(cfg *config.Config) { cfg.Generation.Temperature = 0 },
			wantErr: config.ErrTemperatureRange,
		},
		{
			name:    "job without text",
			mutate:  func(cfg *config.Config) { cfg.Jobs = []config.Job{{Text: " ", VoicePrompt: "", Output: "a.wav"}} },
			wantErr: config.ErrJobTextEmpty,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			testCase.mutate(&cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestValidate_BitDepth(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Output.BitDepth = 8

	require.Error(t, cfg.Validate())
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadJobs(t *testing.T) {
	t.Parallel()

	want := []config.Job{
		{Text: "First line.", VoicePrompt: "", Output: "one.wav"},
		{Text: "Second line.", VoicePrompt: "ref.wav", Output: "two.wav"},
	}

	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "jobs.json",
			content: `[{"text": "First line.", "output": "one.wav"},
{"text": "Second line.", "voice_prompt": "ref.wav", "output": "two.wav"}]`,
		},
		{
			name: "yaml",
			file: "jobs.yaml",
			content: `- text: First line.
  output: one.wav
- text: Second line.
  voice_prompt: ref.wav
  output: two.wav
`,
		},
		{
			name: "toml",
			file: "jobs.toml",
			content: `[[jobs]]
text = "First line."
output = "one.wav"

[[jobs]]
text = "Second line."
voice_prompt = "ref.wav"
output = "two.wav"
`,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := writeFile(t, testCase.file, testCase.content)

			jobs, err := config.LoadJobs(path)
			require.NoError(t, err)
			assert.Equal(t, want, jobs)
		})
	}
}

func TestLoadJobs_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadJobs(writeFile(t, "jobs.csv", "text,output"))
	require.ErrorIs(t, err, config.ErrUnsupportedJobsFormat)

	_, err = config.LoadJobs(writeFile(t, "jobs.json", "[]"))
	require.ErrorIs(t, err, config.ErrNoJobs)

	_, err = config.LoadJobs(writeFile(t, "jobs.json", `[{"text": "hi"}]`))
	require.ErrorIs(t, err, config.ErrJobOutputEmpty)

	_, err = config.LoadJobs(writeFile(t, "jobs.yaml", "- text: [unclosed"))
	require.Error(t, err)
}
