package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/voice-synth/internal/core"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var (
	// ErrJobTextEmpty indicates a job without text.
	ErrJobTextEmpty = errors.New("job text cannot be empty")
	// ErrJobOutputEmpty indicates a job without an output path.
	ErrJobOutputEmpty = errors.New("job output cannot be empty")
	// ErrUnsupportedJobsFormat indicates a jobs file with an unknown extension.
	ErrUnsupportedJobsFormat = errors.New("unsupported jobs file format")
	// ErrNoJobs indicates an empty jobs file.
	ErrNoJobs = errors.New("no jobs found")
)

// Job is one generation described in configuration or a jobs file.
type Job struct {
	Text        string `json:"text"         toml:"text"         yaml:"text"`
	VoicePrompt string `json:"voice_prompt" toml:"voice_prompt" yaml:"voice_prompt"`
	Output      string `json:"output"       toml:"output"       yaml:"output"`
}

// jobsFile is the TOML layout of a jobs file.
type jobsFile struct {
	Jobs []Job `toml:"jobs"`
}

// Validate checks that the job can be submitted.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Text) == "" {
		return ErrJobTextEmpty
	}

	if j.Output == "" {
		return ErrJobOutputEmpty
	}

	return nil
}

// Request converts the job into a generation request.
func (j Job) Request() core.GenerationRequest {
	return core.GenerationRequest{
		Text:        j.Text,
		VoicePrompt: j.VoicePrompt,
		OutputPath:  j.Output,
	}
}

// LoadJobs reads a list of jobs from a .json, .yaml/.yml or .toml file. JSON and
// YAML files hold a top-level list; TOML files hold a [[jobs]] array.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var jobs []Job

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &jobs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &jobs)
	case ".toml":
		var file jobsFile

		err = toml.Unmarshal(data, &file)
		jobs = file.Jobs
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedJobsFormat, path)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse jobs file %s: %w", path, err)
	}

	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoJobs, path)
	}

	for i, job := range jobs {
		jobErr := job.Validate()
		if jobErr != nil {
			return nil, fmt.Errorf("%s: jobs[%d]: %w", path, i, jobErr)
		}
	}

	return jobs, nil
}
