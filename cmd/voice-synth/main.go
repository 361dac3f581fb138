// main package for voice-synth
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/config"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/book-expert/voice-synth/internal/pipeline"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagConfig      = "config"
	flagDevice      = "device"
	flagText        = "text"
	flagVoicePrompt = "voice-prompt"
	flagOutput      = "output"
	flagJobs        = "jobs"
)

// Flag descriptions.
const (
	flagConfigDesc      = "Path to a TOML config file (defaults to the configurator search)"
	flagDeviceDesc      = "Device preference, accelerator or host (overrides model.device)"
	flagTextDesc        = "Text to convert to speech"
	flagVoicePromptDesc = "Reference recording to clone the voice of"
	flagOutputDesc      = "Output file path (.wav) for --text"
	flagJobsDesc        = "JSON, YAML or TOML file listing jobs to process"
)

// Log and output messages.
const (
	logBootstrapCreated  = "Bootstrap logger created."
	logConfigLoaded      = "Configuration loaded successfully."
	logFmtStarting       = "voice-synth starting: mode=%s, device preference=%s, %d job(s)"
	logFmtResult         = "%s: written (%s of audio in %s) [%s]"
	logFmtResultFailed   = "%s: failed: %v [%s]"
	logFmtMirrorFailed   = "%s: mirror failed: %v"
	logFmtTeardown       = "Teardown: %s"
	logFmtRuntimeClose   = "Failed to close model runtime: %v"
	bootstrapLogFileName = "voice-synth-bootstrap.log"
	logFileName          = "voice-synth.log"
	defaultOutputFile    = "out.wav"
	logDirPermissions    = 0o750
)

var (
	// ErrTextAndJobs indicates that both --text and --jobs were given.
	ErrTextAndJobs = errors.New("cannot specify both --text and --jobs")
	// ErrNoWork indicates that neither flags nor configuration name any job.
	ErrNoWork = errors.New("either --text, --jobs or [[jobs]] in the config must be provided")
	// ErrVoicePromptWithoutText indicates --voice-prompt given without --text.
	ErrVoicePromptWithoutText = errors.New("--voice-prompt requires --text")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	config      string
	device      string
	text        string
	voicePrompt string
	output      string
	jobs        string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "voice-synth exited with error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the voice-synth command.
func newRootCommand() *cobra.Command {
	var flags appFlags

	cmd := &cobra.Command{
		Use:   "voice-synth",
		Short: "Load a speech model once and synthesize text to WAV files",
		Long: `voice-synth loads one text-to-speech model, preferring the accelerator and
falling back to the host, then synthesizes each job to a WAV file and releases
memory after every job and at exit.

Work comes from --text, from a --jobs file, or from the [[jobs]] table of the
configuration, in that order.

Examples:
  voice-synth --text "Hello world" -o hello.wav
  voice-synth --text "Hello world" --voice-prompt ref.wav -o cloned.wav
  voice-synth --config project.toml --jobs chapter.yaml --device host`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	cmd.Flags().StringVarP(&flags.device, flagDevice, "d", "", flagDeviceDesc)
	cmd.Flags().StringVarP(&flags.text, flagText, "t", "", flagTextDesc)
	cmd.Flags().StringVar(&flags.voicePrompt, flagVoicePrompt, "", flagVoicePromptDesc)
	cmd.Flags().StringVarP(&flags.output, flagOutput, "o", defaultOutputFile, flagOutputDesc)
	cmd.Flags().StringVarP(&flags.jobs, flagJobs, "j", "", flagJobsDesc)

	return cmd
}

// buildRequests picks the work of the run: --text, else --jobs, else the config's
// [[jobs]].
func buildRequests(flags appFlags, cfg *config.Config) ([]core.GenerationRequest, error) {
	if flags.text != "" && flags.jobs != "" {
		return nil, ErrTextAndJobs
	}

	if flags.voicePrompt != "" && flags.text == "" {
		return nil, ErrVoicePromptWithoutText
	}

	if flags.text != "" {
		job := config.Job{Text: flags.text, VoicePrompt: flags.voicePrompt, Output: flags.output}

		err := job.Validate()
		if err != nil {
			return nil, err
		}

		return []core.GenerationRequest{job.Request()}, nil
	}

	jobs := cfg.Jobs

	if flags.jobs != "" {
		loaded, err := config.LoadJobs(flags.jobs)
		if err != nil {
			return nil, err
		}

		jobs = loaded
	}

	if len(jobs) == 0 {
		return nil, ErrNoWork
	}

	requests := make([]core.GenerationRequest, 0, len(jobs))
	for _, job := range jobs {
		requests = append(requests, job.Request())
	}

	return requests, nil
}

// devicePreference applies the --device override to the configured preference.
func devicePreference(flags appFlags, cfg *config.Config) (core.Device, error) {
	if flags.device == "" {
		return cfg.DevicePreference()
	}

	preference, err := core.ParseDevice(flags.device)
	if err != nil {
		return core.DeviceUnknown, fmt.Errorf("--%s: %w", flagDevice, err)
	}

	return preference, nil
}

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return config.Load(log)
}

func run(ctx context.Context, flags appFlags, stdout io.Writer) error {
	// 1. Bootstrap logger until the configured log directory is known.
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info(logBootstrapCreated)

	// 2. Configuration.
	cfg, err := loadConfig(flags.config, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info(logConfigLoaded)

	// 3. Final logger in the configured directory.
	err = os.MkdirAll(cfg.Paths.BaseLogsDir, logDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Work and device preference.
	requests, err := buildRequests(flags, cfg)
	if err != nil {
		finalLog.Error("Invalid arguments: %v", err)

		return err
	}

	preference, err := devicePreference(flags, cfg)
	if err != nil {
		return err
	}

	finalLog.System(logFmtStarting, cfg.Model.Mode, preference, len(requests))

	// 5. Collaborators and the session.
	application, err := wire(ctx, cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to set up: %v", err)

		return err
	}

	defer application.close(context.WithoutCancel(ctx))

	return application.execute(ctx, preference, requests, stdout)
}

// execute runs the session over requests and reports the outcome.
func (a *app) execute(
	ctx context.Context,
	preference core.Device,
	requests []core.GenerationRequest,
	stdout io.Writer,
) error {
	session, err := pipeline.New(ctx, a.deps, preference)
	if err != nil {
		a.log.Error("Model initialization failed: %v", err)

		return err
	}

	summary := session.Run(ctx, requests)

	teardown := session.Close(context.WithoutCancel(ctx))
	a.log.Info(logFmtTeardown, teardown)

	report(a.log, stdout, summary)

	// Only a fatal error or cancellation ends the run early.
	return summary.Err
}
