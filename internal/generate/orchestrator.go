// Package generate runs a single text-to-speech generation against the session's model.
package generate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/voice-synth/internal/core"
	"github.com/book-expert/voice-synth/internal/text"
)

const (
	operationGenerate     = "generate"
	msgFmtTruncated       = "text truncated to %d characters"
	msgFmtGenerated       = "generated %d samples (%s)"
	msgBaselineVoice      = "baseline voice"
	msgFmtClonedVoice     = "voice cloned from %s"
	errFmtPromptNotFound  = "%w: %s"
	errFmtPromptIrregular = "%w: %s is not a regular file"
)

// Orchestrator prepares request text, validates the optional voice prompt and asks
// the model for a waveform.
type Orchestrator struct {
	preparer *text.Preparer
	params   core.GenerationParams
	sink     core.EventSink
}

// NewOrchestrator creates an orchestrator. A nil preparer passes text through
// untouched; a nil sink discards events.
func NewOrchestrator(preparer *text.Preparer, params core.GenerationParams, sink core.EventSink) *Orchestrator {
	if preparer == nil {
		preparer = text.NewPreparer(nil, 0)
	}

	if sink == nil {
		sink = core.NopSink{}
	}

	return &Orchestrator{
		preparer: preparer,
		params:   params,
		sink:     sink,
	}
}

// Generate produces the audio for req. It blocks until the model returns the whole
// waveform. A missing or released handle yields *core.ModelUnavailableError; every
// other failure is a *core.GenerationError.
func (o *Orchestrator) Generate(
	ctx context.Context,
	handle *core.ModelHandle,
	req core.GenerationRequest,
) (*core.AudioBuffer, error) {
	startedAt := time.Now()
	device := handle.ResolvedDevice()

	started := core.NewEvent(core.StageGenerate, core.StatusStarted)
	started.Device = device
	started.Path = req.OutputPath
	o.sink.Emit(started)

	buffer, err := o.generate(ctx, handle, req)

	finished := core.NewEvent(core.StageGenerate, core.StatusSucceeded)
	finished.Device = device
	finished.Path = req.OutputPath
	finished.StartedAt = startedAt

	if err != nil {
		finished.Status = core.StatusFailed
		finished.Err = err
		o.sink.Emit(finished)

		return nil, err
	}

	finished.Message = fmt.Sprintf(msgFmtGenerated, buffer.Len(), describeVoice(req.VoicePrompt))
	o.sink.Emit(finished)

	return buffer, nil
}

func (o *Orchestrator) generate(
	ctx context.Context,
	handle *core.ModelHandle,
	req core.GenerationRequest,
) (*core.AudioBuffer, error) {
	model, err := handle.Model()
	if err != nil {
		return nil, &core.ModelUnavailableError{Operation: operationGenerate, Err: err}
	}

	device := handle.ResolvedDevice()

	generationErr := func(cause error) error {
		return &core.GenerationError{Device: device, VoicePrompt: req.VoicePrompt, Err: cause}
	}

	prepared, truncated := o.preparer.Prepare(req.Text)
	if truncated {
		warning := core.NewEvent(core.StageGenerate, core.StatusWarning)
		warning.Device = device
		warning.Path = req.OutputPath
		warning.Message = fmt.Sprintf(msgFmtTruncated, o.preparer.MaxRunes())
		o.sink.Emit(warning)
	}

	if prepared == "" {
		return nil, generationErr(core.ErrTextEmpty)
	}

	promptErr := checkVoicePrompt(req.VoicePrompt)
	if promptErr != nil {
		return nil, generationErr(promptErr)
	}

	samples, err := model.Generate(ctx, prepared, req.VoicePrompt, o.params)
	if err != nil {
		return nil, generationErr(err)
	}

	if len(samples) == 0 {
		return nil, generationErr(core.ErrEmptyAudio)
	}

	return &core.AudioBuffer{
		Samples:    samples,
		SampleRate: handle.SampleRate(),
	}, nil
}

// checkVoicePrompt requires a present prompt to be an existing regular file.
func checkVoicePrompt(path string) error {
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf(errFmtPromptNotFound, core.ErrVoicePromptNotFound, path)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf(errFmtPromptIrregular, core.ErrVoicePromptNotFound, path)
	}

	return nil
}

func describeVoice(voicePrompt string) string {
	if voicePrompt == "" {
		return msgBaselineVoice
	}

	return fmt.Sprintf(msgFmtClonedVoice, voicePrompt)
}
