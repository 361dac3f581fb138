package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-synth/internal/audio"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/book-expert/voice-synth/internal/engine"
	"github.com/book-expert/voice-synth/internal/events"
	"github.com/book-expert/voice-synth/internal/pipeline"
	"github.com/book-expert/voice-synth/internal/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMirror = errors.New("bucket offline")

type recordingMirror struct {
	paths            []string
	mirrorShouldFail bool
}

func (m *recordingMirror) Mirror(_ context.Context, artifactPath string) (string, error) {
	m.paths = append(m.paths, artifactPath)

	if m.mirrorShouldFail {
		return "", errMirror
	}

	return "run/" + filepath.Base(artifactPath), nil
}

func newSession(
	t *testing.T,
	runtime *engine.MockRuntime,
	preference core.Device,
	mirror pipeline.ArtifactMirror,
) (*pipeline.Session, *events.Recorder) {
	t.Helper()

	recorder := events.NewRecorder()

	session, err := pipeline.New(context.Background(), pipeline.Deps{
		Runtime:       runtime,
		Probe:         nil,
		Preparer:      text.NewPreparer(nil, 300),
		Params:        core.GenerationParams{Exaggeration: 0.5, CFGWeight: 0.5, Temperature: 0.8},
		BitDepth:      audio.BitDepth16,
		Mirror:        mirror,
		HostCollector: func() {},
		Sink:          recorder,
	}, preference)
	require.NoError(t, err)

	t.Cleanup(func() { session.Close(context.Background()) })

	return session, recorder
}

func TestSession_FallbackScenario(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	session, recorder := newSession(t, runtime, core.DeviceAccelerator, nil)

	assert.Equal(t, 1, recorder.Count(core.StageDevice, core.StatusFallback))

	resolved, err := session.Handle().Device()
	require.NoError(t, err)
	assert.Equal(t, core.DeviceHost, resolved)

	output := filepath.Join(t.TempDir(), "out.wav")
	result := session.Process(context.Background(), core.GenerationRequest{
		Text:        "hello world",
		VoicePrompt: "",
		OutputPath:  output,
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Persisted)
	assert.Positive(t, result.Audio)

	info, err := audio.Inspect(output)
	require.NoError(t, err)
	assert.Equal(t, 24000, info.SampleRate)
	assert.Positive(t, info.Frames)

	assert.True(t, result.Reclaim.HostCollected)
	assert.True(t, result.Reclaim.CacheSkipped)
	assert.Equal(t, 0, runtime.Stats().CacheClears)
}

func TestSession_BaselineAndClonedShareSampleRate(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(22050.7, true)
	session, _ := newSession(t, runtime, core.DeviceAccelerator, nil)

	dir := t.TempDir()
	prompt := filepath.Join(dir, "prompt.wav")
	require.NoError(t, os.WriteFile(prompt, []byte("RIFF"), 0o600))

	for _, voicePrompt := range []string{"", prompt} {
		output := filepath.Join(dir, filepath.Base(voicePrompt)+"out.wav")

		result := session.Process(context.Background(), core.GenerationRequest{
			Text:        "same text",
			VoicePrompt: voicePrompt,
			OutputPath:  output,
		})
		require.NoError(t, result.Err)
		assert.True(t, result.Reclaim.CacheCleared)

		info, err := audio.Inspect(output)
		require.NoError(t, err)
		assert.Equal(t, 22050, info.SampleRate)
	}

	assert.Equal(t, 2, runtime.Stats().CacheClears)
}

func TestSession_PersistenceFailureStillReclaims(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, true)
	mirror := &recordingMirror{}
	session, recorder := newSession(t, runtime, core.DeviceAccelerator, mirror)

	output := filepath.Join(t.TempDir(), "missing-dir", "out.wav")
	result := session.Process(context.Background(), core.GenerationRequest{
		Text:        "hello",
		VoicePrompt: "",
		OutputPath:  output,
	})

	var persistErr *core.PersistenceError
	require.ErrorAs(t, result.Err, &persistErr)
	assert.Equal(t, output, persistErr.Path)
	assert.False(t, core.IsFatal(result.Err))
	assert.False(t, result.Persisted)
	assert.Empty(t, mirror.paths)

	assert.True(t, result.Reclaim.BufferReleased)
	assert.True(t, result.Reclaim.CacheCleared)
	assert.Equal(t, 1, recorder.Count(core.StageReclaim, core.StatusSucceeded))
}

func TestSession_GenerationFailureSkipsPersistence(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	session, recorder := newSession(t, runtime, core.DeviceHost, nil)
	runtime.GenerateShouldFail = true

	output := filepath.Join(t.TempDir(), "out.wav")
	result := session.Process(context.Background(), core.GenerationRequest{
		Text:        "hello",
		VoicePrompt: "",
		OutputPath:  output,
	})

	var generationErr *core.GenerationError
	require.ErrorAs(t, result.Err, &generationErr)
	assert.NoFileExists(t, output)
	assert.Equal(t, 0, recorder.Count(core.StagePersist, core.StatusStarted))
	assert.True(t, result.Reclaim.HostCollected)
}

func TestSession_Mirror(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	mirror := &recordingMirror{}
	session, _ := newSession(t, runtime, core.DeviceHost, mirror)

	output := filepath.Join(t.TempDir(), "line.wav")
	result := session.Process(context.Background(), core.GenerationRequest{
		Text:        "mirrored",
		VoicePrompt: "",
		OutputPath:  output,
	})
	require.NoError(t, result.Err)
	assert.Equal(t, "run/line.wav", result.MirrorKey)
	assert.Equal(t, []string{output}, mirror.paths)

	mirror.mirrorShouldFail = true
	result = session.Process(context.Background(), core.GenerationRequest{
		Text:        "mirrored again",
		VoicePrompt: "",
		OutputPath:  output,
	})
	require.NoError(t, result.Err)
	require.ErrorIs(t, result.MirrorErr, errMirror)
}

func TestSession_Run(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	session, _ := newSession(t, runtime, core.DeviceHost, nil)
	dir := t.TempDir()

	summary := session.Run(context.Background(), []core.GenerationRequest{
		{Text: "first", VoicePrompt: "", OutputPath: filepath.Join(dir, "1.wav")},
		{Text: "second", VoicePrompt: filepath.Join(dir, "absent.wav"), OutputPath: filepath.Join(dir, "2.wav")},
		{Text: "third", VoicePrompt: "", OutputPath: filepath.Join(dir, "3.wav")},
	})

	require.NoError(t, summary.Err)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.ErrorIs(t, summary.Results[1].Err, core.ErrVoicePromptNotFound)
	assert.FileExists(t, filepath.Join(dir, "3.wav"))
}

func TestSession_RunStopsWhenModelUnavailable(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	session, _ := newSession(t, runtime, core.DeviceHost, nil)
	session.Close(context.Background())

	dir := t.TempDir()
	summary := session.Run(context.Background(), []core.GenerationRequest{
		{Text: "first", VoicePrompt: "", OutputPath: filepath.Join(dir, "1.wav")},
		{Text: "second", VoicePrompt: "", OutputPath: filepath.Join(dir, "2.wav")},
	})

	var unavailable *core.ModelUnavailableError
	require.ErrorAs(t, summary.Err, &unavailable)
	assert.Len(t, summary.Results, 1)
	assert.Equal(t, 0, runtime.Stats().Generations)
}

func TestSession_RunHonorsCancellation(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	session, _ := newSession(t, runtime, core.DeviceHost, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := session.Run(ctx, []core.GenerationRequest{
		{Text: "never", VoicePrompt: "", OutputPath: filepath.Join(t.TempDir(), "x.wav")},
	})
	require.ErrorIs(t, summary.Err, context.Canceled)
	assert.Empty(t, summary.Results)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, true)
	session, recorder := newSession(t, runtime, core.DeviceAccelerator, nil)

	first := session.Close(context.Background())
	assert.True(t, first.MovedToHost)
	assert.True(t, first.HandleReleased)
	assert.True(t, first.CacheCleared)

	second := session.Close(context.Background())
	assert.Equal(t, first, second)

	assert.Equal(t, 1, runtime.Stats().ModelsClosed)
	assert.Equal(t, 1, recorder.Count(core.StageTeardown, core.StatusSucceeded))
}

func TestNew_InitializationFailure(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	runtime.LoadShouldFail = true

	_, err := pipeline.New(context.Background(), pipeline.Deps{Runtime: runtime}, core.DeviceHost)

	var initErr *core.InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, core.DeviceHost, initErr.Device)

	_, err = pipeline.New(context.Background(), pipeline.Deps{}, core.DeviceHost)
	require.ErrorIs(t, err, pipeline.ErrRuntimeMissing)

	_, err = pipeline.New(context.Background(), pipeline.Deps{Runtime: runtime, BitDepth: 12}, core.DeviceHost)
	require.ErrorIs(t, err, audio.ErrInvalidFormat)
}
