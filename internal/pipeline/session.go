// Package pipeline owns the single model of a run and drives each request through
// generation, persistence, mirroring and reclamation.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/voice-synth/internal/audio"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/book-expert/voice-synth/internal/device"
	"github.com/book-expert/voice-synth/internal/generate"
	"github.com/book-expert/voice-synth/internal/model"
	"github.com/book-expert/voice-synth/internal/reclaim"
	"github.com/book-expert/voice-synth/internal/text"
)

// ErrRuntimeMissing indicates that Deps carries no model runtime.
var ErrRuntimeMissing = errors.New("pipeline requires a model runtime")

// ArtifactMirror copies a persisted artifact elsewhere and returns where it went.
type ArtifactMirror interface {
	Mirror(ctx context.Context, artifactPath string) (string, error)
}

// Deps are the collaborators of a Session. Runtime is required; Probe defaults to the
// runtime itself, BitDepth to 16 and Sink to discarding events.
type Deps struct {
	Runtime       core.Runtime
	Probe         core.CapabilityProbe
	Preparer      *text.Preparer
	Params        core.GenerationParams
	BitDepth      int
	Mirror        ArtifactMirror
	HostCollector func()
	Sink          core.EventSink
}

// Result is the outcome of one request. Err is nil only when the artifact was
// written.
type Result struct {
	Request   core.GenerationRequest
	Duration  time.Duration
	Audio     time.Duration
	Persisted bool
	MirrorKey string
	MirrorErr error
	Err       error
	Reclaim   reclaim.Report
}

// Summary is the outcome of a Run.
type Summary struct {
	Results   []Result
	Succeeded int
	Failed    int
	// Err is the fatal error that stopped the run early, if any.
	Err error
}

// Session holds the loaded model for the lifetime of a run. It is not safe for
// concurrent use.
type Session struct {
	handle       *core.ModelHandle
	orchestrator *generate.Orchestrator
	persister    *audio.Persister
	mirror       ArtifactMirror
	reclaimer    *reclaim.Reclaimer
	closed       bool
	teardown     reclaim.Report
}

// New resolves the device, loads the model and returns a ready session. A load
// failure is returned as the initializer's *core.InitializationError.
func New(ctx context.Context, deps Deps, preference core.Device) (*Session, error) {
	if deps.Runtime == nil {
		return nil, ErrRuntimeMissing
	}

	sink := deps.Sink
	if sink == nil {
		sink = core.NopSink{}
	}

	probe := deps.Probe
	if probe == nil {
		probe = deps.Runtime
	}

	bitDepth := deps.BitDepth
	if bitDepth == 0 {
		bitDepth = audio.BitDepth16
	}

	persister, err := audio.NewPersister(bitDepth, sink)
	if err != nil {
		return nil, err
	}

	resolver := device.NewResolver(probe, sink)

	handle, err := model.NewInitializer(deps.Runtime, resolver, sink).Initialize(ctx, preference)
	if err != nil {
		return nil, err
	}

	return &Session{
		handle:       handle,
		orchestrator: generate.NewOrchestrator(deps.Preparer, deps.Params, sink),
		persister:    persister,
		mirror:       deps.Mirror,
		reclaimer:    reclaim.NewReclaimer(deps.Runtime, deps.HostCollector, sink),
		closed:       false,
		teardown:     reclaim.Report{},
	}, nil
}

// Handle returns the session's model handle.
func (s *Session) Handle() *core.ModelHandle {
	return s.handle
}

// Process runs one request: generate, persist, mirror, reclaim. Reclamation runs
// whatever happened before it.
func (s *Session) Process(ctx context.Context, req core.GenerationRequest) Result {
	startedAt := time.Now()
	result := Result{Request: req}

	buffer, err := s.orchestrator.Generate(ctx, s.handle, req)
	if err != nil {
		result.Err = err
	} else {
		result.Audio = buffer.Duration()
		result.Err = s.persister.Persist(buffer, s.handle.SampleRate(), req.OutputPath)
		result.Persisted = result.Err == nil
	}

	if result.Persisted && s.mirror != nil {
		result.MirrorKey, result.MirrorErr = s.mirror.Mirror(ctx, req.OutputPath)
	}

	result.Reclaim = s.reclaimer.Reclaim(ctx, s.handle, buffer)
	result.Duration = time.Since(startedAt)

	return result
}

// Run processes requests in order. Only a fatal error, or cancellation of ctx,
// stops it before the end.
func (s *Session) Run(ctx context.Context, requests []core.GenerationRequest) Summary {
	summary := Summary{Results: make([]Result, 0, len(requests))}

	for _, req := range requests {
		err := ctx.Err()
		if err != nil {
			summary.Err = err

			break
		}

		result := s.Process(ctx, req)
		summary.Results = append(summary.Results, result)

		if result.Err == nil {
			summary.Succeeded++

			continue
		}

		summary.Failed++

		if core.IsFatal(result.Err) {
			summary.Err = result.Err

			break
		}
	}

	return summary
}

// Close tears the model down. Only the first call does any work; later calls return
// the first report.
func (s *Session) Close(ctx context.Context) reclaim.Report {
	if s.closed {
		return s.teardown
	}

	s.closed = true
	s.teardown = s.reclaimer.Teardown(ctx, s.handle)

	return s.teardown
}
