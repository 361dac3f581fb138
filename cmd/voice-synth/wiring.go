package main

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/config"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/book-expert/voice-synth/internal/engine"
	"github.com/book-expert/voice-synth/internal/events"
	"github.com/book-expert/voice-synth/internal/objectstore"
	"github.com/book-expert/voice-synth/internal/pipeline"
	"github.com/book-expert/voice-synth/internal/reclaim"
	"github.com/book-expert/voice-synth/internal/telemetry"
	"github.com/book-expert/voice-synth/internal/text"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsClientName = "voice-synth"

// app holds the collaborators of one run and the resources they own.
type app struct {
	deps      pipeline.Deps
	log       *logger.Logger
	runID     string
	runtime   core.Runtime
	natsConn  *nats.Conn
	providers *telemetry.Providers
}

// wire builds the runtime, the sinks and the optional mirror from cfg. On error every
// resource created so far is released.
func wire(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *app, err error) {
	application := &app{log: log, runID: uuid.NewString()}

	defer func() {
		if err != nil {
			application.close(context.WithoutCancel(ctx))
		}
	}()

	sinks := events.Multi{events.NewLogSink(log)}

	if cfg.Telemetry.Enabled {
		sinks, err = application.withTelemetry(cfg.Telemetry, sinks)
		if err != nil {
			return nil, err
		}
	}

	var mirror pipeline.ArtifactMirror

	if cfg.NATS.URL != "" {
		application.natsConn, err = nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}

		natsSink, sinkErr := events.NewNATSSink(application.natsConn, cfg.NATS.EventsSubject, application.runID, log)
		if sinkErr != nil {
			return nil, sinkErr
		}

		sinks = append(sinks, natsSink)

		if cfg.NATS.AudioObjectStoreBucket != "" {
			mirror, err = application.newMirror(ctx, cfg.NATS.AudioObjectStoreBucket, sinks)
			if err != nil {
				return nil, err
			}
		}
	}

	application.runtime, err = engine.New(cfg.Model, log)
	if err != nil {
		return nil, err
	}

	probe, err := engine.NewProbe(cfg.Model, application.runtime)
	if err != nil {
		return nil, err
	}

	var normalizer *text.Normalizer
	if cfg.Generation.NormalizeText {
		normalizer = text.NewNormalizer()
	}

	application.deps = pipeline.Deps{
		Runtime:       application.runtime,
		Probe:         probe,
		Preparer:      text.NewPreparer(normalizer, cfg.Generation.MaxTextChars),
		Params:        cfg.Params(),
		BitDepth:      cfg.Output.BitDepth,
		Mirror:        mirror,
		HostCollector: reclaim.GoCollector,
		Sink:          sinks,
	}

	log.Info("Run %s wired: %d event sink(s), mirror=%t", application.runID, len(sinks), mirror != nil)

	return application, nil
}

func (a *app) withTelemetry(cfg config.TelemetryConfig, sinks events.Multi) (events.Multi, error) {
	providers, err := telemetry.Setup(cfg, a.log)
	if err != nil {
		return nil, err
	}

	a.providers = providers

	metricsSink, err := events.NewMetricsSink(providers.Meter())
	if err != nil {
		return nil, err
	}

	return append(sinks, metricsSink, events.NewTraceSink(providers.Tracer())), nil
}

func (a *app) newMirror(ctx context.Context, bucket string, sink core.EventSink) (*objectstore.Mirror, error) {
	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(ctx, js, bucket)
	if err != nil {
		return nil, err
	}

	return objectstore.NewMirror(store, a.runID, sink), nil
}

// close releases the runtime, telemetry and NATS connection in that order.
func (a *app) close(ctx context.Context) {
	if a.runtime != nil {
		err := a.runtime.Close()
		if err != nil {
			a.log.Warn(logFmtRuntimeClose, err)
		}

		a.runtime = nil
	}

	if a.providers != nil {
		err := a.providers.Shutdown(ctx)
		if err != nil {
			a.log.Warn("Failed to shut down telemetry: %v", err)
		}

		a.providers = nil
	}

	if a.natsConn != nil {
		err := a.natsConn.Flush()
		if err != nil {
			a.log.Warn("Failed to flush NATS connection: %v", err)
		}

		a.natsConn.Close()

		a.natsConn = nil
	}
}
