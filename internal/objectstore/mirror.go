package objectstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/book-expert/voice-synth/internal/core"
)

// Mirror copies persisted artifacts into an object store under <run-id>/<file name>.
type Mirror struct {
	store core.ObjectStore
	runID string
	sink  core.EventSink
}

// NewMirror creates a mirror. A nil sink discards events.
func NewMirror(store core.ObjectStore, runID string, sink core.EventSink) *Mirror {
	if sink == nil {
		sink = core.NopSink{}
	}

	return &Mirror{
		store: store,
		runID: runID,
		sink:  sink,
	}
}

// Key returns the object key an artifact path is mirrored to.
func (m *Mirror) Key(artifactPath string) string {
	return path.Join(m.runID, filepath.Base(artifactPath))
}

// Mirror uploads the artifact at artifactPath and returns its object key.
func (m *Mirror) Mirror(ctx context.Context, artifactPath string) (string, error) {
	startedAt := time.Now()
	key := m.Key(artifactPath)

	started := core.NewEvent(core.StageMirror, core.StatusStarted)
	started.Path = artifactPath
	m.sink.Emit(started)

	err := m.upload(ctx, artifactPath, key)

	finished := core.NewEvent(core.StageMirror, core.StatusSucceeded)
	finished.Path = artifactPath
	finished.StartedAt = startedAt

	if err != nil {
		finished.Status = core.StatusFailed
		finished.Err = err
		finished.Message = "artifact was not mirrored"
		m.sink.Emit(finished)

		return "", err
	}

	finished.Message = "mirrored to " + key
	m.sink.Emit(finished)

	return key, nil
}

func (m *Mirror) upload(ctx context.Context, artifactPath, key string) error {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", artifactPath, err)
	}

	err = m.store.Upload(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to mirror artifact %s: %w", artifactPath, err)
	}

	return nil
}
