package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/mattn/go-shellwords"
)

// Worker protocol operations.
const (
	opProbe      = "probe"
	opLoad       = "load"
	opGenerate   = "generate"
	opMove       = "to"
	opUnload     = "unload"
	opCollect    = "gc"
	opEmptyCache = "empty_cache"
	opShutdown   = "shutdown"
)

const (
	bytesPerFloat32     = 4
	workerShutdownGrace = 5 * time.Second
)

// workerRequest is one line written to the worker's stdin.
type workerRequest struct {
	ID              uint64  `json:"id"`
	Op              string  `json:"op"`
	Device          string  `json:"device,omitempty"`
	Text            string  `json:"text,omitempty"`
	AudioPromptPath string  `json:"audio_prompt_path,omitempty"`
	Exaggeration    float64 `json:"exaggeration"`
	CFGWeight       float64 `json:"cfg_weight"`
	Temperature     float64 `json:"temperature"`
}

// workerResponse is one line read from the worker's stdout.
type workerResponse struct {
	ID          uint64  `json:"id"`
	OK          bool    `json:"ok"`
	Error       string  `json:"error,omitempty"`
	Device      string  `json:"device,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty"`
	Accelerator bool    `json:"accelerator,omitempty"`
	PCMBase64   string  `json:"pcm_base64,omitempty"`
}

// ExecRuntime drives a long-lived model worker process that speaks one JSON object per
// line over stdin and stdout. The worker is started on first use. Calls are serialized
// because the pipe is a single stream.
type ExecRuntime struct {
	args []string
	env  []string
	log  *logger.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader
	stderr   sync.WaitGroup
	requests uint64
	closed   bool
	// loaded is set while the worker holds a model; lost records that the worker
	// exited while it did.
	loaded bool
	lost   bool
}

// NewExecRuntime creates a runtime for the worker argv. env entries are appended to
// the current environment. A nil log discards worker stderr.
func NewExecRuntime(args, env []string, log *logger.Logger) (*ExecRuntime, error) {
	if len(args) == 0 {
		return nil, ErrCommandEmpty
	}

	return &ExecRuntime{
		args: append([]string{}, args...),
		env:  append([]string{}, env...),
		log:  log,
	}, nil
}

// NewExecRuntimeFromCommand parses command with shell quoting rules.
func NewExecRuntimeFromCommand(command string, env []string, log *logger.Logger) (*ExecRuntime, error) {
	parser := shellwords.NewParser()

	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse model command: %w", err)
	}

	return NewExecRuntime(args, env, log)
}

// AcceleratorAvailable implements core.CapabilityProbe.
func (r *ExecRuntime) AcceleratorAvailable(ctx context.Context) (bool, error) {
	resp, err := r.call(ctx, workerRequest{Op: opProbe})
	if err != nil {
		return false, err
	}

	return resp.Accelerator, nil
}

// Load implements core.Runtime. The model records the device the worker reports it
// was placed on.
func (r *ExecRuntime) Load(ctx context.Context, device core.Device) (core.Model, error) {
	resp, err := r.call(ctx, workerRequest{Op: opLoad, Device: device.WireName()})
	if err != nil {
		return nil, err
	}

	loaded := &execModel{runtime: r, sampleRate: resp.SampleRate, device: device}

	placed, err := reportedDevice(resp.Device, device)
	if err != nil {
		_ = loaded.Close()

		return nil, fmt.Errorf("%w: load response: %w", ErrWorkerProtocol, err)
	}

	loaded.device = placed

	return loaded, nil
}

// CollectGarbage implements core.Runtime.
func (r *ExecRuntime) CollectGarbage(ctx context.Context) error {
	_, err := r.call(ctx, workerRequest{Op: opCollect})

	return err
}

// EmptyAcceleratorCache implements core.Runtime.
func (r *ExecRuntime) EmptyAcceleratorCache(ctx context.Context) error {
	_, err := r.call(ctx, workerRequest{Op: opEmptyCache})

	return err
}

// Close asks the worker to shut down and waits for it, killing it after a grace
// period. Close is idempotent.
func (r *ExecRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	if r.cmd == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), workerShutdownGrace)
	defer cancel()

	_, err := r.exchangeLocked(ctx, workerRequest{Op: opShutdown})
	if err != nil && r.log != nil {
		r.log.Warn("Model worker did not acknowledge shutdown: %v", err)
	}

	return r.stopLocked()
}

func (r *ExecRuntime) call(ctx context.Context, req workerRequest) (*workerResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRuntimeClosed
	}

	if r.lost {
		resp, handled, err := r.afterLossLocked(req)
		if handled {
			return resp, err
		}
	}

	if r.cmd == nil {
		err := r.startLocked()
		if err != nil {
			return nil, err
		}
	}

	resp, err := r.exchangeLocked(ctx, req)
	if err != nil {
		return nil, err
	}

	switch req.Op {
	case opLoad:
		r.loaded = true
		r.lost = false
	case opUnload:
		r.loaded = false
	}

	return resp, nil
}

// afterLossLocked answers requests for a model the worker no longer holds without
// starting a new worker. Generation fails; moving, unloading and collecting have
// nothing left to act on. Other requests are not handled.
func (r *ExecRuntime) afterLossLocked(req workerRequest) (*workerResponse, bool, error) {
	done := &workerResponse{ID: req.ID, OK: true}

	switch req.Op {
	case opGenerate:
		return nil, true, fmt.Errorf("%w: %s", ErrModelLost, req.Op)
	case opMove:
		return done, true, nil
	case opUnload:
		r.lost = false

		return done, true, nil
	case opCollect, opEmptyCache:
		if r.cmd == nil {
			return done, true, nil
		}
	}

	return nil, false, nil
}

func (r *ExecRuntime) startLocked() error {
	// #nosec G204 -- the worker command comes from the operator's configuration
	cmd := exec.Command(r.args[0], r.args[1:]...)
	cmd.Env = append(os.Environ(), r.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("model worker stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("model worker stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("model worker stderr: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWorkerStart, err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.stdout = bufio.NewReader(stdout)

	r.stderr.Add(1)

	go r.forwardStderr(stderr)

	if r.log != nil {
		r.log.Info("Started model worker %s (pid %d)", r.args[0], cmd.Process.Pid)
	}

	return nil
}

func (r *ExecRuntime) forwardStderr(stderr io.Reader) {
	defer r.stderr.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if r.log != nil {
			r.log.Info("model worker: %s", scanner.Text())
		}
	}
}

type readResult struct {
	line []byte
	err  error
}

func (r *ExecRuntime) exchangeLocked(ctx context.Context, req workerRequest) (*workerResponse, error) {
	r.requests++
	req.ID = r.requests

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", req.Op, err)
	}

	_, err = r.stdin.Write(append(payload, '\n'))
	if err != nil {
		r.abandonLocked()

		return nil, fmt.Errorf("%w: write %s request: %w", ErrWorkerExited, req.Op, err)
	}

	results := make(chan readResult, 1)
	stdout := r.stdout

	go func() {
		line, readErr := readLine(stdout)
		results <- readResult{line: line, err: readErr}
	}()

	var result readResult

	select {
	case <-ctx.Done():
		r.abandonLocked()

		return nil, fmt.Errorf("%s request: %w", req.Op, ctx.Err())
	case result = <-results:
	}

	if result.err != nil {
		r.abandonLocked()

		return nil, fmt.Errorf("%w: read %s response: %w", ErrWorkerExited, req.Op, result.err)
	}

	var resp workerResponse

	err = json.Unmarshal(result.line, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %w", ErrWorkerProtocol, req.Op, err)
	}

	if resp.ID != req.ID {
		return nil, fmt.Errorf("%w: response id %d for request %d", ErrWorkerProtocol, resp.ID, req.ID)
	}

	if !resp.OK {
		return nil, fmt.Errorf("%w: %s: %s", ErrWorkerFailed, req.Op, resp.Error)
	}

	return &resp, nil
}

// readLine returns the next non-blank line.
func readLine(reader *bufio.Reader) ([]byte, error) {
	for {
		line, err := reader.ReadBytes('\n')

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			return trimmed, nil
		}

		if err != nil {
			return nil, err
		}
	}
}

// abandonLocked stops a worker that failed mid-request. A model it held is lost.
func (r *ExecRuntime) abandonLocked() {
	if r.loaded {
		r.lost = true
		r.loaded = false
	}

	_ = r.stopLocked()
}

// stopLocked closes the worker's stdin and waits for it to exit, killing it when it
// outlives the grace period. The next call starts a fresh worker.
func (r *ExecRuntime) stopLocked() error {
	if r.cmd == nil {
		return nil
	}

	cmd := r.cmd
	r.cmd = nil

	_ = r.stdin.Close()

	done := make(chan error, 1)

	go func() { done <- cmd.Wait() }()

	var err error

	select {
	case err = <-done:
	case <-time.After(workerShutdownGrace):
		_ = cmd.Process.Kill()
		err = <-done
	}

	r.stderr.Wait()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("wait for model worker: %w", err)
	}

	return nil
}

type execModel struct {
	runtime    *ExecRuntime
	sampleRate float64
	device     core.Device
}

func (m *execModel) SampleRate() float64 {
	return m.sampleRate
}

func (m *execModel) LoadedDevice() core.Device {
	return m.device
}

func (m *execModel) Generate(
	ctx context.Context,
	text, voicePrompt string,
	params core.GenerationParams,
) ([]float32, error) {
	resp, err := m.runtime.call(ctx, workerRequest{
		Op:              opGenerate,
		Text:            text,
		AudioPromptPath: voicePrompt,
		Exaggeration:    params.Exaggeration,
		CFGWeight:       params.CFGWeight,
		Temperature:     params.Temperature,
	})
	if err != nil {
		return nil, err
	}

	return decodePCM(resp.PCMBase64)
}

func (m *execModel) MoveTo(ctx context.Context, device core.Device) error {
	_, err := m.runtime.call(ctx, workerRequest{Op: opMove, Device: device.WireName()})

	return err
}

func (m *execModel) Close() error {
	_, err := m.runtime.call(context.Background(), workerRequest{Op: opUnload})

	return err
}

// decodePCM decodes base64 little-endian float32 samples.
func decodePCM(encoded string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode pcm: %w", ErrWorkerProtocol, err)
	}

	if len(raw)%bytesPerFloat32 != 0 {
		return nil, fmt.Errorf("%w: pcm payload of %d bytes is not float32 aligned", ErrWorkerProtocol, len(raw))
	}

	samples := make([]float32, len(raw)/bytesPerFloat32)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerFloat32:]))
	}

	return samples, nil
}

// EncodePCM is the inverse of the worker's PCM encoding. Worker implementations in Go
// and tests use it.
func EncodePCM(samples []float32) string {
	raw := make([]byte, len(samples)*bytesPerFloat32)
	for i, sample := range samples {
		binary.LittleEndian.PutUint32(raw[i*bytesPerFloat32:], math.Float32bits(sample))
	}

	return base64.StdEncoding.EncodeToString(raw)
}
