package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/voice-synth/internal/audio"
	"github.com/book-expert/voice-synth/internal/core"
)

// API endpoints and paths.
const (
	apiHealth           = "/health"
	apiDevice           = "/v1/device"
	apiModelLoad        = "/v1/model/load"
	apiModelDevice      = "/v1/model/device"
	apiModelUnload      = "/v1/model/unload"
	apiGenerateSpeech   = "/v1/generate/speech"
	apiMemoryCollect    = "/v1/memory/collect"
	apiMemoryEmptyCache = "/v1/memory/empty-cache"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "%w: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "%w (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "%w: %s, body: %s"
)

// HTTPRuntime is a client for a local model server.
type HTTPRuntime struct {
	httpClient *http.Client
	baseURL    string
}

// SpeechRequest is the JSON payload of a generation request.
type SpeechRequest struct {
	// Text is the input text to convert to speech.
	Text string `json:"text"`

	// SpeakerRefPath optionally names a reference recording for voice cloning. If
	// empty, the baseline voice is used.
	SpeakerRefPath string `json:"speaker_ref_path,omitempty"`

	Exaggeration float64 `json:"exaggeration"`
	CFGWeight    float64 `json:"cfg_weight"`
	Temperature  float64 `json:"temperature"`
}

// DeviceRequest selects a device for load and move requests.
type DeviceRequest struct {
	Device string `json:"device"`
}

// DeviceResponse reports the server's accelerator capability.
type DeviceResponse struct {
	Accelerator bool   `json:"accelerator"`
	Device      string `json:"device"`
}

// LoadResponse describes a loaded model.
type LoadResponse struct {
	Device     string  `json:"device"`
	SampleRate float64 `json:"sample_rate"`
}

// ErrorResponse is a structured error returned by the model server.
type ErrorResponse struct {
	// Detail contains a human-readable error description.
	Detail string `json:"detail"`

	// ErrorCode provides a machine-readable error classification.
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPRuntime creates a client for the server at baseURL (for example
// "http://localhost:8000"). A zero timeout means requests never time out.
func NewHTTPRuntime(baseURL string, timeout time.Duration) *HTTPRuntime {
	return &HTTPRuntime{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies that the model server is running.
func (c *HTTPRuntime) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, apiHealth, nil, "")
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}

	return drain(resp)
}

// AcceleratorAvailable implements core.CapabilityProbe.
func (c *HTTPRuntime) AcceleratorAvailable(ctx context.Context) (bool, error) {
	var device DeviceResponse

	err := c.callJSON(ctx, http.MethodGet, apiDevice, nil, &device)
	if err != nil {
		return false, err
	}

	return device.Accelerator, nil
}

// Load implements core.Runtime. The model records the device the server reports it
// was placed on.
func (c *HTTPRuntime) Load(ctx context.Context, device core.Device) (core.Model, error) {
	var loaded LoadResponse

	err := c.callJSON(ctx, http.MethodPost, apiModelLoad, DeviceRequest{Device: device.WireName()}, &loaded)
	if err != nil {
		return nil, err
	}

	model := &httpModel{client: c, sampleRate: loaded.SampleRate, device: device}

	placed, err := reportedDevice(loaded.Device, device)
	if err != nil {
		_ = model.Close()

		return nil, fmt.Errorf("%w: load response: %w", ErrServiceResponse, err)
	}

	model.device = placed

	return model, nil
}

// CollectGarbage implements core.Runtime.
func (c *HTTPRuntime) CollectGarbage(ctx context.Context) error {
	return c.callJSON(ctx, http.MethodPost, apiMemoryCollect, nil, nil)
}

// EmptyAcceleratorCache implements core.Runtime.
func (c *HTTPRuntime) EmptyAcceleratorCache(ctx context.Context) error {
	return c.callJSON(ctx, http.MethodPost, apiMemoryEmptyCache, nil, nil)
}

// Close releases idle connections.
func (c *HTTPRuntime) Close() error {
	c.httpClient.CloseIdleConnections()

	return nil
}

// GenerateSpeech sends a generation request and returns the WAV payload.
func (c *HTTPRuntime) GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, core.ErrTextEmpty
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, apiGenerateSpeech, body, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, ErrServiceResponse, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, core.ErrEmptyAudio
	}

	return audioData, nil
}

func (c *HTTPRuntime) callJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request for %s: %w", path, err)
		}

		body = encoded
	}

	resp, err := c.do(ctx, method, path, body, contentTypeJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrServiceResponse, path, err)
	}

	return nil
}

// do sends a request and returns the response when its status is 200. Otherwise the
// body is consumed into a structured error.
func (c *HTTPRuntime) do(ctx context.Context, method, path string, body []byte, accept string) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	if accept != "" {
		req.Header.Set(headerAccept, accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to model service at %s: %w", c.baseURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, parseErrorResponse(resp)
	}

	return resp, nil
}

func drain(resp *http.Response) error {
	defer resp.Body.Close()

	_, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			ErrServiceStatus, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, ErrServiceStatus, resp.Status, string(body))
}

type httpModel struct {
	client     *HTTPRuntime
	sampleRate float64
}

func (m *httpModel) SampleRate() float64 {
	return m.sampleRate
}

func (m *httpModel) LoadedDevice() core.Device {
	return m.device
}

func (m *httpModel) Generate(
	ctx context.Context,
	text, voicePrompt string,
	params core.GenerationParams,
) ([]float32, error) {
	payload, err := m.client.GenerateSpeech(ctx, SpeechRequest{
		Text:           text,
		SpeakerRefPath: voicePrompt,
		Exaggeration:   params.Exaggeration,
		CFGWeight:      params.CFGWeight,
		Temperature:    params.Temperature,
	})
	if err != nil {
		return nil, err
	}

	decoded, err := audio.DecodeWAV(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceResponse, err)
	}

	expected, err := audio.CoerceSampleRate(m.sampleRate)
	if err != nil {
		return nil, err
	}

	if decoded.SampleRate != expected {
		return nil, fmt.Errorf("%w: service returned %d Hz, model reports %d Hz",
			core.ErrSampleRateMismatch, decoded.SampleRate, expected)
	}

	return decoded.Samples, nil
}

func (m *httpModel) MoveTo(ctx context.Context, device core.Device) error {
	return m.client.callJSON(ctx, http.MethodPost, apiModelDevice, DeviceRequest{Device: device.WireName()}, nil)
}

func (m *httpModel) Close() error {
	return m.client.callJSON(context.Background(), http.MethodPost, apiModelUnload, nil, nil)
}
