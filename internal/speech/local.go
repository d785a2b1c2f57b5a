package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/narvoxlabs/narvox-core/internal/config"
)

const mimeWAV = "audio/wav"

// LocalBackend talks to a locally hosted model server (higgs-audio style).
// It exposes a real liveness path, so the pipeline gates generation on it.
type LocalBackend struct {
	baseURL  string
	defaults config.LocalBackendConfig
	client   *http.Client
}

type localGenerateRequest struct {
	Text         string  `json:"text"`
	RefAudio     string  `json:"ref_audio,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	TopP         float64 `json:"top_p,omitempty"`
	TopK         int     `json:"top_k,omitempty"`
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`
}

// NewLocalBackend builds the local client. A zero timeout waits
// indefinitely; model inference on CPU can take a while.
func NewLocalBackend(cfg config.LocalBackendConfig, timeout time.Duration) *LocalBackend {
	return &LocalBackend{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		defaults: cfg,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *LocalBackend) Name() string { return "local" }

// Synthesize issues one POST against the generate endpoint and returns the
// uncompressed audio body. No retries are attempted here.
func (b *LocalBackend) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	payload := localGenerateRequest{
		Text:         req.Text,
		RefAudio:     b.defaults.RefAudio,
		Temperature:  b.defaults.Temperature,
		TopP:         b.defaults.TopP,
		TopK:         b.defaults.TopK,
		MaxNewTokens: b.defaults.MaxNewTokens,
	}
	if req.RefAudio != "" {
		payload.RefAudio = req.RefAudio
	}
	if req.Temperature > 0 {
		payload.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		payload.TopP = req.TopP
	}
	if req.TopK > 0 {
		payload.TopK = req.TopK
	}
	if req.MaxNewTokens > 0 {
		payload.MaxNewTokens = req.MaxNewTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/audio/generate", bytes.NewReader(body))
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", mimeWAV)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return SynthesisResult{}, &TransportError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return SynthesisResult{}, &BackendError{Backend: b.Name(), Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return SynthesisResult{}, &TransportError{Backend: b.Name(), Err: err}
	}
	return SynthesisResult{Audio: audio, MimeType: mimeWAV}, nil
}

// CheckHealth probes the liveness path. Any 2xx means available; connection
// failure is a valid negative result, never an error.
func (b *LocalBackend) CheckHealth(ctx context.Context) bool {
	_, err := b.Health(ctx)
	return err == nil
}

// Health probes the liveness path and parses the informational body when
// present. The pipeline's own gating needs only the status code; the body
// feeds the availability monitor.
func (b *LocalBackend) Health(ctx context.Context) (HealthInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return HealthInfo{}, fmt.Errorf("build health request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return HealthInfo{}, &TransportError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HealthInfo{}, &BackendError{Backend: b.Name(), Status: resp.StatusCode}
	}

	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		// The status code alone decides liveness.
		return HealthInfo{Status: "ok"}, nil
	}
	return info, nil
}
