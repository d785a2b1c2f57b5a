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

const mimeMPEG = "audio/mpeg"

// CloudBackend talks to a hosted streaming TTS API authenticated with a
// static bearer credential. The service has no dedicated liveness path, so
// CheckHealth falls back to the voice listing endpoint.
type CloudBackend struct {
	baseURL  string
	apiKey   string
	voiceID  string
	language string
	client   *http.Client
}

type cloudStreamRequest struct {
	Input    string `json:"input"`
	VoiceID  string `json:"voice_id,omitempty"`
	Language string `json:"language,omitempty"`
}

// Voice describes one entry of the voice catalog.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

// NewCloudBackend builds the cloud client. A zero timeout waits indefinitely,
// matching the transport defaults the original consumers relied on.
func NewCloudBackend(cfg config.CloudBackendConfig, timeout time.Duration) (*CloudBackend, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &CloudBackend{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		voiceID:  cfg.VoiceID,
		language: cfg.Language,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (b *CloudBackend) Name() string { return "cloud" }

// Synthesize issues one POST against the stream endpoint and returns the
// compressed audio body. No retries are attempted here.
func (b *CloudBackend) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	payload := cloudStreamRequest{
		Input:    req.Text,
		VoiceID:  b.voiceID,
		Language: b.language,
	}
	if req.VoiceID != "" {
		payload.VoiceID = req.VoiceID
	}
	if req.Language != "" {
		payload.Language = req.Language
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/audio/stream", bytes.NewReader(body))
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", mimeMPEG)

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
	return SynthesisResult{Audio: audio, MimeType: mimeMPEG}, nil
}

// CheckHealth probes the voice catalog. Any error is a negative result,
// never a failure.
func (b *CloudBackend) CheckHealth(ctx context.Context) bool {
	_, err := b.ListVoices(ctx)
	return err == nil
}

// ListVoices fetches the voice catalog. The endpoint is served either as a
// bare JSON array or wrapped in a voices object depending on API revision.
func (b *CloudBackend) ListVoices(ctx context.Context) ([]Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("build voices request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Backend: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return nil, &BackendError{Backend: b.Name(), Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Backend: b.Name(), Err: err}
	}

	var voices []Voice
	if err := json.Unmarshal(data, &voices); err == nil {
		return voices, nil
	}
	var wrapped struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode voices response: %w", err)
	}
	return wrapped.Voices, nil
}
