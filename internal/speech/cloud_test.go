package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/narvoxlabs/narvox-core/internal/config"
)

func cloudConfig(baseURL string) config.CloudBackendConfig {
	return config.CloudBackendConfig{
		BaseURL:  baseURL,
		APIKey:   "sk-test",
		VoiceID:  "narrator-1",
		Language: "en",
	}
}

func TestCloudSynthesize(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x04, 0x00}
	var got cloudStreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/audio/stream" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Accept") != "audio/mpeg" {
			t.Errorf("unexpected accept header: %q", r.Header.Get("Accept"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	t.Cleanup(srv.Close)

	backend, err := NewCloudBackend(cloudConfig(srv.URL), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := backend.Synthesize(context.Background(), SynthesisRequest{Text: "Hello, this is a test."})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !bytes.Equal(res.Audio, audio) {
		t.Fatalf("audio mismatch: got %v", res.Audio)
	}
	if res.MimeType != "audio/mpeg" {
		t.Fatalf("unexpected mime type: %q", res.MimeType)
	}
	if got.Input != "Hello, this is a test." {
		t.Fatalf("unexpected input field: %q", got.Input)
	}
	if got.VoiceID != "narrator-1" || got.Language != "en" {
		t.Fatalf("expected configured voice, got %+v", got)
	}
}

func TestCloudSynthesizeVoiceOverride(t *testing.T) {
	var got cloudStreamRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte{0x00})
	}))
	t.Cleanup(srv.Close)

	backend, err := NewCloudBackend(cloudConfig(srv.URL), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := backend.Synthesize(context.Background(), SynthesisRequest{Text: "hi", VoiceID: "other", Language: "de"}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if got.VoiceID != "other" || got.Language != "de" {
		t.Fatalf("expected request overrides, got %+v", got)
	}
}

func TestCloudSynthesizeBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	backend, err := NewCloudBackend(cloudConfig(srv.URL), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = backend.Synthesize(context.Background(), SynthesisRequest{Text: "hi"})
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if backendErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", backendErr.Status)
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("error message missing status or body: %q", err.Error())
	}
}

func TestCloudSynthesizeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	backend, err := NewCloudBackend(cloudConfig(srv.URL), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = backend.Synthesize(context.Background(), SynthesisRequest{Text: "hi"})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestCloudMissingAPIKey(t *testing.T) {
	cfg := cloudConfig("https://tts.example.com")
	cfg.APIKey = ""
	if _, err := NewCloudBackend(cfg, 0); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCloudListVoices(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bare array", `[{"id":"v1","name":"Ada"},{"id":"v2","name":"Ben"}]`},
		{"wrapped object", `{"voices":[{"id":"v1","name":"Ada"},{"id":"v2","name":"Ben"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/voices" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			backend, err := NewCloudBackend(cloudConfig(srv.URL), 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			voices, err := backend.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("list voices: %v", err)
			}
			if len(voices) != 2 || voices[0].ID != "v1" || voices[1].Name != "Ben" {
				t.Fatalf("unexpected voices: %+v", voices)
			}
		})
	}
}

func TestCloudCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	backend, err := NewCloudBackend(cloudConfig(srv.URL), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !backend.CheckHealth(context.Background()) {
		t.Fatal("expected healthy")
	}

	srv.Close()
	if backend.CheckHealth(context.Background()) {
		t.Fatal("expected unhealthy after server shutdown")
	}
}
