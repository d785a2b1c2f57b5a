package speech

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/narvoxlabs/narvox-core/internal/audioprobe"
)

const mockSampleRate = 16000

// MockBackend synthesizes silence with a length proportional to the input
// text, for tests and deployments without a real backend.
type MockBackend struct {
	healthy bool
	delay   time.Duration
}

func NewMockBackend() *MockBackend {
	return &MockBackend{healthy: true, delay: 20 * time.Millisecond}
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	select {
	case <-ctx.Done():
		return SynthesisResult{}, ctx.Err()
	case <-time.After(m.delay):
	}
	if req.Text == "" {
		return SynthesisResult{}, fmt.Errorf("mock backend: empty text")
	}

	dur := mockDuration(req.Text)
	samples := make([]int, int(float64(mockSampleRate)*dur.Seconds()))
	data, err := audioprobe.EncodeWAV(samples, mockSampleRate, 1)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("mock backend: %w", err)
	}
	return SynthesisResult{Audio: data, MimeType: mimeWAV}, nil
}

func (m *MockBackend) CheckHealth(ctx context.Context) bool { return m.healthy }

// mockDuration approximates narration pace at 45ms per rune.
func mockDuration(text string) time.Duration {
	dur := 200*time.Millisecond + time.Duration(utf8.RuneCountInString(text))*45*time.Millisecond
	if dur > 10*time.Second {
		dur = 10 * time.Second
	}
	return dur
}
