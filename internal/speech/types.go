package speech

import "context"

// SynthesisRequest carries the text and generation knobs for one synthesis
// call. Constructed fresh per call; backends never mutate it.
type SynthesisRequest struct {
	Text         string
	VoiceID      string
	Language     string
	RefAudio     string
	Temperature  float64
	TopP         float64
	TopK         int
	MaxNewTokens int
}

// SynthesisResult holds the raw audio bytes tagged with the negotiated
// mime type. Never mutated after creation.
type SynthesisResult struct {
	Audio    []byte
	MimeType string
}

// Backend is the contract shared by all synthesis backends. Synthesize
// issues exactly one outbound call and performs no retries. CheckHealth
// never fails: an unreachable server is a valid negative result.
type Backend interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error)
	CheckHealth(ctx context.Context) bool
	Name() string
}

// HealthReporter is implemented by backends whose liveness endpoint returns
// an informational body alongside the status code.
type HealthReporter interface {
	Health(ctx context.Context) (HealthInfo, error)
}

// HealthInfo mirrors the optional JSON body of a health probe.
type HealthInfo struct {
	Status        string `json:"status"`
	Model         string `json:"model"`
	Device        string `json:"device"`
	CUDAAvailable bool   `json:"cuda_available"`
}
