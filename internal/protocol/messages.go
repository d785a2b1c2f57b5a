package protocol

import "time"

// SpeechRequest asks the runtime to synthesize narration text.
type SpeechRequest struct {
	RequestID    string    `json:"request_id"`
	Text         string    `json:"text"`
	VoiceID      string    `json:"voice_id,omitempty"`
	Language     string    `json:"language,omitempty"`
	RefAudio     string    `json:"ref_audio,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	TopP         float64   `json:"top_p,omitempty"`
	TopK         int       `json:"top_k,omitempty"`
	MaxNewTokens int       `json:"max_new_tokens,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SpeechReady publishes a playback handle plus its duration estimate.
type SpeechReady struct {
	RequestID       string    `json:"request_id"`
	Text            string    `json:"text"`
	HandleURI       string    `json:"handle_uri"`
	MimeType        string    `json:"mime_type"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// SpeechFailed reports a terminal failure for one attempt. Retry is the
// consumer's decision.
type SpeechFailed struct {
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// BackendStatus broadcasts the result of a liveness probe.
type BackendStatus struct {
	Backend       string    `json:"backend"`
	Healthy       bool      `json:"healthy"`
	Model         string    `json:"model,omitempty"`
	Device        string    `json:"device,omitempty"`
	CUDAAvailable bool      `json:"cuda_available,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

const (
	SubjectSpeechRequest = "speech.request"
	SubjectSpeechReady   = "speech.ready"
	SubjectSpeechFailed  = "speech.failed"
	SubjectBackendStatus = "speech.backend.status"
)
