package speech

import (
	"fmt"
	"time"

	"github.com/narvoxlabs/narvox-core/internal/config"
)

// NewBackend constructs the configured synthesis backend.
func NewBackend(cfg config.SpeechConfig) (Backend, error) {
	timeout := time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	switch cfg.Backend {
	case "mock":
		return NewMockBackend(), nil
	case "cloud":
		return NewCloudBackend(cfg.Cloud, timeout)
	case "local":
		return NewLocalBackend(cfg.Local, timeout), nil
	default:
		return nil, fmt.Errorf("unknown speech backend %q", cfg.Backend)
	}
}

// BaseRequest derives the per-call request template from config. Text is
// filled in by the pipeline for each attempt.
func BaseRequest(cfg config.SpeechConfig) SynthesisRequest {
	switch cfg.Backend {
	case "cloud":
		return SynthesisRequest{VoiceID: cfg.Cloud.VoiceID, Language: cfg.Cloud.Language}
	case "local":
		return SynthesisRequest{
			RefAudio:     cfg.Local.RefAudio,
			Temperature:  cfg.Local.Temperature,
			TopP:         cfg.Local.TopP,
			TopK:         cfg.Local.TopK,
			MaxNewTokens: cfg.Local.MaxNewTokens,
		}
	default:
		return SynthesisRequest{}
	}
}
