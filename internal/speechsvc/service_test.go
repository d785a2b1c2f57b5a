package speechsvc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/narvoxlabs/narvox-core/internal/audioprobe"
	"github.com/narvoxlabs/narvox-core/internal/config"
	"github.com/narvoxlabs/narvox-core/internal/history"
	"github.com/narvoxlabs/narvox-core/internal/pipeline"
	"github.com/narvoxlabs/narvox-core/internal/protocol"
	"github.com/narvoxlabs/narvox-core/internal/speech"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gatedBackend is a local-shaped backend that counts every outbound call.
type gatedBackend struct {
	mu     sync.Mutex
	probes int
	synths int
	audio  []byte
}

func (g *gatedBackend) Name() string { return "local" }

func (g *gatedBackend) CheckHealth(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probes++
	return true
}

func (g *gatedBackend) Synthesize(context.Context, speech.SynthesisRequest) (speech.SynthesisResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synths++
	return speech.SynthesisResult{Audio: g.audio, MimeType: "audio/wav"}, nil
}

func (g *gatedBackend) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.probes, g.synths
}

type fixedLiveness bool

func (f fixedLiveness) Healthy() bool { return bool(f) }

func TestServeReady(t *testing.T) {
	ctx := context.Background()
	hist, err := history.Open(ctx, config.HistoryConfig{
		RetentionMode: "session",
		Path:          filepath.Join(t.TempDir(), "history.db"),
	}, testLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer hist.Close()

	svc := NewService(ctx, config.SpeechConfig{Backend: "mock"}, nil, speech.NewMockBackend(), hist, nil, testLogger())
	defer svc.cancel()

	req := protocol.SpeechRequest{RequestID: "req-1", Text: "Hello, narration."}
	snap, err := svc.Serve(ctx, req)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if snap.State != pipeline.StateReady {
		t.Fatalf("expected ready, got %s (err=%v)", snap.State, snap.Err)
	}
	if snap.Handle.IsZero() || snap.Duration <= 0 {
		t.Fatalf("expected handle and duration, got %+v", snap)
	}

	attempts, err := hist.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(attempts) != 1 || attempts[0].State != "ready" || attempts[0].RequestID != "req-1" {
		t.Fatalf("unexpected history rows: %+v", attempts)
	}
	if attempts[0].DurationSeconds <= 0 {
		t.Fatalf("expected recorded duration, got %+v", attempts[0])
	}
}

func TestServeRecordsFailure(t *testing.T) {
	ctx := context.Background()
	hist, err := history.Open(ctx, config.HistoryConfig{
		RetentionMode: "session",
		Path:          filepath.Join(t.TempDir(), "history.db"),
	}, testLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer hist.Close()

	backend := speech.NewLocalBackend(config.LocalBackendConfig{BaseURL: "http://127.0.0.1:1"}, 0)
	svc := NewService(ctx, config.SpeechConfig{Backend: "local"}, nil, backend, hist, nil, testLogger())
	defer svc.cancel()

	req := protocol.SpeechRequest{RequestID: "req-2", Text: "hi"}
	snap, err := svc.Serve(ctx, req)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if snap.State != pipeline.StateFailed {
		t.Fatalf("expected failed, got %s", snap.State)
	}

	attempts, err := hist.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(attempts) != 1 || attempts[0].State != "failed" || attempts[0].Error == "" {
		t.Fatalf("unexpected history rows: %+v", attempts)
	}
}

func TestServeAutoTriggerFailsFastWhenMonitorReportsDown(t *testing.T) {
	ctx := context.Background()
	backend := &gatedBackend{}
	svc := NewService(ctx, config.SpeechConfig{Backend: "local", AutoTrigger: true},
		nil, backend, nil, fixedLiveness(false), testLogger())
	defer svc.cancel()

	snap, err := svc.Serve(ctx, protocol.SpeechRequest{RequestID: "req-3", Text: "hi"})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if snap.State != pipeline.StateFailed {
		t.Fatalf("expected failed, got %s", snap.State)
	}
	if !errors.Is(snap.Err, speech.ErrServerUnavailable) {
		t.Fatalf("expected ErrServerUnavailable, got %v", snap.Err)
	}
	if probes, synths := backend.counts(); probes != 0 || synths != 0 {
		t.Fatalf("expected no backend calls when the monitor reports down, got probes=%d synths=%d", probes, synths)
	}
}

func TestServeAutoTriggerRunsWhenMonitorReportsUp(t *testing.T) {
	ctx := context.Background()
	audio, err := audioprobe.EncodeWAV(make([]int, 16000), 16000, 1)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	backend := &gatedBackend{audio: audio}
	svc := NewService(ctx, config.SpeechConfig{Backend: "local", AutoTrigger: true},
		nil, backend, nil, fixedLiveness(true), testLogger())
	defer svc.cancel()

	snap, err := svc.Serve(ctx, protocol.SpeechRequest{RequestID: "req-4", Text: "hi"})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if snap.State != pipeline.StateReady {
		t.Fatalf("expected ready, got %s (err=%v)", snap.State, snap.Err)
	}
	if _, synths := backend.counts(); synths != 1 {
		t.Fatalf("expected one synthesize call, got %d", synths)
	}
}

func TestServeExplicitTriggerIgnoresStaleMonitor(t *testing.T) {
	ctx := context.Background()
	audio, err := audioprobe.EncodeWAV(make([]int, 16000), 16000, 1)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	backend := &gatedBackend{audio: audio}
	svc := NewService(ctx, config.SpeechConfig{Backend: "local", AutoTrigger: false},
		nil, backend, nil, fixedLiveness(false), testLogger())
	defer svc.cancel()

	// With auto_trigger off the fresh gate probe decides, not the monitor.
	snap, err := svc.Serve(ctx, protocol.SpeechRequest{RequestID: "req-5", Text: "hi"})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if snap.State != pipeline.StateReady {
		t.Fatalf("expected ready, got %s (err=%v)", snap.State, snap.Err)
	}
	if probes, _ := backend.counts(); probes != 1 {
		t.Fatalf("expected one fresh liveness probe, got %d", probes)
	}
}
