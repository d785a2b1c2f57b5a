package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/narvoxlabs/narvox-core/internal/availability"
	"github.com/narvoxlabs/narvox-core/internal/bus"
	"github.com/narvoxlabs/narvox-core/internal/config"
	"github.com/narvoxlabs/narvox-core/internal/history"
	"github.com/narvoxlabs/narvox-core/internal/natsserver"
	"github.com/narvoxlabs/narvox-core/internal/pipeline"
	"github.com/narvoxlabs/narvox-core/internal/protocol"
	"github.com/narvoxlabs/narvox-core/internal/speech"
	"github.com/narvoxlabs/narvox-core/internal/speechsvc"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	monitor     *availability.Monitor
	service     *speechsvc.Service
	hist        *history.Store
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://localhost:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer hist.Close()
	r.hist = hist

	backend, err := speech.NewBackend(r.cfg.Speech)
	if err != nil {
		return fmt.Errorf("failed to build speech backend: %w", err)
	}

	r.monitor = availability.New(ctx, backend, busClient,
		time.Duration(r.cfg.Speech.ProbeIntervalMS)*time.Millisecond, r.logger)
	defer r.monitor.Close()

	r.service = speechsvc.NewService(ctx, r.cfg.Speech, busClient, backend, hist, r.monitor, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("failed to start speech service: %w", err)
	}
	defer r.service.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/narration", r.handleNarration)
	mux.HandleFunc("/v1/backend", r.handleBackend)
	mux.HandleFunc("/v1/history", r.handleHistory)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("backend", backend.Name()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type narrationResponse struct {
	RequestID       string  `json:"request_id"`
	State           string  `json:"state"`
	HandleURI       string  `json:"handle_uri,omitempty"`
	MimeType        string  `json:"mime_type,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func (r *Runtime) handleNarration(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var speechReq protocol.SpeechRequest
	if err := json.NewDecoder(req.Body).Decode(&speechReq); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if speechReq.Text == "" {
		http.Error(w, "text must not be empty", http.StatusBadRequest)
		return
	}
	if speechReq.RequestID == "" {
		speechReq.RequestID = uuid.NewString()
	}

	snap, err := r.service.Serve(req.Context(), speechReq)
	if err != nil {
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}

	resp := narrationResponse{RequestID: speechReq.RequestID, State: string(snap.State)}
	status := http.StatusOK
	switch snap.State {
	case pipeline.StateReady:
		resp.HandleURI = snap.Handle.URI
		resp.MimeType = snap.Handle.MimeType
		resp.DurationSeconds = snap.Duration.Seconds()
	case pipeline.StateFailed:
		resp.Error = snap.Err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (r *Runtime) handleBackend(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.monitor.Snapshot())
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	attempts, err := r.hist.ListRecent(req.Context(), 50)
	if err != nil {
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
