// Package speechsvc serves synthesis requests arriving on the bus: one
// pipeline instance per request, result published as ready or failed.
package speechsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narvoxlabs/narvox-core/internal/bus"
	"github.com/narvoxlabs/narvox-core/internal/config"
	"github.com/narvoxlabs/narvox-core/internal/history"
	"github.com/narvoxlabs/narvox-core/internal/pipeline"
	"github.com/narvoxlabs/narvox-core/internal/protocol"
	"github.com/narvoxlabs/narvox-core/internal/speech"
	"github.com/nats-io/nats.go"
)

// LivenessSource answers whether the backend passed its most recent probe.
// The availability monitor implements it.
type LivenessSource interface {
	Healthy() bool
}

type Service struct {
	cfg      config.SpeechConfig
	bus      *bus.Client
	backend  speech.Backend
	hist     *history.Store
	liveness LivenessSource
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewService(parent context.Context, cfg config.SpeechConfig, busClient *bus.Client, backend speech.Backend, hist *history.Store, liveness LivenessSource, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		backend:  backend,
		hist:     hist,
		liveness: liveness,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "speech-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeechRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeechRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speech request", slogError(err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Text == "" {
		s.publishFailed(req, "empty text")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		snap, err := s.Serve(s.ctx, req)
		if err != nil {
			s.logger.Warn("speech request cancelled", slogError(err))
			return
		}
		switch snap.State {
		case pipeline.StateReady:
			s.publishReady(req, snap)
		case pipeline.StateFailed:
			s.publishFailed(req, snap.Err.Error())
		}
	}()
}

// Serve drives one generation attempt to completion and records the
// outcome. The HTTP layer calls this directly with the request context.
//
// With auto_trigger enabled and a liveness source wired, the attempt starts
// through the initialization policy: the monitor's last probe gates it, so a
// backend already known to be down fails fast without a fresh network call.
func (s *Service) Serve(ctx context.Context, req protocol.SpeechRequest) (pipeline.Snapshot, error) {
	ctrl := pipeline.New(s.backend, s.requestTemplate(req), pipeline.Options{
		GateOnHealth:   s.backend.Name() == "local",
		AutoTrigger:    s.cfg.AutoTrigger,
		RequestTimeout: time.Duration(s.cfg.RequestTimeoutMS) * time.Millisecond,
	}, s.logger)
	defer ctrl.Close()

	ctrl.SetText(req.Text)
	if s.cfg.AutoTrigger && s.liveness != nil {
		ctrl.NoteLiveness(s.liveness.Healthy())
		ctrl.Initialize(ctx)
		if ctrl.Snapshot().State == pipeline.StateIdle {
			err := fmt.Errorf("%s %w", s.backend.Name(), speech.ErrServerUnavailable)
			s.record(req, "failed", 0, err.Error())
			return pipeline.Snapshot{State: pipeline.StateFailed, Text: req.Text, Err: err}, nil
		}
	} else {
		ctrl.Trigger(ctx)
	}

	snap, err := ctrl.Await(ctx)
	if err != nil {
		return snap, err
	}

	switch snap.State {
	case pipeline.StateReady:
		s.record(req, "ready", snap.Duration.Seconds(), "")
	case pipeline.StateFailed:
		s.record(req, "failed", 0, snap.Err.Error())
	}
	return snap, nil
}

func (s *Service) requestTemplate(req protocol.SpeechRequest) speech.SynthesisRequest {
	return speech.SynthesisRequest{
		VoiceID:      req.VoiceID,
		Language:     req.Language,
		RefAudio:     req.RefAudio,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		TopK:         req.TopK,
		MaxNewTokens: req.MaxNewTokens,
	}
}

func (s *Service) publishReady(req protocol.SpeechRequest, snap pipeline.Snapshot) {
	msg := protocol.SpeechReady{
		RequestID:       req.RequestID,
		Text:            req.Text,
		HandleURI:       snap.Handle.URI,
		MimeType:        snap.Handle.MimeType,
		DurationSeconds: snap.Duration.Seconds(),
		Timestamp:       time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal speech result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeechReady, data); err != nil {
		s.logger.Warn("failed to publish speech result", slogError(err))
	}
}

func (s *Service) publishFailed(req protocol.SpeechRequest, reason string) {
	msg := protocol.SpeechFailed{
		RequestID: req.RequestID,
		Text:      req.Text,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal speech failure", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeechFailed, data); err != nil {
		s.logger.Warn("failed to publish speech failure", slogError(err))
	}
}

func (s *Service) record(req protocol.SpeechRequest, state string, seconds float64, errText string) {
	if s.hist == nil {
		return
	}
	att := history.Attempt{
		RequestID:       req.RequestID,
		Backend:         s.backend.Name(),
		Text:            req.Text,
		State:           state,
		DurationSeconds: seconds,
		Error:           errText,
	}
	if err := s.hist.RecordAttempt(s.ctx, att); err != nil {
		s.logger.Warn("failed to record attempt", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
