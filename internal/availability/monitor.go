// Package availability periodically probes the configured synthesis backend
// and publishes the result on the bus and as an OpenTelemetry gauge.
package availability

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/narvoxlabs/narvox-core/internal/bus"
	"github.com/narvoxlabs/narvox-core/internal/protocol"
	"github.com/narvoxlabs/narvox-core/internal/speech"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status is the most recent probe outcome.
type Status struct {
	Backend   string            `json:"backend"`
	Healthy   bool              `json:"healthy"`
	Info      speech.HealthInfo `json:"info"`
	LastProbe time.Time         `json:"last_probe"`
}

// Monitor owns the probe loop for one backend instance.
type Monitor struct {
	backend  speech.Backend
	bus      *bus.Client
	log      *slog.Logger
	interval time.Duration

	mu     sync.RWMutex
	status Status

	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup

	meter   metric.Meter
	upGauge metric.Int64ObservableGauge
}

// New starts the monitor. The bus client may be nil when the runtime has no
// bus; probing and metrics still run.
func New(ctx context.Context, backend speech.Backend, busClient *bus.Client, interval time.Duration, log *slog.Logger) *Monitor {
	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		backend:  backend,
		bus:      busClient,
		log:      log.With(slog.String("component", "availability-monitor")),
		interval: interval,
		status:   Status{Backend: backend.Name()},
		cancel:   cancel,
		meter:    otel.Meter("github.com/narvoxlabs/narvox-core/runtime"),
	}

	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	m.probe(ctx)

	m.ticker = time.NewTicker(interval)
	m.wg.Add(1)
	go m.run(ctx)

	return m
}

func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	healthy := m.backend.CheckHealth(probeCtx)
	var info speech.HealthInfo
	if healthy {
		if reporter, ok := m.backend.(speech.HealthReporter); ok {
			if h, err := reporter.Health(probeCtx); err == nil {
				info = h
			}
		}
	}

	m.mu.Lock()
	changed := m.status.Healthy != healthy || m.status.LastProbe.IsZero()
	m.status = Status{
		Backend:   m.backend.Name(),
		Healthy:   healthy,
		Info:      info,
		LastProbe: time.Now().UTC(),
	}
	m.mu.Unlock()

	if changed {
		m.log.Info("backend liveness changed",
			slog.String("backend", m.backend.Name()),
			slog.Bool("healthy", healthy))
		m.publish()
	}
}

func (m *Monitor) publish() {
	if m.bus == nil {
		return
	}
	status := m.Snapshot()
	msg := protocol.BackendStatus{
		Backend:       status.Backend,
		Healthy:       status.Healthy,
		Model:         status.Info.Model,
		Device:        status.Info.Device,
		CUDAAvailable: status.Info.CUDAAvailable,
		Timestamp:     status.LastProbe,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Warn("failed to marshal backend status", slog.String("error", err.Error()))
		return
	}
	if err := m.bus.Conn().Publish(protocol.SubjectBackendStatus, data); err != nil {
		m.log.Warn("failed to publish backend status", slog.String("error", err.Error()))
	}
}

// Healthy reports the most recent probe result.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Healthy
}

// Snapshot returns the full probe state.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) initMetrics() error {
	gauge, err := m.meter.Int64ObservableGauge("narvox.speech.backend_up",
		metric.WithDescription("Whether the synthesis backend responds to liveness probes"))
	if err != nil {
		return err
	}
	m.upGauge = gauge
	_, err = m.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		var up int64
		if m.Healthy() {
			up = 1
		}
		obs.ObserveInt64(gauge, up, metric.WithAttributes(attribute.String("backend", m.backend.Name())))
		return nil
	}, gauge)
	return err
}
