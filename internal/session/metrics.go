package session

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/loqalabs/loqa-dictate/session"

type metrics struct {
	cycles   metric.Int64Counter
	duration metric.Float64Histogram
	bytes    metric.Int64Counter
	active   metric.Int64ObservableGauge
	reg      metric.Registration
}

func (c *Controller) initMetrics(provider metric.MeterProvider) error {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &metrics{}
	var err error
	m.cycles, err = meter.Int64Counter("dictation.cycles", metric.WithDescription("Completed transcription cycles by outcome"))
	if err != nil {
		return err
	}
	m.duration, err = meter.Float64Histogram("dictation.transcription.duration",
		metric.WithDescription("Engine call latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	m.bytes, err = meter.Int64Counter("dictation.capture.bytes",
		metric.WithDescription("Captured audio bytes"),
		metric.WithUnit("By"))
	if err != nil {
		return err
	}
	m.active, err = meter.Int64ObservableGauge("dictation.session.active", metric.WithDescription("1 while a session is not idle"))
	if err != nil {
		return err
	}
	m.reg, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		var value int64
		if c.State() != StateIdle {
			value = 1
		}
		obs.ObserveInt64(m.active, value)
		return nil
	}, m.active)
	if err != nil {
		return err
	}
	c.metrics = m
	return nil
}

func (m *metrics) cycle(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.cycles.Add(ctx, 1, attrs)
	if elapsed > 0 {
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}

func (m *metrics) captured(n int) {
	if m == nil || n == 0 {
		return
	}
	m.bytes.Add(context.Background(), int64(n))
}

// unregister detaches the session gauge callback from the meter.
func (m *metrics) unregister(log *slog.Logger) {
	if m == nil || m.reg == nil {
		return
	}
	if err := m.reg.Unregister(); err != nil {
		log.Warn("failed to unregister session gauge", slog.String("error", err.Error()))
	}
	m.reg = nil
}
