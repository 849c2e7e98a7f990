package telemetry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hookguard/internal/mocks"
	"hookguard/internal/telemetry"
	"hookguard/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestQueue_DropsWhenFull(t *testing.T) {
	log := testutil.NewRecordingLogger()
	q := telemetry.NewQueue[int]("test", 2, log)

	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.False(t, q.Push(3), "third push must be dropped")

	stats := q.Stats()
	assert.Equal(t, int64(3), stats.Pushed)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, 1, log.Count("warn"))
	assert.Equal(t, []int{1, 2}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestPipeline_FlushWatermark(t *testing.T) {
	p := telemetry.NewPipeline(telemetry.Options{AttackQueueSize: 2, ObservationQueueSize: 4, ControlQueueSize: 2}, nil)
	require.Equal(t, 2, p.Watermark())

	now := time.Now()
	p.PushObservation(telemetry.Observation{Metric: "m", At: now, Key: "k", Value: 1})
	assert.Equal(t, 0, p.Control.Len(), "below watermark no flush signal")

	p.PushObservation(telemetry.Observation{Metric: "m", At: now, Key: "k", Value: 1})
	p.PushObservation(telemetry.Observation{Metric: "m", At: now, Key: "k", Value: 1})
	assert.Equal(t, 1, p.Control.Len(), "only one pending flush signal")

	sig := <-p.Control.C()
	assert.Equal(t, telemetry.SignalFlush, sig)
}

func TestAggregator_SumsByKey(t *testing.T) {
	agg := telemetry.NewAggregator()
	t0 := time.Unix(1000, 0)
	agg.Add(telemetry.Observation{Metric: "calls", At: t0, Key: "a", Value: 3})
	agg.Add(telemetry.Observation{Metric: "calls", At: t0.Add(time.Second), Key: "a", Value: 3})
	agg.Add(telemetry.Observation{Metric: "calls", At: t0, Key: "b", Value: 1})
	agg.Add(telemetry.Observation{Metric: "errors", At: t0, Key: "x", Value: 2})

	out := agg.Flush(t0.Add(2 * time.Second))
	require.Len(t, out, 2)
	assert.Equal(t, "calls", out[0].Name)
	assert.Equal(t, int64(6), out[0].Values["a"])
	assert.Equal(t, int64(1), out[0].Values["b"])
	assert.Equal(t, t0, out[0].Start)
	assert.Equal(t, "errors", out[1].Name)
	assert.Equal(t, 0, agg.Len())
}

func TestReporter_DeliversEverythingOnStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)

	var (
		mu      sync.Mutex
		attacks int
		values  = map[string]int64{}
	)
	sink.EXPECT().SendAttacks(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, batch []telemetry.AttackEvent) error {
			mu.Lock()
			defer mu.Unlock()
			attacks += len(batch)
			return nil
		}).AnyTimes()
	sink.EXPECT().SendMetrics(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, batches []telemetry.MetricBatch) error {
			mu.Lock()
			defer mu.Unlock()
			for _, b := range batches {
				for k, v := range b.Values {
					values[b.Name+"/"+k] += v
				}
			}
			return nil
		}).AnyTimes()

	p := telemetry.NewPipeline(telemetry.Options{AttackQueueSize: 10, ObservationQueueSize: 10, ControlQueueSize: 2}, nil)
	r := telemetry.NewReporter(p, sink, telemetry.ReporterOptions{BatchSize: 2, FlushInterval: time.Hour}, nil)

	for i := 0; i < 3; i++ {
		require.True(t, p.PushAttack(telemetry.AttackEvent{RuleName: "sqli"}))
	}
	p.PushObservation(telemetry.Observation{Metric: "sq.callbacks", At: time.Now(), Key: "pack:sqli:pre", Value: 3})
	p.PushObservation(telemetry.Observation{Metric: "sq.callbacks", At: time.Now(), Key: "pack:sqli:pre", Value: 3})

	r.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attacks)
	assert.Equal(t, int64(6), values["sq.callbacks/pack:sqli:pre"])
	assert.Equal(t, int64(3), r.Stats().SentAttacks)
}

func TestReporter_SinkFailureIsContained(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().SendAttacks(gomock.Any(), gomock.Any()).Return(errors.New("collector down")).Times(1)

	log := testutil.NewRecordingLogger()
	p := telemetry.NewPipeline(telemetry.Options{AttackQueueSize: 4, ObservationQueueSize: 4, ControlQueueSize: 1}, log)
	r := telemetry.NewReporter(p, sink, telemetry.ReporterOptions{BatchSize: 10, FlushInterval: time.Hour}, log)
	p.PushAttack(telemetry.AttackEvent{RuleName: "xss"})

	r.Start(context.Background())
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, int64(1), r.Stats().Failures)
	assert.Equal(t, int64(0), r.Stats().SentAttacks)
	assert.GreaterOrEqual(t, log.Count("error"), 1)
}

func TestReporter_StopWithoutStart(t *testing.T) {
	p := telemetry.NewPipeline(telemetry.Options{}, nil)
	r := telemetry.NewReporter(p, telemetry.NewLogSink(nil), telemetry.ReporterOptions{}, nil)
	assert.NoError(t, r.Stop(context.Background()))
}

type memorySink struct {
	mu      sync.Mutex
	attacks []telemetry.AttackEvent
	metrics []telemetry.MetricBatch
}

func (m *memorySink) SendAttacks(_ context.Context, a []telemetry.AttackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attacks = append(m.attacks, a...)
	return nil
}

func (m *memorySink) SendMetrics(_ context.Context, b []telemetry.MetricBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, b...)
	return nil
}

func TestMultiSink_FansOut(t *testing.T) {
	a, b := &memorySink{}, &memorySink{}
	multi := telemetry.MultiSink{a, b, telemetry.NewLogSink(nil)}

	require.NoError(t, multi.SendAttacks(context.Background(), []telemetry.AttackEvent{{RuleName: "r"}}))
	require.NoError(t, multi.SendMetrics(context.Background(), []telemetry.MetricBatch{{Name: "m"}}))

	assert.Len(t, a.attacks, 1)
	assert.Len(t, b.attacks, 1)
	assert.Len(t, a.metrics, 1)
	assert.Len(t, b.metrics, 1)
}
