package calodigi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testStages(t *testing.T) (*Digitizer, *Reconstructor) {
	t.Helper()
	s := NewRunSetup(builtinRegistry(t), DefaultNoiseParameters())
	require.NoError(t, s.SelectGeometry("v12"))
	d, r, err := s.Stages()
	require.NoError(t, err)
	return d, r
}

func testEvents(n int) [][]RawDeposit {
	events := make([][]RawDeposit, n)
	for i := range events {
		for j := 0; j <= i%5; j++ {
			events[i] = append(events[i], RawDeposit{
				ChannelID:  uint32(100*j + i),
				LayerIndex: (i + 7*j) % EcalLayers,
				EnergyMeV:  0.5 + float64(i%13) + 0.25*float64(j),
				TimeNs:     float64(j),
			})
		}
	}
	return events
}

func runPipeline(t *testing.T, d *Digitizer, r *Reconstructor, opts PipelineOptions, events [][]RawDeposit) (*CollectSink, RunSummary, error) {
	t.Helper()
	p, err := NewPipeline(d, r, opts)
	require.NoError(t, err)
	sink := &CollectSink{}
	summary, err := p.Run(context.Background(), &SliceSource{Events: events}, sink)
	return sink, summary, err
}

func TestPipelineOrderedOutput(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, r := testStages(t)

	sink, summary, err := runPipeline(t, d, r, PipelineOptions{NumWorkers: 4, RunSeed: 11}, testEvents(50))
	require.NoError(t, err)
	require.Len(t, sink.Events, 50)
	for i, event := range sink.Events {
		assert.Equal(t, i, event.EventNumber)
	}
	assert.Equal(t, 50, summary.EventsRead)
	assert.Equal(t, 50, summary.EventsWritten)
	assert.Len(t, summary.EventEnergies, 50)
}

func TestPipelineIndependentOfWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, r := testStages(t)
	events := testEvents(40)

	serial, serialSummary, err := runPipeline(t, d, r, PipelineOptions{NumWorkers: 1, RunSeed: 5}, events)
	require.NoError(t, err)
	parallel, parallelSummary, err := runPipeline(t, d, r, PipelineOptions{NumWorkers: 8, RunSeed: 5}, events)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(serial.Events, parallel.Events))
	assert.Equal(t, serialSummary, parallelSummary)

	other, _, err := runPipeline(t, d, r, PipelineOptions{NumWorkers: 1, RunSeed: 6}, events)
	require.NoError(t, err)
	assert.NotEmpty(t, cmp.Diff(serial.Events, other.Events))
}

func TestPipelineMatchesProcessEvent(t *testing.T) {
	d, r := testStages(t)
	p, err := NewPipeline(d, r, PipelineOptions{RunSeed: 3})
	require.NoError(t, err)

	events := testEvents(5)
	sink, _, err := runPipeline(t, d, r, PipelineOptions{NumWorkers: 3, RunSeed: 3}, events)
	require.NoError(t, err)
	for i, deposits := range events {
		event, err := p.ProcessEvent(i, deposits)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(event, sink.Events[i]))
	}
}

func badEvents() [][]RawDeposit {
	events := testEvents(10)
	events[4] = []RawDeposit{{ChannelID: 77, LayerIndex: EcalLayers + 1, EnergyMeV: 1}}
	return events
}

func TestPipelineDigiSink(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, r := testStages(t)
	events := testEvents(12)

	sink := &CollectSink{}
	p, err := NewPipeline(d, r, PipelineOptions{NumWorkers: 3, RunSeed: 9, DigiSink: sink})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), &SliceSource{Events: events}, sink)
	require.NoError(t, err)

	require.Len(t, sink.Digis, len(events))
	for i, deposits := range events {
		expected, err := d.Digitize(deposits, EventRandomSource(9, i))
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(expected, sink.Digis[i]))
		assert.Len(t, sink.Events[i].Hits, len(sink.Digis[i]))
	}

	// discarded events have no digis either
	sink = &CollectSink{}
	p, err = NewPipeline(d, r, PipelineOptions{NumWorkers: 3, Discard: true, DigiSink: sink})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), &SliceSource{Events: badEvents()}, sink)
	require.NoError(t, err)
	assert.Len(t, sink.Digis, 9)
	assert.Len(t, sink.Events, 9)
}

func TestPipelineDiscard(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, r := testStages(t)
	metrics := NewMetrics(prometheus.NewRegistry())

	sink, summary, err := runPipeline(t, d, r, PipelineOptions{NumWorkers: 3, Discard: true, Metrics: metrics}, badEvents())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.EventsRead)
	assert.Equal(t, 9, summary.EventsWritten)
	assert.Equal(t, 1, summary.EventsDiscarded)
	require.Len(t, sink.Events, 9)
	assert.Equal(t, 5, sink.Events[4].EventNumber)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsDiscarded))
	assert.Equal(t, 9.0, testutil.ToFloat64(metrics.EventsProcessed))
}

func TestPipelineAbort(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, r := testStages(t)

	sink, _, err := runPipeline(t, d, r, PipelineOptions{NumWorkers: 3}, badEvents())
	var outOfRange *ErrLayerIndexOutOfRange
	require.ErrorAs(t, err, &outOfRange)
	assert.Equal(t, uint32(77), outOfRange.ChannelID)
	assert.Contains(t, err.Error(), "event 4")
	assert.Len(t, sink.Events, 4)
}

func TestPipelineCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, r := testStages(t)
	p, err := NewPipeline(d, r, PipelineOptions{NumWorkers: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &CollectSink{}
	summary, err := p.Run(ctx, &SliceSource{Events: testEvents(20)}, sink)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, summary.EventsRead)
	assert.Empty(t, sink.Events)
}

type failingSink struct{ after int }

func (f *failingSink) WriteEvent(event *ReconstructedEvent) error {
	if event.EventNumber >= f.after {
		return ErrSinkClosed
	}
	return nil
}

func TestPipelineSinkError(t *testing.T) {
	defer goleak.VerifyNone(t)
	d, r := testStages(t)
	p, err := NewPipeline(d, r, PipelineOptions{NumWorkers: 2, Discard: true})
	require.NoError(t, err)

	summary, err := p.Run(context.Background(), &SliceSource{Events: testEvents(20)}, &failingSink{after: 3})
	assert.ErrorIs(t, err, ErrSinkClosed)
	assert.Equal(t, 3, summary.EventsWritten)
}

func TestNewPipelineMismatchedGeometry(t *testing.T) {
	d, _ := testStages(t)
	other := quietDigitizer(t, "v9")
	r, err := NewReconstructor(other.Profile(), other.Encoding())
	require.NoError(t, err)

	_, err = NewPipeline(d, r, PipelineOptions{})
	assert.Error(t, err)

	_, err = NewPipeline(nil, r, PipelineOptions{})
	var notSelected *ErrGeometryNotSelected
	assert.ErrorAs(t, err, &notSelected)
}

func TestMetrics(t *testing.T) {
	d, r := testStages(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	events := [][]RawDeposit{
		{{ChannelID: 1, LayerIndex: 0, EnergyMeV: 1}, {ChannelID: 2, LayerIndex: 0, EnergyMeV: 30}},
		{{ChannelID: 3, LayerIndex: 5, EnergyMeV: 2}, {ChannelID: 4, LayerIndex: 5, EnergyMeV: 100}},
	}
	_, summary, err := runPipeline(t, d, r, PipelineOptions{NumWorkers: 2, Metrics: metrics}, events)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SaturatedHits)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EventsProcessed))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.Deposits))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Hits.WithLabelValues("tot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SaturatedHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Hits.WithLabelValues("adc")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.EventEnergy))

	filename := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, WriteMetrics(filename, reg))
	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(content), "calodigi_events_processed_total 2")
	assert.Contains(t, string(content), `calodigi_hits_total{mode="tot"} 2`)
	assert.Contains(t, string(content), "calodigi_saturated_hits_total 1")
}
