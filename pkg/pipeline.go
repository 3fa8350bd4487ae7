package calodigi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventSource hands out the simulated deposits of one event at a time and
// returns io.EOF when the run is over.
type EventSource interface {
	Next() (eventNumber int, deposits []RawDeposit, err error)
}

// EventSink receives reconstructed events in event order.
type EventSink interface {
	WriteEvent(event *ReconstructedEvent) error
}

// DigiSink receives the digitized hits of every written event, in event
// order and before the event itself reaches the EventSink.
type DigiSink interface {
	WriteDigis(eventNumber int, hits []DigitizedHit) error
}

// EventRandomSource returns the random stream of one event. Streams depend
// only on the run seed and the event number, so the output does not depend
// on the number of workers.
func EventRandomSource(runSeed uint64, eventNumber int) rand.Source {
	return rand.NewPCG(runSeed, uint64(eventNumber))
}

type PipelineOptions struct {
	NumWorkers int
	RunSeed    uint64
	// Discard skips events that fail instead of aborting the run
	Discard bool
	Metrics *Metrics
	// DigiSink, when set, also stores the digitized hits
	DigiSink DigiSink
}

type Pipeline struct {
	digitizer     *Digitizer
	reconstructor *Reconstructor
	numWorkers    int
	runSeed       uint64
	discard       bool
	metrics       *Metrics
	digiSink      DigiSink
}

type RunSummary struct {
	EventsRead      int
	EventsWritten   int
	EventsDiscarded int
	SaturatedHits   int
	TotalEnergyMeV  float64
	// Total reconstructed energy of every written event, in event order
	EventEnergies []float64
}

func NewPipeline(d *Digitizer, r *Reconstructor, opts PipelineOptions) (*Pipeline, error) {
	if d == nil {
		return nil, &ErrGeometryNotSelected{Stage: "digitizer"}
	}
	if r == nil {
		return nil, &ErrGeometryNotSelected{Stage: "reconstructor"}
	}
	if d.Profile() != r.Profile() {
		return nil, fmt.Errorf("digitizer geometry %s does not match reconstructor geometry %s",
			d.Profile().Version(), r.Profile().Version())
	}
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	return &Pipeline{
		digitizer:     d,
		reconstructor: r,
		numWorkers:    opts.NumWorkers,
		runSeed:       opts.RunSeed,
		discard:       opts.Discard,
		metrics:       opts.Metrics,
		digiSink:      opts.DigiSink,
	}, nil
}

// ProcessEvent digitizes and reconstructs one event.
func (p *Pipeline) ProcessEvent(eventNumber int, deposits []RawDeposit) (ReconstructedEvent, error) {
	event, _, err := p.processEvent(eventNumber, deposits)
	return event, err
}

func (p *Pipeline) processEvent(eventNumber int, deposits []RawDeposit) (ReconstructedEvent, []DigitizedHit, error) {
	start := time.Now()
	hits, err := p.digitizer.Digitize(deposits, EventRandomSource(p.runSeed, eventNumber))
	if err != nil {
		return ReconstructedEvent{}, nil, fmt.Errorf("event %d: digitization: %w", eventNumber, err)
	}
	event, err := p.reconstructor.Reconstruct(hits)
	if err != nil {
		return ReconstructedEvent{}, nil, fmt.Errorf("event %d: reconstruction: %w", eventNumber, err)
	}
	event.EventNumber = eventNumber

	if p.metrics != nil {
		p.metrics.Deposits.Add(float64(len(deposits)))
		p.metrics.observeHits(hits)
		p.metrics.EventEnergy.Observe(event.TotalEnergyMeV)
		p.metrics.EventDuration.Observe(time.Since(start).Seconds())
	}
	return event, hits, nil
}

type eventJob struct {
	seq         int
	eventNumber int
	deposits    []RawDeposit
}

type eventResult struct {
	seq   int
	event ReconstructedEvent
	hits  []DigitizedHit
	err   error
}

// Run processes every event of source on the worker pool and writes the
// results to sink. Cancelling ctx stops dispatching new events.
func (p *Pipeline) Run(ctx context.Context, source EventSource, sink EventSink) (RunSummary, error) {
	var summary RunSummary
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan eventJob, p.numWorkers)
	results := make(chan eventResult, p.numWorkers)

	g.Go(func() error {
		defer close(jobs)
		return p.dispatch(gctx, source, jobs, &summary)
	})

	var workers sync.WaitGroup
	for w := 1; w <= p.numWorkers; w++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return p.worker(gctx, w, jobs, results)
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	g.Go(func() error {
		return p.collect(results, sink, &summary)
	})

	err := g.Wait()
	if configuration.Verbosity > 0 {
		message := fmt.Sprintf("Events read %d, written %d, discarded %d",
			summary.EventsRead, summary.EventsWritten, summary.EventsDiscarded)
		logger.Info(message, "pipeline")
	}
	return summary, err
}

func (p *Pipeline) dispatch(ctx context.Context, source EventSource, jobs chan<- eventJob, summary *RunSummary) error {
	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		eventNumber, deposits, err := source.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading event: %w", err)
		}
		summary.EventsRead++
		if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("Dispatching event %d with %d deposits", eventNumber, len(deposits)), "pipeline")
		}
		select {
		case jobs <- eventJob{seq: seq, eventNumber: eventNumber, deposits: deposits}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) worker(ctx context.Context, id int, jobs <-chan eventJob, results chan<- eventResult) error {
	for job := range jobs {
		result := p.processJob(id, job)
		select {
		case results <- result:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) processJob(id int, job eventJob) (result eventResult) {
	result.seq = job.seq
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("worker %d recovered from panic on event %d: %v", id, job.eventNumber, r)
		}
	}()
	if configuration.Verbosity > 1 {
		logger.Info(fmt.Sprintf("Worker %d processing event %d", id, job.eventNumber), "pipeline")
	}
	result.event, result.hits, result.err = p.processEvent(job.eventNumber, job.deposits)
	if p.digiSink == nil {
		result.hits = nil
	}
	return result
}

// collect writes results in dispatch order, buffering the ones that finish early.
func (p *Pipeline) collect(results <-chan eventResult, sink EventSink, summary *RunSummary) error {
	pending := make(map[int]eventResult)
	next := 0
	for result := range results {
		pending[result.seq] = result
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if err := p.emit(r, sink, summary); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) emit(r eventResult, sink EventSink, summary *RunSummary) error {
	if r.err != nil {
		if !p.discard {
			return r.err
		}
		logger.Error(r.err.Error())
		summary.EventsDiscarded++
		if p.metrics != nil {
			p.metrics.EventsDiscarded.Inc()
		}
		return nil
	}
	if p.digiSink != nil {
		if err := p.digiSink.WriteDigis(r.event.EventNumber, r.hits); err != nil {
			return fmt.Errorf("error writing digis of event %d: %w", r.event.EventNumber, err)
		}
	}
	if err := sink.WriteEvent(&r.event); err != nil {
		return fmt.Errorf("error writing event %d: %w", r.event.EventNumber, err)
	}
	summary.EventsWritten++
	summary.TotalEnergyMeV += r.event.TotalEnergyMeV
	summary.SaturatedHits += r.event.SaturatedHits
	summary.EventEnergies = append(summary.EventEnergies, r.event.TotalEnergyMeV)
	if p.metrics != nil {
		p.metrics.EventsProcessed.Inc()
	}
	return nil
}

// SliceSource serves events held in memory. Event numbers are the slice indices.
type SliceSource struct {
	Events [][]RawDeposit
	next   int
}

func (s *SliceSource) Next() (int, []RawDeposit, error) {
	if s.next >= len(s.Events) {
		return 0, nil, io.EOF
	}
	n := s.next
	s.next++
	return n, s.Events[n], nil
}

// CollectSink keeps every event it receives. As a DigiSink it keeps the
// digitized hits of each event too.
type CollectSink struct {
	Events []ReconstructedEvent
	Digis  [][]DigitizedHit
}

func (c *CollectSink) WriteDigis(eventNumber int, hits []DigitizedHit) error {
	c.Digis = append(c.Digis, hits)
	return nil
}

func (c *CollectSink) WriteEvent(event *ReconstructedEvent) error {
	c.Events = append(c.Events, *event)
	return nil
}

// ErrSinkClosed is returned by sinks written after Close.
var ErrSinkClosed = errors.New("sink closed")
