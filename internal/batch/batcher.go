// Package batch implements dynamic micro-batching in front of a generation
// model. Requests queue up, the batcher pulls them into batches bounded by
// size, delay, and GPU memory, and fans results back to the submitters.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/logger"
	"github.com/music-arena/music-arena/internal/system"
)

// State describes the model lifecycle inside the batcher.
type State int32

const (
	StateCold State = iota
	StateWarming
	StateReady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "COLD"
	case StateWarming:
		return "WARMING"
	case StateReady:
		return "READY"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

const defaultQueueCap = 64

// Config bounds the batches the batcher assembles.
type Config struct {
	// MaxBatchSize caps the number of prompts per model call.
	MaxBatchSize int
	// MaxDelay is how long the batcher waits for more requests after
	// dequeuing the first one.
	MaxDelay time.Duration
	// QueueCap caps queued requests; submits beyond it fail fast with busy.
	QueueCap int
	// GPUTotalGB and GPUMemGBPerItem, when both set, further cap the batch
	// at floor(GPUTotalGB / GPUMemGBPerItem), never below 1.
	GPUTotalGB      float64
	GPUMemGBPerItem float64
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize < 1 {
		c.MaxBatchSize = 1
	}
	if c.QueueCap < 1 {
		c.QueueCap = defaultQueueCap
	}
	return c
}

// Result carries one generated output (or its error) back to the submitter.
type Result struct {
	Output *system.Output
	Meta   arena.GenerateMetadata
	Err    error
}

type pending struct {
	ctx      context.Context
	prompt   *arena.DetailedPrompt
	seed     uint32
	resultCh chan Result
	enqueued time.Time
}

// deliver never blocks: resultCh is buffered and written exactly once.
func (p *pending) deliver(res Result) {
	select {
	case p.resultCh <- res:
	default:
	}
}

// Batcher owns a generation model and serializes all access to it through
// a single Run loop.
type Batcher struct {
	model  system.Model
	name   string
	cfg    Config
	queue  chan *pending
	warmCh chan struct{}
	state  atomic.Int32
	warm   atomic.Bool
}

// New creates a Batcher for the given model. Call Run to start serving.
func New(name string, model system.Model, cfg Config) *Batcher {
	cfg = cfg.withDefaults()
	return &Batcher{
		model:  model,
		name:   name,
		cfg:    cfg,
		queue:  make(chan *pending, cfg.QueueCap),
		warmCh: make(chan struct{}, 1),
	}
}

// State reports the current lifecycle state.
func (b *Batcher) State() State {
	return State(b.state.Load())
}

// ModelWarm reports whether the model is currently prepared.
func (b *Batcher) ModelWarm() bool {
	return b.warm.Load()
}

// EnsureWarm asks the run loop to prepare the model without submitting a
// request. Non-blocking; a signal already in flight is enough.
func (b *Batcher) EnsureWarm() {
	select {
	case b.warmCh <- struct{}{}:
	default:
	}
}

// Submit enqueues one prompt and blocks until its result is ready or ctx
// ends. A full queue fails fast with a busy error rather than blocking.
func (b *Batcher) Submit(ctx context.Context, prompt *arena.DetailedPrompt, seed uint32) Result {
	switch b.State() {
	case StateDraining, StateStopped:
		return Result{Err: arena.NewUnreachable("system server is shutting down")}
	}

	p := &pending{
		ctx:      ctx,
		prompt:   prompt,
		seed:     seed,
		resultCh: make(chan Result, 1),
		enqueued: time.Now(),
	}

	select {
	case b.queue <- p:
	default:
		return Result{Err: arena.NewBusy("generation queue is full")}
	}

	select {
	case res := <-p.resultCh:
		return res
	case <-ctx.Done():
		return Result{Err: submitErr(ctx.Err())}
	}
}

func submitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return arena.NewBatchTimeout("timed out waiting for a batch slot")
	}
	return err
}

// Run is the batcher's serving loop. It blocks until ctx is cancelled, then
// drains the queue, releases the model, and returns.
func (b *Batcher) Run(ctx context.Context) {
	logger.Info("Batcher started", logger.Fields{
		"system":         b.name,
		"max_batch_size": b.cfg.MaxBatchSize,
		"max_delay_ms":   b.cfg.MaxDelay.Milliseconds(),
		"queue_cap":      b.cfg.QueueCap,
	})

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return
		case <-b.warmCh:
			if err := b.ensurePrepared(ctx); err != nil {
				logger.Error("Model warm-up failed", err, logger.Fields{"system": b.name})
			}
		case first := <-b.queue:
			b.serve(ctx, first)
		}
	}
}

func (b *Batcher) serve(ctx context.Context, first *pending) {
	// Skip requests whose caller already gave up.
	for first.ctx.Err() != nil {
		first.deliver(Result{Err: submitErr(first.ctx.Err())})
		select {
		case first = <-b.queue:
		default:
			return
		}
	}

	// The delay window opens as soon as the first request is dequeued, so
	// time spent preparing the model counts against it.
	timer := time.NewTimer(b.cfg.MaxDelay)
	defer timer.Stop()

	wasWarm := b.warm.Load()
	if err := b.ensurePrepared(ctx); err != nil {
		first.deliver(Result{Err: arena.NewGenerateFailed(fmt.Sprintf("model prepare failed: %v", err))})
		return
	}

	batch := b.assemble(first, timer)
	b.process(ctx, batch, wasWarm)
}

// ensurePrepared transitions COLD -> WARMING -> READY, loading the model on
// first use. Failures return the batcher to COLD.
func (b *Batcher) ensurePrepared(ctx context.Context) error {
	if b.warm.Load() {
		return nil
	}

	b.setState(StateWarming)
	start := time.Now()
	if err := b.model.Prepare(ctx); err != nil {
		b.setState(StateCold)
		return err
	}
	b.warm.Store(true)
	b.setState(StateReady)

	logger.Info("Model prepared", logger.Fields{
		"system":      b.name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// assemble greedily pulls queued requests into a batch until the size limit
// is hit or the delay timer fires. Requests that were cancelled while queued
// are dropped here.
func (b *Batcher) assemble(first *pending, timer *time.Timer) []*pending {
	limit := b.batchLimit()
	batch := []*pending{first}
	timerFired := false

	for len(batch) < limit {
		// Prefer requests that are already waiting.
		select {
		case p := <-b.queue:
			if p.ctx.Err() != nil {
				p.deliver(Result{Err: submitErr(p.ctx.Err())})
				continue
			}
			batch = append(batch, p)
			continue
		default:
		}

		if timerFired {
			break
		}

		select {
		case p := <-b.queue:
			if p.ctx.Err() != nil {
				p.deliver(Result{Err: submitErr(p.ctx.Err())})
				continue
			}
			batch = append(batch, p)
		case <-timer.C:
			timerFired = true
		}
	}

	return batch
}

// batchLimit is the effective batch cap: MaxBatchSize further constrained by
// available GPU memory when configured.
func (b *Batcher) batchLimit() int {
	limit := b.cfg.MaxBatchSize
	if b.cfg.GPUTotalGB > 0 && b.cfg.GPUMemGBPerItem > 0 {
		memLimit := int(b.cfg.GPUTotalGB / b.cfg.GPUMemGBPerItem)
		if memLimit < 1 {
			memLimit = 1
		}
		if memLimit < limit {
			limit = memLimit
		}
	}
	return limit
}

type seedGroup struct {
	seed  uint32
	items []*pending
}

// process runs the batch through the model, one call per distinct seed, and
// delivers per-request results. A failed model call fails only the requests
// in its seed group.
func (b *Batcher) process(ctx context.Context, batch []*pending, wasWarm bool) {
	batchStart := time.Now()
	batchSize := len(batch)

	// Group by seed, preserving first-appearance order.
	var groups []*seedGroup
	index := make(map[uint32]*seedGroup, len(batch))
	for _, p := range batch {
		g, ok := index[p.seed]
		if !ok {
			g = &seedGroup{seed: p.seed}
			index[p.seed] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, p)
	}

	for _, g := range groups {
		prompts := make([]*arena.DetailedPrompt, len(g.items))
		for i, p := range g.items {
			prompts[i] = p.prompt
		}

		genStart := time.Now()
		outputs, err := b.model.GenerateBatch(ctx, prompts, g.seed)
		genMs := float64(time.Since(genStart).Microseconds()) / 1000.0

		if err != nil {
			logger.Error("Batch generation failed", err, logger.Fields{
				"system":     b.name,
				"batch_size": len(g.items),
			})
			for _, p := range g.items {
				p.deliver(Result{Err: arena.NewGenerateFailed(fmt.Sprintf("generation failed: %v", err))})
			}
			continue
		}
		if len(outputs) != len(g.items) {
			for _, p := range g.items {
				p.deliver(Result{Err: arena.NewGenerateFailed(fmt.Sprintf(
					"model returned %d outputs for %d prompts", len(outputs), len(g.items)))})
			}
			continue
		}

		for i, p := range g.items {
			if outputs[i] == nil {
				p.deliver(Result{Err: arena.NewGenerateFailed("model returned an empty output")})
				continue
			}
			meta := arena.GenerateMetadata{
				BatchSize:   batchSize,
				QueueWaitMs: float64(batchStart.Sub(p.enqueued).Microseconds()) / 1000.0,
				GenerateMs:  genMs,
				ModelWarm:   wasWarm,
			}
			p.deliver(Result{Output: outputs[i], Meta: meta})
		}
	}

	logger.LogGenerateRequest(ctx, b.name, time.Since(batchStart), batchSize, logger.Fields{
		"seed_groups": len(groups),
		"model_warm":  wasWarm,
	})
}

// shutdown fails everything still queued, releases the model, and parks the
// batcher in STOPPED.
func (b *Batcher) shutdown() {
	b.setState(StateDraining)
	for {
		select {
		case p := <-b.queue:
			p.deliver(Result{Err: arena.NewUnreachable("system server is shutting down")})
		default:
			if b.warm.Load() {
				// The run context is already cancelled; release with a
				// fresh one so cleanup can finish.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := b.model.Release(releaseCtx); err != nil {
					logger.Error("Model release failed", err, logger.Fields{"system": b.name})
				}
				cancel()
				b.warm.Store(false)
			}
			b.setState(StateStopped)
			logger.Info("Batcher stopped", logger.Fields{"system": b.name})
			return
		}
	}
}

func (b *Batcher) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev != s {
		logger.Info("Batcher state changed", logger.Fields{
			"system": b.name,
			"from":   prev.String(),
			"to":     s.String(),
		})
	}
}
