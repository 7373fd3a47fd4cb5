package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/system"
)

// mockModel records every call so tests can assert on batch composition.
type mockModel struct {
	mu            sync.Mutex
	prepareErr    error
	failSeed      uint32
	failErr       error
	generateDelay time.Duration
	prepareCalls  int
	releaseCalls  int
	batches       [][]string
	seeds         []uint32
}

func (m *mockModel) PromptSupport(p *arena.DetailedPrompt) arena.PromptSupport {
	return arena.PromptSupported
}

func (m *mockModel) Prepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepareCalls++
	return m.prepareErr
}

func (m *mockModel) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	return nil
}

func (m *mockModel) GenerateBatch(ctx context.Context, prompts []*arena.DetailedPrompt, seed uint32) ([]*system.Output, error) {
	if m.generateDelay > 0 {
		time.Sleep(m.generateDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil && seed == m.failSeed {
		return nil, m.failErr
	}

	texts := make([]string, len(prompts))
	outputs := make([]*system.Output, len(prompts))
	for i, p := range prompts {
		texts[i] = p.OverallPrompt
		outputs[i] = &system.Output{Audio: []byte(p.OverallPrompt), Format: "wav", SampleRate: 44100}
	}
	m.batches = append(m.batches, texts)
	m.seeds = append(m.seeds, seed)
	return outputs, nil
}

func (m *mockModel) setPrepareErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepareErr = err
}

func (m *mockModel) callBatches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.batches))
	copy(out, m.batches)
	return out
}

func (m *mockModel) callSeeds() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint32, len(m.seeds))
	copy(out, m.seeds)
	return out
}

func (m *mockModel) counts() (prepares, releases int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepareCalls, m.releaseCalls
}

func testPrompt(text string) *arena.DetailedPrompt {
	return &arena.DetailedPrompt{OverallPrompt: text, Duration: 5, Instrumental: true}
}

// runBatcher starts the serving loop and shuts it down at test cleanup.
func runBatcher(t *testing.T, b *Batcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestBatcherSingleRequest(t *testing.T) {
	model := &mockModel{generateDelay: 5 * time.Millisecond}
	b := New("noise:quiet", model, Config{MaxBatchSize: 4, MaxDelay: 10 * time.Millisecond})
	runBatcher(t, b)

	res := b.Submit(context.Background(), testPrompt("lonely request"), 3)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Output)
	assert.Equal(t, []byte("lonely request"), res.Output.Audio)
	assert.Equal(t, 1, res.Meta.BatchSize)
	assert.False(t, res.Meta.ModelWarm)
	assert.GreaterOrEqual(t, res.Meta.QueueWaitMs, 0.0)
	assert.GreaterOrEqual(t, res.Meta.GenerateMs, 4.0)

	batches := model.callBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"lonely request"}, batches[0])
}

func TestBatcherGroupsConcurrentSubmits(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{MaxBatchSize: 4, MaxDelay: 20 * time.Millisecond})

	expected := make([]string, 4)
	results := make(chan Result, 4)
	for i := 0; i < 4; i++ {
		text := fmt.Sprintf("prompt %d", i)
		expected[i] = text
		go func() {
			results <- b.Submit(context.Background(), testPrompt(text), 7)
		}()
	}

	// Let everything queue up before the loop starts pulling.
	require.Eventually(t, func() bool { return len(b.queue) == 4 }, time.Second, time.Millisecond)
	runBatcher(t, b)

	for i := 0; i < 4; i++ {
		res := <-results
		require.NoError(t, res.Err)
		assert.Equal(t, 4, res.Meta.BatchSize)
		assert.False(t, res.Meta.ModelWarm)
	}

	batches := model.callBatches()
	require.Len(t, batches, 1)
	assert.ElementsMatch(t, expected, batches[0])
}

func TestBatcherGroupsBySeed(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{MaxBatchSize: 4, MaxDelay: 20 * time.Millisecond})

	results := make(chan Result, 4)
	submit := func(text string, seed uint32) {
		go func() {
			results <- b.Submit(context.Background(), testPrompt(text), seed)
		}()
	}
	submit("a1", 1)
	submit("a2", 1)
	submit("b1", 2)
	submit("b2", 2)

	require.Eventually(t, func() bool { return len(b.queue) == 4 }, time.Second, time.Millisecond)
	runBatcher(t, b)

	for i := 0; i < 4; i++ {
		res := <-results
		require.NoError(t, res.Err)
		// BatchSize reflects the whole assembled batch, not the seed group.
		assert.Equal(t, 4, res.Meta.BatchSize)
	}

	assert.ElementsMatch(t, []uint32{1, 2}, model.callSeeds())
	for _, call := range model.callBatches() {
		assert.Len(t, call, 2)
	}
}

func TestBatcherWarmTransitions(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{MaxBatchSize: 2, MaxDelay: 5 * time.Millisecond})
	runBatcher(t, b)

	assert.Equal(t, StateCold, b.State())

	first := b.Submit(context.Background(), testPrompt("first"), 1)
	require.NoError(t, first.Err)
	assert.False(t, first.Meta.ModelWarm)
	assert.True(t, b.ModelWarm())
	assert.Equal(t, StateReady, b.State())

	second := b.Submit(context.Background(), testPrompt("second"), 1)
	require.NoError(t, second.Err)
	assert.True(t, second.Meta.ModelWarm)

	prepares, _ := model.counts()
	assert.Equal(t, 1, prepares)
}

func TestBatcherEnsureWarm(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{MaxBatchSize: 1, MaxDelay: time.Millisecond})
	runBatcher(t, b)

	b.EnsureWarm()
	require.Eventually(t, func() bool { return b.State() == StateReady }, time.Second, time.Millisecond)
	assert.True(t, b.ModelWarm())

	res := b.Submit(context.Background(), testPrompt("already warm"), 1)
	require.NoError(t, res.Err)
	assert.True(t, res.Meta.ModelWarm)

	prepares, _ := model.counts()
	assert.Equal(t, 1, prepares)
}

func TestBatcherBusyWhenQueueFull(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{MaxBatchSize: 1, MaxDelay: time.Millisecond, QueueCap: 2})

	// Fill the queue with nobody draining it.
	for i := 0; i < 2; i++ {
		b.queue <- &pending{
			ctx:      context.Background(),
			prompt:   testPrompt("stuck"),
			resultCh: make(chan Result, 1),
			enqueued: time.Now(),
		}
	}

	res := b.Submit(context.Background(), testPrompt("overflow"), 1)
	require.Error(t, res.Err)
	assert.True(t, arena.IsCode(res.Err, arena.CodeBusy))
}

func TestBatcherSubmitDeadline(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{MaxBatchSize: 1, MaxDelay: time.Millisecond})

	// No run loop: the queued request can only end via its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := b.Submit(ctx, testPrompt("stuck"), 1)
	require.Error(t, res.Err)
	assert.True(t, arena.IsCode(res.Err, arena.CodeBatchTimeout))
}

func TestBatcherDropsCancelledRequests(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{MaxBatchSize: 4, MaxDelay: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := b.Submit(ctx, testPrompt("abandoned"), 1)
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, len(b.queue))

	runBatcher(t, b)

	live := b.Submit(context.Background(), testPrompt("live"), 1)
	require.NoError(t, live.Err)

	for _, call := range model.callBatches() {
		assert.NotContains(t, call, "abandoned")
	}
}

func TestBatcherPrepareFailure(t *testing.T) {
	model := &mockModel{prepareErr: errors.New("weights missing")}
	b := New("noise:quiet", model, Config{MaxBatchSize: 2, MaxDelay: time.Millisecond})
	runBatcher(t, b)

	res := b.Submit(context.Background(), testPrompt("cold"), 1)
	require.Error(t, res.Err)
	assert.True(t, arena.IsCode(res.Err, arena.CodeGenerateFailed))
	assert.False(t, b.ModelWarm())
	assert.Equal(t, StateCold, b.State())

	// The next request retries the prepare.
	model.setPrepareErr(nil)
	res = b.Submit(context.Background(), testPrompt("retry"), 1)
	require.NoError(t, res.Err)
	assert.Equal(t, StateReady, b.State())

	prepares, _ := model.counts()
	assert.Equal(t, 2, prepares)
}

func TestBatcherGenerateFailureIsolatedPerSeedGroup(t *testing.T) {
	model := &mockModel{failSeed: 1, failErr: errors.New("cuda out of memory")}
	b := New("noise:quiet", model, Config{MaxBatchSize: 4, MaxDelay: 20 * time.Millisecond})

	type tagged struct {
		seed uint32
		res  Result
	}
	results := make(chan tagged, 4)
	submit := func(text string, seed uint32) {
		go func() {
			results <- tagged{seed: seed, res: b.Submit(context.Background(), testPrompt(text), seed)}
		}()
	}
	submit("doomed 1", 1)
	submit("doomed 2", 1)
	submit("fine 1", 2)
	submit("fine 2", 2)

	require.Eventually(t, func() bool { return len(b.queue) == 4 }, time.Second, time.Millisecond)
	runBatcher(t, b)

	for i := 0; i < 4; i++ {
		got := <-results
		if got.seed == 1 {
			require.Error(t, got.res.Err)
			assert.True(t, arena.IsCode(got.res.Err, arena.CodeGenerateFailed))
		} else {
			require.NoError(t, got.res.Err)
			assert.Equal(t, 4, got.res.Meta.BatchSize)
		}
	}
}

func TestBatcherMemoryCap(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{
		MaxBatchSize:    8,
		MaxDelay:        20 * time.Millisecond,
		GPUTotalGB:      8,
		GPUMemGBPerItem: 3,
	})

	results := make(chan Result, 4)
	for i := 0; i < 4; i++ {
		text := fmt.Sprintf("prompt %d", i)
		go func() {
			results <- b.Submit(context.Background(), testPrompt(text), 9)
		}()
	}

	require.Eventually(t, func() bool { return len(b.queue) == 4 }, time.Second, time.Millisecond)
	runBatcher(t, b)

	for i := 0; i < 4; i++ {
		res := <-results
		require.NoError(t, res.Err)
		assert.Equal(t, 2, res.Meta.BatchSize)
	}

	batches := model.callBatches()
	require.Len(t, batches, 2)
	for _, call := range batches {
		assert.Len(t, call, 2)
	}
}

func TestBatcherShutdown(t *testing.T) {
	model := &mockModel{}
	b := New("noise:quiet", model, Config{MaxBatchSize: 1, MaxDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	res := b.Submit(context.Background(), testPrompt("warm me"), 1)
	require.NoError(t, res.Err)
	require.True(t, b.ModelWarm())

	cancel()
	<-done

	assert.Equal(t, StateStopped, b.State())
	assert.False(t, b.ModelWarm())
	_, releases := model.counts()
	assert.Equal(t, 1, releases)

	late := b.Submit(context.Background(), testPrompt("late"), 1)
	require.Error(t, late.Err)
	assert.True(t, arena.IsCode(late.Err, arena.CodeUnreachable))
}

func TestBatchLimit(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want int
	}{
		{"size only", Config{MaxBatchSize: 8}, 8},
		{"memory caps size", Config{MaxBatchSize: 8, GPUTotalGB: 8, GPUMemGBPerItem: 3}, 2},
		{"memory never below one", Config{MaxBatchSize: 8, GPUTotalGB: 1, GPUMemGBPerItem: 4}, 1},
		{"size caps memory", Config{MaxBatchSize: 2, GPUTotalGB: 80, GPUMemGBPerItem: 1}, 2},
		{"zero config defaults to one", Config{}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New("noise:quiet", &mockModel{}, tc.cfg)
			assert.Equal(t, tc.want, b.batchLimit())
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "COLD", StateCold.String())
	assert.Equal(t, "WARMING", StateWarming.String())
	assert.Equal(t, "READY", StateReady.String())
	assert.Equal(t, "DRAINING", StateDraining.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
