package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/virtadm/virtui/internal/hypervisor"
)

func TestWorker_ErrorDoesNotStopLaterItems(t *testing.T) {
	env := newTestEngine(t)

	bad := &fakePollable{uri: "test:///bad", err: errors.New("poll exploded")}
	good := &fakePollable{uri: "test:///good"}

	env.engine.SchedulePriorityTick(bad, hypervisor.PollParams{PollVMs: true})
	env.engine.SchedulePriorityTick(good, hypervisor.PollParams{PollVMs: true})

	waitFor(t, "both items to be polled", func() bool {
		return bad.pollCount() == 1 && good.pollCount() == 1
	})
	waitFor(t, "error relay", func() bool {
		err := env.store.Snapshot().LastError
		return err != nil
	})
	err := env.store.Snapshot().LastError
	assert.Contains(t, err.Error(), "Error polling connection 'test:///bad'")
	assert.Contains(t, err.Error(), "poll exploded")
}

// panicPollable blows up instead of returning an error.
type panicPollable struct{ uri string }

func (p *panicPollable) URI() string { return p.uri }
func (p *panicPollable) TickFromEngine(ctx context.Context, params hypervisor.PollParams) error {
	panic("driver went sideways")
}

func TestWorker_SurvivesPanic(t *testing.T) {
	env := newTestEngine(t)

	env.engine.SchedulePriorityTick(&panicPollable{uri: "test:///boom"}, hypervisor.PollParams{})

	waitFor(t, "panic to be relayed as error", func() bool {
		err := env.store.Snapshot().LastError
		return err != nil
	})
	assert.Contains(t, env.store.Snapshot().LastError.Error(), "driver went sideways")

	// The worker keeps draining.
	after := &fakePollable{uri: "test:///after"}
	env.engine.SchedulePriorityTick(after, hypervisor.PollParams{})
	waitFor(t, "later item to be polled", func() bool { return after.pollCount() == 1 })
}

func TestWorker_PollsInPriorityOrder(t *testing.T) {
	env := newTestEngine(t)

	// Block the worker on a first item so later enqueues pile up and
	// get reordered by priority.
	gate := make(chan struct{})
	blocker := &fakePollable{uri: "test:///gate", block: gate}
	env.engine.SchedulePriorityTick(blocker, hypervisor.PollParams{})

	var order []string
	var mu sync.Mutex
	record := func(uri string) *orderedPollable {
		return &orderedPollable{uri: uri, record: func() {
			mu.Lock()
			order = append(order, uri)
			mu.Unlock()
		}}
	}

	low := record("test:///low")
	high := record("test:///high")
	env.engine.queue.Enqueue(PriorityLow, low, hypervisor.PollParams{})
	env.engine.queue.Enqueue(PriorityHigh, high, hypervisor.PollParams{})

	close(gate)
	waitFor(t, "both records", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"test:///high", "test:///low"}, order)
}

type orderedPollable struct {
	uri    string
	record func()
}

func (p *orderedPollable) URI() string { return p.uri }
func (p *orderedPollable) TickFromEngine(ctx context.Context, params hypervisor.PollParams) error {
	p.record()
	return nil
}
