package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSweeper struct {
	mu      sync.Mutex
	results []int
	err     error
	calls   int
}

func (f *fakeSweeper) SweepExpired(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.results) == 0 {
		return 0, nil
	}
	n := f.results[0]
	f.results = f.results[1:]
	return n, nil
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func TestRunOnce_PublishesWhenFlowsChanged(t *testing.T) {
	sw := &fakeSweeper{results: []int{3}}
	pub := &fakePublisher{}
	job := NewFlowSweeper(zap.NewNop(), sw, pub, "evt.darkpool.flows.swept.v1", time.Second)

	job.runOnce(context.Background())

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "evt.darkpool.flows.swept.v1", pub.subjects[0])
	event, ok := pub.payloads[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, event["expired"])
}

func TestRunOnce_QuietWhenNothingChanged(t *testing.T) {
	pub := &fakePublisher{}
	job := NewFlowSweeper(zap.NewNop(), &fakeSweeper{}, pub, "subj", time.Second)

	job.runOnce(context.Background())
	assert.Empty(t, pub.subjects)
}

func TestRunOnce_SweepErrorSkipsPublish(t *testing.T) {
	pub := &fakePublisher{}
	job := NewFlowSweeper(zap.NewNop(), &fakeSweeper{err: errors.New("redis down")}, pub, "subj", time.Second)

	job.runOnce(context.Background())
	assert.Empty(t, pub.subjects)
}

func TestRunOnce_NilPublisherAndPublishError(t *testing.T) {
	job := NewFlowSweeper(zap.NewNop(), &fakeSweeper{results: []int{1}}, nil, "subj", time.Second)
	assert.NotPanics(t, func() { job.runOnce(context.Background()) })

	pub := &fakePublisher{err: errors.New("nats: timeout")}
	job = NewFlowSweeper(zap.NewNop(), &fakeSweeper{results: []int{1}}, pub, "subj", time.Second)
	assert.NotPanics(t, func() { job.runOnce(context.Background()) })
	assert.Len(t, pub.subjects, 1)
}

func TestStart_RunsUntilStopped(t *testing.T) {
	sw := &fakeSweeper{}
	job := NewFlowSweeper(zap.NewNop(), sw, nil, "subj", 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return sw.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	job.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := NewFlowSweeper(zap.NewNop(), &fakeSweeper{}, nil, "subj", time.Hour)

	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
