package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoller_FirstTickImmediate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticked := make(chan struct{}, 1)
	p := NewPoller("test", time.Hour, func(context.Context) error {
		ticked <- struct{}{}
		return nil
	})
	go p.Run(ctx)

	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick did not run at startup")
	}
}

func TestPoller_TicksNeverOverlap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var running, maxRunning, count atomic.Int32
	p := NewPoller("test", 5*time.Millisecond, func(context.Context) error {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		count.Add(1)
		return errors.New("errors do not stop the poller")
	})

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(1), maxRunning.Load())
	assert.GreaterOrEqual(t, count.Load(), int32(2))
}

func TestPoller_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller("test", time.Hour, func(context.Context) error { return nil })

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Poller.Run did not stop after context cancellation")
	}
}

func TestPoller_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var count atomic.Int32
	NewPoller("test", time.Hour, func(context.Context) error {
		count.Add(1)
		return nil
	}).Run(ctx)
	assert.Zero(t, count.Load())
}

func TestPoller_DefaultInterval(t *testing.T) {
	p := NewPoller("test", 0, func(context.Context) error { return nil })
	assert.Equal(t, 5*time.Minute, p.Interval())
}
