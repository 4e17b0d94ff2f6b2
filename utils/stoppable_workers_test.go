package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"
	goutils "go.viam.com/utils"
)

func TestStoppableWorkersJoinOnStop(t *testing.T) {
	var ticks, exited atomic.Int32
	workers := NewStoppableWorkers(func(ctx context.Context) {
		defer exited.Add(1)
		for goutils.SelectContextOrWait(ctx, time.Millisecond) {
			ticks.Add(1)
		}
	})

	for ticks.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	workers.Stop()
	test.That(t, exited.Load(), test.ShouldEqual, 1)
	test.That(t, workers.Context().Err(), test.ShouldNotBeNil)

	// Idempotent, and no new workers start once stopped.
	workers.Stop()
	workers.AddWorkers(func(ctx context.Context) { exited.Add(1) })
	test.That(t, exited.Load(), test.ShouldEqual, 1)
}

func TestStoppableWorkersParentContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	workers := NewStoppableWorkersWithContext(parent, func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()
	<-done
	workers.Stop()
}

func TestStoppableWorkersSelfExit(t *testing.T) {
	workers := NewStoppableWorkers(func(ctx context.Context) {})
	// A worker that already returned must not make Stop hang.
	workers.Stop()
}
