// Package component provides the lifecycle scaffolding shared by all
// long-running parts of the node: start under a signaler context, report
// readiness, close Done on shutdown.
package component

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/alpenlabs/alpenglow/module/irrecoverable"
)

// Component is a unit that can be started once and shut down by cancelling
// the context it was started with. Once Start has been called, Done must
// eventually close, whether through graceful shutdown or an irrecoverable
// error.
type Component interface {
	Start(ctx irrecoverable.SignalerContext)
	Ready() <-chan struct{}
	Done() <-chan struct{}
}

// Worker is one goroutine of a component. It must call ready() once its
// startup is complete and return when ctx is cancelled. Irrecoverable
// conditions are escalated with ctx.Throw.
type Worker func(ctx irrecoverable.SignalerContext, ready func())

// ComponentManager runs a fixed set of workers and aggregates their
// lifecycle into the Component interface.
type ComponentManager struct {
	workers []Worker
	started *atomic.Bool
	ready   chan struct{}
	done    chan struct{}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManagerBuilder accumulates workers for a ComponentManager.
type ComponentManagerBuilder struct {
	workers []Worker
}

func NewComponentManagerBuilder() *ComponentManagerBuilder {
	return &ComponentManagerBuilder{}
}

// AddWorker registers a worker to be run on Start.
func (b *ComponentManagerBuilder) AddWorker(w Worker) *ComponentManagerBuilder {
	b.workers = append(b.workers, w)
	return b
}

func (b *ComponentManagerBuilder) Build() *ComponentManager {
	return &ComponentManager{
		workers: b.workers,
		started: atomic.NewBool(false),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches all workers. Calling Start more than once panics: component
// lifecycles are single-shot.
func (c *ComponentManager) Start(ctx irrecoverable.SignalerContext) {
	if c.started.Swap(true) {
		panic("component may only be started once")
	}

	var readyOnce sync.WaitGroup
	var finished sync.WaitGroup
	readyOnce.Add(len(c.workers))
	finished.Add(len(c.workers))

	for _, worker := range c.workers {
		worker := worker
		var once sync.Once
		ready := func() {
			once.Do(readyOnce.Done)
		}
		go func() {
			defer finished.Done()
			defer ready() // a worker that returns without signaling counts as ready
			worker(ctx, ready)
		}()
	}

	go func() {
		readyOnce.Wait()
		close(c.ready)
	}()
	go func() {
		finished.Wait()
		close(c.done)
	}()
}

// Ready closes when all workers have signaled readiness.
func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

// Done closes when all workers have returned.
func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}
