package component_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alpenlabs/alpenglow/module/component"
	"github.com/alpenlabs/alpenglow/module/irrecoverable"
)

func TestLifecycle(t *testing.T) {
	started := make(chan struct{})
	cm := component.NewComponentManagerBuilder().
		AddWorker(func(ctx irrecoverable.SignalerContext, ready func()) {
			close(started)
			ready()
			<-ctx.Done()
		}).
		Build()

	runCtx, cancel := context.WithCancel(context.Background())
	signalerCtx, _ := irrecoverable.WithSignaler(runCtx)
	cm.Start(signalerCtx)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker did not start")
	}
	select {
	case <-cm.Ready():
	case <-time.After(time.Second):
		t.Fatal("component did not become ready")
	}

	cancel()
	select {
	case <-cm.Done():
	case <-time.After(time.Second):
		t.Fatal("component did not shut down")
	}
}

func TestReadyWaitsForAllWorkers(t *testing.T) {
	release := make(chan struct{})
	cm := component.NewComponentManagerBuilder().
		AddWorker(func(ctx irrecoverable.SignalerContext, ready func()) {
			ready()
			<-ctx.Done()
		}).
		AddWorker(func(ctx irrecoverable.SignalerContext, ready func()) {
			<-release
			ready()
			<-ctx.Done()
		}).
		Build()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalerCtx, _ := irrecoverable.WithSignaler(runCtx)
	cm.Start(signalerCtx)

	select {
	case <-cm.Ready():
		t.Fatal("must not be ready while a worker is still starting")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-cm.Ready():
	case <-time.After(time.Second):
		t.Fatal("component did not become ready")
	}
}

func TestStartTwicePanics(t *testing.T) {
	cm := component.NewComponentManagerBuilder().Build()
	signalerCtx, _ := irrecoverable.WithSignaler(context.Background())
	cm.Start(signalerCtx)
	require.Panics(t, func() { cm.Start(signalerCtx) })
}

func TestThrowSurfacesError(t *testing.T) {
	expected := errors.New("boom")
	cm := component.NewComponentManagerBuilder().
		AddWorker(func(ctx irrecoverable.SignalerContext, ready func()) {
			ready()
			ctx.Throw(expected)
		}).
		Build()

	signalerCtx, errChan := irrecoverable.WithSignaler(context.Background())
	cm.Start(signalerCtx)

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, expected)
	case <-time.After(time.Second):
		t.Fatal("thrown error did not surface")
	}

	// the throwing worker terminated, so the component winds down
	select {
	case <-cm.Done():
	case <-time.After(time.Second):
		t.Fatal("component did not finish after throw")
	}
}

func TestThrowWithoutSignalerPanics(t *testing.T) {
	require.Panics(t, func() {
		irrecoverable.Throw(context.Background(), errors.New("boom"))
	})
}

func TestFirstErrorWins(t *testing.T) {
	first := errors.New("first")
	signaler, errChan := irrecoverable.NewSignaler()

	done := make(chan struct{})
	go func() {
		defer close(done)
		signaler.Throw(first)
	}()
	<-done

	done = make(chan struct{})
	go func() {
		defer close(done)
		signaler.Throw(errors.New("second"))
	}()
	<-done

	require.ErrorIs(t, <-errChan, first)
	select {
	case err := <-errChan:
		t.Fatalf("unexpected second error: %v", err)
	default:
	}
}
