package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	errDrainRunsTimeout = errors.New("timeout waiting for in-flight runs to drain")
	errDrainWSTimeout   = errors.New("timeout waiting for websocket sessions to drain")
)

// DrainManager tracks draining state, in-flight reconciliation runs, and
// active websocket sessions.
type DrainManager struct {
	draining    atomic.Bool
	runsActive  atomic.Int64
	runsWG      sync.WaitGroup
	wsActive    atomic.Int64
	wsWG        sync.WaitGroup
}

func NewDrainManager() *DrainManager {
	return &DrainManager{}
}

func (m *DrainManager) StartDraining() {
	m.draining.Store(true)
}

func (m *DrainManager) IsDraining() bool {
	return m.draining.Load()
}

func (m *DrainManager) ActiveRuns() int64 {
	return m.runsActive.Load()
}

func (m *DrainManager) ActiveWebSockets() int64 {
	return m.wsActive.Load()
}

// TrackRun registers an in-flight run and returns a release callback.
func (m *DrainManager) TrackRun() func() {
	m.runsWG.Add(1)
	m.runsActive.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.runsActive.Add(-1)
			m.runsWG.Done()
		})
	}
}

// TrackWebSocket registers a websocket session and returns a release callback.
func (m *DrainManager) TrackWebSocket() func() {
	m.wsWG.Add(1)
	m.wsActive.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.wsActive.Add(-1)
			m.wsWG.Done()
		})
	}
}

func (m *DrainManager) WaitRuns(ctx context.Context) error {
	return waitGroup(ctx, &m.runsWG, errDrainRunsTimeout)
}

func (m *DrainManager) WaitWebSockets(ctx context.Context) error {
	return waitGroup(ctx, &m.wsWG, errDrainWSTimeout)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup, timeoutErr error) error {
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-ctx.Done():
		return timeoutErr
	case <-waitDone:
		return nil
	}
}
