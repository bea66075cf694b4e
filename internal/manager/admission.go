package manager

import (
	"context"
	"sync"
	"time"
)

// Acquire ensures modelID is resident in runner name and admits one
// execution. The returned release func must be called exactly once when
// execution ends; later calls are no-ops.
//
// Each instance admits at most MaxQueueDepth leases. Unless the runner is
// registered as Concurrent, leaseholders then wait up to MaxWait for the
// single in-flight slot. Overflow and timeout return a too_busy error.
func (m *Manager) Acquire(ctx context.Context, name, modelID string, overrides map[string]any) (func(), error) {
	inst, err := m.ensure(ctx, name, modelID, overrides, true)
	if err != nil {
		return func() {}, err
	}
	if inst.desc.Concurrent {
		m.mu.Lock()
		inst.inflight++
		m.mu.Unlock()
		return m.releaser(inst, false), nil
	}

	if err := ctx.Err(); err != nil {
		m.releaseLease(inst)
		return func() {}, err
	}
	timer := time.NewTimer(m.cfg.MaxWait)
	defer timer.Stop()
	select {
	case inst.genCh <- struct{}{}:
		m.mu.Lock()
		inst.inflight++
		m.touchLocked(inst)
		m.mu.Unlock()
		return m.releaser(inst, true), nil
	case <-ctx.Done():
		m.releaseLease(inst)
		return func() {}, ctx.Err()
	case <-timer.C:
		m.releaseLease(inst)
		busyTotal.WithLabelValues(name, "wait_timeout").Inc()
		return func() {}, errBusy(name, "timed out waiting for execution slot")
	}
}

func (m *Manager) releaser(inst *instance, slot bool) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			inst.inflight--
			m.touchLocked(inst)
			m.mu.Unlock()
			if slot {
				<-inst.genCh
			}
			m.releaseLease(inst)
		})
	}
}

func (m *Manager) releaseLease(inst *instance) {
	m.mu.Lock()
	if inst.leases > 0 {
		inst.leases--
	}
	m.mu.Unlock()
}
