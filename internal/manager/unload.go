package manager

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"orchestd/internal/runner"
)

// Unload drains runner name and unloads its model. New work is rejected
// with too_busy while draining; in-flight work gets up to DrainTimeout,
// after which runners implementing runner.Canceler are cancelled and the
// unload proceeds. An unload issued during a load takes effect once the
// load completes.
func (m *Manager) Unload(ctx context.Context, name string) error {
	inst, err := m.instance(name)
	if err != nil {
		return err
	}
	// Loads and switches hold inst.mu throughout; wait for them to settle.
	inst.mu.Lock()
	m.mu.Lock()
	if inst.state != StateLoaded {
		m.mu.Unlock()
		inst.mu.Unlock()
		return nil
	}
	inst.state = StateDraining
	modelID := inst.modelID
	m.mu.Unlock()
	inst.mu.Unlock()
	m.publish("unload_start", inst, modelID, nil)

	deadline := time.Now().Add(m.cfg.DrainTimeout)
	for {
		m.mu.Lock()
		leases, inflight := inst.leases, inst.inflight
		m.mu.Unlock()
		if leases == 0 && inflight == 0 {
			break
		}
		if time.Now().After(deadline) {
			m.publish("unload_timeout", inst, modelID, map[string]any{"leases": leases, "inflight": inflight})
			if c, ok := inst.r.(runner.Canceler); ok {
				c.Cancel()
			}
			break
		}
		select {
		case <-ctx.Done():
			m.setState(inst, StateLoaded)
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	m.memMu.Lock()
	defer m.memMu.Unlock()
	err = m.unloadLocked(ctx, inst, "unload_done")
	return err
}

// UnloadAll unloads every resident model and stops pending detached loads.
// Used on shutdown.
func (m *Manager) UnloadAll(ctx context.Context) error {
	m.mu.Lock()
	names := make([]string, 0, len(m.instances))
	for name, inst := range m.instances {
		if inst.state == StateLoaded {
			names = append(names, name)
		}
	}
	m.mu.Unlock()
	var errs []error
	for _, name := range names {
		if err := m.Unload(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close cancels in-progress detached loads and unloads everything.
func (m *Manager) Close(ctx context.Context) error {
	m.stopLife()
	return m.UnloadAll(ctx)
}

// Preload starts loading modelID into runner name in the background and
// returns an operation id that tags the published events.
func (m *Manager) Preload(name, modelID string) (string, error) {
	inst, err := m.instance(name)
	if err != nil {
		return "", err
	}
	op := uuid.NewString()
	m.publish("preload_start", inst, modelID, map[string]any{"op": op})
	go func() {
		err := m.EnsureLoaded(m.life, name, modelID, nil)
		fields := map[string]any{"op": op}
		if err != nil {
			fields["error"] = err.Error()
		}
		m.publish("preload_done", inst, modelID, fields)
	}()
	return op, nil
}
