package manager

import (
	"context"
	"errors"
	"time"

	"orchestd/internal/modelrepo"
	"orchestd/pkg/types"
)

// EnsureLoaded makes modelID resident in runner name. An empty modelID
// falls back to the runner's default model; a runner without one is loaded
// with no model and no memory requirement.
//
// The load itself runs detached from ctx: a cancelled caller gets ctx.Err()
// while the load completes in the background.
func (m *Manager) EnsureLoaded(ctx context.Context, name, modelID string, overrides map[string]any) error {
	_, err := m.ensure(ctx, name, modelID, overrides, false)
	return err
}

// ensure resolves the instance, takes the fast path when possible and
// otherwise runs the load in the background. With lease set, a lease is
// taken under the instance lock once the model is resident.
func (m *Manager) ensure(ctx context.Context, name, modelID string, overrides map[string]any, lease bool) (*instance, error) {
	inst, err := m.instance(name)
	if err != nil {
		return nil, err
	}
	if modelID == "" {
		modelID = inst.desc.DefaultModel
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	draining := inst.state == StateDraining
	m.mu.Unlock()
	if draining {
		busyTotal.WithLabelValues(name, "draining").Inc()
		return nil, errBusy(name, "draining")
	}

	type outcome struct{ err error }
	done := make(chan outcome, 1)
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(m.life, cancel)
	go func() {
		defer cancel()
		defer stop()
		done <- outcome{m.ensureLocked(lctx, inst, modelID, overrides, lease)}
	}()
	select {
	case o := <-done:
		return inst, o.err
	case <-ctx.Done():
		if lease {
			// The caller is gone; give back a lease the background load
			// may still take.
			go func() {
				if o := <-done; o.err == nil {
					m.releaseLease(inst)
				}
			}()
		}
		return nil, ctx.Err()
	}
}

func (m *Manager) ensureLocked(ctx context.Context, inst *instance, modelID string, overrides map[string]any, lease bool) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	m.mu.Lock()
	if inst.state == StateDraining {
		m.mu.Unlock()
		return errBusy(inst.name, "draining")
	}
	if lease && inst.leases >= m.cfg.MaxQueueDepth {
		m.mu.Unlock()
		busyTotal.WithLabelValues(inst.name, "queue_full").Inc()
		return errBusy(inst.name, "queue full")
	}
	if inst.state == StateLoaded && inst.modelID == modelID && inst.r.IsLoaded() {
		m.touchLocked(inst)
		if lease {
			inst.leases++
		}
		m.mu.Unlock()
		return nil
	}
	switching := inst.state == StateLoaded && inst.modelID != modelID
	if switching && inst.leases > 0 {
		m.mu.Unlock()
		busyTotal.WithLabelValues(inst.name, "switch_in_use").Inc()
		return errBusy(inst.name, "loaded with "+inst.modelID+" and in use")
	}
	m.mu.Unlock()

	log := m.log.With().Str("runner", inst.name).Str("model", modelID).Logger()
	log.Debug().Bool("switching", switching).Msg("ensure_start")
	m.publish("ensure_start", inst, modelID, nil)

	var desc modelrepo.ModelDescriptor
	if modelID != "" {
		var err error
		desc, err = m.repo.Describe(ctx, modelID)
		if err != nil {
			return m.fail(inst, modelID, types.Errorf(types.KindModelAcquisition, err, "resolve model %s", modelID))
		}
	}
	need := desc.RAMBytes

	// Decide feasibility before fetching anything.
	if need > 0 {
		if err := m.checkFeasible(ctx, inst, need); err != nil {
			return m.fail(inst, modelID, err)
		}
	}

	if modelID != "" {
		if err := m.acquireFiles(ctx, inst, desc); err != nil {
			return m.fail(inst, modelID, err)
		}
	}

	m.memMu.Lock()
	defer m.memMu.Unlock()

	if switching {
		if err := m.unloadLocked(ctx, inst, "switch"); err != nil {
			log.Warn().Err(err).Msg("switch_unload_failed")
		}
	}
	if need > 0 {
		if err := m.makeRoom(ctx, inst, need); err != nil {
			return m.fail(inst, modelID, err)
		}
	}

	m.setState(inst, StateLoading)
	m.publish("load_start", inst, modelID, map[string]any{"ram_bytes": need})
	start := time.Now()
	err := inst.r.Load(ctx, modelID, m.cfg.Settings(), overrides)
	loadDuration.WithLabelValues(inst.name).Observe(time.Since(start).Seconds())
	if err != nil {
		if uerr := inst.r.Unload(context.WithoutCancel(ctx)); uerr != nil {
			log.Warn().Err(uerr).Msg("unload_after_failed_load")
		}
		m.setState(inst, StateUnloaded)
		m.loadFailures.Add(1)
		loadsTotal.WithLabelValues(inst.name, "error").Inc()
		if errors.Is(err, context.Canceled) && m.life.Err() != nil {
			return m.fail(inst, modelID, err)
		}
		return m.fail(inst, modelID, types.Errorf(types.KindLoad, err, "load %s into %s", modelID, inst.name))
	}

	m.mu.Lock()
	inst.state = StateLoaded
	inst.modelID = modelID
	inst.ramBytes = need
	inst.lastErr = ""
	inst.lastUsed = time.Now()
	m.usedBytes += need
	accountedBytes.Set(float64(m.usedBytes))
	m.lru.Add(inst.name, inst)
	if lease {
		inst.leases++
	}
	m.mu.Unlock()

	m.loads.Add(1)
	loadsTotal.WithLabelValues(inst.name, "ok").Inc()
	log.Info().Dur("took", time.Since(start)).Uint64("ram_bytes", need).Msg("load_done")
	m.publish("load_done", inst, modelID, map[string]any{"ram_bytes": need, "took_ms": time.Since(start).Milliseconds()})
	return nil
}

// acquireFiles downloads missing model files. Progress is published, never
// waited on.
func (m *Manager) acquireFiles(ctx context.Context, inst *instance, d modelrepo.ModelDescriptor) error {
	ok, err := m.repo.IsAvailable(ctx, d)
	if err != nil {
		return types.Errorf(types.KindModelAcquisition, err, "check model %s", d.ID)
	}
	if ok {
		return nil
	}
	m.publish("download_start", inst, d.ID, nil)
	progress := func(p modelrepo.Progress) {
		m.log.Debug().Str("model", p.ModelID).Str("file", p.File).
			Int64("downloaded", p.Downloaded).Int64("total", p.Total).Msg("download_progress")
		m.publish("download_progress", inst, p.ModelID, map[string]any{"file": p.File, "downloaded": p.Downloaded, "total": p.Total})
	}
	if err := m.repo.Acquire(ctx, d, progress); err != nil {
		return types.Errorf(types.KindModelAcquisition, err, "acquire model %s", d.ID)
	}
	m.publish("download_done", inst, d.ID, nil)
	return nil
}

func (m *Manager) setState(inst *instance, s State) {
	m.mu.Lock()
	inst.state = s
	m.mu.Unlock()
}

func (m *Manager) fail(inst *instance, modelID string, err error) error {
	m.mu.Lock()
	inst.lastErr = err.Error()
	m.lastErr = err.Error()
	m.mu.Unlock()
	m.log.Warn().Err(err).Str("runner", inst.name).Str("model", modelID).Msg("ensure_failed")
	m.publish("ensure_failed", inst, modelID, map[string]any{"error": err.Error(), "kind": string(types.KindOf(err))})
	return err
}
