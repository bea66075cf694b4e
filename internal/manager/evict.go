package manager

import (
	"context"

	"orchestd/internal/resource"
	"orchestd/pkg/types"
)

// available returns the memory a new load may use: device free memory
// minus the margin, further capped by the budget when one is set.
func (m *Manager) available(ctx context.Context) (uint64, error) {
	dev, err := m.mon.AvailableBytes(ctx)
	if err != nil {
		return 0, err
	}
	margin := resource.MB(m.cfg.MarginMB)
	avail := sub(dev, margin)
	if m.cfg.BudgetMB > 0 {
		m.mu.Lock()
		used := m.usedBytes
		m.mu.Unlock()
		avail = min(avail, sub(sub(resource.MB(m.cfg.BudgetMB), margin), used))
	}
	return avail, nil
}

func sub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// victimsLocked lists loaded instances other than self that could be
// evicted, least recently used first. Caller holds m.mu.
func (m *Manager) victimsLocked(self *instance) []*instance {
	var out []*instance
	for _, k := range m.lru.Keys() {
		v, ok := m.lru.Peek(k)
		if !ok {
			continue
		}
		inst := v.(*instance)
		if inst == self || inst.state != StateLoaded || inst.leases > 0 || inst.inflight > 0 {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// checkFeasible fails with a resource error when even evicting every idle
// instance would not free need bytes. It changes nothing.
func (m *Manager) checkFeasible(ctx context.Context, inst *instance, need uint64) error {
	avail, err := m.available(ctx)
	if err != nil {
		return types.Errorf(types.KindResource, err, "read available memory")
	}
	m.mu.Lock()
	reclaim := uint64(0)
	for _, v := range m.victimsLocked(inst) {
		reclaim += v.ramBytes
	}
	if inst.state == StateLoaded {
		// Switching models frees this instance's own share.
		reclaim += inst.ramBytes
	}
	m.mu.Unlock()
	if avail+reclaim < need {
		m.log.Warn().Str("runner", inst.name).Uint64("need", need).Uint64("available", avail).
			Uint64("reclaimable", reclaim).Msg("insufficient_memory")
		return types.Errorf(types.KindResource, nil,
			"model needs %d MB, %d MB available and %d MB reclaimable", resource.ToMB(need), resource.ToMB(avail), resource.ToMB(reclaim))
	}
	return nil
}

// makeRoom evicts idle instances in LRU order until need fits, re-reading
// available memory after each eviction. Caller holds memMu and inst.mu.
func (m *Manager) makeRoom(ctx context.Context, inst *instance, need uint64) error {
	tried := map[*instance]bool{}
	for {
		avail, err := m.available(ctx)
		if err != nil {
			return types.Errorf(types.KindResource, err, "read available memory")
		}
		if avail >= need {
			return nil
		}
		victim := m.lockVictim(inst, tried)
		if victim == nil {
			return types.Errorf(types.KindResource, nil,
				"model needs %d MB, %d MB available and nothing left to evict", resource.ToMB(need), resource.ToMB(avail))
		}
		tried[victim] = true
		err = m.unloadLocked(ctx, victim, "evict")
		victim.mu.Unlock()
		if err != nil {
			m.log.Warn().Err(err).Str("runner", victim.name).Msg("evict_failed")
			continue
		}
		m.evictions.Add(1)
		evictionsTotal.WithLabelValues(victim.name).Inc()
	}
}

// lockVictim returns the least recently used idle instance whose lifecycle
// lock could be taken without waiting, locked.
func (m *Manager) lockVictim(self *instance, skip map[*instance]bool) *instance {
	m.mu.Lock()
	cands := m.victimsLocked(self)
	m.mu.Unlock()
	for _, v := range cands {
		if skip[v] || !v.mu.TryLock() {
			continue
		}
		// Re-check under the victim's lock: a lease may have been taken.
		m.mu.Lock()
		idle := v.state == StateLoaded && v.leases == 0 && v.inflight == 0
		m.mu.Unlock()
		if idle {
			return v
		}
		v.mu.Unlock()
	}
	return nil
}

// unloadLocked unloads inst and releases its accounting. Caller holds
// inst.mu.
func (m *Manager) unloadLocked(ctx context.Context, inst *instance, reason string) error {
	m.mu.Lock()
	modelID := inst.modelID
	freed := inst.ramBytes
	m.mu.Unlock()

	err := inst.r.Unload(context.WithoutCancel(ctx))

	m.mu.Lock()
	inst.state = StateUnloaded
	inst.modelID = ""
	inst.ramBytes = 0
	m.usedBytes = sub(m.usedBytes, freed)
	accountedBytes.Set(float64(m.usedBytes))
	m.lru.Remove(inst.name)
	m.mu.Unlock()

	m.log.Info().Str("runner", inst.name).Str("model", modelID).Str("reason", reason).
		Uint64("freed_bytes", freed).Msg("unload")
	m.publish(reason, inst, modelID, map[string]any{"freed_bytes": freed})
	return err
}
