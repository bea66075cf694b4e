package manager

import (
	"context"
	"sort"
	"time"

	"orchestd/internal/resource"
	"orchestd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status(ctx context.Context) types.StatusResponse {
	avail, err := m.available(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := types.StatusResponse{
		BudgetMB:          m.cfg.BudgetMB,
		UsedMB:            resource.ToMB(m.usedBytes),
		MarginMB:          m.cfg.MarginMB,
		AvailableMB:       resource.ToMB(avail),
		LastError:         m.lastErr,
		UptimeSeconds:     int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix:    time.Now().Unix(),
		EvictionsTotal:    m.evictions.Load(),
		LoadsTotal:        m.loads.Load(),
		LoadFailuresTotal: m.loadFailures.Load(),
	}
	if err != nil && resp.LastError == "" {
		resp.LastError = err.Error()
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.instances))
	for _, inst := range m.instances {
		switch inst.state {
		case StateLoading:
			resp.LoadingCount++
		case StateDraining:
			resp.DrainingCount++
		}
		var last int64
		if !inst.lastUsed.IsZero() {
			last = inst.lastUsed.Unix()
		}
		resp.Instances = append(resp.Instances, types.InstanceStatus{
			Runner:        inst.name,
			ModelID:       inst.modelID,
			State:         string(inst.state),
			LastUsed:      last,
			RAMMB:         resource.ToMB(inst.ramBytes),
			Leases:        inst.leases,
			Inflight:      inst.inflight,
			MaxQueueDepth: m.cfg.MaxQueueDepth,
		})
	}
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].Runner < resp.Instances[j].Runner })
	return resp
}
