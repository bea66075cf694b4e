package runner

import (
	"orchestd/internal/resource"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Selector picks the runner for a capability.
type Selector struct {
	reg    *Registry
	device func() resource.DeviceInfo
}

// NewSelector selects from reg using the hardware profile reported by mon.
func NewSelector(reg *Registry, mon resource.Monitor) *Selector {
	return &Selector{reg: reg, device: mon.Device}
}

// Select returns the runner for c. An explicit, still-registered,
// compatible selection in s wins; otherwise the highest-priority
// compatible runner, earliest registration breaking ties.
func (s *Selector) Select(c types.Capability, es settings.EngineSettings) (Descriptor, error) {
	device := s.device()
	if name := es.SelectedRunner(c); name != "" {
		if d, ok := s.reg.Descriptor(name); ok && d.Supports(c) && d.Hardware.SatisfiedBy(device) {
			return d, nil
		}
	}
	cands := s.compatible(c, device)
	if len(cands) == 0 {
		return Descriptor{}, types.Errorf(types.KindSelection, nil, "no runner available for capability %s", c)
	}
	best := cands[0]
	for _, d := range cands[1:] {
		if d.Priority > best.Priority {
			best = d
		}
	}
	return best, nil
}

// Candidates lists compatible runners for c, the would-be selection first
// and the rest in registration order.
func (s *Selector) Candidates(c types.Capability, es settings.EngineSettings) []Descriptor {
	cands := s.compatible(c, s.device())
	chosen, err := s.Select(c, es)
	if err != nil {
		return cands
	}
	out := []Descriptor{chosen}
	for _, d := range cands {
		if d.Name != chosen.Name {
			out = append(out, d)
		}
	}
	return out
}

// Selection returns the runner name Select would pick per capability;
// capabilities without a runner are omitted.
func (s *Selector) Selection(es settings.EngineSettings) map[types.Capability]string {
	out := map[types.Capability]string{}
	for _, c := range types.AllCapabilities {
		if d, err := s.Select(c, es); err == nil {
			out[c] = d.Name
		}
	}
	return out
}

// Device returns the hardware profile used for compatibility checks.
func (s *Selector) Device() resource.DeviceInfo { return s.device() }

func (s *Selector) compatible(c types.Capability, device resource.DeviceInfo) []Descriptor {
	var out []Descriptor
	for _, d := range s.reg.Descriptors() {
		if d.Supports(c) && d.Hardware.SatisfiedBy(device) {
			out = append(out, d)
		}
	}
	return out
}
