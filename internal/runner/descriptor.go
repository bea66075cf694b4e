package runner

import (
	"fmt"
	"slices"
	"strings"

	"orchestd/internal/resource"
	"orchestd/pkg/types"
)

// Priority orders candidate runners; higher wins.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses "low", "normal" or "high".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal", "medium":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// Hardware lists what a runner needs from the device.
type Hardware struct {
	RequiresNPU bool
	RequiresGPU bool
	MinRAMBytes uint64
}

// SatisfiedBy reports whether d meets h. An unknown total RAM (0) does not
// disqualify.
func (h Hardware) SatisfiedBy(d resource.DeviceInfo) bool {
	if h.RequiresNPU && !d.HasNPU {
		return false
	}
	if h.RequiresGPU && !d.HasGPU {
		return false
	}
	if h.MinRAMBytes > 0 && d.TotalRAMBytes > 0 && d.TotalRAMBytes < h.MinRAMBytes {
		return false
	}
	return true
}

// Descriptor is the static description a runner is registered with.
type Descriptor struct {
	Name         string
	Vendor       string
	Capabilities []types.Capability
	Priority     Priority
	Hardware     Hardware
	DefaultModel string
	// Concurrent runners accept overlapping executions on one loaded model.
	Concurrent bool
}

// Supports reports whether c is among the descriptor's capabilities.
func (d Descriptor) Supports(c types.Capability) bool {
	return slices.Contains(d.Capabilities, c)
}

func (d Descriptor) clone() Descriptor {
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}

func (d Descriptor) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("runner descriptor: empty name")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("runner %s: no capabilities", d.Name)
	}
	for _, c := range d.Capabilities {
		if _, err := types.ParseCapability(string(c)); err != nil {
			return fmt.Errorf("runner %s: %w", d.Name, err)
		}
	}
	return nil
}

// Info converts d to its wire form.
func (d Descriptor) Info(device resource.DeviceInfo) types.RunnerInfo {
	caps := make([]string, len(d.Capabilities))
	for i, c := range d.Capabilities {
		caps[i] = string(c)
	}
	return types.RunnerInfo{
		Name:         d.Name,
		Vendor:       d.Vendor,
		Capabilities: caps,
		Priority:     d.Priority.String(),
		RequiresNPU:  d.Hardware.RequiresNPU,
		RequiresGPU:  d.Hardware.RequiresGPU,
		MinRAMMB:     resource.ToMB(d.Hardware.MinRAMBytes),
		DefaultModel: d.DefaultModel,
		Compatible:   d.Hardware.SatisfiedBy(device),
	}
}
