// Package resource reports device memory and hardware features used for
// runner selection and model admission.
package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/procfs"

	"orchestd/internal/common/fsutil"
)

// DeviceInfo is the static hardware profile of the current device.
type DeviceInfo struct {
	HasNPU        bool
	HasGPU        bool
	TotalRAMBytes uint64
}

// Monitor reports currently available memory.
type Monitor interface {
	AvailableBytes(ctx context.Context) (uint64, error)
	Device() DeviceInfo
}

// Well-known accelerator device nodes.
var (
	npuNodes = []string{"/dev/accel/accel0", "/dev/apex_0", "/dev/rknpu", "/dev/vpu_service"}
	gpuNodes = []string{"/dev/nvidia0", "/dev/dri/renderD128", "/dev/kgsl-3d0", "/dev/mali0"}
)

// ProbeOptions overrides auto-detection. Nil fields are probed.
type ProbeOptions struct {
	NPU *bool
	GPU *bool
}

// ProcMonitor reads /proc/meminfo through procfs.
type ProcMonitor struct {
	fs procfs.FS

	once   sync.Once
	device DeviceInfo
	opts   ProbeOptions
}

// NewProcMonitor opens procfs at mountPoint ("" = /proc).
func NewProcMonitor(mountPoint string, opts ProbeOptions) (*ProcMonitor, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcMonitor{fs: fs, opts: opts}, nil
}

// AvailableBytes returns MemAvailable.
func (m *ProcMonitor) AvailableBytes(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	mi, err := m.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemAvailable != nil {
		return *mi.MemAvailable * 1024, nil
	}
	// Kernels before 3.14 lack MemAvailable.
	var free uint64
	for _, v := range []*uint64{mi.MemFree, mi.Buffers, mi.Cached} {
		if v != nil {
			free += *v
		}
	}
	return free * 1024, nil
}

// Device probes accelerators and total RAM once.
func (m *ProcMonitor) Device() DeviceInfo {
	m.once.Do(func() {
		d := DeviceInfo{
			HasNPU: probe(m.opts.NPU, npuNodes),
			HasGPU: probe(m.opts.GPU, gpuNodes),
		}
		if mi, err := m.fs.Meminfo(); err == nil && mi.MemTotal != nil {
			d.TotalRAMBytes = *mi.MemTotal * 1024
		}
		m.device = d
	})
	return m.device
}

func probe(override *bool, nodes []string) bool {
	if override != nil {
		return *override
	}
	_, ok := fsutil.FirstExisting(nodes...)
	return ok
}

// Static is a fixed or manually adjusted monitor for tests and for hosts
// without procfs.
type Static struct {
	mu        sync.Mutex
	available uint64
	device    DeviceInfo
}

// NewStatic returns a monitor reporting available bytes and device.
func NewStatic(available uint64, device DeviceInfo) *Static {
	return &Static{available: available, device: device}
}

func (s *Static) AvailableBytes(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available, nil
}

func (s *Static) Device() DeviceInfo { return s.device }

// Set replaces the available amount.
func (s *Static) Set(n uint64) {
	s.mu.Lock()
	s.available = n
	s.mu.Unlock()
}

// Add adjusts the available amount by delta, clamping at zero.
func (s *Static) Add(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delta < 0 && uint64(-delta) > s.available {
		s.available = 0
		return
	}
	s.available = uint64(int64(s.available) + delta)
}

// MB converts megabytes to bytes.
func MB(n int) uint64 {
	if n <= 0 {
		return 0
	}
	return uint64(n) << 20
}

// ToMB converts bytes to whole megabytes.
func ToMB(b uint64) int { return int(b >> 20) }
