// Package runnertest provides instrumented runners for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"
	"time"

	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

// Base implements the lifecycle half of runner.Runner and records calls.
type Base struct {
	Caps        []types.Capability
	Unsupported bool
	Schema      []runner.ParameterDescriptor
	LoadErr     error
	LoadDelay   time.Duration
	// OnLoad and OnUnload run after a successful transition.
	OnLoad   func(modelID string)
	OnUnload func(modelID string)

	mu        sync.Mutex
	loaded    string
	loads     int
	unloads   int
	cancels   int
	lastLoad  settings.EngineSettings
	overrides map[string]any
}

func (b *Base) Load(ctx context.Context, modelID string, s settings.EngineSettings, overrides map[string]any) error {
	if b.LoadDelay > 0 {
		select {
		case <-time.After(b.LoadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	b.loads++
	if b.LoadErr != nil {
		b.mu.Unlock()
		return b.LoadErr
	}
	b.loaded = modelID
	b.lastLoad = s
	b.overrides = overrides
	b.mu.Unlock()
	if b.OnLoad != nil {
		b.OnLoad(modelID)
	}
	return nil
}

func (b *Base) Unload(context.Context) error {
	b.mu.Lock()
	prev := b.loaded
	b.loaded = ""
	b.unloads++
	b.mu.Unlock()
	if prev != "" && b.OnUnload != nil {
		b.OnUnload(prev)
	}
	return nil
}

func (b *Base) IsLoaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded != ""
}

func (b *Base) LoadedModel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

func (b *Base) Capabilities() []types.Capability { return b.Caps }
func (b *Base) IsSupported() bool                { return !b.Unsupported }

func (b *Base) ParameterSchema() []runner.ParameterDescriptor { return b.Schema }

func (b *Base) ValidateParameters(p map[string]any) runner.ValidationResult {
	return runner.ValidateAgainst(b.Schema, p)
}

func (b *Base) Cancel() {
	b.mu.Lock()
	b.cancels++
	b.mu.Unlock()
}

// Loads returns the number of Load calls.
func (b *Base) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

// Unloads returns the number of Unload calls.
func (b *Base) Unloads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unloads
}

// Cancels returns the number of Cancel calls.
func (b *Base) Cancels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancels
}

// LastOverrides returns the overrides passed to the last successful Load.
func (b *Base) LastOverrides() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overrides
}

// Spy is a blocking runner. By default it echoes the text input upper-cased.
type Spy struct {
	Base
	RunFunc func(ctx context.Context, req types.InferenceRequest) (types.InferenceResult, error)
	// Gate, when set, blocks Run until it is closed or ctx is done.
	Gate chan struct{}

	rmu      sync.Mutex
	requests []types.InferenceRequest
}

// NewSpy returns a blocking spy for caps.
func NewSpy(caps ...types.Capability) *Spy { return &Spy{Base: Base{Caps: caps}} }

func (s *Spy) Run(ctx context.Context, req types.InferenceRequest) (types.InferenceResult, error) {
	s.rmu.Lock()
	s.requests = append(s.requests, req)
	s.rmu.Unlock()
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return types.InferenceResult{}, ctx.Err()
		}
	}
	if s.RunFunc != nil {
		return s.RunFunc(ctx, req)
	}
	text, _ := req.Text(types.SlotText)
	return types.TextResult(strings.ToUpper(text)), nil
}

// Runs returns the number of Run calls.
func (s *Spy) Runs() int {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return len(s.requests)
}

// Requests returns the requests Run received.
func (s *Spy) Requests() []types.InferenceRequest {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return append([]types.InferenceRequest(nil), s.requests...)
}

// StreamSpy is a streaming-only runner emitting Chunks as text results.
type StreamSpy struct {
	Base
	Chunks []string
	// FailAfter, when > 0, returns Err after emitting that many chunks.
	FailAfter int
	Err       error
	// Delay is slept before each chunk.
	Delay time.Duration

	rmu     sync.Mutex
	streams int
}

// NewStreamSpy returns a streaming spy for caps emitting chunks.
func NewStreamSpy(chunks []string, caps ...types.Capability) *StreamSpy {
	return &StreamSpy{Base: Base{Caps: caps}, Chunks: chunks}
}

func (s *StreamSpy) RunStream(ctx context.Context, req types.InferenceRequest, emit runner.Emit) error {
	s.rmu.Lock()
	s.streams++
	s.rmu.Unlock()
	for i, c := range s.Chunks {
		if s.FailAfter > 0 && i == s.FailAfter {
			return s.Err
		}
		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := emit(types.TextResult(c)); err != nil {
			return err
		}
	}
	return nil
}

// Streams returns the number of RunStream calls.
func (s *StreamSpy) Streams() int {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return s.streams
}

// Lifecycle only implements runner.Runner; registration must reject it.
type Lifecycle struct{ Base }

// Factory wraps an existing instance.
func Factory(r runner.Runner) runner.Factory {
	return func(runner.Deps) (runner.Runner, error) { return r, nil }
}
