package engine

import (
	"orchestd/internal/config"
	"orchestd/internal/runners/keywordguard"
	"orchestd/internal/runners/llamacpp"
	"orchestd/internal/runners/llamaserver"
	"orchestd/internal/runners/onnxguard"
)

// builtins returns the runners shipped with orchestd in registration order.
// Native backends are optional: a build without the llama or onnx tag, or a
// host without a llama-server binary, simply does not offer them.
func builtins(cfg config.Config) []Registration {
	ls := llamaserver.Config{
		BaseURL:      cfg.Llama.BaseURL,
		APIKey:       cfg.Llama.APIKey,
		Bin:          cfg.Llama.Bin,
		Host:         cfg.Llama.Host,
		PortStart:    cfg.Llama.PortStart,
		PortEnd:      cfg.Llama.PortEnd,
		CtxSize:      cfg.Llama.CtxSize,
		Threads:      cfg.Llama.Threads,
		NGL:          cfg.Llama.NGL,
		ExtraArgs:    cfg.Llama.ExtraArgs,
		ReadyTimeout: cfg.Llama.ReadyTimeout.Duration,
		DefaultModel: cfg.Llama.DefaultModel,
	}
	lc := llamacpp.Config{
		CtxSize:      cfg.Llama.CtxSize,
		Threads:      cfg.Llama.Threads,
		DefaultModel: cfg.Llama.DefaultModel,
	}
	og := onnxguard.Config{
		BundleDir:     cfg.Guard.OnnxBundleDir,
		SharedLibrary: cfg.Guard.OnnxLibrary,
		DefaultModel:  cfg.Guard.OnnxModel,
	}
	regs := []Registration{
		{Descriptor: llamaserver.Descriptor(ls), Factory: llamaserver.Factory(ls), Optional: true},
		{Descriptor: llamacpp.Descriptor(lc), Factory: llamacpp.Factory(lc), Optional: true},
	}
	// The classifier outranks the keyword guard, so it is only offered
	// when a bundle is configured.
	if og.BundleDir != "" || og.DefaultModel != "" {
		regs = append(regs, Registration{Descriptor: onnxguard.Descriptor(og), Factory: onnxguard.Factory(og), Optional: true})
	}
	regs = append(regs, Registration{
		Descriptor: keywordguard.Descriptor(),
		Factory:    keywordguard.Factory(keywordguard.Config{RulesFile: cfg.Guard.RulesFile}),
	})
	return regs
}
