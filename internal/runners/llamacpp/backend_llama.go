//go:build llama

package llamacpp

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

const nativeBuilt = true

type llamaModel struct {
	l *llama.LLama
}

func openModel(path string, cfg Config) (model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	l, err := llama.New(path, llama.SetContext(cfg.CtxSize))
	if err != nil {
		return nil, err
	}
	return &llamaModel{l: l}, nil
}

func (m *llamaModel) predict(ctx context.Context, prompt string, p predictParams, threads int, onToken func(string) error) error {
	var cbErr error
	m.l.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		if err := onToken(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	_, err := m.l.Predict(prompt, predictOptions(p, threads)...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cbErr != nil {
		return cbErr
	}
	return err
}

func (m *llamaModel) free() { m.l.Free() }

func predictOptions(p predictParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(orF(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(orI(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(orF(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(orF(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != unset {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}

func orI(v, def int) int {
	if v >= 0 {
		return v
	}
	return def
}

func orF(v float64, def float32) float32 {
	if v >= 0 {
		return float32(v)
	}
	return def
}
