//go:build onnx

package onnxguard

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const nativeBuilt = true

var envMu sync.Mutex

type session struct {
	sess   *ort.AdvancedSession
	ids    *ort.Tensor[int64]
	mask   *ort.Tensor[int64]
	output *ort.Tensor[float32]
}

func openSession(modelPath, libPath string, seqLen, labels int) (classifier, error) {
	envMu.Lock()
	if !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envMu.Unlock()
			return nil, fmt.Errorf("init onnxruntime: %w", err)
		}
	}
	envMu.Unlock()

	shape := ort.NewShape(1, int64(seqLen))
	ids, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	mask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		ids.Destroy()
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(labels)))
	if err != nil {
		ids.Destroy()
		mask.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}
	sess, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{ids, mask},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		ids.Destroy()
		mask.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &session{sess: sess, ids: ids, mask: mask, output: output}, nil
}

func (s *session) logits(ids, mask []int64) ([]float32, error) {
	copy(s.ids.GetData(), ids)
	copy(s.mask.GetData(), mask)
	if err := s.sess.Run(); err != nil {
		return nil, err
	}
	out := make([]float32, len(s.output.GetData()))
	copy(out, s.output.GetData())
	return out, nil
}

func (s *session) close() error {
	err := s.sess.Destroy()
	s.ids.Destroy()
	s.mask.Destroy()
	s.output.Destroy()
	return err
}
