//go:build !onnx

package onnxguard

const nativeBuilt = false

func openSession(modelPath, libPath string, seqLen, labels int) (classifier, error) {
	return nil, ErrNotBuilt
}
