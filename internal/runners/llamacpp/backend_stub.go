//go:build !llama

package llamacpp

const nativeBuilt = false

func openModel(string, Config) (model, error) { return nil, ErrNotBuilt }
