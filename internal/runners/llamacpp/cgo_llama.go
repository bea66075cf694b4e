//go:build llama

package llamacpp

// libllama.so and libggml*.so are expected next to the binary.

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../../bin -lllama
*/
import "C"
