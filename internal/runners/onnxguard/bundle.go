package onnxguard

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"orchestd/internal/common/fsutil"
)

// Bundle file names inside a classifier directory.
const (
	ModelFile      = "model.onnx"
	LabelsFile     = "label_map.json"
	ThresholdsFile = "thresholds.yaml"
	VocabFile      = "vocab.txt"
)

// LabelThresholds are the warn/block cut-offs for one label at medium
// strictness.
type LabelThresholds struct {
	Warn  *float64 `yaml:"warn" json:"warn"`
	Block *float64 `yaml:"block" json:"block"`
}

// bundle is the parsed, runtime-independent part of a classifier.
type bundle struct {
	dir        string
	labels     []string
	thresholds map[string]LabelThresholds
	tokenizer  *wordPiece
}

func loadBundle(dir string) (*bundle, error) {
	if _, err := os.Stat(filepath.Join(dir, ModelFile)); err != nil {
		return nil, fmt.Errorf("model file missing in %s: %w", dir, err)
	}
	labels, err := loadLabels(filepath.Join(dir, LabelsFile))
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	th, err := loadThresholds(filepath.Join(dir, ThresholdsFile))
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	vocab, ok := fsutil.FirstExisting(filepath.Join(dir, VocabFile), filepath.Join(dir, "tokenizer", VocabFile))
	if !ok {
		return nil, fmt.Errorf("vocab.txt not found in %s", dir)
	}
	tok, err := loadWordPiece(vocab)
	if err != nil {
		return nil, err
	}
	return &bundle{dir: dir, labels: labels, thresholds: th, tokenizer: tok}, nil
}

// loadLabels accepts a JSON array or an index-keyed object.
func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	out := make([]string, len(m))
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, err)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		out[idx] = v
	}
	return out, nil
}

func loadThresholds(path string) (map[string]LabelThresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Thresholds map[string]LabelThresholds `yaml:"thresholds"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if wrapper.Thresholds == nil {
		wrapper.Thresholds = map[string]LabelThresholds{}
	}
	return wrapper.Thresholds, nil
}

func sigmoid(logit float32) float64 { return 1 / (1 + math.Exp(-float64(logit))) }

// benign labels never count as risk.
func benign(label string) bool {
	switch strings.ToLower(label) {
	case "safe", "benign", "none", "neutral":
		return true
	}
	return false
}

// resolveSharedLibrary locates the onnxruntime shared library.
func resolveSharedLibrary(explicit, bundleDir string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	var candidates []string
	for _, dir := range []string{bundleDir, filepath.Join(bundleDir, "lib"), "/opt/homebrew/lib", "/usr/local/lib", "/usr/lib"} {
		for _, name := range []string{"libonnxruntime.so", "libonnxruntime.dylib", "onnxruntime.dll"} {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}
	p, _ := fsutil.FirstExisting(candidates...)
	return p
}
