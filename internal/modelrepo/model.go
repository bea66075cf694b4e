// Package modelrepo resolves model ids to descriptors and local files. It
// knows models from a YAML catalog and from *.gguf files found in the
// models directory, downloads missing files and verifies them by sha256.
package modelrepo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"orchestd/internal/common/fsutil"
	"orchestd/pkg/types"
)

// File is one artifact of a model.
type File struct {
	// Path is relative to the models directory unless absolute.
	Path   string
	URL    string
	SHA256 string
	Size   int64
}

// ModelDescriptor is what the lifecycle manager needs to admit a model.
type ModelDescriptor struct {
	ID       string
	RAMBytes uint64
	Files    []File
	Format   string
}

// Progress is reported while files are downloaded.
type Progress struct {
	ModelID    string
	File       string
	Downloaded int64
	Total      int64
}

type catalogFile struct {
	Models []catalogModel `yaml:"models"`
}

type catalogModel struct {
	ID     string `yaml:"id"`
	RAMMB  int    `yaml:"ram_mb"`
	Format string `yaml:"format"`
	Files  []struct {
		Path   string `yaml:"path"`
		URL    string `yaml:"url"`
		SHA256 string `yaml:"sha256"`
		Size   int64  `yaml:"size"`
	} `yaml:"files"`
}

// LoadCatalog reads model descriptors from a YAML file.
func LoadCatalog(path string) ([]ModelDescriptor, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", p, err)
	}
	out := make([]ModelDescriptor, 0, len(cf.Models))
	seen := map[string]bool{}
	for _, m := range cf.Models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog %s: model with empty id", p)
		}
		if seen[id] {
			return nil, fmt.Errorf("catalog %s: duplicate model %q", p, id)
		}
		seen[id] = true
		if len(m.Files) == 0 {
			return nil, fmt.Errorf("catalog %s: model %q has no files", p, id)
		}
		d := ModelDescriptor{ID: id, RAMBytes: uint64(max(m.RAMMB, 0)) << 20, Format: m.Format}
		for _, f := range m.Files {
			if strings.TrimSpace(f.Path) == "" {
				return nil, fmt.Errorf("catalog %s: model %q: file with empty path", p, id)
			}
			d.Files = append(d.Files, File{Path: f.Path, URL: f.URL, SHA256: strings.ToLower(f.SHA256), Size: f.Size})
		}
		out = append(out, d)
	}
	return out, nil
}

// ScanDir builds descriptors for *.gguf files in dir. The id is the file
// name and the RAM requirement is estimated from the file size.
func ScanDir(dir string) ([]ModelDescriptor, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []ModelDescriptor
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".gguf") {
			continue
		}
		p := filepath.Join(abs, e.Name())
		size, err := fsutil.RegularFileSize(p)
		if err != nil {
			continue
		}
		out = append(out, ModelDescriptor{
			ID:       e.Name(),
			RAMBytes: estimateRAM(size),
			Format:   "gguf",
			Files:    []File{{Path: p, Size: size}},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// estimateRAM never returns less than 1 MB so unknown sizes cannot bypass
// admission.
func estimateRAM(size int64) uint64 {
	const mb = 1 << 20
	if size < mb {
		return mb
	}
	return uint64(size)
}

// Info converts d to its wire form.
func (d ModelDescriptor) Info(available bool) types.ModelInfo {
	return types.ModelInfo{
		ID:        d.ID,
		RAMMB:     int(d.RAMBytes >> 20),
		Format:    d.Format,
		Files:     len(d.Files),
		Available: available,
	}
}
