// Package llamaserver runs LLM requests against a llama.cpp server, either
// one spawned per loaded model (spawn mode) or an already running one
// (attach mode, when BaseURL is set).
package llamaserver

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"orchestd/internal/common/fsutil"
)

// Name is the registered runner name.
const Name = "llama-server"

// Config configures the runner.
type Config struct {
	// BaseURL attaches to a running server instead of spawning one.
	BaseURL string
	APIKey  string

	// Bin is the llama-server binary; discovered when empty.
	Bin       string
	Host      string
	PortStart int
	PortEnd   int
	CtxSize   int
	Threads   int
	NGL       int
	ExtraArgs []string

	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	ReadyTimeout   time.Duration
	// DefaultModel is advertised in the runner descriptor.
	DefaultModel string
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if strings.TrimSpace(c.Host) == "" {
		c.Host = "127.0.0.1"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	return c
}

func (c Config) attach() bool { return c.BaseURL != "" }

// resolveBin returns the configured binary or the first one found in the
// usual install locations and PATH.
func (c Config) resolveBin() string {
	if bin := strings.TrimSpace(c.Bin); bin != "" {
		if !strings.ContainsRune(bin, os.PathSeparator) {
			if p, err := exec.LookPath(bin); err == nil {
				return p
			}
		}
		if p, err := fsutil.ExpandHome(bin); err == nil {
			return p
		}
		return bin
	}
	home, _ := os.UserHomeDir()
	if p, ok := fsutil.FirstExisting(
		filepath.Join(home, "apps", "llama.cpp", "build", "bin", "llama-server"),
		"/usr/local/bin/llama-server",
		"/opt/homebrew/bin/llama-server",
	); ok {
		return p
	}
	if p, err := exec.LookPath("llama-server"); err == nil {
		return p
	}
	return ""
}
