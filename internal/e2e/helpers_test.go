package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"orchestd/internal/config"
	"orchestd/internal/engine"
	"orchestd/internal/httpapi"
	"orchestd/internal/manager"
	"orchestd/internal/resource"
	"orchestd/internal/runner"
	"orchestd/internal/runner/runnertest"
	"orchestd/pkg/types"
)

// createTempModelsDir creates a temporary directory populated with small
// .gguf files and returns the directory path.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// baseConfig needs no native backend: llama-server points at a missing
// binary so only keyword-guard and the test runners register.
func baseConfig(t *testing.T, modelsDir string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		ModelsDir: modelsDir,
		CatalogDB: filepath.Join(dir, "catalog.db"),
		MaxWait:   config.Duration{Duration: 2 * time.Second},
		Llama:     config.Llama{Bin: filepath.Join(dir, "missing-llama-server")},
	}
	cfg.Settings.SelectedRunners = map[types.Capability]string{types.CapabilityLLM: "echo"}
	cfg.Defaults()
	return cfg
}

type testServer struct {
	*httptest.Server
	eng    *engine.Engine
	echo   *runnertest.Spy
	stream *runnertest.StreamSpy
	events *manager.MemoryPublisher
}

func newServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	echo := runnertest.NewSpy(types.CapabilityLLM)
	stream := runnertest.NewStreamSpy([]string{"once ", "upon ", "a time"}, types.CapabilityLLM)
	events := manager.NewMemoryPublisher()
	eng, err := engine.New(cfg, zerolog.Nop(),
		engine.WithMonitor(resource.NewStatic(resource.MB(4096), resource.DeviceInfo{})),
		engine.WithPublisher(events),
		engine.WithRunners(
			engine.Registration{
				Descriptor: runner.Descriptor{Name: "echo", Capabilities: []types.Capability{types.CapabilityLLM}, Priority: runner.PriorityNormal},
				Factory:    runnertest.Factory(echo),
			},
			engine.Registration{
				Descriptor: runner.Descriptor{Name: "streamer", Capabilities: []types.Capability{types.CapabilityLLM}, Priority: runner.PriorityLow},
				Factory:    runnertest.Factory(stream),
			},
		),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(eng))
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Close(context.Background())
	})
	return &testServer{Server: srv, eng: eng, echo: echo, stream: stream, events: events}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	return httpDo(t, http.MethodGet, url, nil)
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	return httpDo(t, http.MethodPost, url, []byte(payload))
}

func httpDo(t *testing.T, method, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("json: %v body=%s", err, string(b))
	}
	return v
}

func ndjson(t *testing.T, b []byte) []types.InferResponse {
	t.Helper()
	var out []types.InferResponse
	for _, ln := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, decode[types.InferResponse](t, []byte(ln)))
		}
	}
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
