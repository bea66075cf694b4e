package llamacpp

import (
	"context"
	"errors"
	"testing"

	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

type fakeModel struct {
	tokens []string
	got    predictParams
	freed  bool
}

func (f *fakeModel) predict(ctx context.Context, _ string, p predictParams, _ int, onToken func(string) error) error {
	f.got = p
	for _, t := range f.tokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onToken(t); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeModel) free() { f.freed = true }

func TestRunStreamEmitsTokensWithMergedParams(t *testing.T) {
	fm := &fakeModel{tokens: []string{"a", "b", "c"}}
	r := New(Config{}, runner.Deps{})
	r.modelID, r.m, r.overrides = "m", fm, map[string]any{"temperature": 0.1, "max_tokens": 10}

	req := types.NewRequest("s", map[string]types.Value{types.SlotText: types.Text{Text: "hi"}}, map[string]any{"max_tokens": 3, "stop": "x, y"})
	var got []string
	err := r.RunStream(context.Background(), req, func(c types.InferenceResult) error {
		s, _ := c.Text(types.SlotText)
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("tokens=%v", got)
	}
	if fm.got.MaxTokens != 3 || fm.got.Temperature != 0.1 || len(fm.got.Stop) != 2 {
		t.Fatalf("params=%+v", fm.got)
	}

	if err := r.Unload(context.Background()); err != nil || !fm.freed || r.IsLoaded() {
		t.Fatalf("unload: err=%v freed=%v", err, fm.freed)
	}
}

func TestRunStreamRequiresModel(t *testing.T) {
	r := New(Config{}, runner.Deps{})
	req := types.NewRequest("s", map[string]types.Value{types.SlotText: types.Text{Text: "hi"}}, nil)
	if err := r.RunStream(context.Background(), req, func(types.InferenceResult) error { return nil }); err == nil {
		t.Fatalf("expected error without a model")
	}
}

type locator struct{}

func (locator) LocalPath(id string) (string, error) { return "/models/" + id + ".gguf", nil }

func TestLoadWithoutNativeBackend(t *testing.T) {
	if nativeBuilt {
		t.Skip("native backend compiled in")
	}
	r := New(Config{}, runner.Deps{Models: locator{}})
	if r.IsSupported() {
		t.Fatalf("stub build reports supported")
	}
	if err := r.Load(context.Background(), "m", settings.Default(), nil); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("want ErrNotBuilt, got %v", err)
	}
}

func TestParamsKeepExplicitZeros(t *testing.T) {
	p := paramsFrom(map[string]any{"temperature": 0.0, "seed": 0})
	if p.Temperature != 0 || p.Seed != 0 {
		t.Fatalf("explicit zeros lost: %+v", p)
	}
	if p.TopP != unset || p.TopK != unset || p.RepeatPenalty != unset {
		t.Fatalf("unset knobs got values: %+v", p)
	}
	if p.MaxTokens != 256 {
		t.Fatalf("max_tokens=%d", p.MaxTokens)
	}
}
