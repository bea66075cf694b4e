package onnxguard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"orchestd/internal/guardian"
	"orchestd/internal/runner"
	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

func writeBundle(t *testing.T, labels string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		ModelFile:  "onnx",
		LabelsFile: labels,
		ThresholdsFile: "thresholds:\n" +
			"  toxicity: {warn: 0.4, block: 0.7}\n" +
			"  injection: {block: 0.6}\n",
		VocabFile: "[PAD]\n[UNK]\n[CLS]\n[SEP]\nhello\nworld\nplay\n##ing\n!\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadBundleLabelForms(t *testing.T) {
	for _, labels := range []string{
		`["safe","toxicity","injection"]`,
		`{"2":"injection","0":"safe","1":"toxicity"}`,
	} {
		b, err := loadBundle(writeBundle(t, labels))
		if err != nil {
			t.Fatalf("load %s: %v", labels, err)
		}
		if want := []string{"safe", "toxicity", "injection"}; !reflect.DeepEqual(b.labels, want) {
			t.Fatalf("labels=%v want %v", b.labels, want)
		}
		if th := b.thresholds["injection"]; th.Warn != nil || th.Block == nil || *th.Block != 0.6 {
			t.Fatalf("injection thresholds=%+v", th)
		}
	}
}

func TestLoadBundleRejectsBadIndex(t *testing.T) {
	if _, err := loadBundle(writeBundle(t, `{"5":"toxicity"}`)); err == nil {
		t.Fatalf("expected out of range label index error")
	}
}

func TestLoadBundleMissingModel(t *testing.T) {
	dir := writeBundle(t, `["safe"]`)
	_ = os.Remove(filepath.Join(dir, ModelFile))
	if _, err := loadBundle(dir); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func TestWordPieceEncode(t *testing.T) {
	b, err := loadBundle(writeBundle(t, `["safe"]`))
	if err != nil {
		t.Fatal(err)
	}
	ids, mask := b.tokenizer.encode("Hello playing, zzz!", 10)
	// [CLS] hello play ##ing [UNK](,) [UNK](zzz) ! [SEP] pad pad
	wantIDs := []int64{2, 4, 6, 7, 1, 1, 8, 3, 0, 0}
	wantMask := []int64{1, 1, 1, 1, 1, 1, 1, 1, 0, 0}
	if !reflect.DeepEqual(ids, wantIDs) || !reflect.DeepEqual(mask, wantMask) {
		t.Fatalf("ids=%v mask=%v", ids, mask)
	}

	ids, _ = b.tokenizer.encode("hello world hello world hello", 4)
	if want := []int64{2, 4, 5, 3}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("truncated ids=%v want %v", ids, want)
	}
}

func TestVerdictMapping(t *testing.T) {
	labels := []string{"safe", "toxicity", "injection"}
	b, err := loadBundle(writeBundle(t, `["safe","toxicity","injection"]`))
	if err != nil {
		t.Fatal(err)
	}
	// sigmoid: 0 -> 0.5, -0.2 -> ~0.45, 1 -> ~0.73, -3 -> ~0.05
	cases := []struct {
		raw  []float32
		s    settings.Strictness
		want guardian.Status
		cats []string
	}{
		{[]float32{5, -3, -3}, settings.StrictnessMedium, guardian.StatusSafe, nil},
		{[]float32{5, -0.2, -3}, settings.StrictnessMedium, guardian.StatusWarning, []string{"toxicity"}},
		{[]float32{5, -0.2, -3}, settings.StrictnessLow, guardian.StatusSafe, nil},
		{[]float32{5, 0, 0}, settings.StrictnessHigh, guardian.StatusBlocked, []string{"injection", "toxicity"}},
		{[]float32{5, 1, -3}, settings.StrictnessMedium, guardian.StatusBlocked, []string{"toxicity"}},
	}
	for i, c := range cases {
		got := verdict(labels, b.thresholds, c.raw, c.s)
		if got.Status != c.want || !reflect.DeepEqual(got.Categories, c.cats) {
			t.Fatalf("case %d: got %s %v want %s %v", i, got.Status, got.Categories, c.want, c.cats)
		}
	}
	if got := verdict(labels, b.thresholds, []float32{9, -3, -3}, settings.StrictnessMedium); got.RiskScore > 0.1 {
		t.Fatalf("benign label counted as risk: %v", got.RiskScore)
	}
}

type fakeSession struct {
	out    []float32
	closed bool
}

func (f *fakeSession) logits(ids, mask []int64) ([]float32, error) { return f.out, nil }
func (f *fakeSession) close() error { f.closed = true; return nil }

func TestAnalyzeUsesSession(t *testing.T) {
	b, err := loadBundle(writeBundle(t, `["safe","toxicity","injection"]`))
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeSession{out: []float32{-2, 2, -2}}
	r := New(Config{}, runner.Deps{})
	r.bundle, r.session = b, fs

	res, err := r.Run(context.Background(), types.NewRequest("", map[string]types.Value{types.SlotText: types.Text{Text: "hello"}}, nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Metadata["status"] != "blocked" || res.Metadata["categories"] != "toxicity" {
		t.Fatalf("metadata=%v", res.Metadata)
	}
	if err := r.Unload(context.Background()); err != nil || !fs.closed || r.IsLoaded() {
		t.Fatalf("unload err=%v closed=%v", err, fs.closed)
	}
	if _, err := r.Analyze(context.Background(), "x", settings.GuardianPipelineConfig{}); err == nil {
		t.Fatalf("expected not loaded error")
	}
}

func TestLoadWithoutBundle(t *testing.T) {
	r := New(Config{}, runner.Deps{})
	if err := r.Load(context.Background(), "", settings.Default(), nil); err == nil {
		t.Fatalf("expected missing bundle error")
	}
}

func TestStubLoad(t *testing.T) {
	if nativeBuilt {
		t.Skip("built with onnx")
	}
	r := New(Config{BundleDir: writeBundle(t, `["safe"]`)}, runner.Deps{})
	err := r.Load(context.Background(), "", settings.Default(), nil)
	if !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("err=%v want ErrNotBuilt", err)
	}
	if r.IsSupported() {
		t.Fatalf("stub reports supported")
	}
}
