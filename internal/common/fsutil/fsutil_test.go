package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome("~"); err != nil || got != home {
		t.Fatalf("got %q err=%v want %q", got, err, home)
	}
	if got, err := ExpandHome("~/models"); err != nil || got != filepath.Join(home, "models") {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestFirstExisting(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "renderD128")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := FirstExisting(filepath.Join(dir, "nvidia0")); ok {
		t.Fatalf("missing path reported as existing")
	}
	got, ok := FirstExisting("", filepath.Join(dir, "nvidia0"), f)
	if !ok || got != f {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestRegularFileSize(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "m.gguf")
	if err := os.WriteFile(f, make([]byte, 42), 0o644); err != nil {
		t.Fatal(err)
	}
	if n, err := RegularFileSize(f); err != nil || n != 42 {
		t.Fatalf("size=%d err=%v", n, err)
	}
	if _, err := RegularFileSize(dir); err == nil {
		t.Fatalf("expected error for directory")
	}
}

func TestReplaceFile(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "x.part")
	if err := os.WriteFile(tmp, []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "nested", "x")
	if err := ReplaceFile(tmp, dst); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if b, _ := os.ReadFile(dst); string(b) != "ok" {
		t.Fatalf("dst content %q", b)
	}
	if PathExists(tmp) {
		t.Fatalf("tmp still present")
	}
}
