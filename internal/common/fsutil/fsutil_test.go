package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("HOME override is not honored on windows")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if p, err := ExpandHome("~"); err != nil || p != home {
		t.Fatalf("expected %q, got %q (%v)", home, p, err)
	}
	if p, err := ExpandHome("~/registry"); err != nil || p != filepath.Join(home, "registry") {
		t.Fatalf("unexpected expanded path: %q (%v)", p, err)
	}
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()
	got, err := ResolvePath(base, "3/model.json")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got != filepath.Join(base, "3", "model.json") {
		t.Fatalf("got %q", got)
	}
	abs := filepath.Join(base, "x.json")
	if got, _ := ResolvePath("/elsewhere", abs); got != abs {
		t.Fatalf("absolute path rewritten: %q", got)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "meta.yaml")
	if err := WriteFileAtomic(p, []byte("stage: None\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(p, []byte("stage: Production\n"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil || string(b) != "stage: Production\n" {
		t.Fatalf("content=%q err=%v", b, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
	if !PathExists(p) || PathExists(filepath.Join(dir, "missing")) {
		t.Fatalf("PathExists mismatch")
	}
}
