package fsutil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListImages(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.png", "a.TIF", "notes.txt", "sub/c.png", ".cache/d.png"} {
		touch(t, filepath.Join(root, name))
	}
	accept := func(p string) bool { return HasExtension(p, []string{".png", ".tif"}) }

	flat, err := ListImages(root, false, accept)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	want := []string{filepath.Join(root, "a.TIF"), filepath.Join(root, "b.png")}
	if !reflect.DeepEqual(flat, want) {
		t.Fatalf("unexpected flat listing %v", flat)
	}

	deep, err := ListImages(root, true, accept)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	want = append(want, filepath.Join(root, "sub", "c.png"))
	if !reflect.DeepEqual(deep, want) {
		t.Fatalf("unexpected recursive listing %v", deep)
	}
}

func TestFirstExisting(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "lost")
	touch(t, p)
	if got := FirstExisting("", filepath.Join(dir, "missing"), p); got != p {
		t.Fatalf("expected %s, got %q", p, got)
	}
	if got := FirstExisting(filepath.Join(dir, "missing")); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
