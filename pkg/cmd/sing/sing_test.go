package sing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/igolaizola/sunobot/pkg/generator"
)

func TestSave(t *testing.T) {
	src := filepath.Join(t.TempDir(), "Gophers_clip-a.mp3")
	if err := os.WriteFile(src, []byte("mp3 data"), 0644); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	deliver := Save(dir)
	if err := deliver(context.Background(), &generator.Artifact{Path: src, Lyric: "Gophers\n\ndig"}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "Gophers_clip-a.mp3"))
	if err != nil || string(b) != "mp3 data" {
		t.Fatalf("audio = %q, %v", b, err)
	}
	b, err = os.ReadFile(filepath.Join(dir, "Gophers_clip-a.txt"))
	if err != nil || string(b) != "Gophers\n\ndig" {
		t.Fatalf("lyric = %q, %v", b, err)
	}

	if err := deliver(context.Background(), &generator.Artifact{Path: filepath.Join(dir, "missing.mp3")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
