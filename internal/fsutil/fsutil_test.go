package fsutil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestVisibleEntriesSortedWithoutHidden(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.jpg", ".hidden.jpg", "a.JPG", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := VisibleEntries(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.JPG", "b.txt", "c.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFilterSearchesAnywhere(t *testing.T) {
	re, err := CompilePattern(".*(jpg|jpeg|JPEG|JPG)")
	if err != nil {
		t.Fatal(err)
	}
	got := Filter([]string{"a.JPG", "b.txt", "c.jpg.bak", "d.png"}, re)
	want := []string{"a.JPG", "c.jpg.bak"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIsImageFile(t *testing.T) {
	if !IsImageFile("/x/DJI_0001.JPG") || IsImageFile("/x/notes.txt") || IsImageFile("noext") {
		t.Fatalf("unexpected image classification")
	}
}
