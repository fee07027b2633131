package imaging

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestNativeDecodesGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 3))
	src.SetGray(1, 2, color.Gray{Y: 200})
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, src)

	got, err := Native{}.DecodeGray(context.Background(), path)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Bounds() != src.Bounds() {
		t.Fatalf("expected bounds %v, got %v", src.Bounds(), got.Bounds())
	}
	if got.GrayAt(1, 2).Y != 200 || got.GrayAt(0, 0).Y != 0 {
		t.Fatalf("pixel values not preserved")
	}
}

func TestToGrayUsesLuma(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	src.Set(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	g := ToGray(src)
	if y := g.GrayAt(0, 0).Y; y < 75 || y > 77 {
		t.Fatalf("expected red luma near 76, got %d", y)
	}
	if g.GrayAt(1, 0).Y != 255 {
		t.Fatalf("expected white to stay white")
	}
}

func TestNativeRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(path, []byte("definitely not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (Native{}).DecodeGray(context.Background(), path); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := (Native{}).DecodeGray(context.Background(), filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestNewBackends(t *testing.T) {
	d, err := New("")
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := d.(Native); !ok {
		t.Fatalf("expected native default, got %T", d)
	}
	if _, err := New("paint"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestOpenCVConvertsColorToGray(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
		img.Set(x, 1, color.RGBA{G: 255, A: 255})
	}
	path := filepath.Join(t.TempDir(), "rg.png")
	writePNG(t, path, img)

	gray, err := OpenCV{}.DecodeGray(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if gray.Bounds().Dx() != 4 || gray.Bounds().Dy() != 2 {
		t.Fatalf("unexpected bounds %v", gray.Bounds())
	}
	near := func(got uint8, want int) bool {
		d := int(got) - want
		return d >= -1 && d <= 1
	}
	if red := gray.GrayAt(0, 0).Y; !near(red, 76) {
		t.Fatalf("red luma = %d, want ~76", red)
	}
	if green := gray.GrayAt(0, 1).Y; !near(green, 150) {
		t.Fatalf("green luma = %d, want ~150", green)
	}
}
