package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2_9.jpg", "2_10.jpg", true},
		{"2_10.jpg", "2_9.jpg", false},
		{"1_0.jpg", "10_0.jpg", true},
		{"a.jpg", "b.jpg", true},
		{"img2", "img02", false},
		{"x", "x1", true},
	}

	for _, tt := range tests {
		if got := NaturalLess(tt.a, tt.b); got != tt.want {
			t.Errorf("NaturalLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSortNatural(t *testing.T) {
	files := []string{"3_10.jpg", "3_2.jpg", "3_1.jpg", "12_0.jpg"}
	SortNatural(files)

	want := []string{"3_1.jpg", "3_2.jpg", "3_10.jpg", "12_0.jpg"}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("got %v, want %v", files, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Home/Kitchen":  "Home_Kitchen",
		" ..hidden.. ":  "hidden",
		"a:b*c?":        "a_b_c_",
		"":              "_",
		"plain-name_01": "plain-name_01",
	}

	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListDirImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0_10.jpg", "0_2.png", "0_2.png.json", ".tmp-x.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ListDirImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 images, got %v", files)
	}
	if filepath.Base(files[0]) != "0_2.png" || filepath.Base(files[1]) != "0_10.jpg" {
		t.Errorf("unexpected order %v", files)
	}
}

func TestEnsureWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureWritable(dir); err != nil {
		t.Fatalf("EnsureWritable: %v", err)
	}
	if !DirExists(dir) {
		t.Fatal("directory was not created")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}
}

func TestListImageFilesSkipsHidden(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"p1/text/0_10.jpg",
		"p1/text/0_2.jpg",
		"p1/text/.tmp-1.jpg",
		".cache/x.jpg",
		"p1/segment/0_0.png.json",
	} {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListImageFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(root, "p1/text/0_2.jpg"),
		filepath.Join(root, "p1/text/0_10.jpg"),
	}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}

	dirs, err := FindDirs(root, "text")
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 || dirs[0] != filepath.Join(root, "p1", "text") {
		t.Errorf("FindDirs = %v", dirs)
	}
}
