package cropper

import (
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/detailseg/pkg/types"
)

// createTestImage creates an image whose red channel encodes the row index
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(y % 256), uint8(x % 256), 128, 255})
		}
	}

	return img
}

func TestNew(t *testing.T) {
	cropper := New()
	if cropper == nil {
		t.Fatal("New() returned nil")
	}

	if cropper.config.TextBannerRatio != 3.0 {
		t.Errorf("Expected default text banner ratio 3.0, got %f", cropper.config.TextBannerRatio)
	}
}

func TestNewWithConfig(t *testing.T) {
	cropper := NewWithConfig(CropConfig{TextBannerRatio: 8.0})

	if cropper.config.TextBannerRatio != 8.0 {
		t.Errorf("Expected text banner ratio 8.0, got %f", cropper.config.TextBannerRatio)
	}
}

func TestCrop(t *testing.T) {
	cropper := New()
	img := createTestImage(100, 200)

	result, ok := cropper.Crop(img, types.Region{Start: 20, End: 59})
	if !ok {
		t.Fatal("Expected crop to succeed")
	}

	bounds := result.Bounds()
	if bounds.Dx() != 100 || bounds.Dy() != 40 {
		t.Errorf("Expected 100x40 crop, got %dx%d", bounds.Dx(), bounds.Dy())
	}

	for y := 0; y < bounds.Dy(); y++ {
		r, _, _, _ := result.At(0, y).RGBA()
		if uint8(r>>8) != uint8(20+y) {
			t.Fatalf("row %d: expected source row %d, got %d", y, 20+y, r>>8)
		}
	}
}

func TestCropOffsetBounds(t *testing.T) {
	cropper := New()
	base := createTestImage(50, 100).(*image.RGBA)
	sub := base.SubImage(image.Rect(0, 10, 50, 100))

	result, ok := cropper.Crop(sub, types.Region{Start: 0, End: 9})
	if !ok {
		t.Fatal("Expected crop to succeed")
	}

	r, _, _, _ := result.At(0, 0).RGBA()
	if uint8(r>>8) != 10 {
		t.Errorf("Expected first row to come from source row 10, got %d", r>>8)
	}
}

func TestCropRejectsDegenerate(t *testing.T) {
	cropper := New()
	img := createTestImage(100, 50)

	tests := []struct {
		name   string
		region types.Region
	}{
		{"zero height", types.Region{Start: 10, End: 10}},
		{"inverted", types.Region{Start: 20, End: 10}},
		{"negative start", types.Region{Start: -5, End: 10}},
		{"past bottom", types.Region{Start: 40, End: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := cropper.Crop(img, tt.region); ok {
				t.Errorf("Expected region %+v to be skipped", tt.region)
			}
		})
	}
}

func TestIsTextBanner(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		ratio  float64
		want   bool
	}{
		{"portrait photo", 300, 500, 3.0, false},
		{"square photo", 400, 400, 3.0, false},
		{"wide banner", 800, 100, 3.0, true},
		{"exactly at ratio", 300, 100, 3.0, false},
		{"banner under strict ratio", 800, 200, 8.0, false},
		{"banner over strict ratio", 900, 100, 8.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cropper := NewWithConfig(CropConfig{TextBannerRatio: tt.ratio})
			img := image.NewRGBA(image.Rect(0, 0, tt.width, tt.height))

			got := cropper.IsTextBanner(img)
			if got != tt.want {
				t.Errorf("IsTextBanner(%dx%d, %.1f) = %v, want %v", tt.width, tt.height, tt.ratio, got, tt.want)
			}
			if again := cropper.IsTextBanner(img); again != got {
				t.Error("IsTextBanner is not stable across calls")
			}
		})
	}
}

func TestCropSegmentsDenseIndices(t *testing.T) {
	cropper := New()
	img := createTestImage(600, 400)

	regions := []types.Region{
		{Start: 0, End: 199},
		{Start: 210, End: 210}, // degenerate, skipped
		{Start: 220, End: 259},
		{Start: 300, End: 399},
	}

	segments := cropper.CropSegments(img, regions, 7)
	if len(segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(segments))
	}

	for i, seg := range segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
		if seg.SourceIndex != 7 {
			t.Errorf("segment %d has source index %d", i, seg.SourceIndex)
		}
	}

	if segments[0].IsText {
		t.Error("600x200 segment should be a photo at ratio 3.0")
	}
	if !segments[1].IsText {
		t.Error("600x40 segment should be a text banner")
	}
	if segments[2].Region.Start != 300 || !segments[2].IsText {
		t.Errorf("Expected last segment to be a banner starting at 300, got %+v", segments[2].Region)
	}
}
