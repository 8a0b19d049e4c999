package cropper

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/detailseg/pkg/types"
)

// Cropper cuts content regions out of a source image and tags each piece as
// text banner or photo.
type Cropper struct {
	config CropConfig
}

// CropConfig holds configuration for cropping and segment classification
type CropConfig struct {
	// TextBannerRatio is the width/height ratio above which a segment is a
	// text banner. Observed values range from 3.0 to 8.0.
	TextBannerRatio float64
}

// DefaultConfig returns the default crop configuration
func DefaultConfig() CropConfig {
	return CropConfig{TextBannerRatio: 3.0}
}

// New creates a new Cropper with default configuration
func New() *Cropper {
	return &Cropper{config: DefaultConfig()}
}

// NewWithConfig creates a new Cropper with custom configuration
func NewWithConfig(config CropConfig) *Cropper {
	return &Cropper{config: config}
}

// Crop copies rows region.Start..region.End (inclusive) of img over its full
// width. Degenerate regions (End <= Start) and regions outside the image are
// skipped and reported with ok == false.
func (c *Cropper) Crop(img image.Image, region types.Region) (image.Image, bool) {
	bounds := img.Bounds()
	if region.End <= region.Start {
		return nil, false
	}
	if region.Start < 0 || region.End >= bounds.Dy() {
		return nil, false
	}

	rect := image.Rect(bounds.Min.X, bounds.Min.Y+region.Start, bounds.Max.X, bounds.Min.Y+region.End+1)
	cropped := imaging.Crop(img, rect)
	if cropped.Bounds().Empty() {
		return nil, false
	}
	return cropped, true
}

// IsTextBanner reports whether img is wide and short enough to be a text
// banner. It depends only on the image dimensions.
func (c *Cropper) IsTextBanner(img image.Image) bool {
	return IsWide(img, c.config.TextBannerRatio)
}

// IsWide reports whether width/height exceeds ratio.
func IsWide(img image.Image, ratio float64) bool {
	b := img.Bounds()
	if b.Dy() <= 0 {
		return false
	}
	return float64(b.Dx())/float64(b.Dy()) > ratio
}

// CropSegments crops every region of img in order and classifies the pieces.
// Skipped regions do not consume an index, so the segment indices of one
// source are always 0..n-1 from top to bottom.
func (c *Cropper) CropSegments(img image.Image, regions []types.Region, sourceIndex int) []types.Segment {
	segments := make([]types.Segment, 0, len(regions))
	for _, region := range regions {
		cropped, ok := c.Crop(img, region)
		if !ok {
			continue
		}
		segments = append(segments, types.Segment{
			Image:       cropped,
			Region:      region,
			SourceIndex: sourceIndex,
			Index:       len(segments),
			IsText:      c.IsTextBanner(cropped),
		})
	}
	return segments
}
