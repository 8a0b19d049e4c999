package analyzer

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/detailseg/pkg/types"
)

// RowAnalyzer decides, row by row, whether an image row belongs to a blank
// separator band between pieces of content.
type RowAnalyzer struct {
	config Config
}

// Config holds the thresholds of the two row tests
type Config struct {
	// MeanThreshold is the minimum mean RGB value of a bright row.
	MeanThreshold float64
	// DarkThreshold marks a pixel as dark when its channel mean is below it.
	DarkThreshold float64
	// DarkThresholdCount is the number of dark pixels a bright row may still contain.
	DarkThresholdCount int
	// LogThreshold bounds log1p of the mean of the largest horizontal differences.
	LogThreshold float64
	// EdgeTrim columns are ignored on both sides for the difference test.
	EdgeTrim int
	// MinDiffSamples and MaxDiffSamples are the number of smallest and
	// largest sorted differences averaged per row.
	MinDiffSamples int
	MaxDiffSamples int
}

// DefaultConfig returns the thresholds used when nothing else is configured
func DefaultConfig() Config {
	return Config{
		MeanThreshold:      230,
		DarkThreshold:      200,
		DarkThresholdCount: 5,
		LogThreshold:       1.2,
		EdgeTrim:           40,
		MinDiffSamples:     10,
		MaxDiffSamples:     4,
	}
}

// New creates a new RowAnalyzer with default configuration
func New() *RowAnalyzer {
	return &RowAnalyzer{config: DefaultConfig()}
}

// NewWithConfig creates a new RowAnalyzer with custom configuration
func NewWithConfig(config Config) *RowAnalyzer {
	return &RowAnalyzer{config: config}
}

// Config returns the analyzer's thresholds
func (a *RowAnalyzer) Config() Config {
	return a.config
}

// RowStat carries the measurements taken for one row
type RowStat struct {
	Mean        float64
	DarkCount   int
	MinDiffMean float64
	MaxDiffMean float64
	LogMaxDiff  float64
	// Bright is the outcome of the mean/count test.
	Bright bool
	// Flat is the outcome of the horizontal-difference test.
	Flat bool
}

// Separator reports whether both tests agree the row is blank.
func (s RowStat) Separator() bool {
	return s.Bright && s.Flat
}

// ClassifyRows returns the separator signal of every row of img.
func (a *RowAnalyzer) ClassifyRows(img image.Image) types.RowSignal {
	stats := a.RowStats(img)
	signal := make(types.RowSignal, len(stats))
	for y, s := range stats {
		signal[y] = s.Separator()
	}
	return signal
}

// RowStats measures every row of img. Transparent pixels are composited on
// white before measuring.
func (a *RowAnalyzer) RowStats(img image.Image) []RowStat {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return nil
	}

	src := imaging.Clone(img)
	lo, hi := a.diffWindow(width)

	stats := make([]RowStat, height)
	gray := make([]float64, width)
	diffs := make([]float64, 0, width)

	for y := 0; y < height; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+width*4]

		var sum float64
		dark := 0
		for x := 0; x < width; x++ {
			r, g, bl := flatten(row[x*4:x*4+4])
			sum += float64(r) + float64(g) + float64(bl)
			if float64(r+g+bl)/3.0 < a.config.DarkThreshold {
				dark++
			}
			gray[x] = float64(luma(r, g, bl))
		}

		s := RowStat{
			Mean:      sum / float64(3*width),
			DarkCount: dark,
		}

		diffs = diffs[:0]
		for x := lo + 1; x < hi; x++ {
			diffs = append(diffs, math.Abs(gray[x]-gray[x-1]))
		}
		s.MinDiffMean, s.MaxDiffMean = a.diffMeans(diffs)
		s.LogMaxDiff = math.Log1p(s.MaxDiffMean)

		s.Bright = s.Mean > a.config.MeanThreshold && s.DarkCount <= a.config.DarkThresholdCount
		s.Flat = s.LogMaxDiff < a.config.LogThreshold
		stats[y] = s
	}

	return stats
}

// diffWindow returns the column range used for the difference test. Rows
// too narrow to trim use every column.
func (a *RowAnalyzer) diffWindow(width int) (int, int) {
	trim := a.config.EdgeTrim
	if trim <= 0 || width <= 2*trim {
		return 0, width
	}
	return trim, width - trim
}

// diffMeans sorts diffs in place and averages its smallest and largest samples.
func (a *RowAnalyzer) diffMeans(diffs []float64) (float64, float64) {
	n := len(diffs)
	if n == 0 {
		return 0, 0
	}
	sort.Float64s(diffs)

	low := clampSamples(a.config.MinDiffSamples, n)
	high := clampSamples(a.config.MaxDiffSamples, n)

	return stat.Mean(diffs[:low], nil), stat.Mean(diffs[n-high:], nil)
}

func clampSamples(k, n int) int {
	if k <= 0 || k > n {
		return n
	}
	return k
}

// flatten composites an NRGBA pixel on a white background.
func flatten(p []uint8) (uint32, uint32, uint32) {
	r, g, b, alpha := uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(p[3])
	if alpha == 0xff {
		return r, g, b
	}
	bg := 0xff * (0xff - alpha)
	return (r*alpha + bg) / 0xff, (g*alpha + bg) / 0xff, (b*alpha + bg) / 0xff
}

// luma is the ITU-R 601-2 grayscale conversion, rounded.
func luma(r, g, b uint32) uint32 {
	return (r*19595 + g*38470 + b*7471 + 1<<15) >> 16
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// GetImageInfo returns basic information about an image
func GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ValidateImage rejects images without pixels
func ValidateImage(img image.Image) error {
	if img == nil {
		return types.ErrEmptyImage
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return fmt.Errorf("%w: %dx%d", types.ErrEmptyImage, bounds.Dx(), bounds.Dy())
	}
	return nil
}
